package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/control"
	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/gstreamer"
	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/imagefile"
	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/metrics"
)

// Version information
const version = "v0.1.0"

var (
	Root = &cobra.Command{
		Use:           "snapshot",
		Short:         "Play a UDP/RTP H.264 stream and capture single frames on command",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	Version = &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s\n", version)
		},
	}

	ConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  printConfig,
	}
)

func init() {
	addConfigFlags(Root)
	Root.AddCommand(Version, ConfigCmd)
}

func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a YAML configuration file")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.String("uri", "", "UDP URI to receive RTP on (e.g. udp://localhost:30120)")
	flags.String("http-addr", "", "enable the HTTP control surface on this address")
}

// loadConfig reads the config file and applies flags that were set explicitly
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := flags.GetString("log-level"); flags.Changed("log-level") {
		cfg.Log.Level = v
	}
	if v, _ := flags.GetString("log-format"); flags.Changed("log-format") {
		cfg.Log.Format = v
	}
	if v, _ := flags.GetString("uri"); flags.Changed("uri") {
		cfg.Source.URI = v
	}
	if v, _ := flags.GetString("http-addr"); flags.Changed("http-addr") {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flag value: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func writePolicy(s string) snapshot.WriteFailurePolicy {
	if s == "continue" {
		return snapshot.WriteFailureContinue
	}
	return snapshot.WriteFailureFatal
}

func printConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	collector := metrics.New()

	p := snapshot.New(snapshot.Config{
		Display: snapshot.QueueConfig{Size: cfg.Display.QueueSize, Leaky: cfg.Display.Leaky},
		Capture: snapshot.QueueConfig{Size: cfg.Capture.QueueSize, Leaky: cfg.Capture.Leaky},
		Output: snapshot.CaptureConfig{
			OutputPath:     snapshot.DefaultOutputPath,
			OnWriteFailure: writePolicy(cfg.Capture.OnWriteError),
		},
		StopTimeout: cfg.ShutdownTimeout(),
		Logger:      logger,
		Observer:    collector,
	}, snapshot.Stages{
		Source: gstreamer.NewSourceFactory(gstreamer.SourceConfig{
			URI:          cfg.Source.URI,
			Media:        cfg.Source.Media,
			ClockRate:    cfg.Source.ClockRate,
			EncodingName: cfg.Source.EncodingName,
			Payload:      cfg.Source.Payload,
			Depayloader:  cfg.Source.Depayloader,
			Decoder:      cfg.Source.Decoder,
			SourceStream: cfg.Source.SourceStream,
			BufferFrames: cfg.Source.BufferFrames,
			Logger:       logger,
		}),
		Renderer: gstreamer.NewRendererFactory(gstreamer.RendererConfig{
			Sink:   cfg.Display.Sink,
			Logger: logger,
		}),
		Writer: imagefile.NewWriterFactory(),
	})

	if err := p.Build(); err != nil {
		logger.Error("snapshot: failed to build pipeline", "error", err)
		return err
	}
	if err := p.Start(ctx); err != nil {
		logger.Error("snapshot: failed to start pipeline", "error", err)
		return err
	}

	cmds := snapshot.NewCommandSource(p.Gate(), logger, collector)

	// command sources end with ctx; the pipeline does not wait for them
	runCtx, stopSources := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopSources()
		wg.Wait()
	}()

	go func() {
		// stdin reads block until input arrives, so this goroutine is not waited on
		if err := cmds.Run(runCtx, os.Stdin); err != nil {
			logger.Warn("snapshot: stdin command source stopped", "error", err)
		}
	}()

	if cfg.HTTP.Enabled {
		srv := control.NewHTTPServer(cfg.HTTP.Addr, cmds, p, collector.Handler(), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(runCtx); err != nil {
				logger.Error("snapshot: http control stopped", "error", err)
			}
		}()
	}

	if cfg.MQTT.Enabled {
		src := control.NewMQTTSource(control.MQTTConfig{
			Broker:       cfg.MQTT.Broker,
			ClientID:     cfg.MQTT.ClientID,
			ControlTopic: cfg.MQTT.Topics.Control,
			EventsTopic:  cfg.MQTT.Topics.Events,
			QoS:          cfg.MQTT.QoS,
		}, cmds, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Run(runCtx); err != nil {
				logger.Error("snapshot: mqtt control stopped", "error", err)
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Playing %s. Type 's' and Enter to write %s, Ctrl+C to quit.\n",
		cfg.Source.URI, p.OutputPath())

	if err := p.Run(ctx); err != nil {
		logger.Error("snapshot: pipeline stopped with error",
			"error", err,
			"category", snapshot.Category(err).String(),
		)
		return err
	}

	st := p.Stats()
	logger.Info("snapshot: done",
		"frames_routed", st.FramesRouted,
		"captures", st.Captures,
		"capture_errors", st.CaptureErrors,
	)
	return nil
}
