package gstreamer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
)

// SourceConfig describes the inbound RTP/H.264 stream
type SourceConfig struct {
	URI          string
	Media        string
	ClockRate    int
	EncodingName string
	Payload      int
	Depayloader  string
	Decoder      string
	SourceStream string
	// BufferFrames is the capacity of the decoded frame channel
	BufferFrames int
	Logger       *slog.Logger
}

// DefaultSourceConfig returns the default stream: H.264 over RTP on
// udp://localhost:30120, payload type 96.
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		URI:          "udp://localhost:30120",
		Media:        "video",
		ClockRate:    90000,
		EncodingName: "H264",
		Payload:      96,
		Depayloader:  "rtph264depay",
		Decoder:      "avdec_h264",
		SourceStream: "udp-h264",
		BufferFrames: 4,
	}
}

// Source receives RTP over UDP, depayloads and decodes H.264 and hands out
// packed RGB frames:
//
//	udpsrc → depayloader → decoder → videoconvert → capsfilter(RGB) → appsink
//
// The GStreamer pipeline is created by NewSource and stays in NULL state
// until Start. The bus is watched from a GLib main loop.
type Source struct {
	cfg SourceConfig
	log *slog.Logger

	pipeline *gst.Pipeline
	appsink  *app.Sink
	loop     *glib.MainLoop

	// frames is guarded by mu: the streaming thread sends under RLock and
	// closeFrames closes under Lock
	mu     sync.RWMutex
	frames chan *snapshot.Frame
	closed bool

	lifecycle sync.Mutex
	started   time.Time
	running   bool
	stopped   bool

	errMu sync.Mutex
	err   error

	frameCount    atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
	errorsNetwork atomic.Uint64
	errorsCodec   atomic.Uint64
	errorsOther   atomic.Uint64
}

var _ snapshot.Source = (*Source)(nil)

// NewSourceFactory returns a snapshot.SourceFactory building a Source from cfg
func NewSourceFactory(cfg SourceConfig) snapshot.SourceFactory {
	return func() (snapshot.Source, error) {
		return NewSource(cfg)
	}
}

// NewSource validates cfg, checks every element is installed and creates
// the idle ingest pipeline.
func NewSource(cfg SourceConfig) (*Source, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BufferFrames < 1 {
		cfg.BufferFrames = 4
	}
	if err := validateURI(cfg.URI); err != nil {
		return nil, err
	}

	if err := checkElements("udpsrc", cfg.Depayloader, cfg.Decoder, "videoconvert", "capsfilter", "appsink"); err != nil {
		return nil, fmt.Errorf("gstreamer: ingest: %w", err)
	}

	s := &Source{
		cfg:    cfg,
		log:    cfg.Logger,
		frames: make(chan *snapshot.Frame, cfg.BufferFrames),
	}
	if err := s.createPipeline(); err != nil {
		return nil, err
	}

	s.log.Info("gstreamer: ingest pipeline created",
		"uri", cfg.URI,
		"caps", rtpCapsString(cfg),
		"depayloader", cfg.Depayloader,
		"decoder", cfg.Decoder,
	)
	return s, nil
}

func validateURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("gstreamer: invalid uri %q: %w", uri, err)
	}
	if u.Scheme != "udp" || u.Port() == "" {
		return fmt.Errorf("gstreamer: uri must be udp://host:port, got %q", uri)
	}
	return nil
}

func (s *Source) createPipeline() error {
	pipeline, err := gst.NewPipeline("snapshot-ingest")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create pipeline: %w", err)
	}

	udpsrc, err := gst.NewElement("udpsrc")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create udpsrc: %w", err)
	}
	udpsrc.SetProperty("uri", s.cfg.URI)
	udpsrc.SetProperty("caps", gst.NewCapsFromString(rtpCapsString(s.cfg)))

	depay, err := gst.NewElement(s.cfg.Depayloader)
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create %s: %w", s.cfg.Depayloader, err)
	}
	decoder, err := gst.NewElement(s.cfg.Decoder)
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create %s: %w", s.cfg.Decoder, err)
	}
	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create videoconvert: %w", err)
	}

	// lock packed RGB so every frame carries width and height in its caps
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rgbCaps))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("gstreamer: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("emit-signals", false)

	if err := pipeline.AddMany(udpsrc, depay, decoder, converter, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("gstreamer: failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(udpsrc, depay, decoder, converter, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("gstreamer: failed to link ingest elements: %w", err)
	}

	cbCtx := &CallbackContext{
		Emit:          s.emit,
		FrameCounter:  &s.frameCount,
		BytesRead:     &s.bytesRead,
		FramesDropped: &s.framesDropped,
		SourceStream:  s.cfg.SourceStream,
		Log:           s.log,
	}
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return OnNewSample(sink, cbCtx)
		},
	})

	s.pipeline = pipeline
	s.appsink = appsink
	return nil
}

// Start sets the pipeline to PLAYING and returns the frame channel. Frames
// arrive once the first RTP packets are decoded.
func (s *Source) Start(ctx context.Context) (<-chan *snapshot.Frame, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running || s.stopped {
		return nil, fmt.Errorf("gstreamer: source already started")
	}

	s.loop = glib.NewMainLoop(glib.MainContextDefault(), false)
	s.pipeline.GetPipelineBus().AddWatch(s.onBusMessage)
	go s.loop.Run()

	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		s.loop.Quit()
		return nil, fmt.Errorf("gstreamer: failed to start pipeline: %w", err)
	}

	s.started = time.Now()
	s.running = true

	s.log.Info("gstreamer: ingest started",
		"uri", s.cfg.URI,
		"note", "frames arrive once the sender starts streaming",
	)
	return s.frames, nil
}

// onBusMessage runs on the GLib main loop. Returning false removes the watch.
func (s *Source) onBusMessage(msg *gst.Message) bool {
	switch msg.Type() {
	case gst.MessageEOS:
		s.log.Info("gstreamer: end of stream received",
			"uri", s.cfg.URI,
			"frames_processed", s.frameCount.Load(),
		)
		s.closeFrames()
		return false

	case gst.MessageError:
		gerr := msg.ParseError()
		category := ClassifyGStreamerError(gerr)

		switch category {
		case ErrCategoryNetwork:
			s.errorsNetwork.Add(1)
		case ErrCategoryCodec:
			s.errorsCodec.Add(1)
		default:
			s.errorsOther.Add(1)
		}

		s.log.Error("gstreamer: pipeline error",
			"error", gerr.Error(),
			"debug", gerr.DebugString(),
			"category", category.String(),
			"uri", s.cfg.URI,
			"frames_processed", s.frameCount.Load(),
		)
		s.setErr(fmt.Errorf("gstreamer: pipeline error [%s]: %s", category.String(), gerr.Error()))
		s.closeFrames()
		return false

	case gst.MessageStateChanged:
		if msg.Source() == s.pipeline.GetName() {
			oldState, newState := msg.ParseStateChanged()
			s.log.Debug("gstreamer: pipeline state changed", "from", oldState.String(), "to", newState.String())
		}
	}
	return true
}

// emit hands a frame to the consumer without blocking the streaming thread
func (s *Source) emit(f *snapshot.Frame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

func (s *Source) closeFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

func (s *Source) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the bus error that ended the stream, if any
func (s *Source) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop sets the pipeline to NULL and closes the frame channel. Safe to call
// before Start and more than once.
func (s *Source) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	var err error
	if s.pipeline != nil {
		if stateErr := s.pipeline.SetState(gst.StateNull); stateErr != nil {
			err = fmt.Errorf("gstreamer: failed to set pipeline to NULL: %w", stateErr)
		}
	}
	if s.loop != nil {
		s.loop.Quit()
	}
	s.closeFrames()

	if s.running {
		s.log.Info("gstreamer: ingest stopped",
			"frames_captured", s.frameCount.Load(),
			"frames_dropped", s.framesDropped.Load(),
			"bytes_read", s.bytesRead.Load(),
			"errors_network", s.errorsNetwork.Load(),
			"errors_codec", s.errorsCodec.Load(),
			"errors_other", s.errorsOther.Load(),
			"uptime", time.Since(s.started),
		)
	}
	s.running = false
	return err
}
