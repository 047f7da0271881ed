package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
)

// errNoCaps is returned by Render for frames without negotiated geometry
var errNoCaps = errors.New("gstreamer: frame has no format, cannot set caps")

// RendererConfig configures the display sink
type RendererConfig struct {
	// Sink is the video sink element (default: autovideosink)
	Sink   string
	Logger *slog.Logger
}

// Renderer presents frames through appsrc → videoconvert → sink.
//
// The pipeline goes to PLAYING on the first frame. Caps follow each frame's
// format and are replaced when the stream renegotiates. Errors on the render
// pipeline's bus are logged and counted; they never stop ingest.
type Renderer struct {
	cfg RendererConfig
	log *slog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source
	current  *snapshot.FrameFormat
	playing  bool
	closed   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ snapshot.Renderer = (*Renderer)(nil)

// NewRendererFactory returns a snapshot.RendererFactory building a Renderer
func NewRendererFactory(cfg RendererConfig) snapshot.RendererFactory {
	return func() (snapshot.Renderer, error) {
		return NewRenderer(cfg)
	}
}

// NewRenderer checks the sink is installed and creates the idle render
// pipeline.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.Sink == "" {
		cfg.Sink = "autovideosink"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := checkElements("appsrc", "videoconvert", cfg.Sink); err != nil {
		return nil, fmt.Errorf("gstreamer: render: %w", err)
	}

	pipeline, err := gst.NewPipeline("snapshot-display")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create render pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create appsrc: %w", err)
	}
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("do-timestamp", true)
	appsrc.SetProperty("format", gst.FormatTime)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create videoconvert: %w", err)
	}
	sink, err := gst.NewElement(cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create %s: %w", cfg.Sink, err)
	}
	sink.SetProperty("sync", false)

	if err := pipeline.AddMany(appsrc.Element, converter, sink); err != nil {
		return nil, fmt.Errorf("gstreamer: failed to add render elements: %w", err)
	}
	if err := gst.ElementLinkMany(appsrc.Element, converter, sink); err != nil {
		return nil, fmt.Errorf("gstreamer: failed to link render elements: %w", err)
	}

	cfg.Logger.Info("gstreamer: render pipeline created", "sink", cfg.Sink)

	return &Renderer{
		cfg:      cfg,
		log:      cfg.Logger,
		pipeline: pipeline,
		appsrc:   appsrc,
	}, nil
}

// Render pushes one frame to the display. The frame data is copied into a
// GStreamer buffer, so f may be released as soon as Render returns.
func (r *Renderer) Render(f *snapshot.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("gstreamer: renderer closed")
	}
	if f.Format == nil || f.Format.Width <= 0 || f.Format.Height <= 0 {
		return errNoCaps
	}

	if !sameGeometry(r.current, f.Format) {
		caps := rawCapsString(f.Format)
		r.appsrc.SetCaps(gst.NewCapsFromString(caps))
		r.current = &snapshot.FrameFormat{
			PixelFormat: f.Format.PixelFormat,
			Width:       f.Format.Width,
			Height:      f.Format.Height,
		}
		r.log.Debug("gstreamer: render caps updated", "caps", caps)
	}

	if !r.playing {
		if err := r.pipeline.SetState(gst.StatePlaying); err != nil {
			return fmt.Errorf("gstreamer: failed to start render pipeline: %w", err)
		}
		r.playing = true
		r.watchBus()
	}

	if ret := r.appsrc.PushBuffer(gst.NewBufferFromBytes(f.Data)); ret != gst.FlowOK {
		return fmt.Errorf("gstreamer: push buffer: %s", ret)
	}
	return nil
}

// watchBus polls the render bus until Close. r.mu must be held.
func (r *Renderer) watchBus() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	bus := r.pipeline.GetPipelineBus()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// short timeout for responsive shutdown
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}
			switch msg.Type() {
			case gst.MessageError:
				gerr := msg.ParseError()
				r.log.Error("gstreamer: render pipeline error",
					"error", gerr.Error(),
					"debug", gerr.DebugString(),
					"category", ClassifyGStreamerError(gerr).String(),
					"sink", r.cfg.Sink,
				)
			case gst.MessageWarning:
				gerr := msg.ParseWarning()
				r.log.Warn("gstreamer: render pipeline warning", "warning", gerr.Error())
			}
		}
	}()
}

// Close ends the render stream and releases the pipeline. Idempotent.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var result *multierror.Error
	if r.playing {
		if ret := r.appsrc.EndStream(); ret != gst.FlowOK && ret != gst.FlowFlushing {
			result = multierror.Append(result, fmt.Errorf("end stream: %s", ret))
		}
	}
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
	}
	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		result = multierror.Append(result, fmt.Errorf("set NULL: %w", err))
	}

	r.log.Debug("gstreamer: render pipeline closed")
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("gstreamer: close renderer: %w", err)
	}
	return nil
}
