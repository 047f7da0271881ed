package snapshot

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Renderer presents decoded frames on screen. Render must not retain the
// frame after it returns.
//
// The pipeline calls Close only after the display branch has exited, never
// concurrently with Render. If the branch does not exit within the stop
// timeout, Close is not called.
type Renderer interface {
	Render(f *Frame) error
	Close() error
}

// DisplayBranch renders every frame it receives in arrival order and releases
// it immediately afterwards.
type DisplayBranch struct {
	renderer Renderer
	log      *slog.Logger
	observer Observer

	rendered atomic.Uint64
	errors   atomic.Uint64
}

// NewDisplayBranch creates a display branch over renderer
func NewDisplayBranch(renderer Renderer, log *slog.Logger, observer Observer) *DisplayBranch {
	if log == nil {
		log = slog.Default()
	}
	return &DisplayBranch{
		renderer: renderer,
		log:      log,
		observer: observerOrNop(observer),
	}
}

// Process renders f and releases it. Render errors are logged and counted.
func (d *DisplayBranch) Process(f *Frame) {
	defer f.Release()

	if err := d.renderer.Render(f); err != nil {
		n := d.errors.Add(1)
		d.observer.RenderFailed()
		// first failure at Warn, the rest at Debug so a broken sink cannot flood the log
		level := slog.LevelDebug
		if n == 1 {
			level = slog.LevelWarn
		}
		d.log.Log(context.Background(), level, "display: render failed",
			"error", err,
			"seq", f.Seq,
			"render_errors", n,
		)
		return
	}

	d.rendered.Add(1)
	d.observer.FrameRendered()
}

// Run consumes the display pad until it is closed or ctx ends. Rendering
// never fails the pipeline, so Run always returns nil.
func (d *DisplayBranch) Run(ctx context.Context, pad *Pad) error {
	for {
		select {
		case <-ctx.Done():
			pad.drain()
			return nil
		case f, ok := <-pad.Frames():
			if !ok {
				return nil
			}
			d.Process(f)
		}
	}
}

// Rendered returns the number of frames rendered
func (d *DisplayBranch) Rendered() uint64 { return d.rendered.Load() }

// Errors returns the number of frames the renderer rejected
func (d *DisplayBranch) Errors() uint64 { return d.errors.Load() }
