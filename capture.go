package snapshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/framebuffer"
)

// ImageWriter encodes an image and writes it to path, replacing any
// existing file.
type ImageWriter interface {
	WriteImage(path string, img image.Image) error
}

// CaptureConfig configures the capture branch
type CaptureConfig struct {
	// OutputPath is the fixed still-image target (default: DefaultOutputPath)
	OutputPath string
	// OnWriteFailure selects the reaction to encode/write errors
	OnWriteFailure WriteFailurePolicy
}

// CaptureBranch persists exactly one frame per gate arming.
//
// Frames are processed one at a time by a single goroutine. The gate is
// consumed before any geometry is read, so frames arriving while the gate is
// disarmed cost one atomic load and a release.
type CaptureBranch struct {
	gate     *CaptureGate
	writer   ImageWriter
	path     string
	policy   WriteFailurePolicy
	log      *slog.Logger
	observer Observer

	seen     atomic.Uint64
	captures atomic.Uint64
	errors   atomic.Uint64

	mu            sync.RWMutex
	lastCaptureAt time.Time
}

// NewCaptureBranch creates a capture branch that fires on gate and writes
// through writer.
func NewCaptureBranch(gate *CaptureGate, writer ImageWriter, cfg CaptureConfig, log *slog.Logger, observer Observer) *CaptureBranch {
	if cfg.OutputPath == "" {
		cfg.OutputPath = DefaultOutputPath
	}
	if log == nil {
		log = slog.Default()
	}
	return &CaptureBranch{
		gate:     gate,
		writer:   writer,
		path:     cfg.OutputPath,
		policy:   cfg.OnWriteFailure,
		log:      log,
		observer: observerOrNop(observer),
	}
}

// OutputPath returns the file every capture overwrites
func (c *CaptureBranch) OutputPath() string { return c.path }

// GeometryOf derives the pixel layout of a captured frame from its format.
//
// The advertised stride is ignored: rows are assumed packed RGB padded to a
// 4-byte boundary. Returns ErrNoFormatNegotiated when the format is absent or
// lacks width or height.
func GeometryOf(format *FrameFormat) (Geometry, error) {
	if format == nil {
		return Geometry{}, fmt.Errorf("%w: frame carries no format", ErrNoFormatNegotiated)
	}
	if format.Width <= 0 || format.Height <= 0 {
		return Geometry{}, fmt.Errorf("%w: missing dimensions (width=%d height=%d)",
			ErrNoFormatNegotiated, format.Width, format.Height)
	}
	return Geometry{
		Width:  format.Width,
		Height: format.Height,
		Stride: framebuffer.PackedStride(format.Width),
	}, nil
}

// Process handles one frame arriving at the capture sink and releases it.
//
// Returns captured=true when an image was written. A non-nil error wraps
// ErrNoFormatNegotiated or ErrEncodeOrWrite.
func (c *CaptureBranch) Process(f *Frame) (captured bool, err error) {
	defer f.Release()

	c.seen.Add(1)

	if !c.gate.ConsumeIfArmed() {
		return false, nil
	}

	start := time.Now()

	geom, err := GeometryOf(f.Format)
	if err != nil {
		return false, c.fail(f, err)
	}

	view, err := framebuffer.New(f.Data, geom.Width, geom.Height, geom.Stride)
	if err != nil {
		return false, c.fail(f, fmt.Errorf("%w: %v", ErrNoFormatNegotiated, err))
	}

	if err := c.writer.WriteImage(c.path, view); err != nil {
		return false, c.fail(f, fmt.Errorf("%w: %s: %v", ErrEncodeOrWrite, c.path, err))
	}

	elapsed := time.Since(start)
	c.captures.Add(1)
	c.mu.Lock()
	c.lastCaptureAt = time.Now()
	c.mu.Unlock()
	c.observer.CaptureWritten(elapsed)

	c.log.Info("capture: snapshot written",
		"path", c.path,
		"resolution", fmt.Sprintf("%dx%d", geom.Width, geom.Height),
		"stride", geom.Stride,
		"seq", f.Seq,
		"trace_id", f.TraceID,
		"elapsed", elapsed,
	)

	return true, nil
}

func (c *CaptureBranch) fail(f *Frame, err error) error {
	c.errors.Add(1)
	category := Category(err)
	c.observer.CaptureFailed(category)
	c.log.Error("capture: snapshot failed",
		"error", err,
		"category", category.String(),
		"format", f.Format.String(),
		"seq", f.Seq,
		"trace_id", f.TraceID,
	)
	return err
}

// Run consumes the capture pad until it is closed or ctx ends.
//
// Returns the first fatal error. ErrNoFormatNegotiated is always fatal;
// ErrEncodeOrWrite is fatal unless the policy is WriteFailureContinue.
func (c *CaptureBranch) Run(ctx context.Context, pad *Pad) error {
	for {
		select {
		case <-ctx.Done():
			pad.drain()
			return nil
		case f, ok := <-pad.Frames():
			if !ok {
				return nil
			}
			if _, err := c.Process(f); err != nil {
				if c.policy == WriteFailureContinue && errors.Is(err, ErrEncodeOrWrite) {
					c.log.Warn("capture: continuing after write failure", "policy", c.policy.String())
					continue
				}
				return err
			}
		}
	}
}

// Seen returns the number of frames that reached the capture sink
func (c *CaptureBranch) Seen() uint64 { return c.seen.Load() }

// Captures returns the number of images written
func (c *CaptureBranch) Captures() uint64 { return c.captures.Load() }

// Errors returns the number of failed capture attempts
func (c *CaptureBranch) Errors() uint64 { return c.errors.Load() }

// LastCaptureAt returns when the most recent image was written (zero if none)
func (c *CaptureBranch) LastCaptureAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastCaptureAt
}
