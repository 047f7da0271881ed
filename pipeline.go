package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Source produces decoded frames in decode order.
//
// Start returns a channel that the source closes when the stream ends or the
// source is stopped. Stop must be safe to call on a source that was never
// started and more than once.
type Source interface {
	Start(ctx context.Context) (<-chan *Frame, error)
	Stop() error
}

// sourceErr is implemented by sources that can report why their stream ended.
type sourceErr interface {
	Err() error
}

// SourceFactory creates the ingest stage
type SourceFactory func() (Source, error)

// RendererFactory creates the on-screen rendering stage
type RendererFactory func() (Renderer, error)

// WriterFactory creates the still-image encoder stage
type WriterFactory func() (ImageWriter, error)

// Stages holds the factories invoked by Build. A factory that is nil,
// returns an error, or returns a nil stage (including a typed nil pointer)
// fails the build with a TopologyError.
type Stages struct {
	Source   SourceFactory
	Renderer RendererFactory
	Writer   WriterFactory
}

// Config configures a Pipeline
type Config struct {
	// Display is the queue in front of the display branch
	Display QueueConfig
	// Capture is the queue in front of the capture branch
	Capture QueueConfig
	// Output configures the capture branch
	Output CaptureConfig
	// StopTimeout bounds how long Stop waits for the branches to exit
	StopTimeout time.Duration
	// Logger for pipeline logs (default: slog.Default())
	Logger *slog.Logger
	// Observer receives telemetry events (optional)
	Observer Observer
}

// DefaultConfig returns the default configuration: a small blocking
// display queue and a one-slot leaky capture queue, so a slow encoder never
// stalls playback.
func DefaultConfig() Config {
	return Config{
		Display: QueueConfig{Size: 4, Leaky: false},
		Capture: QueueConfig{Size: 1, Leaky: true},
		Output: CaptureConfig{
			OutputPath:     DefaultOutputPath,
			OnWriteFailure: WriteFailureFatal,
		},
		StopTimeout: 3 * time.Second,
	}
}

// Pipeline owns the topology: source, router, display and capture branches
// and the capture gate shared with command sources.
//
// Lifecycle: Stopped --Build--> Built --Start--> Playing --Stop--> Stopped.
// Stop is the only path that releases topology resources.
type Pipeline struct {
	cfg      Config
	stages   Stages
	log      *slog.Logger
	observer Observer
	gate     *CaptureGate

	mu    sync.Mutex
	state atomic.Int32

	source   Source
	renderer Renderer
	router   *Router
	display  *DisplayBranch
	capture  *CaptureBranch
	dispPad  *Pad
	capPad   *Pad

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	fatal      chan error
	sourceDone chan struct{}
	started    time.Time
}

// New creates a pipeline in StateStopped
func New(cfg Config, stages Stages) *Pipeline {
	def := DefaultConfig()
	if cfg.Display.Size < 1 {
		cfg.Display = def.Display
	}
	if cfg.Capture.Size < 1 {
		cfg.Capture = def.Capture
	}
	if cfg.Output.OutputPath == "" {
		cfg.Output.OutputPath = def.Output.OutputPath
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		cfg:      cfg,
		stages:   stages,
		log:      cfg.Logger,
		observer: observerOrNop(cfg.Observer),
		gate:     &CaptureGate{},
	}
}

// Gate returns the capture gate command sources arm
func (p *Pipeline) Gate() *CaptureGate { return p.gate }

// State returns the current lifecycle state
func (p *Pipeline) State() State { return State(p.state.Load()) }

// OutputPath returns the file captures are written to
func (p *Pipeline) OutputPath() string { return p.cfg.Output.OutputPath }

func (p *Pipeline) setState(s State) {
	old := State(p.state.Swap(int32(s)))
	if old != s {
		p.log.Debug("pipeline: state changed", "from", old.String(), "to", s.String())
	}
}

// Build creates every stage and links the router to both branches.
//
// On failure the returned error is a *TopologyError, every stage created so
// far is released and the pipeline stays in StateStopped.
func (p *Pipeline) Build() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateStopped {
		return fmt.Errorf("%w: build from %s", ErrInvalidState, s)
	}

	var (
		source   Source
		renderer Renderer
		router   *Router
	)
	defer func() {
		if err == nil {
			return
		}
		if relErr := releaseStages(source, renderer, router); relErr != nil {
			p.log.Warn("pipeline: failed to release partial topology", "error", relErr)
		}
		p.log.Error("pipeline: build failed", "error", err)
	}()

	source, err = buildStage("source", p.stages.Source)
	if err != nil {
		return err
	}
	renderer, err = buildStage("renderer", p.stages.Renderer)
	if err != nil {
		return err
	}
	writer, err := buildStage("image-writer", p.stages.Writer)
	if err != nil {
		return err
	}

	router = NewRouter(p.cfg.Display, p.cfg.Capture, p.log, p.observer)
	dispPad, capPad, err := router.Attach()
	if err != nil {
		return &TopologyError{Stage: "router", Err: err}
	}

	p.source = source
	p.renderer = renderer
	p.router = router
	p.dispPad = dispPad
	p.capPad = capPad
	p.display = NewDisplayBranch(renderer, p.log, p.observer)
	p.capture = NewCaptureBranch(p.gate, writer, p.cfg.Output, p.log, p.observer)
	p.setState(StateBuilt)

	p.log.Info("pipeline: topology built",
		"output", p.cfg.Output.OutputPath,
		"on_write_failure", p.cfg.Output.OnWriteFailure.String(),
		"display_queue", p.cfg.Display.Size,
		"capture_queue", p.cfg.Capture.Size,
		"capture_leaky", p.cfg.Capture.Leaky,
	)
	return nil
}

// buildStage invokes one factory and converts any failure into a TopologyError.
func buildStage[T any](name string, factory func() (T, error)) (T, error) {
	var zero T
	if factory == nil {
		return zero, &TopologyError{Stage: name, Err: errors.New("no factory configured")}
	}
	stage, err := factory()
	if err != nil {
		return zero, &TopologyError{Stage: name, Err: err}
	}
	if isNil(stage) {
		return zero, &TopologyError{Stage: name}
	}
	return stage, nil
}

// isNil reports whether v is a nil interface or an interface holding a nil
// pointer, map, slice, func or chan.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func releaseStages(source Source, renderer Renderer, router *Router) error {
	var result *multierror.Error
	if router != nil {
		router.Detach()
	}
	if source != nil {
		if err := source.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("source: %w", err))
		}
	}
	if renderer != nil {
		if err := renderer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("renderer: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// Start begins playback: the source starts producing, the router fans each
// frame out and both branches consume concurrently.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s := p.State(); s != StateBuilt {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s)
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.fatal = make(chan error, 2)
	p.sourceDone = make(chan struct{})

	frames, err := p.source.Start(p.ctx)
	if err != nil {
		p.cancel()
		if relErr := p.teardownLocked(); relErr != nil {
			p.log.Warn("pipeline: teardown after failed start", "error", relErr)
		}
		return fmt.Errorf("pipeline: start source: %w", err)
	}

	p.started = time.Now()
	p.setState(StatePlaying)

	p.wg.Add(3)
	go p.feed(p.ctx, frames)
	go func() {
		defer p.wg.Done()
		_ = p.display.Run(p.ctx, p.dispPad)
	}()
	go func() {
		defer p.wg.Done()
		if err := p.capture.Run(p.ctx, p.capPad); err != nil {
			select {
			case p.fatal <- err:
			default:
			}
		}
	}()

	p.log.Info("pipeline: playing")
	return nil
}

// feed pushes source frames into the router until the source ends or ctx is
// cancelled.
func (p *Pipeline) feed(ctx context.Context, frames <-chan *Frame) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				close(p.sourceDone)
				return
			}
			// Push fails only once the router is detached or ctx ends
			if err := p.router.Push(ctx, f); err != nil {
				p.log.Debug("pipeline: feeder exiting", "error", err, "seq", f.Seq)
				return
			}
		}
	}
}

// Run blocks while the pipeline is playing. It returns after ctx is
// cancelled, the source ends, or a branch reports a fatal error, always
// passing through Stop. The fatal error (or source error) is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.State() != StatePlaying {
		s := p.State()
		p.mu.Unlock()
		return fmt.Errorf("%w: run from %s", ErrInvalidState, s)
	}
	playCtx, fatal, sourceDone, source := p.ctx, p.fatal, p.sourceDone, p.source
	p.mu.Unlock()

	var runErr error
	select {
	case <-ctx.Done():
		p.log.Info("pipeline: shutdown requested")
	case <-playCtx.Done():
		p.log.Info("pipeline: playback context ended")
	case err := <-fatal:
		runErr = err
		p.log.Error("pipeline: fatal error, stopping",
			"error", err,
			"category", Category(err).String(),
		)
	case <-sourceDone:
		if es, ok := source.(sourceErr); ok {
			runErr = es.Err()
		}
		p.log.Info("pipeline: source ended", "error", runErr)
	}

	if err := p.Stop(); err != nil {
		if runErr == nil {
			return err
		}
		p.log.Warn("pipeline: errors during stop", "error", err)
	}
	return runErr
}

// Stop tears the topology down. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.State() {
	case StateStopped:
		return nil
	case StateBuilt:
		return p.teardownLocked()
	}

	p.log.Info("pipeline: stopping")

	p.cancel()
	var result *multierror.Error
	if err := p.source.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("source: %w", err))
	}
	p.router.Detach()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timedOut := false
	select {
	case <-done:
		p.log.Debug("pipeline: goroutines stopped cleanly")
	case <-time.After(p.cfg.StopTimeout):
		timedOut = true
		p.log.Warn("pipeline: stop timeout exceeded, some goroutines may still be running",
			"timeout", p.cfg.StopTimeout,
		)
	}

	// the display goroutine may still be inside Render
	if timedOut {
		p.log.Warn("pipeline: renderer left open after stop timeout")
	} else if err := p.renderer.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("renderer: %w", err))
	}
	p.setState(StateStopped)

	p.log.Info("pipeline: stopped",
		"frames_routed", p.router.Routed(),
		"captures", p.capture.Captures(),
		"capture_errors", p.capture.Errors(),
		"uptime", time.Since(p.started),
	)

	return result.ErrorOrNil()
}

// teardownLocked releases a built-but-idle topology. p.mu must be held.
func (p *Pipeline) teardownLocked() error {
	err := releaseStages(p.source, p.renderer, p.router)
	p.setState(StateStopped)
	return err
}

// Stats returns current pipeline statistics. Counters from the last
// topology remain readable after Stop.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		State: p.State(),
		Armed: p.gate.Armed(),
	}
	if p.router != nil {
		st.FramesRouted = p.router.Routed()
	}
	if p.dispPad != nil {
		st.DisplayDropped = p.dispPad.Dropped()
	}
	if p.capPad != nil {
		st.CaptureDropped = p.capPad.Dropped()
	}
	if p.display != nil {
		st.DisplayRendered = p.display.Rendered()
		st.RenderErrors = p.display.Errors()
	}
	if p.capture != nil {
		st.CaptureSeen = p.capture.Seen()
		st.Captures = p.capture.Captures()
		st.CaptureErrors = p.capture.Errors()
		st.LastCaptureAt = p.capture.LastCaptureAt()
	}
	if st.State == StatePlaying && !p.started.IsZero() {
		st.Uptime = time.Since(p.started)
	}
	return st
}
