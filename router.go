package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Pad is one outbound connection point of the Router, feeding one branch
// through a bounded queue.
type Pad struct {
	name   string
	cfg    QueueConfig
	frames chan *Frame

	delivered atomic.Uint64
	dropped   atomic.Uint64
	released  atomic.Uint64
}

func newPad(name string, cfg QueueConfig) *Pad {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	return &Pad{
		name:   name,
		cfg:    cfg,
		frames: make(chan *Frame, cfg.Size),
	}
}

// Name returns the branch name this pad feeds
func (p *Pad) Name() string { return p.name }

// Frames returns the branch's inbound queue. It is closed on Router.Detach.
func (p *Pad) Frames() <-chan *Frame { return p.frames }

// Delivered returns the number of frames queued on this pad
func (p *Pad) Delivered() uint64 { return p.delivered.Load() }

// Dropped returns the number of frames a leaky queue discarded
func (p *Pad) Dropped() uint64 { return p.dropped.Load() }

// Released returns the number of frame handles from this pad that were released
func (p *Pad) Released() uint64 { return p.released.Load() }

// drain releases every frame still queued without blocking.
func (p *Pad) drain() {
	for {
		select {
		case f, ok := <-p.frames:
			if !ok {
				return
			}
			f.Release()
		default:
			return
		}
	}
}

// Router replicates one decoded stream into the display and capture branches.
//
// Frames are pushed from a single goroutine and delivered to both pads in
// arrival order. The router never drops a frame itself; a leaky pad drops
// when its queue is full, which is that branch's policy.
type Router struct {
	displayCfg QueueConfig
	captureCfg QueueConfig
	log        *slog.Logger
	observer   Observer

	mu      sync.RWMutex
	display *Pad
	capture *Pad

	closingMu sync.Mutex
	closing   chan struct{}
	closed    bool

	routed atomic.Uint64
}

// NewRouter creates a router with one queue configuration per branch.
func NewRouter(display, capture QueueConfig, log *slog.Logger, observer Observer) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		displayCfg: display,
		captureCfg: capture,
		log:        log,
		observer:   observerOrNop(observer),
	}
}

// Attach creates the display and capture pads. Calling it again before
// Detach returns ErrAlreadyAttached.
func (r *Router) Attach() (display, capture *Pad, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.display != nil {
		return nil, nil, ErrAlreadyAttached
	}

	r.display = newPad(BranchDisplay, r.displayCfg)
	r.capture = newPad(BranchCapture, r.captureCfg)

	r.closingMu.Lock()
	r.closing = make(chan struct{})
	r.closed = false
	r.closingMu.Unlock()

	r.log.Debug("router: pads attached",
		"display_queue", r.display.cfg.Size,
		"display_leaky", r.display.cfg.Leaky,
		"capture_queue", r.capture.cfg.Size,
		"capture_leaky", r.capture.cfg.Leaky,
	)

	return r.display, r.capture, nil
}

// Detach closes both pads so their consumers drain and exit. A Push blocked
// on a full queue is released first. Safe to call when not attached.
func (r *Router) Detach() {
	r.closingMu.Lock()
	if r.closing != nil && !r.closed {
		close(r.closing)
		r.closed = true
	}
	r.closingMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.display == nil {
		return
	}
	close(r.display.frames)
	close(r.capture.frames)
	r.display = nil
	r.capture = nil

	r.log.Debug("router: pads detached")
}

// Push delivers f to both branches. The router's own handle on f is released
// once both branches hold their copy.
//
// Returns ErrNotAttached if there are no pads, or ctx.Err() if a blocking
// queue could not accept the frame before ctx ended.
func (r *Router) Push(ctx context.Context, f *Frame) error {
	defer f.Release()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.display == nil {
		return ErrNotAttached
	}

	r.closingMu.Lock()
	closing := r.closing
	r.closingMu.Unlock()

	for _, pad := range [...]*Pad{r.display, r.capture} {
		if err := r.offer(ctx, pad, f, closing); err != nil {
			return err
		}
	}

	r.routed.Add(1)
	r.observer.FrameRouted()
	return nil
}

// Routed returns the number of frames offered to both pads
func (r *Router) Routed() uint64 { return r.routed.Load() }

func (r *Router) offer(ctx context.Context, pad *Pad, f *Frame, closing <-chan struct{}) error {
	handle := f.fork(func() { pad.released.Add(1) })

	if pad.cfg.Leaky {
		select {
		case pad.frames <- handle:
			pad.delivered.Add(1)
		default:
			pad.dropped.Add(1)
			handle.Release()
			r.observer.FrameDropped(pad.name)
			r.log.Debug("router: queue full, dropping frame",
				"branch", pad.name,
				"seq", f.Seq,
				"trace_id", f.TraceID,
			)
		}
		return nil
	}

	select {
	case pad.frames <- handle:
		pad.delivered.Add(1)
		return nil
	case <-ctx.Done():
		handle.Release()
		return ctx.Err()
	case <-closing:
		handle.Release()
		return ErrNotAttached
	}
}
