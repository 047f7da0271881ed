package snapshot

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/framebuffer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rgbFrame builds a solid-colour packed RGB frame with 4-byte aligned rows
func rgbFrame(seq uint64, w, h int, c color.RGBA, onRelease func()) *Frame {
	stride := framebuffer.PackedStride(w)
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*stride + x*3
			data[i], data[i+1], data[i+2] = c.R, c.G, c.B
		}
	}
	return NewFrame(seq, data, &FrameFormat{PixelFormat: "RGB", Width: w, Height: h, Stride: stride}, onRelease)
}

// spyWriter records every image it is asked to write
type spyWriter struct {
	mu     sync.Mutex
	paths  []string
	images []*image.RGBA
	err    error
}

func (w *spyWriter) WriteImage(path string, img image.Image) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paths = append(w.paths, path)
	if w.err != nil {
		return w.err
	}

	// copy: the view is only valid while the frame is held
	b := img.Bounds()
	cp := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cp.Set(x, y, img.At(x, y))
		}
	}
	w.images = append(w.images, cp)
	return nil
}

func (w *spyWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.paths)
}

func (w *spyWriter) written() []*image.RGBA {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*image.RGBA(nil), w.images...)
}

// fakeRenderer records rendered sequence numbers
type fakeRenderer struct {
	mu       sync.Mutex
	seqs     []uint64
	failOn   map[uint64]bool
	closed   atomic.Int32
	closeErr error

	// block, when set, holds every Render call until it is closed
	block     chan struct{}
	rendering atomic.Int32
}

func (r *fakeRenderer) Render(f *Frame) error {
	if r.block != nil {
		r.rendering.Add(1)
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn[f.Seq] {
		return errors.New("sink rejected buffer")
	}
	r.seqs = append(r.seqs, f.Seq)
	return nil
}

func (r *fakeRenderer) Close() error {
	r.closed.Add(1)
	return r.closeErr
}

func (r *fakeRenderer) rendered() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

// fakeSource is a Source driven by the test through send and finish
type fakeSource struct {
	frames   chan *Frame
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newFakeSource(buffer int) *fakeSource {
	return &fakeSource{frames: make(chan *Frame, buffer)}
}

func (s *fakeSource) Start(ctx context.Context) (<-chan *Frame, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	s.started.Add(1)
	return s.frames, nil
}

func (s *fakeSource) Stop() error {
	s.stopped.Add(1)
	s.once.Do(func() { close(s.frames) })
	return nil
}

func (s *fakeSource) send(t *testing.T, f *Frame) {
	t.Helper()
	s.frames <- f
}

// finish ends the stream as if the sender went away with err
func (s *fakeSource) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.frames) })
}

func (s *fakeSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func stagesFor(src Source, ren Renderer, w ImageWriter) Stages {
	return Stages{
		Source:   func() (Source, error) { return src, nil },
		Renderer: func() (Renderer, error) { return ren, nil },
		Writer:   func() (ImageWriter, error) { return w, nil },
	}
}

// recordingObserver counts events for assertions
type recordingObserver struct {
	nopObserver
	requested atomic.Int32
	written   atomic.Int32
	failed    atomic.Int32
	dropped   atomic.Int32
}

func (o *recordingObserver) CaptureRequested()            { o.requested.Add(1) }
func (o *recordingObserver) CaptureWritten(time.Duration) { o.written.Add(1) }
func (o *recordingObserver) FrameDropped(string)          { o.dropped.Add(1) }
func (o *recordingObserver) CaptureFailed(ErrorCategory)  { o.failed.Add(1) }
