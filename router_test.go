package snapshot

import (
	"context"
	"errors"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, pad *Pad, n int) []uint64 {
	t.Helper()
	seqs := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		select {
		case f := <-pad.Frames():
			seqs = append(seqs, f.Seq)
			f.Release()
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d on %s", i, pad.Name())
		}
	}
	return seqs
}

func TestRouter_DeliversEveryFrameToBothPadsInOrder(t *testing.T) {
	r := NewRouter(QueueConfig{Size: 16}, QueueConfig{Size: 16}, quietLogger(), nil)
	display, capture, err := r.Attach()
	require.NoError(t, err)

	assert.Equal(t, BranchDisplay, display.Name())
	assert.Equal(t, BranchCapture, capture.Name())

	var routerReleases atomic.Int32
	for seq := uint64(1); seq <= 10; seq++ {
		f := rgbFrame(seq, 2, 2, color.RGBA{}, func() { routerReleases.Add(1) })
		require.NoError(t, r.Push(context.Background(), f))
	}

	want := []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, want, collect(t, display, 10))
	assert.Equal(t, want, collect(t, capture, 10))

	assert.Equal(t, int32(10), routerReleases.Load(), "router releases its own handle after fan-out")
	assert.Equal(t, uint64(10), r.Routed())
	assert.Equal(t, uint64(10), display.Released())
	assert.Equal(t, uint64(10), capture.Released())
	assert.Zero(t, display.Dropped())
	assert.Zero(t, capture.Dropped())
}

func TestRouter_AttachTwice(t *testing.T) {
	r := NewRouter(QueueConfig{Size: 1}, QueueConfig{Size: 1}, quietLogger(), nil)

	_, _, err := r.Attach()
	require.NoError(t, err)

	_, _, err = r.Attach()
	assert.ErrorIs(t, err, ErrAlreadyAttached)

	r.Detach()
	_, _, err = r.Attach()
	assert.NoError(t, err, "attach is allowed again after detach")
}

func TestRouter_PushWithoutPads(t *testing.T) {
	r := NewRouter(QueueConfig{Size: 1}, QueueConfig{Size: 1}, quietLogger(), nil)

	var released atomic.Int32
	err := r.Push(context.Background(), rgbFrame(1, 2, 2, color.RGBA{}, func() { released.Add(1) }))

	assert.ErrorIs(t, err, ErrNotAttached)
	assert.Equal(t, int32(1), released.Load())
}

func TestRouter_LeakyCaptureNeverStallsDisplay(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRouter(QueueConfig{Size: 32}, QueueConfig{Size: 1, Leaky: true}, quietLogger(), obs)
	display, capture, err := r.Attach()
	require.NoError(t, err)

	// nobody consumes the capture pad
	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := uint64(1); seq <= 20; seq++ {
			assert.NoError(t, r.Push(context.Background(), rgbFrame(seq, 2, 2, color.RGBA{}, nil)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked on a full leaky capture queue")
	}

	assert.Len(t, collect(t, display, 20), 20)
	assert.Equal(t, uint64(1), capture.Delivered())
	assert.Equal(t, uint64(19), capture.Dropped())
	assert.Equal(t, uint64(19), capture.Released(), "dropped handles are released")
	assert.Equal(t, int32(19), obs.dropped.Load())
}

func TestRouter_DetachUnblocksPush(t *testing.T) {
	r := NewRouter(QueueConfig{Size: 1}, QueueConfig{Size: 4}, quietLogger(), nil)
	_, _, err := r.Attach()
	require.NoError(t, err)

	require.NoError(t, r.Push(context.Background(), rgbFrame(1, 2, 2, color.RGBA{}, nil)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Push(context.Background(), rgbFrame(2, 2, 2, color.RGBA{}, nil))
	}()

	select {
	case err := <-errCh:
		t.Fatalf("push returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	r.Detach()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotAttached)
	case <-time.After(time.Second):
		t.Fatal("push still blocked after detach")
	}

	r.Detach() // idempotent
}

func TestRouter_BlockedPushHonoursContext(t *testing.T) {
	r := NewRouter(QueueConfig{Size: 1}, QueueConfig{Size: 4}, quietLogger(), nil)
	_, _, err := r.Attach()
	require.NoError(t, err)
	defer r.Detach()

	require.NoError(t, r.Push(context.Background(), rgbFrame(1, 2, 2, color.RGBA{}, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = r.Push(ctx, rgbFrame(2, 2, 2, color.RGBA{}, nil))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRouter_DetachClosesPads(t *testing.T) {
	r := NewRouter(QueueConfig{Size: 2}, QueueConfig{Size: 2}, quietLogger(), nil)
	display, capture, err := r.Attach()
	require.NoError(t, err)

	r.Detach()

	_, ok := <-display.Frames()
	assert.False(t, ok)
	_, ok = <-capture.Frames()
	assert.False(t, ok)
}
