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

func newTestCapture(w ImageWriter, policy WriteFailurePolicy, obs Observer) (*CaptureBranch, *CaptureGate) {
	gate := &CaptureGate{}
	c := NewCaptureBranch(gate, w, CaptureConfig{OutputPath: "out.jpg", OnWriteFailure: policy}, quietLogger(), obs)
	return c, gate
}

func TestGeometryOf(t *testing.T) {
	tests := []struct {
		name    string
		format  *FrameFormat
		want    Geometry
		wantErr bool
	}{
		{name: "no format", format: nil, wantErr: true},
		{name: "missing width", format: &FrameFormat{Height: 240}, wantErr: true},
		{name: "missing height", format: &FrameFormat{Width: 320}, wantErr: true},
		{name: "aligned width", format: &FrameFormat{Width: 320, Height: 240}, want: Geometry{Width: 320, Height: 240, Stride: 960}},
		{name: "unaligned width", format: &FrameFormat{Width: 321, Height: 2}, want: Geometry{Width: 321, Height: 2, Stride: 964}},
		{name: "advertised stride ignored", format: &FrameFormat{Width: 5, Height: 1, Stride: 100}, want: Geometry{Width: 5, Height: 1, Stride: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GeometryOf(tt.format)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoFormatNegotiated)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCaptureBranch_DisarmedNeverWritesOrReadsFormat(t *testing.T) {
	w := &spyWriter{}
	c, _ := newTestCapture(w, WriteFailureFatal, nil)

	var released atomic.Int32
	for seq := uint64(1); seq <= 5; seq++ {
		// no format at all: reading it would fail the branch
		f := NewFrame(seq, []byte{1, 2, 3}, nil, func() { released.Add(1) })
		captured, err := c.Process(f)
		require.NoError(t, err)
		assert.False(t, captured)
	}

	assert.Zero(t, w.calls())
	assert.Equal(t, int32(5), released.Load())
	assert.Equal(t, uint64(5), c.Seen())
	assert.Zero(t, c.Captures())
}

func TestCaptureBranch_ArmedCapturesExactlyOneFrame(t *testing.T) {
	w := &spyWriter{}
	obs := &recordingObserver{}
	c, gate := newTestCapture(w, WriteFailureFatal, obs)

	gate.Arm()
	gate.Arm()

	red := color.RGBA{R: 255, A: 255}
	captured, err := c.Process(rgbFrame(1, 4, 3, red, nil))
	require.NoError(t, err)
	assert.True(t, captured)

	captured, err = c.Process(rgbFrame(2, 4, 3, red, nil))
	require.NoError(t, err)
	assert.False(t, captured, "the second frame after a burst of arms is not captured")

	assert.Equal(t, 1, w.calls())
	assert.Equal(t, "out.jpg", w.paths[0])
	assert.Equal(t, uint64(1), c.Captures())
	assert.Equal(t, int32(1), obs.written.Load())
	assert.False(t, c.LastCaptureAt().IsZero())
	assert.False(t, gate.Armed())
}

func TestCaptureBranch_NoFormatNegotiated(t *testing.T) {
	tests := []struct {
		name   string
		format *FrameFormat
		data   []byte
	}{
		{name: "absent format", format: nil, data: make([]byte, 64)},
		{name: "zero width", format: &FrameFormat{Width: 0, Height: 4}, data: make([]byte, 64)},
		{name: "zero height", format: &FrameFormat{Width: 4, Height: 0}, data: make([]byte, 64)},
		{name: "buffer shorter than geometry", format: &FrameFormat{Width: 320, Height: 240}, data: make([]byte, 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &spyWriter{}
			obs := &recordingObserver{}
			c, gate := newTestCapture(w, WriteFailureContinue, obs)
			gate.Arm()

			var released atomic.Int32
			captured, err := c.Process(NewFrame(1, tt.data, tt.format, func() { released.Add(1) }))

			assert.False(t, captured)
			assert.ErrorIs(t, err, ErrNoFormatNegotiated)
			assert.Equal(t, ErrCategoryFormat, Category(err))
			assert.Zero(t, w.calls(), "nothing is written")
			assert.Equal(t, int32(1), released.Load())
			assert.Equal(t, uint64(1), c.Errors())
			assert.Equal(t, int32(1), obs.failed.Load())
		})
	}
}

func TestCaptureBranch_StrideRecomputedFromWidth(t *testing.T) {
	w := &spyWriter{}
	c, gate := newTestCapture(w, WriteFailureFatal, nil)

	// width 5: 15 bytes of pixels + 1 byte of padding per row
	const width, height = 5, 2
	data := []byte{
		10, 0, 0, 20, 0, 0, 30, 0, 0, 40, 0, 0, 50, 0, 0, 0xEE,
		0, 10, 0, 0, 20, 0, 0, 30, 0, 0, 40, 0, 0, 50, 0, 0xEE,
	}
	// the advertised stride is wrong on purpose
	f := NewFrame(1, data, &FrameFormat{PixelFormat: "RGB", Width: width, Height: height, Stride: 15}, nil)

	gate.Arm()
	captured, err := c.Process(f)
	require.NoError(t, err)
	require.True(t, captured)

	img := w.written()[0]
	assert.Equal(t, width, img.Bounds().Dx())
	assert.Equal(t, height, img.Bounds().Dy())
	for x := 0; x < width; x++ {
		v := uint8(10 * (x + 1))
		assert.Equal(t, color.RGBA{R: v, A: 255}, img.RGBAAt(x, 0), "row 0 x=%d", x)
		assert.Equal(t, color.RGBA{G: v, A: 255}, img.RGBAAt(x, 1), "row 1 x=%d", x)
	}
}

func TestCaptureBranch_GeometryFollowsEachFrame(t *testing.T) {
	w := &spyWriter{}
	c, gate := newTestCapture(w, WriteFailureFatal, nil)

	gate.Arm()
	_, err := c.Process(rgbFrame(1, 320, 240, color.RGBA{B: 255, A: 255}, nil))
	require.NoError(t, err)

	// stream renegotiated to a smaller size
	gate.Arm()
	_, err = c.Process(rgbFrame(2, 161, 90, color.RGBA{B: 255, A: 255}, nil))
	require.NoError(t, err)

	imgs := w.written()
	require.Len(t, imgs, 2)
	assert.Equal(t, 320, imgs[0].Bounds().Dx())
	assert.Equal(t, 161, imgs[1].Bounds().Dx())
	assert.Equal(t, 90, imgs[1].Bounds().Dy())
}

func TestCaptureBranch_WriteFailure(t *testing.T) {
	w := &spyWriter{err: errors.New("disk full")}
	c, gate := newTestCapture(w, WriteFailureFatal, nil)

	gate.Arm()
	captured, err := c.Process(rgbFrame(1, 4, 4, color.RGBA{}, nil))

	assert.False(t, captured)
	assert.ErrorIs(t, err, ErrEncodeOrWrite)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "out.jpg")
	assert.Equal(t, ErrCategoryWrite, Category(err))
	assert.False(t, gate.Armed(), "a failed capture does not re-arm the gate")
}

func TestCaptureBranch_RunFatalOnWriteFailure(t *testing.T) {
	w := &spyWriter{err: errors.New("read-only filesystem")}
	c, gate := newTestCapture(w, WriteFailureFatal, nil)
	pad := newPad(BranchCapture, QueueConfig{Size: 4})

	gate.Arm()
	pad.frames <- rgbFrame(1, 4, 4, color.RGBA{}, nil)

	err := c.Run(context.Background(), pad)
	assert.ErrorIs(t, err, ErrEncodeOrWrite)
}

func TestCaptureBranch_RunContinuesOnWriteFailure(t *testing.T) {
	w := &spyWriter{err: errors.New("read-only filesystem")}
	c, gate := newTestCapture(w, WriteFailureContinue, nil)
	pad := newPad(BranchCapture, QueueConfig{Size: 4})

	gate.Arm()
	pad.frames <- rgbFrame(1, 4, 4, color.RGBA{}, nil)
	pad.frames <- rgbFrame(2, 4, 4, color.RGBA{}, nil)
	close(pad.frames)

	require.NoError(t, c.Run(context.Background(), pad))
	assert.Equal(t, uint64(2), c.Seen())
	assert.Equal(t, uint64(1), c.Errors())
}

func TestCaptureBranch_RunFormatErrorIsAlwaysFatal(t *testing.T) {
	c, gate := newTestCapture(&spyWriter{}, WriteFailureContinue, nil)
	pad := newPad(BranchCapture, QueueConfig{Size: 4})

	gate.Arm()
	pad.frames <- NewFrame(1, nil, nil, nil)
	pad.frames <- rgbFrame(2, 4, 4, color.RGBA{}, nil)

	err := c.Run(context.Background(), pad)
	assert.ErrorIs(t, err, ErrNoFormatNegotiated)
	assert.Equal(t, uint64(1), c.Seen(), "processing stops at the fatal frame")
}

func TestCaptureBranch_RunDrainsOnCancel(t *testing.T) {
	c, _ := newTestCapture(&spyWriter{}, WriteFailureFatal, nil)
	pad := newPad(BranchCapture, QueueConfig{Size: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, pad) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	var released atomic.Int32
	pad.frames <- rgbFrame(1, 2, 2, color.RGBA{}, func() { released.Add(1) })
	pad.drain()
	assert.Equal(t, int32(1), released.Load())
}
