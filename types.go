package snapshot

import (
	"fmt"
	"sync"
	"time"
)

// DefaultOutputPath is the single artifact written by the capture branch.
// Every capture overwrites it.
const DefaultOutputPath = "snapshot.jpg"

// FrameFormat is the negotiated format metadata attached to a decoded frame.
//
// A nil *FrameFormat means no format was negotiated. A zero Width or Height
// means the corresponding negotiation field is missing.
type FrameFormat struct {
	// PixelFormat as advertised by the decoder (e.g., "RGB")
	PixelFormat string
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Stride is the row size advertised upstream (0 if unknown)
	Stride int
}

// String returns a compact representation (e.g., "RGB 1280x720")
func (f *FrameFormat) String() string {
	if f == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s %dx%d", f.PixelFormat, f.Width, f.Height)
}

// Geometry describes how the pixel bytes of a captured frame are laid out.
// It is derived from each captured frame's own format, never cached.
type Geometry struct {
	Width  int
	Height int
	Stride int
}

// Frame is one decoded video frame travelling through a branch.
//
// Data is read-only for every consumer. Each branch receives its own
// handle and must call Release exactly once when it is done with it.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was decoded
	Timestamp time.Time
	// Data contains packed RGB bytes (rows may be padded)
	Data []byte
	// Format is the negotiated format metadata (nil if not negotiated)
	Format *FrameFormat
	// SourceStream identifies the stream
	SourceStream string
	// TraceID is a unique identifier for distributed tracing
	TraceID string

	releaseOnce sync.Once
	onRelease   func()
}

// NewFrame builds a frame handle. onRelease (optional) runs once on Release.
func NewFrame(seq uint64, data []byte, format *FrameFormat, onRelease func()) *Frame {
	return &Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Data:      data,
		Format:    format,
		onRelease: onRelease,
	}
}

// Release hands the frame back to the pipeline. Safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if f.onRelease != nil {
			f.onRelease()
		}
	})
}

// fork returns a new handle over the same read-only data, owned by one
// subscriber. onRelease is the subscriber's own release hook.
func (f *Frame) fork(onRelease func()) *Frame {
	return &Frame{
		Seq:          f.Seq,
		Timestamp:    f.Timestamp,
		Data:         f.Data,
		Format:       f.Format,
		SourceStream: f.SourceStream,
		TraceID:      f.TraceID,
		onRelease:    onRelease,
	}
}

// State is the lifecycle state of a Pipeline
type State int32

const (
	// StateStopped means no topology exists (initial and final state)
	StateStopped State = iota
	// StateBuilt means all stages exist and are linked but idle
	StateBuilt
	// StatePlaying means frames are flowing through both branches
	StatePlaying
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateBuilt:
		return "built"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// WriteFailurePolicy selects what the capture branch does when encoding or
// writing the image fails.
type WriteFailurePolicy int

const (
	// WriteFailureFatal stops the pipeline (default)
	WriteFailureFatal WriteFailurePolicy = iota
	// WriteFailureContinue logs the failure and keeps the pipeline running
	WriteFailureContinue
)

// String returns a human-readable policy name
func (p WriteFailurePolicy) String() string {
	switch p {
	case WriteFailureFatal:
		return "fatal"
	case WriteFailureContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// QueueConfig configures the bounded buffering stage in front of a branch
type QueueConfig struct {
	// Size is the queue capacity in frames (minimum 1)
	Size int
	// Leaky drops incoming frames when the queue is full instead of
	// blocking the router
	Leaky bool
}

// Stats contains current pipeline statistics
type Stats struct {
	// State is the current lifecycle state
	State State
	// FramesRouted is the number of frames the router delivered to both branches
	FramesRouted uint64
	// DisplayRendered is the number of frames rendered by the display branch
	DisplayRendered uint64
	// DisplayDropped is the number of frames dropped by the display queue
	DisplayDropped uint64
	// RenderErrors is the number of frames the render sink rejected
	RenderErrors uint64
	// CaptureSeen is the number of frames that reached the capture sink
	CaptureSeen uint64
	// CaptureDropped is the number of frames dropped by the capture queue
	CaptureDropped uint64
	// Captures is the number of images written
	Captures uint64
	// CaptureErrors is the number of failed capture attempts
	CaptureErrors uint64
	// Armed reports whether a capture is pending
	Armed bool
	// LastCaptureAt is when the most recent image was written
	LastCaptureAt time.Time
	// Uptime is the time since Start
	Uptime time.Duration
}
