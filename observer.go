package snapshot

import "time"

// Branch names used in logs and metric labels
const (
	BranchDisplay = "display"
	BranchCapture = "capture"
)

// Observer receives pipeline events for telemetry.
//
// Implementations must be safe for concurrent use and must not block: they
// are called from the frame-delivery path and the command path.
type Observer interface {
	FrameRouted()
	FrameDropped(branch string)
	FrameRendered()
	RenderFailed()
	CaptureRequested()
	CaptureWritten(elapsed time.Duration)
	CaptureFailed(category ErrorCategory)
}

type nopObserver struct{}

func (nopObserver) FrameRouted()                 {}
func (nopObserver) FrameDropped(string)          {}
func (nopObserver) FrameRendered()               {}
func (nopObserver) RenderFailed()                {}
func (nopObserver) CaptureRequested()            {}
func (nopObserver) CaptureWritten(time.Duration) {}
func (nopObserver) CaptureFailed(ErrorCategory)  {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
