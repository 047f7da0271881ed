package snapshot

import "sync/atomic"

// CaptureGate is the latch between the command path and the capture branch.
//
// Arm is called from command sources, ConsumeIfArmed only from the capture
// branch's frame-arrival path. The read-and-clear is a single CompareAndSwap,
// so one arming fires at most one capture no matter how many Arm calls
// preceded it.
//
// An Arm landing while the capture branch is mid-capture on the previous
// arming may be absorbed by that capture. Callers confirm a capture through
// the output file and may re-issue the command.
type CaptureGate struct {
	armed atomic.Bool
}

// Arm requests a capture of the next frame. It never blocks or allocates.
// Returns true if the gate was disarmed before this call.
func (g *CaptureGate) Arm() bool {
	return !g.armed.Swap(true)
}

// ConsumeIfArmed atomically clears the gate and reports whether it was armed.
func (g *CaptureGate) ConsumeIfArmed() bool {
	return g.armed.CompareAndSwap(true, false)
}

// Armed reports whether a capture is pending.
func (g *CaptureGate) Armed() bool {
	return g.armed.Load()
}
