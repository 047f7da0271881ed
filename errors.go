package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrTopology is matched by every *TopologyError.
	ErrTopology = errors.New("topology error")

	// ErrNoFormatNegotiated is returned when a capture is attempted on a frame
	// without usable geometry. Always fatal.
	ErrNoFormatNegotiated = errors.New("no format negotiated")

	// ErrEncodeOrWrite is returned when the image could not be encoded or
	// written to disk.
	ErrEncodeOrWrite = errors.New("image encode or write failed")

	// ErrAlreadyAttached is returned by Router.Attach when pads already exist.
	ErrAlreadyAttached = errors.New("router already attached")

	// ErrNotAttached is returned by Router.Push when no pads exist.
	ErrNotAttached = errors.New("router not attached")

	// ErrInvalidState is returned when a lifecycle transition is not allowed
	// from the current state.
	ErrInvalidState = errors.New("invalid pipeline state")
)

// TopologyError reports a stage that could not be created or linked.
type TopologyError struct {
	// Stage names the failing stage or link (e.g., "renderer", "router")
	Stage string
	Err   error
}

func (e *TopologyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("snapshot: topology: %s: stage unavailable", e.Stage)
	}
	return fmt.Sprintf("snapshot: topology: %s: %v", e.Stage, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTopology) true for any TopologyError.
func (e *TopologyError) Is(target error) bool {
	return target == ErrTopology
}

// ErrorCategory classifies pipeline errors for logs and metrics
type ErrorCategory int

const (
	// ErrCategoryTopology indicates a build-time stage or link failure
	ErrCategoryTopology ErrorCategory = iota
	// ErrCategoryFormat indicates missing or unusable format metadata
	ErrCategoryFormat
	// ErrCategoryWrite indicates an image encode or filesystem failure
	ErrCategoryWrite
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryTopology:
		return "topology"
	case ErrCategoryFormat:
		return "format"
	case ErrCategoryWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Category classifies err against the sentinel errors of this package.
func Category(err error) ErrorCategory {
	switch {
	case errors.Is(err, ErrTopology):
		return ErrCategoryTopology
	case errors.Is(err, ErrNoFormatNegotiated):
		return ErrCategoryFormat
	case errors.Is(err, ErrEncodeOrWrite):
		return ErrCategoryWrite
	default:
		return ErrCategoryUnknown
	}
}
