package gstreamer

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates socket or address failures on the receiver
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates depayload, decode or negotiation failures
	ErrCategoryCodec
	// ErrCategoryResource indicates sink or device failures (display unavailable, window closed)
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a bus error for logs and telemetry.
//
// go-gst's GError does not expose the error domain, so classification is
// based on the message and debug string.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

func classify(errMsg, debugStr string) ErrorCategory {
	combined := strings.ToLower(errMsg + " " + debugStr)

	// most specific first
	switch {
	case containsAny(combined, resourceKeywords):
		return ErrCategoryResource
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

var resourceKeywords = []string{
	"output window was closed",
	"could not open display",
	"cannot open display",
	"no display",
	"could not initialise",
	"could not initialize",
	"resource busy",
	"permission denied",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"format",
	"negotiation",
	"not negotiated",
	"caps",
	"h264",
	"depayload",
	"no decoder",
	"missing plugin",
}

var networkKeywords = []string{
	"socket",
	"bind",
	"address",
	"udp",
	"network",
	"unreachable",
	"timeout",
	"resolve",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
