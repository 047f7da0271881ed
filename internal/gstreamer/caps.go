package gstreamer

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
)

// rtpCapsString builds the caps udpsrc advertises for the inbound RTP stream
func rtpCapsString(cfg SourceConfig) string {
	return fmt.Sprintf(
		"application/x-rtp,media=(string)%s,clock-rate=(int)%d,encoding-name=(string)%s,payload=(int)%d",
		cfg.Media, cfg.ClockRate, cfg.EncodingName, cfg.Payload,
	)
}

// rawCapsString builds packed RGB caps for the given format
func rawCapsString(format *snapshot.FrameFormat) string {
	return fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=0/1",
		format.Width, format.Height,
	)
}

// rgbCaps is the fixed output format of the ingest converter
const rgbCaps = "video/x-raw,format=RGB"

// formatFromCaps reads the negotiated format from sample caps.
//
// Returns nil when no caps were negotiated. Missing width or height are
// left at zero so the capture branch can report them.
func formatFromCaps(caps *gst.Caps) *snapshot.FrameFormat {
	if caps == nil || caps.GetSize() == 0 {
		return nil
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return nil
	}

	format := &snapshot.FrameFormat{}
	if val, err := structure.GetValue("format"); err == nil {
		if s, ok := val.(string); ok {
			format.PixelFormat = s
		}
	}
	if val, err := structure.GetValue("width"); err == nil {
		if w, ok := val.(int); ok {
			format.Width = w
		}
	}
	if val, err := structure.GetValue("height"); err == nil {
		if h, ok := val.(int); ok {
			format.Height = h
		}
	}
	return format
}

// sameGeometry reports whether two formats describe identical caps
func sameGeometry(a, b *snapshot.FrameFormat) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Width == b.Width && a.Height == b.Height
}
