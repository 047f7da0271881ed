// Package gstreamer adapts GStreamer (via go-gst) to the snapshot pipeline:
// the UDP/RTP H.264 ingest Source and the on-screen Renderer.
package gstreamer

import (
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// checkElements fails fast when any element factory is not installed, so a
// missing plugin surfaces at build time instead of on the first frame.
func checkElements(names ...string) error {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	var missing []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if gst.Find(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("element(s) not available: %s (missing plugin?)", strings.Join(missing, ", "))
	}
	return nil
}
