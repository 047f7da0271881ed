package gstreamer

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
)

// CallbackContext holds state needed by the appsink callback
type CallbackContext struct {
	// Emit delivers a frame; returns false if it was dropped
	Emit          func(*snapshot.Frame) bool
	FrameCounter  *atomic.Uint64
	BytesRead     *atomic.Uint64
	FramesDropped *atomic.Uint64
	SourceStream  string
	Log           *slog.Logger
}

// OnNewSample is called by GStreamer on the streaming thread when a decoded
// frame reaches the appsink.
//
// The buffer is copied (GStreamer reuses it) and wrapped with the format
// read from this sample's own caps, so a mid-stream renegotiation is
// reflected on the very next frame.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// a single bad sample should not kill the stream
		ctx.Log.Warn("gstreamer: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		ctx.Log.Warn("gstreamer: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		ctx.Log.Warn("gstreamer: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := ctx.FrameCounter.Add(1)
	ctx.BytesRead.Add(uint64(len(frameData)))

	frame := snapshot.NewFrame(seq, frameData, formatFromCaps(sample.GetCaps()), nil)
	frame.SourceStream = ctx.SourceStream
	frame.TraceID = uuid.New().String()

	if !ctx.Emit(frame) {
		ctx.FramesDropped.Add(1)
		ctx.Log.Debug("gstreamer: dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}
