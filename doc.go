/*
Package snapshot plays a live H.264 stream on screen and, on operator
command, writes exactly one decoded frame to a still image without
interrupting playback.

# Topology

	source ──► Router ─┬─► [queue] ─► DisplayBranch ─► Renderer
	                   └─► [queue] ─► CaptureBranch ─► ImageWriter ─► snapshot.jpg
	                                       ▲
	CommandSource (stdin / MQTT / HTTP) ─► CaptureGate

The Router replicates every decoded frame into two independently buffered
branches. The display branch renders every frame in order. The capture
branch inspects the CaptureGate on each frame: while it is disarmed the frame
is released untouched; when it is armed, the gate is cleared atomically and
the frame is encoded to JPEG at the fixed output path, overwriting any
previous snapshot.

# Usage

	p := snapshot.New(snapshot.DefaultConfig(), snapshot.Stages{
	    Source:   gstreamer.NewSourceFactory(srcCfg),
	    Renderer: gstreamer.NewRendererFactory(renderCfg),
	    Writer:   imagefile.NewWriterFactory(),
	})
	if err := p.Build(); err != nil {
	    return err // *TopologyError
	}
	if err := p.Start(ctx); err != nil {
	    return err
	}

	cmds := snapshot.NewCommandSource(p.Gate(), logger, nil)
	go cmds.Run(ctx, os.Stdin)

	return p.Run(ctx)

# Capture geometry

Width and height are read from each captured frame's own format and never
cached, so a mid-stream renegotiation is picked up by the next capture. The
row stride is recomputed as width*3 rounded up to a multiple of 4; the
stride advertised upstream is ignored.

# Errors

  - TopologyError (matches ErrTopology): a stage could not be created or
    linked during Build. The pipeline stays stopped.
  - ErrNoFormatNegotiated: a capture fired on a frame without usable width
    and height. Always fatal.
  - ErrEncodeOrWrite: the image could not be encoded or written. Fatal by
    default; WriteFailureContinue keeps the pipeline running.

Run returns the fatal error after stopping the pipeline.

# Thread Safety

CaptureGate.Arm and CommandSource.Dispatch may be called from any goroutine.
Pipeline methods are safe for concurrent use. The gate is the only state
shared between the command path and the media path.
*/
package snapshot
