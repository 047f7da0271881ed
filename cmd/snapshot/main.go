// Command snapshot plays an RTP/H.264 stream received over UDP and writes
// one decoded frame to snapshot.jpg whenever an operator asks for it.
//
// Usage:
//
//	snapshot [--config snapshot.yaml] [--uri udp://localhost:30120]
//
// Type "s" and Enter to take a snapshot. Ctrl+C stops playback.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := Root.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}
