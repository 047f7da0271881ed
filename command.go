package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode"
	"unicode/utf8"
)

// CaptureCommand is the command character that requests a snapshot.
// Matching is case-insensitive and only the first character of a line counts.
const CaptureCommand = 's'

// CommandSource turns operator input into gate arming requests.
//
// Dispatch is safe to call from many goroutines (stdin, MQTT, HTTP) at once;
// they all share the pipeline's single gate.
type CommandSource struct {
	gate     *CaptureGate
	log      *slog.Logger
	observer Observer
}

// NewCommandSource creates a command source that arms gate
func NewCommandSource(gate *CaptureGate, log *slog.Logger, observer Observer) *CommandSource {
	if log == nil {
		log = slog.Default()
	}
	return &CommandSource{
		gate:     gate,
		log:      log,
		observer: observerOrNop(observer),
	}
}

// Dispatch interprets one command line. Returns true if it was a capture
// request. Everything else, including an empty line, is ignored.
func (c *CommandSource) Dispatch(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	if r == utf8.RuneError || unicode.ToLower(r) != CaptureCommand {
		return false
	}

	armed := c.gate.Arm()
	c.observer.CaptureRequested()
	c.log.Info("command: capture requested", "newly_armed", armed)
	return true
}

// Run reads newline-delimited commands from r until end of input or ctx
// ends. End of input is not an error: the pipeline keeps running.
//
// Lines of any length are accepted. Only the first buffered chunk of a long
// line is dispatched; the rest of it is discarded.
//
// A blocked read on r is not interrupted by ctx; Run returns once the read
// completes.
func (c *CommandSource) Run(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReader(r)
	continued := false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.log.Debug("command: end of input, no further commands accepted")
				return nil
			}
			return fmt.Errorf("command: read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if !continued {
			c.Dispatch(string(chunk))
		}
		continued = isPrefix
	}
}
