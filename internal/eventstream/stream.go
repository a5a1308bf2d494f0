// Package eventstream reads newline-delimited trace records from a pipe and
// hands each one to a LineHandler.
package eventstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// maxLineSize bounds a single trace record. trace_pipe lines are far shorter;
// anything longer is treated as a read error.
const maxLineSize = 1 << 20

// LineHandler consumes one trace record. A returned error is fatal and ends
// the stream.
type LineHandler interface {
	HandleLine(line string) error
}

// LineHandlerFunc adapts a function to LineHandler.
type LineHandlerFunc func(line string) error

// HandleLine calls f(line).
func (f LineHandlerFunc) HandleLine(line string) error {
	return f(line)
}

// Stream reads records from a reader and dispatches them to a handler.
type Stream struct {
	reader  io.ReadCloser
	handler LineHandler
	logger  log.Logger
}

// New creates a new Stream. The Stream owns reader and closes it when Run
// returns.
func New(reader io.ReadCloser, handler LineHandler, logger log.Logger) *Stream {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Stream{
		reader:  reader,
		handler: handler,
		logger:  log.With(logger, "component", "eventstream"),
	}
}

// Run blocks until the reader is exhausted, ctx is cancelled, or the handler
// fails. End of input and cancellation are not errors.
func (s *Stream) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	// Closing the reader is the only way to unblock a pending read on a pipe.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.reader.Close() //nolint:errcheck // unblocking the scanner
		case <-done:
			_ = s.reader.Close() //nolint:errcheck // reader is finished
		}
	}()

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines uint64
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines++
		if err := s.handler.HandleLine(line); err != nil {
			return fmt.Errorf("handling trace line %d: %w", lines, err)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
			level.Debug(s.logger).Log("msg", "trace stream closed", "lines", lines)
			return nil
		}
		return fmt.Errorf("reading trace stream: %w", err)
	}

	level.Info(s.logger).Log("msg", "trace stream ended", "lines", lines)
	return nil
}
