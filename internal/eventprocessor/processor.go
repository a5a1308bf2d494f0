package eventprocessor

import (
	"errors"
	"fmt"

	"github.com/mrzor/blkiolat/internal/blktrace"
	"github.com/mrzor/blkiolat/internal/device"
	"github.com/mrzor/blkiolat/internal/lifecycle"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Skip reasons reported to the SkipCounter.
const (
	ReasonIgnored   = "ignored"
	ReasonMalformed = "malformed"
)

// Correlator matches lifecycle events into request latencies.
type Correlator interface {
	Handle(ev blktrace.Event) (lifecycle.Latency, bool, error)
}

// LatencyHandler receives every completed, allowed request.
type LatencyHandler interface {
	HandleLatency(l lifecycle.Latency)
}

// DeviceFilter decides whether a device's requests are recorded.
type DeviceFilter interface {
	Allow(id device.ID, path string) bool
}

// SkipCounter is told about every line that did not yield an event.
type SkipCounter interface {
	LineSkipped(reason string)
}

// Processor implements eventstream.LineHandler.
type Processor struct {
	correlator Correlator
	filter     DeviceFilter
	skips      SkipCounter
	handlers   []LatencyHandler
	logger     log.Logger
}

// NewProcessor creates a new processor. filter may be nil to record every
// device.
func NewProcessor(
	correlator Correlator,
	filter DeviceFilter,
	skips SkipCounter,
	logger log.Logger,
	handlers ...LatencyHandler,
) *Processor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Processor{
		correlator: correlator,
		filter:     filter,
		skips:      skips,
		handlers:   handlers,
		logger:     log.With(logger, "component", "eventprocessor"),
	}
}

// HandleLine processes one trace record. Only unrecoverable conditions are
// returned: a device field that cannot be decoded or a device that cannot be
// resolved.
func (p *Processor) HandleLine(line string) error {
	ev, err := blktrace.ParseLine(line)
	switch {
	case err == nil:
	case errors.Is(err, blktrace.ErrIgnored):
		p.skip(ReasonIgnored)
		return nil
	case errors.Is(err, blktrace.ErrMalformed):
		level.Warn(p.logger).Log("msg", "skipping malformed trace line", "line", line, "err", err)
		p.skip(ReasonMalformed)
		return nil
	default:
		return fmt.Errorf("parsing %q: %w", line, err)
	}

	lat, ok, err := p.correlator.Handle(ev)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if p.filter != nil && !p.filter.Allow(lat.Device, lat.DevicePath) {
		return nil
	}

	for _, h := range p.handlers {
		h.HandleLatency(lat)
	}
	return nil
}

func (p *Processor) skip(reason string) {
	if p.skips != nil {
		p.skips.LineSkipped(reason)
	}
}
