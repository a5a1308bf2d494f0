package output

import (
	"context"
	"time"

	"github.com/mrzor/blkiolat/internal/lifecycle"
	"github.com/mrzor/blkiolat/internal/timesync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and attribute names.
const (
	SpanRequest = "block_rq"
	SpanQueue   = "queue"
	SpanService = "service"

	AttrDevice      = "blkio.device"
	AttrDeviceID    = "blkio.device_id"
	AttrOpType      = "blkio.optype"
	AttrSector      = "blkio.sector"
	AttrSectors     = "blkio.sectors"
	AttrQueueTime   = "blkio.queue_time_seconds"
	AttrServiceTime = "blkio.disk_time_seconds"
)

// SpanExporter emits a span tree for every request at least as slow as its
// threshold.
type SpanExporter struct {
	tracer    trace.Tracer
	clock     *timesync.Converter
	threshold float64
}

// NewSpanExporter creates a new SpanExporter.
func NewSpanExporter(tracer trace.Tracer, clock *timesync.Converter, threshold time.Duration) *SpanExporter {
	return &SpanExporter{
		tracer:    tracer,
		clock:     clock,
		threshold: threshold.Seconds(),
	}
}

// HandleLatency exports l if its total latency reaches the threshold.
func (e *SpanExporter) HandleLatency(l lifecycle.Latency) {
	if l.Total < e.threshold {
		return
	}

	inserted := e.clock.WallClock(l.Inserted)
	issued := e.clock.WallClock(l.Issued)
	completed := e.clock.WallClock(l.Completed)

	//nolint:gosec // sector numbers fit in int64 on any real device
	ctx, span := e.tracer.Start(context.Background(), SpanRequest,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(inserted),
		trace.WithAttributes(
			attribute.String(AttrDevice, l.DevicePath),
			attribute.String(AttrDeviceID, l.Device.String()),
			attribute.String(AttrOpType, l.Direction.String()),
			attribute.Int64(AttrSector, int64(l.Sector)),
			attribute.Int64(AttrSectors, int64(l.Length)),
			attribute.Float64(AttrQueueTime, l.Queue),
			attribute.Float64(AttrServiceTime, l.Service),
		),
	)

	_, queue := e.tracer.Start(ctx, SpanQueue, trace.WithTimestamp(inserted))
	queue.End(trace.WithTimestamp(issued))

	_, service := e.tracer.Start(ctx, SpanService, trace.WithTimestamp(issued))
	service.End(trace.WithTimestamp(completed))

	if l.Queue < 0 || l.Service < 0 {
		span.SetStatus(codes.Error, "out of order lifecycle events")
	}
	span.End(trace.WithTimestamp(completed))
}
