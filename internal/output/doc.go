// Package output exports individual slow block requests as OpenTelemetry
// spans.
//
// SpanExporter is a pure formatting layer: it receives completed request
// latencies from the event processor and emits one "block_rq" span per slow
// request, with "queue" and "service" children covering the two phases.
//
// Trace timestamps are converted to wall-clock time by timesync.
package output
