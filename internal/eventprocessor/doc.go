// Package eventprocessor turns raw trace_pipe lines into latency
// observations.
//
// Pipeline:
//
//	┌─────────────────────────────────────────┐
//	│      trace_pipe lines (eventstream)     │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   blktrace.ParseLine                    │
//	│   - ignored records: counted            │
//	│   - malformed records: logged, counted  │
//	│   - invalid device field: fatal         │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   lifecycle.Correlator                  │
//	│   - insert/issue bookkeeping            │
//	│   - completion produces a Latency       │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   DeviceFilter (optional)               │
//	└─────────────────┬───────────────────────┘
//	                  │
//	                  ├──→ metrics.Aggregator
//	                  └──→ output.SpanExporter (optional)
//
// All calls happen on the reader goroutine; nothing here is synchronised.
package eventprocessor
