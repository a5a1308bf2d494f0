// Package lifecycle correlates block request events into per-request
// latencies.
//
// The kernel emits three independent events per request: insert (queued),
// issue (sent to the device) and complete. They share no request id, so they
// are matched on (device, sector, sector count). That key can in principle be
// reused by two requests, but not within the short window between queueing
// and completion under normal workloads.
//
// Requests already in flight when tracing started complete without a recorded
// insert or issue; those completions are dropped. Requests that never
// complete (merged, requeued) leave pending entries behind, which are swept
// once they are older than the configured ceiling.
package lifecycle
