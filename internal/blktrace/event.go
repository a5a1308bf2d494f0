package blktrace

import (
	"github.com/mrzor/blkiolat/internal/device"
)

// Kind is the request lifecycle phase an event reports.
type Kind uint8

// Lifecycle phases, in kernel emission order.
const (
	Insert Kind = iota + 1
	Issue
	Complete
)

// Tracepoint names.
const (
	TracepointInsert   = "block_rq_insert"
	TracepointIssue    = "block_rq_issue"
	TracepointComplete = "block_rq_complete"
)

// Tracepoints lists the tracepoints this package understands.
var Tracepoints = []string{TracepointInsert, TracepointIssue, TracepointComplete}

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Issue:
		return "issue"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Direction is the data direction of a request.
type Direction uint8

// Directions. Requests that neither read nor write (flushes, discards) are
// not represented.
const (
	Read Direction = iota + 1
	Write
)

// String returns the value used for the optype metric label.
func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// Event is one parsed tracepoint record.
type Event struct {
	Kind      Kind
	Device    device.ID
	Direction Direction
	Sector    uint64
	Length    uint64 // in sectors
	Bytes     uint64 // request size; zero on Complete
	Timestamp float64
}
