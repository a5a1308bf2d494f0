package blktrace

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mrzor/blkiolat/internal/device"
)

// Parse outcomes other than success. Use errors.Is to classify.
var (
	// ErrIgnored marks records that are well formed but not of interest:
	// other block tracepoints, the null device, requests that neither read
	// nor write.
	ErrIgnored = errors.New("record ignored")

	// ErrMalformed marks records that could not be parsed. The record should
	// be reported and skipped.
	ErrMalformed = errors.New("malformed record")

	// ErrInvalidDevice marks a device field that is not "major,minor". The
	// kernel never prints that, so it indicates a format this parser does
	// not understand.
	ErrInvalidDevice = errors.New("invalid device field")
)

// ParseLine parses one trace_pipe record.
func ParseLine(line string) (Event, error) {
	fields := strings.Fields(line)

	cpu := -1
	for i, f := range fields {
		if strings.HasPrefix(f, "[") {
			cpu = i
			break
		}
	}
	if cpu < 0 {
		return Event{}, fmt.Errorf("%w: no cpu field", ErrMalformed)
	}
	fields = fields[cpu+1:]

	// Optional irq-flags column, e.g. "d.h1.". The timestamp is the first
	// field ending in a colon.
	if len(fields) > 0 && !strings.HasSuffix(fields[0], ":") {
		fields = fields[1:]
	}

	if len(fields) < 2 {
		return Event{}, fmt.Errorf("%w: %d fields after cpu", ErrMalformed, len(fields))
	}

	ts, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], ":"), 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, fields[0])
	}

	var kind Kind
	switch op := strings.TrimSuffix(fields[1], ":"); op {
	case TracepointInsert:
		kind = Insert
	case TracepointIssue:
		kind = Issue
	case TracepointComplete:
		kind = Complete
	default:
		return Event{}, fmt.Errorf("%w: op %s", ErrIgnored, op)
	}

	// timestamp, op, device, rwbs, and at least "sector + count"
	if len(fields) < 7 {
		return Event{}, fmt.Errorf("%w: %d fields after cpu", ErrMalformed, len(fields))
	}

	dev, err := device.ParseID(fields[2])
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	if dev.IsNull() {
		return Event{}, fmt.Errorf("%w: null device", ErrIgnored)
	}

	dir, ok := parseDirection(fields[3])
	if !ok {
		return Event{}, fmt.Errorf("%w: rwbs %s", ErrIgnored, fields[3])
	}

	ev := Event{
		Kind:      kind,
		Device:    dev,
		Direction: dir,
		Timestamp: ts,
	}

	rest := fields[4:]
	if kind != Complete {
		// insert and issue carry the request size before the command
		ev.Bytes, err = strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			return Event{}, fmt.Errorf("%w: size %q", ErrMalformed, rest[0])
		}
		rest = rest[1:]
	}

	plus := -1
	for i, f := range rest {
		if f == "+" {
			plus = i
			break
		}
	}
	if plus < 1 || plus+1 >= len(rest) {
		return Event{}, fmt.Errorf("%w: no sector range", ErrMalformed)
	}

	ev.Sector, err = strconv.ParseUint(rest[plus-1], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: sector %q", ErrMalformed, rest[plus-1])
	}
	ev.Length, err = strconv.ParseUint(rest[plus+1], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: sector count %q", ErrMalformed, rest[plus+1])
	}

	return ev, nil
}

// parseDirection classifies an rwbs string. R wins over W.
func parseDirection(rwbs string) (Direction, bool) {
	switch {
	case strings.Contains(rwbs, "R"):
		return Read, true
	case strings.Contains(rwbs, "W"):
		return Write, true
	default:
		return 0, false
	}
}
