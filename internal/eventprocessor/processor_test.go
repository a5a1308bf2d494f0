package eventprocessor

import (
	"errors"
	"testing"

	"github.com/mrzor/blkiolat/internal/blktrace"
	"github.com/mrzor/blkiolat/internal/device"
	"github.com/mrzor/blkiolat/internal/lifecycle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver map[device.ID]string

func (r staticResolver) Resolve(id device.ID) (string, error) {
	if p, ok := r[id]; ok {
		return p, nil
	}
	return "", device.ErrUnknownDevice
}

type latencies []lifecycle.Latency

func (l *latencies) HandleLatency(lat lifecycle.Latency) {
	*l = append(*l, lat)
}

type skipCounts map[string]int

func (s skipCounts) LineSkipped(reason string) {
	s[reason]++
}

type denyPaths map[string]bool

func (d denyPaths) Allow(_ device.ID, path string) bool {
	return !d[path]
}

var (
	sdaInsert   = "kworker/u8:0-123 [002] .... 10.000000: block_rq_insert: 8,0 R 4096 () 1024 + 8 [kworker]"
	sdaIssue    = "kworker/2:1H-271 [002] d..1. 10.250000: block_rq_issue: 8,0 R 4096 () 1024 + 8 [kworker/2:1H]"
	sdaComplete = "<idle>-0 [000] d.h.. 11.000000: block_rq_complete: 8,0 R () 1024 + 8 [0]"
)

func newTestProcessor(resolver device.Resolver, filter DeviceFilter) (*Processor, *latencies, skipCounts) {
	got := &latencies{}
	skips := skipCounts{}
	p := NewProcessor(lifecycle.New(resolver), filter, skips, nil, got)
	return p, got, skips
}

func TestHandleLine_RoundTrip(t *testing.T) {
	p, got, skips := newTestProcessor(staticResolver{{Major: 8}: "/dev/sda"}, nil)

	for _, line := range []string{sdaInsert, sdaIssue, sdaComplete} {
		require.NoError(t, p.HandleLine(line))
	}

	require.Len(t, *got, 1)
	lat := (*got)[0]
	assert.Equal(t, "/dev/sda", lat.DevicePath)
	assert.Equal(t, blktrace.Read, lat.Direction)
	assert.InDelta(t, 0.25, lat.Queue, 1e-9)
	assert.InDelta(t, 0.75, lat.Service, 1e-9)
	assert.InDelta(t, 1.0, lat.Total, 1e-9)
	assert.Empty(t, skips)
}

func TestHandleLine_MultipleHandlers(t *testing.T) {
	first, second := &latencies{}, &latencies{}
	p := NewProcessor(lifecycle.New(staticResolver{{Major: 8}: "/dev/sda"}), nil, nil, nil, first, second)

	for _, line := range []string{sdaInsert, sdaIssue, sdaComplete} {
		require.NoError(t, p.HandleLine(line))
	}

	assert.Len(t, *first, 1)
	assert.Len(t, *second, 1)
}

func TestHandleLine_Skips(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason string
	}{
		{
			name:   "other tracepoint",
			line:   "bash-1 [000] .... 1.0: sched_switch: prev_comm=bash",
			reason: ReasonIgnored,
		},
		{
			name:   "flush request",
			line:   "kworker-1 [000] .... 1.0: block_rq_issue: 8,0 FF 0 () 0 + 0 [kworker]",
			reason: ReasonIgnored,
		},
		{
			name:   "null device",
			line:   "kworker-1 [000] .... 1.0: block_rq_issue: 0,0 W 4096 () 0 + 8 [kworker]",
			reason: ReasonIgnored,
		},
		{
			name:   "truncated",
			line:   "kworker-1 [000] .... 1.0: block_rq_issue: 8,0",
			reason: ReasonMalformed,
		},
		{
			name:   "no cpu column",
			line:   "CPU:2 [LOST 12 EVENTS]",
			reason: ReasonMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, got, skips := newTestProcessor(staticResolver{}, nil)
			require.NoError(t, p.HandleLine(tt.line))
			assert.Empty(t, *got)
			assert.Equal(t, skipCounts{tt.reason: 1}, skips)
		})
	}
}

func TestHandleLine_InvalidDeviceIsFatal(t *testing.T) {
	p, _, _ := newTestProcessor(staticResolver{}, nil)

	err := p.HandleLine("kworker-1 [000] .... 1.0: block_rq_issue: sda W 4096 () 0 + 8 [kworker]")
	require.Error(t, err)
	assert.ErrorIs(t, err, blktrace.ErrInvalidDevice)
}

func TestHandleLine_UnresolvableDeviceIsFatal(t *testing.T) {
	p, got, _ := newTestProcessor(staticResolver{}, nil)

	// The first event for the device is enough.
	err := p.HandleLine(sdaInsert)
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrUnknownDevice))
	assert.Empty(t, *got)
}

func TestHandleLine_UnmatchedCompletion(t *testing.T) {
	p, got, skips := newTestProcessor(staticResolver{{Major: 8}: "/dev/sda"}, nil)

	require.NoError(t, p.HandleLine(sdaIssue))
	require.NoError(t, p.HandleLine(sdaComplete))

	assert.Empty(t, *got)
	assert.Empty(t, skips)
}

func TestHandleLine_Filter(t *testing.T) {
	resolver := staticResolver{{Major: 8}: "/dev/sda", {Major: 8, Minor: 16}: "/dev/sdb"}
	p, got, _ := newTestProcessor(resolver, denyPaths{"/dev/sda": true})

	for _, line := range []string{sdaInsert, sdaIssue, sdaComplete} {
		require.NoError(t, p.HandleLine(line))
	}
	assert.Empty(t, *got)

	for _, line := range []string{
		"dd-1 [000] .... 20.0: block_rq_insert: 8,16 W 4096 () 8 + 8 [dd]",
		"dd-1 [000] .... 20.5: block_rq_issue: 8,16 W 4096 () 8 + 8 [dd]",
		"<idle>-0 [000] .... 21.0: block_rq_complete: 8,16 W () 8 + 8 [0]",
	} {
		require.NoError(t, p.HandleLine(line))
	}
	require.Len(t, *got, 1)
	assert.Equal(t, "/dev/sdb", (*got)[0].DevicePath)
	assert.Equal(t, blktrace.Write, (*got)[0].Direction)
}
