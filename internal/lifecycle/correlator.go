package lifecycle

import (
	"fmt"
	"time"

	"github.com/mrzor/blkiolat/internal/blktrace"
	"github.com/mrzor/blkiolat/internal/device"
)

// Phases reported to Observer.NegativeDuration.
const (
	PhaseQueue   = "queue"
	PhaseService = "service"
)

// Key identifies a request across its lifecycle events.
type Key struct {
	Device device.ID
	Sector uint64
	Length uint64
}

// Latency describes one completed request. Durations are in seconds.
type Latency struct {
	Device     device.ID
	DevicePath string
	Direction  blktrace.Direction
	Sector     uint64
	Length     uint64

	Inserted  float64
	Issued    float64
	Completed float64

	Queue   float64
	Service float64
	Total   float64
}

// Observer receives data-quality signals from the correlator.
type Observer interface {
	PendingRequests(n int)
	UnmatchedCompletion()
	StaleDropped(n int)
	NegativeDuration(phase string)
}

type nopObserver struct{}

func (nopObserver) PendingRequests(int)     {}
func (nopObserver) UnmatchedCompletion()    {}
func (nopObserver) StaleDropped(int)        {}
func (nopObserver) NegativeDuration(string) {}

// Option configures a Correlator.
type Option func(*Correlator)

// WithObserver sets the observer for data-quality signals.
func WithObserver(o Observer) Option {
	return func(c *Correlator) {
		c.observer = o
	}
}

// WithStaleAfter drops pending entries older than d, measured in trace time.
// Zero disables the sweep.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Correlator) {
		c.staleAfter = d.Seconds()
	}
}

// Correlator matches insert, issue and complete events. It is not safe for
// concurrent use; the trace reader owns it.
type Correlator struct {
	resolver device.Resolver
	observer Observer

	insertions map[Key]float64 // key -> insert timestamp
	issuances  map[Key]float64 // key -> issue timestamp

	staleAfter float64 // seconds, 0 = never
	newest     float64 // newest timestamp seen
	lastSweep  float64
}

// New creates a Correlator. Device paths are resolved through resolver, which
// is wrapped in a cache.
func New(resolver device.Resolver, opts ...Option) *Correlator {
	c := &Correlator{
		resolver:   device.NewCachedResolver(resolver),
		observer:   nopObserver{},
		insertions: make(map[Key]float64),
		issuances:  make(map[Key]float64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle feeds one event. It returns the request latency and true when ev
// completes a request whose insert and issue were both seen. The error is
// non-nil only if the device path cannot be resolved; every event resolves its
// device, so an unknown device fails on its first appearance and leaves the
// pending state untouched.
func (c *Correlator) Handle(ev blktrace.Event) (Latency, bool, error) {
	key := Key{Device: ev.Device, Sector: ev.Sector, Length: ev.Length}

	path, err := c.resolver.Resolve(ev.Device)
	if err != nil {
		return Latency{}, false, fmt.Errorf("resolving device %s: %w", ev.Device, err)
	}

	if ev.Timestamp > c.newest {
		c.newest = ev.Timestamp
	}
	c.maybeSweep()

	switch ev.Kind {
	case blktrace.Insert:
		c.insertions[key] = ev.Timestamp
		c.observer.PendingRequests(c.pending())
		return Latency{}, false, nil
	case blktrace.Issue:
		c.issuances[key] = ev.Timestamp
		c.observer.PendingRequests(c.pending())
		return Latency{}, false, nil
	case blktrace.Complete:
		return c.complete(key, path, ev)
	default:
		return Latency{}, false, nil
	}
}

func (c *Correlator) complete(key Key, path string, ev blktrace.Event) (Latency, bool, error) {
	inserted, okInsert := c.insertions[key]
	issued, okIssue := c.issuances[key]
	if !okInsert || !okIssue {
		// Started before we were tracing.
		c.observer.UnmatchedCompletion()
		return Latency{}, false, nil
	}

	delete(c.insertions, key)
	delete(c.issuances, key)
	c.observer.PendingRequests(c.pending())

	queue := issued - inserted
	service := ev.Timestamp - issued
	if queue < 0 {
		c.observer.NegativeDuration(PhaseQueue)
	}
	if service < 0 {
		c.observer.NegativeDuration(PhaseService)
	}

	return Latency{
		Device:     ev.Device,
		DevicePath: path,
		Direction:  ev.Direction,
		Sector:     key.Sector,
		Length:     key.Length,
		Inserted:   inserted,
		Issued:     issued,
		Completed:  ev.Timestamp,
		Queue:      queue,
		Service:    service,
		Total:      queue + service,
	}, true, nil
}

// Pending returns the number of recorded inserts and issues awaiting
// completion.
func (c *Correlator) Pending() (insertions, issuances int) {
	return len(c.insertions), len(c.issuances)
}

func (c *Correlator) pending() int {
	return len(c.insertions) + len(c.issuances)
}

// maybeSweep drops stale entries at most every staleAfter/10 of trace time.
func (c *Correlator) maybeSweep() {
	if c.staleAfter <= 0 || c.newest-c.lastSweep < c.staleAfter/10 {
		return
	}
	c.lastSweep = c.newest

	dropped := sweep(c.insertions, c.newest-c.staleAfter) + sweep(c.issuances, c.newest-c.staleAfter)
	if dropped > 0 {
		c.observer.StaleDropped(dropped)
		c.observer.PendingRequests(c.pending())
	}
}

func sweep(entries map[Key]float64, cutoff float64) int {
	dropped := 0
	for key, ts := range entries {
		if ts < cutoff {
			delete(entries, key)
			dropped++
		}
	}
	return dropped
}
