// Package tracefs manages a private ftrace instance: enabling the block
// tracepoints, exposing trace_pipe, and tearing everything down on exit.
package tracefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// DefaultRoot is where debugfs exposes the tracing directory.
const DefaultRoot = "/sys/kernel/debug/tracing"

// ErrTracingUnavailable is returned when the tracing root has no instances
// directory, typically because debugfs is not mounted or we lack privileges.
var ErrTracingUnavailable = errors.New("ftrace instances unavailable")

// Instance is a named ftrace instance below <root>/instances.
type Instance struct {
	root   string
	name   string
	dir    string
	events []string
	clock  string
	logger log.Logger

	// enabled holds the enable files written during Setup, for rollback.
	enabled []string
	// created is set when Setup made the instance directory.
	created bool
}

// NewInstance returns an Instance for the given block tracepoints
// (e.g. "block_rq_insert"). Nothing touches the filesystem until Setup.
func NewInstance(root, name string, events []string, logger log.Logger) *Instance {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Instance{
		root:   root,
		name:   name,
		dir:    filepath.Join(root, "instances", name),
		events: events,
		logger: log.With(logger, "component", "tracefs", "instance", name),
	}
}

// Dir returns the instance directory.
func (i *Instance) Dir() string {
	return i.dir
}

// WithClock selects the instance trace clock (e.g. "mono") applied during
// Setup. The kernel default is kept otherwise.
func (i *Instance) WithClock(clock string) *Instance {
	i.clock = clock
	return i
}

// Setup creates the instance, enables every tracepoint and turns tracing on.
// On failure, whatever was already enabled is switched back off.
func (i *Instance) Setup() error {
	instances := filepath.Join(i.root, "instances")
	if st, err := os.Stat(instances); err != nil || !st.IsDir() {
		return fmt.Errorf("%w: %s", ErrTracingUnavailable, instances)
	}

	i.created = false
	if err := os.Mkdir(i.dir, 0o755); err != nil { //nolint:gosec // tracefs ignores the mode
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating instance %s: %w", i.dir, err)
		}
		level.Info(i.logger).Log("msg", "reusing existing trace instance", "dir", i.dir)
	} else {
		i.created = true
	}

	if i.clock != "" {
		if err := writeValue(filepath.Join(i.dir, "trace_clock"), i.clock); err != nil {
			return i.rollbackErrorf(fmt.Sprintf("selecting trace clock %s", i.clock), err)
		}
	}

	for _, ev := range i.events {
		enable := filepath.Join(i.dir, "events", "block", ev, "enable")
		if err := writeFlag(enable, true); err != nil {
			return i.rollbackErrorf(fmt.Sprintf("enabling tracepoint %s", ev), err)
		}
		i.enabled = append(i.enabled, enable)
	}

	if err := writeFlag(i.tracingOn(), true); err != nil {
		return i.rollbackErrorf("enabling tracing", err)
	}

	level.Debug(i.logger).Log("msg", "tracing enabled", "events", len(i.events))
	return nil
}

// rollbackErrorf disables the tracepoints enabled so far and wraps e.
func (i *Instance) rollbackErrorf(errstr string, e error) error {
	_ = writeFlag(i.tracingOn(), false) //nolint:errcheck // Best-effort cleanup in error path
	for _, enable := range i.enabled {
		_ = writeFlag(enable, false) //nolint:errcheck // Best-effort cleanup in error path
	}
	i.enabled = nil
	if i.created {
		_ = os.Remove(i.dir) //nolint:errcheck // Best-effort cleanup in error path
		i.created = false
	}
	return fmt.Errorf("%s: %w", errstr, e)
}

// OpenPipe opens the instance's trace_pipe. Reads block until events arrive.
func (i *Instance) OpenPipe() (*os.File, error) {
	f, err := os.Open(filepath.Join(i.dir, "trace_pipe"))
	if err != nil {
		return nil, fmt.Errorf("opening trace_pipe: %w", err)
	}
	return f, nil
}

// Teardown switches tracing off and removes the instance directory.
func (i *Instance) Teardown() error {
	var errs []error

	if err := writeFlag(i.tracingOn(), false); err != nil {
		errs = append(errs, fmt.Errorf("disabling tracing: %w", err))
	}

	for _, enable := range i.enabled {
		if err := writeFlag(enable, false); err != nil {
			errs = append(errs, fmt.Errorf("disabling %s: %w", enable, err))
		}
	}
	i.enabled = nil

	if err := os.Remove(i.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing instance %s: %w", i.dir, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during teardown: %w", errors.Join(errs...))
	}
	return nil
}

func (i *Instance) tracingOn() string {
	return filepath.Join(i.dir, "tracing_on")
}

func writeFlag(path string, on bool) error {
	if on {
		return writeValue(path, "1")
	}
	return writeValue(path, "0")
}

func writeValue(path, v string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(v); err != nil {
		_ = f.Close() //nolint:errcheck // write error takes precedence
		return err
	}
	return f.Close()
}
