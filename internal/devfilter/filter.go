// Package devfilter selects which block devices are recorded, using a
// boolean expr-lang expression evaluated once per device.
//
// The expression sees:
//
//	path   string  resolved device path, e.g. "/dev/vg0/root"
//	major  int     device major number
//	minor  int     device minor number
//
// Examples:
//
//	not hasPrefix(path, "/dev/loop")
//	major == 259 || path matches "^/dev/sd[a-c]$"
package devfilter

import (
	"fmt"

	"github.com/mrzor/blkiolat/internal/device"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

type env struct {
	Path  string `expr:"path"`
	Major int    `expr:"major"`
	Minor int    `expr:"minor"`
}

// Filter caches the decision for every device it has seen. It is not safe
// for concurrent use.
type Filter struct {
	expression string
	program    *vm.Program
	decisions  map[device.ID]bool
	logger     log.Logger
}

// New compiles expression. An empty expression allows every device.
func New(expression string, logger log.Logger) (*Filter, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	f := &Filter{
		expression: expression,
		decisions:  make(map[device.ID]bool),
		logger:     log.With(logger, "component", "devfilter"),
	}
	if expression == "" {
		return f, nil
	}

	program, err := expr.Compile(expression, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling device filter %q: %w", expression, err)
	}
	f.program = program
	return f, nil
}

// Allow reports whether requests on the device should be recorded.
// Evaluation errors allow the device.
func (f *Filter) Allow(id device.ID, path string) bool {
	if f == nil || f.program == nil {
		return true
	}
	if allowed, ok := f.decisions[id]; ok {
		return allowed
	}

	allowed := f.evaluate(id, path)
	f.decisions[id] = allowed
	return allowed
}

func (f *Filter) evaluate(id device.ID, path string) bool {
	out, err := expr.Run(f.program, env{
		Path:  path,
		Major: int(id.Major),
		Minor: int(id.Minor),
	})
	if err != nil {
		level.Warn(f.logger).Log("msg", "device filter failed, recording device", "device", path, "id", id, "err", err)
		return true
	}

	allowed, ok := out.(bool)
	if !ok {
		level.Warn(f.logger).Log("msg", "device filter returned non-boolean, recording device", "device", path, "value", fmt.Sprint(out))
		return true
	}
	if !allowed {
		level.Info(f.logger).Log("msg", "device excluded by filter", "device", path, "id", id)
	}
	return allowed
}
