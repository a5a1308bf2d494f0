// Package config assembles the exporter configuration from BLKIOLAT_*
// environment variables and command-line flags. Flags win over the
// environment, which wins over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/caarlos0/env/v11"
	"github.com/go-kit/log/level"
)

// Log levels accepted by --log.level.
var logLevels = []string{"debug", "info", "warn", "error"}

// Config holds the exporter settings.
type Config struct {
	// ListenAddress is where the metrics endpoint listens
	ListenAddress string `env:"BLKIOLAT_LISTEN_ADDRESS" envDefault:":9789"`
	// TracingRoot is the tracefs mount holding the instances directory
	TracingRoot string `env:"BLKIOLAT_TRACING_ROOT" envDefault:"/sys/kernel/debug/tracing"`
	// TracingInstance names the private ftrace instance
	TracingInstance string `env:"BLKIOLAT_TRACING_INSTANCE" envDefault:"blkiolat"`
	// StaleAfter drops pending requests older than this in trace time, 0 keeps them forever
	StaleAfter time.Duration `env:"BLKIOLAT_STALE_AFTER" envDefault:"0s"`
	// DeviceFilter is an optional expr-lang expression selecting devices
	DeviceFilter string `env:"BLKIOLAT_DEVICE_FILTER"`
	// SlowRequestThreshold enables span export for requests at least this slow
	SlowRequestThreshold time.Duration `env:"BLKIOLAT_SLOW_REQUEST_THRESHOLD" envDefault:"0s"`
	// DumpOnExit writes the final metrics to stdout on shutdown
	DumpOnExit bool `env:"BLKIOLAT_DUMP_ON_EXIT" envDefault:"false"`
	// LogLevel is one of debug, info, warn, error
	LogLevel string `env:"BLKIOLAT_LOG_LEVEL" envDefault:"info"`
}

// ParseArgs parses the environment and then args (args[0] is the program
// name). versionText is printed by --version.
func ParseArgs(args []string, versionText string) (*Config, error) {
	if len(args) == 0 {
		return nil, errors.New("no arguments provided")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	app := kingpin.New(filepath.Base(args[0]), "Exports block device I/O latency histograms from kernel tracepoints.")
	app.Version(versionText)
	app.HelpFlag.Short('h')

	app.Flag("web.listen-address", "Address to serve metrics on.").
		Default(cfg.ListenAddress).StringVar(&cfg.ListenAddress)
	app.Flag("tracing.root", "Tracefs directory containing instances/.").
		Default(cfg.TracingRoot).StringVar(&cfg.TracingRoot)
	app.Flag("tracing.instance", "Name of the ftrace instance to create.").
		Default(cfg.TracingInstance).StringVar(&cfg.TracingInstance)
	app.Flag("correlator.stale-after", "Forget requests pending for longer than this (trace time). 0 disables.").
		Default(cfg.StaleAfter.String()).DurationVar(&cfg.StaleAfter)
	app.Flag("device.filter", `Expression selecting recorded devices, e.g. 'not hasPrefix(path, "/dev/loop")'.`).
		Default(cfg.DeviceFilter).StringVar(&cfg.DeviceFilter)
	app.Flag("otel.slow-request-threshold", "Export an OTLP span for requests at least this slow. 0 disables.").
		Default(cfg.SlowRequestThreshold.String()).DurationVar(&cfg.SlowRequestThreshold)
	app.Flag("metrics.dump-on-exit", "Print the final metrics to stdout on shutdown.").
		Default(strconv.FormatBool(cfg.DumpOnExit)).BoolVar(&cfg.DumpOnExit)
	app.Flag("log.level", "Only log messages with the given severity or above: "+strings.Join(logLevels, ", ")+".").
		Default(cfg.LogLevel).StringVar(&cfg.LogLevel)

	if _, err := app.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option values that flag parsing cannot.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, errors.New("listen address must not be empty"))
	}
	if c.TracingRoot == "" {
		errs = append(errs, errors.New("tracing root must not be empty"))
	}
	if c.TracingInstance == "" || strings.ContainsAny(c.TracingInstance, "/") || c.TracingInstance == "." || c.TracingInstance == ".." {
		errs = append(errs, fmt.Errorf("invalid tracing instance name %q", c.TracingInstance))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("stale-after must not be negative, got %s", c.StaleAfter))
	}
	if c.SlowRequestThreshold < 0 {
		errs = append(errs, fmt.Errorf("slow request threshold must not be negative, got %s", c.SlowRequestThreshold))
	}
	if _, err := levelOption(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// LevelFilter returns the go-kit level filter matching LogLevel.
func (c *Config) LevelFilter() level.Option {
	opt, err := levelOption(c.LogLevel)
	if err != nil {
		return level.AllowInfo()
	}
	return opt
}

// SpansEnabled reports whether slow requests are exported as spans.
func (c *Config) SpansEnabled() bool {
	return c.SlowRequestThreshold > 0
}

func levelOption(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug(), nil
	case "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, fmt.Errorf("unknown log level %q (want one of %s)", name, strings.Join(logLevels, ", "))
	}
}
