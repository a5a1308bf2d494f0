// blkiolat exports Linux block I/O latency histograms, built from the
// block_rq_insert, block_rq_issue and block_rq_complete tracepoints, to
// Prometheus.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrzor/blkiolat/internal/blktrace"
	"github.com/mrzor/blkiolat/internal/config"
	"github.com/mrzor/blkiolat/internal/devfilter"
	"github.com/mrzor/blkiolat/internal/device"
	"github.com/mrzor/blkiolat/internal/eventprocessor"
	"github.com/mrzor/blkiolat/internal/eventstream"
	"github.com/mrzor/blkiolat/internal/lifecycle"
	"github.com/mrzor/blkiolat/internal/metrics"
	"github.com/mrzor/blkiolat/internal/otel"
	"github.com/mrzor/blkiolat/internal/output"
	"github.com/mrzor/blkiolat/internal/scrape"
	"github.com/mrzor/blkiolat/internal/timesync"
	"github.com/mrzor/blkiolat/internal/tracefs"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/version"
	otelglobal "go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const program = "blkiolat"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, cfg.LevelFilter())
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// setupOTEL initializes span export for slow requests. The returned exporter
// is nil when the feature is off.
func setupOTEL(ctx context.Context, cfg *config.Config, logger log.Logger) (*output.SpanExporter, func(), error) {
	if !cfg.SpansEnabled() {
		return nil, func() {}, nil
	}

	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}

	clock, err := timesync.NewConverter(timesync.DefaultStatPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading boot time: %w", err)
	}

	tp, err := otel.InitProvider(ctx, otelCfg, version.Version, logger)
	if err != nil {
		return nil, nil, err
	}

	otelglobal.SetErrorHandler(otelglobal.ErrorHandlerFunc(func(err error) {
		level.Warn(logger).Log("msg", "span export failed", "err", err)
	}))

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			level.Error(logger).Log("msg", "shutting down tracer provider", "err", err)
		}
	}

	level.Info(logger).Log("msg", "exporting slow requests as spans", "threshold", cfg.SlowRequestThreshold)
	return output.NewSpanExporter(tp.Tracer(program), clock, cfg.SlowRequestThreshold), cleanup, nil
}

// setupTracing creates the ftrace instance and opens its pipe. The cleanup
// function tears the instance down.
func setupTracing(cfg *config.Config, logger log.Logger) (*os.File, func(), error) {
	inst := tracefs.NewInstance(cfg.TracingRoot, cfg.TracingInstance, blktrace.Tracepoints, logger)
	if cfg.SpansEnabled() {
		// Span timestamps are anchored on boot time.
		inst.WithClock("mono")
	}

	if err := inst.Setup(); err != nil {
		if errors.Is(err, tracefs.ErrTracingUnavailable) {
			level.Error(logger).Log("msg", "is debugfs mounted and are we running as root?", "root", cfg.TracingRoot)
		}
		return nil, nil, err
	}

	teardown := func() {
		if err := inst.Teardown(); err != nil {
			level.Error(logger).Log("msg", "tearing down trace instance, remove it manually", "dir", inst.Dir(), "err", err)
		}
	}

	pipe, err := inst.OpenPipe()
	if err != nil {
		teardown()
		return nil, nil, err
	}

	level.Info(logger).Log("msg", "tracing block requests", "instance", inst.Dir())
	return pipe, teardown, nil
}

func run() error {
	cfg, err := config.ParseArgs(os.Args, version.Print(program))
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	level.Info(logger).Log("msg", "starting "+program, "version", version.Info())
	level.Info(logger).Log("msg", "build context", "context", version.BuildContext())

	filter, err := devfilter.New(cfg.DeviceFilter, logger)
	if err != nil {
		return err
	}

	// Bind first so a busy port fails before the kernel is touched.
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddress, err)
	}
	defer func() {
		_ = ln.Close() //nolint:errcheck // already closed by the server on the normal path
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spans, otelCleanup, err := setupOTEL(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer otelCleanup()

	pipe, teardown, err := setupTracing(cfg, logger)
	if err != nil {
		return err
	}
	defer teardown()

	aggregator := metrics.New()
	handlers := []eventprocessor.LatencyHandler{aggregator}
	if spans != nil {
		handlers = append(handlers, spans)
	}

	correlator := lifecycle.New(device.NewFSResolver(),
		lifecycle.WithObserver(aggregator),
		lifecycle.WithStaleAfter(cfg.StaleAfter),
	)
	processor := eventprocessor.NewProcessor(correlator, filter, aggregator, logger, handlers...)
	stream := eventstream.New(pipe, processor, logger)
	server := scrape.New(aggregator.Gatherer(), logger)

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	// Either task ending stops the other.
	g.Go(func() error {
		defer cancel()
		return stream.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return server.Serve(gctx, ln)
	})

	err = g.Wait()
	level.Info(logger).Log("msg", "shutting down")

	if cfg.DumpOnExit {
		if dumpErr := aggregator.WriteText(os.Stdout); dumpErr != nil {
			level.Error(logger).Log("msg", "dumping metrics", "err", dumpErr)
		}
	}
	return err
}
