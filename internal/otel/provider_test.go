package otel

import (
	"context"
	"testing"

	"github.com/mrzor/blkiolat/internal/config"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions(&config.OTELConfig{}), 3)
	assert.Len(t, exporterOptions(&config.OTELConfig{TracesEndpoint: "https://collector:4318/v1/traces"}), 2)
}

func TestInitProvider(t *testing.T) {
	cfg := &config.OTELConfig{
		ServiceName:        "blkiolat-test",
		ExporterEndpoint:   "127.0.0.1:1",
		ResourceAttributes: "env=test",
	}

	tp, err := InitProvider(context.Background(), cfg, "v0.0.0", log.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	span.End()

	// Nothing listens on the endpoint; shutdown must still return promptly
	// even if the flush fails.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = ShutdownProvider(ctx, tp)
}

func TestShutdownProvider_Nil(t *testing.T) {
	assert.NoError(t, ShutdownProvider(context.Background(), nil))
}
