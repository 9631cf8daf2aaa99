package tracer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/synadia-labs/workload-probe/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false, Exporter: "stdout"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := StartSpan(context.Background(), "probe.test", attribute.String("k", "v"))
	require.False(t, span.SpanContext().IsValid())
	Finish(span, "")
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "zipkin"})
	require.ErrorContains(t, err, "unsupported exporter")
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	t.Cleanup(func() {
		Setup(context.Background(), config.TracerConfig{})
	})

	_, span := StartSpan(context.Background(), "probe.test")
	require.True(t, span.SpanContext().IsValid())
	Finish(span, "boom")
	require.NoError(t, shutdown(context.Background()))
}
