package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerProviderStdout(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{
		ServiceName: "article-monitor-test",
		Exporter:    ExporterStdout,
		SampleRatio: 1,
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "crawl.run")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	require.Contains(t, buf.String(), "crawl.run")
	require.Contains(t, buf.String(), "article-monitor-test")
}

func TestInitTracerProviderUnknownExporter(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Config{Exporter: "zipkin", SampleRatio: 1})
	require.ErrorContains(t, err, "unknown trace exporter")
}
