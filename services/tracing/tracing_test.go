package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/trezcool/wastewise/core"
)

func TestInit_disabled(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), &core.Config{}, &buf)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestInit_exportsSpans(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	var buf bytes.Buffer
	conf := &core.Config{AppName: "wastewise", Env: "TEST", Tracing: core.TracingConfig{Enabled: true}}
	shutdown, err := Init(context.Background(), conf, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "certification.UpdateStage")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "certification.UpdateStage")
	assert.Contains(t, buf.String(), "wastewise")
}
