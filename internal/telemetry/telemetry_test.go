package telemetry_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/mohammadpnp/pinventory/internal/telemetry"
)

func TestSetupDisabledInstallsPropagatorOnly(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestSetupExportsSpans(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:     true,
		ServiceName: "pinventory-test",
		Output:      &out,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "import.check")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "import.check")
	assert.Contains(t, out.String(), "pinventory-test")
}
