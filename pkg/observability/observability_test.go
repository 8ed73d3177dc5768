package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "micdta-gateway", config.ServiceName)
	require.Equal(t, "testing", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Recording against a disabled provider must not panic.
	ctx, done := p.TrackSubmission(context.Background(), "RegistrarMicDta",
		attribute.String("voyage.id", "VOY-001"),
	)
	require.NotNil(t, ctx)
	done(errors.New("boom"))

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestDisabledProviderFallbacks(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}
