package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =nokey,tenant=vault ")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "vault"}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", " collector:4318 ")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x=1")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_SDK_DISABLED", "")

	cfg := FromEnv("vaultd", "dev")
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.Equal(t, map[string]string{"x": "1"}, cfg.Headers)
	require.False(t, cfg.Insecure)
	require.True(t, cfg.Traces)
	require.True(t, cfg.Metrics)

	t.Setenv("OTEL_SDK_DISABLED", "true")
	cfg = FromEnv("vaultd", "dev")
	require.False(t, cfg.Traces)
	require.False(t, cfg.Metrics)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}
