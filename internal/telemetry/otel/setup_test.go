package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	for _, ep := range []string{"", "   "} {
		p, err := NewProviders(context.Background(), Options{Endpoint: ep, ServiceName: "portfolio-cms"})
		require.NoError(t, err)
		assert.NotNil(t, p.TracerProvider)
		assert.NotNil(t, p.MeterProvider)
		assert.NotNil(t, p.LoggerProvider)
		assert.NoError(t, p.Shutdown(context.Background()))
		assert.NoError(t, p.Shutdown(context.Background()))
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	_, err := NewProviders(context.Background(), Options{Endpoint: "://invalid", ServiceName: "x"})
	assert.Error(t, err)
}

func TestNewProviders_ValidEndpointDoesNotDial(t *testing.T) {
	// OTLP gRPC exporters connect lazily, so construction succeeds without a collector.
	p, err := NewProviders(context.Background(), Options{Endpoint: "localhost:4317", ServiceName: "portfolio-cms"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		target   string
		insecure bool
		wantErr  bool
	}{
		{"http://localhost:4317", "localhost:4317", true, false},
		{"https://collector:4317", "collector:4317", false, false},
		{"localhost:4317", "localhost:4317", true, false},
		{"http://localhost:4317/v1/traces", "localhost:4317", true, false},
		{"http://localhost:4317?param=value", "localhost:4317", true, false},
		{"://invalid", "", false, true},
		{"http://", "", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			target, insecure, err := ParseEndpoint(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, target)
			assert.Equal(t, tc.insecure, insecure)
		})
	}
}

func TestSetGlobal(t *testing.T) {
	oldTP := otel.GetTracerProvider()
	oldMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	})

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	p := &Providers{TracerProvider: tp}
	p.SetGlobal()

	assert.Same(t, tp, otel.GetTracerProvider())
	assert.Equal(t, oldMP, otel.GetMeterProvider())

	(&Providers{}).SetGlobal()
}
