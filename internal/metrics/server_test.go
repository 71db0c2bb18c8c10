package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	server := NewServer(9999, nil, zerolog.New(os.Stdout))

	assert.NotNil(t, server)
	assert.Equal(t, 9999, server.port)
	assert.Nil(t, server.server) // Server not started yet
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthFunc
		wantCode   int
		wantStatus string
	}{
		{"no health check", nil, http.StatusOK, "ok"},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"unhealthy", func(context.Context) error { return errors.New("breaker open") }, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(NewServer(0, tt.health, zerolog.Nop()).Handler())
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	RecordSubmitted("BTC/USDT", "buy")

	ts := httptest.NewServer(NewServer(0, nil, zerolog.Nop()).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cryptobroker_orders_submitted_total")
}

func TestServerStartShutdown(t *testing.T) {
	server := NewServer(0, nil, zerolog.Nop())
	require.NoError(t, server.Start())
	assert.NotNil(t, server.server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	assert.NoError(t, NewServer(0, nil, zerolog.Nop()).Shutdown(ctx), "shutdown before start is a no-op")
}
