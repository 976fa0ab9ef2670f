package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(name string, fn func(ctx context.Context) error) HealthProbe {
	return ProbeFunc{ProbeName: name, Fn: fn}
}

func healthy(context.Context) error { return nil }

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.Config.Build.Version = "1.4.0"
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, body := runHealth(t)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.4.0", body.Version)
	assert.Empty(t, body.Components)
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, body := runHealth(t, probe("database", healthy), probe("ledger", healthy), probe("mail", healthy))
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Components, 3)
	assert.Equal(t, "healthy", body.Components["mail"].Status)
}

func TestHandleHealth_OneFailing(t *testing.T) {
	code, body := runHealth(t,
		probe("database", healthy),
		probe("mail", func(context.Context) error { return errors.New("mail delivery is not configured") }),
	)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "healthy", body.Components["database"].Status)
	assert.Equal(t, componentStatus{Status: "unhealthy", Message: "mail delivery is not configured"}, body.Components["mail"])
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	code, body := runHealth(t, probe("ledger", func(context.Context) error { panic("nil pool") }))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Components["ledger"].Message, "probe panicked")
}

func TestHandleHealth_Timeout(t *testing.T) {
	stuck := make(chan struct{})
	t.Cleanup(func() { close(stuck) })

	start := time.Now()
	code, body := runHealth(t,
		probe("database", healthy),
		probe("redis", func(context.Context) error { <-stuck; return nil }),
	)

	assert.Less(t, time.Since(start), healthCheckTimeout+time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "health check timed out", body.Components["redis"].Message)
	assert.Equal(t, "healthy", body.Components["database"].Status)
}
