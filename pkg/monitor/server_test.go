package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/allenv5/sviamp/pkg/export"
	"github.com/allenv5/sviamp/pkg/svi"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_StatusBeforeFirstReport(t *testing.T) {
	s := NewServer(zerolog.Nop())
	rec := get(t, s.Handler(), "/api/v1/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StatusAndMetrics(t *testing.T) {
	s := NewServer(zerolog.Nop())
	s.Observe(svi.Progress{
		RunID:      "run-1",
		Iteration:  20,
		Heldout:    -0.42,
		MaxHeldout: -0.40,
		Verdict:    "continue",
		Edges:      128,
		Hits:       &export.Hits{At10: 0.5, At50: 0.75, At100: 1, Queries: 4},
	})
	s.Observe(svi.Progress{RunID: "run-1", Iteration: 30, Heldout: -0.41, Verdict: "plateau", Edges: 96})

	rec := get(t, s.Handler(), "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Success bool   `json:"success"`
		Data    Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 30, body.Data.Iteration)
	assert.Equal(t, "plateau", body.Data.Verdict)
	assert.Equal(t, 0.5, body.Data.Hits10, "hits carry over between precision reports")

	rec = get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()
	assert.Contains(t, metrics, "sviamp_iteration 30")
	assert.Contains(t, metrics, `sviamp_pair_likelihood{set="heldout"} -0.41`)
	assert.Contains(t, metrics, `sviamp_precision_hits{at="50"} 0.75`)
	assert.Contains(t, metrics, `sviamp_reports_total{verdict="plateau"} 1`)
	assert.Contains(t, metrics, "go_goroutines")
}

func TestServer_UnknownRoute(t *testing.T) {
	s := NewServer(zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), "/api/v1/jobs").Code)
}

func TestServer_StartShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewServer(zerolog.Nop())
	require.NoError(t, s.Start("127.0.0.1:0"))
	require.NotEmpty(t, s.Addr())

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + s.Addr() + "/api/v1/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `"success":true`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	s := NewServer(zerolog.Nop())
	assert.NoError(t, s.Shutdown(context.Background()))
	assert.Empty(t, s.Addr())
}
