package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/metrics"
)

type stubResults struct {
	results map[string]*domain.AnalysisResult
}

func (s *stubResults) GetResult(_ context.Context, id string) (*domain.AnalysisResult, error) {
	res, ok := s.results[id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "analysis result %s", id)
	}
	return res, nil
}

type stubSchedules struct {
	schedules []domain.AnalysisSchedule
	err       error
}

func (s *stubSchedules) ListSchedules(context.Context, string) ([]domain.AnalysisSchedule, error) {
	return s.schedules, s.err
}

func newTestServer(t *testing.T) (*Server, *stubResults, *stubSchedules) {
	t.Helper()
	results := &stubResults{results: map[string]*domain.AnalysisResult{}}
	schedules := &stubSchedules{}
	registry := prometheus.NewRegistry()
	metrics.New(registry)
	srv := NewServer(ServerConfig{}, results, schedules, registry, zerolog.Nop())
	return srv, results, schedules
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetResult(t *testing.T) {
	srv, results, _ := newTestServer(t)
	results.results["r-1"] = &domain.AnalysisResult{
		ID:     "r-1",
		Status: domain.StatusCompleted,
	}

	rec := get(t, srv, "/results/r-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	var res domain.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "r-1", res.ID)
	assert.Equal(t, domain.StatusCompleted, res.Status)
}

func TestGetResult_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/results/missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestListSchedules_EmptyIsJSONArray(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/schedules")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestListSchedules_StoreOutageMapsTo503(t *testing.T) {
	srv, _, schedules := newTestServer(t)
	schedules.err = domain.E(domain.KindStoreUnavailable, "connection refused")

	rec := get(t, srv, "/schedules")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "freightlens_result_cache_hits_total")
}

func TestUnknownRouteIsTaxonomyNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := get(t, srv, "/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["error"])
}
