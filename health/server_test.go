package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/postgres-to-es/etl"
	"github.com/withobsrvr/postgres-to-es/logging"
)

type staticStats struct {
	stats etl.Stats
}

func (s staticStats) Stats() etl.Stats {
	return s.stats
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthReportsIndexes(t *testing.T) {
	watermark := time.Now().Add(-90 * time.Second)
	stats := etl.Stats{
		Phase:     etl.PhaseIdle,
		Passes:    3,
		StartedAt: time.Now().Add(-time.Hour),
		Indexes: map[string]etl.IndexStats{
			"movies": {Watermark: watermark, LastPassAt: watermark, DocumentsPublished: 120, ChunksPublished: 5},
			"genres": {},
		},
	}
	s := NewServer(0, staticStats{stats}, nil, logging.NewNopLogger())

	rec := serve(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, int64(3), resp.Passes)
	assert.Equal(t, int64(120), resp.Indexes["movies"].DocumentsPublished)
	assert.GreaterOrEqual(t, resp.Indexes["movies"].LagSeconds, int64(89))
	assert.Empty(t, resp.Indexes["genres"].Watermark)
}

func TestHealthDegradedAndStopped(t *testing.T) {
	stats := etl.Stats{
		Phase:   etl.PhaseIdle,
		Indexes: map[string]etl.IndexStats{"persons": {Errors: 1, LastError: "bulk publish to persons: 1 of 2 documents rejected"}},
	}

	rec := serve(t, NewServer(0, staticStats{stats}, nil, logging.NewNopLogger()), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	stats.Phase = etl.PhaseStopped
	rec = serve(t, NewServer(0, staticStats{stats}, nil, logging.NewNopLogger()), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndexHealth(t *testing.T) {
	stats := etl.Stats{Indexes: map[string]etl.IndexStats{"genres": {DocumentsPublished: 7}}}
	s := NewServer(0, staticStats{stats}, nil, logging.NewNopLogger())

	rec := serve(t, s, "/health/genres")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"documents_published":7`)

	rec = serve(t, s, "/health/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("postgres_to_es_retries_total 0\n"))
	})
	s := NewServer(0, staticStats{etl.Stats{}}, metrics, logging.NewNopLogger())

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres_to_es_retries_total")

	noMetrics := NewServer(0, staticStats{etl.Stats{}}, nil, logging.NewNopLogger())
	assert.Equal(t, http.StatusNotFound, serve(t, noMetrics, "/metrics").Code)
}
