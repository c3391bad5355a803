// internal/repository/analytics_test.go
package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T, handler http.HandlerFunc) (*AnalyticsRepository, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	return NewAnalyticsRepository(client, "workflow-analytics", 5*time.Second, logger.NewTestLogger(t)), server
}

func aggResponse(total, success, failure int64) string {
	return `{
		"hits": {"total": {"value": ` + jsonInt(total) + `}},
		"aggregations": {"status_counts": {"buckets": [
			{"key": "success", "doc_count": ` + jsonInt(success) + `},
			{"key": "failure", "doc_count": ` + jsonInt(failure) + `}
		]}}
	}`
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestLookupBuildsFilteredAggregation(t *testing.T) {
	var captured map[string]interface{}

	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) > 0 {
			_ = json.Unmarshal(body, &captured)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		_, _ = w.Write([]byte(aggResponse(2000, 1970, 30)))
	})

	slots := models.SlotSet{
		DomainName:     "customer",
		DateRangeStart: "2026-08-01",
		DateRangeEnd:   "2026-08-30",
	}
	report, err := repo.Lookup(context.Background(), "org-1", slots, models.MetricSuccessRate)
	require.NoError(t, err)

	assert.Equal(t, "domain", report.TargetType)
	assert.Equal(t, "customer", report.TargetValue)
	assert.Equal(t, int64(2000), report.TotalRequests)
	assert.Equal(t, int64(1970), report.SuccessfulRequests)
	assert.Equal(t, int64(30), report.FailedRequests)
	assert.InDelta(t, 98.5, report.Rate, 0.001)

	require.NotNil(t, captured, "search body not captured")
	raw, _ := json.Marshal(captured)
	assert.Contains(t, string(raw), `"org_id":"org-1"`)
	assert.Contains(t, string(raw), `"domain_name.keyword":"customer"`)
	assert.Contains(t, string(raw), `"gte":"2026-08-01"`)
}

func TestLookupFileTargetWins(t *testing.T) {
	var captured string

	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) > 0 {
			captured = string(body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		_, _ = w.Write([]byte(aggResponse(100, 90, 10)))
	})

	slots := models.SlotSet{DomainName: "customer", FileName: "customer.csv"}
	report, err := repo.Lookup(context.Background(), "org-1", slots, models.MetricFailureRate)
	require.NoError(t, err)

	assert.Equal(t, "file", report.TargetType)
	assert.Contains(t, captured, "file_name.keyword")
	assert.InDelta(t, 10.0, report.Rate, 0.001)
}

func TestLookupNoDataFound(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		_, _ = w.Write([]byte(aggResponse(0, 0, 0)))
	})

	_, err := repo.Lookup(context.Background(), "org-1",
		models.SlotSet{DomainName: "ghost"}, models.MetricSuccessRate)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNoDataFound, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestLookupSearchFailure(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": "boom"}`))
	})

	_, err := repo.Lookup(context.Background(), "org-1",
		models.SlotSet{DomainName: "customer"}, models.MetricSuccessRate)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSearchQueryFailed, apperrors.CodeOf(err))
}

func TestLookupRequiresTarget(t *testing.T) {
	repo, _ := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := repo.Lookup(context.Background(), "org-1", models.SlotSet{}, models.MetricSuccessRate)
	assert.Error(t, err)
}
