// internal/repository/analytics.go
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// AnalyticsLookup is the data collaborator the executors call. Safe for
// concurrent use; plan steps fan out against it in parallel.
type AnalyticsLookup interface {
	Lookup(ctx context.Context, orgID string, slots models.SlotSet, metric models.MetricType) (*models.AnalyticsReport, error)
}

// AnalyticsRepository aggregates workflow request outcomes from the
// analytics events index.
type AnalyticsRepository struct {
	client  *elasticsearch.Client
	index   string
	timeout time.Duration
	log     logger.Logger
}

func NewAnalyticsRepository(client *elasticsearch.Client, index string, timeout time.Duration, log logger.Logger) *AnalyticsRepository {
	return &AnalyticsRepository{
		client:  client,
		index:   index,
		timeout: timeout,
		log:     log,
	}
}

// statusAggResponse is the slice of the search response we care about:
// total hits plus per-status counts.
type statusAggResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
	} `json:"hits"`
	Aggregations struct {
		StatusCounts struct {
			Buckets []struct {
				Key      string `json:"key"`
				DocCount int64  `json:"doc_count"`
			} `json:"buckets"`
		} `json:"status_counts"`
	} `json:"aggregations"`
}

// Lookup counts request outcomes for the slot set's target within the org.
// Returns NO_DATA_FOUND when the target has no events at all, so callers can
// name the missing target precisely.
func (r *AnalyticsRepository) Lookup(ctx context.Context, orgID string, slots models.SlotSet, metric models.MetricType) (*models.AnalyticsReport, error) {
	targetType, targetValue := slots.Target()
	if targetValue == "" {
		return nil, fmt.Errorf("lookup requires a domain or file target")
	}

	body, err := json.Marshal(buildStatusAggQuery(orgID, targetType, targetValue, slots))
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	size := 0
	req := esapi.SearchRequest{
		Index: []string{r.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}

	res, err := req.Do(searchCtx, r.client)
	if err != nil {
		if searchCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewSearchTimeoutError(models.ActionQueryAnalytics)
		}
		return nil, apperrors.NewSearchQueryFailedError(models.ActionQueryAnalytics, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError(models.ActionQueryAnalytics,
			fmt.Errorf("search failed: %s", res.Status()))
	}

	var parsed statusAggResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperrors.NewSearchQueryFailedError(models.ActionQueryAnalytics, err)
	}

	if parsed.Hits.Total.Value == 0 {
		return nil, apperrors.NewNoDataFoundError(targetType, targetValue)
	}

	report := &models.AnalyticsReport{
		TargetType:    targetType,
		TargetValue:   targetValue,
		TotalRequests: parsed.Hits.Total.Value,
		MetricType:    metric,
	}
	for _, bucket := range parsed.Aggregations.StatusCounts.Buckets {
		switch bucket.Key {
		case "success":
			report.SuccessfulRequests = bucket.DocCount
		case "failure", "failed":
			report.FailedRequests = bucket.DocCount
		}
	}
	report.ComputeRate()

	r.log.Debug("Analytics lookup completed", map[string]interface{}{
		"targetType":  targetType,
		"targetValue": targetValue,
		"total":       report.TotalRequests,
	})

	return report, nil
}

// buildStatusAggQuery assembles the bool-filtered status aggregation.
func buildStatusAggQuery(orgID, targetType, targetValue string, slots models.SlotSet) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{
			"term": map[string]interface{}{"org_id": orgID},
		},
	}

	targetField := "domain_name.keyword"
	if targetType == "file" {
		targetField = "file_name.keyword"
	}
	filters = append(filters, map[string]interface{}{
		"term": map[string]interface{}{targetField: targetValue},
	})

	if slots.DateRangeStart != "" || slots.DateRangeEnd != "" {
		dateRange := map[string]interface{}{"format": "yyyy-MM-dd"}
		if slots.DateRangeStart != "" {
			dateRange["gte"] = slots.DateRangeStart
		}
		if slots.DateRangeEnd != "" {
			dateRange["lte"] = slots.DateRangeEnd
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"timestamp": dateRange},
		})
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filters,
			},
		},
		"aggs": map[string]interface{}{
			"status_counts": map[string]interface{}{
				"terms": map[string]interface{}{
					"field": "status.keyword",
					"size":  10,
				},
			},
		},
	}
}
