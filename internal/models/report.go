// internal/models/report.go
package models

import "fmt"

// AnalyticsReport is the aggregated result for one lookup target.
type AnalyticsReport struct {
	TargetType         string     `json:"targetType"` // "domain" or "file"
	TargetValue        string     `json:"targetValue"`
	TotalRequests      int64      `json:"totalRequests"`
	SuccessfulRequests int64      `json:"successfulRequests"`
	FailedRequests     int64      `json:"failedRequests"`
	Rate               float64    `json:"rate"` // percent for MetricType
	MetricType         MetricType `json:"metricType"`
}

// ComputeRate fills Rate from the counters for the report's metric.
func (r *AnalyticsReport) ComputeRate() {
	if r.TotalRequests == 0 {
		r.Rate = 0
		return
	}
	var numerator int64
	if r.MetricType == MetricFailureRate {
		numerator = r.FailedRequests
	} else {
		numerator = r.SuccessfulRequests
	}
	r.Rate = float64(numerator) / float64(r.TotalRequests) * 100
}

// Summary renders the one-line report message, e.g.
// "example.com has a 98.5% success rate (1970 of 2000 requests)".
func (r *AnalyticsReport) Summary() string {
	metricLabel := "success rate"
	numerator := r.SuccessfulRequests
	if r.MetricType == MetricFailureRate {
		metricLabel = "failure rate"
		numerator = r.FailedRequests
	}
	return fmt.Sprintf("%s has a %s %s (%d of %d requests)",
		r.TargetValue, formatPercent(r.Rate), metricLabel, numerator, r.TotalRequests)
}

// formatPercent trims trailing zeros so whole numbers read "20%" not "20.0%".
func formatPercent(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	if s[len(s)-2:] == ".0" {
		s = s[:len(s)-2]
	}
	return s + "%"
}
