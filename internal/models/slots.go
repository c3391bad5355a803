// internal/models/slots.go
package models

// MetricType names the measurement a report is about.
type MetricType string

const (
	MetricSuccessRate MetricType = "success_rate"
	MetricFailureRate MetricType = "failure_rate"
)

// ChartType is the user's preferred visualization, when stated.
type ChartType string

const (
	ChartBar   ChartType = "bar"
	ChartPie   ChartType = "pie"
	ChartLine  ChartType = "line"
	ChartDonut ChartType = "donut"
	ChartArea  ChartType = "area"
)

// IsValid reports whether the chart type is renderable.
func (c ChartType) IsValid() bool {
	switch c {
	case ChartBar, ChartPie, ChartLine, ChartDonut, ChartArea:
		return true
	}
	return false
}

// SlotSet holds the extracted parameters of an analytics request. Fields are
// empty until filled; clarification turns fill them incrementally.
type SlotSet struct {
	DomainName        string     `json:"domainName,omitempty"`
	FileName          string     `json:"fileName,omitempty"`
	DateRangeStart    string     `json:"dateRangeStart,omitempty"` // YYYY-MM-DD
	DateRangeEnd      string     `json:"dateRangeEnd,omitempty"`   // YYYY-MM-DD
	MetricType        MetricType `json:"metricType,omitempty"`
	ComparisonTargets []string   `json:"comparisonTargets,omitempty"`
	ChartType         ChartType  `json:"chartType,omitempty"`
}

// Merge returns the union of s and update. A field set in update wins;
// a field absent in update keeps the prior value. Earlier-turn information
// is never discarded by an update that is silent about it.
func (s SlotSet) Merge(update SlotSet) SlotSet {
	merged := s
	if update.DomainName != "" {
		merged.DomainName = update.DomainName
	}
	if update.FileName != "" {
		merged.FileName = update.FileName
	}
	if update.DateRangeStart != "" {
		merged.DateRangeStart = update.DateRangeStart
	}
	if update.DateRangeEnd != "" {
		merged.DateRangeEnd = update.DateRangeEnd
	}
	if update.MetricType != "" {
		merged.MetricType = update.MetricType
	}
	if len(update.ComparisonTargets) > 0 {
		merged.ComparisonTargets = update.ComparisonTargets
	}
	if update.ChartType != "" {
		merged.ChartType = update.ChartType
	}
	return merged
}

// Target returns the lookup target: file scope wins over domain scope when
// both are present.
func (s SlotSet) Target() (targetType, targetValue string) {
	if s.FileName != "" {
		return "file", s.FileName
	}
	if s.DomainName != "" {
		return "domain", s.DomainName
	}
	return "", ""
}

// MissingFor returns the slot names still required for the given intent.
// An empty result means the slot set is complete for that intent.
func (s SlotSet) MissingFor(intent Intent) []string {
	var missing []string
	switch {
	case intent.IsRate():
		if s.DomainName == "" && s.FileName == "" {
			missing = append(missing, "target")
		}
		if s.MetricType == "" {
			missing = append(missing, "metric_type")
		}
	case intent == IntentComparison:
		if len(s.ComparisonTargets) < 2 {
			missing = append(missing, "comparison_targets")
		}
		if s.MetricType == "" {
			missing = append(missing, "metric_type")
		}
	}
	return missing
}

// CompleteFor reports whether the slot set can be executed for the intent.
func (s SlotSet) CompleteFor(intent Intent) bool {
	return len(s.MissingFor(intent)) == 0
}
