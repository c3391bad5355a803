// internal/executor/result.go
package executor

import "analytics-agent/internal/models"

// Result is the outcome of executing a query, simple or planned.
type Result struct {
	Message     string                  `json:"message"`
	ChartImage  string                  `json:"chartImage,omitempty"`
	Report      *models.AnalyticsReport `json:"report,omitempty"`
	StepResults []models.ToolResult     `json:"stepResults,omitempty"`
	Partial     bool                    `json:"partial,omitempty"`
}
