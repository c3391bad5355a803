// internal/executor/simple.go
package executor

import (
	"context"

	"analytics-agent/internal/chart"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"
	"analytics-agent/internal/repository"
)

// SimpleExecutor serves single-target rate queries with one repository
// lookup. Chart rendering is best effort; a render failure degrades the
// response to text only.
type SimpleExecutor struct {
	repo   repository.AnalyticsLookup
	charts chart.Renderer
	log    logger.Logger
}

func NewSimpleExecutor(repo repository.AnalyticsLookup, charts chart.Renderer, log logger.Logger) *SimpleExecutor {
	return &SimpleExecutor{repo: repo, charts: charts, log: log}
}

func (e *SimpleExecutor) Execute(ctx context.Context, orgID string, intent models.Intent, slots models.SlotSet) (*Result, error) {
	metric := slots.MetricType
	if metric == "" {
		switch intent {
		case models.IntentFailureRate:
			metric = models.MetricFailureRate
		default:
			metric = models.MetricSuccessRate
		}
	}

	report, err := e.repo.Lookup(ctx, orgID, slots, metric)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Message: report.Summary(),
		Report:  report,
	}

	if slots.ChartType != "" {
		result.ChartImage = e.renderChart(ctx, slots.ChartType, []chart.Series{
			{Label: report.TargetValue, Value: report.Rate},
		})
	}

	return result, nil
}

// renderChart returns "" on any failure so the caller can fall back to a
// text-only response.
func (e *SimpleExecutor) renderChart(ctx context.Context, chartType models.ChartType, series []chart.Series) string {
	if e.charts == nil {
		return ""
	}
	image, err := e.charts.Render(ctx, chartType, series)
	if err != nil {
		e.log.WithError(err).Warn("Chart rendering failed, responding without chart", nil)
		return ""
	}
	return image
}
