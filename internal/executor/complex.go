// internal/executor/complex.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"analytics-agent/internal/chart"
	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"
	"analytics-agent/internal/models"
	"analytics-agent/internal/repository"
)

// ComplexExecutor runs dependency plans wave by wave. Every step whose
// dependencies have all finished runs concurrently within its wave; a step
// with a failed or skipped dependency is marked skipped without being
// attempted. A single failed lookup never aborts the plan, the comparison
// degrades to the targets that did return data.
type ComplexExecutor struct {
	repo        repository.AnalyticsLookup
	charts      chart.Renderer
	stepTimeout time.Duration
	log         logger.Logger
}

func NewComplexExecutor(repo repository.AnalyticsLookup, charts chart.Renderer, stepTimeout time.Duration, log logger.Logger) *ComplexExecutor {
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &ComplexExecutor{repo: repo, charts: charts, stepTimeout: stepTimeout, log: log}
}

func (e *ComplexExecutor) Execute(ctx context.Context, orgID string, plan *models.ExecutionPlan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, apperrors.NewPlanValidationError(plan.PlanID, err.Error())
	}

	results := make(map[int]*models.ToolResult, len(plan.Steps))
	var mu sync.Mutex

	for len(results) < len(plan.Steps) {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewExecutionError("plan "+plan.PlanID, err)
		}

		wave := e.nextWave(plan, results)
		if len(wave) == 0 {
			// Validation guarantees backward-only deps, so an empty wave
			// here means every pending step was just skipped; loop once
			// more to pick that up, or bail if nothing changed.
			if len(results) < len(plan.Steps) {
				return nil, apperrors.NewExecutionError("plan "+plan.PlanID,
					errors.New("no runnable steps remain"))
			}
			break
		}

		var wg sync.WaitGroup
		for _, step := range wave {
			deps := make([]*models.ToolResult, 0, len(step.DependsOn))
			for _, dep := range step.DependsOn {
				deps = append(deps, results[dep])
			}

			wg.Add(1)
			go func(step models.PlanStep, deps []*models.ToolResult) {
				defer wg.Done()
				metrics.PlanStepsActive.Inc()
				defer metrics.PlanStepsActive.Dec()

				res := e.runStep(ctx, orgID, step, deps)
				metrics.PlanStepsExecuted.WithLabelValues(string(res.Status)).Inc()

				mu.Lock()
				results[step.StepID] = res
				mu.Unlock()
			}(step, deps)
		}
		wg.Wait()
	}

	return e.compose(plan, results)
}

// nextWave marks newly blocked steps skipped and returns the steps whose
// dependencies have all succeeded.
func (e *ComplexExecutor) nextWave(plan *models.ExecutionPlan, results map[int]*models.ToolResult) []models.PlanStep {
	var wave []models.PlanStep
	for _, step := range plan.Steps {
		if _, done := results[step.StepID]; done {
			continue
		}

		ready := true
		blocked := false
		for _, dep := range step.DependsOn {
			res, ok := results[dep]
			if !ok {
				ready = false
				break
			}
			if res.Status != models.StepSuccess {
				blocked = true
			}
		}
		if !ready {
			continue
		}
		if blocked {
			e.log.Warn("Skipping step with failed dependency", map[string]interface{}{
				"planId": plan.PlanID,
				"stepId": step.StepID,
			})
			results[step.StepID] = &models.ToolResult{
				StepID: step.StepID,
				Action: step.Action,
				Status: models.StepSkipped,
				Error:  "dependency did not succeed",
			}
			metrics.PlanStepsExecuted.WithLabelValues(string(models.StepSkipped)).Inc()
			continue
		}
		wave = append(wave, step)
	}
	return wave
}

func (e *ComplexExecutor) runStep(ctx context.Context, orgID string, step models.PlanStep, deps []*models.ToolResult) *models.ToolResult {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	result := &models.ToolResult{StepID: step.StepID, Action: step.Action}

	switch step.Action {
	case models.ActionQueryAnalytics:
		report, err := e.repo.Lookup(stepCtx, orgID, step.TargetSlots, step.TargetSlots.MetricType)
		if err != nil {
			e.log.WithError(err).Warn("Plan step lookup failed", map[string]interface{}{
				"stepId": step.StepID,
			})
			result.Status = models.StepFailed
			result.Error = err.Error()
			return result
		}
		result.Status = models.StepSuccess
		result.Report = report

	case models.ActionCompareResults:
		succeeded := 0
		for _, dep := range deps {
			if dep != nil && dep.Status == models.StepSuccess && dep.Report != nil {
				succeeded++
			}
		}
		if succeeded == 0 {
			result.Status = models.StepFailed
			result.Error = "no target data available to compare"
			return result
		}
		result.Status = models.StepSuccess

	case models.ActionRenderChart:
		if e.charts == nil {
			result.Status = models.StepFailed
			result.Error = "no chart renderer configured"
			return result
		}
		series := make([]chart.Series, 0, len(deps))
		for _, dep := range deps {
			if dep != nil && dep.Status == models.StepSuccess && dep.Report != nil {
				series = append(series, chart.Series{Label: dep.Report.TargetValue, Value: dep.Report.Rate})
			}
		}
		if len(series) == 0 {
			result.Status = models.StepFailed
			result.Error = "no data to chart"
			return result
		}
		chartType := step.TargetSlots.ChartType
		if !chartType.IsValid() {
			chartType = models.ChartBar
		}
		image, err := e.charts.Render(stepCtx, chartType, series)
		if err != nil {
			e.log.WithError(err).Warn("Chart rendering failed, responding without chart", map[string]interface{}{
				"stepId": step.StepID,
			})
			result.Status = models.StepFailed
			result.Error = err.Error()
			return result
		}
		result.Status = models.StepSuccess
		result.ChartImage = image

	default:
		result.Status = models.StepFailed
		result.Error = "unknown action " + step.Action
	}

	return result
}

// compose builds the comparison response from the per-step outcomes.
func (e *ComplexExecutor) compose(plan *models.ExecutionPlan, results map[int]*models.ToolResult) (*Result, error) {
	var (
		reports    []*models.AnalyticsReport
		unresolved []string
		stepOrder  []models.ToolResult
		chartImage string
	)

	for _, step := range plan.Steps {
		res := results[step.StepID]
		if res == nil {
			continue
		}
		// The base64 image stays out of the step record the responder sees.
		record := *res
		record.ChartImage = ""
		stepOrder = append(stepOrder, record)

		switch step.Action {
		case models.ActionQueryAnalytics:
			if res.Status == models.StepSuccess && res.Report != nil {
				reports = append(reports, res.Report)
			} else {
				_, target := step.TargetSlots.Target()
				unresolved = append(unresolved, target)
			}
		case models.ActionRenderChart:
			if res.Status == models.StepSuccess {
				chartImage = res.ChartImage
			}
		}
	}

	if len(reports) == 0 {
		return nil, apperrors.NewExecutionError("plan "+plan.PlanID,
			errors.New("no analytics data retrieved for any target"))
	}

	metric := reports[0].MetricType
	winner := pickWinner(reports, metric)

	var b strings.Builder
	fmt.Fprintf(&b, "Comparison of %s across %d targets:\n", metricLabel(metric), len(reports)+len(unresolved))
	for _, report := range reports {
		b.WriteString("- " + report.Summary())
		if report != winner {
			diff := report.Rate - winner.Rate
			direction := "higher"
			if diff < 0 {
				diff = -diff
				direction = "lower"
			}
			fmt.Fprintf(&b, " (%s points %s than %s)", formatPoints(diff), direction, winner.TargetValue)
		}
		b.WriteString("\n")
	}
	for _, target := range unresolved {
		fmt.Fprintf(&b, "- %s: no data available\n", target)
	}
	fmt.Fprintf(&b, "%s performs best with the %s %s.",
		winner.TargetValue, winnerSuperlative(metric), metricLabel(metric))

	return &Result{
		Message:     b.String(),
		ChartImage:  chartImage,
		StepResults: stepOrder,
		Partial:     len(unresolved) > 0,
	}, nil
}

// pickWinner is metric aware: the best target has the highest success rate
// or the lowest failure rate.
func pickWinner(reports []*models.AnalyticsReport, metric models.MetricType) *models.AnalyticsReport {
	winner := reports[0]
	for _, report := range reports[1:] {
		if metric == models.MetricFailureRate {
			if report.Rate < winner.Rate {
				winner = report
			}
		} else if report.Rate > winner.Rate {
			winner = report
		}
	}
	return winner
}

func metricLabel(metric models.MetricType) string {
	if metric == models.MetricFailureRate {
		return "failure rate"
	}
	return "success rate"
}

func winnerSuperlative(metric models.MetricType) string {
	if metric == models.MetricFailureRate {
		return "lowest"
	}
	return "highest"
}

func formatPoints(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}
