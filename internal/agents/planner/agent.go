// internal/agents/planner/agent.go
package planner

import (
	"context"
	"encoding/json"
	"strings"

	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/llm"
	"analytics-agent/internal/models"
	"analytics-agent/internal/security"

	"github.com/google/uuid"
)

const agentName = "planner"

// Agent builds execution plans for comparison queries. The plan the model
// proposes is only accepted when it passes schema and structural validation;
// otherwise the deterministically constructed plan wins. Valid structure
// beats model creativity.
type Agent struct {
	model     llm.ModelClient
	registry  *security.Registry
	validator *security.OutputValidator
	leakage   *security.LeakageScanner
	maxSteps  int
	log       logger.Logger
}

func NewAgent(
	model llm.ModelClient,
	registry *security.Registry,
	validator *security.OutputValidator,
	leakage *security.LeakageScanner,
	maxSteps int,
	log logger.Logger,
) *Agent {
	if maxSteps <= 0 {
		maxSteps = 20
	}
	return &Agent{
		model:     model,
		registry:  registry,
		validator: validator,
		leakage:   leakage,
		maxSteps:  maxSteps,
		log:       log.With(map[string]interface{}{"agent": agentName}),
	}
}

// Plan produces a validated comparison plan for the slot set. The slot set
// must be complete for the comparison intent before calling.
func (a *Agent) Plan(ctx context.Context, sessionID string, slots models.SlotSet) (*models.ExecutionPlan, error) {
	fallback, err := a.buildDeterministicPlan(slots)
	if err != nil {
		return nil, err
	}

	plan := a.confirmWithModel(ctx, sessionID, slots, fallback)

	if err := plan.Validate(); err != nil {
		return nil, apperrors.NewPlanValidationError(plan.PlanID, err.Error())
	}
	if len(plan.Steps) > a.maxSteps {
		return nil, apperrors.NewPlanValidationError(plan.PlanID, "plan exceeds step limit")
	}

	a.log.Info("Plan ready", map[string]interface{}{
		"sessionId": sessionID,
		"planId":    plan.PlanID,
		"steps":     len(plan.Steps),
	})
	return plan, nil
}

// buildDeterministicPlan constructs the canonical comparison shape: one
// parallel lookup per target, one compare step depending on all of them.
func (a *Agent) buildDeterministicPlan(slots models.SlotSet) (*models.ExecutionPlan, error) {
	if len(slots.ComparisonTargets) < 2 {
		return nil, apperrors.NewPlanValidationError("", "comparison requires at least two targets")
	}

	metric := slots.MetricType
	if metric == "" {
		metric = models.MetricSuccessRate
	}

	plan := &models.ExecutionPlan{
		PlanID:    uuid.New().String(),
		QueryType: models.PlanComplex,
		Intent:    models.IntentComparison,
	}

	lookupIDs := make([]int, 0, len(slots.ComparisonTargets))
	for i, target := range slots.ComparisonTargets {
		stepID := i + 1
		plan.Steps = append(plan.Steps, models.PlanStep{
			StepID:      stepID,
			Action:      models.ActionQueryAnalytics,
			Description: "Query analytics for " + target,
			TargetSlots: resolveTargetSlots(target, metric, slots),
			Critical:    true,
		})
		lookupIDs = append(lookupIDs, stepID)
	}

	plan.Steps = append(plan.Steps, models.PlanStep{
		StepID:      len(plan.Steps) + 1,
		Action:      models.ActionCompareResults,
		Description: "Compare target results",
		TargetSlots: models.SlotSet{MetricType: metric},
		DependsOn:   lookupIDs,
		Critical:    true,
	})

	// The chart is part of the plan only when the user asked for one. It is
	// never critical: a failed render degrades the response to text.
	if slots.ChartType != "" {
		plan.Steps = append(plan.Steps, models.PlanStep{
			StepID:      len(plan.Steps) + 1,
			Action:      models.ActionRenderChart,
			Description: "Render comparison chart",
			TargetSlots: models.SlotSet{MetricType: metric, ChartType: slots.ChartType},
			DependsOn:   lookupIDs,
		})
	}

	return plan, nil
}

// confirmWithModel asks the model to confirm or refine the plan shape. Any
// problem with the model's answer quietly selects the fallback.
func (a *Agent) confirmWithModel(ctx context.Context, sessionID string, slots models.SlotSet, fallback *models.ExecutionPlan) *models.ExecutionPlan {
	tpl, err := a.registry.Get(security.TemplatePlanner)
	if err != nil {
		a.log.WithError(err).Warn("Planner template unavailable, using deterministic plan", nil)
		return fallback
	}

	systemPrompt, err := tpl.Render(nil)
	if err != nil {
		a.log.WithError(err).Warn("Planner template render failed, using deterministic plan", nil)
		return fallback
	}

	request, err := json.Marshal(map[string]interface{}{
		"targets": slots.ComparisonTargets,
		"metric":  slots.MetricType,
	})
	if err != nil {
		return fallback
	}
	userMessage, err := security.BuildUserSection("COMPARISON_REQUEST", string(request))
	if err != nil {
		return fallback
	}

	raw, err := llm.Invoke(ctx, a.model, agentName, systemPrompt, userMessage, a.log)
	if err != nil {
		a.log.WithError(err).Warn("Planner model call failed, using deterministic plan", nil)
		return fallback
	}

	if leakType, found := a.leakage.Detect(ctx, sessionID, raw); found {
		a.log.Warn("Planner response discarded", map[string]interface{}{"leakType": leakType})
		return fallback
	}

	doc, err := a.validator.Validate(security.SchemaPlan, raw)
	if err != nil {
		a.log.WithError(err).Warn("Planner output failed validation, using deterministic plan", nil)
		return fallback
	}

	proposed, err := a.parseModelPlan(doc, slots)
	if err != nil {
		a.log.WithError(err).Warn("Planner output unusable, using deterministic plan", nil)
		return fallback
	}
	if err := proposed.Validate(); err != nil {
		a.log.WithError(err).Warn("Planner proposed invalid plan, using deterministic plan", nil)
		return fallback
	}
	if len(proposed.Steps) > a.maxSteps {
		a.log.Warn("Planner proposed oversized plan, using deterministic plan", map[string]interface{}{
			"steps": len(proposed.Steps),
		})
		return fallback
	}

	return proposed
}

// modelPlan mirrors the plan schema.
type modelPlan struct {
	QueryType string `json:"query_type"`
	Steps     []struct {
		StepID      int    `json:"step_id"`
		Action      string `json:"action"`
		Description string `json:"description"`
		Target      string `json:"target"`
		MetricType  string `json:"metric_type"`
		ChartType   string `json:"chart_type"`
		DependsOn   []int  `json:"depends_on"`
		Critical    bool   `json:"critical"`
	} `json:"steps"`
}

func (a *Agent) parseModelPlan(doc []byte, slots models.SlotSet) (*models.ExecutionPlan, error) {
	var out modelPlan
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, err
	}

	metric := slots.MetricType
	if metric == "" {
		metric = models.MetricSuccessRate
	}

	plan := &models.ExecutionPlan{
		PlanID:    uuid.New().String(),
		QueryType: models.PlanComplex,
		Intent:    models.IntentComparison,
	}

	allowed := make(map[string]bool, len(slots.ComparisonTargets))
	for _, t := range slots.ComparisonTargets {
		allowed[t] = true
	}

	for _, step := range out.Steps {
		targetSlots := models.SlotSet{MetricType: metric}
		switch step.Action {
		case models.ActionQueryAnalytics:
			// The model may only query targets the user actually named.
			if !allowed[step.Target] {
				return nil, apperrors.NewPlanValidationError(plan.PlanID,
					"plan references a target not present in the query")
			}
			targetSlots = resolveTargetSlots(step.Target, metric, slots)
		case models.ActionRenderChart:
			// The user's stated preference wins over the model's pick.
			targetSlots.ChartType = slots.ChartType
			if targetSlots.ChartType == "" {
				targetSlots.ChartType = models.ChartType(step.ChartType)
			}
		}
		plan.Steps = append(plan.Steps, models.PlanStep{
			StepID:      step.StepID,
			Action:      step.Action,
			Description: step.Description,
			TargetSlots: targetSlots,
			DependsOn:   step.DependsOn,
			Critical:    step.Critical,
		})
	}

	return plan, nil
}

// resolveTargetSlots maps a bare target name onto the slot set: names with
// an extension are files, everything else is a domain.
func resolveTargetSlots(target string, metric models.MetricType, base models.SlotSet) models.SlotSet {
	slots := models.SlotSet{
		MetricType:     metric,
		DateRangeStart: base.DateRangeStart,
		DateRangeEnd:   base.DateRangeEnd,
	}
	if strings.Contains(target, ".") && !strings.HasSuffix(target, ".") &&
		looksLikeFile(target) {
		slots.FileName = target
	} else {
		slots.DomainName = target
	}
	return slots
}

var fileExtensions = []string{".csv", ".json", ".xlsx", ".xml", ".txt", ".parquet"}

func looksLikeFile(target string) bool {
	lower := strings.ToLower(target)
	for _, ext := range fileExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
