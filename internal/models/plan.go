// internal/models/plan.go
package models

import "fmt"

// Tool actions a plan step may name.
const (
	ActionQueryAnalytics = "query_analytics"
	ActionCompareResults = "compare_results"
	ActionRenderChart    = "render_chart"
)

// PlanQueryType tags a plan's shape. Single-target rate queries never
// materialize a plan, so every constructed plan is a dependency plan.
type PlanQueryType string

const PlanComplex PlanQueryType = "complex"

// PlanStep is one unit of work in an execution plan.
type PlanStep struct {
	StepID      int      `json:"stepId"`
	Action      string   `json:"action"`
	Description string   `json:"description,omitempty"`
	TargetSlots SlotSet  `json:"targetSlots"`
	DependsOn   []int    `json:"dependsOn,omitempty"`
	Critical    bool     `json:"critical,omitempty"`
}

// ExecutionPlan is a validated DAG of steps for one query.
type ExecutionPlan struct {
	PlanID    string        `json:"planId"`
	QueryType PlanQueryType `json:"queryType"`
	Intent    Intent        `json:"intent"`
	Steps     []PlanStep    `json:"steps"`
}

// Validate enforces the structural rules every plan must satisfy before
// execution: at least one step, step IDs sequential from 1, dependencies
// referencing only earlier steps, no self-dependency. Backward-only edges
// make cycles impossible.
func (p *ExecutionPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	for i, step := range p.Steps {
		want := i + 1
		if step.StepID != want {
			return fmt.Errorf("step %d: expected id %d, got %d", i, want, step.StepID)
		}
		if step.Action == "" {
			return fmt.Errorf("step %d: missing action", step.StepID)
		}
		for _, dep := range step.DependsOn {
			if dep == step.StepID {
				return fmt.Errorf("step %d: depends on itself", step.StepID)
			}
			if dep < 1 || dep >= step.StepID {
				return fmt.Errorf("step %d: invalid dependency %d", step.StepID, dep)
			}
		}
	}
	return nil
}

// StepStatus is the terminal status of one executed plan step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// ToolResult is the outcome of one plan step.
type ToolResult struct {
	StepID     int              `json:"stepId"`
	Action     string           `json:"action"`
	Status     StepStatus       `json:"status"`
	Report     *AnalyticsReport `json:"report,omitempty"`
	ChartImage string           `json:"chartImage,omitempty"`
	Error      string           `json:"error,omitempty"`
}
