// internal/models/models_test.go
package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotSetMerge(t *testing.T) {
	tests := []struct {
		name     string
		base     SlotSet
		update   SlotSet
		expected SlotSet
	}{
		{
			name:     "update fills empty fields",
			base:     SlotSet{},
			update:   SlotSet{DomainName: "example.com", MetricType: MetricSuccessRate},
			expected: SlotSet{DomainName: "example.com", MetricType: MetricSuccessRate},
		},
		{
			name:     "update wins on conflict",
			base:     SlotSet{DomainName: "old.com"},
			update:   SlotSet{DomainName: "new.com"},
			expected: SlotSet{DomainName: "new.com"},
		},
		{
			name:     "silent update keeps earlier turns",
			base:     SlotSet{DomainName: "example.com", MetricType: MetricFailureRate},
			update:   SlotSet{DateRangeStart: "2026-01-01", DateRangeEnd: "2026-01-31"},
			expected: SlotSet{DomainName: "example.com", MetricType: MetricFailureRate, DateRangeStart: "2026-01-01", DateRangeEnd: "2026-01-31"},
		},
		{
			name:     "comparison targets replaced wholesale",
			base:     SlotSet{ComparisonTargets: []string{"a.com"}},
			update:   SlotSet{ComparisonTargets: []string{"b.com", "c.com"}},
			expected: SlotSet{ComparisonTargets: []string{"b.com", "c.com"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.base.Merge(tt.update)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSlotSetMissingFor(t *testing.T) {
	tests := []struct {
		name    string
		slots   SlotSet
		intent  Intent
		missing []string
	}{
		{
			name:    "rate intent with domain and metric is complete",
			slots:   SlotSet{DomainName: "example.com", MetricType: MetricSuccessRate},
			intent:  IntentSuccessRate,
			missing: nil,
		},
		{
			name:    "rate intent with file target is complete",
			slots:   SlotSet{FileName: "invoices.csv", MetricType: MetricFailureRate},
			intent:  IntentFailureRate,
			missing: nil,
		},
		{
			name:    "rate intent without target",
			slots:   SlotSet{MetricType: MetricSuccessRate},
			intent:  IntentSuccessRate,
			missing: []string{"target"},
		},
		{
			name:    "comparison needs two targets",
			slots:   SlotSet{ComparisonTargets: []string{"a.com"}, MetricType: MetricSuccessRate},
			intent:  IntentComparison,
			missing: []string{"comparison_targets"},
		},
		{
			name:    "general query is always complete",
			slots:   SlotSet{},
			intent:  IntentGeneralQuery,
			missing: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.missing, tt.slots.MissingFor(tt.intent))
			assert.Equal(t, len(tt.missing) == 0, tt.slots.CompleteFor(tt.intent))
		})
	}
}

func TestSlotSetTarget(t *testing.T) {
	targetType, targetValue := SlotSet{DomainName: "example.com"}.Target()
	assert.Equal(t, "domain", targetType)
	assert.Equal(t, "example.com", targetValue)

	// File scope wins over domain scope.
	targetType, targetValue = SlotSet{DomainName: "example.com", FileName: "a.csv"}.Target()
	assert.Equal(t, "file", targetType)
	assert.Equal(t, "a.csv", targetValue)

	targetType, _ = SlotSet{}.Target()
	assert.Empty(t, targetType)
}

func TestExecutionPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []PlanStep
		wantErr string
	}{
		{
			name: "valid diamond",
			steps: []PlanStep{
				{StepID: 1, Action: ActionQueryAnalytics},
				{StepID: 2, Action: ActionQueryAnalytics},
				{StepID: 3, Action: ActionCompareResults, DependsOn: []int{1, 2}},
			},
		},
		{
			name:    "empty plan",
			steps:   nil,
			wantErr: "no steps",
		},
		{
			name: "non-sequential ids",
			steps: []PlanStep{
				{StepID: 1, Action: ActionQueryAnalytics},
				{StepID: 3, Action: ActionCompareResults},
			},
			wantErr: "expected id 2",
		},
		{
			name: "forward dependency",
			steps: []PlanStep{
				{StepID: 1, Action: ActionCompareResults, DependsOn: []int{2}},
				{StepID: 2, Action: ActionQueryAnalytics},
			},
			wantErr: "invalid dependency",
		},
		{
			name: "self dependency",
			steps: []PlanStep{
				{StepID: 1, Action: ActionQueryAnalytics},
				{StepID: 2, Action: ActionCompareResults, DependsOn: []int{2}},
			},
			wantErr: "depends on itself",
		},
		{
			name: "missing action",
			steps: []PlanStep{
				{StepID: 1},
			},
			wantErr: "missing action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := &ExecutionPlan{PlanID: "p1", QueryType: PlanComplex, Steps: tt.steps}
			err := plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAnalyticsReportSummary(t *testing.T) {
	report := &AnalyticsReport{
		TargetType:         "domain",
		TargetValue:        "example.com",
		TotalRequests:      1500,
		SuccessfulRequests: 1200,
		FailedRequests:     300,
		MetricType:         MetricFailureRate,
	}
	report.ComputeRate()

	assert.InDelta(t, 20.0, report.Rate, 0.001)
	assert.Equal(t, "example.com has a 20% failure rate (300 of 1500 requests)", report.Summary())

	report.MetricType = MetricSuccessRate
	report.ComputeRate()
	assert.Equal(t, "example.com has a 80% success rate (1200 of 1500 requests)", report.Summary())
}

func TestAnalyticsReportZeroTotal(t *testing.T) {
	report := &AnalyticsReport{MetricType: MetricSuccessRate}
	report.ComputeRate()
	assert.Zero(t, report.Rate)
}

func TestConversationContextPromptHistoryCap(t *testing.T) {
	ctx := NewConversationContext("s1", "org1")
	for i := 0; i < 15; i++ {
		ctx.RecordPrompt("prompt", time.Now())
	}
	assert.Len(t, ctx.Prompts, maxPromptHistory)
}
