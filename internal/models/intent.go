// internal/models/intent.go
package models

// Intent classifies what the user is asking for.
type Intent string

const (
	IntentSuccessRate         Intent = "success_rate"
	IntentFailureRate         Intent = "failure_rate"
	IntentComparison          Intent = "comparison"
	IntentGeneralQuery        Intent = "general_query"
	IntentOutOfScope          Intent = "out_of_scope"
	IntentClarificationNeeded Intent = "clarification_needed"
)

// IsValid reports whether the intent is one of the known values.
func (i Intent) IsValid() bool {
	switch i {
	case IntentSuccessRate, IntentFailureRate, IntentComparison,
		IntentGeneralQuery, IntentOutOfScope, IntentClarificationNeeded:
		return true
	}
	return false
}

// IsRate reports whether the intent is a single-target rate report.
func (i Intent) IsRate() bool {
	return i == IntentSuccessRate || i == IntentFailureRate
}
