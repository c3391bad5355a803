// Package errors provides standardized error handling for the query pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Security layer failures. Never retried, always fail closed.
	ErrCodeSecurityViolation  ErrorCode = "SECURITY_VIOLATION"
	ErrCodeIntegrityViolation ErrorCode = "INTEGRITY_VIOLATION"
	ErrCodeSchemaViolation    ErrorCode = "SCHEMA_VIOLATION"
	ErrCodeLeakageDetected    ErrorCode = "LEAKAGE_DETECTED"

	// Understanding / planning failures.
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_ERROR"
	ErrCodeIncompleteQuery      ErrorCode = "INCOMPLETE_QUERY"
	ErrCodeOutOfScope           ErrorCode = "OUT_OF_SCOPE"
	ErrCodePlanValidationFailed ErrorCode = "PLAN_VALIDATION_ERROR"
	ErrCodeLoopLimitExceeded    ErrorCode = "LOOP_LIMIT_EXCEEDED"

	// Execution failures.
	ErrCodeExecutionFailed ErrorCode = "EXECUTION_ERROR"
	ErrCodeNoDataFound     ErrorCode = "NO_DATA_FOUND"

	// Collaborator failures.
	ErrCodeModelTimeout       ErrorCode = "MODEL_TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeContextStoreFailed ErrorCode = "CONTEXT_STORE_FAILED"
	ErrCodeSearchQueryFailed  ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeSearchTimeout      ErrorCode = "SEARCH_TIMEOUT"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the error code from any error in the chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsSecurity reports whether the error is a security-class failure that must
// fail closed without retry.
func IsSecurity(err error) bool {
	switch CodeOf(err) {
	case ErrCodeSecurityViolation, ErrCodeIntegrityViolation,
		ErrCodeSchemaViolation, ErrCodeLeakageDetected:
		return true
	}
	return false
}

// IsTimeout reports whether the error is a timeout-class failure eligible for
// a bounded retry.
func IsTimeout(err error) bool {
	switch CodeOf(err) {
	case ErrCodeModelTimeout, ErrCodeSearchTimeout:
		return true
	}
	return false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewSecurityViolationError creates a non-retryable sanitizer rejection. The
// layer and reason go to metadata for the audit trail; the user-facing message
// stays generic.
func NewSecurityViolationError(layer, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSecurityViolation,
		Message:   "Request rejected by input validation",
		Details:   fmt.Sprintf("layer: %s, reason: %s", layer, reason),
		Retryable: false,
		Metadata:  map[string]interface{}{"layer": layer},
		Timestamp: time.Now().UTC(),
	}
}

// NewIntegrityViolationError creates a fatal template integrity error.
func NewIntegrityViolationError(templateName, expected, got string) *StandardError {
	return &StandardError{
		Code:    ErrCodeIntegrityViolation,
		Message: "Prompt template integrity check failed",
		Details: fmt.Sprintf("template: %s, expected: %s..., got: %s...",
			templateName, truncateHash(expected), truncateHash(got)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchemaViolationError creates a non-retryable model output schema error.
func NewSchemaViolationError(schemaName, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchemaViolation,
		Message:   "Model response failed schema validation",
		Details:   fmt.Sprintf("schema: %s, error: %s", schemaName, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLeakageDetectedError creates a non-retryable output leakage error.
func NewLeakageDetectedError(leakType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLeakageDetected,
		Message:   "Model response contained internal information and was discarded",
		Details:   fmt.Sprintf("leakType: %s", leakType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable validation error
// (malformed or unparseable model output).
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Model output could not be parsed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIncompleteQueryError marks a recoverable slot-filling gap; the caller
// turns this into a clarification turn, not a failure.
func NewIncompleteQueryError(missing []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIncompleteQuery,
		Message:   "Query is missing required information",
		Details:   fmt.Sprintf("missing: %s", strings.Join(missing, ", ")),
		Retryable: false,
		Metadata:  map[string]interface{}{"missing": missing},
		Timestamp: time.Now().UTC(),
	}
}

// NewPlanValidationError creates a fatal plan structure error.
func NewPlanValidationError(planID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePlanValidationFailed,
		Message:   "Execution plan failed validation",
		Details:   fmt.Sprintf("planId: %s, error: %s", planID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLoopLimitExceededError creates the fatal loop-protection error.
func NewLoopLimitExceededError(invocations, limit int) *StandardError {
	return &StandardError{
		Code:      ErrCodeLoopLimitExceeded,
		Message:   "Agent invocation limit exceeded for a single turn",
		Details:   fmt.Sprintf("invocations: %d, limit: %d", invocations, limit),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExecutionError creates a per-target execution failure.
func NewExecutionError(target string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExecutionFailed,
		Message:   fmt.Sprintf("Execution failed for target '%s'", target),
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoDataFoundError reports a precise empty result for a target.
func NewNoDataFoundError(targetType, targetValue string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoDataFound,
		Message:   fmt.Sprintf("No analytics data found for %s '%s'", targetType, targetValue),
		Details:   fmt.Sprintf("targetType: %s, targetValue: %s", targetType, targetValue),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelTimeoutError creates a retryable model call timeout.
func NewModelTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeModelTimeout,
		Message:   "Generative model call timed out",
		Details:   "call exceeded configured timeout",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewServiceUnavailableError is surfaced after the bounded retry budget for a
// collaborator is spent.
func NewServiceUnavailableError(service string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeServiceUnavailable,
		Message:   fmt.Sprintf("Service '%s' is unavailable", service),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewContextStoreError creates a retryable persistence error.
func NewContextStoreError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeContextStoreFailed,
		Message:   "Conversation context store error",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable analytics lookup error.
func NewSearchQueryFailedError(toolName string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Analytics data query error",
		Details:   fmt.Sprintf("tool: %s, error: %s", toolName, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchTimeoutError creates a retryable analytics lookup timeout.
func NewSearchTimeoutError(toolName string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchTimeout,
		Message:   "Analytics data query timeout",
		Details:   fmt.Sprintf("tool: %s", toolName),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Retry Policy
// ==========================

// GetRetryCount returns the bounded retry budget per code. Only timeout-class
// failures get a retry; security and validation failures never do.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeModelTimeout, ErrCodeSearchTimeout:
		return 1
	case ErrCodeContextStoreFailed, ErrCodeSearchQueryFailed:
		return 1
	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// ==========================
// 4. Utility Functions
// ==========================

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SECURITY") || strings.Contains(codeStr, "INTEGRITY") ||
		strings.Contains(codeStr, "LEAKAGE") || strings.Contains(codeStr, "SCHEMA"):
		return "SECURITY"
	case strings.Contains(codeStr, "PLAN") || strings.Contains(codeStr, "LOOP"):
		return "ORCHESTRATION"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "DATA"):
		return "ANALYTICS"
	case strings.Contains(codeStr, "MODEL") || strings.Contains(codeStr, "SERVICE"):
		return "MODEL"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "INCOMPLETE"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

func truncateHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
