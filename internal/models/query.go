// internal/models/query.go
package models

import "time"

// Query is a single inbound analytics request. Immutable once constructed;
// all derived state lives in the conversation context.
type Query struct {
	RawText   string    `json:"rawText"`
	SessionID string    `json:"sessionId"`
	OrgID     string    `json:"orgId"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryState tracks where a request is in the processing pipeline.
type QueryState string

const (
	StateReceived      QueryState = "received"
	StateUnderstanding QueryState = "understanding"
	StateClarifying    QueryState = "clarifying"
	StatePlanning      QueryState = "planning"
	StateExecuting     QueryState = "executing"
	StateResponding    QueryState = "responding"
	StateOutOfScope    QueryState = "out_of_scope"
	StateFailed        QueryState = "failed"
)

// QueryResponse is the external result surface for one turn.
type QueryResponse struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	State      QueryState `json:"state"`
	Intent     Intent     `json:"intent,omitempty"`
	ChartImage string     `json:"chartImage,omitempty"` // base64 PNG
	SessionID  string     `json:"sessionId"`
}
