// internal/models/context.go
package models

import "time"

// maxPromptHistory caps how many raw prompts a session retains.
const maxPromptHistory = 10

// PromptRecord is one user turn kept for clarification context.
type PromptRecord struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationContext is the per-session clarification state persisted
// between turns. It only exists while a query is incomplete; a completed or
// abandoned query clears it.
type ConversationContext struct {
	SessionID    string         `json:"sessionId"`
	OrgID        string         `json:"orgId"`
	PartialSlots SlotSet        `json:"partialSlots"`
	LastIntent   Intent         `json:"lastIntent"`
	Prompts      []PromptRecord `json:"prompts,omitempty"`
	ClarifyTurns int            `json:"clarifyTurns"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// NewConversationContext starts an empty context for a session.
func NewConversationContext(sessionID, orgID string) *ConversationContext {
	return &ConversationContext{
		SessionID: sessionID,
		OrgID:     orgID,
		UpdatedAt: time.Now().UTC(),
	}
}

// RecordPrompt appends a user turn, trimming history to the cap.
func (c *ConversationContext) RecordPrompt(text string, at time.Time) {
	c.Prompts = append(c.Prompts, PromptRecord{Text: text, Timestamp: at})
	if len(c.Prompts) > maxPromptHistory {
		c.Prompts = c.Prompts[len(c.Prompts)-maxPromptHistory:]
	}
	c.UpdatedAt = time.Now().UTC()
}

// ApplySlots merges newly extracted slots into the partial set.
func (c *ConversationContext) ApplySlots(update SlotSet) {
	c.PartialSlots = c.PartialSlots.Merge(update)
	c.UpdatedAt = time.Now().UTC()
}
