// internal/processor/processor.go
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"analytics-agent/internal/agents/planner"
	"analytics-agent/internal/agents/understanding"
	"analytics-agent/internal/common/audit"
	"analytics-agent/internal/common/config"
	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"
	"analytics-agent/internal/executor"
	"analytics-agent/internal/llm"
	"analytics-agent/internal/models"
	"analytics-agent/internal/security"
	"analytics-agent/internal/store"
)

// User-facing fallback messages. Deliberately generic: failure detail goes to
// logs and audit events, never to the response.
const (
	msgSecurityRejected   = "Your query could not be processed. Please rephrase and try again."
	msgServiceUnavailable = "The analytics service is temporarily unavailable. Please try again shortly."
	msgLoopLimit          = "I couldn't complete that request. Please try again with a simpler query."
	msgClarifyLimit       = "I'm having trouble understanding your request. I can help with success rates, failure rates, and comparisons of your analytics data."
)

// Processor drives one query through the pipeline:
// received → understanding → {clarifying | planning → executing → responding}
// | out_of_scope | failed.
type Processor struct {
	understanding *understanding.Agent
	planner       *planner.Agent
	simple        *executor.SimpleExecutor
	complex       *executor.ComplexExecutor
	contexts      *store.ContextStore
	model         llm.ModelClient
	registry      *security.Registry
	leakage       *security.LeakageScanner
	sink          audit.Sink
	cfg           config.ProcessorConfig
	log           logger.Logger
}

func New(
	understandingAgent *understanding.Agent,
	plannerAgent *planner.Agent,
	simple *executor.SimpleExecutor,
	complex *executor.ComplexExecutor,
	contexts *store.ContextStore,
	model llm.ModelClient,
	registry *security.Registry,
	leakage *security.LeakageScanner,
	sink audit.Sink,
	cfg config.ProcessorConfig,
	log logger.Logger,
) *Processor {
	if cfg.MaxAgentInvocations <= 0 {
		cfg.MaxAgentInvocations = 10
	}
	if cfg.MaxClarifyTurns <= 0 {
		cfg.MaxClarifyTurns = 3
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Processor{
		understanding: understandingAgent,
		planner:       plannerAgent,
		simple:        simple,
		complex:       complex,
		contexts:      contexts,
		model:         model,
		registry:      registry,
		leakage:       leakage,
		sink:          sink,
		cfg:           cfg,
		log:           log,
	}
}

// Process runs one query turn. It never returns an error: every failure mode
// maps to a response with an appropriate state and a safe message.
func (p *Processor) Process(ctx context.Context, query models.Query) *models.QueryResponse {
	start := time.Now()
	resp := &models.QueryResponse{SessionID: query.SessionID, State: models.StateReceived}

	defer func() {
		intent := string(resp.Intent)
		if intent == "" {
			intent = "unknown"
		}
		metrics.QueriesProcessed.WithLabelValues(string(resp.State)).Inc()
		metrics.QueryDuration.WithLabelValues(intent).Observe(time.Since(start).Seconds())
	}()

	// One invocation budget per turn unless the caller scoped one already.
	if llm.BudgetFrom(ctx) == nil {
		ctx = llm.WithBudget(ctx, llm.NewBudget(p.cfg.MaxAgentInvocations))
	}

	prior := p.loadContext(ctx, query.SessionID)

	resp.State = models.StateUnderstanding
	result, err := p.understanding.Understand(ctx, query, prior)
	if err != nil {
		p.failResponse(ctx, resp, query, err)
		return resp
	}
	resp.Intent = result.Intent

	switch {
	case result.Intent == models.IntentOutOfScope:
		resp.State = models.StateOutOfScope
		resp.Success = true
		resp.Message = result.Message

	case !result.Complete:
		p.clarify(ctx, resp, query, result, prior)

	default:
		p.execute(ctx, resp, query, result, prior)
	}

	return resp
}

// clarify persists the partial context and asks the follow-up question. Too
// many unproductive turns end the conversation with the scope redirect.
func (p *Processor) clarify(ctx context.Context, resp *models.QueryResponse, query models.Query, result *understanding.Result, prior *models.ConversationContext) {
	resp.State = models.StateClarifying

	conv := prior
	if conv == nil {
		conv = models.NewConversationContext(query.SessionID, query.OrgID)
	}
	conv.ClarifyTurns++

	if conv.ClarifyTurns > p.cfg.MaxClarifyTurns {
		p.log.Warn("Clarification limit reached, ending conversation", map[string]interface{}{
			"sessionId": query.SessionID,
			"turns":     conv.ClarifyTurns,
		})
		p.clearContext(ctx, query.SessionID)
		resp.State = models.StateOutOfScope
		resp.Intent = models.IntentOutOfScope
		resp.Success = true
		resp.Message = msgClarifyLimit
		return
	}

	conv.PartialSlots = result.Slots
	conv.LastIntent = result.Intent
	conv.RecordPrompt(query.RawText, query.Timestamp)

	if err := p.contexts.Put(ctx, conv); err != nil {
		p.log.WithError(err).Warn("Failed to persist conversation context", map[string]interface{}{
			"sessionId": query.SessionID,
		})
	}

	resp.Success = true
	resp.Message = result.Clarification
}

// execute plans (for comparisons), runs the lookups and formats the answer.
func (p *Processor) execute(ctx context.Context, resp *models.QueryResponse, query models.Query, result *understanding.Result, prior *models.ConversationContext) {
	var (
		execResult *executor.Result
		err        error
	)

	if result.Intent == models.IntentComparison {
		resp.State = models.StatePlanning
		var plan *models.ExecutionPlan
		plan, err = p.planner.Plan(ctx, query.SessionID, result.Slots)
		if err == nil {
			resp.State = models.StateExecuting
			execResult, err = p.complex.Execute(ctx, query.OrgID, plan)
		}
	} else {
		resp.State = models.StateExecuting
		execResult, err = p.simple.Execute(ctx, query.OrgID, result.Intent, result.Slots)
	}

	if err != nil {
		p.failResponse(ctx, resp, query, err)
		return
	}

	resp.State = models.StateResponding
	resp.Success = true
	resp.Message = p.formatResponse(ctx, query.SessionID, execResult)
	resp.ChartImage = execResult.ChartImage

	if execResult.Partial {
		p.persistPartial(ctx, query, result, prior)
	} else {
		p.clearContext(ctx, query.SessionID)
	}
}

// formatResponse lets the model polish the deterministic answer. Any problem
// with the model's version, including an exhausted invocation budget, keeps
// the deterministic text.
func (p *Processor) formatResponse(ctx context.Context, sessionID string, execResult *executor.Result) string {
	if p.model == nil || p.registry == nil {
		return execResult.Message
	}

	tpl, err := p.registry.Get(security.TemplateResponder)
	if err != nil {
		return execResult.Message
	}
	systemPrompt, err := tpl.Render(nil)
	if err != nil {
		return execResult.Message
	}

	payload, err := json.Marshal(execResult)
	if err != nil {
		return execResult.Message
	}
	userMessage, err := security.BuildUserSection("ANALYTICS_RESULTS", string(payload))
	if err != nil {
		return execResult.Message
	}

	formatted, err := llm.Invoke(ctx, p.model, "responder", systemPrompt, userMessage, p.log)
	if err != nil {
		p.log.WithError(err).Warn("Responder model unavailable, using computed message", nil)
		return execResult.Message
	}
	if _, found := p.leakage.Detect(ctx, sessionID, formatted); found {
		return execResult.Message
	}
	if formatted == "" {
		return execResult.Message
	}
	return formatted
}

// failResponse maps a pipeline error onto a failed (or rejected) response.
func (p *Processor) failResponse(ctx context.Context, resp *models.QueryResponse, query models.Query, err error) {
	resp.Success = false
	resp.State = models.StateFailed

	code := apperrors.CodeOf(err)
	switch {
	case code == apperrors.ErrCodeLoopLimitExceeded:
		p.log.Error("Agent invocation limit exceeded", map[string]interface{}{
			"sessionId": query.SessionID,
			"limit":     p.cfg.MaxAgentInvocations,
		})
		p.sink.Record(ctx, audit.Event{
			EventType: "loop_limit_exceeded",
			SessionID: query.SessionID,
			Detail:    err.Error(),
		})
		resp.Message = msgLoopLimit

	case apperrors.IsSecurity(err):
		// Sanitizer and validator already logged and audited the detail.
		resp.Message = msgSecurityRejected

	case code == apperrors.ErrCodeNoDataFound:
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			resp.Message = stdErr.Message
		} else {
			resp.Message = msgServiceUnavailable
		}

	default:
		p.log.WithError(err).Error("Query processing failed", map[string]interface{}{
			"sessionId": query.SessionID,
			"code":      string(code),
		})
		resp.Message = msgServiceUnavailable
	}
}

func (p *Processor) loadContext(ctx context.Context, sessionID string) *models.ConversationContext {
	if p.contexts == nil {
		return nil
	}
	conv, found, err := p.contexts.Get(ctx, sessionID)
	if err != nil {
		p.log.WithError(err).Warn("Context lookup failed, continuing without history", map[string]interface{}{
			"sessionId": sessionID,
		})
		return nil
	}
	if !found {
		return nil
	}
	return conv
}

func (p *Processor) clearContext(ctx context.Context, sessionID string) {
	if p.contexts == nil {
		return
	}
	if err := p.contexts.Clear(ctx, sessionID); err != nil {
		p.log.WithError(err).Warn("Failed to clear conversation context", map[string]interface{}{
			"sessionId": sessionID,
		})
	}
}

// persistPartial keeps the slots around after a partial comparison so the
// user can refine the failing targets without restating everything.
func (p *Processor) persistPartial(ctx context.Context, query models.Query, result *understanding.Result, prior *models.ConversationContext) {
	if p.contexts == nil {
		return
	}
	conv := prior
	if conv == nil {
		conv = models.NewConversationContext(query.SessionID, query.OrgID)
	}
	conv.PartialSlots = result.Slots
	conv.LastIntent = result.Intent
	conv.ClarifyTurns = 0
	conv.RecordPrompt(query.RawText, query.Timestamp)
	if err := p.contexts.Put(ctx, conv); err != nil {
		p.log.WithError(err).Warn("Failed to persist partial result context", map[string]interface{}{
			"sessionId": query.SessionID,
		})
	}
}
