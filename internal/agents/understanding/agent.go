// internal/agents/understanding/agent.go
package understanding

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/llm"
	"analytics-agent/internal/models"
	"analytics-agent/internal/security"
)

const agentName = "understanding"

// outOfScopeRedirect is the fixed reply for non-analytics requests and for
// fail-closed paths; it reveals nothing about why a response was discarded.
const outOfScopeRedirect = "I'm an analytics assistant specialized in data analysis. " +
	"I can help you with success rates, failure rates, and data reports. " +
	"What would you like to analyze?"

// Result is the outcome of one understanding pass, after merging with any
// prior conversation context.
type Result struct {
	Intent        models.Intent
	Slots         models.SlotSet
	Confidence    float64
	Complete      bool
	Missing       []string
	Clarification string
	Message       string
}

// Agent extracts intent and slots from a raw query. Every model interaction
// goes through the full security pipeline: sanitize in, schema-validate and
// leakage-scan out.
type Agent struct {
	model     llm.ModelClient
	sanitizer *security.Sanitizer
	registry  *security.Registry
	validator *security.OutputValidator
	leakage   *security.LeakageScanner
	log       logger.Logger
}

func NewAgent(
	model llm.ModelClient,
	sanitizer *security.Sanitizer,
	registry *security.Registry,
	validator *security.OutputValidator,
	leakage *security.LeakageScanner,
	log logger.Logger,
) *Agent {
	return &Agent{
		model:     model,
		sanitizer: sanitizer,
		registry:  registry,
		validator: validator,
		leakage:   leakage,
		log:       log.With(map[string]interface{}{"agent": agentName}),
	}
}

// modelOutput mirrors the understanding schema.
type modelOutput struct {
	Intent string `json:"intent"`
	Slots  struct {
		DomainName        string   `json:"domain_name"`
		FileName          string   `json:"file_name"`
		DateRangeStart    string   `json:"date_range_start"`
		DateRangeEnd      string   `json:"date_range_end"`
		MetricType        string   `json:"metric_type"`
		ComparisonTargets []string `json:"comparison_targets"`
		ChartType         string   `json:"chart_type"`
	} `json:"slots"`
	Confidence float64 `json:"confidence"`
}

// Understand runs one understanding pass for a query, merging extracted
// slots over the prior conversation context. A sanitizer rejection is
// returned as an error before any model call; a schema or leakage failure on
// the model side fails closed to out_of_scope.
func (a *Agent) Understand(ctx context.Context, query models.Query, prior *models.ConversationContext) (*Result, error) {
	sanitized, err := a.sanitizer.Sanitize(ctx, query.SessionID, query.RawText, security.FieldFreeText)
	if err != nil {
		return nil, err
	}

	systemPrompt, userMessage, err := a.buildPrompt(sanitized, prior)
	if err != nil {
		return nil, err
	}

	raw, err := llm.Invoke(ctx, a.model, agentName, systemPrompt, userMessage, a.log)
	if err != nil {
		return nil, err
	}

	if leakType, found := a.leakage.Detect(ctx, query.SessionID, raw); found {
		a.log.Warn("Discarding understanding response", map[string]interface{}{
			"leakType": leakType,
		})
		return a.failClosed(), nil
	}

	doc, err := a.validator.Validate(security.SchemaUnderstanding, raw)
	if err != nil {
		if apperrors.IsSecurity(err) || apperrors.CodeOf(err) == apperrors.ErrCodeValidationFailed {
			a.log.WithError(err).Warn("Understanding output rejected", nil)
			return a.failClosed(), nil
		}
		return nil, err
	}

	var out modelOutput
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, apperrors.NewValidationFailedError(err.Error())
	}

	extracted, err := a.sanitizeSlots(ctx, query.SessionID, out)
	if err != nil {
		return nil, err
	}

	intent := normalizeIntent(sanitized, models.Intent(out.Intent), extracted)

	merged := extracted
	if prior != nil {
		merged = prior.PartialSlots.Merge(extracted)
	}

	// A rate intent implies its metric; the slot may still be empty when the
	// user answered a target-only clarification.
	if intent.IsRate() && merged.MetricType == "" {
		merged.MetricType = models.MetricType(intent)
	}

	result := &Result{
		Intent:     intent,
		Slots:      merged,
		Confidence: out.Confidence,
	}

	switch intent {
	case models.IntentOutOfScope:
		result.Complete = true
		result.Message = outOfScopeRedirect
	case models.IntentGeneralQuery:
		if merged.MetricType != "" {
			// Prior turns already pinned the metric; resume as that rate
			// intent rather than asking again.
			result.Intent = models.Intent(merged.MetricType)
			result.Missing = merged.MissingFor(result.Intent)
			if len(result.Missing) == 0 {
				result.Complete = true
			} else {
				result.Clarification = clarificationQuestion(result.Missing, merged)
			}
			break
		}
		// General analytics chatter with a known target still needs a
		// metric; with nothing known it needs both.
		result.Intent = models.IntentClarificationNeeded
		result.Missing = missingForGeneral(merged)
		result.Clarification = clarificationQuestion(result.Missing, merged)
	default:
		result.Missing = merged.MissingFor(intent)
		if len(result.Missing) == 0 {
			result.Complete = true
		} else {
			result.Clarification = clarificationQuestion(result.Missing, merged)
		}
	}

	a.log.Info("Query understood", map[string]interface{}{
		"sessionId":  query.SessionID,
		"intent":     string(result.Intent),
		"complete":   result.Complete,
		"confidence": result.Confidence,
	})

	return result, nil
}

func (a *Agent) buildPrompt(sanitized string, prior *models.ConversationContext) (string, string, error) {
	tpl, err := a.registry.Get(security.TemplateQueryUnderstanding)
	if err != nil {
		return "", "", err
	}

	systemPrompt, err := tpl.Render(map[string]string{
		"current_date": time.Now().UTC().Format("2006-01-02"),
	})
	if err != nil {
		return "", "", err
	}

	querySection, err := security.BuildUserSection("USER_QUERY", sanitized)
	if err != nil {
		return "", "", err
	}

	userMessage := querySection
	if prior != nil {
		known, err := json.Marshal(prior.PartialSlots)
		if err != nil {
			return "", "", fmt.Errorf("marshal prior slots: %w", err)
		}
		contextSection, err := security.BuildUserSection("KNOWN_CONTEXT", string(known))
		if err != nil {
			return "", "", err
		}
		userMessage += "\n" + contextSection
	}

	return systemPrompt, userMessage, nil
}

// sanitizeSlots re-validates identifier and date fields coming back from the
// model. The model only ever saw sanitized text, but its output is untrusted
// all the same.
func (a *Agent) sanitizeSlots(ctx context.Context, sessionID string, out modelOutput) (models.SlotSet, error) {
	var slots models.SlotSet
	var err error

	if slots.DomainName, err = a.sanitizer.Sanitize(ctx, sessionID, out.Slots.DomainName, security.FieldIdentifier); err != nil {
		return models.SlotSet{}, err
	}
	if slots.FileName, err = a.sanitizer.Sanitize(ctx, sessionID, out.Slots.FileName, security.FieldIdentifier); err != nil {
		return models.SlotSet{}, err
	}
	if slots.DateRangeStart, err = a.sanitizer.Sanitize(ctx, sessionID, out.Slots.DateRangeStart, security.FieldDate); err != nil {
		return models.SlotSet{}, err
	}
	if slots.DateRangeEnd, err = a.sanitizer.Sanitize(ctx, sessionID, out.Slots.DateRangeEnd, security.FieldDate); err != nil {
		return models.SlotSet{}, err
	}

	for _, target := range out.Slots.ComparisonTargets {
		clean, err := a.sanitizer.Sanitize(ctx, sessionID, target, security.FieldIdentifier)
		if err != nil {
			return models.SlotSet{}, err
		}
		if clean != "" {
			slots.ComparisonTargets = append(slots.ComparisonTargets, clean)
		}
	}

	if mt := models.MetricType(out.Slots.MetricType); mt == models.MetricSuccessRate || mt == models.MetricFailureRate {
		slots.MetricType = mt
	}
	if ct := models.ChartType(out.Slots.ChartType); ct.IsValid() {
		slots.ChartType = ct
	}

	return slots, nil
}

func (a *Agent) failClosed() *Result {
	return &Result{
		Intent:   models.IntentOutOfScope,
		Complete: true,
		Message:  outOfScopeRedirect,
	}
}

var (
	failureKeywords = regexp.MustCompile(`(?i)\b(fail|fails|failed|failure|failures|error|errors)\b`)
	successKeywords = regexp.MustCompile(`(?i)\b(success|successful|succeeded)\b`)
	compareKeywords = regexp.MustCompile(`(?i)\b(compare|comparison|versus|vs)\b`)
)

// normalizeIntent applies deterministic keyword rules over the model's
// classification. The model occasionally labels "success rate report" as
// general_query; metric keywords always win that argument.
func normalizeIntent(text string, modelIntent models.Intent, slots models.SlotSet) models.Intent {
	hasFailure := failureKeywords.MatchString(text)
	hasSuccess := successKeywords.MatchString(text)
	hasCompare := compareKeywords.MatchString(text)

	if hasCompare && len(slots.ComparisonTargets) >= 2 {
		return models.IntentComparison
	}

	if !modelIntent.IsValid() || modelIntent == models.IntentGeneralQuery {
		switch {
		case hasFailure:
			return models.IntentFailureRate
		case hasSuccess:
			return models.IntentSuccessRate
		}
	}

	if !modelIntent.IsValid() {
		return models.IntentGeneralQuery
	}
	return modelIntent
}

func missingForGeneral(slots models.SlotSet) []string {
	missing := []string{"metric_type"}
	if _, target := slots.Target(); target == "" {
		missing = append(missing, "target")
	}
	return missing
}

// clarificationQuestion phrases the follow-up question around exactly what
// is still missing, echoing back what is already known.
func clarificationQuestion(missing []string, slots models.SlotSet) string {
	needsMetric := contains(missing, "metric_type")
	needsTarget := contains(missing, "target") || contains(missing, "comparison_targets")

	targetType, targetValue := slots.Target()

	switch {
	case needsMetric && needsTarget:
		return "I need both the analysis type and the target to proceed. " +
			"Please specify: the analysis type ('success rate' or 'failure rate') " +
			"and the target: a domain name (e.g. 'example.com') or a file name (e.g. 'customer.csv'). " +
			"Example: 'Show me the success rate for example.com'"
	case needsMetric:
		return fmt.Sprintf("I see you want to analyze %s '%s', but I need to know the analysis type. "+
			"Please specify 'success rate' or 'failure rate'. "+
			"Example: 'Show me the success rate for %s'", targetType, targetValue, targetValue)
	case needsTarget:
		analysisType := strings.ReplaceAll(string(slots.MetricType), "_", " ")
		if analysisType == "" {
			analysisType = "that"
		}
		return fmt.Sprintf("I understand you want %s analysis, but I need to know what to analyze. "+
			"Please specify a domain name (e.g. 'example.com') or a file name (e.g. 'customer.csv'). "+
			"Example: 'Show me the %s for example.com'", analysisType, analysisType)
	default:
		return "Could you provide more detail about what you'd like to analyze?"
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
