// internal/llm/client.go
package llm

import (
	"context"
	"errors"
	"time"

	"analytics-agent/internal/common/config"
	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"

	openai "github.com/sashabaranov/go-openai"
)

// ModelClient is the generative-model collaborator. One call, one response;
// conversation state is the caller's problem.
type ModelClient interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// OpenAIClient talks to an OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	log         logger.Logger
}

func NewOpenAIClient(cfg *config.Config, log logger.Logger) *OpenAIClient {
	genai := cfg.APIs.GenAI

	clientCfg := openai.DefaultConfig(genai.APIKey)
	if genai.BaseURL != "" {
		clientCfg.BaseURL = genai.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       genai.Model,
		temperature: genai.Temperature,
		maxTokens:   genai.MaxTokens,
		timeout:     config.GetDuration(genai.Timeout),
		log:         log,
	}
}

// Complete sends one system+user exchange and returns the raw response text.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", apperrors.NewModelTimeoutError()
		}
		return "", apperrors.NewServiceUnavailableError("genai", err)
	}

	if len(resp.Choices) == 0 {
		return "", apperrors.NewValidationFailedError("model returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// retryBackoff is the wait before the single timeout retry. The endpoint just
// timed out; give it a moment before asking again.
var retryBackoff = 100 * time.Millisecond

// Invoke runs one timed model call for the named agent, retrying exactly once
// (after a short backoff) on a timeout-class failure. All other failures
// bubble up immediately. When the context carries a Budget, the call (and its
// retry together) spends one invocation; an exhausted budget blocks the call
// entirely.
func Invoke(ctx context.Context, client ModelClient, agent, systemPrompt, userMessage string, log logger.Logger) (string, error) {
	if budget := BudgetFrom(ctx); budget != nil {
		if err := budget.Spend(); err != nil {
			return "", err
		}
	}

	metrics.AgentInvocations.WithLabelValues(agent).Inc()

	start := time.Now()
	response, err := client.Complete(ctx, systemPrompt, userMessage)
	metrics.ModelCallDuration.WithLabelValues(agent).Observe(time.Since(start).Seconds())

	if err != nil && apperrors.IsTimeout(err) && ctx.Err() == nil {
		log.Warn("Model call timed out, retrying once", map[string]interface{}{
			"agent": agent,
		})
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return "", err
		}
		start = time.Now()
		response, err = client.Complete(ctx, systemPrompt, userMessage)
		metrics.ModelCallDuration.WithLabelValues(agent).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		return "", err
	}
	return response, nil
}
