// Package litellm implements the LLM risk classifier against an
// OpenAI-compatible chat completions endpoint, typically a LiteLLM proxy.
package litellm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/ChangeGuard/internal/config"
	"github.com/Strob0t/ChangeGuard/internal/domain/risk"
	"github.com/Strob0t/ChangeGuard/internal/port/llm"
	"github.com/Strob0t/ChangeGuard/internal/resilience"
)

// PromptVersion identifies the prompt template below. It is stored with
// every assessment so verdicts can be traced to the prompt that produced
// them.
const PromptVersion = "risk-classify/v1"

const systemPrompt = `You review pull requests for operational risk.
Classify the change as HIGH if it can plausibly cause an outage, data loss,
a security regression or requires coordinated rollout. Otherwise classify it
as LOW. Answer with a single JSON object:
{"risk_level": "LOW" | "HIGH", "rationale": "<one or two sentences>", "confidence": <0..1>}`

// Classifier implements llm.RiskClassifier.
type Classifier struct {
	client    *openai.Client
	model     string
	maxTokens int
	breaker   *resilience.Breaker
	retry     resilience.RetryPolicy
}

// NewClassifier creates a classifier. cfg.BaseURL must include the API
// prefix (for example http://litellm:4000/v1); empty means api.openai.com.
func NewClassifier(cfg config.LLM, breaker *resilience.Breaker, retry resilience.RetryPolicy) *Classifier {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Classifier{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		breaker:   breaker,
		retry:     retry,
	}
}

// verdict is the JSON object the model is asked to return.
type verdict struct {
	RiskLevel  string  `json:"risk_level"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
}

// Classify asks the model for a LOW/HIGH verdict on ev. Replies that are not
// valid JSON or carry any other risk level are errors.
func (c *Classifier) Classify(ctx context.Context, ev *llm.Evidence) (*llm.Assessment, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(ev)},
		},
		MaxTokens: c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	v, err := resilience.Retry(ctx, c.retry, c.breaker, func(ctx context.Context) (verdict, error) {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return verdict{}, classifyError(err)
		}
		if len(resp.Choices) == 0 {
			return verdict{}, resilience.Permanent(errors.New("llm returned no choices"))
		}
		return parseVerdict(resp.Choices[0].Message.Content)
	})
	if err != nil {
		return nil, fmt.Errorf("classify risk: %w", err)
	}

	level, _ := risk.Parse(v.RiskLevel)
	return &llm.Assessment{
		Risk:          level,
		Rationale:     v.Rationale,
		Confidence:    v.Confidence,
		Model:         c.model,
		PromptVersion: PromptVersion,
	}, nil
}

// Ping lists models to check that the endpoint answers.
func (c *Classifier) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("llm ping: %w", err)
	}
	return nil
}

func parseVerdict(content string) (verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return verdict{}, resilience.Permanent(fmt.Errorf("decode llm verdict: %w", err))
	}
	if _, ok := risk.Parse(v.RiskLevel); !ok {
		return verdict{}, resilience.Permanent(fmt.Errorf("llm returned risk_level %q", v.RiskLevel))
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		v.Confidence = 0
	}
	return v, nil
}

// classifyError marks client errors other than rate limits as permanent.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return resilience.Permanent(err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		code := reqErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return resilience.Permanent(err)
		}
	}
	return err
}

func buildPrompt(ev *llm.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\n", ev.Title)

	if len(ev.ChangeTypes) > 0 {
		b.WriteString("Change types defined by the repository policy:\n")
		for _, ct := range ev.ChangeTypes {
			fmt.Fprintf(&b, "- %s (%s): %s\n", ct.ID, ct.Risk, ct.Description)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Changed files (%d):\n", len(ev.Files))
	for _, f := range ev.Files {
		fmt.Fprintf(&b, "- %s (+%d -%d)\n", f.Path, f.AddedLines, f.RemovedLines)
	}
	b.WriteString("\n")

	if ev.Diff != "" {
		b.WriteString("Diff:\n")
		b.WriteString(ev.Diff)
		if !strings.HasSuffix(ev.Diff, "\n") {
			b.WriteString("\n")
		}
	}
	if ev.Truncated {
		b.WriteString("\nThe diff was truncated.")
		if len(ev.OmittedFiles) > 0 {
			fmt.Fprintf(&b, " Omitted files: %s.", strings.Join(ev.OmittedFiles, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
