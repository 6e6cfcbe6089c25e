package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
	"github.com/kirillkom/invoiceflow/internal/infrastructure/resilience"
)

// Client talks to an OpenAI-compatible chat completions endpoint. Each Client
// is built per configuration by the provider factory; there is no process-wide
// singleton, so tests and multi-tenant setups can run several side by side.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	pricing    Pricing
	httpClient *http.Client
	executor   *resilience.Executor
}

// Pricing is USD per million tokens.
type Pricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

type Options struct {
	Timeout            time.Duration
	Pricing            *Pricing
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, apiKey, model string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	pricing := defaultPricing(model)
	if options.Pricing != nil {
		pricing = *options.Pricing
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		pricing:    pricing,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one extraction request and returns the structured fields.
// The model reply is validated against the response schema before it is
// trusted; a reply that fails validation is an error, never a partial result.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResult, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.Instructions},
			{Role: "user", Content: req.Text},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var response chatResponse
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/v1/chat/completions", payload, &response)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "openai.complete", call, classifyCompletionError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return ports.CompletionResult{}, wrapTemporaryIfNeeded("ai completion", err)
	}

	if len(response.Choices) == 0 {
		return ports.CompletionResult{}, fmt.Errorf("completion returned no choices")
	}
	content := []byte(extractJSONObject(response.Choices[0].Message.Content))

	if req.ResponseSchema != nil {
		if err := validateAgainstSchema(req.ResponseSchema, content); err != nil {
			return ports.CompletionResult{}, fmt.Errorf("completion failed schema validation: %w", err)
		}
	}

	var fields map[string]any
	if err := json.Unmarshal(content, &fields); err != nil {
		return ports.CompletionResult{}, fmt.Errorf("parse completion json: %w", err)
	}

	return ports.CompletionResult{
		Fields: fields,
		Raw:    content,
		Usage: domain.TokenUsage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
	}, nil
}

// EstimateCost converts token usage into USD using the configured pricing.
func (c *Client) EstimateCost(usage domain.TokenUsage) float64 {
	return float64(usage.PromptTokens)/1e6*c.pricing.PromptPerMTok +
		float64(usage.CompletionTokens)/1e6*c.pricing.CompletionPerMTok
}

func defaultPricing(model string) Pricing {
	switch {
	case strings.HasPrefix(model, "gpt-4o-mini"):
		return Pricing{PromptPerMTok: 0.15, CompletionPerMTok: 0.60}
	case strings.HasPrefix(model, "gpt-4o"):
		return Pricing{PromptPerMTok: 2.50, CompletionPerMTok: 10.00}
	default:
		return Pricing{PromptPerMTok: 1.00, CompletionPerMTok: 3.00}
	}
}

// extractJSONObject trims prose or code fences some models wrap around the
// JSON body.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
