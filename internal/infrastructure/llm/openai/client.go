package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/modelhttp"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/structured"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

// Pricing converts token counts to an estimated cost.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*p.PromptPer1K + float64(completionTokens)/1000*p.CompletionPer1K
}

// Client talks to any OpenAI-compatible chat/completions endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	executor    *resilience.Executor
	limiter     *rate.Limiter
	usage       ports.UsageRecorder
	validator   ports.ResultValidator
	pricing     Pricing
	callTimeout time.Duration
}

type Option func(*Client)

func WithExecutor(e *resilience.Executor) Option {
	return func(c *Client) { c.executor = e }
}

func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithUsageRecorder(r ports.UsageRecorder) Option {
	return func(c *Client) { c.usage = r }
}

func WithValidator(v ports.ResultValidator) Option {
	return func(c *Client) { c.validator = v }
}

func WithPricing(p Pricing) Option {
	return func(c *Client) { c.pricing = p }
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func New(baseURL, apiKey string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com/v1"
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		validator:   structured.NewValidator(),
		callTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatCall struct {
	role       string
	model      string
	documentID string
	prompt     structured.Prompt
	images     [][]byte
	accept     func(content []byte) error
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) chat(ctx context.Context, call chatCall) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("openai %s rate limit: %w", call.role, err)
		}
	}

	body := map[string]any{
		"model":           call.model,
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": call.prompt.System},
			{"role": "user", "content": userContent(call.prompt.User, call.images)},
		},
	}

	op := "openai." + call.role
	started := time.Now()
	err := c.executor.Execute(ctx, op, func(callCtx context.Context) error {
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, c.callTimeout)
			defer cancel()
		}
		attemptStarted := time.Now()
		var resp completionResponse
		if err := c.endpoint().PostJSON(callCtx, "/chat/completions", body, &resp, call.role); err != nil {
			c.recordUsage(ctx, call, completionResponse{}, time.Since(attemptStarted), true)
			return err
		}
		c.recordUsage(callCtx, call, resp, time.Since(attemptStarted), false)
		if len(resp.Choices) == 0 {
			return &structured.OutputError{Err: fmt.Errorf("no choices in response")}
		}
		content := structured.ExtractJSONObject(strings.TrimSpace(resp.Choices[0].Message.Content))
		return call.accept([]byte(content))
	}, modelhttp.Classify)
	if err != nil {
		slog.Warn("model_call_failed",
			"operation", op,
			"model", call.model,
			"document_id", call.documentID,
			"elapsed_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return modelhttp.WrapTemporary(op, err)
	}
	slog.Debug("model_call_ok",
		"operation", op,
		"model", call.model,
		"document_id", call.documentID,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

func (c *Client) endpoint() modelhttp.Endpoint {
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return modelhttp.Endpoint{Provider: "openai", BaseURL: c.baseURL, Header: header, Client: c.httpClient}
}

func (c *Client) recordUsage(ctx context.Context, call chatCall, resp completionResponse, elapsed time.Duration, failed bool) {
	if c.usage == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = call.model
	}
	c.usage.Record(ctx, domain.ModelUsage{
		Role:             call.role,
		Model:            "openai:" + model,
		DocumentID:       call.documentID,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		CostUSD:          c.pricing.Cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		Duration:         elapsed,
		Failed:           failed,
	})
}

// userContent uses the multi-part form only when images are attached.
func userContent(text string, images [][]byte) any {
	if len(images) == 0 {
		return text
	}
	parts := make([]map[string]any, 0, len(images)+1)
	parts = append(parts, map[string]any{"type": "text", "text": text})
	for _, img := range images {
		url := "data:" + mimetype.Detect(img).String() + ";base64," + base64.StdEncoding.EncodeToString(img)
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": url},
		})
	}
	return parts
}
