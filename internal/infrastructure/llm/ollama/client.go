package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/docextract/internal/core/domain"
	"github.com/kirillkom/docextract/internal/core/ports"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/modelhttp"
	"github.com/kirillkom/docextract/internal/infrastructure/llm/structured"
	"github.com/kirillkom/docextract/internal/infrastructure/resilience"
)

type Client struct {
	baseURL     string
	httpClient  *http.Client
	executor    *resilience.Executor
	limiter     *rate.Limiter
	usage       ports.UsageRecorder
	validator   ports.ResultValidator
	callTimeout time.Duration
}

type Option func(*Client)

func WithExecutor(e *resilience.Executor) Option {
	return func(c *Client) { c.executor = e }
}

// WithRateLimit caps model calls per second. Zero disables the limiter.
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

func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		validator:   structured.NewValidator(),
		callTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OCREngine reads page images and poor text layers with a vision model.
type OCREngine struct {
	client *Client
	model  string
}

func NewOCREngine(client *Client, model string) *OCREngine {
	return &OCREngine{client: client, model: model}
}

func (e *OCREngine) Route() domain.Route {
	return domain.RouteOCR
}

func (e *OCREngine) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResult, error) {
	prompt := buildOCRPrompt(req)
	engine := "ollama:" + e.model

	var result *domain.ExtractionResult
	err := e.client.chat(ctx, chatCall{
		operation:  "extract",
		model:      e.model,
		documentID: req.DocumentID,
		prompt:     prompt,
		images:     req.Images,
		format:     structured.ExtractionSchema(req.Schema),
		accept: func(content []byte) error {
			if err := e.client.validator.ValidateExtraction(req.Schema, content); err != nil {
				return err
			}
			parsed, err := structured.ParseExtraction(content, engine)
			if err != nil {
				return err
			}
			result = parsed
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Checker cross-checks extracted data with a local model.
type Checker struct {
	client *Client
	model  string
}

func NewChecker(client *Client, model string) *Checker {
	return &Checker{client: client, model: model}
}

func (c *Checker) Check(ctx context.Context, req domain.VerificationRequest) ([]domain.VerificationIssue, error) {
	var issues []domain.VerificationIssue
	err := c.client.chat(ctx, chatCall{
		operation:  "check",
		model:      c.model,
		documentID: req.DocumentID,
		prompt:     structured.CheckPrompt(req),
		format:     structured.IssuesSchema(),
		accept: func(content []byte) error {
			if err := c.client.validator.ValidateIssues(content); err != nil {
				return err
			}
			parsed, err := structured.ParseIssues(content)
			if err != nil {
				return err
			}
			issues = parsed
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}

type chatCall struct {
	operation  string
	model      string
	documentID string
	prompt     structured.Prompt
	images     [][]byte
	format     map[string]any
	// accept validates and maps the answer; its error makes the attempt fail.
	accept func(content []byte) error
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (c *Client) chat(ctx context.Context, call chatCall) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ollama %s rate limit: %w", call.operation, err)
		}
	}

	user := chatMessage{Role: "user", Content: call.prompt.User}
	for _, img := range call.images {
		user.Images = append(user.Images, base64.StdEncoding.EncodeToString(img))
	}
	request := map[string]any{
		"model":    call.model,
		"stream":   false,
		"format":   call.format,
		"options":  map[string]any{"temperature": 0},
		"messages": []chatMessage{{Role: "system", Content: call.prompt.System}, user},
	}

	op := "ollama." + call.operation
	err := c.executor.Execute(ctx, op, func(callCtx context.Context) error {
		if c.callTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, c.callTimeout)
			defer cancel()
		}
		started := time.Now()
		var response chatResponse
		if err := c.endpoint().PostJSON(callCtx, "/api/chat", request, &response, call.operation); err != nil {
			c.recordUsage(ctx, call, chatResponse{}, time.Since(started), true)
			return err
		}
		c.recordUsage(callCtx, call, response, time.Since(started), false)

		content := []byte(structured.ExtractJSONObject(strings.TrimSpace(response.Message.Content)))
		return call.accept(content)
	}, modelhttp.Classify)
	if err != nil {
		slog.Warn("model_call_failed", "operation", op, "model", call.model, "document_id", call.documentID, "error", err)
		return modelhttp.WrapTemporary(op, err)
	}
	return nil
}

func (c *Client) endpoint() modelhttp.Endpoint {
	return modelhttp.Endpoint{Provider: "ollama", BaseURL: c.baseURL, Client: c.httpClient}
}

func (c *Client) recordUsage(ctx context.Context, call chatCall, resp chatResponse, elapsed time.Duration, failed bool) {
	if c.usage == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = call.model
	}
	c.usage.Record(ctx, domain.ModelUsage{
		Role:             call.operation,
		Model:            "ollama:" + model,
		DocumentID:       call.documentID,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		Duration:         elapsed,
		Failed:           failed,
	})
}
