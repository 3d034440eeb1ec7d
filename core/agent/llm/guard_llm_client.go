package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"guard_server/core/domain"
	"guard_server/core/port/out"
	"guard_server/pkg/httputil"
	"guard_server/pkg/logger"
	"guard_server/pkg/metrics"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const maxResponseBytes = 64 << 10

var errServerStatus = errors.New("provider server error")

// chatCompletionRequest mirrors the OpenAI request body. temperature is always sent,
// including zero.
type chatCompletionRequest struct {
	Model       string                         `json:"model"`
	Temperature float32                        `json:"temperature"`
	MaxTokens   int                            `json:"max_tokens"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

// Client calls one OpenAI-compatible chat-completion provider.
// It performs exactly one HTTP request per Complete call.
type Client struct {
	name    string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	latency *metrics.LatencyRegistry
	now     func() time.Time
}

// ClientConfig configures a provider client.
type ClientConfig struct {
	Name       string
	HTTPClient *http.Client
	Latency    *metrics.LatencyRegistry
	Now        func() time.Time

	// Breaker tuning; zero values use defaults.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

var _ out.ChatProvider = (*Client)(nil)

// NewClient creates a provider client with its own circuit breaker.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.ProviderClient()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	failures := uint32(5)
	if cfg.BreakerFailures > 0 {
		failures = uint32(cfg.BreakerFailures)
	}
	timeout := 30 * time.Second
	if cfg.BreakerTimeout > 0 {
		timeout = cfg.BreakerTimeout
	}

	cbSettings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("provider", name).Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Client{
		name:    cfg.Name,
		http:    cfg.HTTPClient,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		latency: cfg.Latency,
		now:     cfg.Now,
	}
}

// Name returns the provider identity.
func (c *Client) Name() string { return c.name }

// BreakerState returns the circuit breaker state name.
func (c *Client) BreakerState() string { return c.cb.State().String() }

// Complete performs one chat completion and classifies the outcome.
func (c *Client) Complete(ctx context.Context, req out.ChatRequest) domain.ChatOutcome {
	start := c.now()
	outcome := c.complete(ctx, req)
	outcome.Latency = c.now().Sub(start)

	if c.latency != nil {
		c.latency.Record(c.name, outcome.Kind.String(), outcome.Latency)
	}
	logger.WithFields(map[string]any{
		"provider": c.name,
		"model":    req.Model,
		"outcome":  outcome.Kind.String(),
		"status":   outcome.StatusCode,
	}).WithDuration(outcome.Latency).Debug("provider attempt")

	return outcome
}

func (c *Client) complete(ctx context.Context, req out.ChatRequest) domain.ChatOutcome {
	if strings.TrimSpace(req.APIKey) == "" {
		return transientOutcome(0, "missing api key", "")
	}

	payload, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	})
	if err != nil {
		return transientOutcome(0, fmt.Sprintf("encode request: %v", err), "")
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.do(ctx, req, payload)
	})
	resp, _ := result.(*rawResponse)

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return transientOutcome(0, "circuit open", syntheticBody("circuit_open", err.Error()))
	case resp == nil:
		msg := "transport failure"
		if err != nil {
			msg = err.Error()
		}
		return transientOutcome(0, msg, syntheticBody("transport", msg))
	}

	return c.classify(resp)
}

func (c *Client) do(ctx context.Context, req out.ChatRequest, payload []byte) (*rawResponse, error) {
	endpoint := strings.TrimRight(req.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithContext(ctx, c.http, httpReq)
	if err != nil {
		return nil, err
	}
	body, err := httputil.ReadBodyLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	raw := &rawResponse{status: resp.StatusCode, header: resp.Header, body: body}
	if resp.StatusCode >= 500 {
		return raw, errServerStatus
	}
	return raw, nil
}

// classify maps an HTTP response onto Success, RateLimited or TransientError.
func (c *Client) classify(resp *rawResponse) domain.ChatOutcome {
	now := c.now()
	body := string(resp.body)
	if body == "" {
		body = syntheticBody("empty_body", http.StatusText(resp.status))
	}

	switch {
	case resp.status == http.StatusTooManyRequests:
		return domain.ChatOutcome{
			Kind:         domain.OutcomeRateLimited,
			RetryAt:      BackoffUntil(resp.header, now),
			ProviderWide: true,
			Message:      errorMessage(resp.body, resp.status),
			StatusCode:   resp.status,
			RawBody:      body,
		}
	case resp.status < 200 || resp.status >= 300:
		return transientOutcome(resp.status, errorMessage(resp.body, resp.status), body)
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(resp.body, &completion); err != nil || len(completion.Choices) == 0 {
		return transientOutcome(resp.status, "unparseable completion body", body)
	}

	content := completion.Choices[0].Message.Content
	outcome := domain.ChatOutcome{
		Kind:       domain.OutcomeSuccess,
		Verdict:    ParseVerdict(content),
		Content:    content,
		TokenCount: completion.Usage.TotalTokens,
		StatusCode: resp.status,
		RawBody:    body,
	}
	if QuotaExhausted(resp.header) {
		outcome.ThrottleUntil = BackoffUntil(resp.header, now)
	}
	return outcome
}

func transientOutcome(status int, msg, body string) domain.ChatOutcome {
	if body == "" {
		body = syntheticBody("request", msg)
	}
	return domain.ChatOutcome{
		Kind:       domain.OutcomeTransientError,
		Message:    msg,
		StatusCode: status,
		RawBody:    body,
	}
}

func errorMessage(body []byte, status int) string {
	var er openai.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != nil && er.Error.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", status, er.Error.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}

func syntheticBody(kind, msg string) string {
	data, err := json.Marshal(map[string]string{"error": kind, "message": msg})
	if err != nil {
		return `{"error":"` + kind + `"}`
	}
	return string(data)
}
