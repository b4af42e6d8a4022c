package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ziadkadry99/cadence/internal/capture"
	"github.com/ziadkadry99/cadence/internal/entity"
	"github.com/ziadkadry99/cadence/internal/memory"
)

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	Model  string
	Logger *zap.Logger
	// Fallback handles extraction when the provider fails or answers with
	// something unparseable. Nil surfaces the error instead.
	Fallback capture.Extractor
	// MaxRetries bounds retries of rate-limited calls.
	MaxRetries int
	// RetryInterval is the first backoff delay.
	RetryInterval time.Duration
}

// Gateway adapts a Provider to the engine's extraction and summarization
// contracts.
type Gateway struct {
	provider Provider
	model    string
	logger   *zap.Logger
	fallback capture.Extractor
	retries  int
	interval time.Duration
}

var (
	_ capture.Extractor = (*Gateway)(nil)
	_ memory.Summarizer = (*Gateway)(nil)
)

// NewGateway creates a Gateway over p.
func NewGateway(p Provider, opts GatewayOptions) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Gateway{
		provider: p,
		model:    opts.Model,
		logger:   logger,
		fallback: opts.Fallback,
		retries:  retries,
		interval: interval,
	}
}

// Name reports the underlying provider.
func (g *Gateway) Name() string { return g.provider.Name() }

// Extract implements capture.Extractor.
func (g *Gateway) Extract(ctx context.Context, text string, now time.Time) (*capture.Extraction, error) {
	resp, err := g.complete(ctx, CompletionRequest{
		Model:       g.model,
		Messages:    extractMessages(text, now),
		MaxTokens:   512,
		Temperature: 0,
		JSONMode:    true,
	})
	if err == nil {
		var ext *capture.Extraction
		ext, err = parseExtraction(resp.Content, now)
		if err == nil {
			return ext, nil
		}
	}
	if g.fallback == nil || ctx.Err() != nil {
		return nil, err
	}
	g.logger.Warn("extraction fell back to rules", zap.String("provider", g.provider.Name()), zap.Error(err))
	return g.fallback.Extract(ctx, text, now)
}

// Summarize implements memory.Summarizer.
func (g *Gateway) Summarize(ctx context.Context, ep memory.Episode) (string, error) {
	resp, err := g.complete(ctx, CompletionRequest{
		Model:       g.model,
		Messages:    summarizeMessages(ep),
		MaxTokens:   256,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarize episode %s: empty response", ep.ID)
	}
	return summary, nil
}

// complete calls the provider, backing off on rate-limit and overload
// errors. Any other error is returned at once.
func (g *Gateway) complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = g.interval
	eb.MaxInterval = 2 * time.Minute
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(g.retries)), ctx)

	var resp *CompletionResponse
	err := backoff.Retry(func() error {
		r, err := g.provider.Complete(ctx, req)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			g.logger.Debug("provider throttled", zap.String("provider", g.provider.Name()), zap.Error(err))
			return err
		}
		resp = r
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", g.provider.Name(), err)
	}
	g.logger.Debug("completion",
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.String("finish", resp.FinishReason))
	return resp, nil
}

func retryable(err error) bool {
	if isTemporary(err) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "rate_limit") || strings.Contains(s, "rate limit") ||
		strings.Contains(s, "429") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "overloaded")
}

type rawExtraction struct {
	Intent      string   `json:"intent"`
	Action      string   `json:"action"`
	Deadline    string   `json:"deadline"`
	Project     string   `json:"project"`
	Person      string   `json:"person"`
	ContextTags []string `json:"context_tags"`
	Recurrence  string   `json:"recurrence"`
	Priority    int      `json:"priority"`
	Confidence  *float64 `json:"confidence"`
}

// parseExtraction reads a model's JSON answer. A missing confidence, an
// unknown intent or an unreadable deadline is an error so the caller can
// fall back rather than act on a guess.
func parseExtraction(raw string, now time.Time) (*capture.Extraction, error) {
	var r rawExtraction
	if err := json.Unmarshal([]byte(stripFences(raw)), &r); err != nil {
		return nil, fmt.Errorf("json parse: %w", err)
	}
	intent := capture.Intent(strings.ToLower(strings.TrimSpace(r.Intent)))
	if !intent.Valid() {
		return nil, fmt.Errorf("unknown intent %q", r.Intent)
	}
	if r.Confidence == nil || math.IsNaN(*r.Confidence) {
		return nil, fmt.Errorf("missing confidence")
	}
	ext := &capture.Extraction{
		Intent:      intent,
		Action:      strings.TrimSpace(r.Action),
		Project:     strings.TrimSpace(r.Project),
		Person:      strings.TrimSpace(r.Person),
		ContextTags: r.ContextTags,
		Priority:    r.Priority,
		Confidence:  math.Max(0, math.Min(1, *r.Confidence)),
	}
	if d := strings.TrimSpace(r.Deadline); d != "" {
		t, err := time.Parse(time.RFC3339, d)
		if err != nil {
			return nil, fmt.Errorf("deadline %q: %w", d, err)
		}
		t = t.In(now.Location())
		ext.Deadline = &t
	}
	switch rec := entity.Recurrence(strings.ToLower(strings.TrimSpace(r.Recurrence))); rec {
	case entity.RecurNone, entity.RecurDaily, entity.RecurWeekly, entity.RecurMonthly, entity.RecurYearly:
		ext.Recurrence = rec
	default:
		return nil, fmt.Errorf("unknown recurrence %q", r.Recurrence)
	}
	return ext, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	if len(lines) < 2 {
		return raw
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.Join(lines[1:end], "\n")
}
