// Package estimator drives the reasoning-service takeoff for runs the
// fast path could not handle.
package estimator

import (
	"context"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/model"
	"github.com/sells-group/takeoff-worker/internal/resilience"
	"github.com/sells-group/takeoff-worker/pkg/anthropic"
)

// maxConcurrentDocs bounds the per-document fan-out.
const maxConcurrentDocs = 3

// DocumentInput is one document's pages ready for estimation.
type DocumentInput struct {
	Document model.Document
	Pages    []model.PageText
}

// Estimator sends document text to the reasoning service and parses the
// structured takeoff it returns.
type Estimator struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// New builds an Estimator. Zero config fields fall back to the documented
// defaults.
func New(client anthropic.Client, cfg config.AnthropicConfig) *Estimator {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 120
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 30
	}
	if cfg.MaxCharsPerPage <= 0 {
		cfg.MaxCharsPerPage = 6000
	}

	return &Estimator{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMin/60.0), 1),
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry: resilience.RetryConfig{
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.25,
			ShouldRetry:    shouldRetry,
		},
	}
}

// Estimate fans out one request per document, merges the structured
// results, then runs a verification pass over the merged items.
func (e *Estimator) Estimate(ctx context.Context, tradeCode string, docs []DocumentInput) (*model.EstimateResult, []model.EvidenceSnippet, error) {
	if len(docs) == 0 {
		return nil, nil, eris.New("estimator: no documents to estimate")
	}

	system := anthropic.BuildCachedSystemBlocks(systemPrompt)

	if len(docs) > 1 {
		e.warmCache(ctx, system)
	}

	payloads := make([]*payload, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDocs)
	for i, doc := range docs {
		g.Go(func() error {
			p, err := e.estimateDocument(gctx, system, tradeCode, doc)
			if err != nil {
				return eris.Wrapf(err, "estimator: document %s", doc.Document.Filename)
			}
			payloads[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	result := &model.EstimateResult{}
	var snippets []model.EvidenceSnippet
	for _, p := range payloads {
		result.Items = append(result.Items, p.Items...)
		result.DiscrepancyLog = append(result.DiscrepancyLog, p.DiscrepancyLog...)
		result.MissingItems = append(result.MissingItems, p.MissingItems...)
		result.ReviewFlags = append(result.ReviewFlags, p.ReviewFlags...)
		snippets = append(snippets, p.Evidence...)
	}

	// The items are already evidence-backed; a failed cross-check loses
	// only the audit payload, so it does not fail the run.
	verification, err := e.verify(ctx, result.Items, snippets)
	if err != nil {
		zap.L().Warn("verification pass failed", zap.Error(err))
	} else {
		result.Verification = verification
	}

	return result, snippets, nil
}

func (e *Estimator) estimateDocument(ctx context.Context, system []anthropic.SystemBlock, tradeCode string, doc DocumentInput) (*payload, error) {
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      system,
		Temperature: ptr(0.0),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildDocumentPrompt(doc.Document, doc.Pages, tradeCode, e.cfg.MaxCharsPerPage)},
		},
	}

	resp, err := e.complete(ctx, req, "estimate")
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(e.cfg.Model, "estimate")

	p, err := parsePayload(resp.Text())
	if err != nil {
		return nil, err
	}

	zap.L().Info("document estimated",
		zap.String("document_id", doc.Document.ID),
		zap.String("filename", doc.Document.Filename),
		zap.Int("items", len(p.Items)),
		zap.Int("snippets", len(p.Evidence)),
	)
	return p, nil
}

func (e *Estimator) verify(ctx context.Context, items []model.EstimateItem, snippets []model.EvidenceSnippet) (*model.Verification, error) {
	req := anthropic.MessageRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		System:      []anthropic.SystemBlock{{Text: verifySystemPrompt}},
		Temperature: ptr(0.0),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildVerifyPrompt(items, snippets)},
		},
	}

	resp, err := e.complete(ctx, req, "verify")
	if err != nil {
		return nil, eris.Wrap(err, "estimator: verification pass")
	}
	resp.Usage.LogCost(e.cfg.Model, "verify")

	return parseVerification(resp.Text())
}

// complete issues one rate-limited request with per-attempt timeouts,
// retry on transient failures, and the shared circuit breaker.
func (e *Estimator) complete(ctx context.Context, req anthropic.MessageRequest, phase string) (*anthropic.MessageResponse, error) {
	retryCfg := e.retry
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", phase)

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
		defer cancel()
		return resilience.ExecuteVal(attemptCtx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return e.client.CreateMessage(ctx, req)
		})
	})
}

// warmCache sends a primer so the fan-out hits a warm prompt cache.
// Failure here only costs money, not correctness.
func (e *Estimator) warmCache(ctx context.Context, system []anthropic.SystemBlock) {
	if err := e.limiter.Wait(ctx); err != nil {
		return
	}
	req := anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: 16,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: "Acknowledge readiness."}},
	}
	resp, err := anthropic.PrimerRequest(ctx, e.client, req)
	if err != nil {
		zap.L().Warn("prompt cache primer failed", zap.Error(err))
		return
	}
	resp.Usage.LogCost(e.cfg.Model, "primer")
}

func shouldRetry(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return resilience.IsTransient(err)
}

func ptr[T any](v T) *T {
	return &v
}
