// Package summarize turns normalised hosts into analyst summaries.
//
// The Engine calls a Provider with bounded retries and a per-attempt
// timeout, and always returns a usable Result: provider failures are folded
// into a deterministic fallback summary tagged with an ErrorKind.
package summarize

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/config"
	"github.com/jmerrifield20/hostscope/internal/normalize"
	"github.com/jmerrifield20/hostscope/internal/prompt"
)

const missingKeyMessage = "LLM_API_KEY is not configured. Add credentials to enable live summaries."

// Summarizer is anything that can summarise a single host.
type Summarizer interface {
	SummarizeHost(ctx context.Context, h *normalize.Host) Result
}

// MetricsRecorder is an optional callback invoked once per SummarizeHost.
type MetricsRecorder func(kind ErrorKind, attempts int, duration time.Duration)

// response is the shape a provider payload must satisfy.
type response struct {
	Highlights []string `json:"highlights" validate:"required"`
	Risks      []string `json:"risks" validate:"required"`
	Narrative  *string  `json:"narrative" validate:"required"`
}

// Engine runs the per-host summarisation state machine.
type Engine struct {
	provider  Provider
	cfg       config.LLM
	validate  *validator.Validate
	clock     clockwork.Clock
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// NewEngine creates an Engine. cfg is copied and not re-read.
func NewEngine(provider Provider, cfg config.LLM, logger *zap.Logger) *Engine {
	return &Engine{
		provider: provider,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
}

// SetClock replaces the clock used for durations and backoff waits.
func (e *Engine) SetClock(c clockwork.Clock) {
	e.clock = c
}

// SetMetricsRecorder configures the metrics callback.
func (e *Engine) SetMetricsRecorder(fn MetricsRecorder) {
	e.onMetrics = fn
}

// SummarizeHost summarises h. It never panics on provider failure and never
// returns an error: failures are reported through Result.ErrorKind.
func (e *Engine) SummarizeHost(ctx context.Context, h *normalize.Host) Result {
	start := e.clock.Now()
	payload := prompt.Build(h, prompt.Options{MaxTokens: e.cfg.MaxTokens})
	meta := Meta{
		Provider:         e.cfg.Provider,
		PromptVersion:    payload.Version,
		PromptCharacters: payload.Characters,
		MaxTokens:        e.cfg.MaxTokens,
	}

	if e.cfg.APIKey == "" {
		res := fallbackResult(h, KindMissingConfig, missingKeyMessage, meta)
		e.record(res)
		return res
	}

	req := Request{Prompt: payload.Prompt, Model: e.cfg.Model, MaxTokens: e.cfg.MaxTokens, Host: h}
	retries := e.cfg.Retries
	if retries < 0 {
		retries = 0
	}

	var (
		attempts int
		summary  Summary
		lastErr  *Error
	)
	boff := newLinearBackOff(100*time.Millisecond, time.Second)

	op := func() error {
		attempts++
		s, err := e.attempt(ctx, req)
		if err == nil {
			summary = s
			return nil
		}
		lastErr = err
		lastErr.Attempts = attempts
		boff.retryAfter = err.RetryAfter
		if !err.Retriable {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("summarize: attempt failed",
			zap.String("ip", h.IP),
			zap.Int("attempt", attempts),
			zap.String("error_kind", string(lastErr.Kind)),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(boff, uint64(retries)), ctx)
	err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: e.clock})

	meta.Attempts = attempts
	meta.DurationMs = e.clock.Since(start).Milliseconds()

	if err == nil {
		res := Result{
			Highlights: summary.Highlights,
			Risks:      summary.Risks,
			Narrative:  summary.Narrative,
			ErrorKind:  KindNone,
			Meta:       meta,
		}
		e.record(res)
		return res
	}

	// A cancelled backoff wait returns ctx.Err(); the last attempt's
	// classification still describes the failure.
	if lastErr == nil {
		lastErr = &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
	}
	e.logger.Info("summarize: using fallback summary",
		zap.String("ip", h.IP),
		zap.String("error_kind", string(lastErr.Kind)),
		zap.Int("attempts", attempts),
	)
	res := fallbackResult(h, lastErr.Kind, lastErr.Message, meta)
	e.record(res)
	return res
}

// attempt runs one provider call under the per-attempt timeout and validates
// the payload.
func (e *Engine) attempt(ctx context.Context, req Request) (Summary, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	raw, err := e.call(attemptCtx, req)
	if err != nil {
		return Summary{}, classify(err, ctx, attemptCtx, e.cfg.Timeout)
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Summary{}, invalidResponse(err)
	}
	if err := e.validate.Struct(&resp); err != nil {
		return Summary{}, invalidResponse(err)
	}
	return Summary{Highlights: resp.Highlights, Risks: resp.Risks, Narrative: *resp.Narrative}, nil
}

// call shields the engine from a panicking provider.
func (e *Engine) call(ctx context.Context, req Request) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindUnknown, Message: "provider panicked", Retriable: true}
			e.logger.Error("summarize: provider panic", zap.Any("panic", r))
		}
	}()
	raw, err = e.provider.Summarize(ctx, req)
	if err == nil && ctx.Err() != nil {
		// Late answers past the deadline count as timeouts.
		err = ctx.Err()
	}
	return raw, err
}

func (e *Engine) record(res Result) {
	if e.onMetrics != nil {
		e.onMetrics(res.ErrorKind, res.Meta.Attempts, time.Duration(res.Meta.DurationMs)*time.Millisecond)
	}
}

func invalidResponse(err error) *Error {
	return &Error{Kind: KindInvalidResponse, Message: "Provider returned an invalid response payload.", Err: err}
}

// ── Backoff ───────────────────────────────────────────────────────────────────

// linearBackOff waits base*n (capped at max) before retry n, unless the last
// failure carried a provider retry-after hint, which is used once instead.
type linearBackOff struct {
	base, max  time.Duration
	n          int
	retryAfter time.Duration
}

func newLinearBackOff(base, limit time.Duration) *linearBackOff {
	return &linearBackOff{base: base, max: limit}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	if b.retryAfter > 0 {
		d := b.retryAfter
		b.retryAfter = 0
		return d
	}
	d := b.base * time.Duration(b.n)
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *linearBackOff) Reset() {
	b.n = 0
	b.retryAfter = 0
}

// clockTimer adapts a clockwork.Clock to backoff.Timer.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
