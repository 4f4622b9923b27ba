package summarize

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/hostscope/internal/config"
	"github.com/jmerrifield20/hostscope/internal/normalize"
)

// Request is a single provider call.
type Request struct {
	Prompt    string
	Model     string
	MaxTokens int
	Host      *normalize.Host
}

// Provider produces a raw JSON summary for a rendered prompt. Failures should
// be reported as *ProviderError where a status or code is known. Summarize
// must return promptly once ctx is done.
type Provider interface {
	Summarize(ctx context.Context, req Request) ([]byte, error)
}

// SimulatedProvider answers with the fallback summary after a short delay.
// It is used when no live provider is configured for the selected name.
type SimulatedProvider struct {
	Delay time.Duration
}

// NewSimulatedProvider returns a SimulatedProvider with a 5ms delay.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{Delay: 5 * time.Millisecond}
}

// Summarize implements Provider.
func (p *SimulatedProvider) Summarize(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return json.Marshal(Fallback(req.Host))
}

// NewProvider selects a Provider for cfg. Names without a live client get
// the SimulatedProvider.
func NewProvider(cfg config.LLM, logger *zap.Logger) Provider {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey)
	default:
		logger.Info("summarize: no live client for provider, using simulated responses",
			zap.String("provider", cfg.Provider),
		)
		return NewSimulatedProvider()
	}
}
