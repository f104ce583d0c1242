package llm

import (
	"context"
	"errors"

	"github.com/soyeahso/callpilot/internal/logging"
	"github.com/soyeahso/callpilot/internal/resilience"
)

// Guarded wraps a Client in a circuit breaker so a provider that keeps
// failing is skipped until its reset timeout elapses.
type Guarded struct {
	inner   Client
	breaker *resilience.Breaker
}

// Guard wraps c with a breaker named after the provider.
func Guard(c Client, cfg resilience.Config, log *logging.Logger) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "llm." + c.Name()
	}
	return &Guarded{inner: c, breaker: resilience.New(cfg, log)}
}

func (g *Guarded) Name() string { return g.inner.Name() }

// Breaker exposes the underlying breaker for status reporting.
func (g *Guarded) Breaker() *resilience.Breaker { return g.breaker }

func (g *Guarded) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.inner.Complete(ctx, req)
		return err
	}, callerFault)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// callerFault reports errors that say nothing about provider health.
func callerFault(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	code := StatusCode(err)
	return code == 400 || code == 404 || code == 422
}
