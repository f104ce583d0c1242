package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/callpilot/internal/llm"
	"github.com/soyeahso/callpilot/internal/logging"
	"github.com/soyeahso/callpilot/internal/resilience"
)

// FailoverClient tries a chain of providers in order, moving on when a
// provider fails with a retryable error.
type FailoverClient struct {
	chain []llm.Client
	log   *logging.Logger
}

// NewFailoverClient creates a client over the registry's failover chain:
// the primary provider first, then the configured fallbacks.
func NewFailoverClient(registry *llm.Registry, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		chain: registry.Chain(),
		log:   log.Sub("failover"),
	}
}

// Name reports the primary provider.
func (f *FailoverClient) Name() string {
	if len(f.chain) == 0 {
		return "none"
	}
	return f.chain[0].Name()
}

// Complete tries the primary provider, falling back on retryable errors.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(f.chain) == 0 {
		return nil, errors.New("no LLM provider configured")
	}

	var lastErr error
	for _, client := range f.chain {
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if isRetryable(err) && ctx.Err() == nil {
			f.log.Warn().
				Str("provider", client.Name()).
				Err(err).
				Msg("retryable error, trying next provider")
			continue
		}

		// Non-retryable: stop here.
		return nil, err
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused")
}
