package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/bizagent/internal/llm"
	"github.com/soyeahso/bizagent/internal/logging"
	"github.com/soyeahso/bizagent/internal/metrics"
)

// FailoverClient wraps a provider registry to try fallback models on failure.
// It implements llm.Client so the runner never knows failover is happening.
type FailoverClient struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary model first,
// then falls back through the list on retryable errors (401, 429, 5xx).
// m may be nil.
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, m *metrics.Metrics, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		metrics:   m,
		log:       log.Sub("failover"),
	}
}

// Name reports the provider serving the primary model.
func (f *FailoverClient) Name() string {
	if c, err := f.registry.Resolve(f.primary); err == nil {
		return c.Name()
	}
	return "failover"
}

func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return failover(ctx, f, req, llm.Client.Complete)
}

// Stream fails over only while opening the stream. Errors inside an open
// stream reach the caller as events.
func (f *FailoverClient) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	return failover(ctx, f, req, llm.Client.Stream)
}

// failover walks the primary model and then the fallbacks until one call
// succeeds or fails with an error another provider would not fix.
func failover[T any](ctx context.Context, f *FailoverClient, req llm.CompletionRequest,
	call func(llm.Client, context.Context, llm.CompletionRequest) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for _, model := range append([]string{f.primary}, f.fallbacks...) {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = model
		out, err := call(client, ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		f.metrics.RecordProviderError(client.Name())

		if !isRetryable(err) || ctx.Err() != nil {
			return zero, err
		}
		f.log.Warn().Str("model", model).Err(err).Msg("retryable error, trying next provider")
	}
	return zero, lastErr
}

// isRetryable reports whether another provider might succeed where this one
// failed: auth and quota errors, overload and 5xx.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"overloaded", "rate limit", "capacity", "timeout"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
