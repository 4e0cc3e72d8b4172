package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"nimbus/internal/domain"
	"nimbus/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerProvider wraps an LLMProvider with circuit breaker protection.
// When the wrapped provider fails repeatedly, the circuit opens and subsequent
// calls fail fast without reaching the provider, preventing retry storms.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

// NewCircuitBreakerProvider wraps inner with a circuit breaker.
// Zero-valued config fields fall back to defaults.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &CircuitBreakerProvider{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Chat implements domain.LLMProvider. Calls are routed through the circuit breaker.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// ChatStream implements domain.StreamingLLMProvider if the inner provider supports it.
// The circuit breaker protects the initial connection; streaming errors after connection
// do not trip the breaker (they are returned through the channel).
func (p *CircuitBreakerProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	sp, ok := p.inner.(domain.StreamingLLMProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support streaming", p.inner.Name())
	}

	var ch <-chan domain.StreamDelta
	_, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		var streamErr error
		ch, streamErr = sp.ChatStream(ctx, req)
		return nil, streamErr
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("provider %q circuit open: %w", p.inner.Name(), err)
		}
		return nil, err
	}
	return ch, nil
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *CircuitBreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}

// Compile-time interface checks.
var (
	_ domain.LLMProvider          = (*CircuitBreakerProvider)(nil)
	_ domain.StreamingLLMProvider = (*CircuitBreakerProvider)(nil)
)

// Default provider timeouts.
const (
	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewHTTPClient creates an *http.Client with a pooled transport and
// timeout defaults suitable for LLM providers: few hosts, high
// concurrency, long-lived connections.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	respTimeout := cfg.RespTimeout
	if respTimeout == 0 {
		respTimeout = defaultRespTimeout
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: respTimeout,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       20,
			IdleConnTimeout:       120 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: connTimeout + respTimeout,
	}
}
