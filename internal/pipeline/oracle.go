package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/venturescope/enrich-cli/internal/config"
	"github.com/venturescope/enrich-cli/internal/resilience"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("pipeline: reducing oracle rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// Outcome tags an oracle reply after boundary normalization.
type Outcome int

const (
	// OutcomeAnswer means the oracle produced a usable value.
	OutcomeAnswer Outcome = iota
	// OutcomeDecline means the oracle had no value to give; the target
	// field stays absent and no error is raised.
	OutcomeDecline
)

// Reply is a normalized oracle response. Downstream code switches on the
// Outcome tag; raw response text never leaks past this boundary.
type Reply struct {
	Outcome Outcome
	Text    string
	Usage   oracle.TokenUsage
}

// Asker funnels every oracle call through one rate limiter, retry policy,
// and circuit breaker, and accumulates token usage across calls.
type Asker struct {
	client      oracle.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
	limiter     *AdaptiveLimiter
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker

	mu    sync.Mutex
	usage oracle.TokenUsage
}

// NewAsker builds an Asker from the oracle configuration.
func NewAsker(client oracle.Client, cfg config.OracleConfig) *Asker {
	rps := rate.Limit(cfg.RatePerSec)
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 256
	}

	retryCfg := resilience.FromRetryConfig(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)
	retryCfg.OnRetry = resilience.RetryLogger("oracle", "create_message")

	return &Asker{
		client:      client,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
		limiter:     NewAdaptiveLimiter(rps, burst),
		retry:       retryCfg,
		breaker:     resilience.NewCircuitBreaker(resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)),
	}
}

// Ask sends one prompt through the limiter, breaker, and retry policy and
// normalizes the response into a Reply. A returned error is either fatal
// (circuit open, context cancelled) or a transient failure that survived
// every retry.
func (a *Asker) Ask(ctx context.Context, system, prompt string) (Reply, error) {
	req := oracle.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Messages:    []oracle.Message{{Role: "user", Content: prompt}},
		Temperature: &a.temperature,
	}
	if system != "" {
		req.System = []oracle.SystemBlock{{Text: system}}
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*oracle.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*oracle.MessageResponse, error) {
			if waitErr := a.limiter.Wait(ctx); waitErr != nil {
				return nil, eris.Wrap(waitErr, "pipeline: rate limiter wait")
			}

			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			resp, callErr := a.client.CreateMessage(callCtx, req)
			if callErr != nil {
				callErr = classifyOracleErr(ctx, callErr)
				if resilience.IsRateLimit(callErr) {
					a.limiter.OnRateLimit()
				}
				return nil, callErr
			}
			a.limiter.OnSuccess()
			return resp, nil
		})
	})
	if err != nil {
		return Reply{}, eris.Wrap(err, "pipeline: ask oracle")
	}

	usage := resp.Usage
	a.mu.Lock()
	a.usage.Add(usage)
	a.mu.Unlock()

	text := oracle.FirstText(resp)
	if oracle.IsDecline(text) {
		return Reply{Outcome: OutcomeDecline, Usage: usage}, nil
	}
	return Reply{Outcome: OutcomeAnswer, Text: text, Usage: usage}, nil
}

// Usage returns the token usage accumulated across every call so far.
func (a *Asker) Usage() oracle.TokenUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// classifyOracleErr wraps retryable failures as TransientError. A deadline
// hit on the per-call timeout is transient while the parent context is
// still live; parent cancellation stays non-retryable.
func classifyOracleErr(parent context.Context, err error) error {
	if code := oracle.StatusCode(err); code != 0 && resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return resilience.NewTransientError(err, 0)
	}
	return err
}

// fatalOracleErr reports whether an Ask error should abort the whole stage
// rather than mark one record incomplete.
func fatalOracleErr(ctx context.Context, err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen) || ctx.Err() != nil
}
