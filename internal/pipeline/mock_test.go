package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/venturescope/enrich-cli/internal/config"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

// fakeOracle is a scripted oracle.Client. The handler receives the 1-based
// call number and the user prompt and returns the response text or an
// error. In-flight calls are tracked for concurrency assertions.
type fakeOracle struct {
	handler func(call int, prompt string) (string, error)
	delay   time.Duration

	mu      sync.Mutex
	calls   int
	prompts []string

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (f *fakeOracle) CreateMessage(ctx context.Context, req oracle.MessageRequest) (*oracle.MessageResponse, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	prompt := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			prompt = m.Content
		}
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, prompt)
	handler := f.handler
	f.mu.Unlock()

	if handler == nil {
		return textResponse("unknown"), nil
	}
	text, err := handler(call, prompt)
	if err != nil {
		return nil, err
	}
	return textResponse(text), nil
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeOracle) seenPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

func textResponse(text string) *oracle.MessageResponse {
	return &oracle.MessageResponse{
		ID:         "fake-msg",
		Model:      "fake",
		Content:    []oracle.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      oracle.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}
}

// testOracleConfig returns an oracle config with backoffs and rates tuned
// so tests run fast.
func testOracleConfig() config.OracleConfig {
	return config.OracleConfig{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   64,
		TimeoutSecs: 5,
		RatePerSec:  1000,
		Burst:       1000,
		Retry: config.RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMs: 1,
			MaxBackoffMs:     5,
			Multiplier:       2.0,
		},
		Circuit: config.CircuitConfig{
			FailureThreshold: 100,
			ResetTimeoutSecs: 60,
		},
	}
}

func newTestAsker(f *fakeOracle) *Asker {
	return NewAsker(f, testOracleConfig())
}
