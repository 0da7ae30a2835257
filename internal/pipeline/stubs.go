package pipeline

import (
	"context"
	"strings"

	"github.com/venturescope/enrich-cli/pkg/oracle"
)

// Compile-time interface check.
var _ oracle.Client = (*StubOracle)(nil)

// StubOracle implements oracle.Client with canned responses for offline
// runs and tests. It detects the question type from the prompt text and
// answers deterministically.
type StubOracle struct{}

// NewStubOracle creates an offline oracle.
func NewStubOracle() *StubOracle {
	return &StubOracle{}
}

// CreateMessage implements oracle.Client.
func (s *StubOracle) CreateMessage(_ context.Context, req oracle.MessageRequest) (*oracle.MessageResponse, error) {
	content := ""
	for _, m := range req.Messages {
		content += m.Content
	}
	lower := strings.ToLower(content)

	var responseText string
	switch {
	case strings.Contains(lower, "operational status"):
		responseText = "operating"
	case strings.Contains(lower, "homepage url"):
		responseText = "https://www.example.com"
	case strings.Contains(lower, "street address"):
		responseText = "100 Main Street"
	case strings.Contains(lower, "which city"):
		responseText = "Springfield"
	case strings.Contains(lower, "url valid"):
		responseText = "Yes"
	default:
		responseText = "unknown"
	}

	return &oracle.MessageResponse{
		ID:         "stub-msg-001",
		Model:      req.Model,
		Content:    []oracle.ContentBlock{{Type: "text", Text: responseText}},
		StopReason: "end_turn",
		Usage: oracle.TokenUsage{
			InputTokens:  int64(len(content) / 4),
			OutputTokens: int64(len(responseText) / 4),
		},
	}, nil
}
