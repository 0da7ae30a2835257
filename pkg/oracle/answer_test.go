package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstText(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "thinking", Text: "let me think"},
			{Type: "text", Text: "  Berlin \n"},
			{Type: "text", Text: "second block"},
		},
	}
	assert.Equal(t, "Berlin", FirstText(resp))
}

func TestFirstText_Empty(t *testing.T) {
	assert.Empty(t, FirstText(nil))
	assert.Empty(t, FirstText(&MessageResponse{}))
	assert.Empty(t, FirstText(&MessageResponse{Content: []ContentBlock{{Type: "tool_use"}}}))
}

func TestIsDecline(t *testing.T) {
	declines := []string{
		"",
		"unknown",
		"Unknown.",
		"  N/A ",
		"none",
		"I don't know the answer to that.",
		"I cannot determine the street address from the information given.",
		"Sorry, I'm unable to help with that.",
		"Unfortunately there is no public record of this.",
	}
	for _, text := range declines {
		assert.True(t, IsDecline(text), "expected decline: %q", text)
	}

	answers := []string{
		"Berlin",
		"operating",
		"https://acme.example",
		"742 Evergreen Terrace",
		"Yes",
		"No",
		"Naples", // starts with "na" but is a real answer
	}
	for _, text := range answers {
		assert.False(t, IsDecline(text), "expected answer: %q", text)
	}
}
