package oracle

import "strings"

// FirstText returns the trimmed text of the first text content block in a
// response, or "" when the response carries none.
func FirstText(resp *MessageResponse) string {
	if resp == nil {
		return ""
	}
	for _, b := range resp.Content {
		if b.Type == "text" {
			return strings.TrimSpace(b.Text)
		}
	}
	return ""
}

// declineExact are full answers that mean the oracle has no value to give.
// Prompts instruct the model to reply with exactly "unknown" when unsure,
// but models improvise, so close variants are covered too.
var declineExact = map[string]bool{
	"":          true,
	"unknown":   true,
	"unknown.":  true,
	"n/a":       true,
	"na":        true,
	"none":      true,
	"none.":     true,
	"no answer": true,
}

// declinePrefixes catch free-form refusals.
var declinePrefixes = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"i cannot",
	"i can't",
	"i'm unable",
	"i am unable",
	"sorry",
	"unfortunately",
}

// IsDecline reports whether a response text is a refusal rather than an
// answer. Downstream code leaves the target field absent on decline; it
// never substitutes a default.
func IsDecline(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if declineExact[t] {
		return true
	}
	for _, p := range declinePrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}
