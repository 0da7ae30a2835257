package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturescope/enrich-cli/internal/model"
)

func TestVerifyDecidesEachURL(t *testing.T) {
	fake := &fakeOracle{handler: func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "dead.example") {
			return "No", nil
		}
		return "Yes.", nil
	}}

	records := []model.Record{
		{Name: "Live", HomepageURL: "https://live.example"},
		{Name: "Dead", HomepageURL: "https://dead.example"},
		{Name: "NoSite"},
		{Name: "Done", HomepageURL: "https://done.example", URLValidity: model.URLValid},
	}

	summary, usage, err := Verify(context.Background(), records, newTestAsker(fake), VerifyOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.URLValid, records[0].URLValidity)
	assert.Equal(t, model.URLInvalid, records[1].URLValidity)
	assert.Empty(t, records[2].URLValidity)
	assert.Equal(t, model.URLValid, records[3].URLValidity)

	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Valid)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.NoURL)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, fake.callCount(), "decided and URL-less records cost nothing")
	assert.Positive(t, usage.InputTokens)
}

func TestVerifyAmbiguousAnswersLandUnchecked(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "it depends on the definition of valid", nil
	}}

	records := []model.Record{{Name: "Vague", HomepageURL: "https://vague.example"}}
	summary, _, err := Verify(context.Background(), records, newTestAsker(fake), VerifyOptions{MaxAttempts: 3})
	require.NoError(t, err)

	assert.Equal(t, model.URLUnchecked, records[0].URLValidity)
	assert.Equal(t, 1, summary.Unchecked)
	assert.Equal(t, 3, fake.callCount(), "every attempt burned on ambiguity")
}

func TestVerifyDeclineBurnsAttempts(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "unknown", nil
	}}

	records := []model.Record{{Name: "Shy", HomepageURL: "https://shy.example"}}
	summary, _, err := Verify(context.Background(), records, newTestAsker(fake), VerifyOptions{MaxAttempts: 2})
	require.NoError(t, err)

	assert.Equal(t, model.URLUnchecked, records[0].URLValidity)
	assert.Equal(t, 1, summary.Unchecked)
	assert.Equal(t, 2, fake.callCount())
}

func TestVerifyConcurrencyBounded(t *testing.T) {
	fake := &fakeOracle{
		handler: func(int, string) (string, error) { return "Yes", nil },
		delay:   5 * time.Millisecond,
	}

	records := make([]model.Record, 16)
	for i := range records {
		records[i] = model.Record{Name: "Co", HomepageURL: "https://co.example"}
	}

	summary, _, err := Verify(context.Background(), records, newTestAsker(fake), VerifyOptions{Workers: 4})
	require.NoError(t, err)

	assert.Equal(t, 16, summary.Checked, "pool join leaves no record behind")
	assert.Equal(t, 16, summary.Valid)
	assert.LessOrEqual(t, fake.maxInFlight.Load(), int64(4), "pool bound holds")
}

func TestVerifyTransientFailureParksRecord(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "", transientErr()
	}}

	var parked []int
	records := []model.Record{{Name: "Flaky", HomepageURL: "https://flaky.example"}}
	summary, _, err := Verify(context.Background(), records, newTestAsker(fake), VerifyOptions{
		OnFailure: func(pos int, _ model.Record, failErr error) {
			require.Error(t, failErr)
			parked = append(parked, pos)
		},
	})
	require.NoError(t, err, "a transient record failure is not fatal to the batch")

	assert.Equal(t, model.URLUnchecked, records[0].URLValidity)
	assert.Equal(t, 1, summary.Unchecked)
	assert.Equal(t, []int{0}, parked)
}

func TestYesNo(t *testing.T) {
	tests := []struct {
		answer string
		want   string
	}{
		{"Yes", "yes"},
		{"yes.", "yes"},
		{"YES, it is live", "yes"},
		{"No", "no"},
		{"no!", "no"},
		{"Probably", ""},
		{"", ""},
		{"The URL is valid", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, yesNo(tt.answer), "answer %q", tt.answer)
	}
}
