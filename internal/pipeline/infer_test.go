package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturescope/enrich-cli/internal/model"
)

func TestInferMissingFillsCity(t *testing.T) {
	fake := &fakeOracle{handler: func(_ int, prompt string) (string, error) {
		require.Contains(t, prompt, "Beta")
		return "Berlin", nil
	}}
	rec := model.Record{Name: "Beta", Status: model.StatusOperating, HomepageURL: "http://beta.example"}

	res, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Berlin", rec.City)
	assert.False(t, rec.InferenceIncomplete)
	assert.Equal(t, 1, res.Inferred)
	assert.Equal(t, 1, fake.callCount(), "only the missing field is asked about")
}

func TestInferMissingSkipsPresentFields(t *testing.T) {
	fake := &fakeOracle{}
	rec := model.Record{
		Name:        "Acme",
		Status:      model.StatusOperating,
		HomepageURL: "http://acme.example",
		City:        "Austin",
	}

	res, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Inferred)
	assert.Zero(t, fake.callCount())
}

func TestInferDeclineLeavesFieldAbsent(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "unknown", nil
	}}
	rec := model.Record{Name: "Acme", Status: model.StatusOperating, HomepageURL: "http://acme.example"}

	res, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, nil)
	require.NoError(t, err)

	assert.Empty(t, rec.City)
	assert.False(t, rec.InferenceIncomplete, "a decline is not an error")
	assert.Equal(t, 1, res.Declined)
}

func TestInferTransientExhaustionMarksIncomplete(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "", context.DeadlineExceeded
	}}
	rec := model.Record{Name: "Acme", Status: model.StatusOperating, HomepageURL: "http://acme.example"}

	res, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, nil)
	require.NoError(t, err, "exhaustion is a per-record condition, not a batch error")

	assert.Empty(t, rec.City)
	assert.True(t, rec.InferenceIncomplete)
	assert.True(t, res.Incomplete)
	assert.Error(t, res.Err)
	assert.Equal(t, 3, fake.callCount(), "bounded by the retry budget")
}

func TestInferStatusNormalization(t *testing.T) {
	tests := []struct {
		answer     string
		wantStatus model.Status
		wantFilled bool
	}{
		{"operating", model.StatusOperating, true},
		{"IPO", model.StatusPublic, true},
		{"Acquired.", model.StatusAcquired, true},
		{"thriving", "", false},
		{"unknown", "", false}, // treated as a decline upstream
	}

	for _, tt := range tests {
		fake := &fakeOracle{handler: func(int, string) (string, error) {
			return tt.answer, nil
		}}
		rec := model.Record{Name: "Acme", HomepageURL: "http://acme.example", City: "Austin"}

		_, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, []string{FieldStatus})
		require.NoError(t, err)

		if tt.wantFilled {
			assert.Equal(t, tt.wantStatus, rec.Status, "answer %q", tt.answer)
		} else {
			assert.Empty(t, rec.Status, "answer %q must not be written back", tt.answer)
		}
	}
}

func TestInferHomepageNormalization(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "acme.example", nil
	}}
	rec := model.Record{Name: "Acme", Status: model.StatusOperating, City: "Austin"}

	_, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, []string{FieldHomepage})
	require.NoError(t, err)
	assert.Equal(t, "http://acme.example", rec.HomepageURL)
}

func TestInferHomepageRejectsProse(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "The homepage is probably acme.example or similar", nil
	}}
	rec := model.Record{Name: "Acme", Status: model.StatusOperating, City: "Austin"}

	res, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, []string{FieldHomepage})
	require.NoError(t, err)
	assert.Empty(t, rec.HomepageURL)
	assert.Equal(t, 1, res.Declined)
}

func TestInferPromptCarriesContext(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "Berlin", nil
	}}
	rec := model.Record{
		Name:        "Beta",
		Status:      model.StatusOperating,
		HomepageURL: "http://beta.example",
		FoundedYear: 2014,
		CountryCode: "DEU",
		Categories:  []string{"Fintech"},
	}

	_, err := InferMissing(context.Background(), &rec, newTestAsker(fake), nil, []string{FieldCity})
	require.NoError(t, err)

	prompts := fake.seenPrompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "founded in 2014")
	assert.Contains(t, prompts[0], "DEU")
	assert.Contains(t, prompts[0], "Fintech")
}

func TestCityAnswerTrimsQualifiers(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Berlin", "Berlin"},
		{"Berlin, Germany", "Berlin"},
		{"Berlin.", "Berlin"},
		{"Berlin (Germany)", "Berlin"},
		{"berlin", "berlin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cityAnswer(tt.in), "input %q", tt.in)
	}
}

func TestFieldMissing(t *testing.T) {
	rec := model.Record{Name: "Acme", Status: model.StatusUnknown, City: " "}
	assert.False(t, fieldMissing(&rec, FieldStatus), "unknown is a value, not an absence")
	assert.True(t, fieldMissing(&rec, FieldHomepage))
	assert.True(t, fieldMissing(&rec, FieldCity))
	assert.False(t, fieldMissing(&rec, "nonsense"))
}

func TestInferMissingFatalStopsRecord(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "Berlin", nil
	}}
	ask := newTestAsker(fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := model.Record{Name: "Beta"}
	_, err := InferMissing(ctx, &rec, ask, nil, nil)
	require.Error(t, err)
	assert.True(t, fatalOracleErr(ctx, err))
	assert.False(t, rec.InferenceIncomplete, "cancellation is not a record defect")
}
