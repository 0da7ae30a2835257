package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturescope/enrich-cli/internal/model"
)

func TestSynthesizeAddress(t *testing.T) {
	fake := &fakeOracle{handler: func(_ int, prompt string) (string, error) {
		assert.Contains(t, prompt, "Berlin")
		assert.Contains(t, prompt, "Beta")
		return `"12 Unter den Linden"`, nil
	}}
	rec := model.Record{Name: "Beta", City: "Berlin", CountryCode: "DEU"}

	res, err := SynthesizeAddress(context.Background(), &rec, newTestAsker(fake))
	require.NoError(t, err)

	assert.True(t, res.Synthesized)
	assert.Equal(t, "12 Unter den Linden", rec.StreetAddress, "quotes stripped")
}

func TestSynthesizeAddressDecline(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "unknown", nil
	}}
	rec := model.Record{Name: "Beta", City: "Berlin"}

	res, err := SynthesizeAddress(context.Background(), &rec, newTestAsker(fake))
	require.NoError(t, err)

	assert.True(t, res.Declined)
	assert.Empty(t, rec.StreetAddress)
	assert.False(t, rec.InferenceIncomplete)
}

func TestSynthesizeAddressTransientExhaustion(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "", transientErr()
	}}
	rec := model.Record{Name: "Beta", City: "Berlin"}

	res, err := SynthesizeAddress(context.Background(), &rec, newTestAsker(fake))
	require.NoError(t, err)

	assert.True(t, res.Incomplete)
	assert.True(t, rec.InferenceIncomplete)
	assert.Empty(t, rec.StreetAddress)
}

func TestSynthesizeAddressRequiresCity(t *testing.T) {
	fake := &fakeOracle{}
	rec := model.Record{Name: "Beta"}

	res, err := SynthesizeAddress(context.Background(), &rec, newTestAsker(fake))
	require.NoError(t, err)

	assert.True(t, res.Declined)
	assert.Zero(t, fake.callCount(), "no oracle call without a city")
}

func TestEnrichSynthesizesAfterCityInference(t *testing.T) {
	// The record starts without a city; the address prompt must carry the
	// city inferred earlier in the same pass.
	fake := &fakeOracle{handler: func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "which city") {
			return "Berlin", nil
		}
		if strings.Contains(prompt, "street address") {
			assert.Contains(t, prompt, "Berlin")
			return "12 Unter den Linden", nil
		}
		return "unknown", nil
	}}
	records := []model.Record{
		{Name: "Beta", Status: model.StatusOperating, HomepageURL: "http://beta.example", Stage: model.StageValidated},
	}

	summary, _, err := Enrich(context.Background(), records, newTestAsker(fake), DefaultRules(), EnrichOptions{Workers: 1})
	require.NoError(t, err)

	assert.Equal(t, "Berlin", records[0].City)
	assert.Equal(t, "12 Unter den Linden", records[0].StreetAddress)
	assert.Equal(t, 1, summary.Inferred)
	assert.Equal(t, 1, summary.Addresses)
	assert.Equal(t, model.StageAddressDone, records[0].Stage)
}

func TestEnrichSkipsAddressWhenCityUnresolved(t *testing.T) {
	fake := &fakeOracle{handler: func(int, string) (string, error) {
		return "unknown", nil
	}}
	records := []model.Record{
		{Name: "Beta", Status: model.StatusOperating, HomepageURL: "http://beta.example", Stage: model.StageValidated},
	}

	summary, _, err := Enrich(context.Background(), records, newTestAsker(fake), DefaultRules(), EnrichOptions{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AddressSkipped)
	assert.Empty(t, records[0].StreetAddress)
	for _, prompt := range fake.seenPrompts() {
		assert.NotContains(t, prompt, "street address", "synthesis must not run without a city")
	}
	assert.Equal(t, model.StageAddressDone, records[0].Stage)
}

func TestEnrichContinuesPastIncompleteRecords(t *testing.T) {
	// Alpha's oracle calls always time out; Beta's succeed. Alpha ends
	// incomplete, Beta is enriched, the batch completes.
	fake := &fakeOracle{handler: func(_ int, prompt string) (string, error) {
		if strings.Contains(prompt, "Alpha") {
			return "", context.DeadlineExceeded
		}
		if strings.Contains(prompt, "which city") {
			return "Berlin", nil
		}
		return "12 Unter den Linden", nil
	}}
	records := []model.Record{
		{Name: "Alpha", Status: model.StatusOperating, HomepageURL: "http://alpha.example", Stage: model.StageValidated},
		{Name: "Beta", Status: model.StatusOperating, HomepageURL: "http://beta.example", Stage: model.StageValidated},
	}

	var failures []string
	summary, _, err := Enrich(context.Background(), records, newTestAsker(fake), DefaultRules(), EnrichOptions{
		Workers: 1,
		OnFailure: func(_ int, rec model.Record, stage string, failErr error) {
			failures = append(failures, rec.Name+"/"+stage)
			assert.Error(t, failErr)
		},
	})
	require.NoError(t, err)

	assert.True(t, records[0].InferenceIncomplete)
	assert.Empty(t, records[0].City)
	assert.Equal(t, "Berlin", records[1].City)
	assert.Equal(t, 1, summary.Incomplete)
	assert.Equal(t, []string{"Alpha/infer"}, failures)
	for _, rec := range records {
		assert.Equal(t, model.StageAddressDone, rec.Stage, "no record silently skipped")
	}
}

func TestEnrichKeepsExistingAddress(t *testing.T) {
	fake := &fakeOracle{}
	records := []model.Record{{
		Name:          "Acme",
		Status:        model.StatusOperating,
		HomepageURL:   "http://acme.example",
		City:          "Austin",
		StreetAddress: "500 Congress Avenue",
		Stage:         model.StageValidated,
	}}

	_, _, err := Enrich(context.Background(), records, newTestAsker(fake), DefaultRules(), EnrichOptions{})
	require.NoError(t, err)

	assert.Equal(t, "500 Congress Avenue", records[0].StreetAddress)
	assert.Zero(t, fake.callCount())
}
