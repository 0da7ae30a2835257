package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/venturescope/enrich-cli/internal/model"
)

func TestComputeRunStats(t *testing.T) {
	now := time.Now()
	runs := []model.Run{
		{
			Status:    model.RunStatusComplete,
			CreatedAt: now.Add(-10 * time.Second),
			UpdatedAt: now,
			Result:    &model.RunResult{Records: 100, TotalTokens: 5000, TotalCost: 0.25},
		},
		{Status: model.RunStatusFailed, CreatedAt: now, UpdatedAt: now},
		{Status: model.RunStatusEnriching, CreatedAt: now, UpdatedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Other)
	assert.Equal(t, 100, s.Records)
	assert.Equal(t, 5000, s.TotalTokens)
	assert.InDelta(t, 0.25, s.TotalCost, 1e-9)
	assert.InDelta(t, 10, s.AvgDurSecs, 0.5)
}

func TestFormatRunsList(t *testing.T) {
	now := time.Now()
	runs := []model.Run{{
		ID:        "0123456789abcdef",
		InputPath: "companies.csv",
		Status:    model.RunStatusComplete,
		CreatedAt: now.Add(-time.Minute),
		UpdatedAt: now,
		Result:    &model.RunResult{Records: 42},
	}}

	var sb strings.Builder
	formatRunsList(&sb, runs)
	out := sb.String()

	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "89abcdef", "IDs are truncated for display")
	assert.Contains(t, out, "companies.csv")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "42")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789"))
	assert.Equal(t, "short", truncateID("short"))
}
