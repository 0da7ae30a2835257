package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/venturescope/enrich-cli/internal/report"
	"github.com/venturescope/enrich-cli/internal/store"
)

func TestFormatReport(t *testing.T) {
	rep := &report.Report{
		RunID:  "run-1",
		Cities: []store.CityCount{{City: "Berlin", Companies: 3}},
		Domains: []report.DomainCount{
			{Domain: "acme.example", Companies: 2},
		},
		MaxFund:  &store.FundedCompany{Name: "Acme", FundingTotal: 5_000_000},
		MinFund:  &store.FundedCompany{Name: "Beta", FundingTotal: 250_000},
		ByYear:   []store.YearFunding{{Year: 2010, Companies: 2, Total: 5_250_000}},
		Verified: report.VerifiedURLs{Valid: 2, Invalid: 1, Unchecked: 1},
	}

	var sb strings.Builder
	formatReport(&sb, rep)
	out := sb.String()

	assert.Contains(t, out, "Run run-1")
	assert.Contains(t, out, "Berlin")
	assert.Contains(t, out, "acme.example")
	assert.Contains(t, out, "Most funded:")
	assert.Contains(t, out, "Acme (5000000)")
	assert.Contains(t, out, "Least funded:")
	assert.Contains(t, out, "2010")
	assert.Contains(t, out, "2 valid, 1 invalid, 1 unchecked")
}
