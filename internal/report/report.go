// Package report answers the read-only analytical queries over a flushed
// run snapshot: cities by company count, homepage domain frequencies,
// funding extremes, and funding totals by founding year.
package report

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/internal/store"
)

// DomainCount is one row of the homepage-domain frequency report.
type DomainCount struct {
	Domain    string `json:"domain"`
	Companies int    `json:"companies"`
}

// Report bundles every analytical query for one run snapshot.
type Report struct {
	RunID    string               `json:"run_id"`
	Cities   []store.CityCount    `json:"cities"`
	Domains  []DomainCount        `json:"domains"`
	MaxFund  *store.FundedCompany `json:"max_funded,omitempty"`
	MinFund  *store.FundedCompany `json:"min_funded,omitempty"`
	ByYear   []store.YearFunding  `json:"funding_by_year"`
	Verified VerifiedURLs         `json:"verified_urls"`
}

// VerifiedURLs counts verification outcomes in the snapshot.
type VerifiedURLs struct {
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Unchecked int `json:"unchecked"`
}

// Service builds reports over the store.
type Service struct {
	store store.Store
	limit int
}

// NewService creates a report service. limit bounds grouped report rows;
// <=0 means 10.
func NewService(st store.Store, limit int) *Service {
	if limit <= 0 {
		limit = 10
	}
	return &Service{store: st, limit: limit}
}

// Build runs every report query for one run. An empty runID selects the
// most recent run with a flushed snapshot.
func (s *Service) Build(ctx context.Context, runID string) (*Report, error) {
	if runID == "" {
		latest, err := s.store.LatestRunWithSnapshot(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "report: resolve latest run")
		}
		runID = latest
	}

	cities, err := s.store.CitiesByCount(ctx, runID, s.limit)
	if err != nil {
		return nil, eris.Wrap(err, "report: cities")
	}
	max, min, err := s.store.FundingExtremes(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "report: funding extremes")
	}
	byYear, err := s.store.FundingByYear(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "report: funding by year")
	}

	// Domain extraction happens here rather than in SQL so both store
	// drivers share one parser.
	records, err := s.store.LoadSnapshot(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "report: load snapshot")
	}

	report := &Report{
		RunID:   runID,
		Cities:  cities,
		Domains: domainCounts(records, s.limit),
		MaxFund: max,
		MinFund: min,
		ByYear:  byYear,
	}
	for _, rec := range records {
		switch rec.URLValidity {
		case model.URLValid:
			report.Verified.Valid++
		case model.URLInvalid:
			report.Verified.Invalid++
		case model.URLUnchecked:
			report.Verified.Unchecked++
		}
	}
	return report, nil
}

// domainCounts tallies homepage domains across records, most frequent
// first, ties broken alphabetically.
func domainCounts(records []model.Record, limit int) []DomainCount {
	counts := make(map[string]int)
	for _, rec := range records {
		if d := Domain(rec.HomepageURL); d != "" {
			counts[d]++
		}
	}

	out := make([]DomainCount, 0, len(counts))
	for domain, n := range counts {
		out = append(out, DomainCount{Domain: domain, Companies: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Companies != out[j].Companies {
			return out[i].Companies > out[j].Companies
		}
		return out[i].Domain < out[j].Domain
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Domain extracts the registrable host from a homepage URL, dropping a
// leading "www.". Unparseable URLs yield "".
func Domain(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}
