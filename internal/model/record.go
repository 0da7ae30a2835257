// Package model defines the core types shared across the enrichment pipeline.
package model

import "strings"

// Status is the canonical operating status of a company.
type Status string

const (
	StatusOperating Status = "operating"
	StatusClosed    Status = "closed"
	StatusAcquired  Status = "acquired"
	StatusPublic    Status = "public"
	StatusUnknown   Status = "unknown"
)

// ValidStatus reports whether s is one of the canonical status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOperating, StatusClosed, StatusAcquired, StatusPublic, StatusUnknown:
		return true
	default:
		return false
	}
}

// URLValidity is the verification outcome for a homepage URL. The zero value
// means the URL has not been through verification yet.
type URLValidity string

const (
	URLValid     URLValidity = "valid"
	URLInvalid   URLValidity = "invalid"
	URLUnchecked URLValidity = "unchecked"
)

// Decided reports whether verification reached a yes/no outcome. Unchecked
// and never-verified URLs are eligible for (re)verification.
func (v URLValidity) Decided() bool {
	return v == URLValid || v == URLInvalid
}

// Stage is the per-record position in the enrichment state machine.
type Stage string

const (
	StageValidated        Stage = "validated"
	StageInferencePending Stage = "inference_pending"
	StageInferenceDone    Stage = "inference_done"
	StageAddressPending   Stage = "address_pending"
	StageAddressDone      Stage = "address_done"
)

// Terminal reports whether the stage is the end of the enrichment state
// machine for a record.
func (s Stage) Terminal() bool {
	return s == StageAddressDone
}

// Record is one company row. Source columns are filled by parsing; derived
// fields are written by the pipeline stages.
type Record struct {
	Name         string   `json:"name"`
	Status       Status   `json:"status,omitempty"`
	HomepageURL  string   `json:"homepage_url,omitempty"`
	FoundedYear  int      `json:"founded_year,omitempty"` // 0 = absent
	FoundedAt    string   `json:"founded_at,omitempty"`   // YYYY-MM-DD, "" = absent
	FundingTotal *float64 `json:"funding_total,omitempty"`
	CountryCode  string   `json:"country_code,omitempty"`
	Region       string   `json:"region,omitempty"`
	StateCode    string   `json:"state_code,omitempty"`
	City         string   `json:"city,omitempty"`
	Categories   []string `json:"categories,omitempty"`

	// Derived by the pipeline.
	StreetAddress       string      `json:"street_address,omitempty"`
	URLValidity         URLValidity `json:"url_validity,omitempty"`
	InferenceIncomplete bool        `json:"inference_incomplete,omitempty"`
	Stage               Stage       `json:"stage,omitempty"`
}

// Empty reports whether every source field of the record is absent.
func (r *Record) Empty() bool {
	return strings.TrimSpace(r.Name) == "" &&
		r.Status == "" &&
		strings.TrimSpace(r.HomepageURL) == "" &&
		r.FoundedYear == 0 &&
		r.FoundedAt == "" &&
		r.FundingTotal == nil &&
		strings.TrimSpace(r.CountryCode) == "" &&
		strings.TrimSpace(r.Region) == "" &&
		strings.TrimSpace(r.StateCode) == "" &&
		strings.TrimSpace(r.City) == "" &&
		len(r.Categories) == 0
}

// HasURL reports whether the record carries a non-empty homepage URL.
func (r *Record) HasURL() bool {
	return strings.TrimSpace(r.HomepageURL) != ""
}
