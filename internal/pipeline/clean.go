package pipeline

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/venturescope/enrich-cli/internal/model"
)

// dateLayouts are the source date formats the validator accepts, tried in
// order. Everything is canonicalized to dateCanonical.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

const dateCanonical = "2006-01-02"

// minFoundedYear bounds plausible founding years; anything outside
// [minFoundedYear, current year] degrades to absent.
const minFoundedYear = 1800

// Clean validates and normalizes a parsed table. Rows that cannot be
// salvaged (every field empty, no company name, or founding year and date
// that disagree) are dropped; every other defect is repaired cell by cell
// and counted as a correction. Running Clean on its own output changes
// nothing.
func Clean(records []model.Record, rules *Rules) ([]model.Record, model.CleanSummary) {
	if rules == nil {
		rules = DefaultRules()
	}

	summary := model.CleanSummary{InputRows: len(records)}
	maxYear := time.Now().UTC().Year()

	cleaned := make([]model.Record, 0, len(records))
	for _, rec := range records {
		if rec.Empty() {
			summary.DroppedEmpty++
			continue
		}
		if strings.TrimSpace(rec.Name) == "" {
			summary.DroppedNoName++
			continue
		}

		corrections := 0
		fix := func(old, repaired string) string {
			if repaired != old {
				corrections++
			}
			return repaired
		}

		rec.Name = fix(rec.Name, collapseSpace(rec.Name))
		rec.City = fix(rec.City, titleCase(rec.City))
		rec.Region = fix(rec.Region, collapseSpace(rec.Region))
		rec.CountryCode = fix(rec.CountryCode, strings.ToUpper(strings.TrimSpace(rec.CountryCode)))
		rec.StateCode = fix(rec.StateCode, stateAbbreviation(rec.StateCode))
		rec.HomepageURL = fix(rec.HomepageURL, NormalizeURL(rec.HomepageURL))
		rec.FoundedAt = fix(rec.FoundedAt, canonicalDate(rec.FoundedAt))

		if rec.Status != "" {
			status, ok := rules.NormalizeStatus(string(rec.Status))
			if !ok {
				status = model.StatusUnknown
			}
			if status != rec.Status {
				corrections++
			}
			rec.Status = status
		}

		if rec.FoundedYear != 0 && (rec.FoundedYear < minFoundedYear || rec.FoundedYear > maxYear) {
			rec.FoundedYear = 0
			corrections++
		}
		if rec.FundingTotal != nil && *rec.FundingTotal < 0 {
			rec.FundingTotal = nil
			corrections++
		}

		// A founding date that contradicts the founding year means at least
		// one of them is wrong, with no way to tell which.
		if rec.FoundedYear != 0 && rec.FoundedAt != "" {
			if date, err := time.Parse(dateCanonical, rec.FoundedAt); err == nil && date.Year() != rec.FoundedYear {
				summary.DroppedCorrupt++
				continue
			}
		}

		rec.Stage = model.StageValidated
		summary.Kept++
		summary.Corrected += corrections
		cleaned = append(cleaned, rec)
	}

	return cleaned, summary
}

// NormalizeURL repairs URL noise: whitespace, a missing scheme, uppercase
// scheme/host, and a trailing slash. Unparseable input is passed through
// trimmed; verification decides its fate later.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}

// canonicalDate folds accepted source formats to YYYY-MM-DD; unparseable
// dates degrade to absent.
func canonicalDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if date, err := time.Parse(layout, s); err == nil {
			return date.Format(dateCanonical)
		}
	}
	return ""
}

// titleCase converts "SAN FRANCISCO" or "łódź" to "San Francisco" / "Łódź".
// A cases.Caser is stateful, so each call builds its own.
func titleCase(s string) string {
	return cases.Title(language.Und).String(collapseSpace(strings.ToLower(s)))
}

// stateAbbreviation converts full US state names to two-letter codes. A
// value that is already two letters is uppercased; anything else unknown is
// passed through uppercased.
func stateAbbreviation(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(collapseSpace(s))
	if len(upper) == 2 {
		return upper
	}
	if abbr, ok := stateMap[upper]; ok {
		return abbr
	}
	return upper
}

var stateMap = map[string]string{
	"ALABAMA":              "AL",
	"ALASKA":               "AK",
	"ARIZONA":              "AZ",
	"ARKANSAS":             "AR",
	"CALIFORNIA":           "CA",
	"COLORADO":             "CO",
	"CONNECTICUT":          "CT",
	"DELAWARE":             "DE",
	"FLORIDA":              "FL",
	"GEORGIA":              "GA",
	"HAWAII":               "HI",
	"IDAHO":                "ID",
	"ILLINOIS":             "IL",
	"INDIANA":              "IN",
	"IOWA":                 "IA",
	"KANSAS":               "KS",
	"KENTUCKY":             "KY",
	"LOUISIANA":            "LA",
	"MAINE":                "ME",
	"MARYLAND":             "MD",
	"MASSACHUSETTS":        "MA",
	"MICHIGAN":             "MI",
	"MINNESOTA":            "MN",
	"MISSISSIPPI":          "MS",
	"MISSOURI":             "MO",
	"MONTANA":              "MT",
	"NEBRASKA":             "NE",
	"NEVADA":               "NV",
	"NEW HAMPSHIRE":        "NH",
	"NEW JERSEY":           "NJ",
	"NEW MEXICO":           "NM",
	"NEW YORK":             "NY",
	"NORTH CAROLINA":       "NC",
	"NORTH DAKOTA":         "ND",
	"OHIO":                 "OH",
	"OKLAHOMA":             "OK",
	"OREGON":               "OR",
	"PENNSYLVANIA":         "PA",
	"RHODE ISLAND":         "RI",
	"SOUTH CAROLINA":       "SC",
	"SOUTH DAKOTA":         "SD",
	"TENNESSEE":            "TN",
	"TEXAS":                "TX",
	"UTAH":                 "UT",
	"VERMONT":              "VT",
	"VIRGINIA":             "VA",
	"WASHINGTON":           "WA",
	"WEST VIRGINIA":        "WV",
	"WISCONSIN":            "WI",
	"WYOMING":              "WY",
	"DISTRICT OF COLUMBIA": "DC",
}
