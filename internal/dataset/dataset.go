// Package dataset reads and writes company tables in CSV and XLSX form,
// mapping loosely-named source columns onto model.Record fields.
package dataset

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/venturescope/enrich-cli/internal/model"
)

// Options configures table parsing.
type Options struct {
	Encoding  string // source charset for CSV input ("" = UTF-8), e.g. "latin1"
	SheetName string // XLSX sheet to read; "" = first sheet
	SkipRows  int    // extra leading rows to skip before the header (XLSX exports)
}

// Header is the canonical column order for written output. Derived columns
// come last so cleaned files stay diffable against their inputs.
var Header = []string{
	"name",
	"status",
	"homepage_url",
	"founded_year",
	"founded_at",
	"funding_total_usd",
	"country_code",
	"region",
	"state_code",
	"city",
	"categories",
	"street_address",
	"url_validity",
	"inference_incomplete",
}

// columnAliases maps each canonical column to the header spellings accepted
// on input. Matching is case-insensitive after trimming and replacing spaces
// with underscores, so " Company Name " and "company_name" both resolve.
var columnAliases = map[string][]string{
	"name":                 {"name", "company_name", "company"},
	"status":               {"status"},
	"homepage_url":         {"homepage_url", "homepage", "website", "url"},
	"founded_year":         {"founded_year", "year_founded"},
	"founded_at":           {"founded_at", "founded_date", "founding_date"},
	"funding_total_usd":    {"funding_total_usd", "funding_total", "total_funding_usd"},
	"country_code":         {"country_code", "country"},
	"region":               {"region"},
	"state_code":           {"state_code", "state"},
	"city":                 {"city"},
	"categories":           {"categories", "category_list", "market"},
	"street_address":       {"street_address", "address"},
	"url_validity":         {"url_validity"},
	"inference_incomplete": {"inference_incomplete"},
}

// ReadFile parses a dataset file, dispatching on the file extension.
func ReadFile(path string, opts Options) ([]model.Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSVFile(path, opts)
	case ".xlsx":
		return ReadXLSX(path, opts)
	default:
		return nil, eris.Errorf("dataset: unsupported file type %q", filepath.Ext(path))
	}
}

// columns resolves a header row into a canonical-column index map.
func columns(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, col := range header {
		byName[normalizeHeader(col)] = i
	}

	idx := make(map[string]int, len(columnAliases))
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if i, ok := byName[alias]; ok {
				idx[canonical] = i
				break
			}
		}
	}

	if _, ok := idx["name"]; !ok {
		return nil, eris.New("dataset: no company name column found in header")
	}
	return idx, nil
}

func normalizeHeader(col string) string {
	col = strings.TrimSpace(strings.ToLower(col))
	return strings.ReplaceAll(col, " ", "_")
}

// parseRow converts one raw row into a Record. Malformed numeric and boolean
// cells degrade to absent rather than failing the row.
func parseRow(row []string, idx map[string]int) model.Record {
	rec := model.Record{
		Name:        getCol(row, idx, "name"),
		Status:      model.Status(strings.TrimSpace(strings.ToLower(getCol(row, idx, "status")))),
		HomepageURL: getCol(row, idx, "homepage_url"),
		FoundedAt:   getCol(row, idx, "founded_at"),
		CountryCode: getCol(row, idx, "country_code"),
		Region:      getCol(row, idx, "region"),
		StateCode:   getCol(row, idx, "state_code"),
		City:        getCol(row, idx, "city"),
	}

	rec.FoundedYear = parseYear(getCol(row, idx, "founded_year"))
	rec.FundingTotal = parseFunding(getCol(row, idx, "funding_total_usd"))
	rec.Categories = splitCategories(getCol(row, idx, "categories"))

	// Derived columns round-trip so previously written output can be re-read.
	rec.StreetAddress = getCol(row, idx, "street_address")
	rec.URLValidity = model.URLValidity(strings.ToLower(getCol(row, idx, "url_validity")))
	if v, err := strconv.ParseBool(getCol(row, idx, "inference_incomplete")); err == nil {
		rec.InferenceIncomplete = v
	}
	return rec
}

// getCol safely retrieves a column value from a row.
func getCol(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseYear handles plain integers and spreadsheet float exports ("2012.0").
// Anything unparseable is absent.
func parseYear(s string) int {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".0")
	if s == "" {
		return 0
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return year
}

// parseFunding handles thousands separators and the "-" placeholder some
// exports use for unknown amounts. Anything unparseable is absent.
func parseFunding(s string) *float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return nil
	}
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &amount
}

// splitCategories splits a pipe-separated category list, dropping empties.
// Crunchbase-style exports wrap the list in leading/trailing pipes.
func splitCategories(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var cats []string
	for _, c := range strings.Split(s, "|") {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	return cats
}

// formatRow renders a Record into the canonical Header order.
func formatRow(rec model.Record) []string {
	return []string{
		rec.Name,
		string(rec.Status),
		rec.HomepageURL,
		formatYear(rec.FoundedYear),
		rec.FoundedAt,
		formatFunding(rec.FundingTotal),
		rec.CountryCode,
		rec.Region,
		rec.StateCode,
		rec.City,
		strings.Join(rec.Categories, "|"),
		rec.StreetAddress,
		string(rec.URLValidity),
		formatBool(rec.InferenceIncomplete),
	}
}

func formatYear(year int) string {
	if year == 0 {
		return ""
	}
	return strconv.Itoa(year)
}

func formatFunding(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatBool(b bool) string {
	if !b {
		return ""
	}
	return "true"
}
