package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

// Inferable target fields. The config pipeline.infer_fields selects a
// subset; order is preserved so city lands before address synthesis.
const (
	FieldStatus   = "status"
	FieldHomepage = "homepage_url"
	FieldCity     = "city"
)

// DefaultInferFields is the standard inference target list.
var DefaultInferFields = []string{FieldStatus, FieldHomepage, FieldCity}

const inferSystem = "You are a startup-dataset research assistant. Answer factual questions about companies with the single requested value and no commentary."

const statusPrompt = `What is the current operational status of the startup company %q?%s

Respond with ONLY one of these words: operating, acquired, closed, ipo.
If you are not sure, respond with exactly: unknown`

const homepagePrompt = `What is the homepage URL of the startup company %q?%s

Respond with ONLY the URL and NOTHING ELSE.
If you are not sure, respond with exactly: unknown`

const cityPrompt = `In which city is the startup company %q headquartered?%s

Respond with ONLY the city name and NOTHING ELSE.
If you are not sure, respond with exactly: unknown`

// InferResult summarizes one record's pass through the inference engine.
type InferResult struct {
	Inferred   int // fields written back
	Declined   int // fields the oracle declined or answered unusably
	Incomplete bool
	Err        error // last transient failure, set when Incomplete
	Usage      oracle.TokenUsage
}

// InferMissing asks the oracle once per missing target field and writes
// normalized answers back to the record. A decline leaves the field absent.
// Transient exhaustion marks the record incomplete and moves on to the next
// field; only a fatal error (open circuit, cancelled context) is returned.
func InferMissing(ctx context.Context, rec *model.Record, ask *Asker, rules *Rules, fields []string) (InferResult, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if len(fields) == 0 {
		fields = DefaultInferFields
	}

	var res InferResult
	for _, field := range fields {
		if !fieldMissing(rec, field) {
			continue
		}

		reply, err := ask.Ask(ctx, inferSystem, inferPrompt(rec, field))
		if err != nil {
			if fatalOracleErr(ctx, err) {
				return res, err
			}
			rec.InferenceIncomplete = true
			res.Incomplete = true
			res.Err = err
			zap.L().Warn("pipeline: inference failed",
				zap.String("company", rec.Name),
				zap.String("field", field),
				zap.Error(err),
			)
			continue
		}

		res.Usage.Add(reply.Usage)
		if reply.Outcome == OutcomeDecline {
			res.Declined++
			continue
		}
		if applyInferred(rec, field, reply.Text, rules) {
			res.Inferred++
		} else {
			res.Declined++
		}
	}
	return res, nil
}

func fieldMissing(rec *model.Record, field string) bool {
	switch field {
	case FieldStatus:
		return rec.Status == ""
	case FieldHomepage:
		return !rec.HasURL()
	case FieldCity:
		return strings.TrimSpace(rec.City) == ""
	default:
		return false
	}
}

func inferPrompt(rec *model.Record, field string) string {
	switch field {
	case FieldStatus:
		return fmt.Sprintf(statusPrompt, rec.Name, recordContext(rec, field))
	case FieldHomepage:
		return fmt.Sprintf(homepagePrompt, rec.Name, recordContext(rec, field))
	default:
		return fmt.Sprintf(cityPrompt, rec.Name, recordContext(rec, field))
	}
}

// recordContext renders the record's known fields into a prompt fragment so
// the oracle grounds its answer, excluding the field being asked about.
func recordContext(rec *model.Record, exclude string) string {
	var facts []string
	if exclude != FieldStatus && rec.Status != "" {
		facts = append(facts, "status: "+string(rec.Status))
	}
	if exclude != FieldHomepage && rec.HasURL() {
		facts = append(facts, "homepage: "+rec.HomepageURL)
	}
	if rec.FoundedYear != 0 {
		facts = append(facts, fmt.Sprintf("founded in %d", rec.FoundedYear))
	}
	if loc := locationOf(rec, exclude == FieldCity); loc != "" {
		facts = append(facts, "located in "+loc)
	}
	if len(rec.Categories) > 0 {
		facts = append(facts, "categories: "+strings.Join(rec.Categories, ", "))
	}

	if len(facts) == 0 {
		return ""
	}
	return " Known facts: " + strings.Join(facts, "; ") + "."
}

// locationOf joins the record's location fields, most specific first.
func locationOf(rec *model.Record, skipCity bool) string {
	var parts []string
	if !skipCity && rec.City != "" {
		parts = append(parts, rec.City)
	}
	if rec.StateCode != "" {
		parts = append(parts, rec.StateCode)
	} else if rec.Region != "" {
		parts = append(parts, rec.Region)
	}
	if rec.CountryCode != "" {
		parts = append(parts, rec.CountryCode)
	}
	return strings.Join(parts, ", ")
}

// applyInferred normalizes an answer per field and writes it back. false
// means the answer was unusable and counts as a decline; fields are never
// filled with text the normalizer cannot vouch for.
func applyInferred(rec *model.Record, field, answer string, rules *Rules) bool {
	switch field {
	case FieldStatus:
		status, ok := rules.NormalizeStatus(strings.TrimRight(strings.TrimSpace(answer), "."))
		if !ok || status == model.StatusUnknown {
			return false
		}
		rec.Status = status
	case FieldHomepage:
		normalized := NormalizeURL(answer)
		if u, err := url.Parse(normalized); err != nil || u.Host == "" || strings.ContainsAny(normalized, " \n") {
			return false
		}
		rec.HomepageURL = normalized
	case FieldCity:
		city := titleCase(cityAnswer(answer))
		if city == "" {
			return false
		}
		rec.City = city
	default:
		return false
	}
	return true
}

// cityAnswer strips the qualifiers models append despite instructions
// ("Berlin, Germany", "Berlin."), keeping just the city.
func cityAnswer(answer string) string {
	answer = strings.TrimSpace(answer)
	if i := strings.IndexAny(answer, ",\n("); i >= 0 {
		answer = answer[:i]
	}
	return strings.TrimRight(strings.TrimSpace(answer), ".")
}
