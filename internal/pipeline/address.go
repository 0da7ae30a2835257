package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

const addressPrompt = `Generate a plausible street address for the startup company %q located in %s.%s

Respond with ONLY the street line (building number and street name), without city, state, or postal code.
If you cannot, respond with exactly: unknown`

// AddressResult summarizes one record's pass through address synthesis.
type AddressResult struct {
	Synthesized bool
	Declined    bool
	Incomplete  bool
	Err         error // last transient failure, set when Incomplete
	Usage       oracle.TokenUsage
}

// SynthesizeAddress asks the oracle for a plausible street line for a
// record whose city is resolved. Callers must not invoke it while the city
// is still missing; the street line is meaningless without one.
func SynthesizeAddress(ctx context.Context, rec *model.Record, ask *Asker) (AddressResult, error) {
	var res AddressResult
	if strings.TrimSpace(rec.City) == "" {
		res.Declined = true
		return res, nil
	}

	var categories string
	if len(rec.Categories) > 0 {
		categories = " The company works in: " + strings.Join(rec.Categories, ", ") + "."
	}
	prompt := fmt.Sprintf(addressPrompt, rec.Name, locationOf(rec, false), categories)

	reply, err := ask.Ask(ctx, inferSystem, prompt)
	if err != nil {
		if fatalOracleErr(ctx, err) {
			return res, err
		}
		rec.InferenceIncomplete = true
		res.Incomplete = true
		res.Err = err
		zap.L().Warn("pipeline: address synthesis failed",
			zap.String("company", rec.Name),
			zap.Error(err),
		)
		return res, nil
	}

	res.Usage = reply.Usage
	if reply.Outcome == OutcomeDecline {
		res.Declined = true
		return res, nil
	}

	street := collapseSpace(strings.Trim(reply.Text, `"'`))
	if street == "" {
		res.Declined = true
		return res, nil
	}
	rec.StreetAddress = street
	res.Synthesized = true
	return res, nil
}
