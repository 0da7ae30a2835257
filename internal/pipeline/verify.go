package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

const verifySystem = "You are a URL liveness checker. Answer questions about URLs with exactly one word."

const verifyPrompt = `Is this URL valid and active: %s? Answer ONLY with Yes or No, NOTHING ELSE.`

// VerifyOptions configures the verification pool.
type VerifyOptions struct {
	// Workers is the pool size. <=0 means 5.
	Workers int
	// MaxAttempts bounds asks per record, ambiguous answers and declines
	// included. <=0 means 3.
	MaxAttempts int
	// OnFailure, when set, is called for every record parked as unchecked
	// because of a transient failure (not an ambiguous answer).
	OnFailure func(pos int, rec model.Record, err error)
}

// Verify checks homepage liveness for every record carrying a URL whose
// validity is still undecided. A fixed-size pool drains one task per
// record; each task writes only its own record and always lands on valid,
// invalid, or unchecked — never a guess. The pool join is the barrier:
// when Verify returns nil, no record was silently skipped.
func Verify(ctx context.Context, records []model.Record, ask *Asker, opts VerifyOptions) (model.VerifySummary, oracle.TokenUsage, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 5
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var mu sync.Mutex
	var summary model.VerifySummary
	var usage oracle.TokenUsage

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range records {
		rec := &records[i]
		if !rec.HasURL() {
			summary.NoURL++
			continue
		}
		if rec.URLValidity.Decided() {
			summary.Skipped++
			continue
		}

		g.Go(func() error {
			validity, taskUsage, err := verifyURL(gCtx, rec.HomepageURL, ask, maxAttempts)
			if err != nil && fatalOracleErr(gCtx, err) {
				return eris.Wrapf(err, "pipeline: verify %q", rec.HomepageURL)
			}

			rec.URLValidity = validity

			mu.Lock()
			defer mu.Unlock()
			usage.Add(taskUsage)
			summary.Checked++
			switch validity {
			case model.URLValid:
				summary.Valid++
			case model.URLInvalid:
				summary.Invalid++
			default:
				summary.Unchecked++
				if err != nil && opts.OnFailure != nil {
					opts.OnFailure(i, *rec, err)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return summary, usage, err
}

// verifyURL asks until it gets an unambiguous yes/no or runs out of
// attempts. The error return is non-nil only for transient exhaustion or a
// fatal failure; ambiguous answers and declines just burn attempts.
func verifyURL(ctx context.Context, rawURL string, ask *Asker, maxAttempts int) (model.URLValidity, oracle.TokenUsage, error) {
	var usage oracle.TokenUsage
	prompt := fmt.Sprintf(verifyPrompt, rawURL)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply, err := ask.Ask(ctx, verifySystem, prompt)
		if err != nil {
			// Ask already retried transient failures; park the record.
			return model.URLUnchecked, usage, err
		}
		usage.Add(reply.Usage)

		if reply.Outcome == OutcomeDecline {
			continue
		}
		switch yesNo(reply.Text) {
		case "yes":
			return model.URLValid, usage, nil
		case "no":
			return model.URLInvalid, usage, nil
		}
		zap.L().Debug("pipeline: ambiguous verification answer",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
		)
	}
	return model.URLUnchecked, usage, nil
}

// VerifySnapshot re-runs just the verification stage over a stored run
// snapshot. Records already decided are skipped, so re-entry is idempotent;
// newly decided records are written back to the snapshot.
func (p *Pipeline) VerifySnapshot(ctx context.Context, runID string) (model.VerifySummary, []model.Record, error) {
	records, err := p.store.LoadSnapshot(ctx, runID)
	if err != nil {
		return model.VerifySummary{}, nil, eris.Wrapf(err, "pipeline: load snapshot %s", runID)
	}
	if len(records) == 0 {
		return model.VerifySummary{}, nil, eris.Errorf("pipeline: run %s has no snapshot", runID)
	}

	phase, phaseErr := p.store.CreatePhase(ctx, runID, "verify")
	if phaseErr != nil {
		zap.L().Warn("pipeline: failed to create phase", zap.Error(phaseErr))
	}
	start := time.Now()

	summary, usage, err := Verify(ctx, records, p.ask, VerifyOptions{
		Workers:     p.cfg.Verify.Workers,
		MaxAttempts: p.cfg.Verify.MaxAttempts,
		OnFailure: func(pos int, rec model.Record, failErr error) {
			p.parkRecord(ctx, runID, pos, rec, StageNameVerify, failErr)
		},
	})

	if phase != nil {
		result := &model.PhaseResult{
			Name:       "verify",
			Status:     model.PhaseStatusComplete,
			Duration:   time.Since(start).Milliseconds(),
			TokenUsage: phaseUsage(usage, p.cfg.Oracle.Model),
			Metadata: map[string]any{
				"checked": summary.Checked,
				"valid":   summary.Valid,
				"invalid": summary.Invalid,
				"skipped": summary.Skipped,
			},
		}
		if err != nil {
			result.Status = model.PhaseStatusFailed
			result.Error = err.Error()
		}
		_ = p.store.CompletePhase(ctx, phase.ID, result)
	}
	if err != nil {
		return summary, records, err
	}

	if err := p.store.UpdateSnapshotRecords(ctx, runID, records); err != nil {
		return summary, records, eris.Wrap(err, "pipeline: update snapshot")
	}
	usage.LogCost(p.cfg.Oracle.Model, "verify")
	return summary, records, nil
}

// yesNo extracts a leading yes/no token, tolerating punctuation and casing.
func yesNo(answer string) string {
	fields := strings.Fields(strings.ToLower(answer))
	if len(fields) == 0 {
		return ""
	}
	switch strings.Trim(fields[0], ".,!:;") {
	case "yes":
		return "yes"
	case "no":
		return "no"
	default:
		return ""
	}
}
