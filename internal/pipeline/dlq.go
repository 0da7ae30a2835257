package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/internal/resilience"
)

// RetrySummary counts what a DLQ drain did.
type RetrySummary struct {
	Drained   int `json:"drained"`
	Succeeded int `json:"succeeded"`
	Requeued  int `json:"requeued"`
}

// RetryParked drains due DLQ entries and re-runs each entry's failed stage
// against its parked record. Success updates the run snapshot and removes
// the entry; another failure backs the entry off with one more retry spent.
func (p *Pipeline) RetryParked(ctx context.Context, limit int) (RetrySummary, error) {
	var summary RetrySummary

	entries, err := p.store.DequeueDLQ(ctx, resilience.DLQFilter{Limit: limit})
	if err != nil {
		return summary, err
	}
	summary.Drained = len(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		rec := entry.Record
		retryErr := p.retryStage(ctx, &rec, entry.Stage)
		if retryErr != nil {
			if fatalOracleErr(ctx, retryErr) {
				return summary, retryErr
			}
			next := time.Now().UTC().Add(p.retryDelay(entry.RetryCount + 1))
			if err := p.store.IncrementDLQRetry(ctx, entry.ID, next, retryErr.Error()); err != nil {
				zap.L().Warn("pipeline: failed to update DLQ entry", zap.String("id", entry.ID), zap.Error(err))
			}
			summary.Requeued++
			continue
		}

		if err := p.store.UpdateSnapshotRecord(ctx, entry.RunID, entry.Pos, rec); err != nil {
			zap.L().Warn("pipeline: failed to update snapshot record",
				zap.String("run_id", entry.RunID),
				zap.Int("pos", entry.Pos),
				zap.Error(err),
			)
		}
		if err := p.store.RemoveDLQ(ctx, entry.ID); err != nil {
			zap.L().Warn("pipeline: failed to remove DLQ entry", zap.String("id", entry.ID), zap.Error(err))
		}
		summary.Succeeded++

		zap.L().Info("pipeline: parked record recovered",
			zap.String("company", rec.Name),
			zap.String("stage", entry.Stage),
		)
	}
	return summary, nil
}

// retryStage re-runs one stage for one record. nil means the stage reached
// a usable outcome (an answer or a decline); an error means it is still
// failing and should stay parked.
func (p *Pipeline) retryStage(ctx context.Context, rec *model.Record, stage string) error {
	switch stage {
	case StageNameInfer:
		rec.InferenceIncomplete = false
		res, err := InferMissing(ctx, rec, p.ask, p.rules, p.cfg.Pipeline.InferFields)
		if err != nil {
			return err
		}
		if res.Incomplete {
			return res.Err
		}
		return nil
	case StageNameAddress:
		rec.InferenceIncomplete = false
		res, err := SynthesizeAddress(ctx, rec, p.ask)
		if err != nil {
			return err
		}
		if res.Incomplete {
			return res.Err
		}
		return nil
	case StageNameVerify:
		validity, _, err := verifyURL(ctx, rec.HomepageURL, p.ask, p.cfg.Verify.MaxAttempts)
		if err != nil {
			return err
		}
		rec.URLValidity = validity
		return nil
	default:
		return eris.Errorf("pipeline: unknown DLQ stage %q", stage)
	}
}
