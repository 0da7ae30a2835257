// Package pipeline implements the record enrichment pipeline: validation,
// oracle-backed missing-field inference, address synthesis, and concurrent
// URL verification.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/venturescope/enrich-cli/internal/config"
	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/internal/resilience"
	"github.com/venturescope/enrich-cli/internal/store"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

// Pipeline orchestrates the clean → enrich → verify → flush phases of an
// enrichment run and persists runs, phases, snapshots, and DLQ entries.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	ask   *Asker
	rules *Rules
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, ask *Asker, rules *Rules) *Pipeline {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Pipeline{cfg: cfg, store: st, ask: ask, rules: rules}
}

// Run executes the full pipeline over a parsed table. The returned result
// is populated even when a stage fails fatally: records processed before
// the failure stay valid and the snapshot is still flushed.
func (p *Pipeline) Run(ctx context.Context, records []model.Record, inputPath, outputPath string) (*model.RunResult, []model.Record, error) {
	log := zap.L().With(zap.String("input", inputPath))
	log.Info("pipeline: starting run", zap.Int("rows", len(records)))

	run, err := p.store.CreateRun(ctx, inputPath, outputPath)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: create run")
	}

	result := &model.RunResult{}

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) *model.PhaseResult {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseResult)
		}
		result.Phases = append(result.Phases, *phaseResult)
		return phaseResult
	}

	// ===== Phase 1: Clean =====
	setStatus(model.RunStatusCleaning)

	var cleaned []model.Record
	trackPhase("clean", func() (*model.PhaseResult, error) {
		var cs model.CleanSummary
		cleaned, cs = Clean(records, p.rules)
		result.Clean = cs
		return &model.PhaseResult{
			Metadata: map[string]any{
				"input_rows": cs.InputRows,
				"kept":       cs.Kept,
				"dropped":    cs.Dropped(),
				"corrected":  cs.Corrected,
			},
		}, nil
	})

	if len(cleaned) == 0 {
		setStatus(model.RunStatusFailed)
		return result, nil, eris.New("pipeline: no records left after cleaning")
	}

	var stageErr error
	var totalUsage oracle.TokenUsage

	// ===== Phase 2: Enrich (inference + address synthesis) =====
	setStatus(model.RunStatusEnriching)

	trackPhase("enrich", func() (*model.PhaseResult, error) {
		es, usage, enrichErr := Enrich(ctx, cleaned, p.ask, p.rules, EnrichOptions{
			Workers: p.cfg.Pipeline.Workers,
			Fields:  p.cfg.Pipeline.InferFields,
			OnFailure: func(pos int, rec model.Record, stage string, failErr error) {
				p.parkRecord(ctx, run.ID, pos, rec, stage, failErr)
			},
		})
		result.Enrich = es
		totalUsage.Add(usage)
		if enrichErr != nil {
			stageErr = enrichErr
			return nil, enrichErr
		}
		return &model.PhaseResult{
			TokenUsage: phaseUsage(usage, p.cfg.Oracle.Model),
			Metadata: map[string]any{
				"inferred":   es.Inferred,
				"declined":   es.Declined,
				"incomplete": es.Incomplete,
				"addresses":  es.Addresses,
			},
		}, nil
	})

	// ===== Phase 3: Verify =====
	if stageErr == nil {
		setStatus(model.RunStatusVerifying)

		trackPhase("verify", func() (*model.PhaseResult, error) {
			vs, usage, verifyErr := Verify(ctx, cleaned, p.ask, VerifyOptions{
				Workers:     p.cfg.Verify.Workers,
				MaxAttempts: p.cfg.Verify.MaxAttempts,
				OnFailure: func(pos int, rec model.Record, failErr error) {
					p.parkRecord(ctx, run.ID, pos, rec, StageNameVerify, failErr)
				},
			})
			result.Verify = vs
			totalUsage.Add(usage)
			if verifyErr != nil {
				stageErr = verifyErr
				return nil, verifyErr
			}
			return &model.PhaseResult{
				TokenUsage: phaseUsage(usage, p.cfg.Oracle.Model),
				Metadata: map[string]any{
					"checked":   vs.Checked,
					"valid":     vs.Valid,
					"invalid":   vs.Invalid,
					"unchecked": vs.Unchecked,
				},
			}, nil
		})
	}

	// ===== Phase 4: Flush =====
	// Runs even after a stage failure so already-processed records persist.
	setStatus(model.RunStatusFlushing)

	trackPhase("flush", func() (*model.PhaseResult, error) {
		if flushErr := p.store.SaveSnapshot(ctx, run.ID, cleaned); flushErr != nil {
			return nil, flushErr
		}
		return &model.PhaseResult{
			Metadata: map[string]any{"records": len(cleaned)},
		}, nil
	})

	// Finalize.
	result.Records = len(cleaned)
	result.TotalTokens = int(totalUsage.InputTokens + totalUsage.OutputTokens)
	result.TotalCost = totalUsage.EstimateCost(p.cfg.Oracle.Model)
	totalUsage.LogCost(p.cfg.Oracle.Model, "run")

	if stageErr != nil {
		result.Error = stageErr.Error()
		if saveErr := p.store.UpdateRunResult(ctx, run.ID, result); saveErr != nil {
			log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
		}
		setStatus(model.RunStatusFailed)
		return result, cleaned, stageErr
	}

	if saveErr := p.store.UpdateRunResult(ctx, run.ID, result); saveErr != nil {
		log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
	}
	setStatus(model.RunStatusComplete)

	log.Info("pipeline: run complete",
		zap.String("run_id", run.ID),
		zap.Int("records", result.Records),
		zap.Int("inferred", result.Enrich.Inferred),
		zap.Int("incomplete", result.Enrich.Incomplete),
		zap.Int("tokens", result.TotalTokens),
	)
	return result, cleaned, nil
}

// parkRecord enqueues a (record, stage) that exhausted its retries.
func (p *Pipeline) parkRecord(ctx context.Context, runID string, pos int, rec model.Record, stage string, failErr error) {
	errText := "retry budget exhausted"
	if failErr != nil {
		errText = failErr.Error()
	}
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		RunID:        runID,
		Pos:          pos,
		Record:       rec,
		Stage:        stage,
		Error:        errText,
		ErrorType:    resilience.ClassifyError(failErr),
		MaxRetries:   p.cfg.Pipeline.MaxRetries,
		NextRetryAt:  now.Add(p.retryDelay(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := p.store.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("pipeline: failed to enqueue DLQ entry",
			zap.String("company", rec.Name),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}

// retryDelay backs off DLQ redelivery exponentially per prior attempt.
func (p *Pipeline) retryDelay(retryCount int) time.Duration {
	delay := time.Duration(p.cfg.Oracle.Retry.InitialBackoffMs) * time.Millisecond
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for i := 0; i < retryCount; i++ {
		delay *= 2
	}
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}

func phaseUsage(usage oracle.TokenUsage, modelName string) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:  int(usage.InputTokens),
		OutputTokens: int(usage.OutputTokens),
		Cost:         usage.EstimateCost(modelName),
	}
}
