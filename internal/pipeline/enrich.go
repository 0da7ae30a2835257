package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/pkg/oracle"
)

// Stage names recorded in DLQ entries.
const (
	StageNameInfer   = "infer"
	StageNameAddress = "address"
	StageNameVerify  = "verify"
)

// EnrichOptions configures the enrichment driver.
type EnrichOptions struct {
	// Workers bounds how many records are enriched concurrently. <=0 means 1.
	Workers int
	// Fields are the inference targets; empty means DefaultInferFields.
	Fields []string
	// OnFailure, when set, is called for every (record, stage) that
	// exhausted its retries. Serialized by the driver.
	OnFailure func(pos int, rec model.Record, stage string, err error)
}

// Enrich walks every record through the per-record state machine:
// inference_pending → inference_done → address_pending → address_done.
// Records run concurrently up to opts.Workers; within a record the stage
// order is fixed, so an address is only synthesized after the same pass had
// its chance to infer the city. Per-record failures mark the record
// incomplete and keep going; a fatal oracle error stops the batch.
func Enrich(ctx context.Context, records []model.Record, ask *Asker, rules *Rules, opts EnrichOptions) (model.EnrichSummary, oracle.TokenUsage, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	var usage oracle.TokenUsage
	summary := model.EnrichSummary{Records: len(records)}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range records {
		g.Go(func() error {
			rec := &records[i]

			rec.Stage = model.StageInferencePending
			inferRes, err := InferMissing(gCtx, rec, ask, rules, opts.Fields)
			mu.Lock()
			usage.Add(inferRes.Usage)
			summary.Inferred += inferRes.Inferred
			summary.Declined += inferRes.Declined
			if inferRes.Incomplete && opts.OnFailure != nil {
				opts.OnFailure(i, *rec, StageNameInfer, inferRes.Err)
			}
			mu.Unlock()
			if err != nil {
				return eris.Wrapf(err, "pipeline: infer %q", rec.Name)
			}
			rec.Stage = model.StageInferenceDone

			rec.Stage = model.StageAddressPending
			var addrRes AddressResult
			switch {
			case rec.StreetAddress != "":
				// Synthesized in an earlier pass; nothing to do.
			case rec.City == "":
				mu.Lock()
				summary.AddressSkipped++
				mu.Unlock()
			default:
				addrRes, err = SynthesizeAddress(gCtx, rec, ask)
				mu.Lock()
				usage.Add(addrRes.Usage)
				if addrRes.Synthesized {
					summary.Addresses++
				}
				if addrRes.Declined {
					summary.Declined++
				}
				if addrRes.Incomplete && opts.OnFailure != nil {
					opts.OnFailure(i, *rec, StageNameAddress, addrRes.Err)
				}
				mu.Unlock()
				if err != nil {
					return eris.Wrapf(err, "pipeline: synthesize address %q", rec.Name)
				}
			}
			rec.Stage = model.StageAddressDone

			if inferRes.Incomplete || addrRes.Incomplete {
				mu.Lock()
				summary.Incomplete++
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	return summary, usage, err
}
