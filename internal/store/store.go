// Package store persists enrichment runs, phase outcomes, record
// snapshots, and the dead letter queue, and answers the read-only report
// queries over flushed snapshots.
package store

import (
	"context"
	"time"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// CityCount is one row of the cities-by-company-count report.
type CityCount struct {
	City      string `json:"city"`
	Companies int    `json:"companies"`
}

// FundedCompany is a funding extreme: the most or least funded company in
// a snapshot.
type FundedCompany struct {
	Name         string  `json:"name"`
	City         string  `json:"city,omitempty"`
	FundingTotal float64 `json:"funding_total"`
}

// YearFunding is one row of the funding-by-founding-year report.
type YearFunding struct {
	Year      int     `json:"year"`
	Companies int     `json:"companies"`
	Total     float64 `json:"total"`
}

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, inputPath, outputPath string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// UpdateRunResult saves the run's result payload. Status transitions go
	// through UpdateRunStatus only.
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	LatestRunWithSnapshot(ctx context.Context) (string, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Record snapshots. SaveSnapshot happens once per run at the flush
	// barrier; the update variants serve verifier re-entry and DLQ
	// recovery, keyed by (run, position).
	SaveSnapshot(ctx context.Context, runID string, records []model.Record) error
	LoadSnapshot(ctx context.Context, runID string) ([]model.Record, error)
	UpdateSnapshotRecords(ctx context.Context, runID string, records []model.Record) error
	UpdateSnapshotRecord(ctx context.Context, runID string, pos int, rec model.Record) error

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Reports over a flushed snapshot
	CitiesByCount(ctx context.Context, runID string, limit int) ([]CityCount, error)
	FundingExtremes(ctx context.Context, runID string) (max, min *FundedCompany, err error)
	FundingByYear(ctx context.Context, runID string) ([]YearFunding, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
