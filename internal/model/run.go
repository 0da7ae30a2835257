package model

import "time"

// RunStatus represents the current state of an enrichment run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusCleaning  RunStatus = "cleaning"
	RunStatusEnriching RunStatus = "enriching"
	RunStatusVerifying RunStatus = "verifying"
	RunStatusFlushing  RunStatus = "flushing"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
)

// Run represents a single pipeline run over an input dataset.
type Run struct {
	ID         string     `json:"id"`
	InputPath  string     `json:"input_path"`
	OutputPath string     `json:"output_path,omitempty"`
	Status     RunStatus  `json:"status"`
	Result     *RunResult `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Clean       CleanSummary  `json:"clean"`
	Enrich      EnrichSummary `json:"enrich"`
	Verify      VerifySummary `json:"verify"`
	Records     int           `json:"records"`
	TotalTokens int           `json:"total_tokens"`
	TotalCost   float64       `json:"total_cost"`
	Phases      []PhaseResult `json:"phases"`
	Error       string        `json:"error,omitempty"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks oracle token consumption attributed to a phase or run.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.Cost += other.Cost
}

// CleanSummary counts what the validator did to the raw table.
type CleanSummary struct {
	InputRows      int `json:"input_rows"`
	Kept           int `json:"kept"`
	DroppedEmpty   int `json:"dropped_empty"`
	DroppedNoName  int `json:"dropped_no_name"`
	DroppedCorrupt int `json:"dropped_corrupt"`
	Corrected      int `json:"corrected"`
}

// Dropped returns the total number of rows removed during cleaning.
func (s CleanSummary) Dropped() int {
	return s.DroppedEmpty + s.DroppedNoName + s.DroppedCorrupt
}

// EnrichSummary counts inference and address-synthesis outcomes.
type EnrichSummary struct {
	Records        int `json:"records"`
	Inferred       int `json:"inferred"`  // fields written by inference
	Declined       int `json:"declined"`  // fields the oracle declined to answer
	Incomplete     int `json:"incomplete"` // records that exhausted retries
	Addresses      int `json:"addresses"`
	AddressSkipped int `json:"address_skipped"` // city unresolved, synthesis not attempted
}

// VerifySummary counts URL verification outcomes.
type VerifySummary struct {
	Checked   int `json:"checked"`
	Valid     int `json:"valid"`
	Invalid   int `json:"invalid"`
	Unchecked int `json:"unchecked"`
	Skipped   int `json:"skipped"` // already decided in a previous pass
	NoURL     int `json:"no_url"`
}
