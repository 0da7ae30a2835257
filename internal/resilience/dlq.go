package resilience

import (
	"time"

	"github.com/venturescope/enrich-cli/internal/model"
)

// DLQEntry is a record whose enrichment stage exhausted its retries and was
// parked for a later attempt.
type DLQEntry struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	Pos          int          `json:"pos"` // snapshot row the record came from
	Record       model.Record `json:"record"`
	Stage        string       `json:"stage"` // "infer", "address", or "verify"
	Error        string       `json:"error"`
	ErrorType    string       `json:"error_type"` // "transient" or "permanent"
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	NextRetryAt  time.Time    `json:"next_retry_at"`
	CreatedAt    time.Time    `json:"created_at"`
	LastFailedAt time.Time    `json:"last_failed_at"`
}

// DLQFilter specifies criteria for draining the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Stage     string `json:"stage,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry still has retry budget.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
