package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/venturescope/enrich-cli/internal/model"
	"github.com/venturescope/enrich-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	input_path  TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'queued',
	result      TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	pos                  INTEGER NOT NULL,
	name                 TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT '',
	homepage_url         TEXT NOT NULL DEFAULT '',
	founded_year         INTEGER,
	founded_at           TEXT NOT NULL DEFAULT '',
	funding_total        REAL,
	country_code         TEXT NOT NULL DEFAULT '',
	region               TEXT NOT NULL DEFAULT '',
	state_code           TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	categories           TEXT NOT NULL DEFAULT '',
	street_address       TEXT NOT NULL DEFAULT '',
	url_validity         TEXT NOT NULL DEFAULT '',
	inference_incomplete INTEGER NOT NULL DEFAULT 0,
	stage                TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, pos)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	pos            INTEGER NOT NULL,
	record         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_records_city ON records(run_id, city);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, inputPath, outputPath string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_path, output_path, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, inputPath, outputPath, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		InputPath:  inputPath,
		OutputPath: outputPath,
		Status:     model.RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input_path, output_path, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, input_path, output_path, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) LatestRunWithSnapshot(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id FROM runs r
		 WHERE EXISTS (SELECT 1 FROM records WHERE run_id = r.id)
		 ORDER BY r.created_at DESC LIMIT 1`,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", eris.New("sqlite: no run with a snapshot")
	}
	return id, eris.Wrap(err, "sqlite: latest run with snapshot")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func (s *SQLiteStore) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases WHERE run_id = ? ORDER BY started_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases for run %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

const sqliteInsertRecord = `INSERT INTO records
	(run_id, pos, name, status, homepage_url, founded_year, founded_at, funding_total,
	 country_code, region, state_code, city, categories, street_address, url_validity,
	 inference_incomplete, stage)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, runID string, records []model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear snapshot %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx, sqliteInsertRecord)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare snapshot insert")
	}
	defer stmt.Close()

	for pos, rec := range records {
		if _, err := stmt.ExecContext(ctx, snapshotArgs(runID, pos, rec)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot row %d", pos)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot")
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, runID string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, homepage_url, founded_year, founded_at, funding_total,
		        country_code, region, state_code, city, categories, street_address,
		        url_validity, inference_incomplete, stage
		 FROM records WHERE run_id = ? ORDER BY pos`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load snapshot %s", runID)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var rec model.Record
		var year sql.NullInt64
		var funding sql.NullFloat64
		var categories string
		if err := rows.Scan(&rec.Name, &rec.Status, &rec.HomepageURL, &year, &rec.FoundedAt,
			&funding, &rec.CountryCode, &rec.Region, &rec.StateCode, &rec.City, &categories,
			&rec.StreetAddress, &rec.URLValidity, &rec.InferenceIncomplete, &rec.Stage); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot row")
		}
		if year.Valid {
			rec.FoundedYear = int(year.Int64)
		}
		if funding.Valid {
			f := funding.Float64
			rec.FundingTotal = &f
		}
		if categories != "" {
			rec.Categories = strings.Split(categories, "|")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: load snapshot iterate")
}

func (s *SQLiteStore) UpdateSnapshotRecords(ctx context.Context, runID string, records []model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot update tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpdateRecord)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare snapshot update")
	}
	defer stmt.Close()

	for pos, rec := range records {
		if _, err := stmt.ExecContext(ctx, updateArgs(runID, pos, rec)...); err != nil {
			return eris.Wrapf(err, "sqlite: update snapshot row %d", pos)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot update")
}

const sqliteUpdateRecord = `UPDATE records SET
	name = ?, status = ?, homepage_url = ?, founded_year = ?, founded_at = ?,
	funding_total = ?, country_code = ?, region = ?, state_code = ?, city = ?,
	categories = ?, street_address = ?, url_validity = ?, inference_incomplete = ?, stage = ?
	WHERE run_id = ? AND pos = ?`

func (s *SQLiteStore) UpdateSnapshotRecord(ctx context.Context, runID string, pos int, rec model.Record) error {
	res, err := s.db.ExecContext(ctx, sqliteUpdateRecord, updateArgs(runID, pos, rec)...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update snapshot record %d", pos)
	}
	return checkRowsAffected(res, "record", runID)
}

// Dead letter queue methods

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	recordJSON, err := json.Marshal(entry.Record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, pos, record, stage, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.RunID, entry.Pos, string(recordJSON), entry.Stage,
		entry.Error, entry.ErrorType, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, pos, record, stage, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= datetime('now') AND retry_count < max_retries`
	var args []any

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, filter.Stage)
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var recordJSON string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Pos, &recordJSON, &e.Stage, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(recordJSON), &e.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq record")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = datetime('now')
		 WHERE id = ?`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// Report queries

func (s *SQLiteStore) CitiesByCount(ctx context.Context, runID string, limit int) ([]CityCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT city, COUNT(*) AS companies FROM records
		 WHERE run_id = ? AND city <> ''
		 GROUP BY city ORDER BY companies DESC, city ASC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cities by count")
	}
	defer rows.Close()

	var out []CityCount
	for rows.Next() {
		var c CityCount
		if err := rows.Scan(&c.City, &c.Companies); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan city count")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: cities by count iterate")
}

func (s *SQLiteStore) FundingExtremes(ctx context.Context, runID string) (*FundedCompany, *FundedCompany, error) {
	scanOne := func(order string) (*FundedCompany, error) {
		row := s.db.QueryRowContext(ctx,
			`SELECT name, city, funding_total FROM records
			 WHERE run_id = ? AND funding_total IS NOT NULL
			 ORDER BY funding_total `+order+` LIMIT 1`,
			runID,
		)
		var fc FundedCompany
		err := row.Scan(&fc.Name, &fc.City, &fc.FundingTotal)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: funding extreme")
		}
		return &fc, nil
	}

	max, err := scanOne("DESC")
	if err != nil {
		return nil, nil, err
	}
	min, err := scanOne("ASC")
	if err != nil {
		return nil, nil, err
	}
	return max, min, nil
}

func (s *SQLiteStore) FundingByYear(ctx context.Context, runID string) ([]YearFunding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT founded_year, COUNT(*), SUM(funding_total) FROM records
		 WHERE run_id = ? AND founded_year IS NOT NULL AND funding_total IS NOT NULL
		 GROUP BY founded_year ORDER BY founded_year`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: funding by year")
	}
	defer rows.Close()

	var out []YearFunding
	for rows.Next() {
		var y YearFunding
		if err := rows.Scan(&y.Year, &y.Companies, &y.Total); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan year funding")
		}
		out = append(out, y)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: funding by year iterate")
}

// helpers

// snapshotArgs flattens a record into the column order of sqliteInsertRecord.
func snapshotArgs(runID string, pos int, rec model.Record) []any {
	return append([]any{runID, pos}, recordArgs(rec)...)
}

// updateArgs flattens a record into the column order of sqliteUpdateRecord.
func updateArgs(runID string, pos int, rec model.Record) []any {
	return append(recordArgs(rec), runID, pos)
}

func recordArgs(rec model.Record) []any {
	var year any
	if rec.FoundedYear != 0 {
		year = rec.FoundedYear
	}
	var funding any
	if rec.FundingTotal != nil {
		funding = *rec.FundingTotal
	}
	return []any{
		rec.Name, string(rec.Status), rec.HomepageURL, year, rec.FoundedAt, funding,
		rec.CountryCode, rec.Region, rec.StateCode, rec.City,
		strings.Join(rec.Categories, "|"), rec.StreetAddress, string(rec.URLValidity),
		rec.InferenceIncomplete, string(rec.Stage),
	}
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.InputPath, &r.OutputPath, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}
