package store

import (
	"context"
	"database/sql"
	"time"
)

// IngestRun records a single upstream fetch for auditing.
type IngestRun struct {
	ID                int64          `db:"id"`
	StartedAt         time.Time      `db:"started_at"`
	FinishedAt        sql.NullTime   `db:"finished_at"`
	Source            string         `db:"source"`   // "metar"
	Endpoint          string         `db:"endpoint"` // "api/data/metar"
	HTTPStatus        sql.NullInt64  `db:"http_status"`
	ResponseSizeBytes sql.NullInt64  `db:"response_size_bytes"`
	RecordsParsed     sql.NullInt64  `db:"records_parsed"`
	RecordsStored     sql.NullInt64  `db:"records_stored"`
	Success           bool           `db:"success"`
	ErrorMessage      sql.NullString `db:"error_message"`
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(ctx context.Context, source, endpoint string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (started_at, source, endpoint, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(ctx context.Context, run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.NamedExecContext(ctx, `
		UPDATE ingest_runs SET
			finished_at = :finished_at,
			http_status = :http_status,
			response_size_bytes = :response_size_bytes,
			records_parsed = :records_parsed,
			records_stored = :records_stored,
			success = :success,
			error_message = :error_message
		WHERE id = :id
	`, run)
	return err
}

// GetRecentIngestRuns returns the latest runs, newest first.
func (s *Store) GetRecentIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	var runs []IngestRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, started_at, finished_at, source, endpoint, http_status, response_size_bytes,
		       records_parsed, records_stored, success, error_message
		FROM ingest_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	return runs, err
}
