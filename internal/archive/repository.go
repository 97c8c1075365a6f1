// Package archive keeps every collection run and the records it collected in
// SQLite, so history survives beyond the last exported file.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/tradelog/internal/database"
	"github.com/aristath/tradelog/internal/timeline"
)

// recordNamespace scopes name-based ids of records that carry no id
var recordNamespace = uuid.MustParse("6f1c1a52-4a3e-4d8e-9a57-1b2c3d4e5f60")

// Run is one collection run
type Run struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Cutoff     time.Time      `json:"cutoff"`
	Stats      timeline.Stats `json:"stats"`
	Records    int            `json:"records"`
	Error      string         `json:"error,omitempty"`
}

// Succeeded reports whether the run finished without error
func (r Run) Succeeded() bool {
	return r.FinishedAt != nil && r.Error == ""
}

// payload is the msgpack form of an archived record
type payload struct {
	Timestamp time.Time `msgpack:"ts"`
	Raw       []byte    `msgpack:"raw"`
}

const runColumns = `id, started_at, finished_at, cutoff, requests, pages, unmatched, records, error`

// Repository reads and writes the archive tables
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRepository creates a repository over a migrated archive database
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "archive").Logger(),
		now: time.Now,
	}
}

// RecordID returns the archive key of a record: its own id, or a name-based
// UUID of its bytes when it has none.
func RecordID(t timeline.RawTransaction) string {
	if id := t.ID(); id != "" {
		return id
	}
	return uuid.NewSHA1(recordNamespace, t.Raw()).String()
}

// StartRun records the start of a collection run
func (r *Repository) StartRun(cutoff time.Time) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		StartedAt: r.now().UTC().Truncate(time.Second),
		Cutoff:    cutoff.UTC(),
	}

	_, err := r.db.Exec(
		`INSERT INTO collection_runs (id, started_at, cutoff) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt.Unix(), run.Cutoff.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	r.log.Debug().Str("run_id", run.ID).Time("cutoff", run.Cutoff).Msg("Run started")
	return run, nil
}

// FinishRun stores the outcome of a run. runErr is the error the run ended
// with, if any.
func (r *Repository) FinishRun(run *Run, stats timeline.Stats, records int, runErr error) error {
	finished := r.now().UTC().Truncate(time.Second)
	run.FinishedAt = &finished
	run.Stats = stats
	run.Records = records
	if runErr != nil {
		run.Error = runErr.Error()
	}

	res, err := r.db.Exec(`
		UPDATE collection_runs
		SET finished_at = ?, requests = ?, pages = ?, unmatched = ?, records = ?, error = ?
		WHERE id = ?
	`,
		finished.Unix(), stats.Requests, stats.Pages, stats.Unmatched, records,
		nullString(run.Error), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish run %s: run not found", run.ID)
	}

	r.log.Info().
		Str("run_id", run.ID).
		Int("records", records).
		Int("pages", stats.Pages).
		Str("error", run.Error).
		Msg("Run finished")
	return nil
}

// Upsert stores records collected by a run. A record already archived is
// replaced, so archiving overlapping runs keeps one row per record.
func (r *Repository) Upsert(runID string, txs []timeline.RawTransaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	updatedAt := r.now().Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO timeline_transactions (id, run_id, timestamp, timestamp_nanos, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				run_id = excluded.run_id,
				timestamp = excluded.timestamp,
				timestamp_nanos = excluded.timestamp_nanos,
				payload = excluded.payload,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range txs {
			data, err := msgpack.Marshal(&payload{Timestamp: t.Timestamp(), Raw: t.Raw()})
			if err != nil {
				return fmt.Errorf("failed to encode record %s: %w", RecordID(t), err)
			}
			ts := t.Timestamp()
			if _, err := stmt.Exec(RecordID(t), runID, ts.Unix(), ts.Nanosecond(), data, updatedAt); err != nil {
				return fmt.Errorf("failed to store record %s: %w", RecordID(t), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to archive records of run %s: %w", runID, err)
	}

	r.log.Debug().Str("run_id", runID).Int("records", len(txs)).Msg("Records archived")
	return len(txs), nil
}

// Since returns archived records strictly newer than cutoff, newest first
func (r *Repository) Since(cutoff time.Time) ([]timeline.RawTransaction, error) {
	query := `SELECT payload FROM timeline_transactions`
	var args []interface{}
	if !cutoff.IsZero() {
		query += ` WHERE timestamp > ? OR (timestamp = ? AND timestamp_nanos > ?)`
		args = append(args, cutoff.Unix(), cutoff.Unix(), cutoff.Nanosecond())
	}
	query += ` ORDER BY timestamp DESC, timestamp_nanos DESC, id`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived records: %w", err)
	}
	defer rows.Close()

	var txs []timeline.RawTransaction
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan archived record: %w", err)
		}
		var p payload
		if err := msgpack.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode archived record: %w", err)
		}
		t, err := timeline.NewRawTransaction(p.Raw)
		if err != nil {
			return nil, fmt.Errorf("archived record is invalid: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archived records: %w", err)
	}
	return txs, nil
}

// Count returns the number of archived records
func (r *Repository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM timeline_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived records: %w", err)
	}
	return n, nil
}

// ListRuns returns the most recent runs, newest first
func (r *Repository) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT `+runColumns+` FROM collection_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// LastSuccessfulRun returns the newest run that finished without error, or nil
func (r *Repository) LastSuccessfulRun() (*Run, error) {
	row := r.db.QueryRow(`
		SELECT ` + runColumns + ` FROM collection_runs
		WHERE finished_at IS NOT NULL AND error IS NULL
		ORDER BY finished_at DESC, rowid DESC LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run                Run
		startedAt, cutoff  int64
		finishedAt         sql.NullInt64
		runErr             sql.NullString
		requests, pages    int
		unmatched, records int
	)
	err := s.Scan(&run.ID, &startedAt, &finishedAt, &cutoff, &requests, &pages, &unmatched, &records, &runErr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}

	run.StartedAt = time.Unix(startedAt, 0).UTC()
	run.Cutoff = time.Unix(cutoff, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}
	run.Stats = timeline.Stats{Requests: requests, Pages: pages, Unmatched: unmatched}
	run.Records = records
	run.Error = runErr.String
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
