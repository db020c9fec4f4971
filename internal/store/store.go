// Package store persists a ledger of batches and per-molecule outcomes
// in a sqlite database, for follow-up triage across runs. The ledger is
// best-effort: the batch itself never depends on it succeeding.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moldock/moldock/internal/model"
)

var ErrNotFound = errors.New("not found")

// BatchRow is one recorded batch.
type BatchRow struct {
	ID         int
	UUID       string
	Library    string
	Protein    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      *int
	Succeeded  *int
	Failed     *int
}

// OutcomeRow is one recorded molecule outcome.
type OutcomeRow struct {
	ID        int
	BatchUUID string
	Molecule  string
	Success   bool
	Energy    *float64
	Cause     *string
}

// Ledger wraps the sqlite handle.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at dbPath and ensures the
// schema exists.
func Open(ctx context.Context, dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", dbPath, err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			library TEXT NOT NULL,
			protein TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT DEFAULT NULL,
			total INTEGER DEFAULT NULL,
			succeeded INTEGER DEFAULT NULL,
			failed INTEGER DEFAULT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_uuid TEXT NOT NULL,
			molecule TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			energy REAL DEFAULT NULL,
			cause TEXT DEFAULT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating ledger schema: %w", err)
		}
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartBatch records that a batch identified by uuid has started.
func (l *Ledger) StartBatch(ctx context.Context, uuid, library, protein string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO batches (uuid, library, protein, started_at) VALUES (?,?,?,?);`,
		uuid, library, protein, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording batch start: %w", err)
	}
	return nil
}

// RecordOutcome appends one molecule outcome to the batch's ledger.
func (l *Ledger) RecordOutcome(ctx context.Context, uuid string, out model.Outcome) error {
	var (
		energy *float64
		cause  *string
	)
	if out.OK {
		energy = &out.Scores.Total
	} else {
		c := out.Cause.String()
		cause = &c
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO outcomes (batch_uuid, molecule, success, energy, cause) VALUES (?,?,?,?,?);`,
		uuid, out.Name, out.OK, energy, cause,
	)
	if err != nil {
		return fmt.Errorf("recording outcome of %s: %w", out.Name, err)
	}
	return nil
}

// FinishBatch stores the final counters of a batch.
func (l *Ledger) FinishBatch(ctx context.Context, uuid string, total, succeeded, failed int) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE batches
		 SET finished_at = ?, total = ?, succeeded = ?, failed = ?
		 WHERE uuid = ?;`,
		time.Now().UTC().Format(time.RFC3339), total, succeeded, failed, uuid,
	)
	if err != nil {
		return fmt.Errorf("recording batch finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording batch finish: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Batch returns the recorded batch identified by uuid, ErrNotFound when
// it does not exist.
func (l *Ledger) Batch(ctx context.Context, uuid string) (BatchRow, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, uuid, library, protein, started_at, finished_at, total, succeeded, failed
		 FROM batches WHERE uuid = ?;`, uuid,
	)

	var (
		b                  BatchRow
		started            string
		finished           *string
		total, succ, faild *int
	)
	err := row.Scan(&b.ID, &b.UUID, &b.Library, &b.Protein, &started, &finished, &total, &succ, &faild)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return BatchRow{}, ErrNotFound
	case err != nil:
		return BatchRow{}, fmt.Errorf("querying batch: %w", err)
	}

	b.StartedAt, err = time.Parse(time.RFC3339, started)
	if err != nil {
		return BatchRow{}, fmt.Errorf("parsing batch start time: %w", err)
	}
	if finished != nil {
		ts, err := time.Parse(time.RFC3339, *finished)
		if err != nil {
			return BatchRow{}, fmt.Errorf("parsing batch finish time: %w", err)
		}
		b.FinishedAt = &ts
	}
	b.Total, b.Succeeded, b.Failed = total, succ, faild
	return b, nil
}

// AllBatches returns every recorded batch, oldest first.
func (l *Ledger) AllBatches(ctx context.Context) ([]BatchRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT uuid FROM batches ORDER BY id;`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var uuids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning batch uuid: %w", err)
		}
		uuids = append(uuids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batches: %w", err)
	}

	out := make([]BatchRow, 0, len(uuids))
	for _, id := range uuids {
		b, err := l.Batch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Outcomes returns every recorded outcome of the batch in insertion
// order.
func (l *Ledger) Outcomes(ctx context.Context, uuid string) ([]OutcomeRow, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, batch_uuid, molecule, success, energy, cause
		 FROM outcomes WHERE batch_uuid = ? ORDER BY id;`, uuid,
	)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []OutcomeRow
	for rows.Next() {
		var o OutcomeRow
		if err := rows.Scan(&o.ID, &o.BatchUUID, &o.Molecule, &o.Success, &o.Energy, &o.Cause); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}
	return out, nil
}
