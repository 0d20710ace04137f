package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"

	_ "github.com/lib/pq"
)

// PostgresStore keeps the journal in Postgres.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with a postgres:// URL and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps db. Call Migrate before first use on a new database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the journal table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS submission_journal (
		id BIGSERIAL PRIMARY KEY,
		submission_id TEXT NOT NULL DEFAULT '',
		record_id BIGINT NOT NULL,
		category TEXT NOT NULL,
		from_phase TEXT NOT NULL,
		phase TEXT NOT NULL,
		tx_handle TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMPTZ NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	query := `INSERT INTO submission_journal (submission_id, record_id, category, from_phase, phase, tx_handle, reason, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

	err := s.db.QueryRowContext(ctx, query,
		e.SubmissionID, int64(e.RecordID), e.Category, e.From, e.Phase, e.TxHandle, e.Reason, e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT id, submission_id, record_id, category, from_phase, phase, tx_handle, reason, timestamp FROM submission_journal ORDER BY id DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanPostgresRows(rows)
}

func (s *PostgresStore) History(ctx context.Context, key submission.Key) ([]Entry, error) {
	query := `SELECT id, submission_id, record_id, category, from_phase, phase, tx_handle, reason, timestamp FROM submission_journal WHERE record_id = $1 AND category = $2 ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, int64(key.RecordID), key.Category)
	if err != nil {
		return nil, err
	}
	return scanPostgresRows(rows)
}

// Close closes the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPostgresRows(rows *sql.Rows) ([]Entry, error) {
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			recordID int64
		)
		if err := rows.Scan(&e.ID, &e.SubmissionID, &recordID, &e.Category, &e.From, &e.Phase, &e.TxHandle, &e.Reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.RecordID = uint64(recordID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
