package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the journal in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps db and creates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS submission_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id TEXT NOT NULL DEFAULT '',
		record_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		from_phase TEXT NOT NULL,
		phase TEXT NOT NULL,
		tx_handle TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return err
	}
	_, err := s.db.ExecContext(context.Background(),
		`CREATE INDEX IF NOT EXISTS submission_journal_key ON submission_journal (record_id, category, id)`)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, e *Entry) error {
	query := `INSERT INTO submission_journal (
		submission_id, record_id, category, from_phase, phase, tx_handle, reason, timestamp
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		e.SubmissionID, int64(e.RecordID), e.Category, e.From, e.Phase, e.TxHandle, e.Reason,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, submission_id, record_id, category, from_phase, phase, tx_handle, reason, timestamp
		FROM submission_journal
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanSQLiteRows(rows)
}

func (s *SQLiteStore) History(ctx context.Context, key submission.Key) ([]Entry, error) {
	query := `
		SELECT id, submission_id, record_id, category, from_phase, phase, tx_handle, reason, timestamp
		FROM submission_journal
		WHERE record_id = ? AND category = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, int64(key.RecordID), key.Category)
	if err != nil {
		return nil, err
	}
	return scanSQLiteRows(rows)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteRows(rows *sql.Rows) ([]Entry, error) {
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			recordID  int64
			timestamp string
		)
		if err := rows.Scan(&e.ID, &e.SubmissionID, &recordID, &e.Category, &e.From, &e.Phase, &e.TxHandle, &e.Reason, &timestamp); err != nil {
			return nil, err
		}
		e.RecordID = uint64(recordID)
		e.Timestamp = parseTime(timestamp)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
