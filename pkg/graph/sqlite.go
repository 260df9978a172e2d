package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteJournal persists commit records in sequence order.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal migrates the schema on an open handle.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("graph: migrate journal: %w", err)
	}
	return j, nil
}

// OpenSQLiteJournal opens (or creates) a database file and migrates it.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("graph: open %s: %w", path, err)
	}
	return NewSQLiteJournal(db)
}

func (j *SQLiteJournal) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS commits (
        seq INTEGER PRIMARY KEY,
        delta JSON NOT NULL,
        delta_hash TEXT NOT NULL,
        prev TEXT NOT NULL,
        head TEXT NOT NULL UNIQUE
    );`
	_, err := j.db.ExecContext(context.Background(), query)
	return err
}

// SaveCommit appends one record.
func (j *SQLiteJournal) SaveCommit(rec CommitRecord) error {
	delta, err := json.Marshal(rec.Delta)
	if err != nil {
		return fmt.Errorf("graph: marshal delta: %w", err)
	}
	query := `
        INSERT INTO commits (seq, delta, delta_hash, prev, head)
        VALUES (?, ?, ?, ?, ?)
    `
	if _, err := j.db.ExecContext(context.Background(), query,
		rec.Seq, string(delta), rec.DeltaHash, rec.Prev, rec.Head); err != nil {
		return fmt.Errorf("graph: insert commit %d: %w", rec.Seq, err)
	}
	return nil
}

// LoadCommits returns all records in sequence order.
func (j *SQLiteJournal) LoadCommits() ([]CommitRecord, error) {
	query := `
        SELECT seq, delta, delta_hash, prev, head
        FROM commits
        ORDER BY seq ASC
    `
	rows, err := j.db.QueryContext(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("graph: load commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []CommitRecord
	for rows.Next() {
		var rec CommitRecord
		var delta string
		if err := rows.Scan(&rec.Seq, &delta, &rec.DeltaHash, &rec.Prev, &rec.Head); err != nil {
			return nil, fmt.Errorf("graph: scan commit: %w", err)
		}
		if err := json.Unmarshal([]byte(delta), &rec.Delta); err != nil {
			return nil, fmt.Errorf("graph: decode delta for commit %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying handle.
func (j *SQLiteJournal) Close() error { return j.db.Close() }

var _ Journal = (*SQLiteJournal)(nil)
