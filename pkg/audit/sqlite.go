package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roundtree-labs/roundtree/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists receipts in arrival order.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore migrates the schema on an open handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) a database file and migrates it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS receipts (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        receipt_id TEXT NOT NULL UNIQUE,
        system TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        event TEXT NOT NULL,
        fields JSON,
        prev TEXT NOT NULL,
        event_hash TEXT NOT NULL,
        signature TEXT NOT NULL,
        head TEXT NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// SaveReceipt appends one receipt.
func (s *SQLiteStore) SaveReceipt(r contracts.Receipt) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("audit: marshal fields: %w", err)
	}
	query := `
        INSERT INTO receipts (receipt_id, system, timestamp, event, fields, prev, event_hash, signature, head)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(context.Background(), query,
		r.ReceiptID, r.System, r.Timestamp, r.Event, string(fields),
		r.Prev, r.EventHash, r.Signature, r.Head)
	if err != nil {
		return fmt.Errorf("audit: insert receipt %s: %w", r.ReceiptID, err)
	}
	return nil
}

// LoadReceipts returns the full chain in append order.
func (s *SQLiteStore) LoadReceipts() ([]contracts.Receipt, error) {
	query := `
        SELECT receipt_id, system, timestamp, event, fields, prev, event_hash, signature, head
        FROM receipts
        ORDER BY seq ASC
    `
	rows, err := s.db.QueryContext(context.Background(), query)
	if err != nil {
		return nil, fmt.Errorf("audit: load receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var receipts []contracts.Receipt
	for rows.Next() {
		var r contracts.Receipt
		var fields string
		if err := rows.Scan(&r.ReceiptID, &r.System, &r.Timestamp, &r.Event, &fields,
			&r.Prev, &r.EventHash, &r.Signature, &r.Head); err != nil {
			return nil, fmt.Errorf("audit: scan receipt: %w", err)
		}
		if fields != "" && fields != "null" {
			if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
				return nil, fmt.Errorf("audit: decode fields for %s: %w", r.ReceiptID, err)
			}
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
