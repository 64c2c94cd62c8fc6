package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	pberrors "pairbot/internal/errors"
	"pairbot/internal/models"
)

// SQLiteStore implements HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based history store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Closed setup history
	CREATE TABLE IF NOT EXISTS setups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		spread_id TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Flag transition audit trail
	CREATE TABLE IF NOT EXISTS flag_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		spread_id TEXT,
		action TEXT NOT NULL,
		reason TEXT,
		timestamp DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_setups_spread ON setups(spread_id);
	CREATE INDEX IF NOT EXISTS idx_setups_closed ON setups(closed_at);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON flag_audit(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordTransition appends one flag state change.
func (s *SQLiteStore) RecordTransition(t models.FlagTransition) error {
	_, err := s.db.Exec(
		`INSERT INTO flag_audit (spread_id, action, reason, timestamp) VALUES (?, ?, ?, ?)`,
		t.SpreadID, t.Action, t.Reason, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording flag transition: %w", err)
	}
	return nil
}

// SaveClosedSetup records one finished setup.
func (s *SQLiteStore) SaveClosedSetup(entry *models.SetupHistoryEntry) error {
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO setups (spread_id, opened_at, closed_at, outcome, reason, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.SpreadID, entry.OpenedAt, entry.ClosedAt, entry.Outcome, entry.Reason, string(meta),
	)
	if err != nil {
		return fmt.Errorf("saving closed setup: %w", err)
	}
	return nil
}

// GetHistory returns closed setups matching the filter, newest first.
func (s *SQLiteStore) GetHistory(filter HistoryFilter) ([]models.SetupHistoryEntry, error) {
	query := `SELECT id, spread_id, opened_at, closed_at, outcome, reason, metadata FROM setups`
	var conditions []string
	var args []interface{}

	if filter.SpreadID != "" {
		conditions = append(conditions, "spread_id = ?")
		args = append(args, filter.SpreadID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if !filter.StartDate.IsZero() {
		conditions = append(conditions, "closed_at >= ?")
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		conditions = append(conditions, "closed_at <= ?")
		args = append(args, filter.EndDate)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY closed_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying setup history: %w", err)
	}
	defer rows.Close()

	var entries []models.SetupHistoryEntry
	for rows.Next() {
		var entry models.SetupHistoryEntry
		var reason, meta sql.NullString
		if err := rows.Scan(&entry.ID, &entry.SpreadID, &entry.OpenedAt, &entry.ClosedAt,
			&entry.Outcome, &reason, &meta); err != nil {
			return nil, fmt.Errorf("scanning setup row: %w", err)
		}
		entry.Reason = reason.String
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &entry.Metadata); err != nil {
				return nil, pberrors.Wrapf(err, "decoding metadata for setup %d", entry.ID)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetTransitions returns flag transitions, newest first.
func (s *SQLiteStore) GetTransitions(limit int) ([]models.FlagTransition, error) {
	query := `SELECT id, spread_id, action, reason, timestamp FROM flag_audit ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying flag audit: %w", err)
	}
	defer rows.Close()

	var transitions []models.FlagTransition
	for rows.Next() {
		var t models.FlagTransition
		var spreadID, reason sql.NullString
		if err := rows.Scan(&t.ID, &spreadID, &t.Action, &reason, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		t.SpreadID = spreadID.String
		t.Reason = reason.String
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
