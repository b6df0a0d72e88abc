// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run represents one recorded interpreter invocation.
type Run struct {
	ID         int64     `json:"id"`
	ModulePath string    `json:"module_path"`
	Entry      string    `json:"entry"`
	Args       []string  `json:"args"`
	Result     string    `json:"result"`
	ErrorMsg   string    `json:"error_msg"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store handles database operations
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the SQLite history store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		module_path TEXT NOT NULL,
		entry TEXT NOT NULL,
		args TEXT,
		result TEXT,
		error_msg TEXT,
		duration_ms INTEGER,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_module ON runs(module_path);
	`
	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// SaveRun persists one invocation record.
func (s *Store) SaveRun(run *Run) error {
	argsJSON, _ := json.Marshal(run.Args)

	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now()
	}
	res, err := s.db.Exec(`
	INSERT INTO runs (module_path, entry, args, result, error_msg, duration_ms, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ModulePath, run.Entry, string(argsJSON), run.Result,
		run.ErrorMsg, run.DurationMS, run.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	run.ID, _ = res.LastInsertId()
	return nil
}

// RecentRuns returns up to limit invocations, newest first.
func (s *Store) RecentRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
	SELECT id, module_path, entry, args, result, error_msg, duration_ms, timestamp
	FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var argsJSON string
		if err := rows.Scan(&r.ID, &r.ModulePath, &r.Entry, &argsJSON,
			&r.Result, &r.ErrorMsg, &r.DurationMS, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if argsJSON != "" {
			_ = json.Unmarshal([]byte(argsJSON), &r.Args)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
