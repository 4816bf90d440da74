package paper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS paper_state (
	exchange   TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps one row per exchange with a sha256 checksum of the
// serialized state.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL keeps the last committed state readable after a crash
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, state *State) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	checksum := sha256.Sum256(data)
	query := `INSERT OR REPLACE INTO paper_state (exchange, data, checksum, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, state.Exchange, string(data), checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write state to db: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadState(ctx context.Context, exchange string) (*State, error) {
	query := `SELECT data, checksum FROM paper_state WHERE exchange = ?`
	var data string
	var stored []byte
	err := s.db.QueryRowContext(ctx, query, exchange).Scan(&data, &stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state from db: %w", err)
	}

	computed := sha256.Sum256([]byte(data))
	if !bytes.Equal(stored, computed[:]) {
		return nil, fmt.Errorf("checksum verification failed for %s: data corruption detected", exchange)
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]*Position)
	}
	return &state, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
