// Package sqlite keeps an append-only audit journal of dispatched signals.
// Nothing is read back into the live pipeline.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/willkaufman/scalp-trader-sui/internal/model"
)

// Journal writes one row per dispatched signal.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database with WAL mode and the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	slog.Info("signal journal opened", "path", path)
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id          TEXT    PRIMARY KEY,
			asset       TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			price       REAL    NOT NULL,
			strong      INTEGER NOT NULL,
			spread      REAL    NOT NULL,
			payload     TEXT    NOT NULL,
			recorded_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_signals_asset_ts ON signals (asset, ts);
	`)
	return err
}

// Record inserts sig. Re-recording the same ID is a no-op.
func (j *Journal) Record(ctx context.Context, sig model.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("sqlite: marshal signal: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (id, asset, ts, price, strong, spread, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.Asset, sig.Timestamp.UnixMilli(), sig.Price, sig.Strong,
		sig.Underperformance.Spread, string(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// Count returns the number of journaled signals. It backs the status
// document's journal total.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count signals: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

var _ model.SignalSink = (*Journal)(nil)
