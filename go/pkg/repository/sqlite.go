package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/instrument"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite stores record payloads in a single table keyed by instrument,
// kind and day.
type SQLite struct {
	db  *sqlx.DB
	log *zap.Logger
	mu  sync.Mutex
}

// NewSQLite opens (or creates) the database at path and runs migrations.
func NewSQLite(path string, log *zap.Logger) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	r := &SQLite{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("sqlite repository opened", zap.String("path", path))
	return r, nil
}

func (r *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_records (
			instrument TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			day        TEXT    NOT NULL,
			payload    BLOB    NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (instrument, kind, day)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLite) Exists(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(1) FROM market_records WHERE instrument = ? AND kind = ? AND day = ?`,
		inst.String(), string(kind), dayKey(day))
	return n > 0, err
}

func (r *SQLite) Load(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) ([]byte, error) {
	var payload []byte
	err := r.db.GetContext(ctx, &payload,
		`SELECT payload FROM market_records WHERE instrument = ? AND kind = ? AND day = ?`,
		inst.String(), string(kind), dayKey(day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s %s: %w", inst, kind, dayKey(day), faults.ErrMissingData)
	}
	return payload, err
}

func (r *SQLite) Save(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.ExecContext(ctx, `INSERT INTO market_records (instrument, kind, day, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (instrument, kind, day) DO UPDATE
		SET payload = excluded.payload, updated_at = excluded.updated_at`,
		inst.String(), string(kind), dayKey(day), data, time.Now().Unix())
	if err != nil {
		r.log.Error("save records", zap.String("instrument", inst.String()), zap.String("kind", string(kind)), zap.Error(err))
	}
	return err
}

func (r *SQLite) List(ctx context.Context, inst *instrument.Instrument, kind DataKind) ([]time.Time, error) {
	var keys []string
	err := r.db.SelectContext(ctx, &keys,
		`SELECT day FROM market_records WHERE instrument = ? AND kind = ? ORDER BY day`,
		inst.String(), string(kind))
	if err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		d, err := parseDayKey(k, inst.Exchange.Location)
		if err != nil {
			return nil, fmt.Errorf("bad day key %q: %w", k, err)
		}
		days = append(days, d)
	}
	return days, nil
}

func (r *SQLite) Close() error { return r.db.Close() }
