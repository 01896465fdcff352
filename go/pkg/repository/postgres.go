package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/instrument"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the slice of the shared pgx pool the repository needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

const createSQL = `
CREATE TABLE IF NOT EXISTS market_records(
    instrument TEXT        NOT NULL,
    kind       TEXT        NOT NULL,
    day        DATE        NOT NULL,
    payload    BYTEA       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (instrument, kind, day)
);
`

const upsertSQL = `
INSERT INTO market_records(instrument, kind, day, payload, updated_at)
VALUES($1, $2, to_date($3, 'YYYYMMDD'), $4, now())
ON CONFLICT(instrument, kind, day) DO UPDATE
SET payload = EXCLUDED.payload,
    updated_at = EXCLUDED.updated_at;
`

// Postgres stores record payloads in Postgres through the shared pool.
type Postgres struct {
	db Pool
}

// NewPostgres ensures the table exists.
func NewPostgres(ctx context.Context, db Pool) (*Postgres, error) {
	if err := db.Exec(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("create market_records: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Exists(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM market_records WHERE instrument=$1 AND kind=$2 AND day=to_date($3, 'YYYYMMDD'))`,
		inst.String(), string(kind), dayKey(day)).Scan(&ok)
	return ok, err
}

func (p *Postgres) Load(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) ([]byte, error) {
	var payload []byte
	err := p.db.QueryRow(ctx,
		`SELECT payload FROM market_records WHERE instrument=$1 AND kind=$2 AND day=to_date($3, 'YYYYMMDD')`,
		inst.String(), string(kind), dayKey(day)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s %s %s: %w", inst, kind, dayKey(day), faults.ErrMissingData)
	}
	return payload, err
}

func (p *Postgres) Save(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time, data []byte) error {
	return p.db.Exec(ctx, upsertSQL, inst.String(), string(kind), dayKey(day), data)
}

func (p *Postgres) List(ctx context.Context, inst *instrument.Instrument, kind DataKind) ([]time.Time, error) {
	rows, err := p.db.Query(ctx,
		`SELECT to_char(day, 'YYYYMMDD') FROM market_records WHERE instrument=$1 AND kind=$2 ORDER BY day`,
		inst.String(), string(kind))
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	days := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		d, err := parseDayKey(k, inst.Exchange.Location)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

// SaveBatch writes several days in one round trip.
func (p *Postgres) SaveBatch(ctx context.Context, inst *instrument.Instrument, kind DataKind, payloads map[time.Time][]byte) error {
	conn, err := p.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	batch := &pgx.Batch{}
	for day, data := range payloads {
		batch.Queue(upsertSQL, inst.String(), string(kind), dayKey(day), data)
	}
	br := conn.SendBatch(ctx, batch)
	defer br.Close()
	for range payloads {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
