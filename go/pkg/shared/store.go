package shared

import (
	"context"
	"fmt"
	"strings"

	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/market"
	"market-bars/go/pkg/repository"

	"go.uber.org/zap"
)

// OpenRepository opens the backend selected by cfg, wrapped with retries.
// The returned func releases the backend.
func OpenRepository(ctx context.Context, cfg StoreConfig, pg PostgresConfig, log *zap.Logger) (repository.Repository, func(), error) {
	var (
		repo    repository.Repository
		closeFn = func() {}
	)
	switch cfg.Backend {
	case "sqlite":
		s, err := repository.NewSQLite(cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		repo, closeFn = s, func() { _ = s.Close() }
	case "postgres":
		db, err := NewPgxPool(ctx, pg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres pool: %w", err)
		}
		p, err := repository.NewPostgres(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		repo, closeFn = p, db.Close
	default:
		f, err := repository.NewFile(cfg.Root, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		repo = f
	}
	log.Info("repository opened", zap.String("backend", cfg.Backend), zap.Uint64("retries", cfg.Retries))
	return repository.WithRetry(repo, cfg.Retries, log), closeFn, nil
}

// OpenMarket compiles the exchange definitions and builds the instrument
// registry on top of them.
func OpenMarket(cfg MarketConfig, log *zap.Logger) (*market.Definitions, *instrument.Registry, error) {
	defs, err := market.Load(cfg.Definitions, cfg.Holidays, log)
	if err != nil {
		return nil, nil, err
	}
	reg := instrument.NewRegistry(defs.Exchanges, defs.Templates, instrument.WithLogger(log))
	return defs, reg, nil
}

// ResolveList resolves a comma-separated instrument list such as
// "SHFE.rb2105,DCE.m2109".
func ResolveList(reg *instrument.Registry, list string) ([]*instrument.Instrument, error) {
	var out []*instrument.Instrument
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		inst, err := reg.Resolve(raw)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", raw, err)
		}
		out = append(out, inst)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no instruments in %q", list)
	}
	return out, nil
}
