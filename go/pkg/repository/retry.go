package repository

import (
	"context"
	"errors"
	"time"

	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/instrument"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Retrying retries failed calls of the wrapped repository with exponential
// backoff. Missing data and context errors are returned at once.
type Retrying struct {
	next       Repository
	maxRetries uint64
	initial    time.Duration
	log        *zap.Logger
}

// WithRetry wraps next. maxRetries of zero returns next unchanged.
func WithRetry(next Repository, maxRetries uint64, log *zap.Logger) Repository {
	if maxRetries == 0 {
		return next
	}
	return &Retrying{next: next, maxRetries: maxRetries, initial: 100 * time.Millisecond, log: log}
}

func (r *Retrying) do(ctx context.Context, op string, inst *instrument.Instrument, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initial
	b := backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, faults.ErrMissingData) || errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		r.log.Warn("repository call failed, retrying",
			zap.String("op", op), zap.String("instrument", inst.String()),
			zap.Duration("backoff", wait), zap.Error(err))
	})
}

func (r *Retrying) Exists(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", inst, func() error {
		var err error
		ok, err = r.next.Exists(ctx, inst, kind, day)
		return err
	})
	return ok, err
}

func (r *Retrying) Load(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "load", inst, func() error {
		var err error
		data, err = r.next.Load(ctx, inst, kind, day)
		return err
	})
	return data, err
}

func (r *Retrying) Save(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time, data []byte) error {
	return r.do(ctx, "save", inst, func() error {
		return r.next.Save(ctx, inst, kind, day, data)
	})
}

func (r *Retrying) List(ctx context.Context, inst *instrument.Instrument, kind DataKind) ([]time.Time, error) {
	var days []time.Time
	err := r.do(ctx, "list", inst, func() error {
		var err error
		days, err = r.next.List(ctx, inst, kind)
		return err
	})
	return days, err
}
