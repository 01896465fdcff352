package bar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/repository"
	"market-bars/go/pkg/session"

	"go.uber.org/zap"
)

// Request selects bars of one instrument at one level over the trading days
// in [Start, End). A non-zero Cutoff drops bars beginning at or after it.
type Request struct {
	Instrument *instrument.Instrument
	Level      Level
	Start      time.Time
	End        time.Time
	Cutoff     time.Time
}

// Loader assembles bar series from a repository, one task per trading day
// on a bounded worker pool.
type Loader struct {
	repo     repository.Repository
	sessions *session.Calculator
	workers  int
	slack    float64
	metrics  *Metrics
	log      *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithWorkers sets the pool size. The default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithVolumeSlack overrides DefaultVolumeSlack.
func WithVolumeSlack(f float64) Option {
	return func(l *Loader) { l.slack = f }
}

func WithMetrics(m *Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) { l.log = log }
}

func NewLoader(repo repository.Repository, sessions *session.Calculator, opts ...Option) *Loader {
	l := &Loader{
		repo:     repo,
		sessions: sessions,
		workers:  runtime.NumCPU(),
		slack:    DefaultVolumeSlack,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type dayResult struct {
	bars []Bar
	ok   bool
}

// Load returns the series for req. Days without data are skipped; any other
// per-day failure fails the whole load.
func (l *Loader) Load(ctx context.Context, req Request) (*Series, error) {
	if req.Instrument == nil {
		return nil, errors.New("load: instrument required")
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("load %s: empty range %s..%s", req.Instrument,
			req.Start.Format(DateLayout), req.End.Format(DateLayout))
	}
	if req.Level.Kind == Day {
		return l.loadDays(ctx, req)
	}

	days := req.Instrument.Exchange.MarketDays(req.Start, req.End)
	results := make([]dayResult, len(days))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	jobs := make(chan int)
	workers := l.workers
	if workers > len(days) {
		workers = len(days)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				bars, ok, err := l.loadDay(ctx, req, days[i], i == len(days)-1)
				if err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				results[i] = dayResult{bars: bars, ok: ok}
			}
		}()
	}
feed:
	for i := range days {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series := &Series{Instrument: req.Instrument.String(), Level: req.Level}
	for i, r := range results {
		if !r.ok {
			continue
		}
		series.Bars = append(series.Bars, r.bars...)
		series.Days = append(series.Days, days[i])
	}
	return series, nil
}

func (l *Loader) loadDay(ctx context.Context, req Request, day time.Time, final bool) ([]Bar, bool, error) {
	start := time.Now()
	l.metrics.busy(1)
	defer l.metrics.busy(-1)

	inst := req.Instrument
	level := req.Level.String()
	sess, err := l.sessions.Session(inst, day)
	if err != nil {
		l.metrics.failed(level)
		return nil, false, err
	}

	var bars []Bar
	if sess != nil {
		switch req.Level.Kind {
		case Volume:
			var ticks []Tick
			ticks, err = l.Ticks(ctx, inst, day)
			if err == nil {
				bars = VolumeBars(sess, ticks, int64(req.Level.N), l.slack, inst.Multiplier)
			}
		default:
			var min1 []Bar
			min1, err = l.Min1(ctx, inst, sess)
			if err == nil {
				bars = MergeMinutes(sess, req.Level, min1, inst.Multiplier)
			}
		}
	}
	if err != nil && !errors.Is(err, faults.ErrMissingData) {
		l.metrics.failed(level)
		return nil, false, fmt.Errorf("load %s %s %s: %w", inst, day.Format(DateLayout), level, err)
	}
	if len(bars) == 0 {
		l.metrics.skipped(level)
		fields := []zap.Field{zap.String("instrument", inst.String()), zap.Time("day", day), zap.String("level", level)}
		if final {
			l.log.Debug("no data for final day", fields...)
		} else {
			l.log.Warn("no data for day, skipped", fields...)
		}
		return nil, false, nil
	}
	if err := Validate(inst.String(), day, req.Level, bars); err != nil {
		l.metrics.failed(level)
		return nil, false, err
	}
	l.metrics.loaded(level, time.Since(start).Seconds())
	return Cut(bars, req.Cutoff), true, nil
}

// Min1 returns the day's persisted 1-minute bars, or derives them from the
// day's ticks when none are stored.
func (l *Loader) Min1(ctx context.Context, inst *instrument.Instrument, sess *session.Session) ([]Bar, error) {
	day := sess.Day
	ok, err := l.repo.Exists(ctx, inst, repository.Min1, day)
	if err != nil {
		return nil, err
	}
	if ok {
		raw, err := l.repo.Load(ctx, inst, repository.Min1, day)
		if err != nil {
			return nil, err
		}
		return DecodeBars(bytes.NewReader(raw), inst.Exchange.Location)
	}
	ticks, err := l.Ticks(ctx, inst, day)
	if err != nil {
		return nil, err
	}
	return TicksToMin1(sess, ticks, inst.Multiplier), nil
}

// Ticks returns the day's stored ticks, or faults.ErrMissingData.
func (l *Loader) Ticks(ctx context.Context, inst *instrument.Instrument, day time.Time) ([]Tick, error) {
	ok, err := l.repo.Exists(ctx, inst, repository.Ticks, day)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.ErrMissingData
	}
	raw, err := l.repo.Load(ctx, inst, repository.Ticks, day)
	if err != nil {
		return nil, err
	}
	return DecodeTicks(bytes.NewReader(raw), inst.Exchange.Location)
}

// loadDays reads persisted day records within the range.
func (l *Loader) loadDays(ctx context.Context, req Request) (*Series, error) {
	inst := req.Instrument
	loc := inst.Exchange.Location
	from := calendar.Midnight(req.Start, loc)
	to := calendar.Midnight(req.End, loc)

	stored, err := l.repo.List(ctx, inst, repository.Days)
	if err != nil {
		return nil, fmt.Errorf("list day records of %s: %w", inst, err)
	}
	series := &Series{Instrument: inst.String(), Level: req.Level}
	for _, day := range stored {
		if day.Before(from) || !day.Before(to) {
			continue
		}
		raw, err := l.repo.Load(ctx, inst, repository.Days, day)
		if errors.Is(err, faults.ErrMissingData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load day record %s %s: %w", inst, day.Format(DateLayout), err)
		}
		bars, err := DecodeDays(bytes.NewReader(raw), loc)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", inst, day.Format(DateLayout), err)
		}
		bars = Cut(bars, req.Cutoff)
		if len(bars) == 0 {
			continue
		}
		series.Bars = append(series.Bars, bars...)
		series.Days = append(series.Days, day)
	}
	return series, nil
}
