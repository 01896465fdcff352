package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"market-bars/go/pkg/archive"
	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/repository"
	"market-bars/go/pkg/session"
	"market-bars/go/pkg/shared"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type metrics struct {
	runs    prometheus.Counter
	built   *prometheus.CounterVec
	skipped prometheus.Counter
	failed  prometheus.Counter
	runDur  prometheus.Histogram
	lastDay *prometheus.GaugeVec
}

func newMetrics() metrics {
	return metrics{
		runs:    shared.NewCounter(prometheus.CounterOpts{Name: "builder_runs_total", Help: "Scheduled build runs"}),
		built:   shared.NewCounterVec(prometheus.CounterOpts{Name: "builder_bars_total", Help: "Bars written"}, []string{"level"}),
		skipped: shared.NewCounter(prometheus.CounterOpts{Name: "builder_days_skipped_total", Help: "Instrument days without ticks"}),
		failed:  shared.NewCounter(prometheus.CounterOpts{Name: "builder_days_failed_total", Help: "Instrument days that failed to build"}),
		runDur: shared.NewHist(prometheus.HistogramOpts{
			Name:    "builder_run_seconds",
			Help:    "Build run duration",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		lastDay: shared.NewGaugeVec(prometheus.GaugeOpts{Name: "builder_last_day_unix", Help: "Last trading day built"}, []string{"instrument"}),
	}
}

type builder struct {
	repo        repository.Repository
	loader      *bar.Loader
	sessions    *session.Calculator
	instruments []*instrument.Instrument

	producer   shared.Producer
	topic      string
	parquetDir string

	metrics metrics
	log     *zap.Logger
	now     func() time.Time
}

// run rebuilds the last completed trading day of every instrument. A failing
// instrument does not stop the others.
func (b *builder) run(ctx context.Context) error {
	start := time.Now()
	b.metrics.runs.Inc()
	defer func() { b.metrics.runDur.Observe(time.Since(start).Seconds()) }()

	var errs []error
	for _, inst := range b.instruments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		day := inst.Exchange.LastMarketDay(b.now(), true)
		n, err := b.buildDay(ctx, inst, day)
		switch {
		case errors.Is(err, faults.ErrMissingData):
			b.metrics.skipped.Inc()
			b.log.Warn("no ticks recorded", zap.String("instrument", inst.String()), zap.Time("day", day))
		case err != nil:
			b.metrics.failed.Inc()
			b.log.Error("build failed", zap.String("instrument", inst.String()), zap.Time("day", day), zap.Error(err))
			errs = append(errs, err)
		default:
			b.metrics.lastDay.WithLabelValues(inst.String()).Set(float64(day.Unix()))
			b.log.Info("day built", zap.String("instrument", inst.String()), zap.Time("day", day), zap.Int("min1", n))
		}
	}
	return errors.Join(errs...)
}

// buildDay writes MIN1 and DAY records of inst for day from its recorded
// ticks, then publishes and archives the minute bars. It returns the number
// of minute bars.
func (b *builder) buildDay(ctx context.Context, inst *instrument.Instrument, day time.Time) (int, error) {
	sess, err := b.sessions.Session(inst, day)
	if err != nil {
		return 0, err
	}
	if sess == nil {
		return 0, faults.ErrMissingData
	}
	ticks, err := b.loader.Ticks(ctx, inst, day)
	if err != nil {
		return 0, err
	}
	loc := inst.Exchange.Location

	min1 := bar.TicksToMin1(sess, ticks, inst.Multiplier)
	if len(min1) == 0 {
		return 0, faults.ErrMissingData
	}
	if err := bar.Validate(inst.String(), day, bar.MIN1, min1); err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	if err := bar.EncodeBars(&buf, loc, min1); err != nil {
		return 0, err
	}
	if err := b.repo.Save(ctx, inst, repository.Min1, day, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("save min1 %s: %w", inst, err)
	}
	b.metrics.built.WithLabelValues(bar.MIN1.String()).Add(float64(len(min1)))

	if daily, ok := bar.DayFromTicks(sess, ticks, inst.Multiplier); ok {
		buf.Reset()
		if err := bar.EncodeDays(&buf, loc, []bar.Bar{daily}); err != nil {
			return 0, err
		}
		if err := b.repo.Save(ctx, inst, repository.Days, day, buf.Bytes()); err != nil {
			return 0, fmt.Errorf("save day %s: %w", inst, err)
		}
		b.metrics.built.WithLabelValues(bar.DAY.String()).Inc()
	}

	series := &bar.Series{Instrument: inst.String(), Level: bar.MIN1, Bars: min1, Days: []time.Time{day}}
	if err := b.publish(ctx, series); err != nil {
		return 0, err
	}
	if b.parquetDir != "" {
		if err := archive.WriteParquet(archive.Path(b.parquetDir, series, day, day), series); err != nil {
			return 0, err
		}
	}
	return len(min1), nil
}

func (b *builder) publish(ctx context.Context, s *bar.Series) error {
	if b.producer == nil || b.topic == "" {
		return nil
	}
	msgs := make([]shared.BarMessage, 0, len(s.Bars))
	for _, br := range s.Bars {
		msgs = append(msgs, shared.BarMessage{Instrument: s.Instrument, Level: s.Level, Bar: br})
	}
	records, err := shared.Records(msgs)
	if err != nil {
		return err
	}
	for i := range records {
		records[i].Time = s.Bars[i].End
	}
	if err := b.producer.ProduceBatch(ctx, b.topic, records); err != nil {
		return fmt.Errorf("publish %s bars of %s: %w", s.Level, s.Instrument, err)
	}
	return nil
}
