package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

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
	ticksIn      prometheus.Counter
	ticksWritten prometheus.Counter
	rejected     *prometheus.CounterVec
	flushFailed  prometheus.Counter
	flushDur     prometheus.Histogram
	active       prometheus.Gauge
}

func newMetrics() metrics {
	return metrics{
		ticksIn:      shared.NewCounter(prometheus.CounterOpts{Name: "recorder_ticks_in_total", Help: "Ticks consumed"}),
		ticksWritten: shared.NewCounter(prometheus.CounterOpts{Name: "recorder_ticks_written_total", Help: "Ticks appended to tick records"}),
		rejected:     shared.NewCounterVec(prometheus.CounterOpts{Name: "recorder_ticks_rejected_total", Help: "Ticks not recorded"}, []string{"reason"}),
		flushFailed:  shared.NewCounter(prometheus.CounterOpts{Name: "recorder_flush_failed_total", Help: "Failed record flushes"}),
		flushDur: shared.NewHist(prometheus.HistogramOpts{
			Name:    "recorder_flush_seconds",
			Help:    "Record flush duration",
			Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
		}),
		active: shared.NewGauge(prometheus.GaugeOpts{Name: "recorder_open_buffers", Help: "Open (instrument, day) buffers"}),
	}
}

type bufferKey struct {
	instrument string
	day        int64
}

type buffer struct {
	inst  *instrument.Instrument
	day   time.Time
	ticks []bar.Tick
	since time.Time
}

type worker struct {
	id      int
	repo    repository.Repository
	reg     *instrument.Registry
	metrics metrics
	active  *atomic.Int64
	log     *zap.Logger
	in      chan shared.TickMessage

	batchSize int
	grace     time.Duration
	flushTick time.Duration
	now       func() time.Time
	state     map[bufferKey]*buffer
}

func (w *worker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(w.flushTick)
	defer ticker.Stop()
	done := ctx.Done()

	for {
		select {
		case tk, ok := <-w.in:
			if !ok {
				w.flushDue(true)
				return
			}
			w.handle(tk)
		case <-ticker.C:
			w.flushDue(false)
		case <-done:
			done = nil
		}
	}
}

func (w *worker) handle(m shared.TickMessage) {
	w.metrics.ticksIn.Inc()
	inst, err := w.reg.Resolve(m.Instrument)
	if err != nil {
		w.metrics.rejected.WithLabelValues("instrument").Inc()
		w.log.Warn("unresolvable instrument", zap.String("instrument", m.Instrument), zap.Error(err))
		return
	}
	if m.Time.IsZero() {
		w.metrics.rejected.WithLabelValues("timestamp").Inc()
		return
	}
	day := session.TradingDay(inst.Exchange, m.Time)
	key := bufferKey{instrument: inst.String(), day: day.Unix()}
	buf, ok := w.state[key]
	if !ok {
		buf = &buffer{inst: inst, day: day, since: w.now()}
		w.state[key] = buf
		w.active.Add(1)
		w.metrics.active.Set(float64(w.active.Load()))
	}
	buf.ticks = append(buf.ticks, m.Tick)
	if len(buf.ticks) >= w.batchSize {
		w.flush(key, buf)
	}
}

func (w *worker) flushDue(force bool) {
	now := w.now()
	for key, buf := range w.state {
		if force || now.Sub(buf.since) >= w.grace {
			w.flush(key, buf)
		}
	}
	w.metrics.active.Set(float64(w.active.Load()))
}

func (w *worker) flush(key bufferKey, buf *buffer) {
	delete(w.state, key)
	w.active.Add(-1)
	if len(buf.ticks) == 0 {
		return
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := appendTicks(ctx, w.repo, buf.inst, buf.day, buf.ticks)
	w.metrics.flushDur.Observe(time.Since(start).Seconds())
	if err != nil {
		w.metrics.flushFailed.Inc()
		w.log.Error("tick flush failed",
			zap.Int("worker", w.id),
			zap.String("instrument", key.instrument),
			zap.Time("day", buf.day),
			zap.Int("ticks", len(buf.ticks)),
			zap.Error(err))
		return
	}
	w.metrics.ticksWritten.Add(float64(n))
	w.log.Debug("ticks flushed", zap.String("instrument", key.instrument), zap.Time("day", buf.day), zap.Int("ticks", n))
}

// appendTicks merges ticks into the stored record of (inst, day) and returns
// how many were new.
func appendTicks(ctx context.Context, repo repository.Repository, inst *instrument.Instrument, day time.Time, ticks []bar.Tick) (int, error) {
	loc := inst.Exchange.Location
	var existing []bar.Tick
	raw, err := repo.Load(ctx, inst, repository.Ticks, day)
	switch {
	case errors.Is(err, faults.ErrMissingData):
	case err != nil:
		return 0, err
	default:
		existing, err = bar.DecodeTicks(bytes.NewReader(raw), loc)
		if err != nil {
			return 0, fmt.Errorf("stored ticks of %s: %w", inst, err)
		}
	}
	merged, added := mergeTicks(existing, ticks)
	if added == 0 {
		return 0, nil
	}
	var out bytes.Buffer
	if err := bar.EncodeTicks(&out, loc, merged); err != nil {
		return 0, err
	}
	return added, repo.Save(ctx, inst, repository.Ticks, day, out.Bytes())
}

type tickKey struct {
	at     int64
	volume int64
	last   int64
}

// mergeTicks appends incoming to existing, dropping redelivered ticks, and
// keeps the result ordered by time.
func mergeTicks(existing, incoming []bar.Tick) ([]bar.Tick, int) {
	if len(incoming) == 0 {
		return existing, 0
	}
	earliest := incoming[0].Time
	for _, t := range incoming[1:] {
		if t.Time.Before(earliest) {
			earliest = t.Time
		}
	}
	seen := make(map[tickKey]struct{})
	for i := len(existing) - 1; i >= 0 && !existing[i].Time.Before(earliest); i-- {
		seen[keyOf(existing[i])] = struct{}{}
	}
	out := existing
	added := 0
	for _, t := range incoming {
		k := keyOf(t)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
		added++
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, added
}

func keyOf(t bar.Tick) tickKey {
	return tickKey{at: t.Time.UnixNano(), volume: t.Volume, last: t.Last.Scaled()}
}

func instrumentShard(key string, workers int) int {
	if workers <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}
