package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"market-bars/go/pkg/archive"
	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/fixed"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/market"
	"market-bars/go/pkg/repository"
	"market-bars/go/pkg/session"
	"market-bars/go/pkg/shared"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var testMetrics = newMetrics()

type capture struct {
	mu      sync.Mutex
	topics  []string
	batches [][]shared.Record
}

func (c *capture) ProduceBatch(_ context.Context, topic string, records []shared.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.batches = append(c.batches, records)
	return nil
}

func (c *capture) Close() {}

type harness struct {
	b    *builder
	repo *repository.File
	inst *instrument.Instrument
	out  *capture
	day  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	defs, err := market.Default(nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := instrument.NewRegistry(defs.Exchanges, defs.Templates)
	repo, err := repository.NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	inst := reg.MustResolve("SHFE.rb2105")
	loc := inst.Exchange.Location
	sessions := session.NewCalculator()
	h := &harness{
		repo: repo,
		inst: inst,
		out:  &capture{},
		day:  time.Date(2021, 3, 9, 0, 0, 0, 0, loc),
	}
	h.b = &builder{
		repo:        repo,
		loader:      bar.NewLoader(repo, sessions),
		sessions:    sessions,
		instruments: []*instrument.Instrument{inst},
		producer:    h.out,
		topic:       "bars.1m",
		parquetDir:  t.TempDir(),
		metrics:     testMetrics,
		log:         zap.NewNop(),
		now:         func() time.Time { return time.Date(2021, 3, 9, 16, 0, 0, 0, loc) },
	}
	return h
}

func (h *harness) session(t *testing.T) *session.Session {
	t.Helper()
	s, err := h.b.sessions.Session(h.inst, h.day)
	if err != nil || s == nil {
		t.Fatalf("session: %v %v", s, err)
	}
	return s
}

// recordTicks stores one tick every 30 seconds across the session.
func (h *harness) recordTicks(t *testing.T) {
	t.Helper()
	sess := h.session(t)
	var (
		ticks    []bar.Tick
		vol      int64
		turnover = fixed.Zero
	)
	i := int64(0)
	for ts := sess.Open(); !ts.After(sess.Close()); ts = ts.Add(30 * time.Second) {
		if sess.Stage(ts) != session.MarketOpen {
			continue
		}
		price := fixed.FromInt(3800 + i%9)
		vol += 2
		turnover = turnover.Add(price.MulInt(20))
		ticks = append(ticks, bar.Tick{Time: ts, Last: price, Volume: vol, Turnover: turnover, OpenInt: 500 + i})
		i++
	}
	var buf bytes.Buffer
	if err := bar.EncodeTicks(&buf, h.inst.Exchange.Location, ticks); err != nil {
		t.Fatal(err)
	}
	if err := h.repo.Save(context.Background(), h.inst, repository.Ticks, h.day, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
}

func TestRunBuildsLastCompletedDay(t *testing.T) {
	h := newHarness(t)
	h.recordTicks(t)
	sess := h.session(t)
	ctx := context.Background()

	if err := h.b.run(ctx); err != nil {
		t.Fatal(err)
	}

	raw, err := h.repo.Load(ctx, h.inst, repository.Min1, h.day)
	if err != nil {
		t.Fatal(err)
	}
	min1, err := bar.DecodeBars(bytes.NewReader(raw), h.inst.Exchange.Location)
	if err != nil {
		t.Fatal(err)
	}
	if len(min1) != sess.Bars(1) {
		t.Fatalf("min1 bars = %d, want %d", len(min1), sess.Bars(1))
	}

	raw, err = h.repo.Load(ctx, h.inst, repository.Days, h.day)
	if err != nil {
		t.Fatal(err)
	}
	days, err := bar.DecodeDays(bytes.NewReader(raw), h.inst.Exchange.Location)
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 || !days[0].Begin.Equal(h.day) || days[0].Volume != min1[len(min1)-1].EndVolume-min1[0].BeginVolume {
		t.Errorf("day record = %+v", days)
	}

	if len(h.out.batches) != 1 || h.out.topics[0] != "bars.1m" || len(h.out.batches[0]) != len(min1) {
		t.Fatalf("published %d batches", len(h.out.batches))
	}
	rec := h.out.batches[0][0]
	var msg shared.BarMessage
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		t.Fatal(err)
	}
	if string(rec.Key) != "SHFE.rb2105" || msg.Level != bar.MIN1 || msg.Index != 0 || !rec.Time.Equal(min1[0].End) {
		t.Errorf("first record = %s %+v", rec.Key, msg)
	}

	series := &bar.Series{Instrument: h.inst.String(), Level: bar.MIN1}
	rows, err := archive.ReadParquet(archive.Path(h.b.parquetDir, series, h.day, h.day))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(min1) {
		t.Errorf("parquet rows = %d", len(rows))
	}
}

func TestBuiltRecordsFeedTheLoader(t *testing.T) {
	h := newHarness(t)
	h.recordTicks(t)
	if err := h.b.run(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s, err := h.b.loader.Load(ctx, bar.Request{Instrument: h.inst, Level: bar.MIN5, Start: h.day, End: h.day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Bars) != h.session(t).Bars(5) || len(s.Days) != 1 {
		t.Errorf("MIN5 bars = %d over %d days", len(s.Bars), len(s.Days))
	}
	d, err := h.b.loader.Load(ctx, bar.Request{Instrument: h.inst, Level: bar.DAY, Start: h.day, End: h.day.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Bars) != 1 {
		t.Errorf("DAY bars = %d", len(d.Bars))
	}
}

func TestRunSkipsDayWithoutTicks(t *testing.T) {
	h := newHarness(t)
	if err := h.b.run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.out.batches) != 0 {
		t.Error("published bars for an empty day")
	}
	ok, err := h.repo.Exists(context.Background(), h.inst, repository.Min1, h.day)
	if err != nil || ok {
		t.Errorf("min1 record written: %v %v", ok, err)
	}
}

func TestRunReportsCorruptTicks(t *testing.T) {
	h := newHarness(t)
	if err := h.repo.Save(context.Background(), h.inst, repository.Ticks, h.day, []byte("garbage\n")); err != nil {
		t.Fatal(err)
	}
	if err := h.b.run(context.Background()); err == nil {
		t.Fatal("corrupt tick record built")
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.b.run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestSchedule(t *testing.T) {
	c := cron.New(cron.WithSeconds())
	n, err := schedule(c, "0 30 15 * * 1-5; 0 0 3 * * 2-6", func() {})
	if err != nil || n != 2 || len(c.Entries()) != 2 {
		t.Fatalf("registered %d: %v", n, err)
	}
	if _, err := schedule(cron.New(cron.WithSeconds()), "30 15 * * 1-5", func() {}); err == nil {
		t.Error("five-field spec accepted")
	}
	if _, err := schedule(cron.New(cron.WithSeconds()), " ; ", func() {}); err == nil {
		t.Error("empty schedule accepted")
	}
}

func TestDefaultScheduleRunsAfterTheDayClose(t *testing.T) {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		t.Fatal(err)
	}
	c := cron.New(cron.WithSeconds())
	n, err := schedule(c, cfg.Schedules, func() {})
	if err != nil || n != 1 {
		t.Fatalf("registered %d: %v", n, err)
	}
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2021, 3, 9, 0, 0, 0, 0, loc)
	if next := c.Entries()[0].Schedule.Next(from); !next.Equal(time.Date(2021, 3, 9, 15, 30, 0, 0, loc)) {
		t.Errorf("next run = %v", next)
	}
}
