package main

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/fixed"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/market"
	"market-bars/go/pkg/repository"
	"market-bars/go/pkg/shared"

	"go.uber.org/zap"
)

var testMetrics = newMetrics()

type harness struct {
	w    *worker
	repo *repository.File
	reg  *instrument.Registry
	now  time.Time
}

func newHarness(t *testing.T, batch int) *harness {
	t.Helper()
	defs, err := market.Default(nil)
	if err != nil {
		t.Fatal(err)
	}
	repo, err := repository.NewFile(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{repo: repo, reg: instrument.NewRegistry(defs.Exchanges, defs.Templates)}
	h.now = time.Date(2021, 3, 9, 10, 0, 0, 0, time.UTC)
	h.w = &worker{
		repo:      repo,
		reg:       h.reg,
		metrics:   testMetrics,
		active:    new(atomic.Int64),
		log:       zap.NewNop(),
		batchSize: batch,
		grace:     2 * time.Second,
		flushTick: time.Second,
		now:       func() time.Time { return h.now },
		state:     make(map[bufferKey]*buffer),
	}
	return h
}

func (h *harness) stored(t *testing.T, raw string, day time.Time) []bar.Tick {
	t.Helper()
	inst := h.reg.MustResolve(raw)
	b, err := h.repo.Load(context.Background(), inst, repository.Ticks, day)
	if err != nil {
		t.Fatalf("load %s %v: %v", raw, day, err)
	}
	ticks, err := bar.DecodeTicks(bytes.NewReader(b), inst.Exchange.Location)
	if err != nil {
		t.Fatal(err)
	}
	return ticks
}

func msg(inst string, at time.Time, vol int64) shared.TickMessage {
	return shared.TickMessage{Instrument: inst, Tick: bar.Tick{
		Time: at, Last: fixed.FromInt(3800 + vol%7), Volume: vol, Turnover: fixed.FromInt(vol * 38000), OpenInt: 100,
	}}
}

func TestWorkerBucketsByTradingDay(t *testing.T) {
	h := newHarness(t, 1000)
	loc := h.reg.MustResolve("SHFE.rb2105").Exchange.Location
	mon := time.Date(2021, 3, 8, 0, 0, 0, 0, loc)
	tue := time.Date(2021, 3, 9, 0, 0, 0, 0, loc)

	h.w.handle(msg("SHFE.rb2105", time.Date(2021, 3, 8, 14, 59, 0, 0, loc), 10))
	h.w.handle(msg("SHFE.rb2105", time.Date(2021, 3, 8, 15, 0, 3, 0, loc), 11))
	h.w.handle(msg("SHFE.rb2105", time.Date(2021, 3, 8, 21, 0, 0, 0, loc), 1))
	h.w.handle(msg("SHFE.rb2105", time.Date(2021, 3, 9, 9, 0, 0, 0, loc), 5))
	h.w.handle(msg("SHFE.rb2105", time.Time{}, 6))
	if len(h.w.state) != 2 {
		t.Fatalf("buffers = %d, want 2", len(h.w.state))
	}

	h.w.flushDue(false)
	if len(h.w.state) != 2 {
		t.Fatal("buffers flushed before the grace period")
	}
	h.now = h.now.Add(3 * time.Second)
	h.w.flushDue(false)
	if len(h.w.state) != 0 || h.w.active.Load() != 0 {
		t.Fatalf("buffers left = %d", len(h.w.state))
	}

	if got := h.stored(t, "SHFE.rb2105", mon); len(got) != 2 || got[1].Volume != 11 {
		t.Errorf("monday record = %+v", got)
	}
	if got := h.stored(t, "SHFE.rb2105", tue); len(got) != 2 || got[0].Volume != 1 {
		t.Errorf("tuesday record = %+v", got)
	}
}

func TestWorkerFlushesOnBatchSizeAndDropsRedelivery(t *testing.T) {
	h := newHarness(t, 3)
	loc := h.reg.MustResolve("DCE.m2109").Exchange.Location
	day := time.Date(2021, 3, 9, 0, 0, 0, 0, loc)
	base := time.Date(2021, 3, 9, 9, 30, 0, 0, loc)

	for i := int64(0); i < 3; i++ {
		h.w.handle(msg("DCE.m2109", base.Add(time.Duration(i)*time.Second), i+1))
	}
	if len(h.w.state) != 0 {
		t.Fatal("full buffer not flushed")
	}
	// the last two are redelivered after a consumer restart
	h.w.handle(msg("DCE.m2109", base.Add(time.Second), 2))
	h.w.handle(msg("DCE.m2109", base.Add(2*time.Second), 3))
	h.w.handle(msg("DCE.m2109", base.Add(3*time.Second), 4))

	got := h.stored(t, "DCE.m2109", day)
	if len(got) != 4 {
		t.Fatalf("stored %d ticks, want 4", len(got))
	}
	for i, tk := range got {
		if tk.Volume != int64(i+1) {
			t.Errorf("tick %d volume %d", i, tk.Volume)
		}
	}
}

func TestMergeTicksOrdersLateArrivals(t *testing.T) {
	at := time.Date(2021, 3, 9, 9, 0, 0, 0, time.UTC)
	existing := []bar.Tick{
		{Time: at, Volume: 1},
		{Time: at.Add(2 * time.Second), Volume: 3},
	}
	incoming := []bar.Tick{
		{Time: at.Add(time.Second), Volume: 2},
		{Time: at.Add(2 * time.Second), Volume: 3},
		{Time: at.Add(3 * time.Second), Volume: 4},
	}
	out, added := mergeTicks(existing, incoming)
	if added != 2 || len(out) != 4 {
		t.Fatalf("added %d, total %d", added, len(out))
	}
	for i, tk := range out {
		if tk.Volume != int64(i+1) {
			t.Errorf("position %d holds volume %d", i, tk.Volume)
		}
	}
	if _, n := mergeTicks(out, nil); n != 0 {
		t.Error("empty merge added ticks")
	}
}

func TestInstrumentShard(t *testing.T) {
	if instrumentShard("SHFE.rb2105", 8) != instrumentShard("SHFE.rb2105", 8) {
		t.Error("shard is not stable")
	}
	if instrumentShard("SHFE.rb2105", 1) != 0 {
		t.Error("single worker")
	}
}
