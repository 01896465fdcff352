package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market-bars/go/pkg/fixed"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/market"
	"market-bars/go/pkg/shared"

	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	"go.uber.org/zap"
)

var testMetrics = newMetrics()

func registry(t *testing.T) *instrument.Registry {
	t.Helper()
	defs, err := market.Default(nil)
	if err != nil {
		t.Fatal(err)
	}
	return instrument.NewRegistry(defs.Exchanges, defs.Templates)
}

func TestFromKite(t *testing.T) {
	rb := registry(t).MustResolve("SHFE.rb2105")
	ts := time.Date(2021, 3, 9, 1, 30, 0, 0, time.UTC)
	var tk kitemodels.Tick
	tk.InstrumentToken = 42
	tk.Timestamp.Time = ts
	tk.LastPrice = 3801
	tk.OHLC.High = 3820
	tk.OHLC.Low = 3790
	tk.VolumeTraded = 120
	tk.AverageTradePrice = 3805.5
	tk.OI = 9000
	tk.Depth.Buy[0].Price = 3800
	tk.Depth.Sell[0].Price = 3802

	m := fromKite(rb, tk, time.Now())
	if m.Instrument != "SHFE.rb2105" {
		t.Errorf("instrument = %s", m.Instrument)
	}
	if !m.Time.Equal(ts) || m.Time.Location() != rb.Exchange.Location {
		t.Errorf("time = %v", m.Time)
	}
	if m.Last != fixed.FromInt(3801) || m.High != fixed.FromInt(3820) || m.Low != fixed.FromInt(3790) {
		t.Errorf("prices = %v %v %v", m.Last, m.High, m.Low)
	}
	// 3805.5 * 120 * 10
	if m.Turnover != fixed.FromInt(4566600) {
		t.Errorf("turnover = %v", m.Turnover)
	}
	if m.Bid != fixed.FromInt(3800) || m.Ask != fixed.FromInt(3802) || m.OpenInt != 9000 || m.Volume != 120 {
		t.Errorf("tick = %+v", m.Tick)
	}

	tk.Timestamp.Time = time.Time{}
	now := time.Date(2021, 3, 9, 2, 0, 0, 0, time.UTC)
	if got := fromKite(rb, tk, now); !got.Time.Equal(now) {
		t.Errorf("missing timestamp not replaced: %v", got.Time)
	}
}

func TestSimSourceCumulativeFields(t *testing.T) {
	reg := registry(t)
	insts := []*instrument.Instrument{reg.MustResolve("SHFE.rb2105"), reg.MustResolve("DCE.m2109")}
	src := &SimSource{instruments: insts, step: time.Millisecond, volMin: 1, volMax: 3, seed: 7}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan shared.TickMessage, 16)
	if err := src.Start(ctx, out); err != nil {
		t.Fatal(err)
	}

	last := map[string]shared.TickMessage{}
	for i := 0; i < 40; i++ {
		tk := <-out
		if prev, ok := last[tk.Instrument]; ok {
			if tk.Volume <= prev.Volume || tk.Turnover.Cmp(prev.Turnover) <= 0 {
				t.Fatalf("%s: cumulative fields did not grow: %+v -> %+v", tk.Instrument, prev.Tick, tk.Tick)
			}
			if tk.High.Cmp(prev.High) < 0 || tk.Low.Cmp(prev.Low) > 0 {
				t.Fatalf("%s: running high/low moved backwards", tk.Instrument)
			}
		}
		if tk.Bid.Cmp(tk.Last) >= 0 || tk.Ask.Cmp(tk.Last) <= 0 {
			t.Fatalf("book does not straddle last: %+v", tk.Tick)
		}
		last[tk.Instrument] = tk
	}
	if len(last) != 2 {
		t.Errorf("instruments seen = %d", len(last))
	}
	cancel()
	for range out {
	}
}

func TestSimSourceNeedsInstruments(t *testing.T) {
	if err := (&SimSource{}).Start(context.Background(), make(chan shared.TickMessage)); err == nil {
		t.Error("empty instrument list accepted")
	}
}

func TestLoadTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.csv")
	csv := "instrument_token,instrument\n101,SHFE.rb2105\nbad,SHFE.cu2105\n102,DCE.m2109\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	tokens, byToken, err := loadTokens(path, registry(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 || byToken[101].String() != "SHFE.rb2105" || byToken[102].String() != "DCE.m2109" {
		t.Errorf("tokens = %v %v", tokens, byToken)
	}

	if err := os.WriteFile(path, []byte("token,symbol\n1,x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadTokens(path, registry(t)); err == nil {
		t.Error("missing columns accepted")
	}
}

func TestLoadAccessToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	if err := os.WriteFile(path, []byte(`{"access_token":"abc"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, err := loadAccessToken(path); err != nil || tok != "abc" {
		t.Errorf("token = %q, %v", tok, err)
	}
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadAccessToken(path); err == nil {
		t.Error("empty token accepted")
	}
}

func TestChunkTokens(t *testing.T) {
	got := chunkTokens([]uint32{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != 5 {
		t.Errorf("chunks = %v", got)
	}
}

func TestShardForIsStable(t *testing.T) {
	for _, key := range []string{"SHFE.rb2105", "DCE.m2109", "CZCE.SR105"} {
		a := shardFor(key, 8)
		if a < 0 || a >= 8 || shardFor(key, 8) != a {
			t.Errorf("shard of %s = %d", key, a)
		}
	}
	if shardFor("x", 1) != 0 {
		t.Error("single shard")
	}
}

type capture struct {
	mu      sync.Mutex
	batches [][]shared.Record
	closed  bool
}

func (c *capture) ProduceBatch(_ context.Context, _ string, records []shared.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, records)
	return nil
}

func (c *capture) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func TestProducerWorkersBatchAndDrain(t *testing.T) {
	var (
		mu       sync.Mutex
		captured []*capture
		inFlight atomic.Int64
	)
	newProducer := func() (shared.Producer, error) {
		c := &capture{}
		mu.Lock()
		captured = append(captured, c)
		mu.Unlock()
		return c, nil
	}
	opts := producerOptions{workers: 2, queue: 100, maxBatch: 4, flushEvery: time.Hour, topic: "ticks"}
	chans, stop, err := startProducerWorkers(context.Background(), opts, newProducer, zap.NewNop(), testMetrics, &inFlight)
	if err != nil {
		t.Fatal(err)
	}
	rb := registry(t).MustResolve("SHFE.rb2105")
	shard := shardFor(rb.String(), len(chans))
	for i := 0; i < 10; i++ {
		m := fromKite(rb, kitemodels.Tick{LastPrice: 3800 + float64(i), VolumeTraded: uint32(i)}, time.Now())
		inFlight.Add(1)
		chans[shard] <- m
	}
	stop()

	c := captured[shard]
	if !c.closed {
		t.Error("producer not closed")
	}
	var n int
	for _, b := range c.batches {
		if len(b) > 4 {
			t.Errorf("batch of %d exceeds max", len(b))
		}
		n += len(b)
	}
	if n != 10 || len(c.batches) != 3 {
		t.Fatalf("records = %d in %d batches", n, len(c.batches))
	}
	var first shared.TickMessage
	if err := json.Unmarshal(c.batches[0][0].Value, &first); err != nil {
		t.Fatal(err)
	}
	if string(c.batches[0][0].Key) != "SHFE.rb2105" || first.Last != fixed.FromInt(3800) {
		t.Errorf("first record = %s %+v", c.batches[0][0].Key, first)
	}
	if inFlight.Load() != 0 {
		t.Errorf("in flight = %d", inFlight.Load())
	}
}
