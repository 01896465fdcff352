package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/fixed"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/shared"

	kitemodels "github.com/zerodha/gokiteconnect/v4/models"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"
	"go.uber.org/zap"
)

// TickSource emits ticks until ctx is done.
type TickSource interface {
	Start(ctx context.Context, out chan<- shared.TickMessage) error
}

// KiteSource streams full-mode snapshots from the Kite websocket.
type KiteSource struct {
	apiKey      string
	accessToken string
	tokens      []uint32
	byToken     map[uint32]*instrument.Instrument
	log         *zap.Logger
	metrics     bridgeMetrics
}

func (k *KiteSource) Start(ctx context.Context, out chan<- shared.TickMessage) error {
	if len(k.tokens) == 0 {
		return errors.New("no tokens to subscribe")
	}
	t := kiteticker.New(k.apiKey, k.accessToken)

	t.OnError(func(err error) {
		k.log.Error("ws error", zap.Error(err))
		k.metrics.wsEvents.WithLabelValues("error").Inc()
	})
	t.OnClose(func(code int, reason string) {
		k.log.Warn("ws closed", zap.Int("code", code), zap.String("reason", reason))
		k.metrics.wsEvents.WithLabelValues("close").Inc()
	})
	t.OnReconnect(func(attempt int, delay time.Duration) {
		k.log.Info("ws reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		k.metrics.wsEvents.WithLabelValues("reconnect").Inc()
	})
	t.OnConnect(func() {
		k.log.Info("ws connected", zap.Int("tokens", len(k.tokens)))
		k.metrics.wsEvents.WithLabelValues("connect").Inc()
		for _, chunk := range chunkTokens(k.tokens, 200) {
			if err := t.Subscribe(chunk); err != nil {
				k.log.Error("subscribe failed", zap.Error(err))
			}
			if err := t.SetMode(kiteticker.ModeFull, chunk); err != nil {
				k.log.Error("set mode failed", zap.Error(err))
			}
		}
	})
	t.OnNoReconnect(func(attempt int) {
		k.log.Error("ws gave up reconnecting", zap.Int("attempt", attempt))
		k.metrics.wsEvents.WithLabelValues("noreconnect").Inc()
	})
	t.OnTick(func(tk kitemodels.Tick) {
		inst := k.byToken[tk.InstrumentToken]
		if inst == nil {
			return
		}
		select {
		case out <- fromKite(inst, tk, time.Now()):
		default:
			k.metrics.dropped.Inc()
		}
	})

	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	go t.ServeWithContext(ctx)
	return nil
}

// fromKite maps a full-mode snapshot onto a tick. Turnover is rebuilt from
// the session average price since the feed does not carry it.
func fromKite(inst *instrument.Instrument, tk kitemodels.Tick, now time.Time) shared.TickMessage {
	ts := tk.Timestamp.Time
	if ts.IsZero() {
		ts = now
	}
	vol := int64(tk.VolumeTraded)
	avg := fixed.FromFloat(tk.AverageTradePrice)
	return shared.TickMessage{
		Instrument: inst.String(),
		Tick: bar.Tick{
			Time:     ts.In(inst.Exchange.Location),
			Last:     fixed.FromFloat(tk.LastPrice),
			High:     fixed.FromFloat(tk.OHLC.High),
			Low:      fixed.FromFloat(tk.OHLC.Low),
			Volume:   vol,
			Turnover: avg.MulInt(vol * multiplier(inst)),
			OpenInt:  int64(tk.OI),
			Bid:      fixed.FromFloat(tk.Depth.Buy[0].Price),
			Ask:      fixed.FromFloat(tk.Depth.Sell[0].Price),
			AvgPrice: avg,
		},
	}
}

func multiplier(inst *instrument.Instrument) int64 {
	if inst.Multiplier > 0 {
		return inst.Multiplier
	}
	return 1
}

// SimSource emits a random walk per instrument with cumulative volume,
// turnover and open interest, one tick per instrument per step.
type SimSource struct {
	instruments []*instrument.Instrument
	step        time.Duration
	basePrice   float64
	volMin      int64
	volMax      int64
	seed        int64
	clock       func() time.Time
}

type simState struct {
	price    float64
	high     fixed.Value
	low      fixed.Value
	volume   int64
	turnover fixed.Value
	openInt  int64
}

func (s *SimSource) Start(ctx context.Context, out chan<- shared.TickMessage) error {
	if len(s.instruments) == 0 {
		return errors.New("no instruments to simulate")
	}
	if s.step <= 0 {
		s.step = 100 * time.Millisecond
	}
	if s.basePrice <= 0 {
		s.basePrice = 3800
	}
	if s.volMin <= 0 {
		s.volMin = 1
	}
	if s.volMax < s.volMin {
		s.volMax = s.volMin
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	rng := rand.New(rand.NewSource(s.seed))
	states := make([]simState, len(s.instruments))
	for i := range states {
		states[i] = simState{price: s.basePrice + rng.Float64()*10 - 5, openInt: 10_000}
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(s.step)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := s.clock()
				for i, inst := range s.instruments {
					tk := s.next(&states[i], inst, now, rng)
					select {
					case <-ctx.Done():
						return
					case out <- tk:
					}
				}
			}
		}
	}()
	return nil
}

func (s *SimSource) next(st *simState, inst *instrument.Instrument, now time.Time, rng *rand.Rand) shared.TickMessage {
	tick := 1.0
	if inst.PriceTick.Valid() {
		tick = inst.PriceTick.Float()
	}
	st.price = math.Max(tick, st.price+float64(rng.Intn(5)-2)*tick)
	last := fixed.FromFloat(math.Round(st.price/tick) * tick)

	vol := s.volMin
	if s.volMax > s.volMin {
		vol += rng.Int63n(s.volMax - s.volMin + 1)
	}
	mult := multiplier(inst)
	st.volume += vol
	st.turnover = st.turnover.Add(last.MulInt(vol * mult))
	st.openInt += int64(rng.Intn(3) - 1)
	if st.high == fixed.Zero || last > st.high {
		st.high = last
	}
	if st.low == fixed.Zero || last < st.low {
		st.low = last
	}
	spread := fixed.FromFloat(tick)
	return shared.TickMessage{
		Instrument: inst.String(),
		Tick: bar.Tick{
			Time:     now.In(inst.Exchange.Location),
			Last:     last,
			High:     st.high,
			Low:      st.low,
			Volume:   st.volume,
			Turnover: st.turnover,
			OpenInt:  st.openInt,
			Bid:      last.Sub(spread),
			Ask:      last.Add(spread),
			AvgPrice: st.turnover.Div(fixed.FromInt(st.volume * mult)),
		},
	}
}

func buildSource(cfg Config, reg *instrument.Registry, log *zap.Logger, m bridgeMetrics) (TickSource, error) {
	if cfg.SimTicks {
		insts, err := shared.ResolveList(reg, cfg.Instruments)
		if err != nil {
			return nil, err
		}
		return &SimSource{
			instruments: insts,
			step:        time.Duration(cfg.SimStepMs) * time.Millisecond,
			basePrice:   cfg.SimBasePrice,
			volMin:      cfg.SimVolMin,
			volMax:      cfg.SimVolMax,
			seed:        time.Now().UnixNano(),
		}, nil
	}

	if cfg.APIKey == "" {
		return nil, errors.New("KITE_API_KEY required for live websocket")
	}
	access := cfg.AccessToken
	if access == "" {
		var err error
		access, err = loadAccessToken(cfg.TokenJSON)
		if err != nil {
			return nil, err
		}
	}
	tokens, byToken, err := loadTokens(cfg.TokensCSV, reg)
	if err != nil {
		return nil, err
	}
	return &KiteSource{
		apiKey:      cfg.APIKey,
		accessToken: access,
		tokens:      tokens,
		byToken:     byToken,
		log:         log,
		metrics:     m,
	}, nil
}

// loadTokens reads an instrument_token,instrument CSV and resolves every
// instrument against reg.
func loadTokens(path string, reg *instrument.Registry) ([]uint32, map[uint32]*instrument.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, errors.New("tokens csv empty")
	}
	colTok, colInst := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "instrument_token":
			colTok = i
		case "instrument":
			colInst = i
		}
	}
	if colTok == -1 || colInst == -1 {
		return nil, nil, errors.New("instrument_token/instrument columns required")
	}
	var tokens []uint32
	byToken := make(map[uint32]*instrument.Instrument)
	for n, row := range rows[1:] {
		if colTok >= len(row) || colInst >= len(row) {
			continue
		}
		tok, err := strconv.ParseUint(strings.TrimSpace(row[colTok]), 10, 32)
		if err != nil {
			continue
		}
		inst, err := reg.Resolve(strings.TrimSpace(row[colInst]))
		if err != nil {
			return nil, nil, fmt.Errorf("tokens csv line %d: %w", n+2, err)
		}
		tokens = append(tokens, uint32(tok))
		byToken[uint32(tok)] = inst
	}
	return tokens, byToken, nil
}

func loadAccessToken(path string) (string, error) {
	if path == "" {
		return "", errors.New("token path empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var doc struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", err
	}
	if doc.AccessToken == "" {
		return "", errors.New("access_token missing in token file")
	}
	return doc.AccessToken, nil
}

func chunkTokens(tokens []uint32, size int) [][]uint32 {
	if size <= 0 {
		size = 200
	}
	var out [][]uint32
	for i := 0; i < len(tokens); i += size {
		out = append(out, tokens[i:min(i+size, len(tokens))])
	}
	return out
}
