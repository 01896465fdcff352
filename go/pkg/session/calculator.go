package session

import (
	"sync"
	"time"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/contract"
	"market-bars/go/pkg/instrument"

	"go.uber.org/zap"
)

type cacheKey struct {
	tpl *contract.Template
	day int64
}

// Calculator builds sessions on demand and caches them per template and day.
// It is safe for concurrent use.
type Calculator struct {
	tolerance time.Duration
	log       *zap.Logger
	cache     sync.Map // cacheKey -> *Session
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithTolerance overrides DefaultTrailingTolerance.
func WithTolerance(d time.Duration) Option {
	return func(c *Calculator) { c.tolerance = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Calculator) { c.log = l }
}

func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{tolerance: DefaultTrailingTolerance, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Session returns the session of inst on day, or nil when day is not a
// market day for the instrument's exchange.
func (c *Calculator) Session(inst *instrument.Instrument, day time.Time) (*Session, error) {
	return c.ForTemplate(inst.Template, day)
}

// ForTemplate is Session keyed directly by template.
func (c *Calculator) ForTemplate(tpl *contract.Template, day time.Time) (*Session, error) {
	y, m, d := day.Date()
	key := cacheKey{tpl: tpl, day: int64(y*10000 + int(m)*100 + d)}
	if v, ok := c.cache.Load(key); ok {
		return v.(*Session), nil
	}
	s, err := Build(tpl, day, c.tolerance)
	if err != nil || s == nil {
		return s, err
	}
	v, loaded := c.cache.LoadOrStore(key, s)
	if !loaded {
		c.log.Debug("session built",
			zap.String("exchange", tpl.Exchange.Name),
			zap.String("template", tpl.Commodity),
			zap.Time("day", s.Day),
			zap.Int("segments", len(s.Segments)),
			zap.Int64("seconds", s.TotalSeconds()))
	}
	return v.(*Session), nil
}

// TradingDay returns the trading day a timestamp on ex belongs to. Ticks in
// the pre-open window before a night session count toward the night's
// trading day, and ticks within the trailing tolerance of a close count
// toward the session that just closed.
func TradingDay(ex *calendar.Exchange, t time.Time) time.Time {
	local := t.In(ex.Location).Add(-DefaultTrailingTolerance)
	if ex.IsFuture && ex.HasNight {
		clock := calendar.ClockOf(local)
		lead := calendar.TimeOfDay(preOpenWindow / time.Second)
		if clock < ex.NightOpen && clock >= ex.NightOpen-lead {
			local = ex.NightOpen.On(calendar.Midnight(local, ex.Location))
		}
	}
	return ex.LastMarketDay(local, false)
}
