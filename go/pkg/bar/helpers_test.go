package bar

import (
	"testing"
	"time"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/contract"
	"market-bars/go/pkg/fixed"
	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/session"
)

func frame(b, e string) contract.Frame {
	return contract.Frame{Begin: calendar.MustTimeOfDay(b), End: calendar.MustTimeOfDay(e)}
}

// testInstrument trades 21:00-23:00 (prior day), 09:00-10:15, 10:30-11:30
// and 13:30-15:00.
func testInstrument(t *testing.T) *instrument.Instrument {
	t.Helper()
	ex, err := calendar.NewExchange(calendar.ExchangeSpec{
		Name:       "SHFE",
		Timezone:   "Asia/Shanghai",
		IsFuture:   true,
		Opens:      []calendar.TimeOfDay{calendar.MustTimeOfDay("09:00")},
		Closes:     []calendar.TimeOfDay{calendar.MustTimeOfDay("15:00")},
		Night:      []calendar.TimeOfDay{calendar.MustTimeOfDay("21:00"), calendar.MustTimeOfDay("23:00")},
		ClosedDays: []time.Time{time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatal(err)
	}
	tpl := &contract.Template{
		Exchange:   ex,
		Commodity:  "rb",
		Multiplier: 10,
		PriceTick:  fixed.FromInt(1),
		Stages: []contract.TimeStage{
			{Market: "night", PriorDay: true, Frames: []contract.Frame{frame("21:00", "23:00")}},
			{Market: "day", Frames: []contract.Frame{
				frame("09:00", "10:15"), frame("10:30", "11:30"), frame("13:30", "15:00"),
			}},
		},
	}
	return &instrument.Instrument{
		Exchange:   ex,
		ID:         "rb2105",
		Kind:       instrument.Future,
		Commodity:  "rb",
		PriceTick:  tpl.PriceTick,
		Multiplier: tpl.Multiplier,
		UID:        1,
		Template:   tpl,
	}
}

func day(inst *instrument.Instrument, y int, m time.Month, d int) time.Time {
	return inst.Exchange.Day(y, m, d)
}

func mustSession(t *testing.T, inst *instrument.Instrument, d time.Time) *session.Session {
	t.Helper()
	s, err := session.Build(inst.Template, d, session.DefaultTrailingTolerance)
	if err != nil || s == nil {
		t.Fatalf("session %v: %v %v", d, s, err)
	}
	return s
}

// secondTicks emits one tick per second from an hour before the open to an
// hour after the close. Cumulative volume grows by step(i) only on ticks
// inside MarketOpen, turnover by price*delta*multiplier.
func secondTicks(sess *session.Session, base int64, step func(i int) int64) []Tick {
	var (
		out      []Tick
		vol      int64
		turnover = fixed.Zero
		oi       int64 = 1000
	)
	i := 0
	for ts := sess.Open().Add(-time.Hour); ts.Before(sess.Close().Add(time.Hour)); ts = ts.Add(time.Second) {
		price := fixed.FromInt(base + int64(i%20))
		if sess.Stage(ts) == session.MarketOpen {
			d := step(i)
			vol += d
			turnover = turnover.Add(price.MulInt(d * 10))
			oi += int64(i%3) - 1
		}
		out = append(out, Tick{
			Time:     ts,
			Last:     price,
			Volume:   vol,
			Turnover: turnover,
			OpenInt:  oi,
			Bid:      price.Sub(fixed.FromInt(1)),
			Ask:      price.Add(fixed.FromInt(1)),
			AvgPrice: fixed.FromInt(base + 10),
		})
		i++
	}
	return out
}

func one(int) int64 { return 1 }
