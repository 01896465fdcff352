package bar

import (
	"fmt"
	"time"

	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/session"
)

// DefaultVolumeSlack bounds a volume bar at DefaultVolumeSlack times its
// threshold before a tick is deferred to the next bar.
const DefaultVolumeSlack = 1.5

// TicksToMin1 groups in-session ticks by their 1-minute bar index. Each
// bar is stamped with its session window.
func TicksToMin1(sess *session.Session, ticks []Tick, multiplier int64) []Bar {
	var (
		out  []Bar
		b    *Builder
		prev *Tick
	)
	flush := func() {
		if b == nil {
			return
		}
		if begin, end, ok := sess.BarWindow(1, b.Index()); ok {
			b.Window(begin, end)
		}
		out = append(out, b.Finalize())
	}
	for i := range ticks {
		t := &ticks[i]
		idx := sess.BarIndex(1, t.Time)
		if idx < 0 {
			continue
		}
		if b == nil || idx != b.Index() {
			flush()
			b = NewBuilder(idx, multiplier)
		}
		b.AddTick(prev, *t)
		prev = t
	}
	flush()
	return out
}

// MergeMinutes folds consecutive finer bars sharing the same index at level
// into one bar each. Bars outside the session are dropped.
func MergeMinutes(sess *session.Session, level Level, bars []Bar, multiplier int64) []Bar {
	if len(bars) == 0 {
		return nil
	}
	var (
		out []Bar
		b   *Builder
	)
	flush := func() {
		if b == nil {
			return
		}
		if begin, end, ok := sess.BarWindow(level.N, b.Index()); ok {
			b.Window(begin, end)
		}
		out = append(out, b.Finalize())
	}
	for _, in := range bars {
		idx := sess.BarIndex(level.N, in.Begin)
		if idx < 0 {
			continue
		}
		if b == nil || idx != b.Index() {
			flush()
			b = NewBuilder(idx, multiplier)
		}
		b.AddBar(in)
	}
	flush()
	return out
}

// VolumeBars cuts MarketOpen ticks into bars of at least threshold volume.
// A tick that would carry a non-empty bar to slack*threshold or beyond starts the
// next bar instead. Bars are indexed in order from 0.
func VolumeBars(sess *session.Session, ticks []Tick, threshold int64, slack float64, multiplier int64) []Bar {
	if threshold <= 0 {
		return nil
	}
	if slack < 1 {
		slack = DefaultVolumeSlack
	}
	limit := int64(float64(threshold) * slack)
	var (
		out  []Bar
		prev *Tick
	)
	b := NewBuilder(0, multiplier)
	for i := range ticks {
		t := &ticks[i]
		if sess.Stage(t.Time) != session.MarketOpen {
			continue
		}
		if !b.Empty() && prev != nil && b.Volume()+(t.Volume-prev.Volume) >= limit {
			out = append(out, b.Finalize())
			b = NewBuilder(len(out), multiplier)
		}
		b.AddTick(prev, *t)
		prev = t
		if b.Volume() >= threshold {
			out = append(out, b.Finalize())
			b = NewBuilder(len(out), multiplier)
		}
	}
	if !b.Empty() {
		out = append(out, b.Finalize())
	}
	return out
}

// DayFromTicks builds the single daily bar of a session. ok is false when
// no tick falls inside the session. The bar is stamped with the trading day.
func DayFromTicks(sess *session.Session, ticks []Tick, multiplier int64) (Bar, bool) {
	b := NewBuilder(0, multiplier)
	var prev *Tick
	for i := range ticks {
		t := &ticks[i]
		if sess.BarIndex(1, t.Time) < 0 {
			continue
		}
		b.AddTick(prev, *t)
		prev = t
	}
	if b.Empty() {
		return Bar{}, false
	}
	b.Window(sess.Day, sess.Day)
	return b.Finalize(), true
}

// Validate checks that bar indices never decrease.
func Validate(instrument string, day time.Time, level Level, bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Index < bars[i-1].Index {
			return &faults.DataIntegrityError{
				Instrument: instrument,
				Day:        day,
				Level:      level.String(),
				Reason:     fmt.Sprintf("bar %d index %d follows index %d", i, bars[i].Index, bars[i-1].Index),
			}
		}
	}
	return nil
}

// Cut drops bars beginning at or after cutoff. A zero cutoff keeps all.
func Cut(bars []Bar, cutoff time.Time) []Bar {
	if cutoff.IsZero() {
		return bars
	}
	for i, b := range bars {
		if !b.Begin.Before(cutoff) {
			return bars[:i]
		}
	}
	return bars
}
