package bar

import (
	"time"

	"market-bars/go/pkg/fixed"
)

// Builder accumulates ticks or finer bars into one bar. A Builder belongs to
// a single goroutine; Finalize hands out an immutable copy.
type Builder struct {
	bar        Bar
	n          int
	multiplier int64
}

func NewBuilder(index int, multiplier int64) *Builder {
	if multiplier <= 0 {
		multiplier = 1
	}
	return &Builder{bar: Bar{Index: index}, multiplier: multiplier}
}

// Index of the bar under construction.
func (b *Builder) Index() int { return b.bar.Index }

// Empty reports whether nothing has been absorbed yet.
func (b *Builder) Empty() bool { return b.n == 0 }

// Volume absorbed so far.
func (b *Builder) Volume() int64 { return b.bar.EndVolume - b.bar.BeginVolume }

// AddTick absorbs t. prev is the tick preceding t in the session, or nil for
// the first tick of the day; the first tick of a bar takes its begin values
// from prev so no volume falls between bars.
func (b *Builder) AddTick(prev *Tick, t Tick) {
	if b.n == 0 {
		from := &t
		if prev != nil {
			from = prev
		}
		b.bar.Begin = t.Time
		b.bar.BeginVolume = from.Volume
		b.bar.BeginTurnover = from.Turnover
		b.bar.BeginOpenInt = from.OpenInt
		b.bar.Open, b.bar.High, b.bar.Low = t.Last, t.Last, t.Last
	}
	if prev != nil {
		if t.High.Valid() && t.High != prev.High {
			b.bar.High = fixed.Max2(b.bar.High, t.High)
		}
		if t.Low.Valid() && t.Low != prev.Low {
			b.bar.Low = fixed.Min2(b.bar.Low, t.Low)
		}
	}
	b.bar.High = fixed.Max2(b.bar.High, t.Last)
	b.bar.Low = fixed.Min2(b.bar.Low, t.Last)
	b.bar.Close = t.Last
	b.bar.End = t.Time
	b.bar.EndVolume = t.Volume
	b.bar.EndTurnover = t.Turnover
	b.bar.EndOpenInt = t.OpenInt
	b.bar.MktAvg = t.AvgPrice
	b.bar.UpperLimit = t.UpperLimit
	b.bar.LowerLimit = t.LowerLimit
	b.n++
}

// AddBar absorbs a finer bar that follows the ones already absorbed.
func (b *Builder) AddBar(in Bar) {
	if b.n == 0 {
		b.bar.Begin = in.Begin
		b.bar.Open, b.bar.High, b.bar.Low = in.Open, in.High, in.Low
		b.bar.BeginVolume = in.BeginVolume
		b.bar.BeginTurnover = in.BeginTurnover
		b.bar.BeginOpenInt = in.BeginOpenInt
	} else {
		b.bar.High = fixed.Max2(b.bar.High, in.High)
		b.bar.Low = fixed.Min2(b.bar.Low, in.Low)
	}
	b.bar.Close = in.Close
	b.bar.End = in.End
	b.bar.EndVolume = in.EndVolume
	b.bar.EndTurnover = in.EndTurnover
	b.bar.EndOpenInt = in.EndOpenInt
	b.bar.MktAvg = in.MktAvg
	b.bar.UpperLimit = in.UpperLimit
	b.bar.LowerLimit = in.LowerLimit
	b.n++
}

// Window overrides the bar's wall-clock span.
func (b *Builder) Window(begin, end time.Time) {
	b.bar.Begin, b.bar.End = begin, end
}

// Finalize derives the delta fields and returns the finished bar. Avg is N/A
// for a bar without volume.
func (b *Builder) Finalize() Bar {
	out := b.bar
	out.Volume = out.EndVolume - out.BeginVolume
	out.Turnover = out.EndTurnover.Sub(out.BeginTurnover)
	out.OpenInt = out.EndOpenInt - out.BeginOpenInt
	out.Avg = out.Turnover.Div(fixed.FromInt(out.Volume * b.multiplier))
	return out
}
