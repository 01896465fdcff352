// Package calendar holds the exchange table and per-exchange closed-day
// calendars. Everything in it is built once at startup and read concurrently
// without locking.
package calendar

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// maxScan bounds market-day searches so a misconfigured calendar cannot spin.
const maxScan = 3660

// Exchange is an immutable exchange definition with its closed-day set.
type Exchange struct {
	Name     string
	Location *time.Location
	IsFuture bool
	// Opens and Closes are the nominal session boundaries in trading order.
	Opens  []TimeOfDay
	Closes []TimeOfDay
	// NightOpen/NightClose describe the night session when HasNight is set.
	// NightClose earlier than NightOpen means the session crosses midnight.
	HasNight   bool
	NightOpen  TimeOfDay
	NightClose TimeOfDay

	closed map[int]struct{}
}

// ExchangeSpec is the input to NewExchange.
type ExchangeSpec struct {
	Name       string
	Timezone   string
	IsFuture   bool
	Opens      []TimeOfDay
	Closes     []TimeOfDay
	Night      []TimeOfDay
	ClosedDays []time.Time
}

// NewExchange validates spec and freezes the closed-day set.
func NewExchange(spec ExchangeSpec) (*Exchange, error) {
	if spec.Name == "" {
		return nil, errors.New("exchange name required")
	}
	loc := time.UTC
	if spec.Timezone != "" {
		l, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", spec.Name, err)
		}
		loc = l
	}
	if len(spec.Opens) != len(spec.Closes) {
		return nil, fmt.Errorf("exchange %s: %d opens vs %d closes", spec.Name, len(spec.Opens), len(spec.Closes))
	}
	ex := &Exchange{
		Name:     spec.Name,
		Location: loc,
		IsFuture: spec.IsFuture,
		Opens:    append([]TimeOfDay(nil), spec.Opens...),
		Closes:   append([]TimeOfDay(nil), spec.Closes...),
		closed:   make(map[int]struct{}, len(spec.ClosedDays)),
	}
	switch len(spec.Night) {
	case 0:
	case 2:
		ex.HasNight = true
		ex.NightOpen, ex.NightClose = spec.Night[0], spec.Night[1]
	default:
		return nil, fmt.Errorf("exchange %s: night session wants open and close", spec.Name)
	}
	for _, d := range spec.ClosedDays {
		ex.closed[dayKey(d)] = struct{}{}
	}
	return ex, nil
}

// Date returns the exchange-local calendar date of t at 00:00.
func (e *Exchange) Date(t time.Time) time.Time {
	return Midnight(t.In(e.Location), e.Location)
}

// Day builds a date in the exchange location.
func (e *Exchange) Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, e.Location)
}

// Close is the nominal end of the day session.
func (e *Exchange) Close() TimeOfDay {
	if len(e.Closes) == 0 {
		return 24 * 3600
	}
	return e.Closes[len(e.Closes)-1]
}

// ClosedDays returns the number of explicit holidays.
func (e *Exchange) ClosedDays() int { return len(e.closed) }

// IsMarketDay is false on weekends and on listed closed days. Only the date
// fields of d are considered.
func (e *Exchange) IsMarketDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := e.closed[dayKey(d)]
	return !closed
}

// NextMarketDay returns the first market day strictly after d.
func (e *Exchange) NextMarketDay(d time.Time) time.Time {
	day := Midnight(d, e.Location)
	for i := 0; i < maxScan; i++ {
		day = addDays(day, 1)
		if e.IsMarketDay(day) {
			return day
		}
	}
	return day
}

// PrevMarketDay returns the last market day strictly before d.
func (e *Exchange) PrevMarketDay(d time.Time) time.Time {
	day := Midnight(d, e.Location)
	for i := 0; i < maxScan; i++ {
		day = addDays(day, -1)
		if e.IsMarketDay(day) {
			return day
		}
	}
	return day
}

// ThisMarketDay returns d itself when it is a market day, otherwise the
// following market day.
func (e *Exchange) ThisMarketDay(d time.Time) time.Time {
	day := Midnight(d, e.Location)
	if e.IsMarketDay(day) {
		return day
	}
	return e.NextMarketDay(day)
}

// MarketDays lists market days in [start, end).
func (e *Exchange) MarketDays(start, end time.Time) []time.Time {
	day := Midnight(start, e.Location)
	stop := Midnight(end, e.Location)
	var out []time.Time
	for day.Before(stop) {
		if e.IsMarketDay(day) {
			out = append(out, day)
		}
		day = addDays(day, 1)
	}
	return out
}

func (e *Exchange) crossesMidnight() bool { return e.HasNight && e.NightClose < e.NightOpen }

func (e *Exchange) inNight(clock TimeOfDay) bool {
	if !e.HasNight {
		return false
	}
	if e.crossesMidnight() {
		return clock >= e.NightOpen || clock < e.NightClose
	}
	return clock >= e.NightOpen && clock < e.NightClose
}

// LastMarketDay returns the trading day in effect at now.
//
// For futures exchanges with a night session, time at or after the night open
// belongs to the next market day. With completed set the function returns
// the last trading day whose day session has finished, so it does not roll
// forward while the night session is still running.
func (e *Exchange) LastMarketDay(now time.Time, completed bool) time.Time {
	local := now.In(e.Location)
	day := Midnight(local, e.Location)
	clock := ClockOf(local)

	if e.IsFuture && e.crossesMidnight() && clock < e.NightClose {
		// After-midnight tail of the session that opened yesterday.
		prev := addDays(day, -1)
		if completed {
			if e.IsMarketDay(prev) {
				return prev
			}
			return e.PrevMarketDay(prev)
		}
		return e.NextMarketDay(prev)
	}

	if e.IsFuture && e.HasNight && clock >= e.NightOpen {
		if !(completed && e.inNight(clock)) {
			return e.NextMarketDay(day)
		}
	}

	if !e.IsMarketDay(day) {
		return e.PrevMarketDay(day)
	}
	if completed && clock < e.Close() {
		return e.PrevMarketDay(day)
	}
	return day
}
