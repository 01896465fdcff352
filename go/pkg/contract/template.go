// Package contract resolves per-commodity session templates and generates
// month-coded contract identifiers.
package contract

import (
	"fmt"
	"strings"
	"time"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/faults"
	"market-bars/go/pkg/fixed"
)

// CodeFormat is the date part of a contract code.
type CodeFormat int

const (
	// YYMM renders 2021-03 as "2103".
	YYMM CodeFormat = iota
	// YMM renders 2021-03 as "103".
	YMM
)

// ParseCodeFormat accepts "YYMM" and "YMM".
func ParseCodeFormat(s string) (CodeFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "YYMM":
		return YYMM, nil
	case "YMM":
		return YMM, nil
	default:
		return YYMM, fmt.Errorf("unknown code format %q", s)
	}
}

func (f CodeFormat) String() string {
	if f == YMM {
		return "YMM"
	}
	return "YYMM"
}

// Frame is one open interval of a stage, as wall-clock offsets.
type Frame struct {
	Begin calendar.TimeOfDay
	End   calendar.TimeOfDay
}

// TimeStage is a group of frames that opens with its own pre-open auction.
type TimeStage struct {
	Market    string
	ValidFrom time.Time
	ValidTo   time.Time
	// PriorDay anchors the stage to the previous market day, as for night
	// sessions that belong to the next trading day.
	PriorDay bool
	Frames   []Frame
}

// ValidOn reports whether the stage applies on day. Zero bounds are open.
func (s TimeStage) ValidOn(day time.Time) bool {
	if !s.ValidFrom.IsZero() && day.Before(calendar.Midnight(s.ValidFrom, day.Location())) {
		return false
	}
	if !s.ValidTo.IsZero() && day.After(calendar.Midnight(s.ValidTo, day.Location())) {
		return false
	}
	return true
}

// LastDayRule is either a fixed day of month (Day > 0) or the Week-th
// Weekday of the month.
type LastDayRule struct {
	Day     int
	Week    int
	Weekday time.Weekday
}

// Template describes trading hours and contract generation for a commodity,
// an exact instrument, or the exchange wildcard "*".
type Template struct {
	Exchange   *calendar.Exchange
	Commodity  string
	Stages     []TimeStage
	LastDay    LastDayRule
	Format     CodeFormat
	Slots      []string
	PriceTick  fixed.Value
	Multiplier int64
}

// Wildcard is the per-exchange fallback template key.
const Wildcard = "*"

// StagesOn returns the stages valid on day, in template order.
func (t *Template) StagesOn(day time.Time) []TimeStage {
	out := make([]TimeStage, 0, len(t.Stages))
	for _, s := range t.Stages {
		if s.ValidOn(day) {
			out = append(out, s)
		}
	}
	return out
}

// LastTradingDay applies the template rule to a contract month. A rule date
// falling on a closed day moves to the next market day.
func (t *Template) LastTradingDay(year int, month time.Month) time.Time {
	ex := t.Exchange
	var d time.Time
	switch {
	case t.LastDay.Day > 0:
		d = ex.Day(year, month, t.LastDay.Day)
	case t.LastDay.Week > 0:
		first := ex.Day(year, month, 1)
		shift := (int(t.LastDay.Weekday) - int(first.Weekday()) + 7) % 7
		d = ex.Day(year, month, 1+shift+7*(t.LastDay.Week-1))
	default:
		// No rule: the month never rolls early.
		return ex.Day(year, month+1, 0).AddDate(0, 0, 1)
	}
	if !ex.IsMarketDay(d) {
		d = ex.NextMarketDay(d)
	}
	return d
}

// Anchor rolls day to the first of the next month once day is at or past
// the month's last trading day.
func (t *Template) Anchor(day time.Time) time.Time {
	d := calendar.Midnight(day, t.Exchange.Location)
	last := t.LastTradingDay(d.Year(), d.Month())
	if !d.Before(last) {
		return t.Exchange.Day(d.Year(), d.Month()+1, 1)
	}
	return t.Exchange.Day(d.Year(), d.Month(), 1)
}

// Codes generates the concrete codes a slot names for the anchor day.
func (t *Template) Codes(commodity string, anchor time.Time, slot string) ([]string, error) {
	months, err := SlotMonths(t.Anchor(anchor), slot)
	if err != nil {
		return nil, &faults.CalendarResolutionError{Exchange: t.Exchange.Name, Code: commodity, Reason: err.Error()}
	}
	out := make([]string, 0, len(months))
	for _, m := range months {
		out = append(out, FormatCode(commodity, t.Format, m.Year(), m.Month()))
	}
	return out, nil
}

// ResolveCode returns the first code of a slot.
func (t *Template) ResolveCode(commodity string, anchor time.Time, slot string) (string, error) {
	codes, err := t.Codes(commodity, anchor, slot)
	if err != nil {
		return "", err
	}
	if len(codes) == 0 {
		return "", &faults.CalendarResolutionError{Exchange: t.Exchange.Name, Code: commodity, Reason: "slot " + slot + " is empty"}
	}
	return codes[0], nil
}

// Contracts returns the union of all configured slots, ordered by month.
func (t *Template) Contracts(commodity string, anchor time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var months []time.Time
	base := t.Anchor(anchor)
	for _, slot := range t.Slots {
		ms, err := SlotMonths(base, slot)
		if err != nil {
			return nil, &faults.CalendarResolutionError{Exchange: t.Exchange.Name, Code: commodity, Reason: err.Error()}
		}
		for _, m := range ms {
			key := m.Format("200601")
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			months = append(months, m)
		}
	}
	sortMonths(months)
	out := make([]string, 0, len(months))
	for _, m := range months {
		out = append(out, FormatCode(commodity, t.Format, m.Year(), m.Month()))
	}
	return out, nil
}

// FormatCode renders commodity plus the date part.
func FormatCode(commodity string, format CodeFormat, year int, month time.Month) string {
	if format == YMM {
		return fmt.Sprintf("%s%d%02d", commodity, year%10, int(month))
	}
	return fmt.Sprintf("%s%02d%02d", commodity, year%100, int(month))
}

// CommodityOf returns the prefix of code up to the first digit.
func CommodityOf(code string) string {
	for i, r := range code {
		if r >= '0' && r <= '9' {
			return code[:i]
		}
	}
	return code
}

func sortMonths(ms []time.Time) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].Before(ms[j-1]); j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}
