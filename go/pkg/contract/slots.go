package contract

import (
	"fmt"
	"time"
)

// Month slot names accepted in templates.
const (
	ThisMonth        = "ThisMonth"
	NextMonth        = "NextMonth"
	ThisQuarter      = "ThisQuarter"
	NextQuarter      = "NextQuarter"
	NextQuarter2     = "NextQuarter2"
	Next12Months     = "Next12Months"
	Next8In12Months  = "Next8In12Months"
	Next6OddMonths   = "Next6OddMonths"
	Next1357Q4Months = "Next1357Q4Months"
)

// KnownSlot reports whether name is a supported slot.
func KnownSlot(name string) bool {
	switch name {
	case ThisMonth, NextMonth, ThisQuarter, NextQuarter, NextQuarter2,
		Next12Months, Next8In12Months, Next6OddMonths, Next1357Q4Months:
		return true
	}
	return false
}

// SlotMonths returns the first day of each contract month the slot names,
// relative to an already rolled anchor.
func SlotMonths(anchor time.Time, slot string) ([]time.Time, error) {
	month := func(offset int) time.Time {
		return time.Date(anchor.Year(), anchor.Month()+time.Month(offset), 1, 0, 0, 0, 0, anchor.Location())
	}
	quarterStart := (int(anchor.Month())-1)/3*3 + 1
	qOffset := quarterStart - int(anchor.Month())

	switch slot {
	case ThisMonth:
		return []time.Time{month(0)}, nil
	case NextMonth:
		return []time.Time{month(1)}, nil
	case ThisQuarter:
		return []time.Time{month(qOffset)}, nil
	case NextQuarter:
		return []time.Time{month(qOffset + 3)}, nil
	case NextQuarter2:
		return []time.Time{month(qOffset + 6)}, nil
	case Next12Months:
		out := make([]time.Time, 0, 13)
		for i := 0; i <= 12; i++ {
			out = append(out, month(i))
		}
		return out, nil
	case Next8In12Months:
		out := make([]time.Time, 0, 8)
		for i := 0; i < 8; i++ {
			out = append(out, month(i))
		}
		return out, nil
	case Next6OddMonths:
		out := make([]time.Time, 0, 6)
		for i := 0; len(out) < 6; i++ {
			m := month(i)
			if int(m.Month())%2 == 1 {
				out = append(out, m)
			}
		}
		return out, nil
	case Next1357Q4Months:
		var out []time.Time
		for i := 0; i < 12; i++ {
			m := month(i)
			switch m.Month() {
			case time.January, time.March, time.May, time.July,
				time.October, time.November, time.December:
				out = append(out, m)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported month slot %q", slot)
	}
}
