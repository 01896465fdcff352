// Package session lays out the concrete trading segments of a trading day
// and answers time-stage, trading-time and bar-index queries against them.
package session

import (
	"fmt"
	"time"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/contract"
	"market-bars/go/pkg/faults"
)

// DefaultTrailingTolerance is how long after a segment close a timestamp is
// still folded into that segment's last bar.
const DefaultTrailingTolerance = 5 * time.Second

const (
	preOpenWindow = 60 * time.Minute
	auctionWindow = 5 * time.Minute
)

// Stage classifies a wall-clock time against a session.
type Stage int

const (
	MarketClose Stage = iota
	BeforeMarketOpen
	AggregateAuction
	MarketOpen
	MarketBreak
)

func (s Stage) String() string {
	switch s {
	case BeforeMarketOpen:
		return "BeforeMarketOpen"
	case AggregateAuction:
		return "AggregateAuction"
	case MarketOpen:
		return "MarketOpen"
	case MarketBreak:
		return "MarketBreak"
	default:
		return "MarketClose"
	}
}

// Segment is one tradable interval. NewStage marks the first segment of a
// template stage, which is preceded by a pre-open window.
type Segment struct {
	Begin    time.Time `json:"begin"`
	End      time.Time `json:"end"`
	NewStage bool      `json:"new_stage"`
}

// Duration of the segment.
func (s Segment) Duration() time.Duration { return s.End.Sub(s.Begin) }

// Session is the immutable segment layout of one trading day for one
// contract template.
type Session struct {
	Template *contract.Template
	Day      time.Time
	Segments []Segment
	Total    time.Duration

	tolerance time.Duration
}

// Build lays out the session of tpl on day. It returns nil without error
// when day is not a market day.
func Build(tpl *contract.Template, day time.Time, tolerance time.Duration) (*Session, error) {
	ex := tpl.Exchange
	day = calendar.Midnight(day, ex.Location)
	if !ex.IsMarketDay(day) {
		return nil, nil
	}
	stages := tpl.StagesOn(day)
	if len(stages) == 0 {
		return nil, &faults.CalendarResolutionError{
			Exchange: ex.Name,
			Code:     tpl.Commodity,
			Reason:   "no stage valid on " + day.Format("2006-01-02"),
		}
	}

	s := &Session{Template: tpl, Day: day, tolerance: tolerance}
	for _, st := range stages {
		anchor := day
		if st.PriorDay {
			anchor = ex.PrevMarketDay(day)
		}
		shift := 0
		var prevEnd time.Time
		for i, f := range st.Frames {
			begin := f.Begin.On(plusDays(anchor, shift))
			if i > 0 && begin.Before(prevEnd) {
				shift++
				begin = f.Begin.On(plusDays(anchor, shift))
			}
			end := f.End.On(plusDays(anchor, shift))
			if !end.After(begin) {
				shift++
				end = f.End.On(plusDays(anchor, shift))
			}
			s.Segments = append(s.Segments, Segment{Begin: begin, End: end, NewStage: i == 0})
			s.Total += end.Sub(begin)
			prevEnd = end
		}
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) check() error {
	for i, seg := range s.Segments {
		if !seg.Begin.Before(seg.End) {
			return s.integrity(fmt.Sprintf("segment %d begins at or after its end", i))
		}
		if i > 0 && seg.Begin.Before(s.Segments[i-1].End) {
			return s.integrity(fmt.Sprintf("segment %d overlaps segment %d", i, i-1))
		}
	}
	return nil
}

func (s *Session) integrity(reason string) error {
	return &faults.DataIntegrityError{
		Instrument: s.Template.Exchange.Name + "." + s.Template.Commodity,
		Day:        s.Day,
		Level:      "session",
		Reason:     reason,
	}
}

// Open is the first segment's begin.
func (s *Session) Open() time.Time { return s.Segments[0].Begin }

// Close is the last segment's end.
func (s *Session) Close() time.Time { return s.Segments[len(s.Segments)-1].End }

// TotalSeconds is the tradable length of the session.
func (s *Session) TotalSeconds() int64 { return int64(s.Total / time.Second) }

// Tolerance is the trailing tolerance this session was built with.
func (s *Session) Tolerance() time.Duration { return s.tolerance }

// Stage classifies t. Sub-second precision is ignored.
func (s *Session) Stage(t time.Time) Stage {
	sec := t.Truncate(time.Second)
	for i, seg := range s.Segments {
		if seg.NewStage {
			pre := seg.Begin.Add(-preOpenWindow)
			auction := seg.Begin.Add(-auctionWindow)
			if !sec.Before(pre) && sec.Before(auction) {
				return BeforeMarketOpen
			}
			if !sec.Before(auction) && sec.Before(seg.Begin) {
				return AggregateAuction
			}
		}
		if sec.Before(seg.Begin) {
			if i == 0 {
				return MarketClose
			}
			return MarketBreak
		}
		if !sec.After(seg.End) {
			return MarketOpen
		}
	}
	return MarketClose
}

// TradingTime returns elapsed tradable milliseconds at t, or -1 when t is
// before the open or later than the close plus the trailing tolerance.
func (s *Session) TradingTime(t time.Time) int64 {
	if t.Before(s.Open()) || t.After(s.Close().Add(s.tolerance)) {
		return -1
	}
	var elapsed time.Duration
	for _, seg := range s.Segments {
		if !t.After(seg.Begin) {
			break
		}
		if !t.Before(seg.End) {
			elapsed += seg.Duration()
			continue
		}
		elapsed += t.Sub(seg.Begin)
		break
	}
	return elapsed.Milliseconds()
}

// BarIndex returns the 0-based index of the minutes-wide bar containing t,
// or -1 outside tradable time. A time at, or within the trailing tolerance
// after, a segment close belongs to that segment's last bar.
func (s *Session) BarIndex(minutes int, t time.Time) int {
	if minutes <= 0 {
		return -1
	}
	atEnd := false
	if s.Stage(t) == MarketOpen {
		for _, seg := range s.Segments {
			if !t.Before(seg.End) && !t.After(seg.End.Add(time.Second)) {
				t, atEnd = seg.End, true
				break
			}
		}
	} else {
		seg, ok := s.trailing(t)
		if !ok {
			return -1
		}
		t, atEnd = seg.End, true
	}
	ms := s.TradingTime(t)
	if ms < 0 {
		return -1
	}
	width := int64(minutes) * 60_000
	if atEnd && ms > 0 {
		return int((ms - 1) / width)
	}
	return int(ms / width)
}

// trailing finds the segment whose close t follows within the tolerance.
func (s *Session) trailing(t time.Time) (Segment, bool) {
	for _, seg := range s.Segments {
		if t.After(seg.End) && !t.After(seg.End.Add(s.tolerance)) {
			return seg, true
		}
	}
	return Segment{}, false
}

// Bars is the number of minutes-wide bars the session holds.
func (s *Session) Bars(minutes int) int {
	width := time.Duration(minutes) * time.Minute
	if width <= 0 {
		return 0
	}
	return int((s.Total + width - 1) / width)
}

// BarWindow maps a bar index back to wall-clock begin and end. ok is false
// for an index outside the session.
func (s *Session) BarWindow(minutes, index int) (begin, end time.Time, ok bool) {
	if index < 0 || index >= s.Bars(minutes) {
		return time.Time{}, time.Time{}, false
	}
	width := time.Duration(minutes) * time.Minute
	from := width * time.Duration(index)
	to := from + width
	if to > s.Total {
		to = s.Total
	}
	return s.at(from, false), s.at(to, true), true
}

// at maps elapsed trading time to wall clock. closing picks a segment end
// over the following segment's begin when elapsed falls on the boundary.
func (s *Session) at(elapsed time.Duration, closing bool) time.Time {
	var cum time.Duration
	for _, seg := range s.Segments {
		d := seg.Duration()
		if elapsed < cum+d || (closing && elapsed == cum+d) {
			return seg.Begin.Add(elapsed - cum)
		}
		cum += d
	}
	return s.Close()
}

func plusDays(day time.Time, n int) time.Time {
	if n == 0 {
		return day
	}
	y, m, d := day.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, day.Location())
}
