package session

import (
	"testing"
	"time"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/contract"
)

func frame(b, e string) contract.Frame {
	return contract.Frame{Begin: calendar.MustTimeOfDay(b), End: calendar.MustTimeOfDay(e)}
}

func testTemplate(t *testing.T, nightEnd string) *contract.Template {
	t.Helper()
	ex, err := calendar.NewExchange(calendar.ExchangeSpec{
		Name:       "SHFE",
		Timezone:   "Asia/Shanghai",
		IsFuture:   true,
		Opens:      []calendar.TimeOfDay{calendar.MustTimeOfDay("09:00")},
		Closes:     []calendar.TimeOfDay{calendar.MustTimeOfDay("15:00")},
		Night:      []calendar.TimeOfDay{calendar.MustTimeOfDay("21:00"), calendar.MustTimeOfDay(nightEnd)},
		ClosedDays: []time.Time{time.Date(2021, 4, 5, 0, 0, 0, 0, time.UTC)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &contract.Template{
		Exchange:   ex,
		Commodity:  "rb",
		Multiplier: 10,
		Stages: []contract.TimeStage{
			{Market: "night", PriorDay: true, Frames: []contract.Frame{frame("21:00", nightEnd)}},
			{Market: "day", Frames: []contract.Frame{
				frame("09:00", "10:15"), frame("10:30", "11:30"), frame("13:30", "15:00"),
			}},
		},
	}
}

func at(ex *calendar.Exchange, d, clock string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", d+" "+clock, ex.Location)
	if err != nil {
		panic(err)
	}
	return t
}

func mustBuild(t *testing.T, tpl *contract.Template, d string) *Session {
	t.Helper()
	day := at(tpl.Exchange, d, "00:00:00")
	s, err := Build(tpl, day, DefaultTrailingTolerance)
	if err != nil {
		t.Fatalf("build %s: %v", d, err)
	}
	if s == nil {
		t.Fatalf("no session on %s", d)
	}
	return s
}

func TestBuildSegments(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	ex := tpl.Exchange
	s := mustBuild(t, tpl, "2021-03-09")

	want := []Segment{
		{Begin: at(ex, "2021-03-08", "21:00:00"), End: at(ex, "2021-03-08", "23:00:00"), NewStage: true},
		{Begin: at(ex, "2021-03-09", "09:00:00"), End: at(ex, "2021-03-09", "10:15:00"), NewStage: true},
		{Begin: at(ex, "2021-03-09", "10:30:00"), End: at(ex, "2021-03-09", "11:30:00")},
		{Begin: at(ex, "2021-03-09", "13:30:00"), End: at(ex, "2021-03-09", "15:00:00")},
	}
	if len(s.Segments) != len(want) {
		t.Fatalf("segments = %d, want %d", len(s.Segments), len(want))
	}
	for i, w := range want {
		g := s.Segments[i]
		if !g.Begin.Equal(w.Begin) || !g.End.Equal(w.End) || g.NewStage != w.NewStage {
			t.Errorf("segment %d = %v-%v new=%v, want %v-%v new=%v",
				i, g.Begin, g.End, g.NewStage, w.Begin, w.End, w.NewStage)
		}
	}
	if s.TotalSeconds() != 345*60 {
		t.Errorf("total = %d, want %d", s.TotalSeconds(), 345*60)
	}
}

func TestBuildAnchorsNightToPriorMarketDay(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	ex := tpl.Exchange

	// Monday's night session opened on Friday.
	s := mustBuild(t, tpl, "2021-03-08")
	if got, want := s.Open(), at(ex, "2021-03-05", "21:00:00"); !got.Equal(want) {
		t.Errorf("open = %v, want %v", got, want)
	}
	// Tuesday after the Monday holiday.
	s = mustBuild(t, tpl, "2021-04-06")
	if got, want := s.Open(), at(ex, "2021-04-02", "21:00:00"); !got.Equal(want) {
		t.Errorf("open = %v, want %v", got, want)
	}
}

func TestBuildNoSessionOnClosedDay(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	for _, d := range []string{"2021-03-06", "2021-04-05"} {
		s, err := Build(tpl, at(tpl.Exchange, d, "00:00:00"), DefaultTrailingTolerance)
		if err != nil || s != nil {
			t.Errorf("%s: got %v, %v; want nil session", d, s, err)
		}
	}
}

func TestBuildNightCrossingMidnight(t *testing.T) {
	tpl := testTemplate(t, "02:30")
	ex := tpl.Exchange
	s := mustBuild(t, tpl, "2021-03-09")
	night := s.Segments[0]
	if !night.End.Equal(at(ex, "2021-03-09", "02:30:00")) {
		t.Errorf("night end = %v", night.End)
	}
	for i := 1; i < len(s.Segments); i++ {
		if s.Segments[i].Begin.Before(s.Segments[i-1].End) {
			t.Errorf("segment %d overlaps", i)
		}
	}
	if s.TotalSeconds() != (330+225)*60 {
		t.Errorf("total = %d", s.TotalSeconds())
	}
}

func TestBuildRejectsOverlappingStages(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	tpl.Stages = []contract.TimeStage{
		{Market: "day", Frames: []contract.Frame{frame("09:00", "15:00")}},
		{Market: "day2", Frames: []contract.Frame{frame("14:00", "15:30")}},
	}
	if _, err := Build(tpl, at(tpl.Exchange, "2021-03-09", "00:00:00"), DefaultTrailingTolerance); err == nil {
		t.Fatal("expected integrity error")
	}
}

func TestStage(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	s := mustBuild(t, tpl, "2021-03-09")
	ex := tpl.Exchange
	cases := []struct {
		day, clock string
		want       Stage
	}{
		{"2021-03-08", "19:00:00", MarketClose},
		{"2021-03-08", "20:00:00", BeforeMarketOpen},
		{"2021-03-08", "20:54:59", BeforeMarketOpen},
		{"2021-03-08", "20:55:00", AggregateAuction},
		{"2021-03-08", "21:00:00", MarketOpen},
		{"2021-03-08", "23:00:00", MarketOpen},
		{"2021-03-08", "23:30:00", MarketBreak},
		{"2021-03-09", "08:10:00", BeforeMarketOpen},
		{"2021-03-09", "08:58:00", AggregateAuction},
		{"2021-03-09", "10:20:00", MarketBreak},
		{"2021-03-09", "12:00:00", MarketBreak},
		{"2021-03-09", "14:00:00", MarketOpen},
		{"2021-03-09", "15:30:00", MarketClose},
	}
	for _, c := range cases {
		if got := s.Stage(at(ex, c.day, c.clock)); got != c.want {
			t.Errorf("Stage(%s %s) = %v, want %v", c.day, c.clock, got, c.want)
		}
	}
	// Sub-second precision is ignored at the close.
	if got := s.Stage(at(ex, "2021-03-09", "15:00:00").Add(500 * time.Millisecond)); got != MarketOpen {
		t.Errorf("close + 0.5s = %v, want MarketOpen", got)
	}
}

func TestTradingTime(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	s := mustBuild(t, tpl, "2021-03-09")
	ex := tpl.Exchange
	total := s.TotalSeconds() * 1000

	if got := s.TradingTime(s.Open()); got != 0 {
		t.Errorf("TradingTime(open) = %d", got)
	}
	if got := s.TradingTime(s.Close()); got != total {
		t.Errorf("TradingTime(close) = %d, want %d", got, total)
	}
	breakStart := s.TradingTime(at(ex, "2021-03-09", "10:15:00"))
	breakMid := s.TradingTime(at(ex, "2021-03-09", "10:20:00"))
	if breakStart != breakMid || breakStart != 195*60_000 {
		t.Errorf("break advanced: %d vs %d", breakStart, breakMid)
	}
	if got := s.TradingTime(s.Close().Add(4 * time.Second)); got != total {
		t.Errorf("within tolerance = %d", got)
	}
	if got := s.TradingTime(s.Close().Add(6 * time.Second)); got != -1 {
		t.Errorf("past tolerance = %d", got)
	}
	if got := s.TradingTime(s.Open().Add(-time.Minute)); got != -1 {
		t.Errorf("before open = %d", got)
	}
}

func TestBarIndex(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	s := mustBuild(t, tpl, "2021-03-09")
	ex := tpl.Exchange
	cases := []struct {
		minutes    int
		day, clock string
		want       int
	}{
		{1, "2021-03-08", "21:00:00", 0},
		{1, "2021-03-08", "21:00:59", 0},
		{1, "2021-03-08", "21:01:00", 1},
		{1, "2021-03-08", "23:00:00", 119},
		{1, "2021-03-08", "23:00:04", 119},
		{1, "2021-03-08", "23:00:06", -1},
		{1, "2021-03-09", "08:58:00", -1},
		{1, "2021-03-09", "09:00:00", 120},
		{1, "2021-03-09", "10:15:03", 194},
		{1, "2021-03-09", "10:20:00", -1},
		{1, "2021-03-09", "10:30:00", 195},
		{5, "2021-03-09", "10:30:00", 39},
		{60, "2021-03-09", "10:30:00", 3},
		{60, "2021-03-09", "15:00:00", 5},
		{1, "2021-03-09", "15:00:00", 344},
	}
	for _, c := range cases {
		if got := s.BarIndex(c.minutes, at(ex, c.day, c.clock)); got != c.want {
			t.Errorf("BarIndex(%d, %s %s) = %d, want %d", c.minutes, c.day, c.clock, got, c.want)
		}
	}
}

func TestBarIndexMonotonic(t *testing.T) {
	tpl := testTemplate(t, "02:30")
	s := mustBuild(t, tpl, "2021-03-09")
	for _, minutes := range []int{1, 3, 5, 15, 60} {
		last := -1
		for ts := s.Open().Add(-time.Hour); ts.Before(s.Close().Add(time.Hour)); ts = ts.Add(time.Second) {
			idx := s.BarIndex(minutes, ts)
			if idx < 0 {
				st := s.Stage(ts)
				if st == MarketOpen {
					t.Fatalf("MIN%d: -1 at %v while MarketOpen", minutes, ts)
				}
				continue
			}
			if st := s.Stage(ts); st != MarketOpen && st != MarketBreak && st != MarketClose {
				t.Fatalf("MIN%d: index %d at %v in stage %v", minutes, idx, ts, st)
			}
			if idx < last {
				t.Fatalf("MIN%d: index went back from %d to %d at %v", minutes, last, idx, ts)
			}
			last = idx
		}
		if want := s.Bars(minutes) - 1; last != want {
			t.Errorf("MIN%d: last index %d, want %d", minutes, last, want)
		}
	}
}

func TestBarWindow(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	s := mustBuild(t, tpl, "2021-03-09")
	ex := tpl.Exchange
	cases := []struct {
		minutes, index int
		begin, end     time.Time
	}{
		{1, 0, at(ex, "2021-03-08", "21:00:00"), at(ex, "2021-03-08", "21:01:00")},
		{1, 119, at(ex, "2021-03-08", "22:59:00"), at(ex, "2021-03-08", "23:00:00")},
		{1, 120, at(ex, "2021-03-09", "09:00:00"), at(ex, "2021-03-09", "09:01:00")},
		{60, 3, at(ex, "2021-03-09", "10:00:00"), at(ex, "2021-03-09", "11:15:00")},
		{60, 5, at(ex, "2021-03-09", "14:15:00"), at(ex, "2021-03-09", "15:00:00")},
	}
	for _, c := range cases {
		b, e, ok := s.BarWindow(c.minutes, c.index)
		if !ok || !b.Equal(c.begin) || !e.Equal(c.end) {
			t.Errorf("BarWindow(%d, %d) = %v %v %v, want %v %v", c.minutes, c.index, b, e, ok, c.begin, c.end)
		}
	}
	if _, _, ok := s.BarWindow(60, 6); ok {
		t.Error("index past the session should not map")
	}
}

func TestCalculatorCaches(t *testing.T) {
	tpl := testTemplate(t, "23:00")
	c := NewCalculator()
	day := at(tpl.Exchange, "2021-03-09", "00:00:00")
	a, err := c.ForTemplate(tpl, day)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := c.ForTemplate(tpl, day.Add(10*time.Hour))
	if a != b {
		t.Error("expected the cached session")
	}
	if s, err := c.ForTemplate(tpl, at(tpl.Exchange, "2021-03-07", "00:00:00")); s != nil || err != nil {
		t.Errorf("sunday: %v %v", s, err)
	}
}

func TestTradingDay(t *testing.T) {
	ex := testTemplate(t, "23:00").Exchange
	cross := testTemplate(t, "02:30").Exchange
	cases := []struct {
		ex   *calendar.Exchange
		d    string
		tm   string
		want string
	}{
		{ex, "2021-03-08", "09:00:00", "2021-03-08"},
		{ex, "2021-03-08", "15:00:03", "2021-03-08"},
		{ex, "2021-03-08", "20:30:00", "2021-03-09"},
		{ex, "2021-03-08", "21:00:00", "2021-03-09"},
		{ex, "2021-03-08", "23:00:04", "2021-03-09"},
		{ex, "2021-03-05", "21:30:00", "2021-03-08"},
		{ex, "2021-04-02", "21:30:00", "2021-04-06"},
		{cross, "2021-03-09", "01:00:00", "2021-03-09"},
		{cross, "2021-03-06", "02:30:03", "2021-03-08"},
	}
	for _, c := range cases {
		got := TradingDay(c.ex, at(c.ex, c.d, c.tm))
		if want := at(c.ex, c.want, "00:00:00"); !got.Equal(want) {
			t.Errorf("TradingDay(%s %s) = %s, want %s", c.d, c.tm, got.Format("2006-01-02"), c.want)
		}
	}
}
