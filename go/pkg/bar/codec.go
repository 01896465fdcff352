package bar

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"market-bars/go/pkg/fixed"
)

// TimeLayout is the timestamp format of tick and bar records, in exchange
// local time. Fractional seconds are written only when present.
const TimeLayout = "2006-01-02 15:04:05.999999999"

// DateLayout is the date format of day records.
const DateLayout = "2006-01-02"

var (
	TickColumns = []string{"Time", "Price", "High", "Low", "Volume", "Turnover", "OpenInt",
		"Bid", "Ask", "UpperLimit", "LowerLimit", "AvgPrice"}
	BarColumns = []string{"Index", "BeginTime", "EndTime", "Open", "High", "Low", "Close",
		"Volume", "Turnover", "OpenInt", "Avg", "MktAvg",
		"BeginVolume", "BeginAmount", "BeginOpenInt", "EndVolume", "EndAmount", "EndOpenInt",
		"UpperLimit", "LowerLimit"}
	DayColumns = []string{"Date", "Open", "High", "Low", "Close", "Volume", "Turnover", "OpenInt"}

	requiredTick = []string{"Time", "Price", "Volume", "Turnover", "OpenInt"}
	requiredBar  = []string{"Index", "BeginTime", "EndTime", "Open", "High", "Low", "Close", "Volume", "Turnover", "OpenInt"}
)

// EncodeTicks writes tick records with a header line.
func EncodeTicks(w io.Writer, loc *time.Location, ticks []Tick) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TickColumns); err != nil {
		return err
	}
	for _, t := range ticks {
		rec := []string{
			t.Time.In(loc).Format(TimeLayout),
			t.Last.String(), t.High.String(), t.Low.String(),
			strconv.FormatInt(t.Volume, 10), t.Turnover.String(), strconv.FormatInt(t.OpenInt, 10),
			t.Bid.String(), t.Ask.String(), t.UpperLimit.String(), t.LowerLimit.String(), t.AvgPrice.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeTicks reads tick records. Columns are matched by header name and
// optional columns may be absent.
func DecodeTicks(r io.Reader, loc *time.Location) ([]Tick, error) {
	rows, err := readTable(r, requiredTick)
	if err != nil {
		return nil, fmt.Errorf("decode ticks: %w", err)
	}
	out := make([]Tick, 0, len(rows.data))
	for i := range rows.data {
		f := rows.row(i, loc)
		t := Tick{
			Time:       f.time("Time"),
			Last:       f.value("Price"),
			High:       f.value("High"),
			Low:        f.value("Low"),
			Volume:     f.int("Volume"),
			Turnover:   f.value("Turnover"),
			OpenInt:    f.int("OpenInt"),
			Bid:        f.value("Bid"),
			Ask:        f.value("Ask"),
			UpperLimit: f.value("UpperLimit"),
			LowerLimit: f.value("LowerLimit"),
			AvgPrice:   f.value("AvgPrice"),
		}
		if f.err != nil {
			return nil, fmt.Errorf("decode ticks: line %d: %w", i+2, f.err)
		}
		out = append(out, t)
	}
	return out, nil
}

// EncodeBars writes bar records with every round-trip column.
func EncodeBars(w io.Writer, loc *time.Location, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(BarColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			strconv.Itoa(b.Index),
			b.Begin.In(loc).Format(TimeLayout), b.End.In(loc).Format(TimeLayout),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
			strconv.FormatInt(b.Volume, 10), b.Turnover.String(), strconv.FormatInt(b.OpenInt, 10),
			b.Avg.String(), b.MktAvg.String(),
			strconv.FormatInt(b.BeginVolume, 10), b.BeginTurnover.String(), strconv.FormatInt(b.BeginOpenInt, 10),
			strconv.FormatInt(b.EndVolume, 10), b.EndTurnover.String(), strconv.FormatInt(b.EndOpenInt, 10),
			b.UpperLimit.String(), b.LowerLimit.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeBars reads bar records. When the Begin*/End* columns are missing they
// are reconstructed so that the deltas still hold.
func DecodeBars(r io.Reader, loc *time.Location) ([]Bar, error) {
	rows, err := readTable(r, requiredBar)
	if err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	out := make([]Bar, 0, len(rows.data))
	for i := range rows.data {
		f := rows.row(i, loc)
		b := Bar{
			Index:    int(f.int("Index")),
			Begin:    f.time("BeginTime"),
			End:      f.time("EndTime"),
			Open:     f.value("Open"),
			High:     f.value("High"),
			Low:      f.value("Low"),
			Close:    f.value("Close"),
			Volume:   f.int("Volume"),
			Turnover: f.value("Turnover"),
			OpenInt:  f.int("OpenInt"),
			Avg:      f.value("Avg"),
			MktAvg:   f.value("MktAvg"),

			BeginVolume:   f.int("BeginVolume"),
			BeginTurnover: f.value("BeginAmount"),
			BeginOpenInt:  f.int("BeginOpenInt"),
			EndVolume:     f.int("EndVolume"),
			EndTurnover:   f.value("EndAmount"),
			EndOpenInt:    f.int("EndOpenInt"),
			UpperLimit:    f.value("UpperLimit"),
			LowerLimit:    f.value("LowerLimit"),
		}
		if f.err != nil {
			return nil, fmt.Errorf("decode bars: line %d: %w", i+2, f.err)
		}
		if !rows.has("EndVolume") {
			b.EndVolume = b.BeginVolume + b.Volume
		}
		if !rows.has("EndAmount") {
			b.EndTurnover = b.BeginTurnover.Add(b.Turnover)
		}
		if !rows.has("EndOpenInt") {
			b.EndOpenInt = b.BeginOpenInt + b.OpenInt
		}
		out = append(out, b)
	}
	return out, nil
}

// EncodeDays writes day records. Bars are keyed by their Begin date.
func EncodeDays(w io.Writer, loc *time.Location, bars []Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DayColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Begin.In(loc).Format(DateLayout),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
			strconv.FormatInt(b.Volume, 10), b.Turnover.String(), strconv.FormatInt(b.OpenInt, 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeDays reads day records into bars stamped with their date.
func DecodeDays(r io.Reader, loc *time.Location) ([]Bar, error) {
	rows, err := readTable(r, DayColumns)
	if err != nil {
		return nil, fmt.Errorf("decode days: %w", err)
	}
	out := make([]Bar, 0, len(rows.data))
	for i := range rows.data {
		f := rows.row(i, loc)
		day := f.date("Date")
		b := Bar{
			Begin:    day,
			End:      day,
			Open:     f.value("Open"),
			High:     f.value("High"),
			Low:      f.value("Low"),
			Close:    f.value("Close"),
			Volume:   f.int("Volume"),
			Turnover: f.value("Turnover"),
			OpenInt:  f.int("OpenInt"),
		}
		if f.err != nil {
			return nil, fmt.Errorf("decode days: line %d: %w", i+2, f.err)
		}
		b.EndVolume = b.Volume
		b.EndTurnover = b.Turnover
		b.EndOpenInt = b.OpenInt
		out = append(out, b)
	}
	return out, nil
}

type table struct {
	cols map[string]int
	data [][]string
}

func readTable(r io.Reader, required []string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &table{cols: map[string]int{}}, nil
	}
	if err != nil {
		return nil, err
	}
	t := &table{cols: make(map[string]int, len(header))}
	for i, h := range header {
		t.cols[strings.TrimSpace(h)] = i
	}
	for _, c := range required {
		if !t.has(c) {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}
	t.data, err = cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *table) has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

func (t *table) row(i int, loc *time.Location) *fields {
	return &fields{t: t, rec: t.data[i], loc: loc}
}

// fields reads typed cells from one record and keeps the first error.
type fields struct {
	t   *table
	rec []string
	loc *time.Location
	err error
}

func (f *fields) cell(col string) (string, bool) {
	i, ok := f.t.cols[col]
	if !ok || i >= len(f.rec) {
		return "", false
	}
	s := strings.TrimSpace(f.rec[i])
	return s, s != ""
}

func (f *fields) fail(col string, err error) {
	if f.err == nil {
		f.err = fmt.Errorf("column %s: %w", col, err)
	}
}

func (f *fields) value(col string) fixed.Value {
	s, ok := f.cell(col)
	if !ok {
		return fixed.Zero
	}
	v, err := fixed.Parse(s)
	if err != nil {
		f.fail(col, err)
	}
	return v
}

func (f *fields) int(col string) int64 {
	s, ok := f.cell(col)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.fail(col, err)
	}
	return n
}

func (f *fields) time(col string) time.Time {
	s, ok := f.cell(col)
	if !ok {
		f.fail(col, errors.New("empty timestamp"))
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, f.loc)
	if err != nil {
		f.fail(col, err)
	}
	return t
}

func (f *fields) date(col string) time.Time {
	s, ok := f.cell(col)
	if !ok {
		f.fail(col, errors.New("empty date"))
		return time.Time{}
	}
	t, err := time.ParseInLocation(DateLayout, s, f.loc)
	if err != nil {
		f.fail(col, err)
	}
	return t
}
