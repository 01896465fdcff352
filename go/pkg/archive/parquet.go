// Package archive exports bar series as Parquet files for offline analysis.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/fixed"

	"github.com/parquet-go/parquet-go"
)

// Row is one bar in flat form. Prices keep their scaled integer value so the
// archive is lossless; the float columns are for tools that cannot rescale.
type Row struct {
	Instrument string `parquet:"instrument,dict"`
	Level      string `parquet:"level,dict"`
	Index      int64  `parquet:"index"`
	BeginMS    int64  `parquet:"begin_ms"`
	EndMS      int64  `parquet:"end_ms"`

	Open     int64 `parquet:"open"`
	High     int64 `parquet:"high"`
	Low      int64 `parquet:"low"`
	Close    int64 `parquet:"close"`
	Avg      int64 `parquet:"avg"`
	Volume   int64 `parquet:"volume"`
	Turnover int64 `parquet:"turnover"`
	OpenInt  int64 `parquet:"open_int"`

	OpenF  float64 `parquet:"open_f"`
	HighF  float64 `parquet:"high_f"`
	LowF   float64 `parquet:"low_f"`
	CloseF float64 `parquet:"close_f"`
	AvgF   float64 `parquet:"avg_f,optional"`
}

// Rows flattens a series. Avg is left null in the float column when N/A.
func Rows(s *bar.Series) []Row {
	out := make([]Row, 0, len(s.Bars))
	level := s.Level.String()
	for _, b := range s.Bars {
		r := Row{
			Instrument: s.Instrument,
			Level:      level,
			Index:      int64(b.Index),
			BeginMS:    b.Begin.UnixMilli(),
			EndMS:      b.End.UnixMilli(),
			Open:       b.Open.Scaled(),
			High:       b.High.Scaled(),
			Low:        b.Low.Scaled(),
			Close:      b.Close.Scaled(),
			Avg:        b.Avg.Scaled(),
			Volume:     b.Volume,
			Turnover:   b.Turnover.Scaled(),
			OpenInt:    b.OpenInt,
			OpenF:      b.Open.Float(),
			HighF:      b.High.Float(),
			LowF:       b.Low.Float(),
			CloseF:     b.Close.Float(),
		}
		if !b.Avg.IsNA() {
			r.AvgF = b.Avg.Float()
		}
		out = append(out, r)
	}
	return out
}

// Bar rebuilds the bar fields a row carries, in loc.
func (r Row) Bar(loc *time.Location) bar.Bar {
	return bar.Bar{
		Index:    int(r.Index),
		Begin:    time.UnixMilli(r.BeginMS).In(loc),
		End:      time.UnixMilli(r.EndMS).In(loc),
		Open:     fixed.FromScaled(r.Open),
		High:     fixed.FromScaled(r.High),
		Low:      fixed.FromScaled(r.Low),
		Close:    fixed.FromScaled(r.Close),
		Avg:      fixed.FromScaled(r.Avg),
		Volume:   r.Volume,
		Turnover: fixed.FromScaled(r.Turnover),
		OpenInt:  r.OpenInt,
	}
}

// Path is the conventional archive location of a series inside root.
func Path(root string, s *bar.Series, from, to time.Time) string {
	name := fmt.Sprintf("%s_%s_%s.parquet", s.Level, from.Format("20060102"), to.Format("20060102"))
	return filepath.Join(root, s.Instrument, name)
}

// WriteParquet writes the series to path, creating parent directories.
func WriteParquet(path string, s *bar.Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, Rows(s)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// ReadParquet reads back the rows of an archive file.
func ReadParquet(path string) ([]Row, error) {
	rows, err := parquet.ReadFile[Row](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
