// Package bar synthesizes fixed-point OHLC bars from tick streams and
// persisted minute bars, at minute, volume and daily granularity.
package bar

import (
	"time"

	"market-bars/go/pkg/fixed"
)

// Tick is one market-data snapshot. Volume, Turnover and OpenInt are
// cumulative for the trading day; High and Low are running extremes.
type Tick struct {
	Time       time.Time   `json:"time"`
	Last       fixed.Value `json:"last"`
	High       fixed.Value `json:"high"`
	Low        fixed.Value `json:"low"`
	Volume     int64       `json:"volume"`
	Turnover   fixed.Value `json:"turnover"`
	OpenInt    int64       `json:"open_int"`
	Bid        fixed.Value `json:"bid"`
	Ask        fixed.Value `json:"ask"`
	UpperLimit fixed.Value `json:"upper_limit"`
	LowerLimit fixed.Value `json:"lower_limit"`
	AvgPrice   fixed.Value `json:"avg_price"`
}

// Bar is an immutable OHLC aggregate. Index is the position within the
// trading day. OpenInt is EndOpenInt - BeginOpenInt and may be negative.
type Bar struct {
	Index         int         `json:"index"`
	Begin         time.Time   `json:"begin_time"`
	End           time.Time   `json:"end_time"`
	Open          fixed.Value `json:"open"`
	High          fixed.Value `json:"high"`
	Low           fixed.Value `json:"low"`
	Close         fixed.Value `json:"close"`
	Avg           fixed.Value `json:"avg"`
	MktAvg        fixed.Value `json:"mkt_avg"`
	Volume        int64       `json:"volume"`
	Turnover      fixed.Value `json:"turnover"`
	OpenInt       int64       `json:"open_int"`
	BeginVolume   int64       `json:"begin_volume"`
	EndVolume     int64       `json:"end_volume"`
	BeginTurnover fixed.Value `json:"begin_turnover"`
	EndTurnover   fixed.Value `json:"end_turnover"`
	BeginOpenInt  int64       `json:"begin_open_int"`
	EndOpenInt    int64       `json:"end_open_int"`
	UpperLimit    fixed.Value `json:"upper_limit"`
	LowerLimit    fixed.Value `json:"lower_limit"`
}

// Series is the ordered output of a load. Days lists the trading days that
// contributed bars.
type Series struct {
	Instrument string      `json:"instrument"`
	Level      Level       `json:"level"`
	Bars       []Bar       `json:"bars"`
	Days       []time.Time `json:"days"`
}
