// Package repository stores line-oriented tick and bar records per
// instrument, data kind and trading day.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market-bars/go/pkg/instrument"
)

// DataKind selects the record set.
type DataKind string

const (
	Ticks DataKind = "tick"
	Min1  DataKind = "min1"
	Days  DataKind = "day"
)

func ParseDataKind(s string) (DataKind, error) {
	switch k := DataKind(strings.ToLower(s)); k {
	case Ticks, Min1, Days:
		return k, nil
	}
	return "", fmt.Errorf("unknown data kind %q", s)
}

// Repository is the storage collaborator of the bar engine. Load returns
// faults.ErrMissingData when nothing is stored for the key. List returns
// days in ascending order.
type Repository interface {
	Exists(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) (bool, error)
	Load(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time) ([]byte, error)
	Save(ctx context.Context, inst *instrument.Instrument, kind DataKind, day time.Time, data []byte) error
	List(ctx context.Context, inst *instrument.Instrument, kind DataKind) ([]time.Time, error)
}

const dayKeyLayout = "20060102"

// dayKey uses the calendar fields of day, which are exchange-local.
func dayKey(day time.Time) string { return day.Format(dayKeyLayout) }

func parseDayKey(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dayKeyLayout, s, loc)
}
