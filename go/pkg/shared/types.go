package shared

import (
	"encoding/json"
	"errors"

	"market-bars/go/pkg/bar"
)

// TickMessage is the tick topic payload, keyed by instrument.
type TickMessage struct {
	Instrument string `json:"instrument"`
	bar.Tick
}

// BarMessage is the bar topic payload.
type BarMessage struct {
	Instrument string    `json:"instrument"`
	Level      bar.Level `json:"level"`
	bar.Bar
}

// DecodeTick parses a tick topic payload.
func DecodeTick(raw []byte) (TickMessage, error) {
	var m TickMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, err
	}
	if m.Instrument == "" {
		return m, errors.New("tick without instrument")
	}
	return m, nil
}

// Records turns messages into keyed producer records.
func Records[T interface{ Key() string }](msgs []T) ([]Record, error) {
	out := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Key: []byte(m.Key()), Value: raw})
	}
	return out, nil
}

func (m TickMessage) Key() string { return m.Instrument }

func (m BarMessage) Key() string { return m.Instrument }
