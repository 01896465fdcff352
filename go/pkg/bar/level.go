package bar

import (
	"fmt"
	"strconv"
	"strings"
)

// LevelKind separates time, volume and daily granularities.
type LevelKind int

const (
	Minute LevelKind = iota
	Volume
	Day
)

// Level is a bar granularity: N minutes, a volume threshold of N, or DAY.
type Level struct {
	Kind LevelKind
	N    int
}

var (
	MIN1  = Level{Minute, 1}
	MIN3  = Level{Minute, 3}
	MIN5  = Level{Minute, 5}
	MIN10 = Level{Minute, 10}
	MIN15 = Level{Minute, 15}
	MIN30 = Level{Minute, 30}
	MIN60 = Level{Minute, 60}
	DAY   = Level{Kind: Day}
)

var minuteLevels = map[int]bool{1: true, 3: true, 5: true, 10: true, 15: true, 30: true, 60: true}

// VOL returns the volume-threshold level VOLn.
func VOL(n int) Level { return Level{Volume, n} }

// ParseLevel accepts MIN1..MIN60, VOLn and DAY, case-insensitively.
func ParseLevel(s string) (Level, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch {
	case u == "DAY":
		return DAY, nil
	case strings.HasPrefix(u, "MIN"):
		n, err := strconv.Atoi(u[3:])
		if err != nil || !minuteLevels[n] {
			return Level{}, fmt.Errorf("unsupported level %q", s)
		}
		return Level{Minute, n}, nil
	case strings.HasPrefix(u, "VOL"):
		n, err := strconv.Atoi(u[3:])
		if err != nil || n <= 0 {
			return Level{}, fmt.Errorf("unsupported level %q", s)
		}
		return VOL(n), nil
	}
	return Level{}, fmt.Errorf("unsupported level %q", s)
}

func (l Level) String() string {
	switch l.Kind {
	case Minute:
		return "MIN" + strconv.Itoa(l.N)
	case Volume:
		return "VOL" + strconv.Itoa(l.N)
	default:
		return "DAY"
	}
}

// IsTime reports whether l is a minute level.
func (l Level) IsTime() bool { return l.Kind == Minute }

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
