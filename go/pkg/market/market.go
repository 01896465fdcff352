// Package market turns the YAML exchange definitions into the immutable
// calendar registry and contract book shared by the rest of the engine.
package market

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/contract"
	"market-bars/go/pkg/fixed"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed exchanges.yaml
var defaultDefinitions []byte

// Definitions bundles the process-wide exchange registry and template book.
type Definitions struct {
	Exchanges *calendar.Registry
	Templates *contract.Book
}

type date struct{ time.Time }

func (d *date) UnmarshalYAML(n *yaml.Node) error {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	d.Time = t
	return nil
}

type fileExchange struct {
	Name     string     `yaml:"name"`
	Timezone string     `yaml:"timezone"`
	Future   bool       `yaml:"future"`
	Sessions [][]string `yaml:"sessions"`
	Night    []string   `yaml:"night"`
	Holidays []string   `yaml:"holidays"`
	Closed   []date     `yaml:"closed"`
}

type fileStage struct {
	Market    string     `yaml:"market"`
	PriorDay  bool       `yaml:"prior_day"`
	ValidFrom *date      `yaml:"valid_from"`
	ValidTo   *date      `yaml:"valid_to"`
	Frames    [][]string `yaml:"frames"`
}

type fileTemplate struct {
	Exchange   string `yaml:"exchange"`
	Commodity  string `yaml:"commodity"`
	Format     string `yaml:"format"`
	PriceTick  string `yaml:"price_tick"`
	Multiplier int64  `yaml:"multiplier"`
	LastDay    struct {
		Day     int `yaml:"day"`
		Week    int `yaml:"week"`
		Weekday int `yaml:"weekday"`
	} `yaml:"last_day"`
	Slots  []string    `yaml:"slots"`
	Stages []fileStage `yaml:"stages"`
}

type file struct {
	DefaultExchange string            `yaml:"default_exchange"`
	HolidayGroups   map[string][]date `yaml:"holiday_groups"`
	Exchanges       []fileExchange    `yaml:"exchanges"`
	Templates       []fileTemplate    `yaml:"templates"`
}

// Default compiles the embedded definitions.
func Default(log *zap.Logger) (*Definitions, error) {
	return Parse(defaultDefinitions, nil, log)
}

// Load compiles definitions from path, or the embedded set when path is
// empty. holidaysPath optionally adds closed days (see LoadHolidays).
func Load(path, holidaysPath string, log *zap.Logger) (*Definitions, error) {
	data := defaultDefinitions
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read market definitions: %w", err)
		}
		data = b
	}
	var extra map[string][]time.Time
	if holidaysPath != "" {
		h, err := LoadHolidays(holidaysPath)
		if err != nil {
			return nil, err
		}
		extra = h
	}
	return Parse(data, extra, log)
}

// LoadHolidays reads a YAML map of exchange name to closed dates.
func LoadHolidays(path string) (map[string][]time.Time, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holidays: %w", err)
	}
	var raw map[string][]date
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse holidays: %w", err)
	}
	out := make(map[string][]time.Time, len(raw))
	for ex, ds := range raw {
		key := strings.ToUpper(ex)
		for _, d := range ds {
			out[key] = append(out[key], d.Time)
		}
	}
	return out, nil
}

// Parse compiles YAML definitions. extra adds closed days per exchange.
func Parse(data []byte, extra map[string][]time.Time, log *zap.Logger) (*Definitions, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse market definitions: %w", err)
	}

	exchanges := make([]*calendar.Exchange, 0, len(f.Exchanges))
	byName := make(map[string]*calendar.Exchange, len(f.Exchanges))
	for _, fe := range f.Exchanges {
		spec := calendar.ExchangeSpec{Name: fe.Name, Timezone: fe.Timezone, IsFuture: fe.Future}
		for _, s := range fe.Sessions {
			fr, err := parseFrame(s)
			if err != nil {
				return nil, fmt.Errorf("exchange %s: %w", fe.Name, err)
			}
			spec.Opens = append(spec.Opens, fr.Begin)
			spec.Closes = append(spec.Closes, fr.End)
		}
		if len(fe.Night) > 0 {
			fr, err := parseFrame(fe.Night)
			if err != nil {
				return nil, fmt.Errorf("exchange %s night: %w", fe.Name, err)
			}
			spec.Night = []calendar.TimeOfDay{fr.Begin, fr.End}
		}
		for _, g := range fe.Holidays {
			group, ok := f.HolidayGroups[g]
			if !ok {
				return nil, fmt.Errorf("exchange %s: unknown holiday group %q", fe.Name, g)
			}
			for _, d := range group {
				spec.ClosedDays = append(spec.ClosedDays, d.Time)
			}
		}
		for _, d := range fe.Closed {
			spec.ClosedDays = append(spec.ClosedDays, d.Time)
		}
		spec.ClosedDays = append(spec.ClosedDays, extra[strings.ToUpper(fe.Name)]...)

		ex, err := calendar.NewExchange(spec)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
		byName[strings.ToUpper(ex.Name)] = ex
	}

	reg, err := calendar.NewRegistry(exchanges, f.DefaultExchange, log)
	if err != nil {
		return nil, err
	}

	templates := make([]*contract.Template, 0, len(f.Templates))
	for _, ft := range f.Templates {
		ex, ok := byName[strings.ToUpper(ft.Exchange)]
		if !ok {
			return nil, fmt.Errorf("template %s: unknown exchange %q", ft.Commodity, ft.Exchange)
		}
		t, err := compileTemplate(ex, ft)
		if err != nil {
			return nil, fmt.Errorf("template %s.%s: %w", ft.Exchange, ft.Commodity, err)
		}
		templates = append(templates, t)
	}
	book, err := contract.NewBook(templates)
	if err != nil {
		return nil, err
	}

	log.Info("market definitions loaded",
		zap.Int("exchanges", len(exchanges)), zap.Int("templates", len(templates)))
	return &Definitions{Exchanges: reg, Templates: book}, nil
}

func compileTemplate(ex *calendar.Exchange, ft fileTemplate) (*contract.Template, error) {
	format, err := contract.ParseCodeFormat(ft.Format)
	if err != nil {
		return nil, err
	}
	tick := fixed.FromInt(1)
	if ft.PriceTick != "" {
		if tick, err = fixed.Parse(ft.PriceTick); err != nil {
			return nil, fmt.Errorf("price_tick: %w", err)
		}
	}
	mult := ft.Multiplier
	if mult <= 0 {
		mult = 1
	}
	t := &contract.Template{
		Exchange:   ex,
		Commodity:  ft.Commodity,
		Format:     format,
		Slots:      ft.Slots,
		PriceTick:  tick,
		Multiplier: mult,
		LastDay: contract.LastDayRule{
			Day:     ft.LastDay.Day,
			Week:    ft.LastDay.Week,
			Weekday: time.Weekday(ft.LastDay.Weekday),
		},
	}
	for _, fs := range ft.Stages {
		st := contract.TimeStage{Market: fs.Market, PriorDay: fs.PriorDay}
		if fs.ValidFrom != nil {
			st.ValidFrom = fs.ValidFrom.Time
		}
		if fs.ValidTo != nil {
			st.ValidTo = fs.ValidTo.Time
		}
		for _, raw := range fs.Frames {
			fr, err := parseFrame(raw)
			if err != nil {
				return nil, err
			}
			st.Frames = append(st.Frames, fr)
		}
		if len(st.Frames) == 0 {
			return nil, fmt.Errorf("stage %q has no frames", fs.Market)
		}
		t.Stages = append(t.Stages, st)
	}
	return t, nil
}

func parseFrame(raw []string) (contract.Frame, error) {
	if len(raw) != 2 {
		return contract.Frame{}, fmt.Errorf("frame %v: want [begin, end]", raw)
	}
	b, err := calendar.ParseTimeOfDay(raw[0])
	if err != nil {
		return contract.Frame{}, err
	}
	e, err := calendar.ParseTimeOfDay(raw[1])
	if err != nil {
		return contract.Frame{}, err
	}
	return contract.Frame{Begin: b, End: e}, nil
}
