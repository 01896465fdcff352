package instrument

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/contract"

	"go.uber.org/zap"
)

// Registry caches canonical instruments. Lookups of resolved instruments are
// lock-free; first resolution takes the id-table lock.
type Registry struct {
	exchanges *calendar.Registry
	book      *contract.Book
	parsers   []Parser
	log       *zap.Logger

	cache sync.Map // canonical string -> *Instrument

	mu   sync.Mutex
	uids map[string]int64
	next int64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithParsers replaces the option/combo grammars.
func WithParsers(p ...Parser) RegistryOption {
	return func(r *Registry) { r.parsers = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry builds an empty registry over the given definitions.
func NewRegistry(exchanges *calendar.Registry, book *contract.Book, opts ...RegistryOption) *Registry {
	r := &Registry{
		exchanges: exchanges,
		book:      book,
		parsers:   DefaultParsers(),
		log:       zap.NewNop(),
		uids:      make(map[string]int64),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve parses "EXCHANGE.code". A string without an exchange part uses
// the default exchange. A prefix holding digits that names no registered
// exchange is part of the code, as in "au2106C400.5".
func (r *Registry) Resolve(raw string) (*Instrument, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty instrument")
	}
	ex, code := r.exchanges.Default(), raw
	if i := strings.IndexByte(raw, '.'); i > 0 && !strings.Contains(raw[:i], " ") {
		prefix := raw[:i]
		if known, err := r.exchanges.Lookup(prefix); err == nil {
			ex, code = known, raw[i+1:]
		} else if !strings.ContainsAny(prefix, "0123456789") {
			ex, code = r.exchanges.Exchange(prefix), raw[i+1:]
		}
	}
	return r.Get(ex, code)
}

// Get resolves code on a known exchange.
func (r *Registry) Get(ex *calendar.Exchange, code string) (*Instrument, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("empty instrument code")
	}
	detail := r.classify(ex, code)
	canonical := ex.Name + "." + detail.Code

	if v, ok := r.cache.Load(canonical); ok {
		return v.(*Instrument), nil
	}

	tplCode := detail.Code
	switch {
	case detail.Option != nil:
		tplCode = detail.Option.Underlying
	case detail.Combo != nil:
		tplCode = detail.Combo.Legs[0]
	}
	tpl, err := r.book.Resolve(ex, tplCode)
	if err != nil {
		return nil, err
	}

	inst := &Instrument{
		Exchange:   ex,
		ID:         detail.Code,
		Kind:       detail.Kind,
		Commodity:  contract.CommodityOf(tplCode),
		PriceTick:  tpl.PriceTick,
		Multiplier: tpl.Multiplier,
		Template:   tpl,
		Option:     detail.Option,
		Combo:      detail.Combo,
	}
	if inst.Kind == Security {
		inst.Class = classifySecurity(ex.Name, detail.Code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache.Load(canonical); ok {
		return v.(*Instrument), nil
	}
	inst.UID = r.uidLocked(canonical)
	r.cache.Store(canonical, inst)
	r.log.Debug("instrument resolved",
		zap.String("instrument", canonical), zap.Int64("uid", inst.UID), zap.String("kind", inst.Kind.String()))
	return inst, nil
}

// UID returns the unique id for a canonical string, assigning one on first
// use.
func (r *Registry) UID(canonical string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uidLocked(canonical)
}

func (r *Registry) uidLocked(canonical string) int64 {
	if id, ok := r.uids[canonical]; ok {
		return id
	}
	r.next++
	r.uids[canonical] = r.next
	return r.next
}

// MustResolve is Resolve for tests and static configuration.
func (r *Registry) MustResolve(raw string) *Instrument {
	inst, err := r.Resolve(raw)
	if err != nil {
		panic(fmt.Sprintf("resolve %s: %v", raw, err))
	}
	return inst
}

func (r *Registry) classify(ex *calendar.Exchange, code string) Detail {
	for _, p := range r.parsers {
		if d, ok := p.Parse(ex, code); ok {
			d.Code = r.normalize(ex, d.Code)
			if d.Option != nil {
				d.Option.Underlying = r.normalize(ex, d.Option.Underlying)
			}
			if d.Combo != nil {
				for i, leg := range d.Combo.Legs {
					d.Combo.Legs[i] = r.normalize(ex, leg)
				}
			}
			return d
		}
	}
	if ex.IsFuture {
		return Detail{Kind: Future, Code: r.normalize(ex, code)}
	}
	return Detail{Kind: Security, Code: code}
}

// normalize rewrites the commodity prefix of code to the exchange casing.
func (r *Registry) normalize(ex *calendar.Exchange, code string) string {
	if strings.ContainsAny(code, " &") {
		head, rest, _ := strings.Cut(code, " ")
		legs := strings.Split(rest, "&")
		for i, l := range legs {
			legs[i] = r.normalize(ex, l)
		}
		return head + " " + strings.Join(legs, "&")
	}
	prefix := contract.CommodityOf(code)
	if prefix == "" {
		return code
	}
	return r.book.CommodityCase(ex, prefix) + code[len(prefix):]
}

type classRange struct {
	prefix string
	class  SecurityClass
}

var securityClasses = map[string][]classRange{
	"SSE": {
		{"204", Repo},
		{"110", ConvertibleBond}, {"111", ConvertibleBond}, {"113", ConvertibleBond}, {"118", ConvertibleBond},
		{"600", Stock}, {"601", Stock}, {"603", Stock}, {"605", Stock}, {"688", Stock}, {"689", Stock},
		{"000", Index},
		{"50", Fund}, {"51", Fund}, {"52", Fund}, {"56", Fund}, {"58", Fund},
		{"01", Bond}, {"02", Bond}, {"10", Bond},
	},
	"SZSE": {
		{"131", Repo},
		{"123", ConvertibleBond}, {"127", ConvertibleBond}, {"128", ConvertibleBond},
		{"399", Index},
		{"000", Stock}, {"001", Stock}, {"002", Stock}, {"003", Stock}, {"300", Stock}, {"301", Stock},
		{"15", Fund}, {"16", Fund}, {"18", Fund},
		{"10", Bond}, {"11", Bond},
	},
}

// classifySecurity matches code against the exchange's prefix table. Longer
// prefixes are listed first.
func classifySecurity(exchange, code string) SecurityClass {
	for _, cr := range securityClasses[strings.ToUpper(exchange)] {
		if strings.HasPrefix(code, cr.prefix) {
			return cr.class
		}
	}
	return OtherSecurity
}
