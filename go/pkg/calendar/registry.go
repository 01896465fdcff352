package calendar

import (
	"fmt"
	"sort"
	"strings"

	"market-bars/go/pkg/faults"

	"go.uber.org/zap"
)

// Registry maps exchange names to their definitions.
type Registry struct {
	exchanges map[string]*Exchange
	def       *Exchange
	log       *zap.Logger
}

// NewRegistry freezes the exchange table. defaultName must be one of the
// supplied exchanges.
func NewRegistry(exchanges []*Exchange, defaultName string, log *zap.Logger) (*Registry, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{exchanges: make(map[string]*Exchange, len(exchanges)), log: log}
	for _, ex := range exchanges {
		key := strings.ToUpper(ex.Name)
		if _, dup := r.exchanges[key]; dup {
			return nil, fmt.Errorf("duplicate exchange %s", ex.Name)
		}
		r.exchanges[key] = ex
	}
	def, ok := r.exchanges[strings.ToUpper(defaultName)]
	if !ok {
		return nil, &faults.CalendarResolutionError{Exchange: defaultName, Reason: "default exchange not defined"}
	}
	r.def = def
	return r, nil
}

// Lookup is the strict resolver.
func (r *Registry) Lookup(name string) (*Exchange, error) {
	if ex, ok := r.exchanges[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return ex, nil
	}
	return nil, &faults.CalendarResolutionError{Exchange: name, Reason: "unknown exchange"}
}

// Exchange resolves name, substituting the default exchange for unknown
// names. The substitution is logged; callers that must not guess should use
// Lookup.
func (r *Registry) Exchange(name string) *Exchange {
	ex, err := r.Lookup(name)
	if err == nil {
		return ex
	}
	r.log.Warn("unknown exchange, using default",
		zap.String("exchange", name), zap.String("default", r.def.Name))
	return r.def
}

// Default returns the fallback exchange.
func (r *Registry) Default() *Exchange { return r.def }

// Exchanges lists definitions ordered by name.
func (r *Registry) Exchanges() []*Exchange {
	out := make([]*Exchange, 0, len(r.exchanges))
	for _, ex := range r.exchanges {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
