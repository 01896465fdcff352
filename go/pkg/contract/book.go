package contract

import (
	"fmt"
	"sort"
	"strings"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/faults"
)

// Book holds every template, keyed by exchange and then by commodity,
// exact instrument or Wildcard. It is immutable after NewBook.
type Book struct {
	byExchange map[string]map[string]*Template
}

// NewBook indexes templates and rejects unknown month slots up front.
func NewBook(templates []*Template) (*Book, error) {
	b := &Book{byExchange: make(map[string]map[string]*Template)}
	for _, t := range templates {
		if t.Exchange == nil {
			return nil, fmt.Errorf("template %s: exchange required", t.Commodity)
		}
		for _, slot := range t.Slots {
			if !KnownSlot(slot) {
				return nil, &faults.CalendarResolutionError{
					Exchange: t.Exchange.Name, Code: t.Commodity,
					Reason: fmt.Sprintf("unsupported month slot %q", slot),
				}
			}
		}
		exKey := strings.ToUpper(t.Exchange.Name)
		m := b.byExchange[exKey]
		if m == nil {
			m = make(map[string]*Template)
			b.byExchange[exKey] = m
		}
		if _, dup := m[t.Commodity]; dup {
			return nil, fmt.Errorf("duplicate template %s.%s", t.Exchange.Name, t.Commodity)
		}
		m[t.Commodity] = t
	}
	return b, nil
}

// Resolve finds the template for an instrument code or bare commodity:
// exact code first, then the upper-case commodity prefix, then the
// lower-case prefix, then the exchange wildcard.
func (b *Book) Resolve(ex *calendar.Exchange, code string) (*Template, error) {
	m := b.byExchange[strings.ToUpper(ex.Name)]
	if m == nil {
		return nil, &faults.CalendarResolutionError{Exchange: ex.Name, Code: code, Reason: "no templates for exchange"}
	}
	if t, ok := m[code]; ok {
		return t, nil
	}
	prefix := CommodityOf(code)
	if t, ok := m[strings.ToUpper(prefix)]; ok && prefix != "" {
		return t, nil
	}
	if t, ok := m[strings.ToLower(prefix)]; ok && prefix != "" {
		return t, nil
	}
	if t, ok := m[Wildcard]; ok {
		return t, nil
	}
	return nil, &faults.CalendarResolutionError{Exchange: ex.Name, Code: code, Reason: "no session template"}
}

// Templates lists an exchange's templates ordered by key.
func (b *Book) Templates(ex *calendar.Exchange) []*Template {
	m := b.byExchange[strings.ToUpper(ex.Name)]
	out := make([]*Template, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Commodity < out[j].Commodity })
	return out
}

// CommodityCase returns prefix in the casing registered for the exchange,
// or prefix unchanged when no template matches it.
func (b *Book) CommodityCase(ex *calendar.Exchange, prefix string) string {
	m := b.byExchange[strings.ToUpper(ex.Name)]
	if _, ok := m[strings.ToUpper(prefix)]; ok {
		return strings.ToUpper(prefix)
	}
	if _, ok := m[strings.ToLower(prefix)]; ok {
		return strings.ToLower(prefix)
	}
	return prefix
}
