// Package instrument canonicalizes raw instrument strings into cached
// Instrument values with process-unique integer ids.
package instrument

import (
	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/contract"
	"market-bars/go/pkg/fixed"
)

// Kind tags the instrument variant.
type Kind int

const (
	Security Kind = iota
	Future
	Option
	Combo
)

func (k Kind) String() string {
	switch k {
	case Security:
		return "Security"
	case Future:
		return "Future"
	case Option:
		return "Option"
	case Combo:
		return "Combo"
	default:
		return "Unknown"
	}
}

// SecurityClass refines Security instruments by numeric code range.
type SecurityClass int

const (
	OtherSecurity SecurityClass = iota
	Stock
	Bond
	Fund
	Index
	ConvertibleBond
	Repo
)

func (c SecurityClass) String() string {
	return [...]string{"Other", "Stock", "Bond", "Fund", "Index", "ConvertibleBond", "Repo"}[c]
}

// OptionDetail is set for Option instruments.
type OptionDetail struct {
	Underlying string
	Call       bool
	Strike     fixed.Value
}

// ComboDetail is set for Combo instruments.
type ComboDetail struct {
	Strategy string
	Legs     []string
}

// Instrument is immutable once returned by a Registry. Two instruments are
// the same when their UIDs match.
type Instrument struct {
	Exchange   *calendar.Exchange
	ID         string
	Kind       Kind
	Commodity  string
	PriceTick  fixed.Value
	Multiplier int64
	UID        int64
	Template   *contract.Template

	Class  SecurityClass
	Option *OptionDetail
	Combo  *ComboDetail
}

// String is the canonical form "EXCHANGE.code".
func (i *Instrument) String() string { return i.Exchange.Name + "." + i.ID }

// Equal compares identity.
func (i *Instrument) Equal(o *Instrument) bool {
	return i != nil && o != nil && i.UID == o.UID
}
