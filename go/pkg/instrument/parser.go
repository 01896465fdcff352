package instrument

import (
	"regexp"
	"strings"

	"market-bars/go/pkg/calendar"
	"market-bars/go/pkg/fixed"
)

// Detail is what a Parser recognizes in a code.
type Detail struct {
	Kind   Kind
	Code   string
	Option *OptionDetail
	Combo  *ComboDetail
}

// Parser recognizes option and combo grammars. Parse returns false when the
// code is not in its grammar.
type Parser interface {
	Parse(ex *calendar.Exchange, code string) (Detail, bool)
}

var optionRE = regexp.MustCompile(`^([A-Za-z]+)(\d{3,4})-?([CPcp])-?(\d+(?:\.\d+)?)$`)

// OptionParser handles "m2105-C-3000" and "cu2105C50000" style codes.
type OptionParser struct{}

func (OptionParser) Parse(_ *calendar.Exchange, code string) (Detail, bool) {
	m := optionRE.FindStringSubmatch(code)
	if m == nil {
		return Detail{}, false
	}
	strike, err := fixed.Parse(m[4])
	if err != nil {
		return Detail{}, false
	}
	cp := strings.ToUpper(m[3])
	sep := ""
	if strings.Contains(code, "-") {
		sep = "-"
	}
	return Detail{
		Kind: Option,
		Code: m[1] + m[2] + sep + cp + sep + m[4],
		Option: &OptionDetail{
			Underlying: m[1] + m[2],
			Call:       cp == "C",
			Strike:     strike,
		},
	}, true
}

var comboRE = regexp.MustCompile(`^(SP|SPC|SPD|IPS)\s+([A-Za-z]+\d{3,4})&([A-Za-z]+\d{3,4})$`)

// ComboParser handles exchange spread codes such as "SP m2105&m2109".
type ComboParser struct{}

func (ComboParser) Parse(_ *calendar.Exchange, code string) (Detail, bool) {
	m := comboRE.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return Detail{}, false
	}
	return Detail{
		Kind:  Combo,
		Code:  m[1] + " " + m[2] + "&" + m[3],
		Combo: &ComboDetail{Strategy: m[1], Legs: []string{m[2], m[3]}},
	}, true
}

// DefaultParsers returns the built-in option and combo grammars.
func DefaultParsers() []Parser { return []Parser{ComboParser{}, OptionParser{}} }
