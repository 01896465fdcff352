// Package fixed implements the scaled-integer price type used in every tick,
// bar and day record. The scale is part of the archive format.
package fixed

import (
	"math"
	"strconv"
	"strings"

	"market-bars/go/pkg/faults"

	"github.com/shopspring/decimal"
)

// Scale is the number of scaled units per whole unit (4 decimal digits).
const Scale = 10000

// Value is a price or amount scaled by Scale.
type Value int64

// Max is the "not applicable" sentinel. It renders as NAString and is the
// result of division by zero or of any operation on a sentinel operand.
const Max Value = math.MaxInt64

// NAString is the textual form of Max.
const NAString = "N/A"

// Zero is the zero value.
const Zero Value = 0

// FromScaled wraps an already scaled integer.
func FromScaled(v int64) Value { return Value(v) }

// FromInt converts a whole number.
func FromInt(i int64) Value { return Value(i * Scale) }

// maxWhole bounds the magnitude FromFloat accepts.
const maxWhole = float64(math.MaxInt64 / Scale)

// FromFloat quantizes f with round-half-up on the fifth fractional digit,
// working from the shortest decimal form of f so 1.23455 rounds to 1.2346.
// Negative values round half away from zero. NaN, infinities and values
// outside the representable range map to Max.
func FromFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= maxWhole {
		return Max
	}
	return FromDecimal(decimal.NewFromFloat(f))
}

// Parse reads a decimal literal or NAString.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, nil
	}
	if s == NAString {
		return Max, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, err
	}
	return FromDecimal(d), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromDecimal quantizes d to 4 digits, rounding half away from zero.
func FromDecimal(d decimal.Decimal) Value {
	scaled := d.Shift(4).Round(0)
	if !scaled.IsInteger() || scaled.Cmp(decimal.NewFromInt(math.MaxInt64)) >= 0 ||
		scaled.Cmp(decimal.NewFromInt(math.MinInt64)) <= 0 {
		return Max
	}
	return Value(scaled.IntPart())
}

// Decimal returns the exact decimal value. Max has no decimal value and
// returns zero.
func (v Value) Decimal() decimal.Decimal {
	if v.IsNA() {
		return decimal.Zero
	}
	return decimal.New(int64(v), -4)
}

// Scaled returns the raw scaled integer.
func (v Value) Scaled() int64 { return int64(v) }

// Float returns the value as float64.
func (v Value) Float() float64 { return float64(v) / Scale }

// IsNA reports whether v is the sentinel.
func (v Value) IsNA() bool { return v == Max }

// Valid reports whether v is a usable positive price.
func (v Value) Valid() bool { return v > 0 && v != Max }

// Err returns faults.ErrNotApplicable for the sentinel and nil otherwise.
func (v Value) Err() error {
	if v.IsNA() {
		return faults.ErrNotApplicable
	}
	return nil
}

// Add returns v+o, or Max when either side is N/A.
func (v Value) Add(o Value) Value {
	if v.IsNA() || o.IsNA() {
		return Max
	}
	return FromFloat(v.Float() + o.Float())
}

// Sub returns v-o, or Max when either side is N/A.
func (v Value) Sub(o Value) Value {
	if v.IsNA() || o.IsNA() {
		return Max
	}
	return FromFloat(v.Float() - o.Float())
}

// Mul returns v*o, or Max when either side is N/A.
func (v Value) Mul(o Value) Value {
	if v.IsNA() || o.IsNA() {
		return Max
	}
	return FromFloat(v.Float() * o.Float())
}

// Div returns Max when o is zero.
func (v Value) Div(o Value) Value {
	if v.IsNA() || o.IsNA() || o == 0 {
		return Max
	}
	return FromFloat(v.Float() / o.Float())
}

// MulInt multiplies by a whole quantity.
func (v Value) MulInt(n int64) Value { return v.Mul(FromInt(n)) }

// DivInt divides by a whole quantity.
func (v Value) DivInt(n int64) Value { return v.Div(FromInt(n)) }

// Cmp compares scaled integers: -1, 0 or +1.
func (v Value) Cmp(o Value) int {
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	default:
		return 0
	}
}

// Max2 returns the larger of v and o.
func Max2(v, o Value) Value {
	if o > v {
		return o
	}
	return v
}

// Min2 returns the smaller of v and o.
func Min2(v, o Value) Value {
	if o < v {
		return o
	}
	return v
}

// String renders the value with trailing zero pairs trimmed from the
// fraction: 12.3400 -> "12.34", 12.3000 -> "12.30", 12.0000 -> "12".
func (v Value) String() string {
	if v.IsNA() {
		return NAString
	}
	n := int64(v)
	neg := n < 0
	u := uint64(n)
	if neg {
		u = uint64(-n)
	}
	whole := u / Scale
	frac := u % Scale

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatUint(whole, 10))
	fs := strconv.FormatUint(frac+Scale, 10)[1:]
	for len(fs) > 0 && strings.HasSuffix(fs, "00") {
		fs = fs[:len(fs)-2]
	}
	if fs != "" {
		b.WriteByte('.')
		b.WriteString(fs)
	}
	return b.String()
}

// MarshalJSON writes a JSON number, or the string "N/A" for the sentinel.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNA() {
		return []byte(`"` + NAString + `"`), nil
	}
	return []byte(v.String()), nil
}

// UnmarshalJSON accepts numbers and quoted strings.
func (v *Value) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		*v = Zero
		return nil
	}
	p, err := Parse(s)
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// MarshalText is used by the tabular codecs and YAML.
func (v Value) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText parses the textual form.
func (v *Value) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}
