package fixed

import (
	"encoding/json"
	"errors"
	"testing"

	"market-bars/go/pkg/faults"
)

func TestFromFloatRounding(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{1.23454, 12345},
		{1.23455, 12346},
		{-1.23455, -12346},
		{3800, 38000000},
		{0.00004, 0},
		{0.00005, 1},
	}
	for _, c := range cases {
		if got := FromFloat(c.in).Scaled(); got != c.want {
			t.Errorf("FromFloat(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestScaledRoundTrip(t *testing.T) {
	for _, raw := range []int64{0, 1, -1, 12345678, -98765432, 99999} {
		v := FromScaled(raw)
		if got := FromFloat(v.Float()); got != v {
			t.Errorf("round trip %d -> %d", raw, got)
		}
		p, err := Parse(v.String())
		if err != nil {
			t.Fatalf("parse %q: %v", v.String(), err)
		}
		if p != v {
			t.Errorf("string round trip %d: got %d", raw, p)
		}
	}
}

func TestDivideByZeroIsSentinel(t *testing.T) {
	v := FromInt(10).Div(Zero)
	if !v.IsNA() {
		t.Fatalf("expected sentinel, got %s", v)
	}
	if !errors.Is(v.Err(), faults.ErrNotApplicable) {
		t.Errorf("expected ErrNotApplicable, got %v", v.Err())
	}
	if got := v.Add(FromInt(1)); !got.IsNA() {
		t.Errorf("sentinel must propagate through Add, got %s", got)
	}
}

func TestArithmetic(t *testing.T) {
	a := MustParse("3801.5")
	b := MustParse("0.25")
	if got := a.Add(b).String(); got != "3801.75" {
		t.Errorf("add = %s", got)
	}
	if got := a.Sub(b).String(); got != "3801.25" {
		t.Errorf("sub = %s", got)
	}
	if got := a.Mul(b).String(); got != "950.3750" {
		t.Errorf("mul = %s", got)
	}
	if got := FromInt(10).Div(FromInt(3)).Scaled(); got != 33333 {
		t.Errorf("div = %d", got)
	}
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Error("cmp mismatch")
	}
}

func TestString(t *testing.T) {
	cases := map[int64]string{
		123400:  "12.34",
		123000:  "12.30",
		120000:  "12",
		123456:  "12.3456",
		-5000:   "-0.50",
		0:       "0",
		1:       "0.0001",
		int64(Max): "N/A",
	}
	for raw, want := range cases {
		if got := FromScaled(raw).String(); got != want {
			t.Errorf("String(%d) = %q, want %q", raw, got, want)
		}
	}
}

func TestSentinelTextRoundTrip(t *testing.T) {
	v, err := Parse(NAString)
	if err != nil {
		t.Fatal(err)
	}
	if v != Max {
		t.Fatalf("expected Max, got %d", v)
	}
	b, err := json.Marshal(struct {
		P Value `json:"p"`
	}{Max})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"p":"N/A"}` {
		t.Errorf("json = %s", b)
	}
	var out struct {
		P Value `json:"p"`
	}
	if err := json.Unmarshal([]byte(`{"p":12.5}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.P != FromScaled(125000) {
		t.Errorf("unmarshal number = %d", out.P)
	}
}
