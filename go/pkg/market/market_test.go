package market

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultDefinitions(t *testing.T) {
	defs, err := Default(nil)
	if err != nil {
		t.Fatalf("default definitions: %v", err)
	}
	shfe, err := defs.Exchanges.Lookup("SHFE")
	if err != nil {
		t.Fatal(err)
	}
	if !shfe.IsFuture || !shfe.HasNight {
		t.Errorf("SHFE should be a futures exchange with a night session")
	}
	if shfe.IsMarketDay(shfe.Day(2021, 10, 1)) {
		t.Error("2021-10-01 should be closed")
	}
	rb, err := defs.Templates.Resolve(shfe, "rb2105")
	if err != nil {
		t.Fatal(err)
	}
	if rb.Multiplier != 10 || len(rb.Stages) != 2 || !rb.Stages[0].PriorDay {
		t.Errorf("unexpected rb template: %+v", rb)
	}
	czce, _ := defs.Exchanges.Lookup("CZCE")
	sr, err := defs.Templates.Resolve(czce, "sr105")
	if err != nil || sr.Commodity != "SR" {
		t.Fatalf("SR template: %v %v", sr, err)
	}
	sse, _ := defs.Exchanges.Lookup("SSE")
	if sse.IsFuture {
		t.Error("SSE is not a futures exchange")
	}
}

func TestExtraHolidays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holidays.yaml")
	if err := os.WriteFile(path, []byte("shfe:\n  - 2021-03-10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	defs, err := Load("", path, nil)
	if err != nil {
		t.Fatal(err)
	}
	shfe, _ := defs.Exchanges.Lookup("SHFE")
	if shfe.IsMarketDay(time.Date(2021, 3, 10, 0, 0, 0, 0, shfe.Location)) {
		t.Error("extra holiday not applied")
	}
	dce, _ := defs.Exchanges.Lookup("DCE")
	if !dce.IsMarketDay(time.Date(2021, 3, 10, 0, 0, 0, 0, dce.Location)) {
		t.Error("extra holiday leaked to another exchange")
	}
}

func TestParseRejectsUnknownSlot(t *testing.T) {
	doc := []byte(`
default_exchange: X
exchanges:
  - name: X
    timezone: UTC
    sessions: [["09:00", "15:00"]]
templates:
  - exchange: X
    commodity: "*"
    slots: [Sometime]
    stages:
      - market: day
        frames: [["09:00", "15:00"]]
`)
	if _, err := Parse(doc, nil, nil); err == nil {
		t.Fatal("expected error for unknown slot")
	}
}
