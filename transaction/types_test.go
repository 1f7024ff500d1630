package transaction

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFieldMapAccessors(t *testing.T) {
	m := FieldMap{
		"tier":   "Premium",
		"amount": 125.5,
		"count":  "3",
		"empty":  nil,
	}

	if !m.Has("tier") || !m.Has("empty") {
		t.Error("Has should report present keys, nil values included")
	}
	if m.Has("missing") {
		t.Error("Has should report absent keys")
	}

	s, err := m.String("tier")
	if err != nil || s != "Premium" {
		t.Errorf("String(tier) = %q, %v", s, err)
	}
	if _, err := m.String("empty"); err == nil {
		t.Error("String on null should error")
	}

	n, err := m.Number("amount")
	if err != nil || n != 125.5 {
		t.Errorf("Number(amount) = %v, %v", n, err)
	}
	n, err = m.Number("count")
	if err != nil || n != 3 {
		t.Errorf("Number should parse numeric strings, got %v, %v", n, err)
	}
	if _, err := m.Number("tier"); err == nil {
		t.Error("Number on non-numeric string should error")
	}
	if _, err := m.Number("missing"); err == nil {
		t.Error("Number on missing field should error")
	}
}

func TestFieldMapTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := FieldMap{
		"native":  now,
		"rfc3339": "2024-06-01T12:00:00Z",
		"date":    "2024-06-01",
		"junk":    "yesterday",
	}

	got, err := m.Time("native")
	if err != nil || !got.Equal(now) {
		t.Errorf("Time(native) = %v, %v", got, err)
	}
	got, err = m.Time("rfc3339")
	if err != nil || !got.Equal(now) {
		t.Errorf("Time(rfc3339) = %v, %v", got, err)
	}
	if _, err := m.Time("date"); err != nil {
		t.Errorf("Time should accept bare dates: %v", err)
	}
	if _, err := m.Time("junk"); err == nil {
		t.Error("Time on unparseable value should error")
	}
}

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{125.5, 125.5, false},
		{int(3), 3, false},
		{int64(7), 7, false},
		{json.Number("42.5"), 42.5, false},
		{" 10 ", 10, false},
		{"abc", 0, true},
		{true, 0, true},
		{nil, 0, true},
	}

	for _, tt := range tests {
		got, err := CoerceNumber(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CoerceNumber(%v) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CoerceNumber(%v) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestFieldMapScanValueRoundTrip(t *testing.T) {
	m := FieldMap{"tier": "Premium", "amount": 125.5}

	raw, err := m.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}

	var out FieldMap
	if err := out.Scan(raw); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if out["tier"] != "Premium" {
		t.Errorf("round trip lost tier: %v", out)
	}

	var fromNil FieldMap
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if fromNil == nil {
		t.Error("Scan(nil) should produce an empty map")
	}
}
