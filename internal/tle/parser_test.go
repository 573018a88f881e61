package tle

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	input := "\r\n" + issText + "\n\n" +
		"BROKEN ENTRY\nnot a line\n" +
		starlinkText +
		"TRAILING NAME\n" + issLine1 + "\n"

	records, err := Parse(strings.NewReader(input), testLogger)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}
	if records[0].Name != "ISS (ZARYA)" || records[1].Name != "STARLINK-1007" {
		t.Errorf("names = %q, %q", records[0].Name, records[1].Name)
	}
}

func TestNewSnapshotDuplicateNames(t *testing.T) {
	snap := NewSnapshot([]Record{
		{Name: "DEB ", Line1: "first", Line2: "first"},
		{Name: "DEB", Line1: "second", Line2: "second"},
	}, t0)

	if snap.Len() != 1 {
		t.Fatalf("len = %d, want 1", snap.Len())
	}
	if got := snap.Data["DEB"].Line1; got != "second" {
		t.Errorf("line1 = %q, want the later record", got)
	}
}

func TestRecordFields(t *testing.T) {
	r := Record{Name: "ISS", Line1: issLine1, Line2: issLine2}

	id, err := r.NORADID()
	if err != nil || id != 25544 {
		t.Errorf("NORADID = %d, %v", id, err)
	}

	inc, err := r.InclinationDeg()
	if err != nil || inc != 51.64 {
		t.Errorf("InclinationDeg = %v, %v", inc, err)
	}

	n, err := r.MeanMotion()
	if err != nil || n != 15.5 {
		t.Errorf("MeanMotion = %v, %v", n, err)
	}

	period, err := r.Period()
	if err != nil {
		t.Fatalf("Period: %v", err)
	}
	if want := time.Duration(float64(24*time.Hour) / n); period != want {
		t.Errorf("Period = %v, want %v", period, want)
	}

	epoch, err := r.Epoch()
	if err != nil {
		t.Fatalf("Epoch: %v", err)
	}
	// Day 100.5 of 2024 (leap year) is April 9, 12:00 UTC.
	if want := time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC); !epoch.Equal(want) {
		t.Errorf("Epoch = %v, want %v", epoch, want)
	}
}

func TestRecordFieldErrors(t *testing.T) {
	short := Record{Name: "X", Line1: "1 2", Line2: "2 2"}
	if _, err := short.NORADID(); err == nil {
		t.Error("expected NORADID error for short line")
	}
	if _, err := short.Epoch(); err == nil {
		t.Error("expected Epoch error for short line")
	}
	if _, err := short.InclinationDeg(); err == nil {
		t.Error("expected InclinationDeg error for short line")
	}

	zero := Record{Line2: strings.Replace(issLine2, "15.50000000", " 0.00000000", 1)}
	if _, err := zero.Period(); err == nil {
		t.Error("expected Period error for zero mean motion")
	}
}

func TestParseEpoch(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"24001.00000000", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"57001.50000000", time.Date(1957, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"56365.00000000", time.Date(2056, 12, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseEpoch(tt.in)
		if err != nil {
			t.Fatalf("parseEpoch(%q): %v", tt.in, err)
		}
		if diff := math.Abs(got.Sub(tt.want).Seconds()); diff > 1e-3 {
			t.Errorf("parseEpoch(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "24", "xx001.0", "24abc"} {
		if _, err := parseEpoch(bad); err == nil {
			t.Errorf("parseEpoch(%q) expected error", bad)
		}
	}
}
