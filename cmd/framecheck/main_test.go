package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/star/orbview/internal/tle"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testOptions() options {
	return options{
		samples:   180,
		targets:   []float64{0, 30, 60, 90},
		tolerance: 5,
		minMotion: 14,
		maxMotion: 16,
	}
}

// inclined returns the ISS elements with the inclination field replaced.
func inclined(name string, inclDeg float64) tle.Record {
	return tle.Record{
		Name:  name,
		Line1: issLine1,
		Line2: issLine2[:8] + fmt.Sprintf("%8.4f", inclDeg) + issLine2[16:],
	}
}

func TestSelectPopulation(t *testing.T) {
	snap := tle.NewSnapshot([]tle.Record{
		inclined("A-02", 2),
		inclined("B-28", 28),
		inclined("C-33", 33),
		inclined("D-45", 45),
		inclined("E-97", 97.5),
		{Name: "GEO", Line1: issLine1, Line2: issLine2[:52] + " 1.00270000" + issLine2[63:]},
	}, time.Now())

	var got []string
	for _, p := range selectPopulation(snap, testOptions(), testLogger()) {
		got = append(got, p.Name())
	}
	want := []string{"A-02", "B-28"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("population = %v, want %v", got, want)
	}
}

func TestRunPasses(t *testing.T) {
	snap := tle.NewSnapshot([]tle.Record{
		inclined("EQ", 0),
		inclined("I30", 30),
		inclined("I60", 60),
		inclined("POLAR", 90),
		inclined("ISS", 51.64),
	}, time.Now())

	var out bytes.Buffer
	if err := run(&out, snap, testOptions(), testLogger()); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}

	report := out.String()
	for _, name := range []string{"EQ", "I30", "I60", "POLAR"} {
		if !strings.Contains(report, name) {
			t.Errorf("report missing %s:\n%s", name, report)
		}
	}
	if strings.Contains(report, "ISS") {
		t.Errorf("ISS should not be picked when I60 is closer to 60:\n%s", report)
	}
	if !strings.Contains(report, "correlation") {
		t.Errorf("report missing correlation line:\n%s", report)
	}
}

func TestRunTooFewObjects(t *testing.T) {
	snap := tle.NewSnapshot([]tle.Record{inclined("ONLY", 51.64)}, time.Now())
	if err := run(io.Discard, snap, testOptions(), testLogger()); err == nil {
		t.Fatal("expected error for a single object")
	}
}
