package tle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is a single satellite's two-line element set.
// The lines are fixed-width text and opaque to the cache.
type Record struct {
	Name  string `json:"name"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// NORADID returns the catalog number from line 1, columns 3-7.
func (r Record) NORADID() (int, error) {
	if len(r.Line1) < 7 {
		return 0, fmt.Errorf("line1 too short for NORAD id: %q", r.Line1)
	}
	id, err := strconv.Atoi(strings.TrimSpace(r.Line1[2:7]))
	if err != nil {
		return 0, fmt.Errorf("invalid NORAD id: %w", err)
	}
	return id, nil
}

// Epoch returns the element set epoch from line 1, columns 19-32.
func (r Record) Epoch() (time.Time, error) {
	if len(r.Line1) < 32 {
		return time.Time{}, fmt.Errorf("line1 too short for epoch: %q", r.Line1)
	}
	return parseEpoch(strings.TrimSpace(r.Line1[18:32]))
}

// InclinationDeg returns the inclination from line 2, columns 9-16.
func (r Record) InclinationDeg() (float64, error) {
	return r.line2Field(8, 16, "inclination")
}

// MeanMotion returns revolutions per day from line 2, columns 53-63.
func (r Record) MeanMotion() (float64, error) {
	return r.line2Field(52, 63, "mean motion")
}

// Period returns the orbital period derived from the mean motion.
func (r Record) Period() (time.Duration, error) {
	n, err := r.MeanMotion()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("non-positive mean motion %v", n)
	}
	return time.Duration(float64(24*time.Hour) / n), nil
}

func (r Record) line2Field(from, to int, what string) (float64, error) {
	if len(r.Line2) < to {
		return 0, fmt.Errorf("line2 too short for %s: %q", what, r.Line2)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Line2[from:to]), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", what, err)
	}
	return v, nil
}

// Snapshot is a complete TLE download. DownloadedAt covers every record;
// there is no per-record freshness.
type Snapshot struct {
	Data         map[string]Record
	DownloadedAt time.Time

	// Source is where the snapshot was loaded from ("cache", "redis" or a
	// download URL). Not persisted.
	Source string
}

// NewSnapshot keys records by trimmed name. A later record with the same name
// replaces an earlier one.
func NewSnapshot(records []Record, downloadedAt time.Time) *Snapshot {
	data := make(map[string]Record, len(records))
	for _, r := range records {
		r.Name = strings.TrimSpace(r.Name)
		data[r.Name] = r
	}
	return &Snapshot{Data: data, DownloadedAt: downloadedAt}
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Data)
}

// Age returns how long ago the snapshot was downloaded.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.DownloadedAt)
}

// snapshotFile is the persisted JSON layout:
//
//	{"data": {"ISS": {"name": "ISS", "line1": "...", "line2": "..."}}, "downloaded_at": 1760000000}
type snapshotFile struct {
	Data         map[string]Record `json:"data"`
	DownloadedAt *int64            `json:"downloaded_at"`
}

func (s *Snapshot) toFile() snapshotFile {
	ts := s.DownloadedAt.Unix()
	data := s.Data
	if data == nil {
		data = map[string]Record{}
	}
	return snapshotFile{Data: data, DownloadedAt: &ts}
}

func (f snapshotFile) validate() error {
	if f.Data == nil {
		return fmt.Errorf("missing data")
	}
	if f.DownloadedAt == nil {
		return fmt.Errorf("missing downloaded_at")
	}
	return nil
}

func (f snapshotFile) toSnapshot(source string) *Snapshot {
	return &Snapshot{
		Data:         f.Data,
		DownloadedAt: time.Unix(*f.DownloadedAt, 0).UTC(),
		Source:       source,
	}
}
