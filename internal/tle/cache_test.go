package tle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
	"time"
)

const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"

	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05"
)

var t0 = time.Unix(1760000000, 0).UTC()

func testSnapshot(at time.Time) *Snapshot {
	return NewSnapshot([]Record{
		{Name: "ISS", Line1: issLine1, Line2: issLine2},
		{Name: "STARLINK-1007", Line1: starlinkLine1, Line2: starlinkLine2},
	}, at)
}

// testCache returns a FileCache in a temp dir whose clock is controlled by *now.
func testCache(t *testing.T, now *time.Time) *FileCache {
	t.Helper()
	c := NewFileCache(FileCacheConfig{
		Path:   filepath.Join(t.TempDir(), "cache", "tle_cache.json"),
		MaxAge: 24 * time.Hour,
	})
	c.now = func() time.Time { return *now }
	return c
}

func assertMiss(t *testing.T, err error, reason MissReason) {
	t.Helper()
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	var miss *MissError
	if !errors.As(err, &miss) {
		t.Fatalf("expected *MissError, got %T", err)
	}
	if miss.Reason != reason {
		t.Errorf("miss reason = %q, want %q", miss.Reason, reason)
	}
	if IsStorageError(err) {
		t.Error("a miss must not be reported as a storage error")
	}
}

func TestFileCacheDefaults(t *testing.T) {
	c := NewFileCache(FileCacheConfig{})
	if c.Path() != filepath.Join("cache", "tle_cache.json") {
		t.Errorf("default path = %q", c.Path())
	}
	if c.MaxAge() != 24*time.Hour {
		t.Errorf("default max age = %v", c.MaxAge())
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	now := t0
	c := testCache(t, &now)
	ctx := context.Background()

	want := testSnapshot(t0)
	if err := c.Store(ctx, want); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Data, want.Data) {
		t.Errorf("data mismatch:\n got  %+v\n want %+v", got.Data, want.Data)
	}
	if !got.DownloadedAt.Equal(want.DownloadedAt) {
		t.Errorf("downloaded_at = %v, want %v", got.DownloadedAt, want.DownloadedAt)
	}
	if got.Source != "cache" {
		t.Errorf("source = %q, want cache", got.Source)
	}
}

// TestFileCacheISSScenario stores an ISS record, loads it back immediately,
// then advances the clock 25 hours past a 24 hour window.
func TestFileCacheISSScenario(t *testing.T) {
	now := t0
	c := testCache(t, &now)
	ctx := context.Background()

	snap := &Snapshot{
		Data: map[string]Record{
			"ISS": {Name: "ISS", Line1: "1 25544U...", Line2: "2 25544..."},
		},
		DownloadedAt: t0,
	}
	if err := c.Store(ctx, snap); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec, ok := got.Data["ISS"]; !ok || rec != snap.Data["ISS"] {
		t.Fatalf("ISS record = %+v (present=%v), want %+v", rec, ok, snap.Data["ISS"])
	}

	now = t0.Add(25 * time.Hour)
	_, err = c.Load(ctx)
	assertMiss(t, err, MissExpired)
}

func TestFileCacheExpiryBoundary(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		wantHit bool
	}{
		{"just stored", 0, true},
		{"one second before window", 24*time.Hour - time.Second, true},
		{"exactly at window", 24 * time.Hour, false},
		{"one second past window", 24*time.Hour + time.Second, false},
		{"timestamp in the future", -time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := t0
			c := testCache(t, &now)
			ctx := context.Background()

			if err := c.Store(ctx, testSnapshot(t0)); err != nil {
				t.Fatalf("Store: %v", err)
			}

			now = t0.Add(tt.age)
			_, err := c.Load(ctx)
			if tt.wantHit {
				if err != nil {
					t.Fatalf("expected hit, got %v", err)
				}
				return
			}
			assertMiss(t, err, MissExpired)
		})
	}
}

func TestFileCacheAbsent(t *testing.T) {
	now := t0
	c := testCache(t, &now)

	_, err := c.Load(context.Background())
	assertMiss(t, err, MissAbsent)
}

func TestFileCacheCorrupt(t *testing.T) {
	full := `{"data": {"ISS": {"name": "ISS", "line1": "l1", "line2": "l2"}}, "downloaded_at": 1760000000}`

	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"truncated", full[:len(full)/2]},
		{"not json", "ISS (ZARYA)\n1 25544U\n2 25544\n"},
		{"wrong shape", `[1, 2, 3]`},
		{"missing downloaded_at", `{"data": {}}`},
		{"missing data", `{"downloaded_at": 1760000000}`},
		{"string timestamp", `{"data": {}, "downloaded_at": "yesterday"}`},
		{"binary garbage", "\x00\xff\x10\x80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := t0
			c := testCache(t, &now)
			if err := os.MkdirAll(filepath.Dir(c.Path()), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(c.Path(), []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := c.Load(context.Background())
			assertMiss(t, err, MissCorrupt)
		})
	}

	t.Run("complete file still loads", func(t *testing.T) {
		now := t0
		c := testCache(t, &now)
		os.MkdirAll(filepath.Dir(c.Path()), 0755)
		if err := os.WriteFile(c.Path(), []byte(full), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := c.Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Len() != 1 {
			t.Errorf("len = %d, want 1", got.Len())
		}
	})
}

func TestFileCacheClear(t *testing.T) {
	now := t0
	c := testCache(t, &now)
	ctx := context.Background()

	// Clearing with no cache is not an error.
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear on empty cache: %v", err)
	}

	if err := c.Store(ctx, testSnapshot(t0)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, err := c.Load(ctx)
	assertMiss(t, err, MissAbsent)

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestFileCacheClearAfterCorruption(t *testing.T) {
	now := t0
	c := testCache(t, &now)
	ctx := context.Background()

	os.MkdirAll(filepath.Dir(c.Path()), 0755)
	os.WriteFile(c.Path(), []byte("{"), 0644)

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, err := c.Load(ctx)
	assertMiss(t, err, MissAbsent)
}

func TestFileCacheStoreReplacesWholesale(t *testing.T) {
	now := t0
	c := testCache(t, &now)
	ctx := context.Background()

	if err := c.Store(ctx, testSnapshot(t0)); err != nil {
		t.Fatal(err)
	}
	later := t0.Add(time.Hour)
	replacement := NewSnapshot([]Record{{Name: "ISS", Line1: issLine1, Line2: issLine2}}, later)
	if err := c.Store(ctx, replacement); err != nil {
		t.Fatal(err)
	}

	now = later
	got, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Len() != 1 {
		t.Errorf("len = %d, want 1 (old records must not survive)", got.Len())
	}
	if !got.DownloadedAt.Equal(later) {
		t.Errorf("downloaded_at = %v, want %v", got.DownloadedAt, later)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(c.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("cache dir contains %v, want only the cache file", names)
	}
}

func TestFileCacheStorageErrors(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission checks need a non-root unix user")
	}

	now := t0
	c := testCache(t, &now)
	ctx := context.Background()

	if err := c.Store(ctx, testSnapshot(t0)); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Dir(c.Path())
	if err := os.Chmod(dir, 0500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0755) })

	err := c.Store(ctx, testSnapshot(t0))
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Store into read-only dir: expected *StorageError, got %v", err)
	}
	if se.Op != "store" {
		t.Errorf("op = %q, want store", se.Op)
	}
	if IsMiss(err) {
		t.Error("storage error must not be reported as a miss")
	}

	if err := c.Clear(ctx); !IsStorageError(err) {
		t.Errorf("Clear in read-only dir: expected *StorageError, got %v", err)
	}

	if err := os.Chmod(c.Path(), 0); err != nil {
		t.Fatal(err)
	}
	_, err = c.Load(ctx)
	if !IsStorageError(err) {
		t.Errorf("Load of unreadable file: expected *StorageError, got %v", err)
	}
}

func TestFileCacheStoreIntoFile(t *testing.T) {
	// The cache directory path is occupied by a regular file.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "cache")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	c := NewFileCache(FileCacheConfig{Path: filepath.Join(blocker, "tle_cache.json")})

	err := c.Store(context.Background(), testSnapshot(t0))
	if !IsStorageError(err) {
		t.Fatalf("expected *StorageError, got %v", err)
	}

	_, err = c.Load(context.Background())
	if !IsStorageError(err) {
		t.Fatalf("Load below a regular file: expected *StorageError, got %v", err)
	}
}

func TestFileCacheConcurrentAccess(t *testing.T) {
	now := t0
	c := testCache(t, &now)
	ctx := context.Background()

	done := make(chan error, 20)
	for i := 0; i < 10; i++ {
		go func(i int) {
			done <- c.Store(ctx, testSnapshot(t0.Add(time.Duration(i)*time.Second)))
		}(i)
		go func() {
			_, err := c.Load(ctx)
			if err != nil && !IsMiss(err) {
				done <- err
				return
			}
			done <- nil
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent op failed: %v", err)
		}
	}

	if _, err := c.Load(ctx); err != nil {
		t.Fatalf("final Load: %v", err)
	}
}

func TestFileCacheCancelledContext(t *testing.T) {
	now := t0
	c := testCache(t, &now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Load with cancelled context = %v", err)
	}
	if err := c.Store(ctx, testSnapshot(t0)); !errors.Is(err, context.Canceled) {
		t.Errorf("Store with cancelled context = %v", err)
	}
}
