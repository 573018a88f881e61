package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orbview/internal/propagation"
	"github.com/star/orbview/internal/tle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestLoadLogLevel(t *testing.T) {
	tests := []struct {
		value       string
		want        slog.Level
		wantInvalid string
	}{
		{"", slog.LevelInfo, ""},
		{"debug", slog.LevelDebug, ""},
		{"WARN", slog.LevelWarn, ""},
		{"error+2", slog.LevelError + 2, ""},
		{"verbose", slog.LevelInfo, "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("ORBVIEW_LOG_LEVEL", tt.value)
			level, invalid := loadLogLevel()
			if level != tt.want || invalid != tt.wantInvalid {
				t.Errorf("loadLogLevel() = %v, %q; want %v, %q", level, invalid, tt.want, tt.wantInvalid)
			}
		})
	}
}

func TestLoadAuthConfig(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		token   string
		wantOn  bool
		wantErr bool
	}{
		{"unset", "", "", false, false},
		{"disabled", "false", "", false, false},
		{"enabled with token", "true", "s3cret", true, false},
		{"enabled without token", "1", "", true, true},
		{"not a bool", "yes please", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ORBVIEW_AUTH_ENABLED", tt.enabled)
			t.Setenv("ORBVIEW_AUTH_TOKEN", tt.token)

			cfg, err := loadAuthConfig(testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if cfg.Enabled != tt.wantOn {
				t.Errorf("Enabled = %v, want %v", cfg.Enabled, tt.wantOn)
			}
		})
	}
}

func TestLoadHTTPConfig(t *testing.T) {
	t.Setenv("ORBVIEW_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("ORBVIEW_RATE_LIMIT", "2.5")
	t.Setenv("ORBVIEW_RATE_BURST", "nope")
	t.Setenv("ORBVIEW_TRUST_PROXY", "true")

	cfg := loadHTTPConfig(testLogger())
	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.RateLimit != rate.Limit(2.5) {
		t.Errorf("RateLimit = %v, want 2.5", cfg.RateLimit)
	}
	if cfg.RateBurst != 40 {
		t.Errorf("RateBurst = %d, want default 40 for an invalid value", cfg.RateBurst)
	}
	if !cfg.TrustProxy {
		t.Error("TrustProxy = false, want true")
	}
}

func TestLoadPropConfig(t *testing.T) {
	t.Setenv("ORBVIEW_PROP_WORKERS", "3")
	t.Setenv("ORBVIEW_MAX_SATELLITES", "0")

	cfg := loadPropConfig(testLogger())
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if cfg.MaxSatellites != propagation.DefaultMaxSatellites {
		t.Errorf("MaxSatellites = %d, want default for an invalid value", cfg.MaxSatellites)
	}
}

func TestLoadTLEConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{
			"ORBVIEW_TLE_FETCH_ON_START", "ORBVIEW_TLE_SOURCE_URL", "ORBVIEW_TLE_EXTRA_URLS",
			"ORBVIEW_TLE_CACHE_PATH", "ORBVIEW_TLE_MAX_AGE", "ORBVIEW_REDIS_ADDR", "ORBVIEW_REDIS_KEY",
		} {
			t.Setenv(k, "")
		}

		cfg := loadTLEConfig(testLogger())
		if cfg.SourceURL != tle.DefaultSourceURL || cfg.CachePath != tle.DefaultCachePath {
			t.Errorf("source/cache = %q/%q", cfg.SourceURL, cfg.CachePath)
		}
		if cfg.MaxAge != tle.DefaultMaxAge || !cfg.FetchOnStart {
			t.Errorf("max age/fetch = %v/%v", cfg.MaxAge, cfg.FetchOnStart)
		}
		if cfg.RedisAddr != "" || cfg.RedisKey != tle.DefaultRedisKey {
			t.Errorf("redis = %q/%q", cfg.RedisAddr, cfg.RedisKey)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("ORBVIEW_TLE_FETCH_ON_START", "false")
		t.Setenv("ORBVIEW_TLE_EXTRA_URLS", " https://a.example/tle , ,https://b.example/tle")
		t.Setenv("ORBVIEW_TLE_CACHE_PATH", "/var/lib/orbview/tle.json")
		t.Setenv("ORBVIEW_TLE_MAX_AGE", "3600")
		t.Setenv("ORBVIEW_REDIS_ADDR", "redis:6379")
		t.Setenv("ORBVIEW_REDIS_KEY", "tle:test")

		cfg := loadTLEConfig(testLogger())
		if cfg.FetchOnStart {
			t.Error("FetchOnStart = true, want false")
		}
		if len(cfg.ExtraURLs) != 2 || cfg.ExtraURLs[0] != "https://a.example/tle" || cfg.ExtraURLs[1] != "https://b.example/tle" {
			t.Errorf("ExtraURLs = %q", cfg.ExtraURLs)
		}
		if cfg.CachePath != "/var/lib/orbview/tle.json" {
			t.Errorf("CachePath = %q", cfg.CachePath)
		}
		if cfg.MaxAge != time.Hour {
			t.Errorf("MaxAge = %v, want 1h", cfg.MaxAge)
		}
		if cfg.RedisAddr != "redis:6379" || cfg.RedisKey != "tle:test" {
			t.Errorf("redis = %q/%q", cfg.RedisAddr, cfg.RedisKey)
		}
	})

	t.Run("invalid max age", func(t *testing.T) {
		t.Setenv("ORBVIEW_TLE_MAX_AGE", "-5")
		if cfg := loadTLEConfig(testLogger()); cfg.MaxAge != tle.DefaultMaxAge {
			t.Errorf("MaxAge = %v, want default", cfg.MaxAge)
		}
	})
}

func TestLoadStreamConfig(t *testing.T) {
	t.Setenv("ORBVIEW_STREAM_MAX_CONCURRENT", "2")
	t.Setenv("ORBVIEW_STREAM_MAX_TOTAL", "x")
	t.Setenv("ORBVIEW_STREAM_KEEPALIVE_INTERVAL", "15")

	cfg := loadStreamConfig(testLogger())
	if cfg.MaxConcurrentPerIP != 2 {
		t.Errorf("MaxConcurrentPerIP = %d, want 2", cfg.MaxConcurrentPerIP)
	}
	if cfg.MaxTotal != 1000 {
		t.Errorf("MaxTotal = %d, want default 1000", cfg.MaxTotal)
	}
	if cfg.KeepaliveInterval != 15*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 15s", cfg.KeepaliveInterval)
	}
}
