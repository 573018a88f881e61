package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/orbview/internal/api"
	"github.com/star/orbview/internal/auth"
	"github.com/star/orbview/internal/metrics"
	"github.com/star/orbview/internal/propagation"
	"github.com/star/orbview/internal/stream"
	"github.com/star/orbview/internal/tle"
)

// tleConfig holds TLE source and cache configuration loaded from environment variables.
type tleConfig struct {
	SourceURL     string
	ExtraURLs     []string
	CachePath     string
	MaxAge        time.Duration
	FetchOnStart  bool
	RedisAddr     string
	RedisPassword string
	RedisKey      string
}

func main() {
	level, badLevel := loadLogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	if badLevel != "" {
		logger.Warn("invalid ORBVIEW_LOG_LEVEL value, using default", "value", badLevel, "default", level.String())
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}
	httpCfg := loadHTTPConfig(logger)
	httpCfg.Auth = authCfg

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tleCfg := loadTLEConfig(logger)
	store := tle.NewStore()
	fileCache := tle.NewFileCache(tle.FileCacheConfig{Path: tleCfg.CachePath, MaxAge: tleCfg.MaxAge})
	fetcher := tle.NewFetcher(tleCfg.SourceURL, logger, tleCfg.ExtraURLs...)

	var mirror tle.SnapshotCache
	if tleCfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := tle.ConnectRedisCache(dialCtx, tle.RedisCacheConfig{
			Addr:     tleCfg.RedisAddr,
			Password: tleCfg.RedisPassword,
			Key:      tleCfg.RedisKey,
			MaxAge:   tleCfg.MaxAge,
		})
		cancel()
		if err != nil {
			logger.Warn("redis mirror unavailable, continuing with file cache only", "error", err)
		} else {
			defer rc.Close()
			mirror = rc
			logger.Info("redis mirror enabled", "addr", tleCfg.RedisAddr, "key", tleCfg.RedisKey)
		}
	}

	loader := tle.NewLoader(fileCache, mirror, fetcher, store, logger)
	loadInitialSnapshot(ctx, logger, tleCfg, loader, fileCache, store)

	propCfg := loadPropConfig(logger)
	prop := propagation.NewPropagator(store, propCfg, logger)

	streamCfg := loadStreamConfig(logger)
	streamCfg.TrustProxy = httpCfg.TrustProxy
	streamHandler := stream.NewHandler(prop, store, streamCfg, logger)

	srv := api.NewServer(httpCfg, api.Deps{
		Store:      store,
		Loader:     loader,
		Cache:      fileCache,
		Propagator: prop,
		Stream:     streamHandler,
	}, logger)

	// Background goroutine to update TLE snapshot age gauge and forget idle
	// rate limiter clients.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				age := store.AgeSeconds()
				if age >= 0 {
					metrics.SetTLESnapshotAge(age)
				}
				srv.Limiter().Sweep(10 * time.Minute)
			case <-ctx.Done():
				return
			}
		}
	}()

	if tleCfg.FetchOnStart {
		go refreshLoop(ctx, logger, loader, store, tleCfg.MaxAge)
	}

	go func() {
		logger.Info("starting server", "addr", httpCfg.Addr, "auth_enabled", authCfg.Enabled, "tle_fetch_enabled", tleCfg.FetchOnStart)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// loadInitialSnapshot fills the store before the server starts. With fetching
// enabled the loader may download; otherwise only the file cache is consulted.
func loadInitialSnapshot(ctx context.Context, logger *slog.Logger, cfg tleConfig, loader *tle.Loader, cache *tle.FileCache, store *tle.Store) {
	loadCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if cfg.FetchOnStart {
		if _, err := loader.Load(loadCtx); err != nil {
			logger.Warn("no TLE data available at startup, will retry", "error", err)
		}
		return
	}

	snap, err := cache.Load(loadCtx)
	if err != nil {
		logger.Info("no usable TLE cache and fetching disabled, starting without TLE data", "error", err)
		return
	}
	store.Set(snap)
	metrics.SetTLESnapshot(snap.Len(), snap.DownloadedAt)
	logger.Info("loaded TLE data from cache", "satellite_count", snap.Len(), "downloaded_at", snap.DownloadedAt.Format(time.RFC3339))
}

// refreshLoop reloads the snapshot once it has aged past maxAge, or retries
// when nothing is loaded yet.
func refreshLoop(ctx context.Context, logger *slog.Logger, loader *tle.Loader, store *tle.Store, maxAge time.Duration) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			age := store.AgeSeconds()
			if age >= 0 && age < maxAge.Seconds() {
				continue
			}
			if _, err := loader.Load(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("scheduled TLE reload failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// loadLogLevel runs before the logger exists, so an invalid value is returned
// for the caller to report once logging is set up.
func loadLogLevel() (level slog.Level, invalid string) {
	level = slog.LevelInfo
	v := os.Getenv("ORBVIEW_LOG_LEVEL")
	if v == "" {
		return level, ""
	}
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(v)); err != nil {
		return level, v
	}
	return parsed, ""
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("ORBVIEW_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("ORBVIEW_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("ORBVIEW_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("ORBVIEW_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadHTTPConfig(logger *slog.Logger) api.Config {
	cfg := api.Config{
		Addr:      ":8080",
		RateLimit: 20,
		RateBurst: 40,
	}

	if v := os.Getenv("ORBVIEW_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}

	if v := os.Getenv("ORBVIEW_RATE_LIMIT"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 {
			logger.Warn("invalid ORBVIEW_RATE_LIMIT value, using default", "value", v, "default", 20)
		} else {
			cfg.RateLimit = rate.Limit(n)
		}
	}

	if v := os.Getenv("ORBVIEW_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_RATE_BURST value, using default", "value", v, "default", 40)
		} else {
			cfg.RateBurst = n
		}
	}

	if v := os.Getenv("ORBVIEW_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORBVIEW_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("http config",
		"addr", cfg.Addr,
		"rate_limit", float64(cfg.RateLimit),
		"rate_burst", cfg.RateBurst,
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}

func loadPropConfig(logger *slog.Logger) propagation.PropConfig {
	cfg := propagation.PropConfig{
		Workers:       runtime.NumCPU(),
		MaxSatellites: propagation.DefaultMaxSatellites,
	}

	if v := os.Getenv("ORBVIEW_PROP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_PROP_WORKERS value, using default", "value", v, "default", cfg.Workers)
		} else {
			cfg.Workers = n
		}
	}

	if v := os.Getenv("ORBVIEW_MAX_SATELLITES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_MAX_SATELLITES value, using default", "value", v, "default", cfg.MaxSatellites)
		} else {
			cfg.MaxSatellites = n
		}
	}

	logger.Info("propagation config",
		"workers", cfg.Workers,
		"max_satellites", cfg.MaxSatellites,
	)

	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.DefaultConfig()

	if v := os.Getenv("ORBVIEW_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", cfg.MaxConcurrentPerIP)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("ORBVIEW_STREAM_MAX_TOTAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_STREAM_MAX_TOTAL value, using default", "value", v, "default", cfg.MaxTotal)
		} else {
			cfg.MaxTotal = n
		}
	}

	if v := os.Getenv("ORBVIEW_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid ORBVIEW_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_total", cfg.MaxTotal,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
	)

	return cfg
}

func loadTLEConfig(logger *slog.Logger) tleConfig {
	cfg := tleConfig{
		SourceURL:    tle.DefaultSourceURL,
		CachePath:    tle.DefaultCachePath,
		MaxAge:       tle.DefaultMaxAge,
		FetchOnStart: true,
		RedisKey:     tle.DefaultRedisKey,
	}

	if v := os.Getenv("ORBVIEW_TLE_FETCH_ON_START"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid ORBVIEW_TLE_FETCH_ON_START value, defaulting to true", "value", v)
		} else {
			cfg.FetchOnStart = enabled
		}
	}

	if v := os.Getenv("ORBVIEW_TLE_SOURCE_URL"); v != "" {
		cfg.SourceURL = v
	}

	if v := os.Getenv("ORBVIEW_TLE_EXTRA_URLS"); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				urls = append(urls, u)
			}
		}
		cfg.ExtraURLs = urls
	}

	if v := os.Getenv("ORBVIEW_TLE_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}

	if v := os.Getenv("ORBVIEW_TLE_MAX_AGE"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds < 1 {
			logger.Warn("invalid ORBVIEW_TLE_MAX_AGE value, defaulting to 86400", "value", v)
		} else {
			cfg.MaxAge = time.Duration(seconds) * time.Second
		}
	}

	cfg.RedisAddr = os.Getenv("ORBVIEW_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("ORBVIEW_REDIS_PASSWORD")
	if v := os.Getenv("ORBVIEW_REDIS_KEY"); v != "" {
		cfg.RedisKey = v
	}

	logger.Info("TLE config",
		"source_url", cfg.SourceURL,
		"extra_urls", cfg.ExtraURLs,
		"cache_path", cfg.CachePath,
		"max_age_seconds", cfg.MaxAge.Seconds(),
		"redis_addr", cfg.RedisAddr,
	)

	return cfg
}
