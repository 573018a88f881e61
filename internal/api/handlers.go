package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/star/orbview/internal/groundtrack"
	"github.com/star/orbview/internal/httputil"
	"github.com/star/orbview/internal/propagation"
	"github.com/star/orbview/internal/tle"
)

// Ground track defaults: one ISS-like revolution at one point per minute.
const (
	defaultTrackMinutes = 90
	defaultTrackStep    = 60
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type metadataResponse struct {
	Loaded         bool    `json:"loaded"`
	SatelliteCount int     `json:"satellite_count"`
	DownloadedAt   *string `json:"downloaded_at"`
	AgeSeconds     float64 `json:"age_seconds"`
	Source         string  `json:"source,omitempty"`
	CachePath      string  `json:"cache_path"`
	MaxAgeSeconds  float64 `json:"max_age_seconds"`
}

func snapshotMetadata(snap *tle.Snapshot, cache *tle.FileCache) metadataResponse {
	resp := metadataResponse{
		CachePath:     cache.Path(),
		MaxAgeSeconds: cache.MaxAge().Seconds(),
		AgeSeconds:    -1,
	}
	if snap == nil {
		return resp
	}
	ts := snap.DownloadedAt.UTC().Format(time.RFC3339)
	resp.Loaded = true
	resp.SatelliteCount = snap.Len()
	resp.DownloadedAt = &ts
	resp.AgeSeconds = time.Since(snap.DownloadedAt).Seconds()
	resp.Source = snap.Source
	return resp
}

func metadataHandler(store *tle.Store, cache *tle.FileCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, snapshotMetadata(store.Get(), cache))
	}
}

func refreshHandler(logger *slog.Logger, loader *tle.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := loader.Refresh(r.Context())
		if err != nil {
			logger.Warn("TLE refresh failed", "component", "api", "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"satellite_count": snap.Len(),
			"downloaded_at":   snap.DownloadedAt.UTC().Format(time.RFC3339),
			"source":          snap.Source,
		})
	}
}

func clearCacheHandler(logger *slog.Logger, loader *tle.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := loader.Clear(r.Context()); err != nil {
			logger.Error("TLE cache clear failed", "component", "api", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type positionJSON struct {
	Name    string  `json:"name"`
	NORADID int     `json:"norad_id"`
	Right   float64 `json:"right_km"`
	Up      float64 `json:"up_km"`
	Forward float64 `json:"forward_km"`
}

type positionsResponse struct {
	Timestamp  string         `json:"timestamp"`
	Count      int            `json:"count"`
	Failed     int            `json:"failed"`
	Satellites []positionJSON `json:"satellites"`
}

func positionsHandler(logger *slog.Logger, prop *propagation.Propagator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		at, err := httputil.ParseTime(q.Get("t"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		limit, err := httputil.PositiveInt(q.Get("limit"), prop.MaxSatellites(), "limit")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if limit > prop.MaxSatellites() {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":          fmt.Sprintf("limit %d exceeds maximum", limit),
				"max_satellites": prop.MaxSatellites(),
			})
			return
		}

		frame, err := prop.PositionsAt(r.Context(), at, q.Get("name"), limit)
		if err != nil {
			if errors.Is(err, propagation.ErrNoSnapshot) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			logger.Warn("propagation failed", "component", "api", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := positionsResponse{
			Timestamp:  frame.Timestamp.UTC().Format(time.RFC3339),
			Count:      len(frame.Satellites),
			Failed:     frame.Failed,
			Satellites: make([]positionJSON, len(frame.Satellites)),
		}
		for i, s := range frame.Satellites {
			resp.Satellites[i] = positionJSON{
				Name:    s.Name,
				NORADID: s.NORADID,
				Right:   s.Render.Right,
				Up:      s.Render.Up,
				Forward: s.Render.Forward,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func groundtrackHandler(logger *slog.Logger, prop *propagation.Propagator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		start, err := httputil.ParseTime(q.Get("t"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		minutes, err := httputil.PositiveInt(q.Get("minutes"), defaultTrackMinutes, "minutes")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		step, err := httputil.PositiveInt(q.Get("step"), defaultTrackStep, "step")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		// Reject before propagating anything.
		if points := math.Floor(float64(minutes)*60/float64(step)) + 1; points > groundtrack.MaxPoints {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      fmt.Sprintf("requested %.0f points", points),
				"max_points": groundtrack.MaxPoints,
			})
			return
		}

		sp, err := prop.Lookup(r.PathValue("name"))
		switch {
		case errors.Is(err, propagation.ErrNoSnapshot):
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case errors.Is(err, propagation.ErrUnknownSatellite):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		track, err := groundtrack.Build(sp, start, time.Duration(minutes)*time.Minute, time.Duration(step)*time.Second)
		if err != nil {
			if errors.Is(err, propagation.ErrOutsideEpochWindow) {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			logger.Warn("ground track failed", "component", "api", "name", sp.Name(), "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(track.Feature())
	}
}
