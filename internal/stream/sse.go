// Package stream implements Server-Sent Events (SSE) streaming of render-space
// satellite positions. Clients connect via GET /api/v1/stream/positions and
// receive one positions frame per step until they disconnect.
//
// SSE message format:
//
//	data: {"type":"positions","t":"2024-04-10T12:00:05Z","frame":"render","failed":0,"sat":[...]}\n\n
//
// First message is always metadata (when a snapshot is loaded):
//
//	data: {"type":"metadata","dataset_epoch":"...","tle_age_seconds":1800,"satellite_count":2}\n\n
//
// Simulated time starts at the t query parameter (default: now) and advances
// with wall-clock time. Keep-alive comments (:\n\n) are sent every
// KeepaliveInterval without data.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/orbview/internal/httputil"
	"github.com/star/orbview/internal/metrics"
	"github.com/star/orbview/internal/propagation"
	"github.com/star/orbview/internal/tle"
)

// DefaultMaxTotal caps concurrent streams across all clients.
const DefaultMaxTotal = 1000

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Use X-Forwarded-For for the per-IP cap.
}

// DefaultConfig returns the default stream limits.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		MaxTotal:           DefaultMaxTotal,
		KeepaliveInterval:  30 * time.Second,
	}
}

// Handler manages SSE streaming connections.
type Handler struct {
	prop    *propagation.Propagator
	store   *tle.Store
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new streaming handler.
func NewHandler(prop *propagation.Propagator, store *tle.Store, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		prop:    prop,
		store:   store,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
		now:     time.Now,
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HandlePositions serves the SSE position stream.
// GET /api/v1/stream/positions?step=5&t=...&name=...&limit=...
func (h *Handler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	step := 5
	if v := q.Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			badRequest(w, "invalid step parameter, must be 1-60")
			return
		}
		step = n
	}

	start, err := httputil.ParseTime(q.Get("t"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	limit, err := httputil.PositiveInt(q.Get("limit"), h.prop.MaxSatellites(), "limit")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if limit > h.prop.MaxSatellites() {
		badRequest(w, fmt.Sprintf("limit must be at most %d", h.prop.MaxSatellites()))
		return
	}
	filter := q.Get("name")

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"component", "stream",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	connected := h.now()
	h.logger.Info("stream connected",
		"component", "stream",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step", step,
		"start", start.Format(time.RFC3339),
		"filter", filter,
	)

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"component", "stream",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(connected).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Lift the server's WriteTimeout for this connection; each write sets its
	// own deadline.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{w: w, flusher: flusher, rc: rc, logger: h.logger}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	if snap := h.store.Get(); snap != nil {
		meta := metadataMessage{
			Type:           "metadata",
			DatasetEpoch:   snap.DownloadedAt.UTC().Format(time.RFC3339),
			TLEAge:         int(h.now().Sub(snap.DownloadedAt).Seconds()),
			SatelliteCount: snap.Len(),
		}
		if err := c.sendJSON(meta); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (metadata)", "component", "stream", "remote_ip", ip, "error", err)
			return
		}
	}

	ctx := r.Context()
	send := func() bool {
		simTime := start.Add(h.now().Sub(connected)).Truncate(time.Second)
		frame, err := h.prop.PositionsAt(ctx, simTime, filter, limit)
		if err != nil {
			if errors.Is(err, propagation.ErrNoSnapshot) {
				metrics.IncStreamErrors("no_snapshot")
				return true
			}
			if ctx.Err() != nil {
				return false
			}
			metrics.IncStreamErrors("propagation")
			h.logger.Warn("stream propagation error", "component", "stream", "remote_ip", ip, "error", err)
			return true
		}
		data, err := json.Marshal(buildPositionsMessage(frame))
		if err != nil {
			metrics.IncStreamErrors("marshal_error")
			h.logger.Warn("stream marshal error", "component", "stream", "remote_ip", ip, "error", err)
			return true
		}
		if err := c.sendRaw(data); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "component", "stream", "remote_ip", ip, "error", err)
			return false
		}
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(time.Duration(step) * time.Second)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if !send() {
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "component", "stream", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildPositionsMessage formats a frame as the SSE positions payload.
// Positions are [right, up, forward] in kilometres.
func buildPositionsMessage(frame *propagation.Frame) positionsMessage {
	sats := make([]satPayload, len(frame.Satellites))
	for i, s := range frame.Satellites {
		sats[i] = satPayload{
			Name: s.Name,
			ID:   s.NORADID,
			P:    s.Render.Vec(),
		}
	}
	return positionsMessage{
		Type:   "positions",
		T:      frame.Timestamp.UTC().Format(time.RFC3339),
		Frame:  "render",
		Failed: frame.Failed,
		Sat:    sats,
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type           string `json:"type"`
	DatasetEpoch   string `json:"dataset_epoch"`
	TLEAge         int    `json:"tle_age_seconds"`
	SatelliteCount int    `json:"satellite_count"`
}

type positionsMessage struct {
	Type   string       `json:"type"`
	T      string       `json:"t"`
	Frame  string       `json:"frame"`
	Failed int          `json:"failed"`
	Sat    []satPayload `json:"sat"`
}

type satPayload struct {
	Name string     `json:"name"`
	ID   int        `json:"id"`
	P    [3]float64 `json:"p"`
}
