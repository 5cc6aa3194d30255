// Package stream implements Server-Sent Events (SSE) streaming of the live
// sub-satellite position. Clients connect via GET /api/v1/stream/position and
// receive every tracker update, optionally thinned to one per step seconds.
//
// SSE message format:
//
//	data: {"type":"position","t":"2025-02-14T12:00:00Z","lat":12.3,"lon":-45.6,"alt_km":418.2}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","name":"ISS (ZARYA)","norad_id":25544,"epoch":"...","tle_age_seconds":1800}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// Reconnecting clients receive a fresh metadata message on each connection.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/kalkan/srec/internal/httputil"
	"github.com/kalkan/srec/internal/metrics"
	"github.com/kalkan/srec/internal/propagation"
	"github.com/kalkan/srec/internal/tle"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int               // Max concurrent streams per client (default: 10).
	MaxConcurrent      int               // Max concurrent streams overall (default: MaxConcurrentPerIP).
	KeepaliveInterval  time.Duration     // Keep-alive ping interval (default: 30s).
	Clients            httputil.Resolver // Maps requests to the client key the limits apply to.
}

// Feed is the source of live positions.
type Feed interface {
	Latest() (propagation.SubPoint, bool)
	Subscribe() (<-chan propagation.SubPoint, func())
}

// Handler manages SSE streaming connections.
type Handler struct {
	feed    Feed
	store   *tle.Store
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(feed Feed, store *tle.Store, config Config, logger *slog.Logger) *Handler {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		feed:    feed,
		store:   store,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
}

// HandlePosition serves the SSE position stream.
// GET /api/v1/stream/position?step=5
func (h *Handler) HandlePosition(w http.ResponseWriter, r *http.Request) {
	var step time.Duration
	if v := r.URL.Query().Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			writeError(w, http.StatusBadRequest, "invalid step parameter, must be 1-60")
			return
		}
		step = time.Duration(n) * time.Second
	}

	ip := h.config.Clients.ClientIP(r)
	release, refused := h.limiter.acquire(ip)
	if refused != "" {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"limit", refused,
			"client_streams", h.limiter.count(ip),
			"active_streams", h.limiter.inUse(),
		)
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step_seconds", step.Seconds(),
	)

	defer func() {
		release()
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before writing headers so no update is lost in between.
	updates, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &client{
		w:       w,
		flusher: flusher,
		rc:      rc,
		ip:      ip,
		logger:  h.logger,
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	if ds := h.store.Get(); ds != nil {
		if err := c.sendJSON(newMetadataMessage(ds)); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
			return
		}
	}

	var lastSent time.Time
	send := func(pt propagation.SubPoint) bool {
		if step > 0 && !lastSent.IsZero() && pt.Time.Sub(lastSent) < step {
			return true
		}
		if err := c.sendJSON(newPositionMessage(pt)); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
			return false
		}
		lastSent = pt.Time
		return true
	}

	// Give the client a marker right away instead of waiting for the next tick.
	if pt, ok := h.feed.Latest(); ok {
		if !send(pt) {
			return
		}
	}

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case pt, ok := <-updates:
			if !ok {
				return
			}
			if !send(pt) {
				return
			}
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// SSE message payload types.

type metadataMessage struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	NORADID int    `json:"norad_id"`
	Epoch   string `json:"epoch"`
	TLEAge  int    `json:"tle_age_seconds"`
}

func newMetadataMessage(ds *tle.Dataset) metadataMessage {
	return metadataMessage{
		Type:    "metadata",
		Name:    ds.Record.Name,
		NORADID: ds.Record.NORADID,
		Epoch:   ds.Record.Epoch.UTC().Format(time.RFC3339),
		TLEAge:  int(time.Since(ds.Record.Epoch).Seconds()),
	}
}

type positionMessage struct {
	Type  string  `json:"type"`
	T     string  `json:"t"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	AltKm float64 `json:"alt_km"`
}

func newPositionMessage(pt propagation.SubPoint) positionMessage {
	return positionMessage{
		Type:  "position",
		T:     pt.Time.UTC().Format(time.RFC3339),
		Lat:   pt.LatDeg,
		Lon:   pt.LonDeg,
		AltKm: pt.AltKm,
	}
}
