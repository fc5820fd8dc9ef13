// Package stream serves the field's published frames to remote viewers,
// as Server-Sent Events (JSON) on GET /api/v1/stream/frames and as binary
// WebSocket messages on GET /api/v1/stream/ws.
//
// SSE message format:
//
//	data: {"type":"frame","seq":42,"t":9500.25,"utc":"...","bodies":3,"p":[...],"planets":[...]}\n\n
//
// The first message on every connection, and the first after a population
// reload, is metadata:
//
//	data: {"type":"metadata","source":"...","population":1,"stats":{...},"scale":50}\n\n
//
// Positions are heliocentric ecliptic coordinates multiplied by scale, three
// values per body in population order. Non-finite coordinates are null.
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval.
package stream

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/httputil"
	"github.com/Nolaskote/Simulation/internal/metrics"
	"github.com/Nolaskote/Simulation/internal/neo"
)

// Source is the field state the stream reads.
type Source interface {
	Frames() *cache.FrameCache
	Population() (*neo.Population, uint64)
	Scale() float64
}

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	BandwidthLimit     int           // Bytes per second per stream, 0 = unlimited.
	KeepaliveInterval  time.Duration // Keep-alive interval (default: 30s).
	Interval           time.Duration // Minimum spacing between frames (default: 250ms).
	TrustProxy         bool          // Use X-Forwarded-For for the per-IP limit.
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 250 * time.Millisecond
	}
	return c
}

// Handler manages streaming connections.
type Handler struct {
	source   Source
	config   Config
	limiter  *streamLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a streaming handler reading from source.
func NewHandler(source Source, config Config, logger *slog.Logger) *Handler {
	config = config.withDefaults()
	return &Handler{
		source:  source,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		logger: logger,
		now:    time.Now,
	}
}

// admit validates the query and takes a limiter slot. On failure it has
// already written the error response and returns ok=false. On success the
// caller must release ip.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) (p params, ip string, ok bool) {
	p, msg := parseParams(r.URL.Query())
	if msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return p, "", false
	}
	if p.selectID != "" {
		pop, _ := h.source.Population()
		if resolve(pop, p.selectID) < 0 {
			httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("body %q not found", p.selectID))
			return p, "", false
		}
	}

	ip = httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"component", "stream",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return p, "", false
	}
	return p, ip, true
}

// HandleFrames serves the SSE frame stream.
// GET /api/v1/stream/frames?select=id&trail=n&positions=bool
func (h *Handler) HandleFrames(w http.ResponseWriter, r *http.Request) {
	p, ip, ok := h.admit(w, r)
	if !ok {
		return
	}

	connID := uuid.NewString()
	metrics.IncStreamConnections(transportSSE)
	metrics.IncStreamsActive(transportSSE)

	startTime := time.Now()
	h.logger.Info("stream connected",
		"component", "stream",
		"transport", transportSSE,
		"conn_id", connID,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"select", string(p.selectID),
		"trail", p.trail,
	)

	c := &client{
		id:      connID,
		ip:      ip,
		limiter: newBandwidthLimiter(h.config.BandwidthLimit),
		logger:  h.logger,
	}

	defer func() {
		h.limiter.release(ip)
		metrics.DecStreamsActive(transportSSE)
		h.logger.Info("stream disconnected",
			"component", "stream",
			"transport", transportSSE,
			"conn_id", connID,
			"remote_ip", ip,
			"messages_sent", c.messagesSent,
			"bytes_sent", c.bytesSent,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's WriteTimeout; sendRaw sets a deadline per write.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "component", "stream", "error", err)
	}
	c.w, c.flusher, c.rc = w, flusher, rc

	// Jittered retry (3-7s) spreads reconnects after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	ctx := r.Context()
	frames := h.source.Frames()

	pop, version := h.source.Population()
	sel := resolve(pop, p.selectID)
	if err := c.sendJSON(ctx, buildMetadata(pop, version, h.source.Scale(), p.positions, h.now())); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "component", "stream", "conn_id", connID, "error", err)
		return
	}

	ticker := time.NewTicker(h.config.Interval)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			f := frames.Latest()
			if f == nil || f.Seq == lastSeq {
				continue
			}
			if f.Population != version {
				pop, version = h.source.Population()
				if f.Population != version {
					// Frame from a population that is being replaced.
					continue
				}
				sel = resolve(pop, p.selectID)
				if err := c.sendJSON(ctx, buildMetadata(pop, version, h.source.Scale(), p.positions, h.now())); err != nil {
					metrics.IncStreamErrors("send_error")
					h.logger.Warn("stream send error (metadata)", "component", "stream", "conn_id", connID, "error", err)
					return
				}
			}

			var trail []*cache.Frame
			if p.trail > 0 && sel >= 0 {
				trail = frames.Recent(p.trail)
			}
			if err := c.sendJSON(ctx, buildFrameMessage(f, trail, pop, sel, p.positions)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "component", "stream", "conn_id", connID, "error", err)
				return
			}
			lastSeq = f.Seq
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "component", "stream", "conn_id", connID, "error", err)
				return
			}
		}
	}
}
