package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/Nolaskote/Simulation/internal/metrics"
)

const (
	transportSSE = "sse"
	transportWS  = "ws"

	writeTimeout = 30 * time.Second
)

// client manages a single SSE connection's write operations.
type client struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	limiter *rate.Limiter
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON marshals v and sends it as an SSE "data:" message.
func (c *client) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.sendRaw(ctx, data)
}

// sendRaw sends pre-encoded JSON as "data: {json}\n\n", waiting for the
// stream's bandwidth budget first.
func (c *client) sendRaw(ctx context.Context, data []byte) error {
	size := len(data) + len("data: \n\n")
	if err := waitBandwidth(ctx, c.limiter, size); err != nil {
		return fmt.Errorf("bandwidth wait: %w", err)
	}

	// Extend the deadline before each write; the stream outlives the
	// server's WriteTimeout.
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "component", "stream", "error", err)
	}

	n, err := fmt.Fprintf(c.w, "data: %s\n\n", data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	c.flusher.Flush()
	c.messagesSent++
	c.bytesSent += int64(n)
	metrics.IncStreamMessages(transportSSE)
	metrics.AddStreamBytes(transportSSE, n)

	return nil
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
func (c *client) sendKeepalive() error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "component", "stream", "error", err)
	}

	n, err := fmt.Fprint(c.w, ":\n\n")
	if err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}

	c.flusher.Flush()
	c.bytesSent += int64(n)
	metrics.AddStreamBytes(transportSSE, n)

	return nil
}
