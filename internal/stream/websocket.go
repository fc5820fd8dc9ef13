package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Nolaskote/Simulation/internal/cache"
	"github.com/Nolaskote/Simulation/internal/metrics"
)

// Binary frame layout, little-endian:
//
//	0   [4]byte  magic "ORBF"
//	4   uint8    version (1)
//	5   uint8    flags: 1 = positions present, 2 = selection present
//	6   uint16   planet count
//	8   uint64   seq
//	16  float64  days since J2000
//	24  uint64   population version
//	32  uint32   body count
//	36  uint32   non-finite count
//	40  int32    selected index, -1 for none
//	44  uint32   trail length
//	48  planets:   count × {x, y, z, spin} float32
//	    positions: bodies × {x, y, z} float32 (when flag 1)
//	    selection: {x, y, z} float32 then trail × {x, y, z} (when flag 2)
const (
	frameMagic      = "ORBF"
	frameVersion    = 1
	frameHeaderSize = 48

	flagPositions = 1 << 0
	flagSelection = 1 << 1
)

const (
	pongWait   = 60 * time.Second
	maxReadMsg = 512
)

// frameHeader is the fixed part of a binary frame.
type frameHeader struct {
	Flags      uint8
	Planets    int
	Seq        uint64
	Days       float64
	Population uint64
	Bodies     int
	NonFinite  int
	Selected   int
	Trail      int
}

// encodeFrame appends f's binary encoding to dst[:0] and returns it.
func encodeFrame(dst []byte, f *cache.Frame, trail []*cache.Frame, sel int, positions bool) []byte {
	var flags uint8
	if positions {
		flags |= flagPositions
	}
	if sel < 0 || sel >= f.Bodies() {
		sel = -1
		trail = nil
	} else {
		flags |= flagSelection
	}

	var trailLen int
	for _, tf := range trail {
		if sel < tf.Bodies() {
			trailLen++
		}
	}

	buf := dst[:0]
	buf = append(buf, frameMagic...)
	buf = append(buf, frameVersion, flags)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Planets)))
	buf = binary.LittleEndian.AppendUint64(buf, f.Seq)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f.Days))
	buf = binary.LittleEndian.AppendUint64(buf, f.Population)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(f.Bodies()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(f.NonFinite))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(sel)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(trailLen))

	for _, pl := range f.Planets {
		buf = appendFloat32(buf,
			float32(pl.Position.X*f.Scale),
			float32(pl.Position.Y*f.Scale),
			float32(pl.Position.Z*f.Scale),
			float32(pl.Spin))
	}
	if positions {
		buf = appendFloat32(buf, f.Positions...)
	}
	if sel >= 0 {
		x, y, z := f.At(sel)
		buf = appendFloat32(buf, x, y, z)
		for _, tf := range trail {
			if sel < tf.Bodies() {
				tx, ty, tz := tf.At(sel)
				buf = appendFloat32(buf, tx, ty, tz)
			}
		}
	}
	return buf
}

func appendFloat32(buf []byte, vs ...float32) []byte {
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// decodeHeader parses the fixed header of a binary frame.
func decodeHeader(b []byte) (frameHeader, error) {
	if len(b) < frameHeaderSize {
		return frameHeader{}, fmt.Errorf("frame too short: %d bytes", len(b))
	}
	if string(b[:4]) != frameMagic {
		return frameHeader{}, errors.New("bad frame magic")
	}
	if b[4] != frameVersion {
		return frameHeader{}, fmt.Errorf("unsupported frame version %d", b[4])
	}
	le := binary.LittleEndian
	return frameHeader{
		Flags:      b[5],
		Planets:    int(le.Uint16(b[6:])),
		Seq:        le.Uint64(b[8:]),
		Days:       math.Float64frombits(le.Uint64(b[16:])),
		Population: le.Uint64(b[24:]),
		Bodies:     int(le.Uint32(b[32:])),
		NonFinite:  int(le.Uint32(b[36:])),
		Selected:   int(int32(le.Uint32(b[40:]))),
		Trail:      int(le.Uint32(b[44:])),
	}, nil
}

// wsClient manages a single WebSocket connection's writes. Only the
// handler goroutine writes.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	messagesSent int64
	bytesSent    int64
}

func (c *wsClient) send(ctx context.Context, messageType int, data []byte) error {
	if err := waitBandwidth(ctx, c.limiter, len(data)); err != nil {
		return fmt.Errorf("bandwidth wait: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.messagesSent++
	c.bytesSent += int64(len(data))
	metrics.IncStreamMessages(transportWS)
	metrics.AddStreamBytes(transportWS, len(data))
	return nil
}

func (c *wsClient) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.send(ctx, websocket.TextMessage, data)
}

func (c *wsClient) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// HandleWebSocket serves binary frames over a WebSocket. Metadata messages
// are sent as JSON text messages, frames as binary messages.
// GET /api/v1/stream/ws?select=id&trail=n&positions=bool
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	p, ip, ok := h.admit(w, r)
	if !ok {
		return
	}
	defer h.limiter.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.IncStreamErrors("upgrade_error")
		h.logger.Warn("websocket upgrade failed", "component", "stream", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	c := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		limiter: newBandwidthLimiter(h.config.BandwidthLimit),
	}

	metrics.IncStreamConnections(transportWS)
	metrics.IncStreamsActive(transportWS)
	startTime := time.Now()
	h.logger.Info("stream connected",
		"component", "stream",
		"transport", transportWS,
		"conn_id", c.id,
		"remote_ip", ip,
		"select", string(p.selectID),
		"trail", p.trail,
	)
	defer func() {
		metrics.DecStreamsActive(transportWS)
		h.logger.Info("stream disconnected",
			"component", "stream",
			"transport", transportWS,
			"conn_id", c.id,
			"remote_ip", ip,
			"messages_sent", c.messagesSent,
			"bytes_sent", c.bytesSent,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read loop handles control frames and notices the peer leaving.
	conn.SetReadLimit(maxReadMsg)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames := h.source.Frames()
	pop, version := h.source.Population()
	sel := resolve(pop, p.selectID)
	if err := c.sendJSON(ctx, buildMetadata(pop, version, h.source.Scale(), p.positions, h.now())); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "component", "stream", "conn_id", c.id, "error", err)
		return
	}

	keepaliveTicker := time.NewTicker(min(h.config.KeepaliveInterval, pongWait/2))
	defer keepaliveTicker.Stop()

	var (
		lastSeq  uint64
		lastSent time.Time
		buf      []byte
	)
	for {
		updated := frames.Updated()
		f := frames.Latest()
		if f != nil && f.Seq != lastSeq {
			if wait := h.config.Interval - time.Since(lastSent); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}

			if f.Population != version {
				pop, version = h.source.Population()
				sel = resolve(pop, p.selectID)
				if f.Population == version {
					if err := c.sendJSON(ctx, buildMetadata(pop, version, h.source.Scale(), p.positions, h.now())); err != nil {
						metrics.IncStreamErrors("send_error")
						h.logger.Warn("stream send error (metadata)", "component", "stream", "conn_id", c.id, "error", err)
						return
					}
				}
			}

			if f.Population == version {
				var trail []*cache.Frame
				if p.trail > 0 && sel >= 0 {
					trail = frames.Recent(p.trail)
				}
				buf = encodeFrame(buf, f, trail, sel, p.positions)
				if err := c.send(ctx, websocket.BinaryMessage, buf); err != nil {
					metrics.IncStreamErrors("send_error")
					h.logger.Warn("stream send error", "component", "stream", "conn_id", c.id, "error", err)
					return
				}
				lastSent = time.Now()
			}
			lastSeq = f.Seq
			continue
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		case <-updated:
		case <-keepaliveTicker.C:
			if err := c.ping(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "component", "stream", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}
