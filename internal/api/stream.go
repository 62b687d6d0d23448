// Package api exposes the read-only observer surface: snapshot
// endpoints over the store and the live book, control endpoints for the
// bot flags and a websocket stream of live-view changes.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/arbnexus/arbnexus/internal/domain"
)

// Stream frame types.
const (
	frameOpportunityUpsert = "opportunity.upsert"
	frameOpportunityRetire = "opportunity.retire"
	frameExecution         = "execution.transition"
	frameAlert             = "alert"
)

// backlogSize bounds the resume window. Observers further behind than
// this get the live tail only.
const backlogSize = 256

// Frame is one stream message. Seq increases monotonically across all
// types; delivery is at-least-once and resumable by last seen seq.
type Frame struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans live-view changes out to websocket observers. It satisfies
// the scanner's and engine's publisher interfaces so workers never see
// the transport.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	backlog []Frame
	clients map[*streamClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: map[*streamClient]struct{}{}}
}

func (h *Hub) PublishOpportunity(o domain.Opportunity) { h.publish(frameOpportunityUpsert, o) }

func (h *Hub) RetireOpportunity(id string) {
	h.publish(frameOpportunityRetire, map[string]string{"id": id})
}

func (h *Hub) PublishExecution(e domain.Execution) { h.publish(frameExecution, e) }

func (h *Hub) PublishAlert(a domain.Alert) { h.publish(frameAlert, a) }

func (h *Hub) publish(kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", kind).Msg("stream payload encode failed")
		return
	}

	h.mu.Lock()
	h.seq++
	f := Frame{Seq: h.seq, Type: kind, Payload: raw}
	h.backlog = append(h.backlog, f)
	if len(h.backlog) > backlogSize {
		h.backlog = h.backlog[len(h.backlog)-backlogSize:]
	}
	for c := range h.clients {
		select {
		case c.send <- f:
		default:
			// Slow observer: drop it, the resume protocol recovers.
			delete(h.clients, c)
			close(c.send)
			streamClients.Dec()
		}
	}
	h.mu.Unlock()
	streamFrames.WithLabelValues(kind).Inc()
}

// resumeFrom returns the buffered frames with seq > after.
func (h *Hub) resumeFrom(after uint64) []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Frame
	for _, f := range h.backlog {
		if f.Seq > after {
			out = append(out, f)
		}
	}
	return out
}

func (h *Hub) attach(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	streamClients.Inc()
}

func (h *Hub) detach(c *streamClient) {
	h.mu.Lock()
	_, attached := h.clients[c]
	if attached {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if attached {
		streamClients.Dec()
	}
}

type streamClient struct {
	conn *websocket.Conn
	send chan Frame
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Observers are same-host dashboards; the API binds loopback by
	// default.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeStream upgrades the connection and replays the backlog past
// ?after=<seq> before switching to live frames.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		after = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("stream upgrade failed")
		return
	}

	// The send buffer covers a full backlog replay plus live headroom.
	c := &streamClient{conn: conn, send: make(chan Frame, backlogSize+64)}

	// Attach before replaying: a frame published in between is then
	// delivered twice rather than never, and seq lets the observer
	// de-duplicate.
	h.attach(c)
	replay := h.resumeFrom(after)
	go c.writePump(h)
	for _, f := range replay {
		select {
		case c.send <- f:
		default:
		}
	}
	c.readPump(h)
}

func (c *streamClient) writePump(h *Hub) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(f); err != nil {
				h.detach(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.detach(c)
				return
			}
		}
	}
}

// readPump drains and discards inbound messages; its only job is to
// notice the close.
func (c *streamClient) readPump(h *Hub) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
