package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"infinityforum/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BroadcastChannel is the Redis channel relay nodes share.
const BroadcastChannel = "relay:broadcast"

const defaultMaxPeers = 10000

// ErrHubFull is returned by Register when the node is at capacity.
var ErrHubFull = errors.New("relay connection limit reached")

// Peer is a middleman between one websocket connection and the hub.
type Peer struct {
	hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	// Buffered channel of outbound frames.
	Send chan []byte

	ID string
}

// ReadPump pumps frames from the connection to the hub until it fails.
func (p *Peer) ReadPump() {
	defer func() {
		p.hub.UnregisterPeer(p)
		_ = p.Conn.Close()
	}()

	p.Conn.SetReadLimit(maxMessageSize)
	_ = p.Conn.SetReadDeadline(time.Now().Add(pongWait))
	p.Conn.SetPongHandler(func(string) error { _ = p.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		kind, frame, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				observability.Logger.Warn("relay peer read error",
					slog.String("peer", p.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		p.hub.Relay(context.Background(), p, frame)
	}
}

// WritePump pumps frames from the hub to the connection.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-p.Send:
			_ = p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = p.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues frame for the peer, dropping it when the buffer is full.
func (p *Peer) TrySend(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.RelayBackpressureDrops.WithLabelValues("closed").Inc()
		}
	}()

	select {
	case p.Send <- frame:
	default:
		observability.RelayBackpressureDrops.WithLabelValues("full").Inc()
		observability.Logger.Warn("relay peer buffer full, dropped frame", slog.String("peer", p.ID))
	}
}

type nodeEnvelope struct {
	Node  string `json:"node"`
	Frame string `json:"frame"`
}

// Hub is a relay node: every text frame a peer sends is forwarded, unparsed,
// to every other peer. With Redis, frames also reach peers of other nodes.
type Hub struct {
	mu       sync.RWMutex
	peers    map[*Peer]struct{}
	maxPeers int
	closed   bool

	rdb    *redis.Client
	nodeID string
}

// NewHub creates a hub admitting up to maxPeers connections. A nil rdb keeps
// the hub single-node.
func NewHub(maxPeers int, rdb *redis.Client) *Hub {
	if maxPeers <= 0 {
		maxPeers = defaultMaxPeers
	}
	return &Hub{
		peers:    make(map[*Peer]struct{}),
		maxPeers: maxPeers,
		rdb:      rdb,
		nodeID:   uuid.NewString(),
	}
}

// Register admits conn as a peer.
func (h *Hub) Register(conn *websocket.Conn) (*Peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || len(h.peers) >= h.maxPeers {
		return nil, ErrHubFull
	}

	p := &Peer{
		hub:  h,
		Conn: conn,
		Send: make(chan []byte, 256),
		ID:   uuid.NewString(),
	}
	h.peers[p] = struct{}{}
	observability.RelayPeers.Set(float64(len(h.peers)))
	return p, nil
}

// UnregisterPeer removes p and closes its send queue. Safe to call twice.
func (h *Hub) UnregisterPeer(p *Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; !ok {
		return
	}
	delete(h.peers, p)
	close(p.Send)
	observability.RelayPeers.Set(float64(len(h.peers)))
}

// Count returns the number of connected peers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Relay forwards frame from one peer to all others and, when configured, to
// the other relay nodes.
func (h *Hub) Relay(ctx context.Context, from *Peer, frame []byte) {
	h.fanOut(from, frame)

	if h.rdb == nil {
		return
	}
	payload, err := json.Marshal(nodeEnvelope{Node: h.nodeID, Frame: string(frame)})
	if err != nil {
		return
	}
	if err := h.rdb.Publish(ctx, BroadcastChannel, payload).Err(); err != nil {
		observability.Logger.WarnContext(ctx, "relay node publish failed", slog.String("error", err.Error()))
	}
}

func (h *Hub) fanOut(from *Peer, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p == from {
			continue
		}
		p.TrySend(frame)
	}
}

// StartWiring subscribes to frames published by other relay nodes until ctx
// is done.
func (h *Hub) StartWiring(ctx context.Context) error {
	if h.rdb == nil {
		return nil
	}
	sub := h.rdb.Subscribe(ctx, BroadcastChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.Logger.Error("PANIC in relay node subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					var env nodeEnvelope
					if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Node == h.nodeID {
						return
					}
					h.fanOut(nil, []byte(env.Frame))
				}()
			}
		}
	}()
	return nil
}

// Handler upgrades the request and serves it as a peer.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		p, err := h.Register(conn)
		if err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
			_ = conn.Close()
			return
		}
		go p.WritePump()
		p.ReadPump()
	})
}

// Shutdown closes every connection.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for p := range h.peers {
		if p.Conn != nil {
			_ = p.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
				time.Now().Add(writeWait))
			_ = p.Conn.Close()
		}
		close(p.Send)
	}
	h.peers = make(map[*Peer]struct{})
	observability.RelayPeers.Set(0)
	return nil
}

// UpgradeRequired rejects plain HTTP requests on the websocket route.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
