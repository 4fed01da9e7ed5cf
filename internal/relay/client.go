// Package relay carries change signals between devices over a websocket
// relay: Client is the per-context connection, Hub is the relay node.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"infinityforum/internal/bus"
	"infinityforum/internal/observability"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	defaultSendBuffer = 64
)

var (
	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("relay not connected")
	// ErrBufferFull is returned by Send when the outbound queue is full.
	ErrBufferFull = errors.New("relay send buffer full")
)

// Options configures a Client.
type Options struct {
	URL            string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SendBuffer     int
	Dialer         *websocket.Dialer
}

// Client keeps one websocket connection to the relay open, reconnecting with
// exponential backoff. It is a bus.Forwarder.
type Client struct {
	opts    Options
	handler func(ctx context.Context, msg bus.Message)
	breaker *gobreaker.CircuitBreaker
	log     *observability.RelayLogger

	mu        sync.Mutex
	send      chan []byte
	connected chan struct{}
	// queued messages not yet handed to the connection
	pending atomic.Int64
}

// NewClient returns a client delivering decoded inbound messages to handler.
func NewClient(opts Options, handler func(ctx context.Context, msg bus.Message)) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}

	c := &Client{
		opts:      opts,
		handler:   handler,
		log:       observability.NewRelayLogger(opts.URL),
		connected: make(chan struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relay-dial",
		MaxRequests: 1,
		Timeout:     opts.MaxBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.LogLifecycle(context.Background(), "breaker_state", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return c
}

// Run connects and reconnects until ctx is done. It returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.InitialBackoff
	bo.MaxInterval = c.opts.MaxBackoff

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			bo.Reset()
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			c.log.LogError(ctx, err, "dial")
		}

		if ctx.Err() != nil {
			return nil
		}

		wait := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil
		case <-wait.C:
		}
		observability.RelayReconnects.Inc()
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*websocket.Conn), nil
}

// serve runs the pumps for one connection and returns once it is gone.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	send := make(chan []byte, c.opts.SendBuffer)

	c.mu.Lock()
	c.send = send
	close(c.connected)
	c.mu.Unlock()

	observability.RelayConnected.Set(1)
	c.log.LogConnect(ctx)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump(conn, send)
	}()

	reason := c.readPump(ctx, conn)

	c.mu.Lock()
	c.send = nil
	c.connected = make(chan struct{})
	c.mu.Unlock()
	close(send)
	<-written
	c.pending.Store(0)

	observability.RelayConnected.Set(0)
	c.log.LogDisconnect(ctx, reason)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) string {
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "shutdown"
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.LogError(ctx, err, "read")
			}
			return err.Error()
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := bus.Decode(data)
		if err != nil {
			observability.BusDropped.WithLabelValues(string(bus.PathRelay), "decode").Inc()
			c.log.LogError(ctx, err, "decode")
			continue
		}
		c.log.LogMessage(ctx, string(msg.Kind))
		if c.handler != nil {
			c.handler(ctx, msg)
		}
	}
}

// writePump drains send until it is closed. Messages still queued when the
// connection drops are discarded with the channel.
func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			err := conn.WriteMessage(websocket.TextMessage, message)
			c.pending.Add(-1)
			if err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send queues msg for the relay. It never blocks; while disconnected or
// when the queue is full the message is dropped and an error returned.
func (c *Client) Send(msg bus.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return ErrNotConnected
	}
	c.pending.Add(1)
	select {
	case c.send <- raw:
		return nil
	default:
		c.pending.Add(-1)
		return ErrBufferFull
	}
}

// Flush waits until every queued message has been written or the connection
// is gone. It returns ctx.Err() if ctx ends first.
func (c *Client) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for c.pending.Load() > 0 && c.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// WaitConnected blocks until a connection is up or ctx is done.
func (c *Client) WaitConnected(ctx context.Context) error {
	c.mu.Lock()
	ch := c.connected
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send != nil
}
