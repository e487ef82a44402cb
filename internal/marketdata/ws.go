// Package marketdata adapts a broker's WebSocket tick feed to the price
// lookups the monitoring loop needs.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Tick is one last-traded-price update for an instrument.
type Tick struct {
	Symbol string    `json:"symbol"`
	LTP    float64   `json:"ltp"`
	At     time.Time `json:"ts"`
}

// TickHandler is called for every tick received on the feed.
type TickHandler func(Tick)

// wsCommand is the subscribe/unsubscribe envelope sent to the feed server.
type wsCommand struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// WSClient is a WebSocket client for the broker's market data feed. It manages
// one connection, tracks subscriptions so they can be restored after a
// reconnect, and dispatches ticks to registered handlers. Reconnection policy
// lives in Feed, not here.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// writeMu serializes writes to the connection: gorilla/websocket allows
	// only one concurrent writer, and pings race subscribe commands without it.
	writeMu sync.Mutex

	// Symbols to re-subscribe after reconnect.
	subscribed []string

	handlerMu sync.RWMutex
	handlers  []TickHandler

	// done is closed when the client is shut down.
	done chan struct{}

	// disconnected is closed by the read loop when the connection drops.
	// Replaced on every successful Connect.
	disconnected chan struct{}
}

// NewWSClient creates a new client for the given feed endpoint.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:        wsURL,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection, starts the read and ping
// loops, and restores any previous subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("marketdata: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("marketdata: connect: %w", err)
	}

	w.conn = conn

	disc := make(chan struct{})
	var discOnce sync.Once
	markDisconnected := func() { discOnce.Do(func() { close(disc) }) }
	w.disconnected = disc

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn, markDisconnected)
	go w.pingLoop(conn, markDisconnected)

	if len(w.subscribed) > 0 {
		if err := w.sendCommand(wsCommand{Type: "subscribe", Symbols: w.subscribed}); err != nil {
			return fmt.Errorf("marketdata: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe registers interest in the given symbols. Already-subscribed
// symbols are skipped.
func (w *WSClient) Subscribe(_ context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("marketdata: not connected")
	}

	known := make(map[string]struct{}, len(w.subscribed))
	for _, s := range w.subscribed {
		known[s] = struct{}{}
	}
	var fresh []string
	for _, s := range symbols {
		if _, ok := known[s]; !ok {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	if err := w.sendCommand(wsCommand{Type: "subscribe", Symbols: fresh}); err != nil {
		return fmt.Errorf("marketdata: subscribe: %w", err)
	}
	w.subscribed = append(w.subscribed, fresh...)
	return nil
}

// OnTick registers a handler invoked for every tick.
func (w *WSClient) OnTick(handler TickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Disconnected returns a channel closed when the current connection drops.
func (w *WSClient) Disconnected() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.disconnected
}

// Close shuts down the connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		w.writeMu.Lock()
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		w.writeMu.Unlock()
		return w.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu
// for the subscription bookkeeping; the write itself serializes on writeMu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// writePing sends a keep-alive ping, serialized with command writes.
func (w *WSClient) writePing(conn *websocket.Conn) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// readLoop reads ticks until the connection drops or the client is closed.
func (w *WSClient) readLoop(conn *websocket.Conn, markDisconnected func()) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			markDisconnected()
			return
		}
		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn, markDisconnected func()) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.writePing(conn); err != nil {
				markDisconnected()
				return
			}
		}
	}
}

// handleMessage parses a raw message and dispatches ticks. Unparseable
// messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Type != "tick" {
		return
	}

	var tick Tick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return
	}
	if tick.At.IsZero() {
		tick.At = time.Now()
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
}
