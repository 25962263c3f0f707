package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/gorilla/websocket"
)

// DefaultStreamURL is the all-market rolling ticker stream.
const DefaultStreamURL = "wss://stream.binance.com:9443/ws/!ticker@arr"

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// MessageHandler receives every text frame read from the stream.
type MessageHandler func(raw []byte)

// WSClient is a single websocket session against a Binance market stream.
// It does not reconnect; the caller owns the retry policy.
type WSClient struct {
	url    string
	dialer websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSClient creates a client for the given stream URL.
func NewWSClient(url string) *WSClient {
	if url == "" {
		url = DefaultStreamURL
	}
	return &WSClient{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Connect dials the stream.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w: %w", domain.ErrFeedTransport, err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// Binance pings every few minutes and expects the payload echoed.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	w.conn = conn
	return nil
}

// Run reads frames and hands them to fn until the connection drops, ctx is
// cancelled or Close is called. It always returns a non-nil error.
func (w *WSClient) Run(ctx context.Context, fn MessageHandler) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("binance/ws: not connected: %w", domain.ErrWSDisconnect)
	}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = w.Close()
		case <-stop:
		}
	}()
	go w.pingLoop(conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance/ws: read: %w: %w", domain.ErrFeedTransport, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		fn(message)
	}
}

// Close shuts down the connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.conn != nil {
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return w.conn.Close()
	}
	return nil
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
