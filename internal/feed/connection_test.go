package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWSServer creates a test websocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type sinkFunc func(domain.PriceSample)

func (f sinkFunc) Ingest(s domain.PriceSample) { f(s) }

func TestConnectionForwardsTicks(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"s":"btcusdt","c":"43000.5"},{"s":"ETHUSDT","c":"2200"}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	router := NewRouter(0, testLogger())
	defer router.Close()

	c := NewConnection(ConnectionConfig{URL: wsURL(server), BaseDelay: 10 * time.Millisecond}, router, testLogger())
	c.Start(context.Background())
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool {
		_, ok := router.LastPrice("BINANCE:ETHUSDT")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	btc, ok := router.LastPrice("BINANCE:BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 43000.5, btc.Price)
	assert.True(t, c.Connected())
	assert.Eventually(t, func() bool { return c.Ticks() == 2 }, time.Second, 5*time.Millisecond)
}

func TestConnectionReconnectsAfterClose(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		price := "2"
		if n == 1 {
			price = "1"
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`[{"s":"BTCUSDT","c":"`+price+`"}]`))
		// Drop the first connection right away, keep later ones open.
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var (
		mu     sync.Mutex
		prices []float64
	)
	sink := sinkFunc(func(s domain.PriceSample) {
		mu.Lock()
		prices = append(prices, s.Price)
		mu.Unlock()
	})

	c := NewConnection(ConnectionConfig{URL: wsURL(server), BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}, sink, testLogger())
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(prices) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []float64{1, 2}, prices[:2])
	mu.Unlock()
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestConnectionRetriesUnreachableUpstream(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewConnection(ConnectionConfig{URL: wsURL(server), BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		sinkFunc(func(domain.PriceSample) {}), testLogger())
	c.Start(context.Background())

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, c.Connected())

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

func TestConnectionCloseWithoutStart(t *testing.T) {
	c := NewConnection(ConnectionConfig{}, sinkFunc(func(domain.PriceSample) {}), testLogger())
	c.Close()
	c.Close()
	c.Start(context.Background())
	assert.False(t, c.Connected())
}
