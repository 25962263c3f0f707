package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/platform/binance"
)

// Sink consumes normalized samples. *Router and the price service satisfy it.
type Sink interface {
	Ingest(domain.PriceSample)
}

// ConnectionConfig configures the upstream stream and its retry policy.
type ConnectionConfig struct {
	URL       string
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Connection keeps one streaming connection to the upstream price source
// alive and forwards every tick it reads to a Sink. Reconnects are silent;
// the only visible effect of an outage is the absence of samples.
type Connection struct {
	cfg    ConnectionConfig
	sink   Sink
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	connected atomic.Bool
	ticks     atomic.Int64
}

// NewConnection creates a Connection. Nothing is dialed until Start.
func NewConnection(cfg ConnectionConfig, sink Sink, logger *slog.Logger) *Connection {
	if cfg.URL == "" {
		cfg.URL = binance.DefaultStreamURL
	}
	return &Connection{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "feed_connection")),
		done:   make(chan struct{}),
	}
}

// Start launches the background connection loop. Repeated calls are no-ops.
func (c *Connection) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
}

// Close stops the loop and waits for the socket to be released.
func (c *Connection) Close() {
	c.mu.Lock()
	started, cancel := c.started, c.cancel
	c.started = true
	c.mu.Unlock()

	if cancel == nil {
		if !started {
			close(c.done)
		}
		return
	}
	cancel()
	<-c.done
}

// Connected reports whether a socket is currently open. Health checks only.
func (c *Connection) Connected() bool { return c.connected.Load() }

// Ticks returns how many samples have been forwarded since start.
func (c *Connection) Ticks() int64 { return c.ticks.Load() }

func (c *Connection) loop(ctx context.Context) {
	defer close(c.done)

	backoff := NewBackoff(c.cfg.BaseDelay, c.cfg.MaxDelay)
	for {
		err := c.session(ctx, backoff)
		if ctx.Err() != nil {
			return
		}

		delay := backoff.Next()
		attrs := []any{
			slog.Int("attempt", backoff.Attempt()),
			slog.Duration("delay", delay),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		c.logger.Warn("price stream lost, reconnecting", attrs...)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one connect-read cycle and returns why it ended.
func (c *Connection) session(ctx context.Context, backoff *Backoff) error {
	client := binance.NewWSClient(c.cfg.URL)
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	backoff.Reset()
	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info("price stream connected", slog.String("url", c.cfg.URL))

	return client.Run(ctx, c.handleFrame)
}

func (c *Connection) handleFrame(raw []byte) {
	samples, dropped, err := binance.ParseTickers(raw, time.Now())
	if err != nil {
		c.logger.Warn("dropping malformed frame",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(raw)),
		)
		return
	}
	if dropped > 0 {
		c.logger.Debug("dropped invalid tickers", slog.Int("count", dropped))
	}
	for _, s := range samples {
		c.sink.Ingest(s)
	}
	c.ticks.Add(int64(len(samples)))
}
