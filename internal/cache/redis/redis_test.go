package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestPriceCache(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c, time.Minute)

	_, _, err := pc.GetPrice(ctx, "BINANCE:BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Unix(1700000000, 123)
	require.NoError(t, pc.SetPrice(ctx, "BINANCE:BTCUSDT", 43000.25, ts))
	require.NoError(t, pc.SetPrice(ctx, "BINANCE:ETHUSDT", 2200, ts))

	price, got, err := pc.GetPrice(ctx, "BINANCE:BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 43000.25, price)
	assert.True(t, ts.Equal(got))

	prices, err := pc.GetPrices(ctx, []domain.SymbolKey{"BINANCE:BTCUSDT", "BINANCE:ETHUSDT", "BINANCE:NOPE"})
	require.NoError(t, err)
	assert.Equal(t, map[domain.SymbolKey]float64{"BINANCE:BTCUSDT": 43000.25, "BINANCE:ETHUSDT": 2200}, prices)

	mr.FastForward(2 * time.Minute)
	_, _, err = pc.GetPrice(ctx, "BINANCE:BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "session:u1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "session:u1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()
	assert.False(t, mr.Exists("lock:session:u1"))

	again, err := lm.Acquire(ctx, "session:u1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockManagerUnlockKeepsForeignToken(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// Lock expires and someone else takes it.
	mr.FastForward(2 * time.Second)
	other, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists("lock:k"))
	other()
	assert.False(t, mr.Exists("lock:k"))
}

func TestLockManagerHoldRenews(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	release, err := lm.Hold(ctx, "session:u2", 300*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mr.TTL("lock:session:u2") > 0
	}, time.Second, 10*time.Millisecond)

	// miniredis only expires keys on FastForward; a renewal resets the TTL.
	mr.FastForward(250 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("lock:session:u2") > 200*time.Millisecond
	}, time.Second, 10*time.Millisecond)

	release()
	assert.False(t, mr.Exists("lock:session:u2"))
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip:1", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Millisecond)
	}
	ok, err := rl.Allow(ctx, "ip:1", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "ip:2", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, err = rl.Allow(ctx, "ip:1", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus(c, 0)

	ch, err := bus.Subscribe(ctx, "ch:markers:*")
	require.NoError(t, err)

	require.NoError(t, bus.PublishJSON(ctx, domain.MarkerChannel("u1"), map[string]string{"kind": "entry"}))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"kind":"entry"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	bus := NewSignalBus(c, 100)

	msgs, err := bus.StreamRead(ctx, domain.StreamSettlements, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamSettlements, []byte(`{"n":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamSettlements, []byte(`{"n":2}`)))

	msgs, err = bus.StreamRead(ctx, domain.StreamSettlements, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"n":1}`, string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, domain.StreamSettlements, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, `{"n":2}`, string(rest[0].Payload))
}
