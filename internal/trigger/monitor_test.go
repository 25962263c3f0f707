package trigger

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = domain.SymbolKey("BINANCE:BTCUSDT")

func newRouter(t *testing.T) *feed.Router {
	t.Helper()
	r := feed.NewRouter(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(r.Close)
	return r
}

func tick(r *feed.Router, p float64) {
	r.Ingest(domain.PriceSample{Key: key, Price: p, ObservedAt: time.Now()})
}

type fires struct {
	mu     sync.Mutex
	prices []float64
}

func (f *fires) record(s domain.PriceSample) {
	f.mu.Lock()
	f.prices = append(f.prices, s.Price)
	f.mu.Unlock()
}

func (f *fires) get() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.prices...)
}

func TestParamsCrossed(t *testing.T) {
	up := Params{Key: key, Direction: domain.DirectionUp, Strike: 105}
	assert.False(t, up.Crossed(104.9))
	assert.True(t, up.Crossed(105))
	assert.True(t, up.Crossed(105.2))

	down := Params{Key: key, Direction: domain.DirectionDown, Strike: 95}
	assert.False(t, down.Crossed(95.1))
	assert.True(t, down.Crossed(95))
	assert.True(t, down.Crossed(90))
}

func TestParamsValidate(t *testing.T) {
	for _, p := range []Params{
		{Direction: domain.DirectionUp, Strike: 1},
		{Key: key, Direction: "sideways", Strike: 1},
		{Key: key, Direction: domain.DirectionUp, Strike: 0},
		{Key: key, Direction: domain.DirectionUp, Strike: -1},
		{Key: key, Direction: domain.DirectionUp, Strike: math.NaN()},
		{Key: key, Direction: domain.DirectionUp, Strike: math.Inf(1)},
	} {
		assert.ErrorIs(t, p.Validate(), domain.ErrValidation, "%+v", p)
	}
}

func TestMonitorFiresOnceOnCrossing(t *testing.T) {
	r := newRouter(t)
	var f fires
	m, err := Arm(r, Params{Key: key, Direction: domain.DirectionUp, Strike: 105}, f.record)
	require.NoError(t, err)

	tick(r, 104.5)
	tick(r, 104.9)
	tick(r, 105.2)
	tick(r, 106)
	tick(r, 110)

	require.Eventually(t, func() bool { return len(f.get()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.Subscribers(key) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []float64{105.2}, f.get())
	assert.True(t, m.Fired())
}

func TestMonitorFiresFromCachedPrice(t *testing.T) {
	r := newRouter(t)
	tick(r, 90)

	var f fires
	m, err := Arm(r, Params{Key: key, Direction: domain.DirectionDown, Strike: 95}, f.record)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{90}, f.get())
	assert.True(t, m.Fired())
	require.Eventually(t, func() bool { return r.Subscribers(key) == 0 }, time.Second, 5*time.Millisecond)
}

func TestMonitorCancelSuppressesFire(t *testing.T) {
	r := newRouter(t)
	var f fires
	m, err := Arm(r, Params{Key: key, Direction: domain.DirectionUp, Strike: 105}, f.record)
	require.NoError(t, err)

	m.Cancel()
	m.Cancel()
	assert.Equal(t, 0, r.Subscribers(key))

	tick(r, 200)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.get())
	assert.False(t, m.Fired())
}

func TestMonitorCancelInsideCallback(t *testing.T) {
	r := newRouter(t)
	var (
		m   *Monitor
		mu  sync.Mutex
		got int
	)
	ready := make(chan struct{})
	mon, err := Arm(r, Params{Key: key, Direction: domain.DirectionUp, Strike: 1}, func(domain.PriceSample) {
		<-ready
		mu.Lock()
		got++
		mu.Unlock()
		m.Cancel()
	})
	require.NoError(t, err)
	m = mon
	close(ready)

	tick(r, 2)
	tick(r, 3)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, got)
	mu.Unlock()
}

func TestArmRejectsInvalidParams(t *testing.T) {
	r := newRouter(t)
	_, err := Arm(r, Params{Key: key, Direction: domain.DirectionUp, Strike: 0}, func(domain.PriceSample) {})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = Arm(r, Params{Key: key, Direction: domain.DirectionUp, Strike: 1}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, r.Subscribers(key))
}
