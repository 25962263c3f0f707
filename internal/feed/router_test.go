package feed

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu      sync.Mutex
	samples []domain.PriceSample
}

func (r *recorder) handle(s domain.PriceSample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recorder) prices() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.samples))
	for i, s := range r.samples {
		out[i] = s.Price
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, n int) []float64 {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.prices()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.prices()
}

const btc = domain.SymbolKey("BINANCE:BTCUSDT")

func sample(key domain.SymbolKey, p float64) domain.PriceSample {
	return domain.PriceSample{Key: key, Price: p, ObservedAt: time.Now()}
}

func TestRouterLateSubscriberReplay(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	r.Ingest(sample(btc, 100.5))

	var rec recorder
	_, err := r.Subscribe(btc, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, []float64{100.5}, rec.waitFor(t, 1))

	r.Ingest(sample(btc, 101))
	assert.Equal(t, []float64{100.5, 101}, rec.waitFor(t, 2))
}

func TestRouterNoReplayWithoutCache(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	var rec recorder
	_, err := r.Subscribe(btc, rec.handle)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.prices())
}

func TestRouterFanOutPreservesOrder(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	var a, b recorder
	_, err := r.Subscribe(btc, a.handle)
	require.NoError(t, err)
	_, err = r.Subscribe(btc, b.handle)
	require.NoError(t, err)

	want := make([]float64, 0, 50)
	for i := 0; i < 50; i++ {
		p := 100 + float64(i)
		want = append(want, p)
		r.Ingest(sample(btc, p))
	}
	assert.Equal(t, want, a.waitFor(t, 50))
	assert.Equal(t, want, b.waitFor(t, 50))
}

func TestRouterOnlyMatchingKey(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	var rec recorder
	_, err := r.Subscribe(btc, rec.handle)
	require.NoError(t, err)

	r.Ingest(sample("BINANCE:ETHUSDT", 3000))
	r.Ingest(sample(btc, 1))
	assert.Equal(t, []float64{1}, rec.waitFor(t, 1))
}

func TestRouterDropsInvalidSamples(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	var rec recorder
	_, err := r.Subscribe(btc, rec.handle)
	require.NoError(t, err)

	r.Ingest(sample(btc, math.NaN()))
	r.Ingest(sample(btc, math.Inf(1)))
	r.Ingest(sample("", 10))
	r.Ingest(sample(btc, 42))

	assert.Equal(t, []float64{42}, rec.waitFor(t, 1))
	last, ok := r.LastPrice(btc)
	require.True(t, ok)
	assert.Equal(t, 42.0, last.Price)
}

func TestRouterNormalizesKeys(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	var rec recorder
	_, err := r.Subscribe(" binance:btcusdt ", rec.handle)
	require.NoError(t, err)

	r.Ingest(sample("Binance:BtcUsdt", 7))
	assert.Equal(t, []float64{7}, rec.waitFor(t, 1))
	assert.Equal(t, 1, r.Subscribers(btc))
}

func TestRouterHandlerPanicIsIsolated(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	_, err := r.Subscribe(btc, func(domain.PriceSample) { panic("boom") })
	require.NoError(t, err)
	var rec recorder
	_, err = r.Subscribe(btc, rec.handle)
	require.NoError(t, err)

	r.Ingest(sample(btc, 1))
	r.Ingest(sample(btc, 2))
	assert.Equal(t, []float64{1, 2}, rec.waitFor(t, 2))
}

func TestRouterUnsubscribeIdempotentAndEvicts(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	var rec recorder
	sub, err := r.Subscribe(btc, rec.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Keys())

	sub.Unsubscribe()
	sub.Unsubscribe()
	r.Unsubscribe(sub)

	assert.Equal(t, 0, r.Subscribers(btc))
	assert.Equal(t, 0, r.Keys())

	r.Ingest(sample(btc, 5))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.prices())
}

func TestRouterUnsubscribeFromHandler(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	var (
		mu    sync.Mutex
		calls int
		sub   *Subscription
	)
	ready := make(chan struct{})
	s, err := r.Subscribe(btc, func(domain.PriceSample) {
		<-ready
		mu.Lock()
		calls++
		mu.Unlock()
		sub.Unsubscribe()
	})
	require.NoError(t, err)
	sub = s
	close(ready)

	for i := 0; i < 10; i++ {
		r.Ingest(sample(btc, float64(i+1)))
	}
	require.Eventually(t, func() bool { return r.Subscribers(btc) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestRouterSlowHandlerDoesNotBlockIngest(t *testing.T) {
	r := NewRouter(0, testLogger())
	defer r.Close()

	release := make(chan struct{})
	_, err := r.Subscribe(btc, func(domain.PriceSample) { <-release })
	require.NoError(t, err)
	var fast recorder
	_, err = r.Subscribe(btc, fast.handle)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Ingest(sample(btc, float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ingest blocked by slow subscriber")
	}
	fast.waitFor(t, 100)
	close(release)
}

func TestRouterCacheBounded(t *testing.T) {
	r := NewRouter(2, testLogger())
	defer r.Close()

	watched := domain.SymbolKey("BINANCE:AAA")
	_, err := r.Subscribe(watched, func(domain.PriceSample) {})
	require.NoError(t, err)

	r.Ingest(sample(watched, 1))
	r.Ingest(sample("BINANCE:BBB", 2))
	r.Ingest(sample("BINANCE:CCC", 3))

	assert.Equal(t, 2, r.CachedKeys())
	_, ok := r.LastPrice(watched)
	assert.True(t, ok, "subscribed symbol must stay cached")
	_, ok = r.LastPrice("BINANCE:BBB")
	assert.False(t, ok)
	_, ok = r.LastPrice("BINANCE:CCC")
	assert.True(t, ok)
}

func TestRouterSubscribeValidation(t *testing.T) {
	r := NewRouter(0, testLogger())

	_, err := r.Subscribe("", func(domain.PriceSample) {})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = r.Subscribe(btc, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	r.Close()
	r.Close()
	_, err = r.Subscribe(btc, func(domain.PriceSample) {})
	assert.ErrorIs(t, err, domain.ErrClosed)
}
