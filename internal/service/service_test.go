package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coderashu-1/Trade/internal/betting"
	cacheredis "github.com/coderashu-1/Trade/internal/cache/redis"
	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/feed"
	"github.com/coderashu-1/Trade/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btc = domain.SymbolKey("BINANCE:BTCUSDT")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	router *feed.Router
	store  *memory.Store
	client *cacheredis.Client
	bus    *cacheredis.SignalBus
	locks  *cacheredis.LockManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cacheredis.New(context.Background(), cacheredis.ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	router := feed.NewRouter(0, testLogger())
	t.Cleanup(router.Close)

	return &fixture{
		router: router,
		store:  memory.New(),
		client: client,
		bus:    cacheredis.NewSignalBus(client, 100),
		locks:  cacheredis.NewLockManager(client),
	}
}

type countingSeeder struct{ calls []domain.SymbolKey }

func (c *countingSeeder) Seed(_ context.Context, key domain.SymbolKey) ([]domain.Candle, error) {
	c.calls = append(c.calls, key)
	return nil, nil
}

func (f *fixture) sessions(t *testing.T, seeder Seeder) *SessionService {
	t.Helper()
	svc, err := NewSessionService(SessionConfig{
		StartingBalance: 1000,
		Engine:          betting.Config{TickInterval: 10 * time.Millisecond},
	}, SessionDeps{
		Prices: f.router,
		Store:  f.store,
		Locks:  f.locks,
		Bus:    f.bus,
		Seeder: seeder,
		Logger: testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(svc.CloseAll)
	return svc
}

func TestSessionOpenCreditsAndLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seeder := &countingSeeder{}
	svc := f.sessions(t, seeder)

	st, err := svc.Open(ctx, "u1", "binance:btcusdt")
	require.NoError(t, err)
	assert.Equal(t, domain.BetStateIdle, st.State)
	assert.Equal(t, btc, st.Key)
	require.NotNil(t, st.Balance)
	assert.Equal(t, 1000.0, *st.Balance)
	assert.Equal(t, []domain.SymbolKey{btc}, seeder.calls)

	other := f.sessions(t, nil)
	_, err = other.Open(ctx, "u1", btc)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, svc.Close(ctx, "u1"))
	_, err = svc.Status(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = other.Open(ctx, "u1", btc)
	assert.NoError(t, err)
}

func TestSessionOpenValidation(t *testing.T) {
	svc := newFixture(t).sessions(t, nil)
	_, err := svc.Open(context.Background(), "", btc)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.Open(context.Background(), "u1", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSessionBetSettlesAndPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	svc := f.sessions(t, nil)

	settlements, err := f.bus.Subscribe(ctx, domain.ChannelSettlements)
	require.NoError(t, err)
	markers, err := f.bus.Subscribe(ctx, domain.MarkerChannel("u1"))
	require.NoError(t, err)

	_, err = svc.Open(ctx, "u1", btc)
	require.NoError(t, err)
	f.router.Ingest(domain.PriceSample{Key: btc, Price: 100})

	bet, err := svc.StartBet(ctx, "u1", domain.BetRequest{
		Direction:       domain.DirectionUp,
		Stake:           10,
		DurationSeconds: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, bet.EntryPrice)

	f.router.Ingest(domain.PriceSample{Key: btc, Price: 101})

	var ev SettlementEvent
	select {
	case raw := <-settlements:
		require.NoError(t, json.Unmarshal(raw, &ev))
	case <-time.After(5 * time.Second):
		t.Fatal("no settlement published")
	}
	assert.Equal(t, bet.ID, ev.BetID)
	assert.Equal(t, domain.OutcomeWon, ev.Outcome)
	assert.Equal(t, 8.0, ev.PnL)
	assert.Empty(t, ev.Error)

	var kinds []domain.MarkerKind
	for len(kinds) < 2 {
		select {
		case raw := <-markers:
			var m domain.Marker
			require.NoError(t, json.Unmarshal(raw, &m))
			kinds = append(kinds, m.Kind)
		case <-time.After(5 * time.Second):
			t.Fatalf("markers received: %v", kinds)
		}
	}
	assert.ElementsMatch(t, []domain.MarkerKind{domain.MarkerEntry, domain.MarkerExit}, kinds)

	assert.Eventually(t, func() bool {
		bal, err := f.store.GetBalance(ctx, "u1")
		return err == nil && bal == 1008
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := f.bus.StreamRead(ctx, domain.StreamSettlements, "0", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	assert.Eventually(t, func() bool {
		st, err := svc.Status(ctx, "u1")
		return err == nil && st.State == domain.BetStateIdle && st.LastSettlement != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionStartBetWithoutPrice(t *testing.T) {
	ctx := context.Background()
	svc := newFixture(t).sessions(t, nil)
	_, err := svc.Open(ctx, "u1", btc)
	require.NoError(t, err)

	_, err = svc.StartBet(ctx, "u1", domain.BetRequest{Direction: domain.DirectionDown, Stake: 1, DurationSeconds: 5})
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	_, err = svc.StartBet(ctx, "nobody", domain.BetRequest{Direction: domain.DirectionDown, Stake: 1, DurationSeconds: 5})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionReopenSwitchesSymbol(t *testing.T) {
	ctx := context.Background()
	svc := newFixture(t).sessions(t, nil)
	_, err := svc.Open(ctx, "u1", btc)
	require.NoError(t, err)

	st, err := svc.Open(ctx, "u1", "BINANCE:ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.SymbolKey("BINANCE:ETHUSDT"), st.Key)
	assert.Equal(t, 1, svc.Count())
	require.Len(t, svc.List(ctx), 1)
}

func TestSessionCancelPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.sessions(t, nil)
	_, err := svc.Open(ctx, "u1", btc)
	require.NoError(t, err)

	strike := 105.0
	_, err = svc.StartBet(ctx, "u1", domain.BetRequest{
		Direction: domain.DirectionUp, Stake: 1, DurationSeconds: 5, StrikePrice: &strike,
	})
	require.NoError(t, err)
	st, err := svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatePending, st.State)

	require.NoError(t, svc.CancelPending(ctx, "u1"))
	st, err = svc.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.BetStateIdle, st.State)
}

func TestPriceServiceMirrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	cache := cacheredis.NewPriceCache(f.client, time.Minute)
	ps := NewPriceService(f.router, cache, f.bus, testLogger())

	prices, err := f.bus.Subscribe(ctx, domain.ChannelPrices)
	require.NoError(t, err)
	go func() { _ = ps.Run(ctx) }()

	ps.Ingest(domain.PriceSample{Key: "binance:btcusdt", Price: 43000.5})

	got, err := ps.Price(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, 43000.5, got.Price)

	select {
	case raw := <-prices:
		var u PriceUpdate
		require.NoError(t, json.Unmarshal(raw, &u))
		assert.Equal(t, btc, u.Key)
		assert.Equal(t, 43000.5, u.Price)
	case <-time.After(5 * time.Second):
		t.Fatal("no price published")
	}

	assert.Eventually(t, func() bool {
		p, _, err := cache.GetPrice(ctx, btc)
		return err == nil && p == 43000.5
	}, 2*time.Second, 10*time.Millisecond)

	// A router without the key falls back to the shared cache.
	fresh := NewPriceService(feed.NewRouter(0, testLogger()), cache, nil, testLogger())
	got, err = fresh.Price(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, 43000.5, got.Price)

	_, err = fresh.Price(ctx, "BINANCE:NOPE")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestPriceServiceDropsInvalid(t *testing.T) {
	f := newFixture(t)
	ps := NewPriceService(f.router, nil, f.bus, testLogger())
	ps.Ingest(domain.PriceSample{Key: btc, Price: math.NaN()})
	ps.mu.Lock()
	defer ps.mu.Unlock()
	assert.Empty(t, ps.pending)
}
