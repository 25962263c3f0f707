// Package betting runs one user's wager lifecycle: optional strike arming,
// a per-second countdown, stop-loss supervision and a single settlement.
package betting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/feed"
	"github.com/coderashu-1/Trade/internal/gate"
	"github.com/coderashu-1/Trade/internal/trigger"
	"github.com/google/uuid"
)

const (
	DefaultTickInterval   = time.Second
	DefaultPayoutRatio    = 0.8
	DefaultPersistTimeout = 10 * time.Second
)

// PriceSource is the router surface the engine consumes.
type PriceSource interface {
	trigger.Source
	LastPrice(key domain.SymbolKey) (domain.PriceSample, bool)
}

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	TickInterval   time.Duration
	PayoutRatio    float64
	PersistTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.PayoutRatio <= 0 {
		c.PayoutRatio = DefaultPayoutRatio
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	return c
}

// Deps are the engine's collaborators. Markers and OnSettled are optional.
type Deps struct {
	Prices    PriceSource
	Balances  domain.BalanceReader
	Recorder  domain.BetRecorder
	Markers   domain.MarkerSink
	OnSettled func(domain.Settlement)
	Logger    *slog.Logger
}

// Snapshot is a point-in-time view of an engine.
type Snapshot struct {
	UserID         string             `json:"user_id"`
	State          domain.BetState    `json:"state"`
	Key            domain.SymbolKey   `json:"key"`
	Bet            *domain.Bet        `json:"bet,omitempty"`
	SecondsLeft    int                `json:"seconds_left"`
	LastPrice      *float64           `json:"last_price,omitempty"`
	LastSettlement *domain.Settlement `json:"last_settlement,omitempty"`
}

type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Engine owns one session's wager. Every transition happens under mu; the
// countdown goroutine and the live-price handler both take it before
// evaluating resolution, and a per-bet gate admits exactly one resolver.
type Engine struct {
	cfg       Config
	deps      Deps
	userID    string
	logger    *slog.Logger
	newTicker tickerFunc

	mu             sync.Mutex
	closed         bool
	state          domain.BetState
	key            domain.SymbolKey
	live           *feed.Subscription
	lastPrice      float64
	lastAt         time.Time
	hasPrice       bool
	bet            *domain.Bet
	monitor        *trigger.Monitor
	remaining      int
	stopCountdown  chan struct{}
	resolving      *gate.Gate
	lastSettlement *domain.Settlement

	wg sync.WaitGroup
}

// New creates an engine for userID watching key.
func New(userID string, key domain.SymbolKey, cfg Config, deps Deps) (*Engine, error) {
	if userID == "" {
		return nil, fmt.Errorf("betting: empty user id: %w", domain.ErrValidation)
	}
	if deps.Prices == nil || deps.Balances == nil || deps.Recorder == nil {
		return nil, fmt.Errorf("betting: prices, balances and recorder are required: %w", domain.ErrValidation)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{
		cfg:       cfg.withDefaults(),
		deps:      deps,
		userID:    userID,
		logger:    deps.Logger.With(slog.String("component", "bet_engine"), slog.String("user_id", userID)),
		newTicker: realTicker,
		state:     domain.BetStateIdle,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.watchLocked(key); err != nil {
		return nil, err
	}
	return e, nil
}

// UserID returns the session owner.
func (e *Engine) UserID() string { return e.userID }

// StartBet opens a wager on the current symbol. With a strike price the bet
// waits in Pending until the strike is crossed; otherwise it enters at the
// latest known price.
func (e *Engine) StartBet(ctx context.Context, req domain.BetRequest) (domain.Bet, error) {
	if err := req.Validate(); err != nil {
		return domain.Bet{}, fmt.Errorf("betting: start: %w", err)
	}

	e.mu.Lock()
	if err := e.idleLocked(); err != nil {
		e.mu.Unlock()
		return domain.Bet{}, err
	}
	key := e.key
	e.mu.Unlock()

	balance, err := e.deps.Balances.GetBalance(ctx, e.userID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("betting: read balance: %w", err)
	}
	if req.Stake > balance {
		return domain.Bet{}, fmt.Errorf("betting: stake %.2f exceeds balance %.2f: %w: %w",
			req.Stake, balance, domain.ErrValidation, domain.ErrInsufficientBalance)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// State may have moved while the balance was read.
	if err := e.idleLocked(); err != nil {
		return domain.Bet{}, err
	}
	if e.key != key {
		return domain.Bet{}, fmt.Errorf("betting: symbol changed during start: %w", domain.ErrValidation)
	}

	bet := domain.Bet{
		ID:              uuid.NewString(),
		UserID:          e.userID,
		Key:             key,
		Direction:       req.Direction,
		Stake:           req.Stake,
		DurationSeconds: req.DurationSeconds,
		StrikePrice:     req.StrikePrice,
		StopLoss:        req.StopLoss,
		RequestedAt:     time.Now(),
	}

	if bet.StrikePrice != nil {
		betID := bet.ID
		mon, err := trigger.Arm(e.deps.Prices, trigger.Params{
			Key:       key,
			Direction: bet.Direction,
			Strike:    *bet.StrikePrice,
		}, func(s domain.PriceSample) { e.onStrike(betID, s) })
		if err != nil {
			return domain.Bet{}, fmt.Errorf("betting: arm strike: %w", err)
		}
		e.bet = &bet
		e.monitor = mon
		e.state = domain.BetStatePending
		e.logger.Info("bet pending",
			slog.String("bet_id", bet.ID),
			slog.String("key", string(key)),
			slog.String("direction", string(bet.Direction)),
			slog.Float64("strike", *bet.StrikePrice),
		)
		return bet, nil
	}

	price, ok := e.currentPriceLocked()
	if !ok {
		return domain.Bet{}, fmt.Errorf("betting: %s: %w", key, domain.ErrPriceUnavailable)
	}
	e.bet = &bet
	e.activateLocked(price)
	return *e.bet, nil
}

// CancelPending disarms a bet that is still waiting for its strike.
func (e *Engine) CancelPending() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != domain.BetStatePending {
		return fmt.Errorf("betting: no pending bet (state %s): %w", e.state, domain.ErrValidation)
	}
	e.cancelPendingLocked()
	return nil
}

// SetSymbol switches the instrument. A pending bet is cancelled; an active
// or settling bet makes the switch fail.
func (e *Engine) SetSymbol(key domain.SymbolKey) error {
	key = domain.NormalizeKey(string(key))
	if _, _, err := domain.ParseSymbolKey(key); err != nil {
		return fmt.Errorf("betting: set symbol: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("betting: set symbol: %w", domain.ErrClosed)
	}
	switch e.state {
	case domain.BetStateActive, domain.BetStateResolved:
		return fmt.Errorf("betting: cannot change symbol while %s: %w", e.state, domain.ErrValidation)
	case domain.BetStatePending:
		e.cancelPendingLocked()
	}
	if key == e.key {
		return nil
	}
	return e.watchLocked(key)
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		UserID:         e.userID,
		State:          e.state,
		Key:            e.key,
		SecondsLeft:    e.remaining,
		LastSettlement: e.lastSettlement,
	}
	if e.bet != nil {
		b := *e.bet
		snap.Bet = &b
	}
	if e.hasPrice {
		p := e.lastPrice
		snap.LastPrice = &p
	}
	return snap
}

// Close stops the countdown, the strike monitor and the live listener
// without producing a resolution. A settlement already being persisted is
// allowed to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.wg.Wait()
		return
	}
	e.closed = true
	if e.monitor != nil {
		e.monitor.Cancel()
		e.monitor = nil
	}
	if e.resolving != nil {
		e.resolving.Trip()
	}
	e.stopCountdownLocked()
	if e.live != nil {
		e.live.Unsubscribe()
		e.live = nil
	}
	if e.state != domain.BetStateResolved {
		e.state = domain.BetStateIdle
		e.bet = nil
		e.remaining = 0
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// --------------------------------------------------------------------------
// Internal methods; names ending in Locked require e.mu.
// --------------------------------------------------------------------------

func (e *Engine) idleLocked() error {
	if e.closed {
		return fmt.Errorf("betting: %w", domain.ErrClosed)
	}
	if e.state != domain.BetStateIdle {
		return fmt.Errorf("betting: bet already %s: %w", e.state, domain.ErrValidation)
	}
	return nil
}

func (e *Engine) watchLocked(key domain.SymbolKey) error {
	sub, err := e.deps.Prices.Subscribe(key, e.onLive)
	if err != nil {
		return fmt.Errorf("betting: watch %s: %w", key, err)
	}
	if e.live != nil {
		e.live.Unsubscribe()
	}
	e.live = sub
	e.key = sub.Key()
	e.hasPrice = false
	e.lastPrice = 0
	e.lastAt = time.Time{}
	return nil
}

// currentPriceLocked prefers the router's latest sample, since the engine's
// own copy arrives through its mailbox and can lag.
func (e *Engine) currentPriceLocked() (float64, bool) {
	if s, ok := e.deps.Prices.LastPrice(e.key); ok {
		e.observeLocked(s)
		return e.lastPrice, true
	}
	if e.hasPrice {
		return e.lastPrice, true
	}
	return 0, false
}

// observeLocked records s unless a later sample is already known. The live
// listener and the strike monitor deliver on separate goroutines.
func (e *Engine) observeLocked(s domain.PriceSample) {
	if e.hasPrice && s.ObservedAt.Before(e.lastAt) {
		return
	}
	e.lastPrice, e.lastAt, e.hasPrice = s.Price, s.ObservedAt, true
}

func (e *Engine) cancelPendingLocked() {
	if e.monitor != nil {
		e.monitor.Cancel()
		e.monitor = nil
	}
	if e.bet != nil {
		e.logger.Info("pending bet cancelled", slog.String("bet_id", e.bet.ID))
	}
	e.bet = nil
	e.state = domain.BetStateIdle
}

func (e *Engine) onLive(s domain.PriceSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || s.Key != e.key {
		return
	}
	e.observeLocked(s)

	if e.state == domain.BetStateActive && e.bet.StopLossBreached(e.lastPrice) {
		e.resolveLocked(domain.OutcomeStopped, e.lastPrice)
	}
}

func (e *Engine) onStrike(betID string, s domain.PriceSample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != domain.BetStatePending || e.bet == nil || e.bet.ID != betID {
		return
	}
	e.monitor = nil
	e.observeLocked(s)
	e.activateLocked(s.Price)
}

func (e *Engine) activateLocked(entry float64) {
	e.bet.EntryPrice = entry
	e.bet.EnteredAt = time.Now()
	e.state = domain.BetStateActive
	e.remaining = e.bet.DurationSeconds
	e.resolving = &gate.Gate{}

	stop := make(chan struct{})
	e.stopCountdown = stop
	tick, stopTicker := e.newTicker(e.cfg.TickInterval)
	go e.countdown(e.bet.ID, tick, stopTicker, stop)

	bet := *e.bet
	e.logger.Info("bet active",
		slog.String("bet_id", bet.ID),
		slog.String("key", string(bet.Key)),
		slog.String("direction", string(bet.Direction)),
		slog.Float64("entry", entry),
		slog.Int("duration_s", bet.DurationSeconds),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
		defer cancel()
		e.mark(ctx, bet, domain.MarkerEntry, entry, bet.EnteredAt)
	}()

	// Ticks newer than the entry may already be known when a strike fires.
	if e.hasPrice && e.bet.StopLossBreached(e.lastPrice) {
		e.resolveLocked(domain.OutcomeStopped, e.lastPrice)
	}
}

func (e *Engine) countdown(betID string, tick <-chan time.Time, stopTicker func(), stop <-chan struct{}) {
	defer stopTicker()
	for {
		select {
		case <-stop:
			return
		case <-tick:
			if e.countdownTick(betID) {
				return
			}
		}
	}
}

// countdownTick runs one decrement. Stop-loss is checked first, then the
// deadline. It reports whether the countdown is finished.
func (e *Engine) countdownTick(betID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state != domain.BetStateActive || e.bet == nil || e.bet.ID != betID {
		return true
	}

	current := e.lastPrice
	if !e.hasPrice {
		current = e.bet.EntryPrice
	}
	if e.bet.StopLossBreached(current) {
		e.resolveLocked(domain.OutcomeStopped, current)
		return true
	}
	if e.remaining <= 1 {
		e.remaining = 0
		e.resolveLocked(e.bet.ExpiryOutcome(current), current)
		return true
	}
	e.remaining--
	return false
}

func (e *Engine) stopCountdownLocked() {
	if e.stopCountdown != nil {
		close(e.stopCountdown)
		e.stopCountdown = nil
	}
}

// resolveLocked commits a resolution if this caller is the first. The
// countdown and stop-loss evaluation end together with the commit since
// both require state Active.
func (e *Engine) resolveLocked(outcome domain.Outcome, exit float64) {
	if e.resolving == nil || !e.resolving.Trip() {
		return
	}
	e.state = domain.BetStateResolved
	e.stopCountdownLocked()

	res := domain.Resolution{
		Outcome:     outcome,
		ExitPrice:   exit,
		Bet:         *e.bet,
		SecondsLeft: e.remaining,
		ResolvedAt:  time.Now(),
	}
	e.logger.Info("bet resolved",
		slog.String("bet_id", res.Bet.ID),
		slog.String("outcome", string(outcome)),
		slog.Float64("entry", res.Bet.EntryPrice),
		slog.Float64("exit", exit),
		slog.Int("seconds_left", res.SecondsLeft),
	)

	e.wg.Add(1)
	go e.finalize(res)
}

// finalize runs outside the lock: exit marker, persistence, publication,
// then back to Idle.
func (e *Engine) finalize(res domain.Resolution) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
	defer cancel()

	e.mark(ctx, res.Bet, domain.MarkerExit, res.ExitPrice, res.ResolvedAt)

	pnl := domain.Payout(res.Outcome, res.Bet.Stake, e.cfg.PayoutRatio)
	settlement := domain.Settlement{Resolution: res, PnL: pnl}
	if err := e.deps.Recorder.RecordBet(ctx, domain.NewBetRecord(res, pnl)); err != nil {
		settlement.Err = fmt.Errorf("betting: record bet %s: %w: %w", res.Bet.ID, domain.ErrPersistence, err)
		e.logger.Error("failed to record bet",
			slog.String("bet_id", res.Bet.ID),
			slog.String("error", err.Error()),
		)
	}

	if e.deps.OnSettled != nil {
		e.deps.OnSettled(settlement)
	}

	e.mu.Lock()
	e.lastSettlement = &settlement
	if e.bet != nil && e.bet.ID == res.Bet.ID {
		e.bet = nil
		e.resolving = nil
		e.remaining = 0
		e.state = domain.BetStateIdle
	}
	e.mu.Unlock()
}

func (e *Engine) mark(ctx context.Context, bet domain.Bet, kind domain.MarkerKind, price float64, at time.Time) {
	if e.deps.Markers == nil {
		return
	}
	label := "Entry"
	if kind == domain.MarkerExit {
		label = "Exit"
	}
	m := domain.Marker{
		UserID:    bet.UserID,
		BetID:     bet.ID,
		Key:       bet.Key,
		Kind:      kind,
		Direction: bet.Direction,
		Price:     price,
		Time:      at,
		Text:      fmt.Sprintf("%s %.2f", label, price),
	}
	if err := e.deps.Markers.AddMarker(ctx, m); err != nil {
		e.logger.Warn("failed to add marker",
			slog.String("bet_id", bet.ID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
