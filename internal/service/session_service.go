package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coderashu-1/Trade/internal/betting"
	"github.com/coderashu-1/Trade/internal/domain"
)

const (
	DefaultLockTTL        = 30 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

// Seeder loads a session's opening bars and seeds the router.
type Seeder interface {
	Seed(ctx context.Context, key domain.SymbolKey) ([]domain.Candle, error)
}

// SettlementNotifier announces settlements to operators.
type SettlementNotifier interface {
	NotifySettlement(ctx context.Context, s domain.Settlement) error
}

// SessionConfig tunes the session service.
type SessionConfig struct {
	LockTTL time.Duration
	// StartingBalance is credited to users without a balance on open.
	StartingBalance float64
	Engine          betting.Config
}

// SessionDeps are the session service's collaborators. Bus, Locks, Seeder
// and Notifier are optional.
type SessionDeps struct {
	Prices   betting.PriceSource
	Store    domain.BetStore
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Seeder   Seeder
	Notifier SettlementNotifier
	Logger   *slog.Logger
}

// SettlementEvent is the payload published on domain.ChannelSettlements and
// appended to domain.StreamSettlements.
type SettlementEvent struct {
	BetID      string           `json:"bet_id"`
	UserID     string           `json:"user_id"`
	Key        domain.SymbolKey `json:"key"`
	Direction  domain.Direction `json:"direction"`
	Outcome    domain.Outcome   `json:"outcome"`
	Stake      float64          `json:"stake"`
	EntryPrice float64          `json:"entry_price"`
	ExitPrice  float64          `json:"exit_price"`
	PnL        float64          `json:"pnl"`
	ResolvedAt time.Time        `json:"resolved_at"`
	Error      string           `json:"error,omitempty"`
}

// NewSettlementEvent flattens a settlement for publication.
func NewSettlementEvent(s domain.Settlement) SettlementEvent {
	bet := s.Resolution.Bet
	ev := SettlementEvent{
		BetID:      bet.ID,
		UserID:     bet.UserID,
		Key:        bet.Key,
		Direction:  bet.Direction,
		Outcome:    s.Resolution.Outcome,
		Stake:      bet.Stake,
		EntryPrice: bet.EntryPrice,
		ExitPrice:  s.Resolution.ExitPrice,
		PnL:        s.PnL,
		ResolvedAt: s.Resolution.ResolvedAt,
	}
	if s.Err != nil {
		ev.Error = s.Err.Error()
	}
	return ev
}

type session struct {
	engine   *betting.Engine
	release  func()
	openedAt time.Time
}

// SessionStatus is a session snapshot plus bookkeeping.
type SessionStatus struct {
	betting.Snapshot
	OpenedAt time.Time `json:"opened_at"`
	Balance  *float64  `json:"balance,omitempty"`
}

// SessionService runs one bet engine per user on the shared router. A
// distributed lock keeps a user's session on a single process.
type SessionService struct {
	cfg    SessionConfig
	deps   SessionDeps
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
}

// NewSessionService creates a SessionService.
func NewSessionService(cfg SessionConfig, deps SessionDeps) (*SessionService, error) {
	if deps.Prices == nil || deps.Store == nil {
		return nil, fmt.Errorf("session_service: prices and store are required: %w", domain.ErrValidation)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &SessionService{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With(slog.String("component", "session_service")),
		sessions: make(map[string]*session),
	}, nil
}

func sessionLockKey(userID string) string {
	return "session:" + userID
}

// Open starts a session for userID on key. Opening an existing session
// switches its symbol instead.
func (s *SessionService) Open(ctx context.Context, userID string, key domain.SymbolKey) (SessionStatus, error) {
	if userID == "" {
		return SessionStatus{}, fmt.Errorf("session_service: empty user id: %w", domain.ErrValidation)
	}
	key = domain.NormalizeKey(string(key))
	if _, _, err := domain.ParseSymbolKey(key); err != nil {
		return SessionStatus{}, fmt.Errorf("session_service: open: %w", err)
	}

	if _, ok := s.lookup(userID); ok {
		return s.SetSymbol(ctx, userID, key)
	}

	release := func() {}
	if s.deps.Locks != nil {
		r, err := s.deps.Locks.Hold(ctx, sessionLockKey(userID), s.cfg.LockTTL)
		if err != nil {
			return SessionStatus{}, fmt.Errorf("session_service: open %s: %w", userID, err)
		}
		release = r
	}

	if err := s.ensureBalance(ctx, userID); err != nil {
		release()
		return SessionStatus{}, err
	}
	s.seed(ctx, key)

	deps := betting.Deps{
		Prices:    s.deps.Prices,
		Balances:  s.deps.Store,
		Recorder:  s.deps.Store,
		OnSettled: s.onSettled,
		Logger:    s.deps.Logger,
	}
	if s.deps.Bus != nil {
		deps.Markers = NewBusMarkerSink(s.deps.Bus)
	}
	engine, err := betting.New(userID, key, s.cfg.Engine, deps)
	if err != nil {
		release()
		return SessionStatus{}, fmt.Errorf("session_service: open %s: %w", userID, err)
	}

	sess := &session{engine: engine, release: release, openedAt: time.Now()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		engine.Close()
		release()
		return SessionStatus{}, fmt.Errorf("session_service: open %s: %w", userID, domain.ErrClosed)
	}
	if _, dup := s.sessions[userID]; dup {
		// Lost a race with a concurrent Open in this process.
		s.mu.Unlock()
		engine.Close()
		release()
		return s.Status(ctx, userID)
	}
	s.sessions[userID] = sess
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session opened",
		slog.String("user_id", userID),
		slog.String("key", string(key)),
	)
	return s.status(ctx, sess), nil
}

// Close ends userID's session. A bet in flight is dropped without a
// resolution.
func (s *SessionService) Close(ctx context.Context, userID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session_service: session %s: %w", userID, domain.ErrNotFound)
	}

	sess.engine.Close()
	sess.release()
	s.logger.InfoContext(ctx, "session closed", slog.String("user_id", userID))
	return nil
}

// CloseAll ends every session and refuses new ones.
func (s *SessionService) CloseAll() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.Close()
		sess.release()
	}
}

// StartBet places a bet in userID's session.
func (s *SessionService) StartBet(ctx context.Context, userID string, req domain.BetRequest) (domain.Bet, error) {
	sess, err := s.get(userID)
	if err != nil {
		return domain.Bet{}, err
	}
	bet, err := sess.engine.StartBet(ctx, req)
	if err != nil {
		return domain.Bet{}, err
	}
	s.logger.InfoContext(ctx, "bet placed",
		slog.String("user_id", userID),
		slog.String("bet_id", bet.ID),
		slog.String("key", string(bet.Key)),
		slog.String("direction", string(bet.Direction)),
		slog.Float64("stake", bet.Stake),
	)
	return bet, nil
}

// CancelPending withdraws userID's bet that is still waiting for its strike.
func (s *SessionService) CancelPending(_ context.Context, userID string) error {
	sess, err := s.get(userID)
	if err != nil {
		return err
	}
	return sess.engine.CancelPending()
}

// SetSymbol moves userID's session to another instrument.
func (s *SessionService) SetSymbol(ctx context.Context, userID string, key domain.SymbolKey) (SessionStatus, error) {
	sess, err := s.get(userID)
	if err != nil {
		return SessionStatus{}, err
	}
	key = domain.NormalizeKey(string(key))
	if err := sess.engine.SetSymbol(key); err != nil {
		return SessionStatus{}, err
	}
	s.seed(ctx, key)
	return s.status(ctx, sess), nil
}

// Status returns userID's session state.
func (s *SessionService) Status(ctx context.Context, userID string) (SessionStatus, error) {
	sess, err := s.get(userID)
	if err != nil {
		return SessionStatus{}, err
	}
	return s.status(ctx, sess), nil
}

// List returns every open session ordered by user id.
func (s *SessionService) List(ctx context.Context) []SessionStatus {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.status(ctx, sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Count returns the number of open sessions.
func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionService) lookup(userID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

func (s *SessionService) get(userID string) (*session, error) {
	sess, ok := s.lookup(userID)
	if !ok {
		return nil, fmt.Errorf("session_service: session %s: %w", userID, domain.ErrNotFound)
	}
	return sess, nil
}

func (s *SessionService) status(ctx context.Context, sess *session) SessionStatus {
	st := SessionStatus{Snapshot: sess.engine.Snapshot(), OpenedAt: sess.openedAt}
	if bal, err := s.deps.Store.GetBalance(ctx, st.UserID); err == nil {
		st.Balance = &bal
	}
	return st
}

func (s *SessionService) ensureBalance(ctx context.Context, userID string) error {
	_, err := s.deps.Store.GetBalance(ctx, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		if err := s.deps.Store.SetBalance(ctx, userID, s.cfg.StartingBalance); err != nil {
			return fmt.Errorf("session_service: initial balance %s: %w", userID, err)
		}
		return nil
	default:
		return fmt.Errorf("session_service: balance %s: %w", userID, err)
	}
}

// seed is best effort: a session can still bet once live ticks arrive.
func (s *SessionService) seed(ctx context.Context, key domain.SymbolKey) {
	if s.deps.Seeder == nil {
		return
	}
	if _, err := s.deps.Seeder.Seed(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "history seed failed",
			slog.String("key", string(key)),
			slog.String("error", err.Error()),
		)
	}
}

// onSettled runs on the engine's finalize goroutine and must not close the
// engine.
func (s *SessionService) onSettled(st domain.Settlement) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultPublishTimeout)
	defer cancel()

	ev := NewSettlementEvent(st)
	logger := s.logger.With(slog.String("user_id", ev.UserID), slog.String("bet_id", ev.BetID))
	logger.InfoContext(ctx, "bet settled",
		slog.String("outcome", string(ev.Outcome)),
		slog.Float64("pnl", ev.PnL),
		slog.Bool("recorded", st.Err == nil),
	)

	if s.deps.Bus != nil {
		data, err := json.Marshal(ev)
		if err == nil {
			if err := s.deps.Bus.Publish(ctx, domain.ChannelSettlements, data); err != nil {
				logger.WarnContext(ctx, "publish settlement failed", slog.String("error", err.Error()))
			}
			if err := s.deps.Bus.StreamAppend(ctx, domain.StreamSettlements, data); err != nil {
				logger.WarnContext(ctx, "append settlement to stream failed", slog.String("error", err.Error()))
			}
		}
	}

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifySettlement(ctx, st); err != nil {
			logger.WarnContext(ctx, "settlement notification failed", slog.String("error", err.Error()))
		}
	}
}
