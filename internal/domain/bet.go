package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a binary wager.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// ParseDirection accepts "up"/"down" in any case.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case DirectionUp, DirectionDown:
		return d, nil
	}
	return "", fmt.Errorf("domain: direction %q: %w", s, ErrValidation)
}

// Outcome is the terminal result of a bet.
type Outcome string

const (
	OutcomeWon     Outcome = "won"
	OutcomeLost    Outcome = "lost"
	OutcomeStopped Outcome = "stopped"
)

// BetState is the lifecycle state of a session's wager.
type BetState string

const (
	BetStateIdle     BetState = "idle"
	BetStatePending  BetState = "pending"
	BetStateActive   BetState = "active"
	BetStateResolved BetState = "resolved"
)

// Bet is a single directional wager. StrikePrice and StopLoss are optional.
type Bet struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Key             SymbolKey `json:"key"`
	Direction       Direction `json:"direction"`
	Stake           float64   `json:"stake"`
	EntryPrice      float64   `json:"entry_price"`
	DurationSeconds int       `json:"duration_seconds"`
	StrikePrice     *float64  `json:"strike_price,omitempty"`
	StopLoss        *float64  `json:"stop_loss,omitempty"`
	RequestedAt     time.Time `json:"requested_at"`
	EnteredAt       time.Time `json:"entered_at"`
}

// HasStopLoss reports whether a positive stop-loss threshold is configured.
func (b Bet) HasStopLoss() bool {
	return b.StopLoss != nil && *b.StopLoss > 0
}

// Movement returns the adverse price movement of current relative to entry.
// Positive values are losses for the bet's direction.
func (b Bet) Movement(current float64) float64 {
	if b.Direction == DirectionUp {
		return b.EntryPrice - current
	}
	return current - b.EntryPrice
}

// StopLossBreached applies the stop-loss rule: adverse movement at or beyond
// the threshold.
func (b Bet) StopLossBreached(current float64) bool {
	if !b.HasStopLoss() {
		return false
	}
	return b.Movement(current) >= *b.StopLoss
}

// ExpiryOutcome decides a bet at its deadline. Only a strict improvement over
// the entry price wins; ties lose in both directions.
func (b Bet) ExpiryOutcome(current float64) Outcome {
	if (b.Direction == DirectionUp && current > b.EntryPrice) ||
		(b.Direction == DirectionDown && current < b.EntryPrice) {
		return OutcomeWon
	}
	return OutcomeLost
}

// BetRequest is what a caller asks the engine to open. Entry price and
// timing are decided by the engine.
type BetRequest struct {
	Direction       Direction `json:"direction"`
	Stake           float64   `json:"stake"`
	DurationSeconds int       `json:"duration_seconds"`
	StrikePrice     *float64  `json:"strike_price,omitempty"`
	StopLoss        *float64  `json:"stop_loss,omitempty"`
}

// Validate checks the request fields that do not depend on account state.
func (r BetRequest) Validate() error {
	if !r.Direction.Valid() {
		return fmt.Errorf("domain: direction %q: %w", r.Direction, ErrValidation)
	}
	if !IsFinite(r.Stake) || r.Stake <= 0 {
		return fmt.Errorf("domain: stake must be > 0: %w", ErrValidation)
	}
	if r.DurationSeconds <= 0 {
		return fmt.Errorf("domain: duration must be > 0: %w", ErrValidation)
	}
	if r.StrikePrice != nil && (!IsFinite(*r.StrikePrice) || *r.StrikePrice <= 0) {
		return fmt.Errorf("domain: strike price must be a positive number: %w", ErrValidation)
	}
	if r.StopLoss != nil && (!IsFinite(*r.StopLoss) || *r.StopLoss < 0) {
		return fmt.Errorf("domain: stop loss must be >= 0: %w", ErrValidation)
	}
	return nil
}

// Resolution is the terminal, exactly-once result of a Bet.
type Resolution struct {
	Outcome     Outcome   `json:"outcome"`
	ExitPrice   float64   `json:"exit_price"`
	Bet         Bet       `json:"bet"`
	SecondsLeft int       `json:"seconds_left"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Settlement is published after the engine attempted to persist a Resolution.
// Err is non-nil (wrapping ErrPersistence) when recording failed; the
// Resolution stands regardless.
type Settlement struct {
	Resolution Resolution `json:"resolution"`
	PnL        float64    `json:"pnl"`
	Err        error      `json:"-"`
}

// BetRecord is the persistence payload for a resolved bet.
type BetRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Key         SymbolKey `json:"key"`
	Direction   Direction `json:"direction"`
	Outcome     Outcome   `json:"outcome"`
	Stake       float64   `json:"stake"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	StrikePrice *float64  `json:"strike_price,omitempty"`
	StopLoss    *float64  `json:"stop_loss,omitempty"`
	PnL         float64   `json:"pnl"`
	EnteredAt   time.Time `json:"entered_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// NewBetRecord builds the persistence payload for a resolution.
func NewBetRecord(r Resolution, pnl float64) BetRecord {
	return BetRecord{
		ID:          r.Bet.ID,
		UserID:      r.Bet.UserID,
		Key:         r.Bet.Key,
		Direction:   r.Bet.Direction,
		Outcome:     r.Outcome,
		Stake:       r.Bet.Stake,
		EntryPrice:  r.Bet.EntryPrice,
		ExitPrice:   r.ExitPrice,
		StrikePrice: r.Bet.StrikePrice,
		StopLoss:    r.Bet.StopLoss,
		PnL:         pnl,
		EnteredAt:   r.Bet.EnteredAt,
		ResolvedAt:  r.ResolvedAt,
	}
}

// Payout returns the balance change for a resolved stake. A win credits
// stake*ratio; a loss or stop debits the stake. Rounded to 8 decimals.
func Payout(outcome Outcome, stake, ratio float64) float64 {
	s := decimal.NewFromFloat(stake)
	var pnl decimal.Decimal
	if outcome == OutcomeWon {
		pnl = s.Mul(decimal.NewFromFloat(ratio))
	} else {
		pnl = s.Neg()
	}
	return pnl.Round(8).InexactFloat64()
}

// ApplyPnL adds pnl to balance using decimal arithmetic so repeated
// settlements do not accumulate float drift.
func ApplyPnL(balance, pnl float64) float64 {
	return decimal.NewFromFloat(balance).Add(decimal.NewFromFloat(pnl)).Round(8).InexactFloat64()
}

// MarkerKind distinguishes entry and exit annotations.
type MarkerKind string

const (
	MarkerEntry MarkerKind = "entry"
	MarkerExit  MarkerKind = "exit"
)

// Marker is a chart annotation keyed by time and price.
type Marker struct {
	UserID    string     `json:"user_id"`
	BetID     string     `json:"bet_id"`
	Key       SymbolKey  `json:"key"`
	Kind      MarkerKind `json:"kind"`
	Direction Direction  `json:"direction"`
	Price     float64    `json:"price"`
	Time      time.Time  `json:"time"`
	Text      string     `json:"text"`
}
