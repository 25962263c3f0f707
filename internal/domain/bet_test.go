package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(f float64) *float64 { return &f }

func TestStopLossBreached(t *testing.T) {
	up := Bet{Direction: DirectionUp, EntryPrice: 100, StopLoss: ptr(2)}
	assert.False(t, up.StopLossBreached(98.1))
	assert.True(t, up.StopLossBreached(98))
	assert.True(t, up.StopLossBreached(97.9))
	assert.False(t, up.StopLossBreached(150))

	down := Bet{Direction: DirectionDown, EntryPrice: 100, StopLoss: ptr(2)}
	assert.True(t, down.StopLossBreached(102))
	assert.False(t, down.StopLossBreached(101.9))

	none := Bet{Direction: DirectionUp, EntryPrice: 100, StopLoss: ptr(0)}
	assert.False(t, none.StopLossBreached(0))
}

func TestExpiryOutcome(t *testing.T) {
	down := Bet{Direction: DirectionDown, EntryPrice: 50}
	assert.Equal(t, OutcomeWon, down.ExpiryOutcome(49.9))
	assert.Equal(t, OutcomeLost, down.ExpiryOutcome(50.1))
	assert.Equal(t, OutcomeLost, down.ExpiryOutcome(50))

	up := Bet{Direction: DirectionUp, EntryPrice: 50}
	assert.Equal(t, OutcomeWon, up.ExpiryOutcome(50.1))
	assert.Equal(t, OutcomeLost, up.ExpiryOutcome(50))
}

func TestBetRequestValidate(t *testing.T) {
	ok := BetRequest{Direction: DirectionUp, Stake: 10, DurationSeconds: 5}
	assert.NoError(t, ok.Validate())

	bad := []BetRequest{
		{Direction: "left", Stake: 10, DurationSeconds: 5},
		{Direction: DirectionUp, Stake: 0, DurationSeconds: 5},
		{Direction: DirectionUp, Stake: math.NaN(), DurationSeconds: 5},
		{Direction: DirectionUp, Stake: 10, DurationSeconds: 0},
		{Direction: DirectionUp, Stake: 10, DurationSeconds: 5, StrikePrice: ptr(math.Inf(1))},
		{Direction: DirectionUp, Stake: 10, DurationSeconds: 5, StrikePrice: ptr(0)},
		{Direction: DirectionUp, Stake: 10, DurationSeconds: 5, StopLoss: ptr(-1)},
	}
	for _, r := range bad {
		assert.ErrorIs(t, r.Validate(), ErrValidation, "%+v", r)
	}
}

func TestPayout(t *testing.T) {
	assert.Equal(t, 8.0, Payout(OutcomeWon, 10, 0.8))
	assert.Equal(t, -10.0, Payout(OutcomeLost, 10, 0.8))
	assert.Equal(t, -10.0, Payout(OutcomeStopped, 10, 0.8))
	assert.Equal(t, 0.3, ApplyPnL(0.1, 0.2))
}

func TestParseSymbolKey(t *testing.T) {
	p, tk, err := ParseSymbolKey("BINANCE:BTCUSDT")
	assert.NoError(t, err)
	assert.Equal(t, "BINANCE", p)
	assert.Equal(t, "BTCUSDT", tk)

	for _, k := range []SymbolKey{"", "BTCUSDT", "A:B:C", ":X", "X:"} {
		_, _, err := ParseSymbolKey(k)
		assert.ErrorIs(t, err, ErrValidation, "key %q", k)
	}
	assert.Equal(t, SymbolKey("OANDA:EURUSD"), NewSymbolKey("oanda", "EUR/USD"))
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("UP")
	assert.NoError(t, err)
	assert.Equal(t, DirectionUp, d)
	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, ErrValidation)
}
