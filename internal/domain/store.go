package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BalanceReader reads a user's available balance.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (float64, error)
}

// BetRecorder persists a resolved bet and applies its PnL to the balance.
type BetRecorder interface {
	RecordBet(ctx context.Context, rec BetRecord) error
}

// BetStore is the full persistence port for bets and balances.
type BetStore interface {
	BalanceReader
	BetRecorder
	SetBalance(ctx context.Context, userID string, balance float64) error
	GetBet(ctx context.Context, id string) (BetRecord, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]BetRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]BetRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CandleSource supplies the historical bar series used to seed a session.
type CandleSource interface {
	Candles(ctx context.Context, key SymbolKey, limit int) ([]Candle, error)
}

// MarkerSink receives chart annotations. Delivery is best effort.
type MarkerSink interface {
	AddMarker(ctx context.Context, m Marker) error
}
