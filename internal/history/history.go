// Package history supplies the bar series shown when a session opens and
// seeds the router with its last close.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
)

const (
	DefaultInterval       = "1m"
	DefaultLimit          = 500
	DefaultSyntheticCount = 200
)

// KlineFetcher loads exchange bars. *binance.RESTClient satisfies it.
type KlineFetcher interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// PriceSeeder is the router surface used for seeding.
type PriceSeeder interface {
	Ingest(domain.PriceSample)
	LastPrice(key domain.SymbolKey) (domain.PriceSample, bool)
}

// Config controls bar retrieval.
type Config struct {
	Interval       string
	Limit          int
	SyntheticCount int
}

// Service implements domain.CandleSource. Binance keys are served from the
// exchange; every other provider gets a deterministic synthetic series.
type Service struct {
	cfg     Config
	klines  KlineFetcher
	seeder  PriceSeeder
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewService creates a Service. seeder may be nil.
func NewService(cfg Config, klines KlineFetcher, seeder PriceSeeder, logger *slog.Logger) *Service {
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.SyntheticCount <= 0 {
		cfg.SyntheticCount = DefaultSyntheticCount
	}
	return &Service{
		cfg:     cfg,
		klines:  klines,
		seeder:  seeder,
		logger:  logger.With(slog.String("component", "history")),
		nowFunc: time.Now,
	}
}

// Candles returns up to limit bars for key, oldest first. limit <= 0 uses
// the configured default.
func (s *Service) Candles(ctx context.Context, key domain.SymbolKey, limit int) ([]domain.Candle, error) {
	provider, ticker, err := domain.ParseSymbolKey(domain.NormalizeKey(string(key)))
	if err != nil {
		return nil, fmt.Errorf("history: candles: %w", err)
	}

	if provider != domain.ProviderBinance {
		n := s.cfg.SyntheticCount
		if limit > 0 && limit < n {
			n = limit
		}
		return Synthetic(s.nowFunc(), n), nil
	}

	if limit <= 0 {
		limit = s.cfg.Limit
	}
	if s.klines == nil {
		return nil, fmt.Errorf("history: no kline source for %s: %w", key, domain.ErrPriceUnavailable)
	}
	candles, err := s.klines.Klines(ctx, ticker, s.cfg.Interval, limit)
	if err != nil {
		return nil, fmt.Errorf("history: candles %s: %w", key, err)
	}
	return candles, nil
}

// Seed loads bars for key and, when the router has no price for it yet,
// ingests the last close so a session can enter before the first live tick.
// It returns the bars it loaded.
func (s *Service) Seed(ctx context.Context, key domain.SymbolKey) ([]domain.Candle, error) {
	key = domain.NormalizeKey(string(key))
	candles, err := s.Candles(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	if s.seeder == nil || len(candles) == 0 {
		return candles, nil
	}
	if _, ok := s.seeder.LastPrice(key); ok {
		return candles, nil
	}

	last := candles[len(candles)-1]
	s.seeder.Ingest(domain.PriceSample{Key: key, Price: last.Close, ObservedAt: last.Time})
	s.logger.Debug("seeded price from history",
		slog.String("key", string(key)),
		slog.Float64("price", last.Close),
	)
	return candles, nil
}

// Synthetic builds n one-minute bars ending at now: a slow sine wave with a
// slight upward drift around 100.
func Synthetic(now time.Time, n int) []domain.Candle {
	end := now.Truncate(time.Second)
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		price := 100 + math.Sin(float64(i)/10)*2 + float64(i)*0.01
		out[i] = domain.Candle{
			Time:  end.Add(-time.Duration(n-i) * time.Minute),
			Open:  price * 0.995,
			High:  price * 1.005,
			Low:   price * 0.99,
			Close: price,
		}
	}
	return out
}
