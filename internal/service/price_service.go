package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
)

// PriceRouter is the in-process router the price service feeds.
type PriceRouter interface {
	Ingest(s domain.PriceSample)
	LastPrice(key domain.SymbolKey) (domain.PriceSample, bool)
}

// PriceUpdate is the payload published on domain.ChannelPrices.
type PriceUpdate struct {
	Key        domain.SymbolKey `json:"key"`
	Price      float64          `json:"price"`
	ObservedAt time.Time        `json:"observed_at"`
}

// PriceService delivers every sample to the local router and mirrors it to
// the shared price cache and the prices channel. The mirror coalesces per key
// so a slow Redis never backs up the feed.
type PriceService struct {
	router PriceRouter
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger

	mu      sync.Mutex
	pending map[domain.SymbolKey]domain.PriceSample
	wake    chan struct{}

	mirrored atomic.Int64
}

// NewPriceService creates a PriceService. cache and bus may be nil, in which
// case the mirror is skipped.
func NewPriceService(router PriceRouter, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *PriceService {
	return &PriceService{
		router:  router,
		cache:   cache,
		bus:     bus,
		logger:  logger.With(slog.String("component", "price_service")),
		pending: make(map[domain.SymbolKey]domain.PriceSample),
		wake:    make(chan struct{}, 1),
	}
}

// Ingest implements feed.Sink.
func (s *PriceService) Ingest(sample domain.PriceSample) {
	s.router.Ingest(sample)
	if s.cache == nil && s.bus == nil {
		return
	}
	if !sample.Valid() {
		return
	}
	sample.Key = domain.NormalizeKey(string(sample.Key))
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = time.Now()
	}

	s.mu.Lock()
	s.pending[sample.Key] = sample
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains the mirror until ctx is cancelled.
func (s *PriceService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}

		s.mu.Lock()
		batch := s.pending
		s.pending = make(map[domain.SymbolKey]domain.PriceSample, len(batch))
		s.mu.Unlock()

		for _, sample := range batch {
			s.mirror(ctx, sample)
		}
	}
}

// Mirrored returns how many samples reached the mirror.
func (s *PriceService) Mirrored() int64 {
	return s.mirrored.Load()
}

// Price returns the latest price for key, preferring the local router and
// falling back to the shared cache.
func (s *PriceService) Price(ctx context.Context, key domain.SymbolKey) (PriceUpdate, error) {
	key = domain.NormalizeKey(string(key))
	if sample, ok := s.router.LastPrice(key); ok {
		return PriceUpdate{Key: key, Price: sample.Price, ObservedAt: sample.ObservedAt}, nil
	}
	if s.cache == nil {
		return PriceUpdate{}, fmt.Errorf("price_service: %s: %w", key, domain.ErrPriceUnavailable)
	}
	price, ts, err := s.cache.GetPrice(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return PriceUpdate{}, fmt.Errorf("price_service: %s: %w", key, domain.ErrPriceUnavailable)
	}
	if err != nil {
		return PriceUpdate{}, fmt.Errorf("price_service: %s: %w", key, err)
	}
	return PriceUpdate{Key: key, Price: price, ObservedAt: ts}, nil
}

func (s *PriceService) mirror(ctx context.Context, sample domain.PriceSample) {
	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, sample.Key, sample.Price, sample.ObservedAt); err != nil {
			s.logger.WarnContext(ctx, "mirror price to cache failed",
				slog.String("key", string(sample.Key)),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		if err := publishJSON(ctx, s.bus, domain.ChannelPrices, PriceUpdate{
			Key:        sample.Key,
			Price:      sample.Price,
			ObservedAt: sample.ObservedAt,
		}); err != nil {
			s.logger.WarnContext(ctx, "publish price failed",
				slog.String("key", string(sample.Key)),
				slog.String("error", err.Error()),
			)
		}
	}
	s.mirrored.Add(1)
}
