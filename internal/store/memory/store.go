// Package memory is an in-process bet and balance store used for tests and
// throwaway engine runs. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/shopspring/decimal"
)

// Store implements domain.BetStore in memory.
type Store struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	bets     map[string]domain.BetRecord
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		balances: make(map[string]decimal.Decimal),
		bets:     make(map[string]domain.BetRecord),
	}
}

func (s *Store) GetBalance(_ context.Context, userID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return 0, fmt.Errorf("memory: balance %s: %w", userID, domain.ErrNotFound)
	}
	return b.InexactFloat64(), nil
}

func (s *Store) SetBalance(_ context.Context, userID string, balance float64) error {
	s.mu.Lock()
	s.balances[userID] = decimal.NewFromFloat(balance).Round(8)
	s.mu.Unlock()
	return nil
}

// RecordBet stores the bet and applies its PnL. Duplicates are ignored.
func (s *Store) RecordBet(_ context.Context, rec domain.BetRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("memory: record bet: empty id: %w", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.bets[rec.ID]; dup {
		return nil
	}
	s.bets[rec.ID] = rec
	s.balances[rec.UserID] = s.balances[rec.UserID].Add(decimal.NewFromFloat(rec.PnL).Round(8))
	return nil
}

func (s *Store) GetBet(_ context.Context, id string) (domain.BetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bets[id]
	if !ok {
		return domain.BetRecord{}, fmt.Errorf("memory: bet %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

// ListByUser returns a user's bets, newest first.
func (s *Store) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.BetRecord, error) {
	s.mu.RLock()
	var out []domain.BetRecord
	for _, b := range s.bets {
		if b.UserID != userID {
			continue
		}
		if opts.Since != nil && b.ResolvedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && b.ResolvedAt.After(*opts.Until) {
			continue
		}
		out = append(out, b)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.After(out[j].ResolvedAt) })
	if opts.Limit > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
		if len(out) > opts.Limit {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

// ListBefore returns bets resolved before the given time, oldest first.
func (s *Store) ListBefore(_ context.Context, before time.Time) ([]domain.BetRecord, error) {
	s.mu.RLock()
	var out []domain.BetRecord
	for _, b := range s.bets {
		if b.ResolvedAt.Before(before) {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(out[j].ResolvedAt) })
	return out, nil
}

func (s *Store) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, b := range s.bets {
		if b.ResolvedAt.Before(before) {
			delete(s.bets, id)
			n++
		}
	}
	return n, nil
}

var _ domain.BetStore = (*Store)(nil)
