// Package trigger watches a price subscription for a strike crossing and
// fires exactly once.
package trigger

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/feed"
	"github.com/coderashu-1/Trade/internal/gate"
)

// Source is the subscription side of the feed router.
type Source interface {
	Subscribe(key domain.SymbolKey, h feed.Handler) (*feed.Subscription, error)
}

// Params describes the crossing to watch for.
type Params struct {
	Key       domain.SymbolKey
	Direction domain.Direction
	Strike    float64
}

// Validate checks the params before arming.
func (p Params) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("trigger: empty key: %w", domain.ErrValidation)
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("trigger: direction %q: %w", p.Direction, domain.ErrValidation)
	}
	if !domain.IsFinite(p.Strike) || p.Strike <= 0 {
		return fmt.Errorf("trigger: strike %v: %w", p.Strike, domain.ErrValidation)
	}
	return nil
}

// Crossed reports whether price satisfies the strike condition: at or above
// for Up, at or below for Down.
func (p Params) Crossed(price float64) bool {
	if p.Direction == domain.DirectionUp {
		return price >= p.Strike
	}
	return price <= p.Strike
}

// Monitor is an armed strike watch.
type Monitor struct {
	params    Params
	onTrigger func(domain.PriceSample)

	gate  gate.Gate
	fired atomic.Bool

	mu  sync.Mutex
	sub *feed.Subscription
}

// Arm subscribes to p.Key and calls onTrigger with the first crossing
// sample. The monitor unsubscribes itself before invoking onTrigger.
func Arm(src Source, p Params, onTrigger func(domain.PriceSample)) (*Monitor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if onTrigger == nil {
		return nil, fmt.Errorf("trigger: nil callback: %w", domain.ErrValidation)
	}

	m := &Monitor{params: p, onTrigger: onTrigger}
	sub, err := src.Subscribe(p.Key, m.handle)
	if err != nil {
		return nil, fmt.Errorf("trigger: arm: %w", err)
	}

	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()

	// A cached price may already have fired or Cancel may have raced us.
	if m.gate.Tripped() {
		sub.Unsubscribe()
	}
	return m, nil
}

// Fired reports whether the strike was crossed.
func (m *Monitor) Fired() bool { return m.fired.Load() }

// Cancel disarms the monitor. Safe to call repeatedly, after a fire, or from
// inside the trigger callback.
func (m *Monitor) Cancel() {
	m.gate.Trip()
	m.unsubscribe()
}

func (m *Monitor) handle(s domain.PriceSample) {
	if m.gate.Tripped() || !domain.IsFinite(s.Price) || !m.params.Crossed(s.Price) {
		return
	}
	if !m.gate.Trip() {
		return
	}
	m.fired.Store(true)
	m.unsubscribe()
	m.onTrigger(s)
}

func (m *Monitor) unsubscribe() {
	m.mu.Lock()
	sub := m.sub
	m.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}
