package feed

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/google/uuid"
)

// DefaultMaxCachedKeys bounds the last-price cache when no limit is configured.
const DefaultMaxCachedKeys = 4096

// Handler receives the samples delivered to one subscription.
type Handler func(domain.PriceSample)

// Router fans price samples out to per-symbol subscribers and remembers the
// last price of every recently seen symbol. It is the single writer of both
// the subscriber index and the cache.
type Router struct {
	mu        sync.Mutex
	subs      map[domain.SymbolKey]map[string]*Subscription
	cache     map[domain.SymbolKey]*list.Element
	recency   *list.List // of domain.PriceSample, most recent at front
	maxCached int
	closed    bool
	logger    *slog.Logger
}

// NewRouter creates a Router. maxCachedKeys <= 0 selects DefaultMaxCachedKeys.
func NewRouter(maxCachedKeys int, logger *slog.Logger) *Router {
	if maxCachedKeys <= 0 {
		maxCachedKeys = DefaultMaxCachedKeys
	}
	return &Router{
		subs:      make(map[domain.SymbolKey]map[string]*Subscription),
		cache:     make(map[domain.SymbolKey]*list.Element),
		recency:   list.New(),
		maxCached: maxCachedKeys,
		logger:    logger.With(slog.String("component", "feed_router")),
	}
}

// Subscribe registers h for key. If a price is cached for key it is queued
// for h before any later live sample.
func (r *Router) Subscribe(key domain.SymbolKey, h Handler) (*Subscription, error) {
	key = domain.NormalizeKey(string(key))
	if key == "" {
		return nil, fmt.Errorf("feed: subscribe: empty key: %w", domain.ErrValidation)
	}
	if h == nil {
		return nil, fmt.Errorf("feed: subscribe: nil handler: %w", domain.ErrValidation)
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		key:     key,
		handler: h,
		router:  r,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("feed: subscribe: %w", domain.ErrClosed)
	}

	set, ok := r.subs[key]
	if !ok {
		set = make(map[string]*Subscription)
		r.subs[key] = set
	}
	set[sub.id] = sub

	if el, ok := r.cache[key]; ok {
		sub.enqueue(el.Value.(domain.PriceSample))
	}
	go sub.run()
	return sub, nil
}

// Unsubscribe removes sub. It is idempotent and safe to call from inside the
// subscription's own handler.
func (r *Router) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Ingest records s as the latest price for its symbol and queues it for
// every current subscriber. Samples with an empty key or a non-finite price
// are dropped.
func (r *Router) Ingest(s domain.PriceSample) {
	s.Key = domain.NormalizeKey(string(s.Key))
	if !s.Valid() {
		r.logger.Debug("dropping invalid sample",
			slog.String("key", string(s.Key)),
			slog.Float64("price", s.Price),
		)
		return
	}
	if s.ObservedAt.IsZero() {
		s.ObservedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.remember(s)
	for _, sub := range r.subs[s.Key] {
		sub.enqueue(s)
	}
}

// LastPrice returns the most recent sample seen for key.
func (r *Router) LastPrice(key domain.SymbolKey) (domain.PriceSample, bool) {
	key = domain.NormalizeKey(string(key))
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.cache[key]
	if !ok {
		return domain.PriceSample{}, false
	}
	return el.Value.(domain.PriceSample), true
}

// Subscribers returns the number of live subscriptions for key.
func (r *Router) Subscribers(key domain.SymbolKey) int {
	key = domain.NormalizeKey(string(key))
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[key])
}

// Keys returns the number of symbols with at least one subscriber.
func (r *Router) Keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// CachedKeys returns the number of symbols in the last-price cache.
func (r *Router) CachedKeys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Close stops every subscription and rejects further use.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var all []*Subscription
	for _, set := range r.subs {
		for _, sub := range set {
			all = append(all, sub)
		}
	}
	r.subs = make(map[domain.SymbolKey]map[string]*Subscription)
	r.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(sub.stop)
	}
}

// remember updates the cache. Caller must hold r.mu.
func (r *Router) remember(s domain.PriceSample) {
	if el, ok := r.cache[s.Key]; ok {
		el.Value = s
		r.recency.MoveToFront(el)
		return
	}
	r.cache[s.Key] = r.recency.PushFront(s)
	if len(r.cache) > r.maxCached {
		r.evict()
	}
}

// evict drops the least recently updated symbol that nobody subscribes to.
// Subscribed symbols are kept so replay stays correct for them. Caller must
// hold r.mu.
func (r *Router) evict() {
	for el := r.recency.Back(); el != nil; el = el.Prev() {
		key := el.Value.(domain.PriceSample).Key
		if _, watched := r.subs[key]; watched {
			continue
		}
		r.recency.Remove(el)
		delete(r.cache, key)
		return
	}
}

func (r *Router) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[sub.key]
	if !ok {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(r.subs, sub.key)
	}
}

// Subscription is one handler registered for one symbol. Each subscription
// has its own ordered mailbox drained by a dedicated goroutine.
type Subscription struct {
	id      string
	key     domain.SymbolKey
	handler Handler
	router  *Router
	once    sync.Once

	mu     sync.Mutex
	queue  []domain.PriceSample
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// ID returns the subscription's unique identity.
func (s *Subscription) ID() string { return s.id }

// Key returns the symbol the subscription listens to.
func (s *Subscription) Key() domain.SymbolKey { return s.key }

// Unsubscribe detaches the subscription. After it returns no new delivery
// begins; a delivery already running is not interrupted.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.stop()
		s.router.remove(s)
	})
}

func (s *Subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *Subscription) enqueue(sample domain.PriceSample) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, sample)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			sample := s.queue[0]
			s.queue[0] = domain.PriceSample{}
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.deliver(sample)
		}
	}
}

func (s *Subscription) deliver(sample domain.PriceSample) {
	defer func() {
		if rec := recover(); rec != nil {
			s.router.logger.Error("subscriber panicked",
				slog.String("key", string(s.key)),
				slog.String("subscription", s.id),
				slog.Any("panic", rec),
			)
		}
	}()
	s.handler(sample)
}
