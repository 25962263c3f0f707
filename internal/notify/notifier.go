// Package notify fans bet events out to chat channels (Telegram, Discord).
// Delivery is best effort and filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coderashu-1/Trade/internal/domain"
)

// Event types.
const (
	EventBetSettled       = "bet_settled"
	EventPersistenceError = "persistence_error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender whose event passes the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether the notifier has any sender configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title and message for event. A failing sender does not stop
// delivery to the others; all failures are joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s: %w", event, errors.Join(errs...))
	}
	return nil
}

// NotifySettlement announces a settlement. A settlement whose persistence
// failed is reported as EventPersistenceError instead of EventBetSettled.
func (n *Notifier) NotifySettlement(ctx context.Context, s domain.Settlement) error {
	bet := s.Resolution.Bet
	body := fmt.Sprintf("%s %s %s stake %.2f entry %g exit %g pnl %+.2f",
		bet.UserID, bet.Key, bet.Direction, bet.Stake, bet.EntryPrice, s.Resolution.ExitPrice, s.PnL)

	if s.Err != nil {
		return n.Notify(ctx, EventPersistenceError,
			"Bet not recorded",
			body+"\nerror: "+s.Err.Error())
	}
	return n.Notify(ctx, EventBetSettled,
		fmt.Sprintf("Bet %s", s.Resolution.Outcome),
		body)
}
