package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, message)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func settlement(err error) domain.Settlement {
	return domain.Settlement{
		Resolution: domain.Resolution{
			Outcome:   domain.OutcomeWon,
			ExitPrice: 101,
			Bet: domain.Bet{
				UserID: "u1", Key: "BINANCE:BTCUSDT", Direction: domain.DirectionUp,
				Stake: 10, EntryPrice: 100,
			},
			ResolvedAt: time.Now(),
		},
		PnL: 8,
		Err: err,
	}
}

func TestNotifierFiltersEvents(t *testing.T) {
	c := &captureSender{}
	n := NewNotifier([]Sender{c}, []string{" persistence_error "}, testLogger())

	require.NoError(t, n.NotifySettlement(context.Background(), settlement(nil)))
	assert.Empty(t, c.titles)

	require.NoError(t, n.NotifySettlement(context.Background(), settlement(domain.ErrPersistence)))
	require.Len(t, c.titles, 1)
	assert.Equal(t, "Bet not recorded", c.titles[0])
	assert.Contains(t, c.bodies[0], "error: persistence failed")
}

func TestNotifierSettledMessage(t *testing.T) {
	c := &captureSender{}
	n := NewNotifier([]Sender{c}, nil, testLogger())

	require.NoError(t, n.NotifySettlement(context.Background(), settlement(nil)))
	require.Len(t, c.titles, 1)
	assert.Equal(t, "Bet won", c.titles[0])
	assert.Contains(t, c.bodies[0], "BINANCE:BTCUSDT up stake 10.00")
	assert.Contains(t, c.bodies[0], "pnl +8.00")
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &captureSender{}
	bad := &captureSender{err: boom}
	n := NewNotifier([]Sender{bad, ok}, nil, testLogger())

	err := n.Notify(context.Background(), EventBetSettled, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.titles, 1)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventBetSettled, "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
