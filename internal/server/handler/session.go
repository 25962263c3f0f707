package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/service"
)

// SessionService is the session surface the handler needs.
type SessionService interface {
	Open(ctx context.Context, userID string, key domain.SymbolKey) (service.SessionStatus, error)
	Close(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (service.SessionStatus, error)
	List(ctx context.Context) []service.SessionStatus
	SetSymbol(ctx context.Context, userID string, key domain.SymbolKey) (service.SessionStatus, error)
	StartBet(ctx context.Context, userID string, req domain.BetRequest) (domain.Bet, error)
	CancelPending(ctx context.Context, userID string) error
}

// SessionHandler serves session and bet placement endpoints.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logHandler(logger, "session")}
}

type openSessionRequest struct {
	UserID string           `json:"user_id"`
	Key    domain.SymbolKey `json:"key"`
}

type symbolRequest struct {
	Key domain.SymbolKey `json:"key"`
}

type betRequest struct {
	Direction       string   `json:"direction"`
	Stake           float64  `json:"stake"`
	DurationSeconds int      `json:"duration_seconds"`
	StrikePrice     *float64 `json:"strike_price,omitempty"`
	StopLoss        *float64 `json:"stop_loss,omitempty"`
}

// Open starts (or re-targets) a user's session.
// POST /api/sessions
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	st, err := h.sessions.Open(r.Context(), req.UserID, req.Key)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// List returns all sessions hosted by this process.
// GET /api/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.List(r.Context())})
}

// Get returns one session.
// GET /api/sessions/{user}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessions.Status(r.Context(), r.PathValue("user"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Close ends a session.
// DELETE /api/sessions/{user}
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), r.PathValue("user")); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetSymbol changes the session's instrument.
// PUT /api/sessions/{user}/symbol
func (h *SessionHandler) SetSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	st, err := h.sessions.SetSymbol(r.Context(), r.PathValue("user"), req.Key)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PlaceBet starts a bet in the session.
// POST /api/sessions/{user}/bets
func (h *SessionHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	bet, err := h.sessions.StartBet(r.Context(), r.PathValue("user"), domain.BetRequest{
		Direction:       dir,
		Stake:           req.Stake,
		DurationSeconds: req.DurationSeconds,
		StrikePrice:     req.StrikePrice,
		StopLoss:        req.StopLoss,
	})
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// CancelPending withdraws a bet still waiting on its strike.
// DELETE /api/sessions/{user}/bets/pending
func (h *SessionHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.CancelPending(r.Context(), r.PathValue("user")); err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
