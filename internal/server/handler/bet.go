package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coderashu-1/Trade/internal/domain"
)

// BetReader is the read side of the bet store.
type BetReader interface {
	GetBalance(ctx context.Context, userID string) (float64, error)
	GetBet(ctx context.Context, id string) (domain.BetRecord, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.BetRecord, error)
}

// BetHandler serves bet history and balances.
type BetHandler struct {
	bets   BetReader
	logger *slog.Logger
	now    func() time.Time
}

func NewBetHandler(bets BetReader, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logHandler(logger, "bet"), now: time.Now}
}

type listBetsResponse struct {
	Bets   []domain.BetRecord `json:"bets"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListBets returns a user's settled bets, newest first. today=true keeps
// bets resolved since local midnight.
// GET /api/bets?user_id=...&today=true&limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}

	opts := parseListOpts(r)
	if q.Get("today") == "true" {
		now := h.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		opts.Since = &midnight
	}

	bets, err := h.bets.ListByUser(r.Context(), userID, opts)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	if bets == nil {
		bets = []domain.BetRecord{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets, Limit: opts.Limit, Offset: opts.Offset})
}

// GetBet returns one settled bet.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	bet, err := h.bets.GetBet(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// GetBalance returns a user's balance.
// GET /api/balance?user_id=...
func (h *BetHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}
	bal, err := h.bets.GetBalance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": bal})
}
