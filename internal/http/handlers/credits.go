package handlers

import (
	"net/http"
	"strconv"
	"time"

	"atelier/internal/domain"
	"atelier/internal/middleware"
)

type ledgerEntryResponse struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
	RefKind   string    `json:"ref_kind"`
	RefID     string    `json:"ref_id"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditBalance reports the account's spendable balance.
func (a *App) CreditBalance(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localize(locale, msgUnauthorized))
		return
	}
	balance, err := a.Credits.Balance(r.Context(), ownerID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: read balance failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	a.json(w, http.StatusOK, map[string]any{"owner_id": ownerID, "balance": balance})
}

// CreditLedger lists the account's credit movements, newest first.
func (a *App) CreditLedger(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localize(locale, msgUnauthorized))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := a.Credits.Ledger(r.Context(), ownerID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: read ledger failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	a.json(w, http.StatusOK, map[string]any{"entries": toLedgerResponses(entries)})
}

func toLedgerResponses(entries []domain.LedgerEntry) []ledgerEntryResponse {
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryResponse{
			ID:        e.ID,
			Amount:    e.Amount,
			Kind:      string(e.Kind),
			RefKind:   string(e.Ref.Kind),
			RefID:     e.Ref.ID,
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
