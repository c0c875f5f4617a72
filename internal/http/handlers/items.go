package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/middleware"
)

const maxVariants = 4

type editRequest struct {
	Kind      string     `json:"kind"`
	Model     string     `json:"model"`
	Prompt    string     `json:"prompt"`
	Variants  int        `json:"variants"`
	Reference []mediaRef `json:"reference,omitempty"`
}

type mediaRef struct {
	MIME string `json:"mime"`
	Data string `json:"data"`
}

type itemResponse struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Model     string          `json:"model,omitempty"`
	Progress  string          `json:"progress"`
	Error     string          `json:"error,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Variants  int             `json:"variants"`
	ParentID  string          `json:"parent_id,omitempty"`
	Cost      int64           `json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a *App) itemResponse(item *domain.WorkItem) itemResponse {
	return itemResponse{
		ID:        item.ID,
		Kind:      string(item.Kind),
		Model:     item.Model,
		Progress:  string(item.Progress),
		Error:     item.ErrorMessage,
		Output:    item.Output,
		Variants:  item.Variants,
		ParentID:  item.ParentID,
		Cost:      a.Prices.ItemCost(item.Kind, item.Model),
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

var validKinds = map[domain.ItemKind]bool{
	domain.ItemKindImageEdit:    true,
	domain.ItemKindTextEdit:     true,
	domain.ItemKindDesignSet:    true,
	domain.ItemKindVideoChapter: true,
}

// SubmitEdit enqueues a new work item. The item starts in the queued stage;
// charging happens when a worker claims it, so submission never touches the
// balance.
func (a *App) SubmitEdit(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localize(locale, msgUnauthorized))
		return
	}
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", localize(locale, msgBadPayload))
		return
	}
	if req.Prompt == "" {
		a.error(w, http.StatusBadRequest, "bad_request", localize(locale, msgPromptMissing))
		return
	}
	kind := domain.ItemKind(req.Kind)
	if req.Kind == "" {
		kind = domain.ItemKindImageEdit
	}
	if !validKinds[kind] {
		a.error(w, http.StatusBadRequest, "bad_request", localize(locale, msgUnknownKind))
		return
	}
	if req.Variants <= 0 {
		req.Variants = 1
	}
	if req.Variants > maxVariants {
		req.Variants = maxVariants
	}

	input, err := json.Marshal(map[string]any{
		"prompt":    req.Prompt,
		"reference": req.Reference,
	})
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	item := &domain.WorkItem{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Kind:     kind,
		Model:    req.Model,
		Progress: domain.StageQueued,
		Input:    input,
		Variants: req.Variants,
	}
	if err := a.Items.Create(r.Context(), item); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create work item failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	a.json(w, http.StatusAccepted, a.itemResponse(item))
}

// ItemStatus reports the item's progress, error message, and output.
func (a *App) ItemStatus(w http.ResponseWriter, r *http.Request) {
	item, ok := a.loadOwnedItem(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, a.itemResponse(item))
}

// ItemCancel force-fails the item. The write is idempotent: cancelling an
// already-cancelled item reports the same outcome, and a completed item is
// never flipped back to failed. Any outstanding charge is compensated by the
// executor when it observes the terminal state at its next checkpoint.
func (a *App) ItemCancel(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	item, ok := a.loadOwnedItem(w, r)
	if !ok {
		return
	}
	applied, err := a.Items.Fail(r.Context(), item.ID, localize(locale, msgCancelled))
	if err != nil {
		a.Logger.Error().Err(err).Str("item_id", item.ID).Msg("handlers: cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	if !applied {
		if item.Progress == domain.StageComplete {
			a.error(w, http.StatusConflict, "already_complete", localize(locale, msgAlreadyDone))
			return
		}
		// Already failed; cancelling again is a no-op.
		a.json(w, http.StatusOK, a.itemResponse(item))
		return
	}
	item.Progress = domain.StageFailed
	item.ErrorMessage = localize(locale, msgCancelled)
	a.Notifier.ItemProgress(r.Context(), item)
	a.json(w, http.StatusOK, a.itemResponse(item))
}

// ItemDelete removes the item and its children.
func (a *App) ItemDelete(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	item, ok := a.loadOwnedItem(w, r)
	if !ok {
		return
	}
	if err := a.Items.Delete(r.Context(), item.ID); err != nil {
		a.Logger.Error().Err(err).Str("item_id", item.ID).Msg("handlers: delete failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": item.ID, "status": "deleted"})
}

// ListItems returns the owner's recent items.
func (a *App) ListItems(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localize(locale, msgUnauthorized))
		return
	}
	items, err := a.Items.ListByOwner(r.Context(), ownerID, 100)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: list items failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	out := make([]itemResponse, 0, len(items))
	for i := range items {
		out = append(out, a.itemResponse(&items[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": out})
}

// loadOwnedItem fetches the item in the URL and verifies ownership. A
// mismatch reports not found rather than leaking existence.
func (a *App) loadOwnedItem(w http.ResponseWriter, r *http.Request) (*domain.WorkItem, bool) {
	locale := middleware.LocaleFromContext(r.Context())
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localize(locale, msgUnauthorized))
		return nil, false
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", localize(locale, msgNotFound))
		return nil, false
	}
	item, err := a.Items.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", localize(locale, msgNotFound))
			return nil, false
		}
		a.Logger.Error().Err(err).Str("item_id", id).Msg("handlers: load item failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return nil, false
	}
	if item.OwnerID != ownerID {
		a.error(w, http.StatusNotFound, "not_found", localize(locale, msgNotFound))
		return nil, false
	}
	return item, true
}
