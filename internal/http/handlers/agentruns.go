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

type runStartRequest struct {
	ItemID string `json:"item_id"`
}

type runLogResponse struct {
	At       time.Time `json:"at"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
}

type runResponse struct {
	ID         string           `json:"id"`
	ItemID     string           `json:"item_id"`
	Status     string           `json:"status"`
	Iterations int              `json:"iterations"`
	Logs       []runLogResponse `json:"logs,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toRunResponse(run *domain.AgentRun) runResponse {
	out := runResponse{
		ID:         run.ID,
		ItemID:     run.WorkItemID,
		Status:     string(run.Status),
		Iterations: run.Iterations,
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
	}
	for _, entry := range run.Logs {
		out.Logs = append(out.Logs, runLogResponse{At: entry.At, Severity: entry.Severity, Message: entry.Message})
	}
	return out
}

// RunStart creates a pending agent run over one of the caller's items. A
// worker picks the run up from the pending status.
func (a *App) RunStart(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localize(locale, msgUnauthorized))
		return
	}
	var req runStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", localize(locale, msgBadPayload))
		return
	}
	item, err := a.Items.Get(r.Context(), req.ItemID)
	if err != nil || item.OwnerID != ownerID {
		a.error(w, http.StatusNotFound, "not_found", localize(locale, msgNotFound))
		return
	}
	run := &domain.AgentRun{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		WorkItemID: item.ID,
		Status:     domain.RunPending,
	}
	if err := a.Runs.Create(r.Context(), run); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create agent run failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	a.json(w, http.StatusAccepted, toRunResponse(run))
}

// RunStatus reports the run's status, iteration count, and log.
func (a *App) RunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := a.loadOwnedRun(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, toRunResponse(run))
}

// RunCancel moves the run to cancelled. The loop observes the terminal
// status at its next iteration checkpoint and stops.
func (a *App) RunCancel(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	run, ok := a.loadOwnedRun(w, r)
	if !ok {
		return
	}
	applied, err := a.Runs.UpdateStatus(r.Context(), run.ID, domain.RunCancelled)
	if err != nil {
		a.Logger.Error().Err(err).Str("run_id", run.ID).Msg("handlers: cancel run failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	if !applied {
		if run.Status == domain.RunCancelled {
			a.json(w, http.StatusOK, toRunResponse(run))
			return
		}
		a.error(w, http.StatusConflict, "already_terminal", localize(locale, msgAlreadyDone))
		return
	}
	run.Status = domain.RunCancelled
	a.Notifier.RunStatus(r.Context(), run)
	a.json(w, http.StatusOK, toRunResponse(run))
}

// RunResume requeues a paused run. It goes back through pending so a worker
// can claim it; iterations already spent stay counted against the ceiling.
func (a *App) RunResume(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	run, ok := a.loadOwnedRun(w, r)
	if !ok {
		return
	}
	if run.Status != domain.RunPaused {
		a.error(w, http.StatusConflict, "not_resumable", localize(locale, msgNotResumable))
		return
	}
	applied, err := a.Runs.UpdateStatus(r.Context(), run.ID, domain.RunPending)
	if err != nil {
		a.Logger.Error().Err(err).Str("run_id", run.ID).Msg("handlers: resume run failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return
	}
	if !applied {
		a.error(w, http.StatusConflict, "not_resumable", localize(locale, msgNotResumable))
		return
	}
	run.Status = domain.RunPending
	a.Notifier.RunStatus(r.Context(), run)
	a.json(w, http.StatusOK, toRunResponse(run))
}

func (a *App) loadOwnedRun(w http.ResponseWriter, r *http.Request) (*domain.AgentRun, bool) {
	locale := middleware.LocaleFromContext(r.Context())
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", localize(locale, msgUnauthorized))
		return nil, false
	}
	id := chi.URLParam(r, "id")
	run, err := a.Runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", localize(locale, msgNotFound))
			return nil, false
		}
		a.Logger.Error().Err(err).Str("run_id", id).Msg("handlers: load run failed")
		a.error(w, http.StatusInternalServerError, "internal", localize(locale, msgInternal))
		return nil, false
	}
	if run.OwnerID != ownerID {
		a.error(w, http.StatusNotFound, "not_found", localize(locale, msgNotFound))
		return nil, false
	}
	return run, true
}
