package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"atelier/internal/credit"
	"atelier/internal/domain"
	"atelier/internal/notify"
	"atelier/internal/pricing"
)

// App carries the dependencies shared by all HTTP handlers.
type App struct {
	Items    domain.WorkItemRepository
	Runs     domain.AgentRunRepository
	Credits  *credit.Service
	Prices   *pricing.Table
	Notifier *notify.Notifier
	Logger   zerolog.Logger
}

func NewApp(items domain.WorkItemRepository, runs domain.AgentRunRepository, credits *credit.Service, prices *pricing.Table, notifier *notify.Notifier, logger zerolog.Logger) *App {
	return &App{
		Items:    items,
		Runs:     runs,
		Credits:  credits,
		Prices:   prices,
		Notifier: notifier,
		Logger:   logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{
			"code":    errCode,
			"message": message,
		},
	})
}

// currentOwnerID returns the authenticated account id for the request.
// Authentication itself happens upstream at the gateway; the verified
// identity arrives as a header.
func (a *App) currentOwnerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}
