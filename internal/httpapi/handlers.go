// Package httpapi exposes the unsubscribe service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/agent"
	"github.com/polzovatel/unsubscribe-agent/internal/bulk"
	"github.com/polzovatel/unsubscribe-agent/internal/service"
	"github.com/polzovatel/unsubscribe-agent/internal/store"
)

// Unsubscriber is the service surface the handlers call.
type Unsubscriber interface {
	UnsubscribeFromEmail(ctx context.Context, emailID, link, userEmail string) (agent.Result, error)
	BulkUnsubscribe(ctx context.Context, emailIDs []string, userEmail string, opts bulk.Options) bulk.Report
	GetUnsubscribeTaskStatus(ctx context.Context, emailID string) (*store.Task, error)
	RetryFailedUnsubscribes(ctx context.Context, userEmail string) (bulk.Report, error)
	ImportEmail(ctx context.Context, e store.Email) error
	Health(ctx context.Context) service.Health
}

type App struct {
	Service Unsubscriber
	Logger  zerolog.Logger
}

type UnsubscribeRequest struct {
	EmailID         string `json:"emailId"`
	UnsubscribeLink string `json:"unsubscribeLink"`
	UserEmail       string `json:"userEmail"`
}

type BulkRequest struct {
	EmailIDs      []string `json:"emailIds"`
	UserEmail     string   `json:"userEmail"`
	DelayMs       int      `json:"delayMs"`
	MaxConcurrent int      `json:"maxConcurrent"`
}

type RetryRequest struct {
	UserEmail string `json:"userEmail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := a.Service.Health(r.Context())
	status := http.StatusOK
	if !h.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (a *App) unsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.EmailID) == "" {
		writeError(w, http.StatusBadRequest, "emailId is required")
		return
	}

	res, err := a.Service.UnsubscribeFromEmail(r.Context(), req.EmailID, req.UnsubscribeLink, req.UserEmail)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrNoLink), errors.Is(err, agent.ErrInvalidLink):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			a.Logger.Error().Err(err).Str("email_id", req.EmailID).Msg("unsubscribe failed")
			writeError(w, http.StatusInternalServerError, "failed to run unsubscribe")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *App) bulkHandler(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.EmailIDs) == 0 {
		writeError(w, http.StatusBadRequest, "emailIds is required")
		return
	}
	rep := a.Service.BulkUnsubscribe(r.Context(), req.EmailIDs, req.UserEmail, bulk.Options{
		Delay:         time.Duration(req.DelayMs) * time.Millisecond,
		MaxConcurrent: req.MaxConcurrent,
	})
	writeJSON(w, http.StatusOK, rep)
}

func (a *App) retryHandler(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rep, err := a.Service.RetryFailedUnsubscribes(r.Context(), req.UserEmail)
	if err != nil {
		a.Logger.Error().Err(err).Msg("retry sweep failed")
		writeError(w, http.StatusInternalServerError, "failed to retry tasks")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *App) taskStatusHandler(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "emailID")
	task, err := a.Service.GetUnsubscribeTaskStatus(r.Context(), emailID)
	if err != nil {
		a.Logger.Error().Err(err).Str("email_id", emailID).Msg("task lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *App) importEmailHandler(w http.ResponseWriter, r *http.Request) {
	var e store.Email
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.UserEmail) == "" {
		writeError(w, http.StatusBadRequest, "id and userEmail are required")
		return
	}
	if err := a.Service.ImportEmail(r.Context(), e); err != nil {
		a.Logger.Error().Err(err).Msg("import email failed")
		writeError(w, http.StatusInternalServerError, "failed to store email")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": e.ID})
}
