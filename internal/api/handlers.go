// Package api implements the HTTP handlers for the remote task
// collection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/taskdb"
)

//go:generate mockgen -destination=mock_store_test.go -package=api . TaskStore

// maxRequestBytes caps request bodies; tasks are small.
const maxRequestBytes = 1 << 20

// TaskStore is the persistence the handlers need. *taskdb.Store
// implements it.
type TaskStore interface {
	List(ctx context.Context) ([]taskdb.Record, error)
	Create(ctx context.Context, task models.Task) (taskdb.Record, error)
	Update(ctx context.Context, id string, task models.Task) (taskdb.Record, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type createRequest struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Desc   *string `json:"desc"`
	Column string  `json:"column"`
}

type updateRequest struct {
	Title  string  `json:"title"`
	Desc   *string `json:"desc"`
	Column string  `json:"column"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Error messages returned to clients.
const (
	msgDBError       = "db error"
	msgMissingFields = "missing fields"
	msgInvalidColumn = "invalid column"
	msgInvalidBody   = "invalid request body"
	msgTaskExists    = "task already exists"
	msgTaskNotFound  = "task not found"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}

	return true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// HandleHealth returns the GET /api/health handler.
func HandleHealth(store TaskStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Error("health check failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, msgDBError)

			return
		}

		writeJSON(w, http.StatusOK, okResponse{OK: true})
	}
}

// HandleListTasks returns the GET /api/tasks handler.
func HandleListTasks(store TaskStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := store.List(r.Context())
		if err != nil {
			logger.Error("listing tasks", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, msgDBError)

			return
		}

		writeJSON(w, http.StatusOK, records)
	}
}

// HandleCreateTask returns the POST /api/tasks handler. The
// client-supplied ID is trusted as-is.
func HandleCreateTask(store TaskStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if req.ID == "" || strings.TrimSpace(req.Title) == "" || req.Column == "" {
			writeError(w, http.StatusBadRequest, msgMissingFields)
			return
		}

		column := models.Column(req.Column)
		if !column.Valid() {
			writeError(w, http.StatusBadRequest, msgInvalidColumn)
			return
		}

		rec, err := store.Create(r.Context(), models.Task{
			ID:     req.ID,
			Title:  req.Title,
			Desc:   deref(req.Desc),
			Column: column,
		})

		switch {
		case errors.Is(err, kerrors.ErrTaskExists):
			writeError(w, http.StatusConflict, msgTaskExists)
		case err != nil:
			logger.Error("creating task", slog.String("id", req.ID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, msgDBError)
		default:
			logger.Debug("task created", slog.String("id", rec.ID))
			writeJSON(w, http.StatusCreated, rec)
		}
	}
}

// HandleUpdateTask returns the PUT /api/tasks/{id} handler.
func HandleUpdateTask(store TaskStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		var req updateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if strings.TrimSpace(req.Title) == "" || req.Column == "" {
			writeError(w, http.StatusBadRequest, msgMissingFields)
			return
		}

		column := models.Column(req.Column)
		if !column.Valid() {
			writeError(w, http.StatusBadRequest, msgInvalidColumn)
			return
		}

		rec, err := store.Update(r.Context(), id, models.Task{
			Title:  req.Title,
			Desc:   deref(req.Desc),
			Column: column,
		})

		switch {
		case errors.Is(err, kerrors.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, msgTaskNotFound)
		case err != nil:
			logger.Error("updating task", slog.String("id", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, msgDBError)
		default:
			writeJSON(w, http.StatusOK, rec)
		}
	}
}

// HandleDeleteTask returns the DELETE /api/tasks/{id} handler. Deleting
// an unknown ID succeeds.
func HandleDeleteTask(store TaskStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := store.Delete(r.Context(), id); err != nil {
			logger.Error("deleting task", slog.String("id", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, msgDBError)

			return
		}

		writeJSON(w, http.StatusOK, okResponse{OK: true})
	}
}

// Register adds the task collection routes to mux.
func Register(mux *http.ServeMux, store TaskStore, logger *slog.Logger) {
	mux.HandleFunc("GET /api/health", HandleHealth(store, logger))
	mux.HandleFunc("GET /api/tasks", HandleListTasks(store, logger))
	mux.HandleFunc("POST /api/tasks", HandleCreateTask(store, logger))
	mux.HandleFunc("PUT /api/tasks/{id}", HandleUpdateTask(store, logger))
	mux.HandleFunc("DELETE /api/tasks/{id}", HandleDeleteTask(store, logger))
}
