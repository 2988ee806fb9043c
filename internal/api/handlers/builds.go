package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/store"
)

// BuildHandler handles build-related HTTP requests.
type BuildHandler struct {
	control *control.Control
	logger  *slog.Logger
}

// NewBuildHandler creates a new build handler.
func NewBuildHandler(ctl *control.Control, logger *slog.Logger) *BuildHandler {
	return &BuildHandler{
		control: ctl,
		logger:  logger,
	}
}

func (h *BuildHandler) buildID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "buildID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid build ID")
		return 0, false
	}
	return id, true
}

// Get handles GET /v1/builds/{buildID}.
func (h *BuildHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.buildID(w, r)
	if !ok {
		return
	}

	build, err := h.control.GetBuild(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Build not found")
			return
		}
		h.logger.Error("failed to get build", "error", err, "build_id", id)
		WriteInternalError(w, "Failed to get build")
		return
	}

	WriteJSON(w, http.StatusOK, build)
}

// Progress handles GET /v1/builds/{buildID}/progress, returning the
// assembled progress report tree.
func (h *BuildHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.buildID(w, r)
	if !ok {
		return
	}

	report, err := h.control.BuildProgress(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Build not found")
			return
		}
		h.logger.Error("failed to get build progress", "error", err, "build_id", id)
		WriteInternalError(w, "Failed to get build progress")
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// Logs handles GET /v1/builds/{buildID}/logs. Supports min_level,
// min_date and max_date query filters.
func (h *BuildHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.buildID(w, r)
	if !ok {
		return
	}

	if _, err := h.control.GetBuild(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "Build not found")
			return
		}
		h.logger.Error("failed to get build", "error", err, "build_id", id)
		WriteInternalError(w, "Failed to get build logs")
		return
	}

	query, err := parseLogQuery(r, id)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.control.Storage().IterLogMessages(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to get build logs", "error", err, "build_id", id)
		WriteInternalError(w, "Failed to get build logs")
		return
	}

	WriteJSON(w, http.StatusOK, entries)
}

func parseLogQuery(r *http.Request, buildID int64) (store.LogQuery, error) {
	query := store.LogQuery{BuildID: &buildID}
	q := r.URL.Query()

	if v := q.Get("min_level"); v != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return query, errors.New("invalid min_level")
		}
		query.MinLevel = &level
	}

	dateFilter := func(name string, dst **time.Time) error {
		v := q.Get(name)
		if v == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return errors.New("invalid " + name + ", must be RFC 3339")
		}
		*dst = &parsed
		return nil
	}

	if err := dateFilter("min_date", &query.MinDate); err != nil {
		return query, err
	}
	if err := dateFilter("max_date", &query.MaxDate); err != nil {
		return query, err
	}

	return query, nil
}
