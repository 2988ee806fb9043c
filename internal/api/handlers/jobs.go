package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/depgraph"
	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/queue"
	"github.com/jobforge/jobforge/internal/store"
)

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	control *control.Control
	queue   queue.Queue
	logger  *slog.Logger
}

// NewJobHandler creates a new job handler. The queue may be nil, in
// which case build requests always run synchronously.
func NewJobHandler(ctl *control.Control, q queue.Queue, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		control: ctl,
		queue:   q,
		logger:  logger,
	}
}

// jobResponse is the wire representation of a job and its derived
// state.
type jobResponse struct {
	*models.Job
	Status  models.JobState `json:"status"`
	Revdeps []string        `json:"reverse_dependencies,omitempty"`
}

// List handles GET /v1/jobs - lists all configured jobs with status.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.control.Jobs().Jobs()

	out := make([]*jobResponse, 0, len(jobs))
	for _, job := range jobs {
		status, err := h.control.JobStatus(r.Context(), job.ID)
		if err != nil {
			h.logger.Error("failed to derive job status", "error", err, "job_id", job.ID)
			WriteInternalError(w, "Failed to list jobs")
			return
		}
		out = append(out, &jobResponse{Job: job, Status: status})
	}

	WriteJSON(w, http.StatusOK, out)
}

// Get handles GET /v1/jobs/{jobID} - retrieves a specific job.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.control.Jobs().GetJob(jobID)
	if !ok {
		WriteNotFound(w, "Job not found")
		return
	}

	status, err := h.control.JobStatus(r.Context(), jobID)
	if err != nil {
		h.logger.Error("failed to derive job status", "error", err, "job_id", jobID)
		WriteInternalError(w, "Failed to get job")
		return
	}

	WriteJSON(w, http.StatusOK, &jobResponse{
		Job:     job,
		Status:  status,
		Revdeps: h.control.Jobs().GetJobRevdeps(jobID),
	})
}

// buildRequestBody is the payload for POST /v1/jobs/{jobID}/build.
type buildRequestBody struct {
	DependencyPolicy string `json:"dependency_policy,omitempty"`
	BuildDependents  bool   `json:"build_dependents,omitempty"`
	Async            bool   `json:"async,omitempty"`
}

// Build handles POST /v1/jobs/{jobID}/build. Synchronous requests run
// the build and return its id; async requests are enqueued for a
// worker.
func (h *JobHandler) Build(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if _, ok := h.control.Jobs().GetJob(jobID); !ok {
		WriteNotFound(w, "Job not found")
		return
	}

	var body buildRequestBody
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	policy, err := control.ParseDependencyPolicy(body.DependencyPolicy)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	if body.Async {
		if h.queue == nil {
			WriteBadRequest(w, "Async builds are not enabled")
			return
		}
		req := queue.NewBuildRequest(jobID)
		req.DependencyPolicy = string(policy)
		req.BuildDependents = body.BuildDependents
		if err := h.queue.Enqueue(r.Context(), req); err != nil {
			h.logger.Error("failed to enqueue build request", "error", err, "job_id", jobID)
			WriteInternalError(w, "Failed to enqueue build request")
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"request_id": req.ID,
			"job_id":     jobID,
		})
		return
	}

	buildID, err := h.control.BuildJob(r.Context(), jobID, control.BuildOptions{
		DependencyPolicy: policy,
		BuildDependents:  body.BuildDependents,
	})
	if err != nil {
		var cycleErr *depgraph.CycleError
		switch {
		case errors.Is(err, control.ErrMissingDependencies):
			WriteConflict(w, err.Error())
		case errors.As(err, &cycleErr):
			WriteBadRequest(w, err.Error())
		default:
			h.logger.Error("failed to build job", "error", err, "job_id", jobID)
			WriteInternalError(w, "Failed to build job")
		}
		return
	}

	build, err := h.control.GetBuild(r.Context(), buildID)
	if err != nil {
		h.logger.Error("failed to get build", "error", err, "build_id", buildID)
		WriteInternalError(w, "Failed to get build")
		return
	}

	WriteJSON(w, http.StatusOK, build)
}

// ListBuilds handles GET /v1/jobs/{jobID}/builds.
func (h *JobHandler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if _, ok := h.control.Jobs().GetJob(jobID); !ok {
		WriteNotFound(w, "Job not found")
		return
	}

	filters, order, limit, err := parseBuildQuery(r)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	builds, err := h.control.Storage().GetJobBuilds(r.Context(), jobID, filters, order, limit)
	if err != nil {
		h.logger.Error("failed to list builds", "error", err, "job_id", jobID)
		WriteInternalError(w, "Failed to list builds")
		return
	}

	WriteJSON(w, http.StatusOK, builds)
}

func parseBuildQuery(r *http.Request) (store.BuildFilters, store.Order, int, error) {
	var filters store.BuildFilters
	q := r.URL.Query()

	boolFilter := func(name string, dst **bool) error {
		v := q.Get(name)
		if v == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("invalid " + name + " filter")
		}
		*dst = &parsed
		return nil
	}

	if err := boolFilter("started", &filters.Started); err != nil {
		return filters, "", 0, err
	}
	if err := boolFilter("finished", &filters.Finished); err != nil {
		return filters, "", 0, err
	}
	if err := boolFilter("success", &filters.Success); err != nil {
		return filters, "", 0, err
	}
	if err := boolFilter("skipped", &filters.Skipped); err != nil {
		return filters, "", 0, err
	}

	order := store.OrderDesc
	switch q.Get("order") {
	case "", "desc":
	case "asc":
		order = store.OrderAsc
	default:
		return filters, "", 0, errors.New("invalid order, must be asc or desc")
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return filters, "", 0, errors.New("invalid limit")
		}
		limit = parsed
	}

	return filters, order, limit, nil
}
