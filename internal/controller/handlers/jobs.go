package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"feedplane/internal/store"
	"feedplane/pkg/api"

	"github.com/google/uuid"
)

// maxListLimit caps GET /jobs.
const maxListLimit = 500

// CreateJob handles POST /jobs.
// It queues a job for the worker agent; a feed type with an active job answers 409.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	payload, err := payloadFromRequest(req)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), payload)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toJobResponse(job))
}

func payloadFromRequest(req api.CreateJobRequest) (store.Payload, error) {
	var payload store.Payload
	switch store.FeedType(req.FeedType) {
	case store.FeedTypeCatalog:
		p := store.CatalogFeedPayload{}
		if req.Filter != nil {
			p.Filter = store.ProductFilter{IncludeHidden: req.Filter.IncludeHidden, Categories: req.Filter.Categories}
		}
		payload = p
	case store.FeedTypeProductSync:
		payload = store.ProductSyncPayload{ProductIDs: req.ProductIDs}
	case "":
		return nil, errors.New("feed_type is required")
	default:
		return nil, fmt.Errorf("unknown feed_type %q", req.FeedType)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// DeleteJob handles DELETE /jobs/{id}.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job ID", http.StatusBadRequest)
		return
	}

	if err := h.jobs.DeleteJob(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs handles GET /jobs?status=queued,processing&feed_type=catalog&limit=20.
// Results are newest first.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{Newest: true, Limit: 50}

	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := store.JobStatus(strings.TrimSpace(s))
			if !status.Valid() {
				h.httpError(w, "Invalid status "+strconv.Quote(string(status)), http.StatusBadRequest)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := q.Get("feed_type"); raw != "" {
		ft := store.FeedType(raw)
		if !ft.Valid() {
			h.httpError(w, "Invalid feed_type "+strconv.Quote(raw), http.StatusBadRequest)
			return
		}
		filter.FeedType = ft
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	jobs, err := h.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	resp := api.ListJobsResponse{Jobs: make([]api.JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	h.respondJson(w, http.StatusOK, resp)
}
