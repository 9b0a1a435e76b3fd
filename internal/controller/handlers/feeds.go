package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"feedplane/internal/cache"
	"feedplane/internal/controller/middleware"
	"feedplane/internal/scheduler"
	"feedplane/internal/store"
	"feedplane/internal/upload"
	"feedplane/pkg/api"
)

// Queue handles GET /queue. Anonymous callers get the public short-circuit;
// admins get a store-backed answer through the queue cache.
func (h *Handlers) Queue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := middleware.ScopeFromContext(ctx)

	empty, err := h.queue.IsQueueEmpty(ctx, scope)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	processing, err := h.queue.HasJobsInStatus(ctx, scope, store.JobStatusProcessing)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.QueueResponse{
		Scope:        scope.String(),
		QueueEmpty:   empty,
		Processing:   processing,
		ShortCircuit: scope == cache.ScopePublic,
	})
}

// TickFeed handles POST /feeds/{type}/tick. The run happens inside the request
// but is not cancelled when the client goes away; the executor's run budget
// bounds it instead. force defaults to true; pass force=false to honour the
// feed's interval.
func (h *Handlers) TickFeed(w http.ResponseWriter, r *http.Request) {
	feedType := store.FeedType(r.PathValue("type"))

	force := true
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.httpError(w, "Invalid force flag", http.StatusBadRequest)
			return
		}
		force = v
	}

	out, err := h.scheduler.Tick(context.WithoutCancel(r.Context()), feedType, force)
	if errors.Is(err, scheduler.ErrUnknownFeed) {
		h.httpError(w, "Feed type is not scheduled", http.StatusNotFound)
		return
	}
	if err != nil && out.Job == nil {
		h.storeError(w, r, err)
		return
	}

	resp := api.TickResponse{
		FeedType: string(feedType),
		State:    string(out.State),
		Reason:   out.Reason,
	}
	if out.Job != nil {
		job := toJobResponse(out.Job)
		resp.Job = &job
	}
	if err != nil {
		// The run happened and its job records the failure.
		resp.Error = err.Error()
	}
	h.respondJson(w, http.StatusOK, resp)
}

// UploadStatus handles GET /uploads/{ref}.
func (h *Handlers) UploadStatus(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")

	res, err := h.uploads.Check(r.Context(), ref)
	switch {
	case errors.Is(err, upload.ErrMalformedReference):
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, upload.ErrReferenceNotFound):
		h.httpError(w, err.Error(), http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, api.UploadStatusResponse{
		Reference: ref,
		Status:    string(res.Status),
		Detail:    res.Detail,
	})
}
