package worker

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"feedplane/internal/feed"
	"feedplane/internal/logger"
	"feedplane/internal/observability"
	"feedplane/internal/store"
)

// Catalog enumerates and resolves products.
type Catalog interface {
	feed.Source
	ListProductIDs(ctx context.Context, filter store.ProductFilter) iter.Seq2[string, error]
}

// Uploader ships a published file to the ingestion endpoint and returns its reference.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// FeedHandlerConfig configures a FeedHandler.
type FeedHandlerConfig struct {
	Catalog Catalog
	// Paths resolves the output locations of a feed type.
	Paths func(store.FeedType) feed.Paths
	// Uploader is optional; without it files are only published locally.
	Uploader      Uploader
	ProgressEvery int
	Logger        *slog.Logger
	Instruments   *observability.Instruments
}

// FeedHandler generates the feed file for catalog and product_sync jobs.
type FeedHandler struct {
	cfg FeedHandlerConfig
	log *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(cfg FeedHandlerConfig) *FeedHandler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &FeedHandler{cfg: cfg, log: cfg.Logger.With("component", "feed_handler")}
}

// Run writes and publishes the file described by the job payload, then uploads it.
func (h *FeedHandler) Run(ctx context.Context, job *store.Job, progress ProgressFunc) (store.JobResult, error) {
	var ids iter.Seq2[string, error]
	switch p := job.Payload.(type) {
	case store.CatalogFeedPayload:
		ids = h.cfg.Catalog.ListProductIDs(ctx, p.Filter)
	case store.ProductSyncPayload:
		ids = sliceIDs(p.ProductIDs)
	default:
		return store.JobResult{}, fmt.Errorf("unsupported payload %T", job.Payload)
	}

	w := feed.NewWriter(h.cfg.Paths(job.FeedType), h.cfg.Catalog, feed.Options{
		Logger:        h.log.With("job_id", job.ID),
		Instruments:   h.cfg.Instruments,
		ProgressEvery: h.cfg.ProgressEvery,
		OnProgress: func(ctx context.Context, s feed.Stats) error {
			if progress == nil {
				return nil
			}
			return progress(ctx, s.Written, s.Skipped)
		},
	})

	res, err := w.Generate(ctx, string(job.FeedType), ids)
	if err != nil {
		return store.JobResult{}, err
	}

	result := store.JobResult{
		FilePath:    res.Path,
		RowsWritten: res.Stats.Written,
		Skipped:     res.Stats.Skipped,
	}
	if h.cfg.Uploader != nil {
		ref, err := h.cfg.Uploader.Upload(ctx, res.Path)
		if err != nil {
			return result, fmt.Errorf("feed published to %s but upload failed: %w", res.Path, err)
		}
		result.UploadRef = ref
	}
	return result, nil
}

func sliceIDs(ids []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}
