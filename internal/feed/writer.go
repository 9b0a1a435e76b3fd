package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"feedplane/internal/logger"
	"feedplane/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrProductNotFound is returned by a Source for ids it does not know.
	ErrProductNotFound = errors.New("feed: product not found")

	// ErrUnrelatedFile is returned when the temp path holds a file this package did not write.
	ErrUnrelatedFile = errors.New("feed: temp path holds an unrelated file")

	// ErrNoActiveFile is returned by Finalize and Abort when no temp file is open.
	ErrNoActiveFile = errors.New("feed: no temp file is open")

	// ErrWriteInProgress is returned by PrepareTempFile while another temp file is open.
	ErrWriteInProgress = errors.New("feed: a temp file is already open")
)

// Source enumerates and resolves products.
type Source interface {
	// Resolve returns the feed row for id, or an error wrapping ErrProductNotFound.
	Resolve(ctx context.Context, id string) (*Row, error)
}

// Stats counts the outcome of WriteRows.
type Stats struct {
	Written int
	Skipped int
}

// ProgressFunc is called every Options.ProgressEvery products. A non-nil
// error stops the write.
type ProgressFunc func(ctx context.Context, stats Stats) error

// Options configures a Writer.
type Options struct {
	Logger        *slog.Logger
	Instruments   *observability.Instruments
	ProgressEvery int
	OnProgress    ProgressFunc
}

// DefaultProgressEvery is the progress reporting interval in products.
const DefaultProgressEvery = 500

// TempFile is the open in-progress feed file.
type TempFile struct {
	file *os.File
	csv  *csv.Writer
}

// Writer produces one feed file: a header and one row per product, written
// to a temp file and published with a single rename.
type Writer struct {
	paths      Paths
	source     Source
	log        *slog.Logger
	metrics    *observability.Instruments
	every      int
	onProgress ProgressFunc

	mu     sync.Mutex
	active *TempFile
}

// NewWriter creates a Writer for paths resolving products through source.
func NewWriter(paths Paths, source Source, opts Options) *Writer {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	return &Writer{
		paths:      paths,
		source:     source,
		log:        opts.Logger.With("component", "feed_writer", "file", paths.FileName()),
		metrics:    opts.Instruments,
		every:      opts.ProgressEvery,
		onProgress: opts.OnProgress,
	}
}

// Paths returns the writer's resolved locations.
func (w *Writer) Paths() Paths { return w.paths }

// PrepareTempFile creates the output directory, opens the temp file and writes the header.
// A leftover temp file from an earlier run of this writer is replaced; any other
// file at the temp path fails with ErrUnrelatedFile.
func (w *Writer) PrepareTempFile() (*TempFile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		return nil, ErrWriteInProgress
	}
	if err := ProtectDirectory(w.paths.FileDirectory()); err != nil {
		return nil, err
	}

	tempPath := w.paths.TempFilePath()
	if err := removeStaleTemp(tempPath); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open temp file: %w", err)
	}

	cw := csv.NewWriter(f)
	if err := cw.Write(Columns); err != nil {
		f.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	w.active = &TempFile{file: f, csv: cw}
	return w.active, nil
}

// removeStaleTemp deletes path if it is an earlier temp file of ours.
func removeStaleTemp(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to inspect temp file: %w", err)
	}
	first, err := bufio.NewReader(f).ReadString('\n')
	f.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to inspect temp file: %w", err)
	}

	if first != "" && strings.TrimRight(first, "\r\n") != headerLine() {
		return fmt.Errorf("%s: %w", path, ErrUnrelatedFile)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove stale temp file: %w", err)
	}
	return nil
}

// WriteRows resolves each id and appends its row. Products that fail to
// resolve, including a Resolve that panics, are logged and skipped.
// Enumeration errors and cancellation stop the write.
func (w *Writer) WriteRows(ctx context.Context, tf *TempFile, ids iter.Seq2[string, error]) (Stats, error) {
	var stats Stats
	if tf == nil {
		return stats, ErrNoActiveFile
	}

	for id, err := range ids {
		if err != nil {
			return stats, fmt.Errorf("product enumeration failed: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		row, err := w.resolve(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Skipped++
			w.log.Warn("skipping product", "product_id", id, "error", err, "error_kind", "partial")
			continue
		}
		if err := tf.csv.Write(row.Values()); err != nil {
			return stats, fmt.Errorf("failed to write product %s: %w", id, err)
		}
		stats.Written++

		if w.onProgress != nil && (stats.Written+stats.Skipped)%w.every == 0 {
			tf.csv.Flush()
			if err := tf.csv.Error(); err != nil {
				return stats, fmt.Errorf("failed to flush feed rows: %w", err)
			}
			if err := w.onProgress(ctx, stats); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// resolve calls the source, turning a panic into an error for that product.
func (w *Writer) resolve(ctx context.Context, id string) (row *Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			row, err = nil, fmt.Errorf("resolving product %s panicked: %v", id, r)
		}
	}()
	return w.source.Resolve(ctx, id)
}

// Finalize flushes and closes the temp file, then renames it over the published
// file. A failed rename leaves the temp file in place and the published file untouched.
// Calling Finalize again returns ErrNoActiveFile.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tf := w.active
	if tf == nil {
		return ErrNoActiveFile
	}
	w.active = nil

	tf.csv.Flush()
	if err := tf.csv.Error(); err != nil {
		tf.file.Close()
		return fmt.Errorf("failed to flush feed file: %w", err)
	}
	if err := tf.file.Sync(); err != nil {
		tf.file.Close()
		return fmt.Errorf("failed to sync feed file: %w", err)
	}
	if err := tf.file.Close(); err != nil {
		return fmt.Errorf("failed to close feed file: %w", err)
	}

	if err := os.Rename(w.paths.TempFilePath(), w.paths.FilePath()); err != nil {
		return fmt.Errorf("failed to publish feed file: %w", err)
	}
	if err := syncDir(w.paths.FileDirectory()); err != nil {
		w.log.Warn("failed to sync feed directory", "error", err)
	}
	return nil
}

// Abort closes and removes the open temp file.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	tf := w.active
	if tf == nil {
		return ErrNoActiveFile
	}
	w.active = nil

	tf.file.Close()
	if err := os.Remove(w.paths.TempFilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove temp file: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Result describes a published feed.
type Result struct {
	Path     string
	Stats    Stats
	Duration time.Duration
}

// Generate runs the whole pipeline for ids: prepare, write, finalize.
// On any error the temp file is discarded and the published file is left as it was.
func (w *Writer) Generate(ctx context.Context, feedType string, ids iter.Seq2[string, error]) (Result, error) {
	ctx, span := observability.Tracer("feed").Start(ctx, "feed.generate")
	defer span.End()
	span.SetAttributes(attribute.String("feed.type", feedType), attribute.String("feed.file", w.paths.FileName()))

	start := time.Now()
	fail := func(err error) (Result, error) {
		observability.FailSpan(span, err)
		return Result{}, err
	}

	tf, err := w.PrepareTempFile()
	if err != nil {
		return fail(err)
	}
	defer func() {
		if r := recover(); r != nil {
			if abortErr := w.Abort(); abortErr != nil && !errors.Is(abortErr, ErrNoActiveFile) {
				w.log.Error("failed to discard temp file", "error", abortErr)
			}
			panic(r)
		}
	}()

	stats, err := w.WriteRows(ctx, tf, ids)
	if err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			w.log.Error("failed to discard temp file", "error", abortErr)
		}
		return fail(err)
	}

	if err := w.Finalize(); err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	w.metrics.FeedGenerated(ctx, feedType, stats.Written, stats.Skipped, elapsed)
	span.SetAttributes(attribute.Int("feed.rows_written", stats.Written), attribute.Int("feed.rows_skipped", stats.Skipped))
	w.log.Info("feed published", "rows_written", stats.Written, "rows_skipped", stats.Skipped, "duration", elapsed)

	return Result{Path: w.paths.FilePath(), Stats: stats, Duration: elapsed}, nil
}
