// Package indexer turns a document URL into stored, searchable chunks and
// reports the attempt's progress to the history collaborator.
//
// Per attempt the status moves pending → in_progress → completed|failed.
// Runtime failures are captured and recorded as failed; an unsupported
// source is a caller configuration error and is returned without touching
// the status record.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bull/rag-builder/internal/embedding"
	"github.com/bull/rag-builder/internal/history"
	"github.com/bull/rag-builder/internal/loader"
	"github.com/bull/rag-builder/internal/registry"
	"github.com/bull/rag-builder/internal/splitter"
	"github.com/bull/rag-builder/internal/storage"
)

// UnknownTitle is the document title used when none can be derived.
const UnknownTitle = "Unknown"

// reportTimeout bounds the terminal status report, which runs detached from
// the caller's cancellation so an interrupted attempt is still recorded.
const reportTimeout = 10 * time.Second

// ErrNoContent means the document produced no chunks.
var ErrNoContent = errors.New("document has no extractable text")

// Loaders resolves a source type to its loader.
type Loaders interface {
	For(source loader.Source) (loader.Loader, error)
}

// StatusReporter records status transitions of a load attempt.
type StatusReporter interface {
	UpdateStatus(ctx context.Context, loadID string, u history.StatusUpdate) error
}

// DocumentRegistrar registers a successfully ingested document.
type DocumentRegistrar interface {
	CreateDocument(ctx context.Context, d history.NewDocument) error
}

// Titler derives a title from document text when the source carries none.
type Titler interface {
	GenerateTitle(ctx context.Context, url, content string) (string, error)
}

// Outcome is the result of one ingestion run, before it is reported.
type Outcome struct {
	Status registry.Status
	Err    error
	Chunks int
	Title  string
}

// Deps are the collaborators of a Pipeline. Titler may be nil.
type Deps struct {
	Loaders   Loaders
	Splitter  *splitter.Splitter
	Embedder  embedding.Embedding
	Store     storage.Store
	Status    StatusReporter
	Documents DocumentRegistrar
	Titler    Titler
}

// Options tune a Pipeline.
type Options struct {
	// TextColumn is the column the full-text index covers.
	TextColumn string
	// AbortOnStatusError makes status reporting failures fatal.
	AbortOnStatusError bool
	Logger             *slog.Logger
	Tracer             trace.Tracer
	Now                func() time.Time
}

// Pipeline orchestrates load → split → embed → store → index → report.
type Pipeline struct {
	deps       Deps
	textColumn string
	abort      bool
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewPipeline creates a new ingestion pipeline with the given components.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if deps.Splitter == nil {
		deps.Splitter = splitter.New(0, 0)
	}
	if opts.TextColumn == "" {
		opts.TextColumn = storage.DefaultTextColumn
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/bull/rag-builder/internal/indexer")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		deps:       deps,
		textColumn: opts.TextColumn,
		abort:      opts.AbortOnStatusError,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		now:        opts.Now,
	}
}

// Ingest loads the document at url into the store under attemptID.
//
// It returns nil once the outcome is recorded, including when ingestion
// failed. Errors are returned for an unsupported source (wrapping
// loader.ErrUnsupportedSource) and, with AbortOnStatusError, for status
// reporting failures.
func (p *Pipeline) Ingest(ctx context.Context, attemptID string, source loader.Source, url string) error {
	_, err := p.IngestOutcome(ctx, attemptID, source, url)
	return err
}

// IngestOutcome is Ingest that also returns the run's Outcome.
func (p *Pipeline) IngestOutcome(ctx context.Context, attemptID string, source loader.Source, url string) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "indexer.Ingest", trace.WithAttributes(
		attribute.String("load.id", attemptID),
		attribute.String("load.source", string(source)),
		attribute.String("load.url", url),
	))
	defer span.End()

	l, err := p.deps.Loaders.For(source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unsupported source")
		p.logger.Error("Rejected load request", "load_id", attemptID, "source", source, "error", err)
		return Outcome{}, fmt.Errorf("ingest %s: %w", attemptID, err)
	}

	started := p.now()
	inProgress := true
	if err := p.reportInProgress(ctx, attemptID, started); err != nil {
		if p.abort {
			span.RecordError(err)
			span.SetStatus(codes.Error, "status report failed")
			return Outcome{}, fmt.Errorf("report in_progress: %w", err)
		}
		p.logger.Warn("Failed to report status", "load_id", attemptID, "status", registry.StatusInProgress, "error", err)
		inProgress = false
	}

	out := p.run(ctx, attemptID, l, url)
	span.SetAttributes(
		attribute.String("load.status", string(out.Status)),
		attribute.Int("load.chunks", out.Chunks),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "ingestion failed")
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if !inProgress {
		// Terminal states are only reachable from in_progress.
		if err := p.reportInProgress(reportCtx, attemptID, started); err != nil {
			p.logger.Warn("Failed to re-report status", "load_id", attemptID, "status", registry.StatusInProgress, "error", err)
		}
	}
	return out, p.report(reportCtx, attemptID, url, out)
}

func (p *Pipeline) reportInProgress(ctx context.Context, attemptID string, started time.Time) error {
	return p.deps.Status.UpdateStatus(ctx, attemptID, history.StatusUpdate{
		Status:    registry.StatusInProgress,
		StartedAt: &started,
	})
}

// run executes the fallible stages and captures their result.
func (p *Pipeline) run(ctx context.Context, attemptID string, l loader.Loader, url string) Outcome {
	start := p.now()

	pages, err := stage(p, ctx, "load", func(ctx context.Context) ([]loader.Page, error) {
		return l.Load(ctx, url)
	})
	if err != nil {
		return failed(fmt.Errorf("load: %w", err))
	}

	chunks := p.deps.Splitter.SplitPages(pages)
	if len(chunks) == 0 {
		return failed(ErrNoContent)
	}
	p.logger.Debug("Split document", "load_id", attemptID, "pages", len(pages), "chunks", len(chunks))

	title := p.title(ctx, url, chunks)
	texts := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].Metadata["url"] = url
		if chunks[i].Metadata["title"] == "" && title != UnknownTitle {
			chunks[i].Metadata["title"] = title
		}
		texts[i] = chunks[i].Text
	}

	vectors, err := stage(p, ctx, "embed", func(ctx context.Context) ([][]float32, error) {
		return p.deps.Embedder.GenerateEmbeddings(ctx, texts)
	})
	if err != nil {
		return failed(fmt.Errorf("embeddings: %w", err))
	}
	if len(vectors) != len(chunks) {
		return failed(fmt.Errorf("embeddings: got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	records := make([]storage.ChunkRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = storage.ChunkRecord{
			ID:       storage.ChunkID(attemptID, i),
			Text:     chunk.Text,
			Vector:   vectors[i],
			Metadata: chunk.Metadata,
		}
	}

	if _, err := stage(p, ctx, "insert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.deps.Store.Insert(ctx, records)
	}); err != nil {
		return failed(fmt.Errorf("store chunks: %w", err))
	}

	if _, err := stage(p, ctx, "index", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.deps.Store.CreateFullTextIndexIfAbsent(ctx, p.textColumn)
	}); err != nil {
		return failed(fmt.Errorf("full-text index: %w", err))
	}

	p.logger.Info("Indexed document",
		"load_id", attemptID,
		"url", url,
		"chunks", len(records),
		"duration", p.now().Sub(start),
	)
	return Outcome{Status: registry.StatusCompleted, Chunks: len(records), Title: title}
}

// report converts an Outcome into status calls and the document registration.
func (p *Pipeline) report(ctx context.Context, attemptID, url string, out Outcome) error {
	if out.Status == registry.StatusFailed {
		p.logger.Error("Ingestion failed", "load_id", attemptID, "url", url, "error", out.Err)
		details := out.Err.Error()
		return p.statusErr(attemptID, registry.StatusFailed, p.deps.Status.UpdateStatus(ctx, attemptID, history.StatusUpdate{
			Status:       registry.StatusFailed,
			ErrorDetails: &details,
		}))
	}

	completed := p.now()
	if err := p.deps.Status.UpdateStatus(ctx, attemptID, history.StatusUpdate{
		Status:      registry.StatusCompleted,
		CompletedAt: &completed,
	}); err != nil {
		// Without a completed record the document must not become visible.
		return p.statusErr(attemptID, registry.StatusCompleted, err)
	}

	if err := p.deps.Documents.CreateDocument(ctx, history.NewDocument{
		DocumentID: attemptID,
		Title:      out.Title,
		URL:        url,
	}); err != nil {
		if p.abort {
			return fmt.Errorf("register document: %w", err)
		}
		p.logger.Warn("Failed to register document", "load_id", attemptID, "error", err)
	}
	return nil
}

func (p *Pipeline) statusErr(attemptID string, status registry.Status, err error) error {
	if err == nil {
		return nil
	}
	if p.abort {
		return fmt.Errorf("report %s: %w", status, err)
	}
	p.logger.Warn("Failed to report status", "load_id", attemptID, "status", status, "error", err)
	return nil
}

// title picks the first chunk's title, then the Titler, then UnknownTitle.
func (p *Pipeline) title(ctx context.Context, url string, chunks []splitter.Chunk) string {
	if t := chunks[0].Metadata["title"]; t != "" {
		return t
	}
	if p.deps.Titler == nil {
		return UnknownTitle
	}
	t, err := p.deps.Titler.GenerateTitle(ctx, url, chunks[0].Text)
	if err != nil || t == "" {
		p.logger.Warn("Title generation failed, using default", "url", url, "error", err)
		return UnknownTitle
	}
	return t
}

// stage runs fn inside a child span named after the stage.
func stage[T any](p *Pipeline, ctx context.Context, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := p.tracer.Start(ctx, "indexer."+name)
	defer span.End()
	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return v, err
}

func failed(err error) Outcome {
	return Outcome{Status: registry.StatusFailed, Err: err}
}
