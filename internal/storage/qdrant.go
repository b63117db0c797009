package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"
)

// pointNamespace derives stable point UUIDs from chunk ids.
var pointNamespace = uuid.MustParse("6f1d2b8e-3c4a-5e7f-9a0b-1c2d3e4f5a6b")

const (
	payloadChunkID  = "chunk_id"
	payloadMetadata = "metadata"

	upsertBatchSize = 100
	scrollBatchSize = 256

	// KeywordScanLimit caps the points a keyword search reads. Matches past
	// it are not ranked.
	KeywordScanLimit = 8192
)

// QdrantOptions configures a QdrantStore.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string // Defaults to DefaultTable
	TextField  string // Defaults to DefaultTextColumn
	Dimension  int    // Defaults to VectorDimension
	Logger     *slog.Logger
}

// QdrantStore is a Store backed by a Qdrant collection.
// The chunk id lives in the payload; the point id is a UUIDv5 of it.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	textField  string
	dimension  int
	logger     *slog.Logger

	// indexed caches a positive full-text index check.
	indexed atomic.Bool

	pageSize  int
	scanLimit int
}

// NewQdrantStore creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStore(ctx context.Context, opts QdrantOptions) (*QdrantStore, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultTable
	}
	if opts.TextField == "" {
		opts.TextField = DefaultTextColumn
	}
	if opts.Dimension == 0 {
		opts.Dimension = VectorDimension
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: opts.Collection,
		textField:  opts.TextField,
		dimension:  opts.Dimension,
		logger:     opts.Logger,
		pageSize:   scrollBatchSize,
		scanLimit:  KeywordScanLimit,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return s, nil
}

func newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, newBackoff(ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// TableExists reports whether the collection exists.
func (s *QdrantStore) TableExists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return exists, nil
}

// ensureCollection creates the collection with cosine distance on first insert.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.TableExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// chunk_id is filtered on by prefix deletion scans.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      payloadChunkID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create index for field %s: %w", payloadChunkID, err)
	}

	s.logger.Info("Created collection", "collection", s.collection, "dimension", s.dimension)
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}
	return backoff.Retry(operation, newBackoff(ctx))
}

// Insert upserts records in batches of 100. Earlier batches stay written if a later one fails.
func (s *QdrantStore) Insert(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	for i, rec := range records {
		if len(rec.Vector) != s.dimension {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(rec.Vector), s.dimension)
		}
	}

	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	for i := 0; i < len(records); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(records))

		batch := records[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, rec := range batch {
			meta := make(map[string]any, len(rec.Metadata))
			for k, v := range rec.Metadata {
				meta[k] = v
			}
			points[j] = &qdrant.PointStruct{
				Id:      pointID(rec.ID),
				Vectors: qdrant.NewVectors(rec.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					payloadChunkID:  rec.ID,
					s.textField:     rec.Text,
					payloadMetadata: meta,
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// CreateFullTextIndexIfAbsent creates a text payload index on column unless
// the collection schema already has one. Wait=true blocks until it is built.
func (s *QdrantStore) CreateFullTextIndexIfAbsent(ctx context.Context, column string) error {
	if column != s.textField {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}
	if s.indexed.Load() {
		return nil
	}

	has, err := s.hasTextIndex(ctx)
	if err != nil {
		return err
	}
	if has {
		s.indexed.Store(true)
		return nil
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      column,
		FieldType:      qdrant.FieldType_FieldTypeText.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create full-text index %s: %w", IndexName(column), err)
	}

	s.indexed.Store(true)
	s.logger.Info("Built full-text index", "index", IndexName(column), "collection", s.collection)
	return nil
}

// HasFullTextIndex reports whether the text payload index exists.
func (s *QdrantStore) HasFullTextIndex(ctx context.Context) (bool, error) {
	if s.indexed.Load() {
		return true, nil
	}
	exists, err := s.TableExists(ctx)
	if err != nil || !exists {
		return false, err
	}
	return s.hasTextIndex(ctx)
}

func (s *QdrantStore) hasTextIndex(ctx context.Context) (bool, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to get collection: %w", err)
	}
	schema, ok := info.GetPayloadSchema()[s.textField]
	if !ok {
		return false, nil
	}
	return schema.GetDataType() == qdrant.PayloadSchemaType_Text, nil
}

// HybridQuery runs vector search and a full-text scroll in parallel and fuses them.
func (s *QdrantStore) HybridQuery(ctx context.Context, text string, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = DefaultK
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}

	exists, err := s.TableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, s.collection)
	}

	legLimit := k * 2

	var vectorHits, keywordHits []Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorHits, err = s.vectorSearch(gctx, vector, legLimit)
		return err
	})
	g.Go(func() error {
		var err error
		keywordHits, err = s.keywordSearch(gctx, text, legLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Distinct(Fuse(DefaultRankConstant, vectorHits, keywordHits), k), nil
}

func (s *QdrantStore) vectorSearch(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, result := range results {
		hit := s.hitFromPayload(result.Payload)
		hit.Score = float64(result.Score)
		hits = append(hits, hit)
	}
	return hits, nil
}

// keywordSearch scrolls points matching any query term and ranks them by term frequency.
func (s *QdrantStore) keywordSearch(ctx context.Context, text string, limit int) ([]Hit, error) {
	if !s.indexed.Load() {
		has, err := s.hasTextIndex(ctx)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, fmt.Errorf("%w: %s", ErrIndexMissing, IndexName(s.textField))
		}
		s.indexed.Store(true)
	}

	terms := queryTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}

	should := make([]*qdrant.Condition, len(terms))
	for i, term := range terms {
		should[i] = qdrant.NewMatchText(s.textField, term)
	}

	var hits []Hit
	err := s.scroll(ctx, &qdrant.Filter{Should: should}, qdrant.NewWithPayload(true), s.scanLimit,
		func(point *qdrant.RetrievedPoint) {
			hit := s.hitFromPayload(point.Payload)
			hit.Score = termFrequency(hit.Text, terms)
			hits = append(hits, hit)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll for keyword search: %w", err)
	}
	if len(hits) >= s.scanLimit {
		s.logger.Warn("Keyword search hit the scan limit", "limit", s.scanLimit, "terms", len(terms))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// scroll pages through the points matching filter and passes each to fn.
// A positive maxPoints stops after that many points.
func (s *QdrantStore) scroll(ctx context.Context, filter *qdrant.Filter, payload *qdrant.WithPayloadSelector, maxPoints int, fn func(*qdrant.RetrievedPoint)) error {
	var (
		offset *qdrant.PointId
		seen   int
	)
	for {
		// Fetch one extra point to learn the next page offset.
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(s.pageSize + 1)),
			Offset:         offset,
			WithPayload:    payload,
		})
		if err != nil {
			return err
		}

		page := results
		if len(results) > s.pageSize {
			page = results[:s.pageSize]
		}
		for _, point := range page {
			if maxPoints > 0 && seen >= maxPoints {
				return nil
			}
			fn(point)
			seen++
		}

		if len(results) <= s.pageSize {
			return nil
		}
		offset = results[s.pageSize].Id
	}
}

func (s *QdrantStore) hitFromPayload(payload map[string]*qdrant.Value) Hit {
	hit := Hit{
		ID:       payload[payloadChunkID].GetStringValue(),
		Text:     payload[s.textField].GetStringValue(),
		Metadata: map[string]string{},
	}
	for k, v := range payload[payloadMetadata].GetStructValue().GetFields() {
		hit.Metadata[k] = v.GetStringValue()
	}
	return hit
}

// DeleteByPrefix scans chunk ids and deletes the points whose id starts with prefix.
// A missing collection is a no-op.
func (s *QdrantStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("empty delete prefix")
	}
	exists, err := s.TableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	var ids []*qdrant.PointId
	err = s.scroll(ctx, nil, qdrant.NewWithPayloadInclude(payloadChunkID), 0, func(point *qdrant.RetrievedPoint) {
		if strings.HasPrefix(point.Payload[payloadChunkID].GetStringValue(), prefix) {
			ids = append(ids, point.Id)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to scroll chunk ids: %w", err)
	}

	for i := 0; i < len(ids); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(ids))
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points:         qdrant.NewPointsSelector(ids[i:end]...),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("failed to delete points %d-%d: %w", i, end, err)
		}
	}

	s.logger.Info("Deleted chunks", "prefix", prefix, "count", len(ids))
	return nil
}

// Optimize reports the collection state; Qdrant compacts segments on its own.
func (s *QdrantStore) Optimize(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}
	s.logger.Info("Collection state",
		"collection", s.collection,
		"status", info.GetStatus().String(),
		"points", info.GetPointsCount(),
		"segments", info.GetSegmentsCount())
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(chunkID)).String())
}

func termFrequency(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	var n int
	for _, term := range terms {
		n += strings.Count(lower, term)
	}
	return float64(n)
}
