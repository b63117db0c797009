package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite" // SQLite driver
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	Path       string // Database file; created with its parent directory if missing
	Table      string // Defaults to DefaultTable
	TextColumn string // Defaults to DefaultTextColumn
	Dimension  int    // Expected vector size; 0 disables the check
	Logger     *slog.Logger
}

// SQLiteStore is a Store backed by a local SQLite database.
// Vectors are stored as little-endian float32 blobs and searched by brute-force
// cosine similarity; keyword search uses an FTS5 external-content index.
type SQLiteStore struct {
	db         *sql.DB
	table      string
	textColumn string
	dimension  int
	logger     *slog.Logger

	// indexMu serializes index existence checks and builds.
	indexMu sync.Mutex

	// OnIndexBuild, when set, is called each time the full-text index is built.
	OnIndexBuild func(column string)
}

// NewSQLiteStore opens (or creates) the database at opts.Path.
func NewSQLiteStore(opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.TextColumn == "" {
		opts.TextColumn = DefaultTextColumn
	}
	for _, ident := range []string{opts.Table, opts.TextColumn} {
		if !identifierPattern.MatchString(ident) {
			return nil, fmt.Errorf("invalid identifier %q", ident)
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		table:      opts.Table,
		textColumn: opts.TextColumn,
		dimension:  opts.Dimension,
		logger:     opts.Logger,
	}, nil
}

func (s *SQLiteStore) indexName() string {
	return IndexName(s.textColumn)
}

func (s *SQLiteStore) objectExists(ctx context.Context, kind, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking %s %s: %w", kind, name, err)
	}
	return n > 0, nil
}

// TableExists reports whether the chunk table has been created.
func (s *SQLiteStore) TableExists(ctx context.Context) (bool, error) {
	return s.objectExists(ctx, "table", s.table)
}

// HasFullTextIndex reports whether the FTS index has been built.
func (s *SQLiteStore) HasFullTextIndex(ctx context.Context) (bool, error) {
	return s.objectExists(ctx, "table", s.indexName())
}

// ensureTable creates the chunk table on first insert.
// seq is an explicit rowid alias so FTS rows stay aligned across VACUUM.
func (s *SQLiteStore) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		%q TEXT NOT NULL,
		vector BLOB NOT NULL,
		metadata TEXT NOT NULL
	)`, s.table, s.textColumn)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// Insert upserts records one statement at a time.
func (s *SQLiteStore) Insert(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i, rec := range records {
		if s.dimension > 0 && len(rec.Vector) != s.dimension {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(rec.Vector), s.dimension)
		}
	}

	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %q (id, %q, vector, metadata) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET %q = excluded.%q, vector = excluded.vector, metadata = excluded.metadata`,
		s.table, s.textColumn, s.textColumn, s.textColumn)

	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", rec.ID, err)
		}
		if _, err := s.db.ExecContext(ctx, stmt, rec.ID, rec.Text, float32SliceToBytes(rec.Vector), string(meta)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", rec.ID, err)
		}
	}

	s.logger.Debug("Inserted chunks", "table", s.table, "count", len(records))
	return nil
}

// CreateFullTextIndexIfAbsent builds an FTS5 index over column, with triggers
// keeping it in sync, unless one already exists. The build runs in a single
// transaction, so the index is fully populated when this returns.
func (s *SQLiteStore) CreateFullTextIndexIfAbsent(ctx context.Context, column string) error {
	if column != s.textColumn {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
	}

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	exists, err := s.objectExists(ctx, "table", s.indexName())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	idx := s.indexName()
	stmts := []string{
		fmt.Sprintf(`CREATE VIRTUAL TABLE %q USING fts5(%q, content=%q, content_rowid='seq')`,
			idx, column, s.table),
		fmt.Sprintf(`CREATE TRIGGER %q AFTER INSERT ON %q BEGIN
			INSERT INTO %q(rowid, %q) VALUES (new.seq, new.%q);
		END`, idx+"_ai", s.table, idx, column, column),
		fmt.Sprintf(`CREATE TRIGGER %q AFTER DELETE ON %q BEGIN
			INSERT INTO %q(%q, rowid, %q) VALUES ('delete', old.seq, old.%q);
		END`, idx+"_ad", s.table, idx, idx, column, column),
		fmt.Sprintf(`CREATE TRIGGER %q AFTER UPDATE ON %q BEGIN
			INSERT INTO %q(%q, rowid, %q) VALUES ('delete', old.seq, old.%q);
			INSERT INTO %q(rowid, %q) VALUES (new.seq, new.%q);
		END`, idx+"_au", s.table, idx, idx, column, column, idx, column, column),
		fmt.Sprintf(`INSERT INTO %q(%q) VALUES ('rebuild')`, idx, idx),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index build: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("building index %s: %w", idx, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index %s: %w", idx, err)
	}

	if s.OnIndexBuild != nil {
		s.OnIndexBuild(column)
	}
	s.logger.Info("Built full-text index", "index", idx, "table", s.table)
	return nil
}

// HybridQuery runs the vector and keyword legs in parallel and fuses them.
func (s *SQLiteStore) HybridQuery(ctx context.Context, text string, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = DefaultK
	}

	exists, err := s.TableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, s.table)
	}

	// Over-fetch so Distinct can still fill k.
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

func (s *SQLiteStore) vectorSearch(ctx context.Context, query []float32, limit int) ([]Hit, error) {
	if s.dimension > 0 && len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), s.dimension)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, %q, vector, metadata FROM %q`, s.textColumn, s.table))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit  Hit
			blob []byte
			meta string
		)
		if err := rows.Scan(&hit.ID, &hit.Text, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		score, ok := cosineSimilarity(query, bytesToFloat32Slice(blob))
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(meta), &hit.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", hit.ID, err)
		}
		hit.Score = score
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLiteStore) keywordSearch(ctx context.Context, text string, limit int) ([]Hit, error) {
	exists, err := s.objectExists(ctx, "table", s.indexName())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexMissing, s.indexName())
	}

	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}

	idx := s.indexName()
	stmt := fmt.Sprintf(`SELECT c.id, c.%q, c.metadata, bm25(%q) AS score
		FROM %q JOIN %q c ON c.seq = %q.rowid
		WHERE %q MATCH ?
		ORDER BY score
		LIMIT ?`, s.textColumn, idx, idx, s.table, idx, idx)

	rows, err := s.db.QueryContext(ctx, stmt, match, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			hit  Hit
			meta string
			rank float64
		)
		if err := rows.Scan(&hit.ID, &hit.Text, &meta, &rank); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &hit.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", hit.ID, err)
		}
		// bm25 is lower-is-better.
		hit.Score = -rank
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return hits, nil
}

// DeleteByPrefix removes every chunk whose id starts with prefix.
// A missing table is a no-op.
func (s *SQLiteStore) DeleteByPrefix(ctx context.Context, prefix string) error {
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

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %q WHERE id LIKE ? ESCAPE '\'`, s.table),
		escapeLike(prefix)+"%")
	if err != nil {
		return fmt.Errorf("deleting prefix %s: %w", prefix, err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("Deleted chunks", "prefix", prefix, "count", n)
	return nil
}

// Optimize merges FTS segments and vacuums the database.
func (s *SQLiteStore) Optimize(ctx context.Context) error {
	exists, err := s.objectExists(ctx, "table", s.indexName())
	if err != nil {
		return err
	}
	if exists {
		idx := s.indexName()
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q(%q) VALUES ('optimize')`, idx, idx)); err != nil {
			return fmt.Errorf("optimizing index %s: %w", idx, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ftsQuery turns free text into an FTS5 expression of quoted terms joined by OR.
func ftsQuery(text string) string {
	terms := queryTerms(text)
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR ")
}

// queryTerms splits text into lowercase alphanumeric terms, dropping duplicates.
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	terms := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		va, vb := float64(a[i]), float64(b[i])
		dot += va * vb
		na += va * va
		nb += vb * vb
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
