// Package registry persists load attempts and documents with gorm.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// DefaultPageSize is the number of rows returned per list call.
const DefaultPageSize = 50

// Open connects to the registry database. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	return db, nil
}

// Repository stores load attempts and documents.
type Repository struct {
	db     *gorm.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRepository migrates the schema and returns a repository.
// A zero ttl uses DefaultHistoryTTL.
func NewRepository(db *gorm.DB, ttl time.Duration, logger *slog.Logger) (*Repository, error) {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&LoadAttempt{}, &Document{}); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}
	return &Repository{db: db, ttl: ttl, now: time.Now, logger: logger}, nil
}

// CreateAttempt inserts a pending attempt that expires after the history TTL.
func (r *Repository) CreateAttempt(ctx context.Context, loadID, source, url string) (*LoadAttempt, error) {
	now := r.now().UTC()
	a := &LoadAttempt{
		LoadID:    loadID,
		Source:    source,
		URL:       url,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: load %s", ErrAlreadyExists, loadID)
		}
		return nil, fmt.Errorf("creating load attempt: %w", err)
	}
	return a, nil
}

// GetAttempt returns the attempt or ErrNotFound.
func (r *Repository) GetAttempt(ctx context.Context, loadID string) (*LoadAttempt, error) {
	var a LoadAttempt
	err := r.db.WithContext(ctx).First(&a, "load_id = ?", loadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: load %s", ErrNotFound, loadID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting load attempt: %w", err)
	}
	return &a, nil
}

// UpdateAttempt applies u if the attempt exists and the transition is forward.
func (r *Repository) UpdateAttempt(ctx context.Context, loadID string, u AttemptUpdate) (*LoadAttempt, error) {
	var updated LoadAttempt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a LoadAttempt
		err := tx.First(&a, "load_id = ?", loadID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: load %s", ErrNotFound, loadID)
		}
		if err != nil {
			return err
		}

		if !CanTransition(a.Status, u.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, u.Status)
		}

		now := r.now().UTC()
		a.Status = u.Status
		switch u.Status {
		case StatusInProgress:
			a.StartedAt = orNow(u.StartedAt, now)
		case StatusCompleted:
			a.CompletedAt = orNow(u.CompletedAt, now)
		case StatusFailed:
			details := ""
			if u.ErrorDetails != nil {
				details = *u.ErrorDetails
			}
			a.ErrorDetails = &details
		}

		if err := tx.Save(&a).Error; err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("updating load attempt: %w", err)
	}

	r.logger.Info("Load attempt updated", "load_id", loadID, "status", updated.Status)
	return &updated, nil
}

// ListAttempts returns unexpired attempts ordered by id, starting after the
// given token, and the token for the next page ("" when done).
func (r *Repository) ListAttempts(ctx context.Context, after string, limit int) ([]LoadAttempt, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := r.db.WithContext(ctx).Where("expires_at > ?", r.now().UTC()).Order("load_id").Limit(limit + 1)
	if after != "" {
		q = q.Where("load_id > ?", after)
	}

	var attempts []LoadAttempt
	if err := q.Find(&attempts).Error; err != nil {
		return nil, "", fmt.Errorf("listing load attempts: %w", err)
	}
	return pageOf(attempts, limit, func(a LoadAttempt) string { return a.LoadID })
}

// PurgeExpired deletes attempts past their TTL.
func (r *Repository) PurgeExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now().UTC()).Delete(&LoadAttempt{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging load attempts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CreateDocument inserts d. Registering the same document id twice is an error.
func (r *Repository) CreateDocument(ctx context.Context, d *Document) error {
	if d.AddedAt.IsZero() {
		d.AddedAt = r.now().UTC()
	}
	err := r.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: document %s", ErrAlreadyExists, d.DocumentID)
	}
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}
	return nil
}

// GetDocument returns the document or ErrNotFound.
func (r *Repository) GetDocument(ctx context.Context, id string) (*Document, error) {
	var d Document
	err := r.db.WithContext(ctx).First(&d, "document_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return &d, nil
}

// ListDocuments pages through documents ordered by id.
func (r *Repository) ListDocuments(ctx context.Context, after string, limit int) ([]Document, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := r.db.WithContext(ctx).Order("document_id").Limit(limit + 1)
	if after != "" {
		q = q.Where("document_id > ?", after)
	}

	var docs []Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, "", fmt.Errorf("listing documents: %w", err)
	}
	return pageOf(docs, limit, func(d Document) string { return d.DocumentID })
}

// DeleteDocument removes the document row or returns ErrNotFound.
func (r *Repository) DeleteDocument(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&Document{}, "document_id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting document: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func pageOf[T any](rows []T, limit int, key func(T) string) ([]T, string, error) {
	if len(rows) <= limit {
		return rows, "", nil
	}
	rows = rows[:limit]
	return rows, key(rows[len(rows)-1]), nil
}

func orNow(t *time.Time, now time.Time) *time.Time {
	if t != nil {
		v := t.UTC()
		return &v
	}
	return &now
}
