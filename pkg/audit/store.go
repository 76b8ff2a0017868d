package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/policy"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// ErrNotFound is returned by GetByID for unknown entries.
var ErrNotFound = errors.New("audit entry not found")

const (
	defaultTrailLimit = 50
	maxTrailLimit     = 500
	defaultPageSize   = 20
	maxPageSize       = 100
)

// Store provides append-only access to audit entries. Reads are scoped to
// the active tenant.
type Store struct {
	db        *gorm.DB
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewStore creates a Store. cfg may be nil.
func NewStore(db *gorm.DB, cfg *Config, logger *slog.Logger, m *metrics.Metrics) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultConfig().BatchSize
	}
	return &Store{db: db, batchSize: batch, logger: logger, metrics: m, now: time.Now}
}

// Append writes entry using tx, the caller's transaction.
func (s *Store) Append(tx *gorm.DB, entry *Entry) error {
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	s.metrics.AuditEntry(entry.Table, entry.Operation)
	return nil
}

// read runs fn in a read transaction bound to the tenant in ctx.
func (s *Store) read(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := policy.BindSession(tx, ctx); err != nil {
			return err
		}
		return fn(tx)
	})
}

// Trail returns the entries for one record, newest first. limit defaults to
// 50 and is capped at 500.
func (s *Store) Trail(ctx context.Context, table, recordID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultTrailLimit
	}
	if limit > maxTrailLimit {
		limit = maxTrailLimit
	}

	var entries []Entry
	err := s.read(ctx, func(tx *gorm.DB) error {
		return tx.Where("table_name = ? AND record_id = ?", table, recordID).
			Order("created_at DESC").Order("id DESC").
			Limit(limit).
			Find(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("audit trail for %s/%s: %w", table, recordID, err)
	}
	return entries, nil
}

// UserActivity returns the entries written by userID with start <= created_at
// < end, newest first. A zero end means no upper bound.
func (s *Store) UserActivity(ctx context.Context, userID string, start, end time.Time) ([]Entry, error) {
	if !end.IsZero() && end.Before(start) {
		return nil, fmt.Errorf("user activity: end %s is before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	var entries []Entry
	err := s.read(ctx, func(tx *gorm.DB) error {
		q := tx.Where("actor_id = ? AND created_at >= ?", userID, start.UTC())
		if !end.IsZero() {
			q = q.Where("created_at < ?", end.UTC())
		}
		return q.Order("created_at DESC").Order("id DESC").Find(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("user activity for %s: %w", userID, err)
	}
	return entries, nil
}

// Search returns entries matching the filter expression, newest first.
// pageToken resumes after the last entry of the previous page; entries
// sharing its timestamp are ordered by id. The total size counts all matches.
func (s *Store) Search(ctx context.Context, expr string, pageSize int, pageToken string) ([]Entry, string, int, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	filter, err := ParseFilter(expr)
	if err != nil {
		return nil, "", 0, err
	}

	var (
		entries   []Entry
		totalSize int64
	)
	err = s.read(ctx, func(tx *gorm.DB) error {
		base, err := filter.Apply(tx.Model(&Entry{}))
		if err != nil {
			return err
		}
		if err := base.Count(&totalSize).Error; err != nil {
			return fmt.Errorf("count audit entries: %w", err)
		}

		query, err := filter.Apply(tx.Order("created_at DESC").Order("id DESC").Limit(pageSize + 1))
		if err != nil {
			return err
		}
		if pageToken != "" {
			cur, err := datastore.DecodeCursor(pageToken)
			if err != nil {
				return err
			}
			query = cur.After(query, "created_at")
		}
		return query.Find(&entries).Error
	})
	if err != nil {
		return nil, "", 0, fmt.Errorf("search audit entries: %w", err)
	}

	var nextToken string
	if len(entries) > pageSize {
		last := entries[pageSize-1]
		nextToken = datastore.EncodeCursor(last.CreatedAt, last.ID)
		entries = entries[:pageSize]
	}
	return entries, nextToken, int(totalSize), nil
}

// GetByID returns one entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	err := s.read(ctx, func(tx *gorm.DB) error {
		return tx.First(&e, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry %s: %w", id, err)
	}
	return &e, nil
}

// Archive moves entries older than olderThanDays, across all tenants, to the
// archive table and deletes them from the hot table. It runs as one
// transaction in batches; either every batch is moved or none is. This is
// the only path allowed to delete audit entries.
func (s *Store) Archive(ctx context.Context, olderThanDays int) (ArchiveResult, error) {
	var res ArchiveResult
	if olderThanDays <= 0 {
		return res, fmt.Errorf("archive: olderThanDays must be positive, got %d", olderThanDays)
	}
	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, -olderThanDays)

	ctx = withArchive(tenancy.WithBypass(ctx, "audit archival"))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := policy.BindSession(tx, ctx); err != nil {
			return err
		}
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT set_config('app.audit_archive', 'on', true)").Error; err != nil {
				return fmt.Errorf("enable archive session: %w", err)
			}
		}

		for {
			var batch []Entry
			if err := tx.Where("created_at < ?", cutoff).
				Order("created_at").Limit(s.batchSize).
				Find(&batch).Error; err != nil {
				return fmt.Errorf("select batch: %w", err)
			}
			if len(batch) == 0 {
				return nil
			}

			archived := make([]ArchivedEntry, len(batch))
			ids := make([]string, len(batch))
			for i, e := range batch {
				archived[i] = archivedFrom(e, now)
				ids[i] = e.ID
			}
			if err := tx.Create(&archived).Error; err != nil {
				return fmt.Errorf("copy batch: %w", err)
			}
			res.Archived += int64(len(archived))

			del := tx.Where("id IN ?", ids).Delete(&Entry{})
			if del.Error != nil {
				return fmt.Errorf("delete batch: %w", del.Error)
			}
			res.Deleted += del.RowsAffected

			if len(batch) < s.batchSize {
				return nil
			}
		}
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("archive audit entries: %w", err)
	}

	s.metrics.AuditArchived(res.Archived)
	s.logger.Info("audit entries archived",
		"archived", res.Archived, "deleted", res.Deleted,
		"cutoff", cutoff.Format(time.RFC3339))
	return res, nil
}
