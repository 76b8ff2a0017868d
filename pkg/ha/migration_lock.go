package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// ErrLockTimeout is returned when the migration lock could not be acquired in
// time.
var ErrLockTimeout = errors.New("migration lock timeout")

// MigrationLocker serializes schema migrations across replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the lock, releasing it after fn
	// returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker returns the locker for db's dialect: a session advisory
// lock on PostgreSQL, GET_LOCK on MySQL and a lock table elsewhere. A nil db
// or a disabled lock yields a locker that just runs fn.
func NewMigrationLocker(db *gorm.DB, cfg *Config, logger *slog.Logger) MigrationLocker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if db == nil || !cfg.MigrationLockEnabled {
		return noopMigrationLock{}
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(MigrationLockName))),
			logger: logger,
		}
	case "mysql":
		return &mysqlNamedLock{db: db, timeout: cfg.MigrationLockTimeout, logger: logger}
	}
	// Create the lock table up front so concurrent first callers never race
	// on its creation.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableMigrationLock{
		db:       db,
		owner:    cfg.Identity,
		timeout:  cfg.MigrationLockTimeout,
		interval: 200 * time.Millisecond,
		staleAge: 5 * time.Minute,
		logger:   logger,
	}
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock holds a session-level advisory lock on one pinned connection;
// lock and unlock must run on the same session.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
	logger *slog.Logger
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
			return fmt.Errorf("acquire migration advisory lock: %w", err)
		}
		l.logger.Info("migration lock acquired", "lock", MigrationLockName)
		defer func() {
			if err := conn.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error; err != nil {
				l.logger.Error("failed to release migration advisory lock", "error", err)
			}
		}()
		return fn()
	})
}

type mysqlNamedLock struct {
	db      *gorm.DB
	timeout time.Duration
	logger  *slog.Logger
}

func (l *mysqlNamedLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var got *int
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", MigrationLockName, int(l.timeout.Seconds())).Scan(&got).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if got == nil || *got != 1 {
			return fmt.Errorf("%w: %s after %s", ErrLockTimeout, MigrationLockName, l.timeout)
		}
		l.logger.Info("migration lock acquired", "lock", MigrationLockName)
		defer func() {
			if err := conn.Exec("SELECT RELEASE_LOCK(?)", MigrationLockName).Error; err != nil {
				l.logger.Error("failed to release migration lock", "error", err)
			}
		}()
		return fn()
	})
}

// migrationLockRecord is the lock row for databases without named locks.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableMigrationLock relies on the primary key rejecting a second insert.
// Rows older than staleAge are treated as left behind by a crashed holder.
type tableMigrationLock struct {
	db       *gorm.DB
	owner    string
	timeout  time.Duration
	interval time.Duration
	staleAge time.Duration
	logger   *slog.Logger
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(l.timeout)
	for {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", MigrationLockName, time.Now().Add(-l.staleAge)).
			Delete(&migrationLockRecord{})

		row := migrationLockRecord{ID: MigrationLockName, LockedAt: time.Now(), LockedBy: l.owner}
		err := l.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, MigrationLockName, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.interval):
		}
	}
	l.logger.Info("migration lock acquired", "lock", MigrationLockName, "owner", l.owner)

	defer func() {
		l.db.Where("id = ?", MigrationLockName).Delete(&migrationLockRecord{})
	}()
	return fn()
}
