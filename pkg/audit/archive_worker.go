package audit

import (
	"context"
	"log/slog"
	"time"
)

// Archiver moves old audit entries to cold storage.
type Archiver interface {
	Archive(ctx context.Context, olderThanDays int) (ArchiveResult, error)
}

// ArchiveWorker periodically archives audit entries.
type ArchiveWorker struct {
	archiver  Archiver
	afterDays int
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiveWorker creates a new ArchiveWorker from cfg.
func NewArchiveWorker(archiver Archiver, cfg *Config, logger *slog.Logger) *ArchiveWorker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.ArchiveInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &ArchiveWorker{
		archiver:  archiver,
		afterDays: cfg.ArchiveAfterDays,
		interval:  interval,
		logger:    logger,
	}
}

// Run starts the archive worker. It runs until the context is cancelled.
func (w *ArchiveWorker) Run(ctx context.Context) {
	if w.archiver == nil || w.afterDays <= 0 {
		w.logger.Info("audit archive worker disabled",
			"hasArchiver", w.archiver != nil,
			"archiveAfterDays", w.afterDays)
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("audit archive worker started",
		"archiveAfterDays", w.afterDays,
		"interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("audit archive worker stopped")
			return
		case <-ticker.C:
			w.archiveOnce(ctx)
		}
	}
}

// archiveOnce performs a single archive pass.
func (w *ArchiveWorker) archiveOnce(ctx context.Context) {
	res, err := w.archiver.Archive(ctx, w.afterDays)
	if err != nil {
		w.logger.Error("audit archive pass failed", "error", err)
		return
	}
	if res.Archived > 0 {
		w.logger.Info("audit archive pass completed",
			"archived", res.Archived,
			"deleted", res.Deleted)
	}
}
