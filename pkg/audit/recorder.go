// Package audit records an immutable before/after log of every write to
// audited tables and serves the trail, user-activity and search queries over
// it. Entries are written inside the business transaction; if the entry
// cannot be written the business write is rolled back with it.
package audit

import (
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// Recorder is the after-write hook that appends audit entries.
type Recorder struct {
	store   *Store
	enabled bool
	logger  *slog.Logger
}

// NewRecorder creates a Recorder writing through store.
func NewRecorder(store *Store, cfg *Config, logger *slog.Logger) *Recorder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, enabled: cfg.Enabled, logger: logger}
}

// AfterWrite implements datastore.AfterWriteHook.
func (r *Recorder) AfterWrite(tx *datastore.Tx, ch *datastore.Change) error {
	if !r.enabled || !ch.Spec.Audited {
		return nil
	}
	entry := r.entryFor(tx, ch)
	if entry == nil {
		return nil
	}
	return r.store.Append(tx.DB(), entry)
}

// entryFor builds the entry for ch, or nil when nothing audit-worthy changed.
func (r *Recorder) entryFor(tx *datastore.Tx, ch *datastore.Change) *Entry {
	ctx := tx.Context()
	tc, _ := tenancy.FromContext(ctx)

	entry := &Entry{
		ID:            uuid.NewString(),
		TenantID:      ch.TenantID,
		Table:         ch.Table(),
		RecordID:      ch.RecordID,
		Operation:     string(ch.Op),
		ActorID:       tenancy.ActingUser(ctx),
		RequestID:     tc.RequestID,
		CorrelationID: tc.CorrelationID,
		CreatedAt:     ch.At,
	}
	meta := models.JSONMap{}
	if b, ok := tenancy.BypassFromContext(ctx); ok {
		meta["bypass_reason"] = b.Reason
	}
	if ch.Derived {
		meta["derived"] = true
	}

	switch ch.Op {
	case datastore.OpInsert:
		entry.NewValues = models.JSONMap(ch.After)
	case datastore.OpUpdate:
		changed := ch.Changed.Difference(ch.Spec.AuditIgnore)
		if changed.Cardinality() == 0 {
			r.logger.Debug("audit skipped: only ignored columns changed",
				"table", ch.Table(), "recordID", ch.RecordID)
			return nil
		}
		fields := changed.ToSlice()
		sort.Strings(fields)
		entry.OldValues = models.JSONMap(ch.Before)
		entry.NewValues = models.JSONMap(ch.After)
		entry.ChangedFields = fields
	case datastore.OpDelete:
		entry.OldValues = models.JSONMap(ch.Before)
		if ch.Purge {
			meta["purge"] = true
		} else {
			meta["soft_delete"] = true
		}
		if ch.Reason != "" {
			meta["reason"] = ch.Reason
		}
	case datastore.OpTruncate:
		meta["rows"] = ch.Count
	}

	if len(meta) > 0 {
		entry.Metadata = meta
	}
	return entry
}
