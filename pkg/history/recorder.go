// Package history keeps prior versions of a curated set of entities so that
// callers can ask what a row looked like at a point in time.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// Tracked field allow-lists. Updates touching none of these columns (for
// example a user's last_login_at) never create a version.
var (
	UserFields   = mapset.NewSet("email", "full_name", "role", "phone", "status", "school_id")
	SchoolFields = mapset.NewSet("name", "code", "address", "city", "region", "status", "capacity")
	ReportFields = mapset.NewSet("school_id", "title", "description", "category", "priority",
		"status", "assigned_to", "due_date", "resolved_at")
)

// Recorder is the after-write hook that appends versions.
type Recorder struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRecorder creates a Recorder.
func NewRecorder(logger *slog.Logger, m *metrics.Metrics) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger, metrics: m}
}

// AfterWrite implements datastore.AfterWriteHook. Only updates of
// historized tables that change a tracked field are recorded.
func (r *Recorder) AfterWrite(tx *datastore.Tx, ch *datastore.Change) error {
	if !ch.Spec.Historized || ch.Op != datastore.OpUpdate || ch.Changed == nil {
		return nil
	}
	tracked := ch.Changed.Intersect(ch.Spec.TrackedFields)
	if tracked.Cardinality() == 0 {
		return nil
	}

	db := tx.DB()
	var last Version
	err := db.Where("table_name = ? AND record_id = ?", ch.Table(), ch.RecordID).
		Order("version_no DESC").First(&last).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load last version: %w", err)
	}

	validFrom := ch.Prior.Scoped().CreatedAt
	if last.ID != "" {
		validFrom = last.ValidTo
	}
	fields := tracked.ToSlice()
	sort.Strings(fields)

	v := &Version{
		ID:            uuid.NewString(),
		TenantID:      ch.TenantID,
		Table:         ch.Table(),
		RecordID:      ch.RecordID,
		VersionNo:     last.VersionNo + 1,
		Snapshot:      models.JSONMap(ch.Before),
		ChangedFields: fields,
		ValidFrom:     validFrom,
		ValidTo:       ch.Entity.Scoped().UpdatedAt,
		ChangedBy:     tenancy.ActingUser(tx.Context()),
		CreatedAt:     ch.At,
	}
	if err := db.Create(v).Error; err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	r.metrics.HistoryVersion(ch.Table())
	r.logger.Debug("history version recorded",
		"table", v.Table, "recordID", v.RecordID, "version", v.VersionNo)
	return nil
}
