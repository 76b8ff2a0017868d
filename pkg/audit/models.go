package audit

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/models"
)

// ErrImmutable is returned when something tries to modify an audit entry.
var ErrImmutable = errors.New("audit entries are append-only")

// Entry is an immutable record of one data-mutating operation.
type Entry struct {
	ID            string                 `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TenantID      string                 `gorm:"column:tenant_id;type:varchar(36);index:idx_audit_tenant_time,priority:1;not null" json:"tenant_id"`
	Table         string                 `gorm:"column:table_name;index:idx_audit_record,priority:1;not null" json:"table_name"`
	RecordID      string                 `gorm:"column:record_id;type:varchar(36);index:idx_audit_record,priority:2" json:"record_id,omitempty"`
	Operation     string                 `gorm:"column:operation;type:varchar(10);not null" json:"operation"`
	ActorID       string                 `gorm:"column:actor_id;index:idx_audit_actor_time,priority:1;not null" json:"actor_id"`
	RequestID     string                 `gorm:"column:request_id;index" json:"request_id,omitempty"`
	CorrelationID string                 `gorm:"column:correlation_id;index" json:"correlation_id,omitempty"`
	OldValues     models.JSONMap         `gorm:"column:old_values;type:text" json:"old_values,omitempty"`
	NewValues     models.JSONMap         `gorm:"column:new_values;type:text" json:"new_values,omitempty"`
	ChangedFields models.JSONStringSlice `gorm:"column:changed_fields;type:text" json:"changed_fields,omitempty"`
	Metadata      models.JSONMap         `gorm:"column:metadata;type:text" json:"metadata,omitempty"`
	CreatedAt     time.Time              `gorm:"column:created_at;index:idx_audit_tenant_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_record,priority:3" json:"created_at"`
}

// TableName returns the GORM table name.
func (Entry) TableName() string { return "audit_entries" }

// BeforeUpdate rejects every update.
func (*Entry) BeforeUpdate(*gorm.DB) error { return ErrImmutable }

// BeforeDelete rejects deletes outside archival.
func (*Entry) BeforeDelete(tx *gorm.DB) error {
	if archiving(tx.Statement.Context) {
		return nil
	}
	return ErrImmutable
}

// ArchivedEntry is the cold-storage copy of an Entry.
type ArchivedEntry struct {
	ID            string                 `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TenantID      string                 `gorm:"column:tenant_id;type:varchar(36);index:idx_audit_archive_tenant,priority:1;not null" json:"tenant_id"`
	Table         string                 `gorm:"column:table_name;not null" json:"table_name"`
	RecordID      string                 `gorm:"column:record_id;type:varchar(36)" json:"record_id,omitempty"`
	Operation     string                 `gorm:"column:operation;type:varchar(10);not null" json:"operation"`
	ActorID       string                 `gorm:"column:actor_id;not null" json:"actor_id"`
	RequestID     string                 `gorm:"column:request_id" json:"request_id,omitempty"`
	CorrelationID string                 `gorm:"column:correlation_id" json:"correlation_id,omitempty"`
	OldValues     models.JSONMap         `gorm:"column:old_values;type:text" json:"old_values,omitempty"`
	NewValues     models.JSONMap         `gorm:"column:new_values;type:text" json:"new_values,omitempty"`
	ChangedFields models.JSONStringSlice `gorm:"column:changed_fields;type:text" json:"changed_fields,omitempty"`
	Metadata      models.JSONMap         `gorm:"column:metadata;type:text" json:"metadata,omitempty"`
	CreatedAt     time.Time              `gorm:"column:created_at;index:idx_audit_archive_tenant,priority:2" json:"created_at"`
	ArchivedAt    time.Time              `gorm:"column:archived_at;not null" json:"archived_at"`
}

func archivedFrom(e Entry, at time.Time) ArchivedEntry {
	return ArchivedEntry{
		ID:            e.ID,
		TenantID:      e.TenantID,
		Table:         e.Table,
		RecordID:      e.RecordID,
		Operation:     e.Operation,
		ActorID:       e.ActorID,
		RequestID:     e.RequestID,
		CorrelationID: e.CorrelationID,
		OldValues:     e.OldValues,
		NewValues:     e.NewValues,
		ChangedFields: e.ChangedFields,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
		ArchivedAt:    at,
	}
}

// TableName returns the GORM table name.
func (ArchivedEntry) TableName() string { return "audit_entries_archive" }

// ArchiveResult reports the outcome of one archival pass.
type ArchiveResult struct {
	Archived int64 `json:"archived"`
	Deleted  int64 `json:"deleted"`
}

type archiveKey struct{}

func withArchive(ctx context.Context) context.Context {
	return context.WithValue(ctx, archiveKey{}, true)
}

func archiving(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(archiveKey{}).(bool)
	return v
}
