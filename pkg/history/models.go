package history

import (
	"time"

	"github.com/facilityhub/fmcore/pkg/models"
)

// Version is the pre-update image of a historized row, valid for
// [ValidFrom, ValidTo). The current state is the live row itself.
type Version struct {
	ID            string                 `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TenantID      string                 `gorm:"column:tenant_id;type:varchar(36);index;not null" json:"tenant_id"`
	Table         string                 `gorm:"column:table_name;uniqueIndex:idx_version_record,priority:1;not null" json:"table_name"`
	RecordID      string                 `gorm:"column:record_id;type:varchar(36);uniqueIndex:idx_version_record,priority:2;not null" json:"record_id"`
	VersionNo     int64                  `gorm:"column:version_no;uniqueIndex:idx_version_record,priority:3;not null" json:"version_no"`
	Snapshot      models.JSONMap         `gorm:"column:snapshot;type:text;not null" json:"snapshot"`
	ChangedFields models.JSONStringSlice `gorm:"column:changed_fields;type:text" json:"changed_fields"`
	ValidFrom     time.Time              `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidTo       time.Time              `gorm:"column:valid_to;not null" json:"valid_to"`
	ChangedBy     string                 `gorm:"column:changed_by;not null" json:"changed_by"`
	CreatedAt     time.Time              `gorm:"column:created_at" json:"created_at"`
}

// TableName returns the GORM table name.
func (Version) TableName() string { return "entity_versions" }

// Contains reports whether t falls inside the version's validity interval.
func (v *Version) Contains(t time.Time) bool {
	return !t.Before(v.ValidFrom) && t.Before(v.ValidTo)
}
