// Package models holds the persistent types of the facility-management data
// layer. Every business row embeds TenantScoped.
package models

import (
	"time"

	"gorm.io/gorm"
)

// TenantScoped is the base of every tenant-owned row.
type TenantScoped struct {
	ID           string         `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	TenantID     string         `gorm:"column:tenant_id;type:varchar(36);index;not null" json:"tenant_id"`
	Version      int64          `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
	DeletedBy    string         `gorm:"column:deleted_by" json:"deleted_by,omitempty"`
	DeleteReason string         `gorm:"column:delete_reason" json:"delete_reason,omitempty"`
}

// Scoped exposes the base fields of any embedding row.
func (t *TenantScoped) Scoped() *TenantScoped { return t }

// Deletion returns the row's soft-delete state.
func (t *TenantScoped) Deletion() DeletionState {
	if !t.DeletedAt.Valid {
		return DeletionState{}
	}
	return DeletionState{
		Deleted: true,
		At:      t.DeletedAt.Time,
		By:      t.DeletedBy,
		Reason:  t.DeleteReason,
	}
}

// DeletionState is Active (Deleted == false) or Deleted(at, by, reason).
type DeletionState struct {
	Deleted bool
	At      time.Time
	By      string
	Reason  string
}

// Entity is implemented by every tenant-owned model through TenantScoped.
type Entity interface {
	Scoped() *TenantScoped
}

// BookkeepingColumns are maintained by the data store and never count as a
// business change.
var BookkeepingColumns = []string{"created_at", "updated_at", "version"}
