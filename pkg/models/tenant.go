package models

import (
	"time"

	"gorm.io/gorm"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantActive       TenantStatus = "active"
	TenantInactive     TenantStatus = "inactive"
	TenantSuspended    TenantStatus = "suspended"
	TenantTrial        TenantStatus = "trial"
	TenantPendingSetup TenantStatus = "pending_setup"
)

// Writable reports whether writes are permitted for tenants in status s.
func (s TenantStatus) Writable() bool {
	return s == TenantActive || s == TenantTrial
}

// Valid reports whether s is a known status.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantActive, TenantInactive, TenantSuspended, TenantTrial, TenantPendingSetup:
		return true
	}
	return false
}

// SubscriptionTier is the tenant's plan.
type SubscriptionTier string

const (
	TierBasic      SubscriptionTier = "basic"
	TierStandard   SubscriptionTier = "standard"
	TierPremium    SubscriptionTier = "premium"
	TierEnterprise SubscriptionTier = "enterprise"
)

// Tenant is an organization (company). The table is not tenant-owned.
type Tenant struct {
	ID               string           `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Name             string           `gorm:"column:name;not null" json:"name"`
	Status           TenantStatus     `gorm:"column:status;type:varchar(20);not null;default:pending_setup" json:"status"`
	SubscriptionTier SubscriptionTier `gorm:"column:subscription_tier;type:varchar(20);not null;default:basic" json:"subscription_tier"`
	MaxUsers         int              `gorm:"column:max_users;not null;default:0" json:"max_users"`
	MaxSchools       int              `gorm:"column:max_schools;not null;default:0" json:"max_schools"`
	MaxSupervisors   int              `gorm:"column:max_supervisors;not null;default:0" json:"max_supervisors"`
	MaxTechnicians   int              `gorm:"column:max_technicians;not null;default:0" json:"max_technicians"`
	MaxStorageMB     int              `gorm:"column:max_storage_mb;not null;default:0" json:"max_storage_mb"`
	CreatedAt        time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt        gorm.DeletedAt   `gorm:"column:deleted_at;index" json:"deleted_at,omitempty"`
}

// TableName returns the GORM table name.
func (Tenant) TableName() string { return "companies" }
