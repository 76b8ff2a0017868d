package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User roles.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleTechnician = "technician"
	RoleViewer     = "viewer"
)

// User is a person working for a tenant.
type User struct {
	TenantScoped
	Email       string     `gorm:"column:email;not null" json:"email"`
	FullName    string     `gorm:"column:full_name;not null" json:"full_name"`
	Role        string     `gorm:"column:role;type:varchar(20);not null;default:viewer" json:"role"`
	Phone       string     `gorm:"column:phone" json:"phone,omitempty"`
	Status      string     `gorm:"column:status;type:varchar(20);not null;default:active" json:"status"`
	SchoolID    *string    `gorm:"column:school_id;type:varchar(36)" json:"school_id,omitempty"`
	LastLoginAt *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
}

func (User) TableName() string { return "users" }

// School is a maintained site.
type School struct {
	TenantScoped
	Name     string `gorm:"column:name;not null" json:"name"`
	Code     string `gorm:"column:code" json:"code"`
	Address  string `gorm:"column:address" json:"address,omitempty"`
	City     string `gorm:"column:city" json:"city,omitempty"`
	Region   string `gorm:"column:region" json:"region,omitempty"`
	Status   string `gorm:"column:status;type:varchar(20);not null;default:active" json:"status"`
	Capacity int    `gorm:"column:capacity;not null;default:0" json:"capacity"`
}

func (School) TableName() string { return "schools" }

// Report is a maintenance report raised for a school.
type Report struct {
	TenantScoped
	SchoolID    string     `gorm:"column:school_id;type:varchar(36);index;not null" json:"school_id"`
	Title       string     `gorm:"column:title;not null" json:"title"`
	Description string     `gorm:"column:description" json:"description,omitempty"`
	Category    string     `gorm:"column:category" json:"category,omitempty"`
	Priority    string     `gorm:"column:priority;type:varchar(10);not null;default:medium" json:"priority"`
	Status      string     `gorm:"column:status;type:varchar(20);not null;default:open" json:"status"`
	AssignedTo  *string    `gorm:"column:assigned_to;type:varchar(36)" json:"assigned_to,omitempty"`
	DueDate     *time.Time `gorm:"column:due_date" json:"due_date,omitempty"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (Report) TableName() string { return "reports" }

// Depreciation methods.
const (
	DepreciationStraightLine = "straight_line"
	DepreciationNone         = "none"
)

// Asset is a depreciating piece of equipment. AccumulatedDepreciation and
// CurrentValue are derived.
type Asset struct {
	TenantScoped
	SchoolID                string          `gorm:"column:school_id;type:varchar(36);index" json:"school_id"`
	Name                    string          `gorm:"column:name;not null" json:"name"`
	AssetTag                string          `gorm:"column:asset_tag" json:"asset_tag,omitempty"`
	Category                string          `gorm:"column:category" json:"category,omitempty"`
	PurchaseCost            decimal.Decimal `gorm:"column:purchase_cost;type:decimal(14,2);not null;default:0" json:"purchase_cost"`
	SalvageValue            decimal.Decimal `gorm:"column:salvage_value;type:decimal(14,2);not null;default:0" json:"salvage_value"`
	DepreciationRate        decimal.Decimal `gorm:"column:depreciation_rate;type:decimal(5,2);not null;default:0" json:"depreciation_rate"`
	DepreciationMethod      string          `gorm:"column:depreciation_method;type:varchar(20);not null;default:straight_line" json:"depreciation_method"`
	PurchaseDate            *time.Time      `gorm:"column:purchase_date" json:"purchase_date,omitempty"`
	AccumulatedDepreciation decimal.Decimal `gorm:"column:accumulated_depreciation;type:decimal(14,2);not null;default:0" json:"accumulated_depreciation"`
	CurrentValue            decimal.Decimal `gorm:"column:current_value;type:decimal(14,2);not null;default:0" json:"current_value"`
}

func (Asset) TableName() string { return "assets" }

// WorkOrder groups tasks for a report. The progress columns are derived from
// its tasks.
type WorkOrder struct {
	TenantScoped
	SchoolID             string  `gorm:"column:school_id;type:varchar(36);index" json:"school_id"`
	ReportID             *string `gorm:"column:report_id;type:varchar(36);index" json:"report_id,omitempty"`
	Title                string  `gorm:"column:title;not null" json:"title"`
	Status               string  `gorm:"column:status;type:varchar(20);not null;default:open" json:"status"`
	Priority             string  `gorm:"column:priority;type:varchar(10);not null;default:medium" json:"priority"`
	AssignedTo           *string `gorm:"column:assigned_to;type:varchar(36)" json:"assigned_to,omitempty"`
	CompletionPercentage int     `gorm:"column:completion_percentage;not null;default:0" json:"completion_percentage"`
	TotalTasks           int     `gorm:"column:total_tasks;not null;default:0" json:"total_tasks"`
	CompletedTasks       int     `gorm:"column:completed_tasks;not null;default:0" json:"completed_tasks"`
}

func (WorkOrder) TableName() string { return "work_orders" }

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskSkipped    = "skipped"
)

// WorkOrderTask is one step of a work order.
type WorkOrderTask struct {
	TenantScoped
	WorkOrderID string `gorm:"column:work_order_id;type:varchar(36);index;not null" json:"work_order_id"`
	Title       string `gorm:"column:title;not null" json:"title"`
	Status      string `gorm:"column:status;type:varchar(20);not null;default:pending" json:"status"`
	Sequence    int    `gorm:"column:sequence;not null;default:0" json:"sequence"`
}

func (WorkOrderTask) TableName() string { return "work_order_tasks" }

// InventoryItem is a stocked consumable. AvailableStock and NeedsReorder are
// derived.
type InventoryItem struct {
	TenantScoped
	SchoolID       string `gorm:"column:school_id;type:varchar(36);index" json:"school_id"`
	SKU            string `gorm:"column:sku;not null" json:"sku"`
	Name           string `gorm:"column:name;not null" json:"name"`
	Unit           string `gorm:"column:unit" json:"unit,omitempty"`
	CurrentStock   int    `gorm:"column:current_stock;not null;default:0" json:"current_stock"`
	ReservedStock  int    `gorm:"column:reserved_stock;not null;default:0" json:"reserved_stock"`
	ReorderLevel   int    `gorm:"column:reorder_level;not null;default:0" json:"reorder_level"`
	AvailableStock int    `gorm:"column:available_stock;not null;default:0" json:"available_stock"`
	NeedsReorder   bool   `gorm:"column:needs_reorder;not null;default:false" json:"needs_reorder"`
}

func (InventoryItem) TableName() string { return "inventory_items" }

// All returns every tenant-owned model, in migration order.
func All() []any {
	return []any{
		&User{}, &School{}, &Report{}, &Asset{},
		&WorkOrder{}, &WorkOrderTask{}, &InventoryItem{},
	}
}
