package derive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/models"
)

// ErrMissingInput is returned by a rule that cannot compute its outputs from
// the row. The outputs keep their last persisted values.
var ErrMissingInput = errors.New("missing or invalid input")

// ErrNoDerivedFields is returned when recomputing a table without rules.
var ErrNoDerivedFields = errors.New("table has no derived fields")

// Values holds column values keyed by column name.
type Values map[string]any

// Rule computes derived columns of a row from other columns of the same row.
type Rule struct {
	Name    string
	Table   string
	Inputs  []string
	Outputs []string
	Compute func(in Values, now time.Time) (Values, error)
}

// Cascade recomputes derived columns of a parent row when rows of
// SourceTable referencing it through ParentColumn change.
type Cascade struct {
	Name         string
	SourceTable  string
	TargetTable  string
	ParentColumn string
	// Inputs are the source columns whose change affects the parent.
	Inputs []string
	// Outputs are the derived target columns.
	Outputs []string
	// Recompute refreshes the parent with id and reports whether it changed.
	Recompute func(tx *datastore.Tx, id string) (bool, error)
}

// Decimal returns column as a decimal.
func (v Values) Decimal(col string) (decimal.Decimal, error) {
	switch x := v[col].(type) {
	case decimal.Decimal:
		return x, nil
	case *decimal.Decimal:
		if x != nil {
			return *x, nil
		}
	case string:
		d, err := decimal.NewFromString(x)
		if err == nil {
			return d, nil
		}
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingInput, col)
}

// Int returns column as an int.
func (v Values) Int(col string) (int, error) {
	switch x := v[col].(type) {
	case int:
		return x, nil
	case int32:
		return int(x), nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingInput, col)
}

// Time returns column as a time. A nil pointer is a missing input.
func (v Values) Time(col string) (time.Time, error) {
	switch x := v[col].(type) {
	case time.Time:
		if !x.IsZero() {
			return x, nil
		}
	case *time.Time:
		if x != nil && !x.IsZero() {
			return *x, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrMissingInput, col)
}

// String returns column as a string, empty when unset.
func (v Values) String(col string) string {
	switch x := v[col].(type) {
	case string:
		return x
	case *string:
		if x != nil {
			return *x
		}
	}
	return ""
}

// AssetDepreciation keeps accumulated_depreciation and current_value of
// assets in line with their purchase data. The value depends on the current
// date, so it is also refreshed by batch recomputation.
func AssetDepreciation() Rule {
	return Rule{
		Name:    "asset_depreciation",
		Table:   "assets",
		Inputs:  []string{"purchase_cost", "salvage_value", "depreciation_rate", "depreciation_method", "purchase_date"},
		Outputs: []string{"accumulated_depreciation", "current_value"},
		Compute: computeDepreciation,
	}
}

func computeDepreciation(in Values, now time.Time) (Values, error) {
	cost, err := in.Decimal("purchase_cost")
	if err != nil {
		return nil, err
	}
	if cost.IsNegative() {
		return nil, fmt.Errorf("%w: negative purchase_cost", ErrMissingInput)
	}

	switch method := strings.ToLower(in.String("depreciation_method")); method {
	case models.DepreciationNone:
		return Values{"accumulated_depreciation": decimal.Zero, "current_value": cost}, nil
	case "", models.DepreciationStraightLine:
	default:
		return nil, fmt.Errorf("%w: unknown depreciation_method %q", ErrMissingInput, method)
	}

	salvage, err := in.Decimal("salvage_value")
	if err != nil {
		return nil, err
	}
	rate, err := in.Decimal("depreciation_rate")
	if err != nil {
		return nil, err
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: negative depreciation_rate", ErrMissingInput)
	}
	purchased, err := in.Time("purchase_date")
	if err != nil {
		return nil, err
	}

	acc, cur := StraightLineDepreciation(cost, salvage, rate, WholeYears(purchased, now))
	return Values{"accumulated_depreciation": acc, "current_value": cur}, nil
}

// InventoryStock derives available_stock and needs_reorder of inventory items.
func InventoryStock() Rule {
	return Rule{
		Name:    "inventory_stock",
		Table:   "inventory_items",
		Inputs:  []string{"current_stock", "reserved_stock", "reorder_level"},
		Outputs: []string{"available_stock", "needs_reorder"},
		Compute: func(in Values, _ time.Time) (Values, error) {
			current, err := in.Int("current_stock")
			if err != nil {
				return nil, err
			}
			reserved, err := in.Int("reserved_stock")
			if err != nil {
				return nil, err
			}
			level, err := in.Int("reorder_level")
			if err != nil {
				return nil, err
			}
			available := AvailableStock(current, reserved)
			return Values{"available_stock": available, "needs_reorder": NeedsReorder(available, level)}, nil
		},
	}
}

// WorkOrderProgress keeps task counts and completion_percentage of work
// orders in line with their tasks. Every live task counts towards the
// total, skipped ones included.
func WorkOrderProgress() Cascade {
	return Cascade{
		Name:         "work_order_progress",
		SourceTable:  "work_order_tasks",
		TargetTable:  "work_orders",
		ParentColumn: "work_order_id",
		Inputs:       []string{"status", "work_order_id"},
		Outputs:      []string{"completion_percentage", "total_tasks", "completed_tasks"},
		Recompute:    recomputeWorkOrder,
	}
}

func recomputeWorkOrder(tx *datastore.Tx, id string) (bool, error) {
	var wo models.WorkOrder
	if err := tx.Get(&wo, id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	var tasks []models.WorkOrderTask
	if err := tx.List(&tasks, "work_order_id = ?", id); err != nil {
		return false, fmt.Errorf("list tasks of %s: %w", id, err)
	}
	total, completed := len(tasks), 0
	for _, task := range tasks {
		if task.Status == models.TaskCompleted {
			completed++
		}
	}

	version := wo.Version
	wo.TotalTasks = total
	wo.CompletedTasks = completed
	wo.CompletionPercentage = CompletionPercentage(completed, total)
	if err := tx.UpdateDerived(&wo); err != nil {
		return false, err
	}
	return wo.Version != version, nil
}
