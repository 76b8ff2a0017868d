package derive

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// WholeYears returns the number of full years between from and to, never
// negative.
func WholeYears(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	years := to.Year() - from.Year()
	if from.AddDate(years, 0, 0).After(to) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// StraightLineDepreciation returns accumulated depreciation and current
// value after years whole years at rate percent per year:
//
//	accumulated = min((cost - salvage) * rate/100 * years, cost - salvage)
//	current     = max(cost - accumulated, salvage)
func StraightLineDepreciation(cost, salvage, rate decimal.Decimal, years int) (accumulated, current decimal.Decimal) {
	depreciable := cost.Sub(salvage)
	if depreciable.IsNegative() {
		depreciable = decimal.Zero
	}
	accumulated = depreciable.Mul(rate).Div(hundred).Mul(decimal.NewFromInt(int64(years)))
	accumulated = decimal.Min(accumulated, depreciable).Round(2)
	current = decimal.Max(cost.Sub(accumulated), salvage).Round(2)
	return accumulated, current
}

// CompletionPercentage returns round(100*completed/total), or 0 without tasks.
func CompletionPercentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// AvailableStock returns max(0, current - reserved).
func AvailableStock(current, reserved int) int {
	if current-reserved < 0 {
		return 0
	}
	return current - reserved
}

// NeedsReorder reports whether available stock is at or below the reorder
// level.
func NeedsReorder(available, reorderLevel int) bool {
	return available <= reorderLevel
}
