package tenants

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/models"
)

// ErrQuotaExceeded is returned when a write would take a tenant beyond one of
// its plan limits.
var ErrQuotaExceeded = errors.New("tenant quota exceeded")

// QuotaGuard is a before-write hook enforcing MaxUsers, MaxSchools,
// MaxSupervisors and MaxTechnicians. A zero limit means unlimited.
type QuotaGuard struct{}

// NewQuotaGuard creates a QuotaGuard.
func NewQuotaGuard() *QuotaGuard { return &QuotaGuard{} }

// BeforeWrite implements datastore.BeforeWriteHook.
func (g *QuotaGuard) BeforeWrite(tx *datastore.Tx, ch *datastore.Change) error {
	switch ch.Table() {
	case "schools":
		if ch.Op != datastore.OpInsert {
			return nil
		}
		return g.check(tx, ch, "schools", func(t *models.Tenant) int { return t.MaxSchools }, "")
	case "users":
		if ch.Op == datastore.OpInsert {
			if err := g.check(tx, ch, "users", func(t *models.Tenant) int { return t.MaxUsers }, ""); err != nil {
				return err
			}
		}
		if ch.Op != datastore.OpInsert && !(ch.Op == datastore.OpUpdate && ch.AnyChanged("role")) {
			return nil
		}
		switch role, _ := ch.Value("role").(string); role {
		case models.RoleSupervisor:
			return g.check(tx, ch, "supervisors", func(t *models.Tenant) int { return t.MaxSupervisors }, role)
		case models.RoleTechnician:
			return g.check(tx, ch, "technicians", func(t *models.Tenant) int { return t.MaxTechnicians }, role)
		}
	}
	return nil
}

// check counts live rows of the written table, optionally restricted to a
// role, and compares them with the tenant's limit.
func (g *QuotaGuard) check(tx *datastore.Tx, ch *datastore.Change, what string, limit func(*models.Tenant) int, role string) error {
	var tenant models.Tenant
	err := tx.DB().First(&tenant, "id = ?", ch.TenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tenant %s: %w", ch.TenantID, err)
	}
	quota := limit(&tenant)
	if quota <= 0 {
		return nil
	}

	q := tx.DB().Model(ch.Spec.New()).Where("tenant_id = ?", ch.TenantID)
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return fmt.Errorf("count %s: %w", what, err)
	}
	if n >= int64(quota) {
		return fmt.Errorf("%w: %s limit is %d", ErrQuotaExceeded, what, quota)
	}
	return nil
}
