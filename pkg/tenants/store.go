// Package tenants manages the tenant registry (the companies table) and the
// per-tenant quotas enforced on writes.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/models"
	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// ErrNotFound is returned for unknown tenants.
var ErrNotFound = errors.New("tenant not found")

// ErrInvalid is returned for malformed tenant data.
var ErrInvalid = errors.New("invalid tenant")

// Invalidator drops cached tenant state. Implemented by *tenancy.Provider.
type Invalidator interface {
	Invalidate(tenantID string)
}

// Store reads and writes tenants. Writes are privileged and require a
// tenancy bypass on the context.
type Store struct {
	db          *gorm.DB
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewStore creates a Store. invalidator may be nil.
func NewStore(db *gorm.DB, invalidator Invalidator, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:          db,
		invalidator: invalidator,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetInvalidator sets the cache to invalidate on status changes. Used when
// the provider is built on top of this store.
func (s *Store) SetInvalidator(inv Invalidator) { s.invalidator = inv }

func privileged(ctx context.Context) error {
	if _, ok := tenancy.BypassFromContext(ctx); !ok {
		return datastore.ErrPrivilegeRequired
	}
	return nil
}

// Create inserts t. An empty status defaults to active and an empty tier to
// basic.
func (s *Store) Create(ctx context.Context, t *models.Tenant) error {
	if err := privileged(ctx); err != nil {
		return err
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if t.Status == "" {
		t.Status = models.TenantActive
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, t.Status)
	}
	if t.SubscriptionTier == "" {
		t.SubscriptionTier = models.TierBasic
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, err := uuid.Parse(t.ID); err != nil {
		return fmt.Errorf("%w: id %q is not a UUID", ErrInvalid, t.ID)
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now

	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create tenant %s: %w", t.Name, err)
	}
	s.logger.Info("tenant created", "tenantID", t.ID, "name", t.Name, "status", t.Status)
	return nil
}

// Get returns the tenant with id.
func (s *Store) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	return &t, nil
}

// List returns all tenants ordered by name.
func (s *Store) List(ctx context.Context) ([]models.Tenant, error) {
	var out []models.Tenant
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return out, nil
}

// SetStatus changes a tenant's status and drops it from the provider cache
// so the change applies to the next activation.
func (s *Store) SetStatus(ctx context.Context, id string, status models.TenantStatus) error {
	if err := privileged(ctx); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	res := s.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("set status of tenant %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(id)
	}
	s.logger.Info("tenant status changed", "tenantID", id, "status", status)
	return nil
}

// ErrDefaultTenant is returned when deleting the default tenant.
var ErrDefaultTenant = errors.New("the default tenant cannot be deleted")

// Delete soft-deletes a tenant: it becomes inactive and disappears from
// lookups, so it can no longer be activated. Its rows are kept.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := privileged(ctx); err != nil {
		return err
	}
	if id == tenancy.DefaultTenantID {
		return ErrDefaultTenant
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Tenant{}).Where("id = ?", id).
			Updates(map[string]any{"status": models.TenantInactive, "updated_at": s.now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return tx.Delete(&models.Tenant{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete tenant %s: %w", id, err)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(id)
	}
	s.logger.Info("tenant deleted", "tenantID", id)
	return nil
}

// LookupTenant implements tenancy.TenantLookup.
func (s *Store) LookupTenant(ctx context.Context, id string) (tenancy.TenantInfo, error) {
	t, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return tenancy.TenantInfo{}, fmt.Errorf("%w: %s", tenancy.ErrTenantNotFound, id)
	}
	if err != nil {
		return tenancy.TenantInfo{}, err
	}
	return tenancy.TenantInfo{
		ID:       t.ID,
		Name:     t.Name,
		Status:   string(t.Status),
		Writable: t.Status.Writable(),
	}, nil
}
