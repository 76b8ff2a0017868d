package policy

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/facilityhub/fmcore/pkg/tenancy"
)

// BindSession publishes the active tenant to the database session of tx so
// that PostgreSQL row-level security policies see it. The settings are
// transaction-local and reset on commit or rollback. Other dialects rely on
// Plugin alone.
func BindSession(tx *gorm.DB, ctx context.Context) error {
	if tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	bypass := "off"
	if _, ok := tenancy.BypassFromContext(ctx); ok {
		bypass = "on"
	}
	err := tx.Exec(
		"SELECT set_config('app.current_tenant', ?, true), set_config('app.bypass_rls', ?, true)",
		tenancy.ActiveTenant(ctx), bypass,
	).Error
	if err != nil {
		return fmt.Errorf("bind tenant session: %w", err)
	}
	return nil
}
