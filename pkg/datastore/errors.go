package datastore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row does not exist in the active tenant.
	ErrNotFound = errors.New("not found")

	// ErrTenantViolation is returned for operations on rows outside the active
	// tenant. It wraps ErrNotFound so callers can report it as "not found"
	// without disclosing that the row exists elsewhere.
	ErrTenantViolation = fmt.Errorf("tenant violation: %w", ErrNotFound)

	// ErrStaleWrite is returned when the expected version no longer matches.
	ErrStaleWrite = errors.New("stale write: row was modified concurrently")

	// ErrPrivilegeRequired is returned by physical deletes issued without a
	// tenancy bypass.
	ErrPrivilegeRequired = errors.New("privileged bypass required")

	// ErrWriteFailed is returned when a statement or an after-write hook
	// (audit, history, recalculation cascade) fails. The transaction has been
	// rolled back.
	ErrWriteFailed = errors.New("write failed")

	// ErrUnregistered is returned for models without an EntitySpec.
	ErrUnregistered = errors.New("entity not registered")
)
