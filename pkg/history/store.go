package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/facilityhub/fmcore/pkg/datastore"
)

// ErrNotFound is returned when a record did not exist at the requested time.
var ErrNotFound = errors.New("no version at the requested time")

// ErrNotHistorized is returned for tables without history.
var ErrNotHistorized = errors.New("table is not historized")

// Store answers point-in-time questions about historized rows.
type Store struct {
	data *datastore.Store
}

// NewStore creates a Store reading through data.
func NewStore(data *datastore.Store) *Store {
	return &Store{data: data}
}

func (s *Store) checkTable(table string) error {
	spec, ok := s.data.Registry().Lookup(table)
	if !ok {
		return fmt.Errorf("%w: %s", datastore.ErrUnregistered, table)
	}
	if !spec.Historized {
		return fmt.Errorf("%w: %s", ErrNotHistorized, table)
	}
	return nil
}

// Versions returns the recorded versions of a row, oldest first.
func (s *Store) Versions(ctx context.Context, table, recordID string) ([]Version, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	var versions []Version
	err := s.data.Transaction(ctx, func(tx *datastore.Tx) error {
		return tx.DB().Where("table_name = ? AND record_id = ?", table, recordID).
			Order("version_no").Find(&versions).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list versions of %s/%s: %w", table, recordID, err)
	}
	return versions, nil
}

// VersionAt returns the row's fields as of t: the snapshot of the version
// whose interval contains t, or the live row when t is at or after the last
// recorded change. Times before the row existed yield ErrNotFound.
func (s *Store) VersionAt(ctx context.Context, table, recordID string, t time.Time) (datastore.Row, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	t = t.UTC()

	var (
		versions []Version
		live     datastore.Row
	)
	err := s.data.Transaction(ctx, func(tx *datastore.Tx) error {
		if err := tx.DB().Where("table_name = ? AND record_id = ?", table, recordID).
			Order("version_no").Find(&versions).Error; err != nil {
			return err
		}
		row, err := tx.Row(table, recordID)
		if err != nil && !errors.Is(err, datastore.ErrNotFound) {
			return err
		}
		live = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("version of %s/%s at %s: %w", table, recordID, t.Format(time.RFC3339), err)
	}

	if len(versions) > 0 {
		if t.Before(versions[0].ValidFrom) {
			return nil, ErrNotFound
		}
		for i := range versions {
			if versions[i].Contains(t) {
				return datastore.Row(versions[i].Snapshot), nil
			}
		}
	}

	if live == nil {
		return nil, ErrNotFound
	}
	if len(versions) == 0 {
		created, err := time.Parse(time.RFC3339Nano, fmt.Sprint(live["created_at"]))
		if err != nil {
			return nil, fmt.Errorf("parse created_at of %s/%s: %w", table, recordID, err)
		}
		if t.Before(created) {
			return nil, ErrNotFound
		}
	}
	return jsonRow(live)
}

// jsonRow gives live rows the same value types as decoded snapshots.
func jsonRow(r datastore.Row) (datastore.Row, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out datastore.Row
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
