// Package derive keeps derived columns (asset depreciation, work order
// progress, stock levels) consistent with the rows they are computed from.
// Same-row rules run before the write so the stored row and its audit image
// already carry the derived values; cascades update parent rows after the
// write, inside the same transaction.
package derive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/facilityhub/fmcore/pkg/datastore"
	"github.com/facilityhub/fmcore/pkg/metrics"
	"github.com/facilityhub/fmcore/pkg/models"
)

// DefaultBatchSize is the number of rows recomputed per transaction.
const DefaultBatchSize = 200

// RecomputeResult summarizes a batch recomputation.
type RecomputeResult struct {
	Scanned int64
	Updated int64
}

// Recalculator is a before-write and after-write hook.
type Recalculator struct {
	data      *datastore.Store
	rules     map[string][]Rule
	cascades  map[string][]Cascade
	targets   map[string][]Cascade
	outputs   map[string]mapset.Set[string]
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewRecalculator creates a Recalculator with the built-in rules for every
// registered table they apply to.
func NewRecalculator(data *datastore.Store, logger *slog.Logger, m *metrics.Metrics) *Recalculator {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recalculator{
		data:      data,
		rules:     make(map[string][]Rule),
		cascades:  make(map[string][]Cascade),
		targets:   make(map[string][]Cascade),
		outputs:   make(map[string]mapset.Set[string]),
		batchSize: DefaultBatchSize,
		logger:    logger,
		metrics:   m,
	}
	for _, rule := range []Rule{AssetDepreciation(), InventoryStock()} {
		if _, ok := data.Registry().Lookup(rule.Table); ok {
			_ = r.AddRule(rule)
		}
	}
	c := WorkOrderProgress()
	_, src := data.Registry().Lookup(c.SourceTable)
	_, dst := data.Registry().Lookup(c.TargetTable)
	if src && dst {
		_ = r.AddCascade(c)
	}
	return r
}

// AddRule registers a same-row rule.
func (r *Recalculator) AddRule(rule Rule) error {
	spec, ok := r.data.Registry().Lookup(rule.Table)
	if !ok {
		return fmt.Errorf("rule %s: %w: %s", rule.Name, datastore.ErrUnregistered, rule.Table)
	}
	if err := hasColumns(spec, rule.Inputs, rule.Outputs); err != nil {
		return fmt.Errorf("rule %s: %w", rule.Name, err)
	}
	r.rules[rule.Table] = append(r.rules[rule.Table], rule)
	r.protect(rule.Table, rule.Outputs)
	return nil
}

// AddCascade registers a cross-row rule.
func (r *Recalculator) AddCascade(c Cascade) error {
	src, ok := r.data.Registry().Lookup(c.SourceTable)
	if !ok {
		return fmt.Errorf("cascade %s: %w: %s", c.Name, datastore.ErrUnregistered, c.SourceTable)
	}
	dst, ok := r.data.Registry().Lookup(c.TargetTable)
	if !ok {
		return fmt.Errorf("cascade %s: %w: %s", c.Name, datastore.ErrUnregistered, c.TargetTable)
	}
	if err := hasColumns(src, c.Inputs, []string{c.ParentColumn}); err != nil {
		return fmt.Errorf("cascade %s: %w", c.Name, err)
	}
	if err := hasColumns(dst, c.Outputs); err != nil {
		return fmt.Errorf("cascade %s: %w", c.Name, err)
	}
	r.cascades[c.SourceTable] = append(r.cascades[c.SourceTable], c)
	r.targets[c.TargetTable] = append(r.targets[c.TargetTable], c)
	r.protect(c.TargetTable, c.Outputs)
	return nil
}

func (r *Recalculator) protect(table string, cols []string) {
	if r.outputs[table] == nil {
		r.outputs[table] = mapset.NewSet[string]()
	}
	r.outputs[table].Append(cols...)
}

func hasColumns(spec *datastore.EntitySpec, groups ...[]string) error {
	cols := mapset.NewSet(spec.Columns()...)
	for _, g := range groups {
		for _, c := range g {
			if !cols.Contains(c) {
				return fmt.Errorf("%s has no column %q", spec.Table, c)
			}
		}
	}
	return nil
}

// BeforeWrite implements datastore.BeforeWriteHook. Derived columns supplied
// by the caller are discarded: inserts start from zero values and updates
// from the persisted values. Rules then recompute on insert, on any input
// change, and always for writes issued by the recalculator itself.
func (r *Recalculator) BeforeWrite(tx *datastore.Tx, ch *datastore.Change) error {
	if ch.Op != datastore.OpInsert && ch.Op != datastore.OpUpdate {
		return nil
	}
	if !ch.Derived {
		if err := r.resetOutputs(ch); err != nil {
			return err
		}
	}

	now := tx.Store().Now()
	for _, rule := range r.rules[ch.Table()] {
		if ch.Op == datastore.OpUpdate && !ch.Derived && !ch.AnyChanged(rule.Inputs...) {
			continue
		}
		in := make(Values, len(rule.Inputs))
		for _, col := range rule.Inputs {
			in[col] = ch.Value(col)
		}
		out, err := rule.Compute(in, now)
		if errors.Is(err, ErrMissingInput) {
			r.metrics.RecalcDegraded(rule.Name)
			r.logger.Warn("derived fields not recalculated",
				"rule", rule.Name, "table", ch.Table(), "recordID", ch.RecordID, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		for _, col := range rule.Outputs {
			if v, ok := out[col]; ok {
				if err := ch.SetValue(col, v); err != nil {
					return fmt.Errorf("rule %s: set %s: %w", rule.Name, col, err)
				}
			}
		}
	}
	return nil
}

func (r *Recalculator) resetOutputs(ch *datastore.Change) error {
	outputs, ok := r.outputs[ch.Table()]
	if !ok {
		return nil
	}
	var from models.Entity = ch.Prior
	if ch.Op == datastore.OpInsert || from == nil {
		from = ch.Spec.New()
	}
	for _, col := range outputs.ToSlice() {
		v, _ := ch.Spec.Value(from, col)
		if err := ch.SetValue(col, v); err != nil {
			return fmt.Errorf("reset %s: %w", col, err)
		}
	}
	return nil
}

// AfterWrite implements datastore.AfterWriteHook. It runs every cascade whose
// source is the written table for the parents the write touched.
func (r *Recalculator) AfterWrite(tx *datastore.Tx, ch *datastore.Change) error {
	for _, c := range r.cascades[ch.Table()] {
		ids, err := r.parents(tx, c, ch)
		if err != nil {
			return fmt.Errorf("cascade %s: %w", c.Name, err)
		}
		for _, id := range ids {
			if _, err := c.Recompute(tx, id); err != nil {
				return fmt.Errorf("cascade %s on %s %s: %w", c.Name, c.TargetTable, id, err)
			}
		}
	}
	return nil
}

// parents returns the parent ids affected by ch. Updates that move a row to
// another parent affect both.
func (r *Recalculator) parents(tx *datastore.Tx, c Cascade, ch *datastore.Change) ([]string, error) {
	ids := mapset.NewSet[string]()
	switch ch.Op {
	case datastore.OpInsert:
		ids.Add(stringValue(ch.Value(c.ParentColumn)))
	case datastore.OpUpdate:
		if ch.Changed == nil || !ch.Changed.ContainsAny(c.Inputs...) {
			return nil, nil
		}
		ids.Add(stringValue(ch.PriorValue(c.ParentColumn)))
		ids.Add(stringValue(ch.Value(c.ParentColumn)))
	case datastore.OpDelete:
		ids.Add(stringValue(ch.PriorValue(c.ParentColumn)))
	case datastore.OpTruncate:
		return r.allIDs(tx, c.TargetTable)
	}
	ids.Remove("")
	out := ids.ToSlice()
	return out, nil
}

func (r *Recalculator) allIDs(tx *datastore.Tx, table string) ([]string, error) {
	spec, ok := r.data.Registry().Lookup(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", datastore.ErrUnregistered, table)
	}
	var ids []string
	if err := tx.DB().Model(spec.New()).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case *string:
		if x != nil {
			return *x
		}
	}
	return ""
}

// Tables returns the tables RecomputeTable can refresh.
func (r *Recalculator) Tables() []string {
	out := mapset.NewSet[string]()
	for t := range r.rules {
		out.Add(t)
	}
	for t := range r.targets {
		out.Add(t)
	}
	return mapset.Sorted(out)
}

// RecomputeTable recomputes every derived column of table for the active
// tenant, in batches of one transaction each. Rows whose derived values are
// already current are not written.
func (r *Recalculator) RecomputeTable(ctx context.Context, table string) (RecomputeResult, error) {
	var res RecomputeResult
	spec, ok := r.data.Registry().Lookup(table)
	if !ok {
		return res, fmt.Errorf("%w: %s", datastore.ErrUnregistered, table)
	}
	rules, cascades := r.rules[table], r.targets[table]
	if len(rules) == 0 && len(cascades) == 0 {
		return res, fmt.Errorf("%w: %s", ErrNoDerivedFields, table)
	}

	last := ""
	for {
		var ids []string
		err := r.data.Transaction(ctx, func(tx *datastore.Tx) error {
			if err := tx.DB().Model(spec.New()).Where("id > ?", last).
				Order("id").Limit(r.batchSize).Pluck("id", &ids).Error; err != nil {
				return err
			}
			for _, id := range ids {
				changed, err := r.recomputeRow(tx, spec, id, len(rules) > 0, cascades)
				if err != nil {
					return err
				}
				if changed {
					res.Updated++
				}
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("recompute %s: %w", table, err)
		}
		res.Scanned += int64(len(ids))
		if len(ids) < r.batchSize {
			break
		}
		last = ids[len(ids)-1]
	}

	r.metrics.RecomputeRows(table, res.Updated)
	r.logger.Info("derived fields recomputed",
		"table", table, "scanned", res.Scanned, "updated", res.Updated)
	return res, nil
}

func (r *Recalculator) recomputeRow(tx *datastore.Tx, spec *datastore.EntitySpec, id string, sameRow bool, cascades []Cascade) (bool, error) {
	changed := false
	if sameRow {
		e := spec.New()
		if err := tx.Get(e, id); err != nil {
			return false, err
		}
		version := e.Scoped().Version
		if err := tx.UpdateDerived(e); err != nil {
			return false, err
		}
		changed = e.Scoped().Version != version
	}
	for _, c := range cascades {
		ok, err := c.Recompute(tx, id)
		if err != nil {
			return false, fmt.Errorf("cascade %s: %w", c.Name, err)
		}
		changed = changed || ok
	}
	return changed, nil
}
