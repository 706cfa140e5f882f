package model

import (
	"context"
	"slices"

	"github.com/samber/lo"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/keys"
)

// PKOptions controls AddPrimaryKey.
type PKOptions struct {
	// Force replaces an existing primary key.
	Force bool

	// Check verifies the column holds unique, non-NULL values.
	Check bool
}

// FKOptions controls AddForeignKey.
type FKOptions struct {
	// Check verifies every child value occurs in the parent key.
	Check bool
}

// AddPrimaryKey sets column as the primary key of table.
func (m *Model) AddPrimaryKey(ctx context.Context, table, column string, opts PKOptions) (*Model, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(t.Columns(), column) {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "table %q has no column %q", table, column)
	}
	if old, ok := m.keys.PrimaryKey(table); ok && !opts.Force {
		return nil, errs.Newf(errs.ErrKindPrimaryKeyAlreadySet,
			"table %q already has primary key %q", table, old)
	}
	if opts.Check {
		if err := checkUnique(ctx, t, table, []string{column}); err != nil {
			return nil, err
		}
	}

	next := m.derive()
	next.keys = m.keys.WithPrimaryKey(table, column)
	m.logger(ctx).DebugWith("primary key set", map[string]any{"table": table, "column": column})
	return next, nil
}

// RemovePrimaryKey drops the primary key of table. Foreign keys referencing
// it block the removal unless cascade is set, in which case they are
// removed as well.
func (m *Model) RemovePrimaryKey(ctx context.Context, table string, cascade bool) (*Model, error) {
	if _, err := m.table(table); err != nil {
		return nil, err
	}
	if _, ok := m.keys.PrimaryKey(table); !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "table %q has no primary key", table)
	}

	next := m.derive()
	refs := m.keys.Referencing(table)
	if len(refs) > 0 {
		if !cascade {
			return nil, errs.Newf(errs.ErrKindPrimaryKeyRemovalBlockedByForeignKeys,
				"primary key of %q is referenced by %v", table, refs)
		}
		for _, fk := range refs {
			next.keys, _ = next.keys.WithoutForeignKeys(fk.Child, fk.Column, fk.Parent)
		}
	}
	next.keys = next.keys.WithoutPrimaryKey(table)
	m.logger(ctx).DebugWith("primary key removed", map[string]any{
		"table":                table,
		"dropped_foreign_keys": len(refs),
	})
	return next, nil
}

// AddForeignKey adds the edge child.column -> parent. The parent must have a
// primary key and both tables must live on the same backend.
func (m *Model) AddForeignKey(ctx context.Context, child, column, parent string, opts FKOptions) (*Model, error) {
	ct, err := m.table(child)
	if err != nil {
		return nil, err
	}
	pt, err := m.table(parent)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(ct.Columns(), column) {
		return nil, errs.Newf(errs.ErrKindForeignKeyColumnMissing, "table %q has no column %q", child, column)
	}
	pk, ok := m.keys.PrimaryKey(parent)
	if !ok {
		return nil, errs.Newf(errs.ErrKindReferencedTableHasNoPrimaryKey,
			"table %q has no primary key to reference", parent)
	}
	if !backend.SameBackend(ct, pt) {
		return nil, errs.Newf(errs.ErrKindBackendMismatch,
			"tables %q and %q live on different backends", child, parent)
	}

	reg, err := m.keys.WithForeignKey(keys.ForeignKey{Child: child, Column: column, Parent: parent})
	if err != nil {
		return nil, err
	}
	if opts.Check {
		if err := checkSubset(ctx, ct, child, column, pt, parent, pk); err != nil {
			return nil, err
		}
	}

	next := m.derive()
	next.keys = reg
	m.logger(ctx).DebugWith("foreign key added", map[string]any{
		"child": child, "column": column, "parent": parent,
	})
	return next, nil
}

// RemoveForeignKey drops the edges from child to parent through column. An
// empty column removes every edge between the two tables.
func (m *Model) RemoveForeignKey(ctx context.Context, child, column, parent string) (*Model, error) {
	if _, err := m.table(child); err != nil {
		return nil, err
	}
	if _, err := m.table(parent); err != nil {
		return nil, err
	}
	reg, n := m.keys.WithoutForeignKeys(child, column, parent)
	if n == 0 {
		if column == "" {
			return nil, errs.Newf(errs.ErrKindNotAForeignKeyColumn,
				"table %q has no foreign key to %q", child, parent)
		}
		return nil, errs.Newf(errs.ErrKindNotAForeignKeyColumn,
			"column %q of %q is not a foreign key to %q", column, child, parent)
	}

	next := m.derive()
	next.keys = reg
	m.logger(ctx).DebugWith("foreign key removed", map[string]any{
		"child": child, "column": column, "parent": parent, "removed": n,
	})
	return next, nil
}

// HasPrimaryKey reports whether table has a primary key.
func (m *Model) HasPrimaryKey(table string) bool {
	_, ok := m.keys.PrimaryKey(table)
	return ok
}

func (m *Model) PrimaryKey(table string) (string, bool) { return m.keys.PrimaryKey(table) }
func (m *Model) PrimaryKeys() []keys.PrimaryKey         { return m.keys.PrimaryKeys() }
func (m *Model) ForeignKeys() []keys.ForeignKey         { return m.keys.ForeignKeys() }

// HasForeignKey reports whether child references parent.
func (m *Model) HasForeignKey(child, parent string) bool {
	return len(m.keys.ForeignKeysBetween(child, parent)) > 0
}

// ForeignKeyColumns returns the columns of child referencing parent.
func (m *Model) ForeignKeyColumns(child, parent string) []string {
	return lo.Map(m.keys.ForeignKeysBetween(child, parent), func(fk keys.ForeignKey, _ int) string {
		return fk.Column
	})
}
