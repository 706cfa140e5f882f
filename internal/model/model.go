// Package model implements the model snapshot: a set of named tables, the
// key relationships between them and the filters pending on them.
//
// A *Model is immutable. Every mutator returns a new snapshot and leaves the
// receiver as it was, so snapshots can be shared between goroutines without
// locking. Failed mutations return the error and no snapshot.
//
//	dm, _ := model.New().AddTable("customers", customers)
//	dm, _ = dm.AddTable("orders", orders)
//	dm, _ = dm.AddPrimaryKey(ctx, "customers", "id", model.PKOptions{})
//	dm, _ = dm.AddForeignKey(ctx, "orders", "customer_id", "customers", model.FKOptions{})
//	dm, _ = dm.Filter("customers", expr.In("id", 1, 2))
//	orders, _ := dm.Table(ctx, "orders")
package model

import (
	"cmp"
	"context"
	"slices"

	"github.com/jzelinskie/persistent"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/cascade"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/expr"
	"github.com/koustreak/datamodel/internal/filters"
	"github.com/koustreak/datamodel/internal/keys"
	"github.com/koustreak/datamodel/internal/logger"
)

// Model is an immutable snapshot.
type Model struct {
	names   []string
	tables  *persistent.Map[string, backend.Table]
	keys    keys.Registry
	filters filters.Store
	log     *logger.Logger
}

// Option configures a new Model.
type Option func(*Model)

// WithLogger sets the logger the snapshot and its descendants log to.
// Without it, the logger carried by the call's context is used.
func WithLogger(l *logger.Logger) Option {
	return func(m *Model) { m.log = l }
}

// New returns an empty snapshot.
func New(opts ...Option) *Model {
	m := &Model{tables: persistent.NewMap[string, backend.Table](cmp.Less[string])}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// derive copies the snapshot for a mutation. The table map is shared
// structurally with the receiver.
func (m *Model) derive() *Model {
	next := *m
	next.names = slices.Clone(m.names)
	next.tables = m.tables.Clone()
	return &next
}

// context attaches the snapshot's logger, if any, to ctx.
func (m *Model) context(ctx context.Context) context.Context {
	if m.log == nil {
		return ctx
	}
	return m.log.WithContext(ctx)
}

func (m *Model) logger(ctx context.Context) *logger.Logger {
	if m.log != nil {
		return m.log
	}
	return logger.FromContext(ctx)
}

// --- accessors ---

// TableNames returns the table names in insertion order.
func (m *Model) TableNames() []string { return slices.Clone(m.names) }

func (m *Model) Len() int { return len(m.names) }

// Has reports whether the snapshot contains table name.
func (m *Model) Has(name string) bool {
	_, ok := m.tables.Get(name)
	return ok
}

// RawTable returns the stored table, ignoring pending filters.
func (m *Model) RawTable(name string) (backend.Table, bool) {
	return m.tables.Get(name)
}

func (m *Model) Keys() keys.Registry    { return m.keys }
func (m *Model) Filters() filters.Store { return m.filters }

func (m *Model) table(name string) (backend.Table, error) {
	t, ok := m.tables.Get(name)
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "table %q not found", name)
	}
	return t, nil
}

// --- tables ---

// AddTable adds t under name.
func (m *Model) AddTable(name string, t backend.Table) (*Model, error) {
	if name == "" || t == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "a table needs a name and a handle")
	}
	if m.Has(name) {
		return nil, errs.Newf(errs.ErrKindDuplicateTableName, "table %q already exists", name)
	}
	next := m.derive()
	next.names = append(next.names, name)
	next.tables.Set(name, t, nil)
	return next, nil
}

// RemoveTable drops name together with its keys, the foreign keys pointing
// at it and its filters.
func (m *Model) RemoveTable(name string) (*Model, error) {
	if _, err := m.table(name); err != nil {
		return nil, err
	}
	next := m.derive()
	next.names = slices.DeleteFunc(next.names, func(n string) bool { return n == name })
	next.tables.Delete(name)
	next.keys = m.keys.WithoutTable(name)
	next.filters = m.filters.WithoutTable(name)
	return next, nil
}

// RenameTable renames a table and rewrites its keys and filters.
func (m *Model) RenameTable(oldName, newName string) (*Model, error) {
	t, err := m.table(oldName)
	if err != nil {
		return nil, err
	}
	if newName == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "table name cannot be empty")
	}
	if m.Has(newName) {
		return nil, errs.Newf(errs.ErrKindDuplicateTableName, "table %q already exists", newName)
	}
	next := m.derive()
	next.names[slices.Index(next.names, oldName)] = newName
	next.tables.Delete(oldName)
	next.tables.Set(newName, t, nil)
	next.keys = m.keys.Renamed(oldName, newName)
	next.filters = m.filters.Renamed(oldName, newName)
	return next, nil
}

// SelectTables keeps only names, in the given order. Keys and filters on
// dropped tables are dropped with them.
func (m *Model) SelectTables(names ...string) (*Model, error) {
	next := New()
	next.log = m.log
	for _, n := range names {
		t, err := m.table(n)
		if err != nil {
			return nil, err
		}
		if next.Has(n) {
			return nil, errs.Newf(errs.ErrKindDuplicateTableName, "table %q selected twice", n)
		}
		next.names = append(next.names, n)
		next.tables.Set(n, t, nil)
	}
	next.keys = m.keys.Restrict(names)
	for _, f := range m.filters.All() {
		if next.Has(f.Table) {
			next.filters = next.filters.Add(f.Table, f.Expr)
		}
	}
	return next, nil
}

// --- filters ---

// Filter declares a pending filter on table. Nothing is evaluated until a
// table is materialised.
func (m *Model) Filter(table string, e expr.Expr) (*Model, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	if err := e.Validate(t.Columns()); err != nil {
		return nil, err
	}
	next := m.derive()
	next.filters = m.filters.Add(table, e)
	return next, nil
}

// Table materialises name under every pending filter connected to it.
func (m *Model) Table(ctx context.Context, name string) (backend.Table, error) {
	return cascade.Materialize(m.context(ctx), m, name)
}

// ApplyFilters materialises every table and returns a snapshot holding the
// narrowed tables and no pending filters.
func (m *Model) ApplyFilters(ctx context.Context) (*Model, error) {
	if m.filters.Len() == 0 {
		return m, nil
	}
	ctx = m.context(ctx)

	next := m.derive()
	for _, name := range m.names {
		t, err := cascade.Materialize(ctx, m, name)
		if err != nil {
			return nil, err
		}
		next.tables.Set(name, t, nil)
	}
	next.filters = m.filters.Clear()
	return next, nil
}
