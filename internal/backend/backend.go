// Package backend defines the contract between the data model engine and the
// storage/query executors that own table contents.
//
// The engine never inspects rows itself; every row-level operation is
// delegated to a Backend. Implementations live in the memory and sqlbackend
// packages.
package backend

import (
	"context"

	"github.com/koustreak/datamodel/internal/expr"
)

// Table is an opaque handle to a dataset owned by a Backend. Handles are
// immutable: every operation returns a new handle.
type Table interface {
	// Columns returns the column names in order.
	Columns() []string

	// Backend returns the executor that owns this table.
	Backend() Backend
}

// On pairs a column of the left table with a column of the right table.
type On struct {
	Left  string
	Right string
}

// Backend executes relational operations on its own tables. Passing a table
// owned by another backend is an error.
//
// Join column semantics are shared by every implementation: a join result
// has the left table's columns followed by the right table's columns minus
// the right join columns. For right and full joins, a left join column takes
// the right-hand value on rows without a left match.
type Backend interface {
	// Name identifies the backend instance in logs and errors.
	Name() string

	// Filter keeps rows for which pred is true.
	Filter(ctx context.Context, t Table, pred expr.Expr) (Table, error)

	// SemiJoin keeps rows of t that have at least one match in other.
	SemiJoin(ctx context.Context, t, other Table, on []On) (Table, error)

	// Join combines left and right. kind is one of inner, left, right, full
	// or anti; semi joins go through SemiJoin.
	Join(ctx context.Context, kind JoinKind, left, right Table, on []On) (Table, error)

	// Rename renames columns per mapping (old -> new); unmapped columns keep their name.
	Rename(ctx context.Context, t Table, mapping map[string]string) (Table, error)

	// Count returns the number of rows.
	Count(ctx context.Context, t Table) (int64, error)

	// CountDistinct returns the number of distinct value tuples over columns.
	// NULL counts as a value.
	CountDistinct(ctx context.Context, t Table, columns []string) (int64, error)

	// SetDifference returns the distinct non-NULL values of a.colA that do
	// not occur in b.colB.
	SetDifference(ctx context.Context, a Table, colA string, b Table, colB string) ([]any, error)

	// Collect materialises the table.
	Collect(ctx context.Context, t Table) (*Frame, error)
}

// SameBackend reports whether both tables are owned by the same executor.
func SameBackend(a, b Table) bool {
	return a.Backend() == b.Backend()
}

// Frame is a fully materialised table.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Column returns the values of one column, or nil if it does not exist.
func (f *Frame) Column(name string) []any {
	idx := -1
	for i, c := range f.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]any, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = r[idx]
	}
	return out
}

// Maps returns the rows keyed by column name.
func (f *Frame) Maps() []map[string]any {
	out := make([]map[string]any, 0, len(f.Rows))
	for _, r := range f.Rows {
		m := make(map[string]any, len(f.Columns))
		for i, c := range f.Columns {
			m[c] = r[i]
		}
		out = append(out, m)
	}
	return out
}
