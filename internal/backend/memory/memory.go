// Package memory provides an in-process implementation of backend.Backend.
//
// Tables are immutable slices of rows. Every operation is eager and returns
// a new table; joins are hash joins that preserve left row order.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/expr"
)

// Backend is an in-memory executor. Distinct Backend values are distinct
// data sources: tables from two of them cannot be combined.
type Backend struct {
	name string
}

// New creates an in-memory backend identified by name.
func New(name string) *Backend {
	return &Backend{name: name}
}

func (b *Backend) Name() string { return b.name }

// Table is an immutable in-memory dataset.
type Table struct {
	owner   *Backend
	columns []string
	rows    [][]any
}

func (t *Table) Columns() []string        { return slices.Clone(t.columns) }
func (t *Table) Backend() backend.Backend { return t.owner }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// NewTable creates a table from positional rows. Rows are copied.
func (b *Backend) NewTable(columns []string, rows [][]any) (*Table, error) {
	if dupes := lo.FindDuplicates(columns); len(dupes) > 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "duplicate column names %v", dupes)
	}
	copied := make([][]any, len(rows))
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "row %d has %d values, want %d", i, len(r), len(columns))
		}
		copied[i] = slices.Clone(r)
	}
	return b.table(slices.Clone(columns), copied), nil
}

// FromMaps creates a table from records keyed by column name. Missing keys are NULL.
func (b *Backend) FromMaps(columns []string, records []map[string]any) (*Table, error) {
	rows := lo.Map(records, func(rec map[string]any, _ int) []any {
		return lo.Map(columns, func(c string, _ int) any { return rec[c] })
	})
	return b.NewTable(columns, rows)
}

func (b *Backend) table(columns []string, rows [][]any) *Table {
	return &Table{owner: b, columns: columns, rows: rows}
}

// own unwraps a handle, rejecting tables owned by another executor.
func (b *Backend) own(t backend.Table) (*Table, error) {
	mt, ok := t.(*Table)
	if !ok || mt.owner != b {
		return nil, errs.Newf(errs.ErrKindBackendMismatch, "table is not owned by memory backend %q", b.name)
	}
	return mt, nil
}

func (b *Backend) Filter(ctx context.Context, t backend.Table, pred expr.Expr) (backend.Table, error) {
	src, err := b.own(t)
	if err != nil {
		return nil, err
	}
	if err := pred.Validate(src.columns); err != nil {
		return nil, err
	}

	out := make([][]any, 0, len(src.rows))
	for _, r := range src.rows {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.ErrKindTimeout, "filter cancelled", err)
		}
		ok, err := pred.Eval(src.getter(r))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return b.table(src.columns, out), nil
}

func (b *Backend) SemiJoin(ctx context.Context, t, other backend.Table, on []backend.On) (backend.Table, error) {
	left, right, err := b.pair(t, other)
	if err != nil {
		return nil, err
	}
	if _, err := backend.JoinColumns(backend.JoinSemi, left.columns, right.columns, on); err != nil {
		return nil, err
	}

	index := right.index(onRight(on))
	leftIdx := left.positions(onLeft(on))
	out := make([][]any, 0, len(left.rows))
	for _, r := range left.rows {
		if k, ok := keyOf(r, leftIdx); ok && len(index[k]) > 0 {
			out = append(out, r)
		}
	}
	return b.table(left.columns, out), ctx.Err()
}

func (b *Backend) Join(ctx context.Context, kind backend.JoinKind, l, r backend.Table, on []backend.On) (backend.Table, error) {
	if kind == backend.JoinSemi {
		return b.SemiJoin(ctx, l, r, on)
	}
	if !kind.Valid() || kind == backend.JoinNest {
		return nil, errs.Newf(errs.ErrKindUnsupportedJoinKind, "memory backend cannot perform a %s join", kind)
	}

	left, right, err := b.pair(l, r)
	if err != nil {
		return nil, err
	}
	columns, err := backend.JoinColumns(kind, left.columns, right.columns, on)
	if err != nil {
		return nil, err
	}

	index := right.index(onRight(on))
	leftIdx := left.positions(onLeft(on))
	rightIdx := right.positions(onRight(on))
	kept := right.keptPositions(onRight(on))

	width := len(columns)
	join := func(lr, rr []any) []any {
		row := make([]any, 0, width)
		if lr == nil {
			row = append(row, make([]any, len(left.columns))...)
			for i, p := range leftIdx {
				row[p] = rr[rightIdx[i]]
			}
		} else {
			row = append(row, lr...)
		}
		for _, p := range kept {
			if rr == nil {
				row = append(row, nil)
			} else {
				row = append(row, rr[p])
			}
		}
		return row
	}

	matched := make([]bool, len(right.rows))
	var out [][]any
	for _, lr := range left.rows {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.ErrKindTimeout, "join cancelled", err)
		}
		var hits []int
		if k, ok := keyOf(lr, leftIdx); ok {
			hits = index[k]
		}
		switch kind {
		case backend.JoinAnti:
			if len(hits) == 0 {
				out = append(out, lr)
			}
			continue
		case backend.JoinLeft, backend.JoinFull:
			if len(hits) == 0 {
				out = append(out, join(lr, nil))
			}
		}
		for _, h := range hits {
			matched[h] = true
			out = append(out, join(lr, right.rows[h]))
		}
	}

	if kind.KeepsUnmatchedRight() {
		for i, rr := range right.rows {
			if !matched[i] {
				out = append(out, join(nil, rr))
			}
		}
	}
	return b.table(columns, out), nil
}

func (b *Backend) Rename(_ context.Context, t backend.Table, mapping map[string]string) (backend.Table, error) {
	src, err := b.own(t)
	if err != nil {
		return nil, err
	}
	for from := range mapping {
		if !slices.Contains(src.columns, from) {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "cannot rename unknown column %q", from)
		}
	}
	columns := lo.Map(src.columns, func(c string, _ int) string {
		if to, ok := mapping[c]; ok {
			return to
		}
		return c
	})
	if dupes := lo.FindDuplicates(columns); len(dupes) > 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "rename produces duplicate columns %v", dupes)
	}
	return b.table(columns, src.rows), nil
}

func (b *Backend) Count(_ context.Context, t backend.Table) (int64, error) {
	src, err := b.own(t)
	if err != nil {
		return 0, err
	}
	return int64(len(src.rows)), nil
}

func (b *Backend) CountDistinct(_ context.Context, t backend.Table, columns []string) (int64, error) {
	src, err := b.own(t)
	if err != nil {
		return 0, err
	}
	if err := src.require(columns); err != nil {
		return 0, err
	}
	idx := src.positions(columns)
	seen := make(map[string]struct{}, len(src.rows))
	for _, r := range src.rows {
		seen[tupleKey(r, idx)] = struct{}{}
	}
	return int64(len(seen)), nil
}

func (b *Backend) SetDifference(_ context.Context, a backend.Table, colA string, o backend.Table, colB string) ([]any, error) {
	left, right, err := b.pair(a, o)
	if err != nil {
		return nil, err
	}
	if err := left.require([]string{colA}); err != nil {
		return nil, err
	}
	if err := right.require([]string{colB}); err != nil {
		return nil, err
	}

	index := right.index([]string{colB})
	idx := left.positions([]string{colA})
	seen := make(map[string]bool)
	var out []any
	for _, r := range left.rows {
		k, ok := keyOf(r, idx)
		if !ok || seen[k] || len(index[k]) > 0 {
			continue
		}
		seen[k] = true
		out = append(out, r[idx[0]])
	}
	return out, nil
}

func (b *Backend) Collect(_ context.Context, t backend.Table) (*backend.Frame, error) {
	src, err := b.own(t)
	if err != nil {
		return nil, err
	}
	rows := lo.Map(src.rows, func(r []any, _ int) []any { return slices.Clone(r) })
	return &backend.Frame{Columns: slices.Clone(src.columns), Rows: rows}, nil
}

func (b *Backend) pair(l, r backend.Table) (*Table, *Table, error) {
	left, err := b.own(l)
	if err != nil {
		return nil, nil, err
	}
	right, err := b.own(r)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// --- row helpers ---

func (t *Table) getter(row []any) func(string) any {
	return func(c string) any {
		if i := slices.Index(t.columns, c); i >= 0 {
			return row[i]
		}
		return nil
	}
}

func (t *Table) require(columns []string) error {
	for _, c := range columns {
		if !slices.Contains(t.columns, c) {
			return errs.Newf(errs.ErrKindInvalidInput, "unknown column %q", c)
		}
	}
	return nil
}

func (t *Table) positions(columns []string) []int {
	return lo.Map(columns, func(c string, _ int) int { return slices.Index(t.columns, c) })
}

// keptPositions returns the positions of columns not in dropped, in order.
func (t *Table) keptPositions(dropped []string) []int {
	var out []int
	for i, c := range t.columns {
		if !slices.Contains(dropped, c) {
			out = append(out, i)
		}
	}
	return out
}

// index maps join keys to row numbers. Rows with a NULL key are left out:
// NULL never matches anything.
func (t *Table) index(columns []string) map[string][]int {
	idx := t.positions(columns)
	out := make(map[string][]int, len(t.rows))
	for i, r := range t.rows {
		if k, ok := keyOf(r, idx); ok {
			out[k] = append(out[k], i)
		}
	}
	return out
}

func onLeft(on []backend.On) []string {
	return lo.Map(on, func(o backend.On, _ int) string { return o.Left })
}

func onRight(on []backend.On) []string {
	return lo.Map(on, func(o backend.On, _ int) string { return o.Right })
}

// keyOf builds a join key, reporting false when any component is NULL.
func keyOf(row []any, idx []int) (string, bool) {
	for _, i := range idx {
		if row[i] == nil {
			return "", false
		}
	}
	return tupleKey(row, idx), true
}

// tupleKey encodes values so that numerically equal numbers share a key.
func tupleKey(row []any, idx []int) string {
	var sb strings.Builder
	for _, i := range idx {
		sb.WriteString(normalise(row[i]))
		sb.WriteByte(0)
	}
	return sb.String()
}

func normalise(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case string:
		return "s:" + x
	case []byte:
		return "s:" + string(x)
	case bool:
		return fmt.Sprintf("b:%t", x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case float32:
		return number(float64(x))
	case float64:
		return number(x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("i:%d", x)
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func number(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("i:%d", int64(f))
	}
	return fmt.Sprintf("f:%g", f)
}
