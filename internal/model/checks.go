package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/expr"
)

// maxReported bounds how many offending values an error message lists.
const maxReported = 5

// Candidate reports whether a column could serve as primary key.
type Candidate struct {
	Column    string
	Candidate bool
	Why       string
}

// PrimaryKeyCandidates tests every column of table for uniqueness and
// absence of NULLs. It needs the unfiltered view, so pending filters
// anywhere in the model make it fail with FiltersMustBeAppliedFirst.
func (m *Model) PrimaryKeyCandidates(ctx context.Context, table string) ([]Candidate, error) {
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	if m.filters.Len() > 0 {
		return nil, errs.Newf(errs.ErrKindFiltersMustBeAppliedFirst,
			"cannot enumerate key candidates of %q with filters pending on %v", table, m.filters.Tables())
	}

	be := t.Backend()
	total, err := be.Count(ctx, t)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, c := range t.Columns() {
		cand := Candidate{Column: c}
		distinct, err := be.CountDistinct(ctx, t, []string{c})
		if err != nil {
			return nil, err
		}
		nulls, err := countWhere(ctx, t, expr.IsNull(c))
		if err != nil {
			return nil, err
		}
		switch {
		case distinct != total:
			cand.Why = fmt.Sprintf("has %d duplicate values", total-distinct)
		case nulls > 0:
			cand.Why = fmt.Sprintf("has %d missing values", nulls)
		default:
			cand.Candidate = true
		}
		out = append(out, cand)
	}
	return out, nil
}

// CheckKey verifies that columns identify the rows of table uniquely under
// the pending filters. A NULL in any key column fails the check.
func (m *Model) CheckKey(ctx context.Context, table string, columns ...string) error {
	t, err := m.Table(ctx, table)
	if err != nil {
		return err
	}
	return checkUnique(ctx, t, table, columns)
}

// CheckSubset verifies that every value of t1.c1 occurs in t2.c2.
func (m *Model) CheckSubset(ctx context.Context, t1, c1, t2, c2 string) error {
	a, b, err := m.pair(ctx, t1, t2)
	if err != nil {
		return err
	}
	return checkSubset(ctx, a, t1, c1, b, t2, c2)
}

// CheckSetEquality verifies that t1.c1 and t2.c2 hold the same values.
func (m *Model) CheckSetEquality(ctx context.Context, t1, c1, t2, c2 string) error {
	a, b, err := m.pair(ctx, t1, t2)
	if err != nil {
		return err
	}
	directions := []struct {
		from, to       backend.Table
		fromCol, toCol string
	}{
		{a, b, c1, c2},
		{b, a, c2, c1},
	}
	for _, d := range directions {
		missing, err := d.from.Backend().SetDifference(ctx, d.from, d.fromCol, d.to, d.toCol)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return errs.Newf(errs.ErrKindValueSetsNotEqual,
				"values of %s.%s and %s.%s differ, e.g. %s", t1, c1, t2, c2, sample(missing))
		}
	}
	return nil
}

// Cardinality names the allowed number of child rows per parent row.
type Cardinality int

const (
	// ZeroToMany allows any number of children per parent.
	ZeroToMany Cardinality = iota
	// OneToMany requires at least one child per parent.
	OneToMany
	// ZeroToOne allows at most one child per parent.
	ZeroToOne
	// OneToOne requires exactly one child per parent.
	OneToOne
)

func (c Cardinality) String() string {
	switch c {
	case ZeroToMany:
		return "0..n"
	case OneToMany:
		return "1..n"
	case ZeroToOne:
		return "0..1"
	case OneToOne:
		return "1..1"
	}
	return fmt.Sprintf("Cardinality(%d)", int(c))
}

// CheckCardinality verifies the relationship between parent.pk and
// child.fk. Every variant requires pk to be unique and fk to be a subset of
// pk; OneToMany and OneToOne also require every parent to have a child,
// ZeroToOne and OneToOne forbid two children sharing a parent.
func (m *Model) CheckCardinality(ctx context.Context, parent, pk, child, fk string, card Cardinality) error {
	p, c, err := m.pair(ctx, parent, child)
	if err != nil {
		return err
	}
	if err := checkUnique(ctx, p, parent, []string{pk}); err != nil {
		return err
	}
	if err := checkSubset(ctx, c, child, fk, p, parent, pk); err != nil {
		return err
	}

	if card == OneToMany || card == OneToOne {
		orphans, err := p.Backend().SetDifference(ctx, p, pk, c, fk)
		if err != nil {
			return err
		}
		if len(orphans) > 0 {
			return errs.Newf(errs.ErrKindCardinalityNotSurjective,
				"%s.%s values without a row in %s (%s), e.g. %s", parent, pk, child, card, sample(orphans))
		}
	}

	if card == ZeroToOne || card == OneToOne {
		be := c.Backend()
		present, err := be.Filter(ctx, c, expr.NotNull(fk))
		if err != nil {
			return err
		}
		rows, err := be.Count(ctx, present)
		if err != nil {
			return err
		}
		distinct, err := be.CountDistinct(ctx, present, []string{fk})
		if err != nil {
			return err
		}
		if rows != distinct {
			return errs.Newf(errs.ErrKindCardinalityNotInjective,
				"%d rows of %s share a %s value (%s)", rows-distinct, child, fk, card)
		}
	}
	return nil
}

// pair materialises two tables and checks they share a backend.
func (m *Model) pair(ctx context.Context, t1, t2 string) (backend.Table, backend.Table, error) {
	a, err := m.Table(ctx, t1)
	if err != nil {
		return nil, nil, err
	}
	b, err := m.Table(ctx, t2)
	if err != nil {
		return nil, nil, err
	}
	if !backend.SameBackend(a, b) {
		return nil, nil, errs.Newf(errs.ErrKindBackendMismatch,
			"tables %q and %q live on different backends", t1, t2)
	}
	return a, b, nil
}

// checkUnique fails with KeyNotUnique on duplicate rows or NULL key values.
func checkUnique(ctx context.Context, t backend.Table, table string, columns []string) error {
	be := t.Backend()
	total, err := be.Count(ctx, t)
	if err != nil {
		return err
	}
	distinct, err := be.CountDistinct(ctx, t, columns)
	if err != nil {
		return err
	}
	if distinct != total {
		return errs.Newf(errs.ErrKindKeyNotUnique,
			"(%s) is not a key of %q: %d duplicate rows", strings.Join(columns, ", "), table, total-distinct)
	}
	for _, c := range columns {
		nulls, err := countWhere(ctx, t, expr.IsNull(c))
		if err != nil {
			return err
		}
		if nulls > 0 {
			return errs.Newf(errs.ErrKindKeyNotUnique,
				"(%s) is not a key of %q: %d rows have no %s", strings.Join(columns, ", "), table, nulls, c)
		}
	}
	return nil
}

func checkSubset(ctx context.Context, a backend.Table, t1, c1 string, b backend.Table, t2, c2 string) error {
	missing, err := a.Backend().SetDifference(ctx, a, c1, b, c2)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errs.Newf(errs.ErrKindValueSetNotSubset,
			"%d values of %s.%s are missing from %s.%s, e.g. %s", len(missing), t1, c1, t2, c2, sample(missing))
	}
	return nil
}

func countWhere(ctx context.Context, t backend.Table, pred expr.Expr) (int64, error) {
	be := t.Backend()
	matched, err := be.Filter(ctx, t, pred)
	if err != nil {
		return 0, err
	}
	return be.Count(ctx, matched)
}

func sample(values []any) string {
	n := min(len(values), maxReported)
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprint(values[i])
	}
	if len(values) > n {
		parts = append(parts, "…")
	}
	return strings.Join(parts, ", ")
}
