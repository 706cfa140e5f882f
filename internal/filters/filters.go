// Package filters stores the pending row filters of a model.
//
// Filters are declared, never evaluated here: the cascade engine consumes
// them when a table is materialised.
package filters

import (
	"github.com/jzelinskie/stringz"
	"github.com/samber/lo"

	"github.com/koustreak/datamodel/internal/expr"
)

// Filter is one pending predicate on a table.
type Filter struct {
	Table string    `json:"table" yaml:"table"`
	Expr  expr.Expr `json:"expr" yaml:"expr"`
}

// Store is an immutable, ordered list of filters. The zero value is empty.
type Store struct {
	items []Filter
}

// Add appends a filter. Filters on the same table are conjoined.
func (s Store) Add(table string, e expr.Expr) Store {
	items := make([]Filter, len(s.items), len(s.items)+1)
	copy(items, s.items)
	return Store{items: append(items, Filter{Table: table, Expr: e})}
}

func (s Store) Len() int { return len(s.items) }

// All returns every filter in declaration order.
func (s Store) All() []Filter {
	out := make([]Filter, len(s.items))
	copy(out, s.items)
	return out
}

// For returns the predicates of table in declaration order.
func (s Store) For(table string) []expr.Expr {
	return lo.FilterMap(s.items, func(f Filter, _ int) (expr.Expr, bool) {
		return f.Expr, f.Table == table
	})
}

// Predicate returns the conjunction of the predicates of table.
func (s Store) Predicate(table string) (expr.Expr, bool) {
	preds := s.For(table)
	if len(preds) == 0 {
		return expr.Expr{}, false
	}
	return expr.And(preds...), true
}

// Has reports whether table carries at least one filter.
func (s Store) Has(table string) bool {
	return lo.ContainsBy(s.items, func(f Filter) bool { return f.Table == table })
}

// Tables returns the filtered tables, each once, in first-declared order.
func (s Store) Tables() []string {
	return stringz.Dedup(lo.Map(s.items, func(f Filter, _ int) string { return f.Table }))
}

// WithoutTable drops the filters of name.
func (s Store) WithoutTable(name string) Store {
	return Store{items: lo.Reject(s.items, func(f Filter, _ int) bool { return f.Table == name })}
}

// Renamed moves the filters of oldName to newName.
func (s Store) Renamed(oldName, newName string) Store {
	return Store{items: lo.Map(s.items, func(f Filter, _ int) Filter {
		if f.Table == oldName {
			f.Table = newName
		}
		return f
	})}
}

// Clear returns an empty store.
func (s Store) Clear() Store { return Store{} }
