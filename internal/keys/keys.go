// Package keys holds the primary and foreign key metadata of a model.
//
// A Registry is an immutable value. Every With/Without method returns a new
// Registry and leaves the receiver untouched, so registries can be shared
// freely between model snapshots.
package keys

import (
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/koustreak/datamodel/internal/errs"
)

// PrimaryKey names the single key column of a table.
type PrimaryKey struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

// ForeignKey is an edge Child.Column -> Parent. The referenced column is the
// parent's primary key at the time of use.
type ForeignKey struct {
	Child  string `json:"child" yaml:"child"`
	Column string `json:"column" yaml:"column"`
	Parent string `json:"parent" yaml:"parent"`
}

func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s.%s -> %s", fk.Child, fk.Column, fk.Parent)
}

// Touches reports whether table is either endpoint of the edge.
func (fk ForeignKey) Touches(table string) bool {
	return fk.Child == table || fk.Parent == table
}

// Registry is the key metadata of one snapshot. The zero value is empty and
// ready to use.
type Registry struct {
	pks []PrimaryKey
	fks []ForeignKey
}

// PrimaryKey returns the key column of table.
func (r Registry) PrimaryKey(table string) (string, bool) {
	for _, pk := range r.pks {
		if pk.Table == table {
			return pk.Column, true
		}
	}
	return "", false
}

// PrimaryKeys returns all primary keys in the order they were set.
func (r Registry) PrimaryKeys() []PrimaryKey { return slices.Clone(r.pks) }

// ForeignKeys returns all edges in insertion order. Graph building relies on
// this order being stable.
func (r Registry) ForeignKeys() []ForeignKey { return slices.Clone(r.fks) }

// ForeignKeysBetween returns the edges from child to parent.
func (r Registry) ForeignKeysBetween(child, parent string) []ForeignKey {
	return lo.Filter(r.fks, func(fk ForeignKey, _ int) bool {
		return fk.Child == child && fk.Parent == parent
	})
}

// Referencing returns the edges pointing at parent.
func (r Registry) Referencing(parent string) []ForeignKey {
	return lo.Filter(r.fks, func(fk ForeignKey, _ int) bool { return fk.Parent == parent })
}

// EdgesBetween returns the edges connecting a and b in either direction.
func (r Registry) EdgesBetween(a, b string) []ForeignKey {
	return lo.Filter(r.fks, func(fk ForeignKey, _ int) bool {
		return (fk.Child == a && fk.Parent == b) || (fk.Child == b && fk.Parent == a)
	})
}

// JoinColumns resolves the columns joining self to other through the unique
// edge between them. It fails with TablesNotDirectlyRelated when no edge
// exists and AmbiguousRelationship when more than one does.
func (r Registry) JoinColumns(self, other string) (selfCol, otherCol string, err error) {
	edges := r.EdgesBetween(self, other)
	switch len(edges) {
	case 0:
		return "", "", errs.Newf(errs.ErrKindTablesNotDirectlyRelated,
			"tables %q and %q are not directly related", self, other)
	case 1:
	default:
		return "", "", errs.Newf(errs.ErrKindAmbiguousRelationship,
			"tables %q and %q are connected by %d foreign keys", self, other, len(edges))
	}

	fk := edges[0]
	pk, ok := r.PrimaryKey(fk.Parent)
	if !ok {
		return "", "", errs.Newf(errs.ErrKindReferencedTableHasNoPrimaryKey,
			"foreign key %s references table %q which has no primary key", fk, fk.Parent)
	}
	if fk.Child == self {
		return fk.Column, pk, nil
	}
	return pk, fk.Column, nil
}

// WithPrimaryKey sets or replaces the key of table.
func (r Registry) WithPrimaryKey(table, column string) Registry {
	pks := lo.Reject(r.pks, func(pk PrimaryKey, _ int) bool { return pk.Table == table })
	return Registry{pks: append(pks, PrimaryKey{Table: table, Column: column}), fks: r.fks}
}

// WithoutPrimaryKey drops the key of table. Edges are kept.
func (r Registry) WithoutPrimaryKey(table string) Registry {
	return Registry{
		pks: lo.Reject(r.pks, func(pk PrimaryKey, _ int) bool { return pk.Table == table }),
		fks: r.fks,
	}
}

// WithForeignKey appends fk. An identical edge already present is rejected.
func (r Registry) WithForeignKey(fk ForeignKey) (Registry, error) {
	if slices.Contains(r.fks, fk) {
		return r, errs.Newf(errs.ErrKindInvalidInput, "foreign key %s already exists", fk)
	}
	return Registry{pks: r.pks, fks: append(slices.Clone(r.fks), fk)}, nil
}

// WithoutForeignKeys drops the edges from child to parent. An empty column
// matches every edge between the pair. The number of removed edges is
// returned alongside.
func (r Registry) WithoutForeignKeys(child, column, parent string) (Registry, int) {
	kept := lo.Reject(r.fks, func(fk ForeignKey, _ int) bool {
		return fk.Child == child && fk.Parent == parent && (column == "" || fk.Column == column)
	})
	return Registry{pks: r.pks, fks: kept}, len(r.fks) - len(kept)
}

// WithoutTable drops every key that mentions name.
func (r Registry) WithoutTable(name string) Registry {
	return Registry{
		pks: lo.Reject(r.pks, func(pk PrimaryKey, _ int) bool { return pk.Table == name }),
		fks: lo.Reject(r.fks, func(fk ForeignKey, _ int) bool { return fk.Touches(name) }),
	}
}

// Renamed rewrites every mention of table oldName to newName.
func (r Registry) Renamed(oldName, newName string) Registry {
	rename := func(s string) string {
		if s == oldName {
			return newName
		}
		return s
	}
	return Registry{
		pks: lo.Map(r.pks, func(pk PrimaryKey, _ int) PrimaryKey {
			return PrimaryKey{Table: rename(pk.Table), Column: pk.Column}
		}),
		fks: lo.Map(r.fks, func(fk ForeignKey, _ int) ForeignKey {
			return ForeignKey{Child: rename(fk.Child), Column: fk.Column, Parent: rename(fk.Parent)}
		}),
	}
}

// Restrict keeps the keys whose tables are all in tables.
func (r Registry) Restrict(tables []string) Registry {
	in := lo.SliceToMap(tables, func(t string) (string, bool) { return t, true })
	return Registry{
		pks: lo.Filter(r.pks, func(pk PrimaryKey, _ int) bool { return in[pk.Table] }),
		fks: lo.Filter(r.fks, func(fk ForeignKey, _ int) bool { return in[fk.Child] && in[fk.Parent] }),
	}
}
