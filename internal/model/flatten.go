package model

import (
	"context"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/flatten"
)

// Flatten joins start with its related tables into one wide table. See
// flatten.Options for the knobs; the plan is validated completely before
// the executor is called.
func (m *Model) Flatten(ctx context.Context, start string, opts flatten.Options) (backend.Table, error) {
	plan, err := flatten.NewPlan(m, start, opts)
	if err != nil {
		return nil, err
	}
	return flatten.Execute(m.context(ctx), m, plan)
}

// JoinToTable joins two directly related tables. The child side of the
// relationship is used as the start table whichever order a and b come in.
func (m *Model) JoinToTable(ctx context.Context, a, b string, kind backend.JoinKind) (backend.Table, error) {
	for _, t := range []string{a, b} {
		if _, err := m.table(t); err != nil {
			return nil, err
		}
	}

	edges := m.keys.EdgesBetween(a, b)
	switch len(edges) {
	case 0:
		return nil, errs.Newf(errs.ErrKindTablesNotDirectlyRelated, "tables %q and %q are not directly related", a, b)
	case 1:
	default:
		return nil, errs.Newf(errs.ErrKindAmbiguousRelationship,
			"tables %q and %q are connected by %d foreign keys", a, b, len(edges))
	}

	child, parent := edges[0].Child, edges[0].Parent
	return m.Flatten(ctx, child, flatten.Options{Tables: []string{parent}, Join: kind})
}
