// Package cascade materialises a table under the pending filters of a model.
//
// A filter declared on one table narrows every table connected to it: the
// engine walks the undirected relation graph from the periphery towards the
// target, semi-joining each table against its already narrowed neighbours
// and then applying its own predicates.
package cascade

import (
	"context"
	"slices"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/expr"
	"github.com/koustreak/datamodel/internal/filters"
	"github.com/koustreak/datamodel/internal/graph"
	"github.com/koustreak/datamodel/internal/keys"
	"github.com/koustreak/datamodel/internal/logger"
)

// Source is the read-only view of a model the engine works on.
type Source interface {
	TableNames() []string
	RawTable(name string) (backend.Table, bool)
	Keys() keys.Registry
	Filters() filters.Store
}

// Child is a table already narrowed when its predecessor is processed.
type Child struct {
	Table string
	On    []backend.On
}

// Step is one table of the recipe.
type Step struct {
	Node     string
	Distance int
	Children []Child

	// Predicate is the conjunction of the node's filters; valid when Filtered.
	Predicate expr.Expr
	Filtered  bool
}

// Plan computes the recipe that narrows target. Steps are ordered farthest
// first; target itself is the last step. A nil recipe means no filter is
// pending and target is used as stored.
//
// Join columns for every (node, child) pair are resolved here so that
// Materialize never reaches the executor with an invalid plan.
func Plan(reg keys.Registry, tables []string, store filters.Store, target string) ([]Step, error) {
	if !slices.Contains(tables, target) {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "table %q not found", target)
	}
	if store.Len() == 0 {
		return nil, nil
	}

	visits := graph.Build(reg, tables, false).Distances(target)
	byNode := make(map[string]graph.Visit, len(visits))
	for _, v := range visits {
		byNode[v.Node] = v
	}

	// Seed with the filtered tables reachable from target, then close the set
	// over predecessors so every path runs back to target.
	in := map[string]bool{target: true}
	for _, t := range store.Tables() {
		if _, ok := byNode[t]; ok {
			in[t] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for n := range in {
			if p := byNode[n].Pred; !in[p] {
				in[p] = true
				changed = true
			}
		}
	}

	// BFS order is by non-decreasing distance; walking it backwards gives
	// farthest first with a deterministic tie order and target last.
	var steps []Step
	for i := len(visits) - 1; i >= 0; i-- {
		v := visits[i]
		if !in[v.Node] {
			continue
		}
		step := Step{Node: v.Node, Distance: v.Distance}
		step.Predicate, step.Filtered = store.Predicate(v.Node)
		steps = append(steps, step)
	}

	for i := range steps {
		node := steps[i].Node
		for _, c := range steps[:i] {
			if c.Node == node || byNode[c.Node].Pred != node {
				continue
			}
			self, other, err := reg.JoinColumns(node, c.Node)
			if err != nil {
				return nil, err
			}
			steps[i].Children = append(steps[i].Children, Child{
				Table: c.Node,
				On:    []backend.On{{Left: self, Right: other}},
			})
		}
	}
	return steps, nil
}

// Materialize returns target narrowed by every pending filter connected to
// it. With no pending filters the stored table handle is returned as is.
func Materialize(ctx context.Context, src Source, target string) (backend.Table, error) {
	raw, ok := src.RawTable(target)
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "table %q not found", target)
	}

	steps, err := Plan(src.Keys(), src.TableNames(), src.Filters(), target)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return raw, nil
	}

	stored := make(map[string]backend.Table, len(steps))
	for _, s := range steps {
		t, _ := src.RawTable(s.Node)
		if !backend.SameBackend(raw, t) {
			return nil, errs.Newf(errs.ErrKindBackendMismatch,
				"tables %q and %q live on different backends", target, s.Node)
		}
		stored[s.Node] = t
	}

	log := logger.FromContext(ctx)
	be := raw.Backend()
	done := make(map[string]backend.Table, len(steps))
	for _, s := range steps {
		t := stored[s.Node]
		for _, c := range s.Children {
			if t, err = be.SemiJoin(ctx, t, done[c.Table], c.On); err != nil {
				return nil, err
			}
		}
		if s.Filtered {
			if t, err = be.Filter(ctx, t, s.Predicate); err != nil {
				return nil, err
			}
		}
		done[s.Node] = t

		log.DebugWith("cascade step", map[string]any{
			"target":   target,
			"node":     s.Node,
			"distance": s.Distance,
			"children": len(s.Children),
			"filtered": s.Filtered,
		})
	}
	return done[target], nil
}
