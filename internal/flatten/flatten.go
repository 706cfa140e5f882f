// Package flatten joins a start table with related tables into one wide
// table.
//
// Planning walks the directed relation graph (child -> parent) from the
// start table, checks the join is well defined, orders the tables and
// resolves join columns. Execution folds the joins on the executor starting
// from the start table narrowed by the pending filters.
package flatten

import (
	"context"
	"slices"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/cascade"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/graph"
	"github.com/koustreak/datamodel/internal/logger"
)

// Options controls a flatten.
type Options struct {
	// Tables lists the tables to join, in join order. Empty means every
	// table reachable from the start table through foreign keys.
	Tables []string `yaml:"tables"`

	Join backend.JoinKind `yaml:"join"`

	// Squash allows tables more than one hop away from the start table.
	Squash bool `yaml:"squash"`

	// Separator qualifies colliding column names; defaults to ".".
	Separator string `yaml:"separator"`
}

// Step joins Table onto the accumulated result through its neighbour Pred.
type Step struct {
	Table string
	Pred  string
	On    []backend.On
}

// Plan is a validated flatten.
type Plan struct {
	Start string
	Join  backend.JoinKind
	Steps []Step

	// Renames maps table -> old column -> new column.
	Renames map[string]map[string]string

	// OrderDependent flags a right join over an auto-detected table list:
	// the result depends on the order the tables are visited in.
	OrderDependent bool
}

// Tables returns the start table followed by the joined tables in order.
func (p *Plan) Tables() []string {
	out := make([]string, 0, len(p.Steps)+1)
	out = append(out, p.Start)
	for _, s := range p.Steps {
		out = append(out, s.Table)
	}
	return out
}

// NewPlan validates a flatten of start and computes its join order, column
// renames and join keys. No executor call is made.
func NewPlan(src cascade.Source, start string, opts Options) (*Plan, error) {
	tables := src.TableNames()
	for _, t := range append([]string{start}, opts.Tables...) {
		if !slices.Contains(tables, t) {
			return nil, errs.Newf(errs.ErrKindUnknownTable, "table %q not found", t)
		}
	}

	reg := src.Keys()
	g := graph.Build(reg, tables, true)

	explicit := len(opts.Tables) > 0
	var targets []string
	if explicit {
		for _, t := range opts.Tables {
			if t != start && !slices.Contains(targets, t) {
				targets = append(targets, t)
			}
		}
	} else {
		targets = g.Reachable(start)
	}

	sub := g.Induced(append([]string{start}, targets...))
	reachable := sub.Reachable(start)
	for _, t := range targets {
		if !slices.Contains(reachable, t) {
			return nil, errs.Newf(errs.ErrKindTablesNotReachableFromStart,
				"table %q cannot be reached from %q through foreign keys", t, start)
		}
	}
	if !sub.IsTree() {
		return nil, errs.Newf(errs.ErrKindRelationshipCycleUnsupported,
			"relationships between %v form a cycle; flatten needs a tree", sub.Nodes())
	}

	dfs := sub.DFS(start)
	plan := &Plan{Start: start, Join: opts.Join}
	if err := gate(src, plan, dfs, opts, explicit); err != nil {
		return nil, err
	}

	order, err := joinOrder(dfs, targets, explicit)
	if err != nil {
		return nil, err
	}

	if opts.Join.AddsColumns() {
		columns := make(map[string][]string, len(order)+1)
		for _, t := range append([]string{start}, tableNames(order)...) {
			raw, _ := src.RawTable(t)
			columns[t] = raw.Columns()
		}
		plan.Renames = Disambiguate(append([]string{start}, tableNames(order)...), columns, opts.Separator)
	}

	for _, v := range order {
		predCol, tableCol, err := reg.JoinColumns(v.Pred, v.Node)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, Step{
			Table: v.Node,
			Pred:  v.Pred,
			On: []backend.On{{
				Left:  renamed(plan.Renames, v.Pred, predCol),
				Right: renamed(plan.Renames, v.Node, tableCol),
			}},
		})
	}
	return plan, nil
}

// gate enforces the join policy on the DFS of the induced subgraph.
func gate(src cascade.Source, plan *Plan, dfs []graph.Visit, opts Options, explicit bool) error {
	kind := opts.Join
	if !kind.Valid() || kind == backend.JoinNest {
		return errs.Newf(errs.ErrKindUnsupportedJoinKind, "cannot flatten with a %s join", kind)
	}

	if kind == backend.JoinRight || kind == backend.JoinFull {
		pending := src.Filters()
		for _, v := range dfs {
			if pending.Has(v.Node) {
				return errs.Newf(errs.ErrKindFiltersMustBeAppliedFirst,
					"table %q has pending filters; apply them before a %s join", v.Node, kind)
			}
		}
	}

	// Without squash, and for joins that drop the right table's columns,
	// every table must hang directly off the start table.
	directOnly := !opts.Squash || !kind.AddsColumns()
	for _, v := range dfs {
		if directOnly && v.Distance > 1 {
			return errs.Newf(errs.ErrKindOnlyDirectNeighborsAllowed,
				"table %q is %d hops from %q; only direct neighbours can be joined here", v.Node, v.Distance, plan.Start)
		}
	}

	plan.OrderDependent = kind == backend.JoinRight && !explicit && len(dfs) > 2
	return nil
}

// joinOrder returns the visits to join in order. An explicit list keeps its
// order, but every table must come after the neighbour linking it to the
// start table.
func joinOrder(dfs []graph.Visit, targets []string, explicit bool) ([]graph.Visit, error) {
	if !explicit {
		return dfs[1:], nil
	}

	byNode := make(map[string]graph.Visit, len(dfs))
	for _, v := range dfs {
		byNode[v.Node] = v
	}
	included := map[string]bool{dfs[0].Node: true}
	order := make([]graph.Visit, 0, len(targets))
	for _, t := range targets {
		v := byNode[t]
		if !included[v.Pred] {
			return nil, errs.Newf(errs.ErrKindTablesNotDirectlyRelated,
				"table %q must be listed after %q, which links it to %q", t, v.Pred, dfs[0].Node)
		}
		included[t] = true
		order = append(order, v)
	}
	return order, nil
}

func tableNames(visits []graph.Visit) []string {
	out := make([]string, len(visits))
	for i, v := range visits {
		out[i] = v.Node
	}
	return out
}

// Execute folds the plan on the executor. The start table is narrowed by
// the pending filters first; the joined tables are used as stored.
func Execute(ctx context.Context, src cascade.Source, plan *Plan) (backend.Table, error) {
	start, ok := src.RawTable(plan.Start)
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnknownTable, "table %q not found", plan.Start)
	}
	others := make([]backend.Table, len(plan.Steps))
	for i, s := range plan.Steps {
		t, ok := src.RawTable(s.Table)
		if !ok {
			return nil, errs.Newf(errs.ErrKindUnknownTable, "table %q not found", s.Table)
		}
		if !backend.SameBackend(start, t) {
			return nil, errs.Newf(errs.ErrKindBackendMismatch,
				"tables %q and %q live on different backends", plan.Start, s.Table)
		}
		others[i] = t
	}

	log := logger.FromContext(ctx)
	if plan.OrderDependent {
		log.WarnWith("right join over auto-detected tables depends on join order", map[string]any{
			"start":  plan.Start,
			"tables": plan.Tables(),
		})
	}
	for _, table := range plan.Tables() {
		if cols, ok := plan.Renames[table]; ok {
			log.InfoWith("renamed columns to keep names unique", map[string]any{
				"table":   table,
				"renames": cols,
			})
		}
	}

	acc, err := cascade.Materialize(ctx, src, plan.Start)
	if err != nil {
		return nil, err
	}
	be := acc.Backend()
	if acc, err = rename(ctx, be, acc, plan.Renames[plan.Start]); err != nil {
		return nil, err
	}
	for i, s := range plan.Steps {
		t, err := rename(ctx, be, others[i], plan.Renames[s.Table])
		if err != nil {
			return nil, err
		}
		if acc, err = be.Join(ctx, plan.Join, acc, t, s.On); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func rename(ctx context.Context, be backend.Backend, t backend.Table, mapping map[string]string) (backend.Table, error) {
	if len(mapping) == 0 {
		return t, nil
	}
	return be.Rename(ctx, t, mapping)
}
