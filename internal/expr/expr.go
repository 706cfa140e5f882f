// Package expr defines the declarative boolean predicates attached to tables
// as pending filters.
//
// An Expr is a plain value tree (no closures), so it can be logged, compared,
// serialised to YAML/JSON and compiled for any backend: the memory executor
// evaluates it row by row, the SQL executor compiles it with squirrel.
//
//	pred := expr.And(
//	    expr.Eq("status", "shipped"),
//	    expr.In("customer_id", 1, 2),
//	)
package expr

import (
	"fmt"
	"slices"
	"strings"

	"github.com/koustreak/datamodel/internal/errs"
)

// Op is the node operator of an expression tree.
type Op string

const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpLt      Op = "lt"
	OpLe      Op = "le"
	OpGt      Op = "gt"
	OpGe      Op = "ge"
	OpIn      Op = "in"
	OpIsNull  Op = "is_null"
	OpNotNull Op = "not_null"
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpNot     Op = "not"
)

// validOps is the allowlist of operators. Anything else is rejected before
// it can reach a backend.
var validOps = map[Op]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
	OpIn: true, OpIsNull: true, OpNotNull: true,
	OpAnd: true, OpOr: true, OpNot: true,
}

var opSymbols = map[Op]string{
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
}

// Expr is one node of a predicate tree.
type Expr struct {
	Op     Op     `json:"op" yaml:"op"`
	Column string `json:"column,omitempty" yaml:"column,omitempty"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`
	Values []any  `json:"values,omitempty" yaml:"values,omitempty"`
	Args   []Expr `json:"args,omitempty" yaml:"args,omitempty"`
}

func cmp(op Op, column string, value any) Expr {
	return Expr{Op: op, Column: column, Value: value}
}

func Eq(column string, value any) Expr { return cmp(OpEq, column, value) }
func Ne(column string, value any) Expr { return cmp(OpNe, column, value) }
func Lt(column string, value any) Expr { return cmp(OpLt, column, value) }
func Le(column string, value any) Expr { return cmp(OpLe, column, value) }
func Gt(column string, value any) Expr { return cmp(OpGt, column, value) }
func Ge(column string, value any) Expr { return cmp(OpGe, column, value) }

// In matches rows whose column equals any of values. An empty list matches nothing.
func In(column string, values ...any) Expr {
	return Expr{Op: OpIn, Column: column, Values: values}
}

func IsNull(column string) Expr  { return Expr{Op: OpIsNull, Column: column} }
func NotNull(column string) Expr { return Expr{Op: OpNotNull, Column: column} }

// And conjoins args. And() is always true and And(e) is e.
func And(args ...Expr) Expr {
	if len(args) == 1 {
		return args[0]
	}
	return Expr{Op: OpAnd, Args: args}
}

// Or disjoins args. Or() is always false and Or(e) is e.
func Or(args ...Expr) Expr {
	if len(args) == 1 {
		return args[0]
	}
	return Expr{Op: OpOr, Args: args}
}

func Not(arg Expr) Expr {
	return Expr{Op: OpNot, Args: []Expr{arg}}
}

// Validate checks the tree is well formed and only references columns in
// columns. A nil columns slice skips the column check.
func (e Expr) Validate(columns []string) error {
	if !validOps[e.Op] {
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported filter operator %q", e.Op)
	}

	switch e.Op {
	case OpAnd, OpOr:
		for _, a := range e.Args {
			if err := a.Validate(columns); err != nil {
				return err
			}
		}
		return nil
	case OpNot:
		if len(e.Args) != 1 {
			return errs.Newf(errs.ErrKindInvalidInput, "not expects exactly one argument, got %d", len(e.Args))
		}
		return e.Args[0].Validate(columns)
	}

	if e.Column == "" {
		return errs.Newf(errs.ErrKindInvalidInput, "%s predicate without a column", e.Op)
	}
	if columns != nil && !slices.Contains(columns, e.Column) {
		return errs.Newf(errs.ErrKindInvalidInput, "filter references unknown column %q", e.Column)
	}

	switch e.Op {
	case OpIn:
		for _, v := range e.Values {
			if v == nil {
				return errs.Newf(errs.ErrKindInvalidInput, "in list for %q contains NULL, use is_null", e.Column)
			}
		}
	case OpIsNull, OpNotNull:
	default:
		if e.Value == nil {
			return errs.Newf(errs.ErrKindInvalidInput, "comparison with NULL on %q, use is_null", e.Column)
		}
	}
	return nil
}

// Columns returns the distinct columns referenced by the tree, sorted.
func (e Expr) Columns() []string {
	var out []string
	e.walk(func(n Expr) {
		if n.Column != "" {
			out = append(out, n.Column)
		}
	})
	slices.Sort(out)
	return slices.Compact(out)
}

// Rename returns a copy of the tree with column references rewritten by mapping.
func (e Expr) Rename(mapping map[string]string) Expr {
	out := e
	if to, ok := mapping[e.Column]; ok {
		out.Column = to
	}
	if len(e.Args) > 0 {
		out.Args = make([]Expr, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = a.Rename(mapping)
		}
	}
	return out
}

func (e Expr) walk(fn func(Expr)) {
	fn(e)
	for _, a := range e.Args {
		a.walk(fn)
	}
}

func (e Expr) String() string {
	switch e.Op {
	case OpAnd, OpOr:
		if len(e.Args) == 0 {
			return strings.ToUpper(string(e.Op)) + "()"
		}
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(string(e.Op))+" ") + ")"
	case OpNot:
		if len(e.Args) == 1 {
			return "NOT " + e.Args[0].String()
		}
	case OpIn:
		return fmt.Sprintf("%s IN %v", e.Column, e.Values)
	case OpIsNull:
		return e.Column + " IS NULL"
	case OpNotNull:
		return e.Column + " IS NOT NULL"
	}
	if sym, ok := opSymbols[e.Op]; ok {
		return fmt.Sprintf("%s %s %v", e.Column, sym, e.Value)
	}
	return fmt.Sprintf("<%s>", e.Op)
}
