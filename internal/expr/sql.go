package expr

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/koustreak/datamodel/internal/errs"
)

// ToSql compiles the tree into a squirrel.Sqlizer using ? placeholders.
// quote turns a column name into a safely quoted SQL identifier; it must
// include any table alias qualification the caller needs.
func (e Expr) ToSql(quote func(column string) string) (sq.Sqlizer, error) {
	switch e.Op {
	case OpAnd, OpOr:
		parts := make([]sq.Sqlizer, 0, len(e.Args))
		for _, a := range e.Args {
			s, err := a.ToSql(quote)
			if err != nil {
				return nil, err
			}
			parts = append(parts, s)
		}
		if e.Op == OpAnd {
			return sq.And(parts), nil
		}
		return sq.Or(parts), nil

	case OpNot:
		if len(e.Args) != 1 {
			return nil, errs.New(errs.ErrKindInvalidInput, "not expects exactly one argument")
		}
		inner, err := e.Args[0].ToSql(quote)
		if err != nil {
			return nil, err
		}
		s, args, err := inner.ToSql()
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "compile filter", err)
		}
		return sq.Expr("NOT ("+s+")", args...), nil
	}

	col := quote(e.Column)
	switch e.Op {
	case OpEq:
		return sq.Eq{col: e.Value}, nil
	case OpNe:
		return sq.NotEq{col: e.Value}, nil
	case OpLt:
		return sq.Lt{col: e.Value}, nil
	case OpLe:
		return sq.LtOrEq{col: e.Value}, nil
	case OpGt:
		return sq.Gt{col: e.Value}, nil
	case OpGe:
		return sq.GtOrEq{col: e.Value}, nil
	case OpIn:
		return sq.Eq{col: e.Values}, nil
	case OpIsNull:
		return sq.Eq{col: nil}, nil
	case OpNotNull:
		return sq.NotEq{col: nil}, nil
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported filter operator %q", e.Op)
}
