package expr

import (
	"strings"
	"time"

	"github.com/koustreak/datamodel/internal/errs"
)

// truth is SQL's three-valued logic: comparisons involving NULL are unknown,
// and only rows evaluating to true survive a filter.
type truth int8

const (
	unknown truth = iota
	falsy
	truthy
)

func truthOf(b bool) truth {
	if b {
		return truthy
	}
	return falsy
}

// Eval evaluates the predicate against one row. get returns the row's value
// for a column (nil is NULL). The result is true only when the predicate is
// definitely true, matching SQL WHERE semantics.
func (e Expr) Eval(get func(column string) any) (bool, error) {
	t, err := e.eval(get)
	return t == truthy, err
}

func (e Expr) eval(get func(string) any) (truth, error) {
	switch e.Op {
	case OpAnd:
		res := truthy
		for _, a := range e.Args {
			t, err := a.eval(get)
			if err != nil {
				return unknown, err
			}
			if t == falsy {
				return falsy, nil
			}
			if t == unknown {
				res = unknown
			}
		}
		return res, nil

	case OpOr:
		res := falsy
		for _, a := range e.Args {
			t, err := a.eval(get)
			if err != nil {
				return unknown, err
			}
			if t == truthy {
				return truthy, nil
			}
			if t == unknown {
				res = unknown
			}
		}
		return res, nil

	case OpNot:
		if len(e.Args) != 1 {
			return unknown, errs.New(errs.ErrKindInvalidInput, "not expects exactly one argument")
		}
		t, err := e.Args[0].eval(get)
		switch t {
		case truthy:
			return falsy, err
		case falsy:
			return truthy, err
		}
		return unknown, err

	case OpIsNull:
		return truthOf(get(e.Column) == nil), nil

	case OpNotNull:
		return truthOf(get(e.Column) != nil), nil

	case OpIn:
		v := get(e.Column)
		if v == nil {
			return unknown, nil
		}
		for _, want := range e.Values {
			c, err := Compare(v, want)
			if err != nil {
				return unknown, err
			}
			if c == 0 {
				return truthy, nil
			}
		}
		return falsy, nil
	}

	v := get(e.Column)
	if v == nil || e.Value == nil {
		return unknown, nil
	}
	c, err := Compare(v, e.Value)
	if err != nil {
		return unknown, err
	}

	switch e.Op {
	case OpEq:
		return truthOf(c == 0), nil
	case OpNe:
		return truthOf(c != 0), nil
	case OpLt:
		return truthOf(c < 0), nil
	case OpLe:
		return truthOf(c <= 0), nil
	case OpGt:
		return truthOf(c > 0), nil
	case OpGe:
		return truthOf(c >= 0), nil
	}
	return unknown, errs.Newf(errs.ErrKindInvalidInput, "unsupported filter operator %q", e.Op)
}

// Compare orders two non-NULL values. All integer and float kinds compare
// numerically with each other; strings, bools and times compare within their
// own kind. Anything else is an InvalidInput error.
func Compare(a, b any) (int, error) {
	if ai, ok := asInt(a); ok {
		if bi, ok := asInt(b); ok {
			return order(ai, bi), nil
		}
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return order(af, bf), nil
		}
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return strings.Compare(string(av), string(bv)), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return order(boolInt(av), boolInt(bv)), nil
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), nil
		}
	}
	return 0, errs.Newf(errs.ErrKindInvalidInput, "cannot compare %T with %T", a, b)
}

func order[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
