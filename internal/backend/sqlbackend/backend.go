// Package sqlbackend implements backend.Backend on top of a SQL database.
//
// Table handles are lazy: every relational operation wraps the previous
// statement as a derived table, so a whole cascade or flatten compiles into
// one statement. Only Count, CountDistinct, SetDifference and Collect
// round-trip to the database.
//
//	conn, err := postgres.New(ctx, sqlbackend.DefaultConfig(sqlbackend.DriverPostgres, dsn))
//	be := sqlbackend.New(conn, sqlbackend.DialectPostgres, "warehouse")
//	flights, err := be.Table(ctx, "flights")
package sqlbackend

import (
	"context"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/expr"
)

// Backend is a SQL executor bound to one connection pool.
type Backend struct {
	conn         Conn
	dialect      Dialect
	name         string
	queryTimeout time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithQueryTimeout bounds every database round trip.
func WithQueryTimeout(d time.Duration) Option {
	return func(b *Backend) { b.queryTimeout = d }
}

// New creates an executor over conn.
func New(conn Conn, dialect Dialect, name string, opts ...Option) *Backend {
	b := &Backend{conn: conn, dialect: dialect, name: name}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return b.name }

// Table is a lazy SQL relation.
type Table struct {
	owner   *Backend
	query   sq.SelectBuilder
	columns []string
}

func (t *Table) Columns() []string        { return slices.Clone(t.columns) }
func (t *Table) Backend() backend.Backend { return t.owner }

// ToSql renders the relation with the owner's placeholder format.
func (t *Table) ToSql() (string, []any, error) {
	return t.query.PlaceholderFormat(t.owner.dialect.placeholders()).ToSql()
}

// Table opens a handle on a stored table. Its columns are discovered with a
// zero-row query.
func (b *Backend) Table(ctx context.Context, name string) (*Table, error) {
	probe := sq.Select("*").From(b.dialect.quoteIdent(name)).Where("1=0")
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	rows, err := b.query(ctx, probe)
	if err != nil {
		return nil, err
	}
	columns, err := rows.Columns()
	rows.Close()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	q := sq.Select(b.project("", columns)...).From(b.dialect.quoteIdent(name))
	return b.table(q, columns), nil
}

// Query wraps a SELECT statement as a table with the given result columns.
// The statement is embedded verbatim as a derived table, so it must not
// carry placeholders of its own.
func (b *Backend) Query(sql string, columns ...string) (*Table, error) {
	if strings.TrimSpace(sql) == "" || len(columns) == 0 {
		return nil, errs.New(errs.ErrKindInvalidInput, "a query needs a statement and its columns")
	}
	if dup := lo.FindDuplicates(columns); len(dup) > 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "duplicate query columns %v", dup)
	}
	q := sq.Select(b.project("q", columns)...).From("(" + sql + ") AS q")
	return b.table(q, slices.Clone(columns)), nil
}

func (b *Backend) table(q sq.SelectBuilder, columns []string) *Table {
	return &Table{owner: b, query: q, columns: columns}
}

func (b *Backend) own(t backend.Table) (*Table, error) {
	st, ok := t.(*Table)
	if !ok || st.owner != b {
		return nil, errs.Newf(errs.ErrKindBackendMismatch, "table is not owned by sql backend %q", b.name)
	}
	return st, nil
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

func (b *Backend) Filter(_ context.Context, t backend.Table, pred expr.Expr) (backend.Table, error) {
	src, err := b.own(t)
	if err != nil {
		return nil, err
	}
	if err := pred.Validate(src.columns); err != nil {
		return nil, err
	}
	cond, err := pred.ToSql(b.dialect.qualify("t"))
	if err != nil {
		return nil, err
	}
	q := sq.Select(b.project("t", src.columns)...).FromSelect(src.query, "t").Where(cond)
	return b.table(q, src.columns), nil
}

func (b *Backend) SemiJoin(_ context.Context, t, other backend.Table, on []backend.On) (backend.Table, error) {
	return b.exists(backend.JoinSemi, t, other, on)
}

// exists compiles semi ("EXISTS") and anti ("NOT EXISTS") joins.
func (b *Backend) exists(kind backend.JoinKind, l, r backend.Table, on []backend.On) (backend.Table, error) {
	left, right, err := b.pair(l, r)
	if err != nil {
		return nil, err
	}
	if _, err := backend.JoinColumns(kind, left.columns, right.columns, on); err != nil {
		return nil, err
	}

	keyword := "EXISTS"
	if kind == backend.JoinAnti {
		keyword = "NOT EXISTS"
	}
	cond := sq.ConcatExpr(keyword+" (SELECT 1 FROM (", right.query, ") AS r WHERE "+b.onClause(on)+")")
	q := sq.Select(b.project("l", left.columns)...).FromSelect(left.query, "l").Where(cond)
	return b.table(q, left.columns), nil
}

var joinKeywords = map[backend.JoinKind]string{
	backend.JoinInner: "JOIN",
	backend.JoinLeft:  "LEFT JOIN",
	backend.JoinRight: "RIGHT JOIN",
	backend.JoinFull:  "FULL JOIN",
}

func (b *Backend) Join(ctx context.Context, kind backend.JoinKind, l, r backend.Table, on []backend.On) (backend.Table, error) {
	switch kind {
	case backend.JoinSemi, backend.JoinAnti:
		return b.exists(kind, l, r, on)
	}
	keyword, ok := joinKeywords[kind]
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnsupportedJoinKind, "sql backend cannot perform a %s join", kind)
	}

	left, right, err := b.pair(l, r)
	if err != nil {
		return nil, err
	}
	columns, err := backend.JoinColumns(kind, left.columns, right.columns, on)
	if err != nil {
		return nil, err
	}

	exprs := b.joinProjection(kind, left.columns, right.columns, on)
	if kind == backend.JoinFull && !b.dialect.supportsFullJoin() {
		// FULL JOIN = LEFT JOIN ∪ right rows without a left match.
		unmatched := sq.And{}
		for _, o := range on {
			unmatched = append(unmatched, sq.Eq{b.dialect.qualify("l")(o.Left): nil})
		}
		lq := b.joinSelect("LEFT JOIN", exprs, left, right, on)
		rq := b.joinSelect("RIGHT JOIN", exprs, left, right, on).Where(unmatched)
		return b.table(lq.SuffixExpr(sq.ConcatExpr("UNION ALL ", rq)), columns), nil
	}
	return b.table(b.joinSelect(keyword, exprs, left, right, on), columns), nil
}

func (b *Backend) joinSelect(keyword string, exprs []string, left, right *Table, on []backend.On) sq.SelectBuilder {
	return sq.Select(exprs...).
		FromSelect(left.query, "l").
		JoinClause(sq.ConcatExpr(keyword+" (", right.query, ") AS r ON "+b.onClause(on)))
}

// joinProjection lists the output expressions of a column-adding join.
func (b *Backend) joinProjection(kind backend.JoinKind, left, right []string, on []backend.On) []string {
	l, r := b.dialect.qualify("l"), b.dialect.qualify("r")
	rightOf := make(map[string]string, len(on))
	dropped := make(map[string]bool, len(on))
	for _, o := range on {
		rightOf[o.Left] = o.Right
		dropped[o.Right] = true
	}

	exprs := make([]string, 0, len(left)+len(right))
	for _, c := range left {
		rc, isKey := rightOf[c]
		src := l(c)
		switch {
		case isKey && kind == backend.JoinRight:
			src = r(rc)
		case isKey && kind == backend.JoinFull:
			src = "COALESCE(" + l(c) + ", " + r(rc) + ")"
		}
		exprs = append(exprs, src+" AS "+b.dialect.quoteIdent(c))
	}
	for _, c := range right {
		if !dropped[c] {
			exprs = append(exprs, r(c)+" AS "+b.dialect.quoteIdent(c))
		}
	}
	return exprs
}

func (b *Backend) onClause(on []backend.On) string {
	l, r := b.dialect.qualify("l"), b.dialect.qualify("r")
	parts := make([]string, len(on))
	for i, o := range on {
		parts[i] = l(o.Left) + " = " + r(o.Right)
	}
	return strings.Join(parts, " AND ")
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

	q := b.dialect.qualify("t")
	columns := make([]string, len(src.columns))
	exprs := make([]string, len(src.columns))
	seen := make(map[string]bool, len(src.columns))
	for i, c := range src.columns {
		to := c
		if m, ok := mapping[c]; ok {
			to = m
		}
		if seen[to] {
			return nil, errs.Newf(errs.ErrKindInvalidInput, "rename produces duplicate column %q", to)
		}
		seen[to] = true
		columns[i] = to
		exprs[i] = q(c) + " AS " + b.dialect.quoteIdent(to)
	}
	return b.table(sq.Select(exprs...).FromSelect(src.query, "t"), columns), nil
}

func (b *Backend) Count(ctx context.Context, t backend.Table) (int64, error) {
	src, err := b.own(t)
	if err != nil {
		return 0, err
	}
	return b.scalar(ctx, sq.Select("COUNT(*)").FromSelect(src.query, "t"))
}

func (b *Backend) CountDistinct(ctx context.Context, t backend.Table, columns []string) (int64, error) {
	src, err := b.own(t)
	if err != nil {
		return 0, err
	}
	for _, c := range columns {
		if !slices.Contains(src.columns, c) {
			return 0, errs.Newf(errs.ErrKindInvalidInput, "unknown column %q", c)
		}
	}
	distinct := sq.Select(b.project("t", columns)...).Distinct().FromSelect(src.query, "t")
	return b.scalar(ctx, sq.Select("COUNT(*)").FromSelect(distinct, "d"))
}

func (b *Backend) SetDifference(ctx context.Context, a backend.Table, colA string, o backend.Table, colB string) ([]any, error) {
	left, right, err := b.pair(a, o)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(left.columns, colA) || !slices.Contains(right.columns, colB) {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown column in set difference %q / %q", colA, colB)
	}

	qa := b.dialect.qualify("l")(colA)
	qb := b.dialect.qualify("r")(colB)
	q := sq.Select(qa).Distinct().
		FromSelect(left.query, "l").
		Where(sq.NotEq{qa: nil}).
		Where(sq.ConcatExpr("NOT EXISTS (SELECT 1 FROM (", right.query, ") AS r WHERE "+qb+" = "+qa+")"))

	frame, err := b.collect(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, frame.Len())
	for _, r := range frame.Rows {
		out = append(out, r[0])
	}
	return out, nil
}

func (b *Backend) Collect(ctx context.Context, t backend.Table) (*backend.Frame, error) {
	src, err := b.own(t)
	if err != nil {
		return nil, err
	}
	frame, err := b.collect(ctx, src.query)
	if err != nil {
		return nil, err
	}
	// Drivers report the aliases we chose; keep the handle's spelling.
	frame.Columns = slices.Clone(src.columns)
	return frame, nil
}

// --- execution ---

func (b *Backend) project(alias string, columns []string) []string {
	quote := b.dialect.quoteIdent
	if alias != "" {
		quote = b.dialect.qualify(alias)
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = quote(c)
		if alias != "" {
			out[i] += " AS " + b.dialect.quoteIdent(c)
		}
	}
	return out
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.queryTimeout > 0 {
		return context.WithTimeout(ctx, b.queryTimeout)
	}
	return ctx, func() {}
}

func (b *Backend) render(q sq.SelectBuilder) (string, []any, error) {
	s, args, err := q.PlaceholderFormat(b.dialect.placeholders()).ToSql()
	if err != nil {
		return "", nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to build query", err)
	}
	return s, args, nil
}

func (b *Backend) query(ctx context.Context, q sq.SelectBuilder) (Rows, error) {
	s, args, err := b.render(q)
	if err != nil {
		return nil, err
	}
	return b.conn.Query(ctx, s, args...)
}

func (b *Backend) collect(ctx context.Context, q sq.SelectBuilder) (*backend.Frame, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	rows, err := b.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return scanFrame(rows)
}

func (b *Backend) scalar(ctx context.Context, q sq.SelectBuilder) (int64, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	s, args, err := b.render(q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := b.conn.QueryRow(ctx, s, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
