package model

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/backend/memory"
	"github.com/koustreak/datamodel/internal/errs"
	"github.com/koustreak/datamodel/internal/expr"
	"github.com/koustreak/datamodel/internal/flatten"
	"github.com/koustreak/datamodel/internal/keys"
	"github.com/koustreak/datamodel/internal/logger"
)

var ctx = context.Background()

type fixture struct {
	be        *memory.Backend
	customers *memory.Table
	orders    *memory.Table
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	be := memory.New("shop")
	customers, err := be.NewTable([]string{"id", "name"}, [][]any{
		{1, "ann"}, {2, "bob"}, {3, "cid"}, {4, "dan"}, {5, "eve"},
	})
	require.NoError(t, err)
	orders, err := be.NewTable([]string{"order_id", "customer_id", "amount"}, [][]any{
		{1, 1, 10.0}, {2, 1, 20.0}, {3, 2, 5.0}, {4, 2, 7.5}, {5, 3, 1.0},
		{6, 3, 2.0}, {7, 3, 3.0}, {8, 4, 4.0}, {9, 4, 8.0}, {10, 5, 9.0},
	})
	require.NoError(t, err)
	return fixture{be: be, customers: customers, orders: orders}
}

// keyed returns customers <- orders with both keys set.
func keyed(t *testing.T, opts ...Option) (*Model, fixture) {
	t.Helper()
	f := newFixture(t)
	dm, err := New(opts...).AddTable("customers", f.customers)
	require.NoError(t, err)
	dm, err = dm.AddTable("orders", f.orders)
	require.NoError(t, err)
	dm, err = dm.AddPrimaryKey(ctx, "customers", "id", PKOptions{Check: true})
	require.NoError(t, err)
	dm, err = dm.AddPrimaryKey(ctx, "orders", "order_id", PKOptions{})
	require.NoError(t, err)
	dm, err = dm.AddForeignKey(ctx, "orders", "customer_id", "customers", FKOptions{Check: true})
	require.NoError(t, err)
	return dm, f
}

func column(t *testing.T, tbl backend.Table, name string) []any {
	t.Helper()
	f, err := tbl.Backend().Collect(ctx, tbl)
	require.NoError(t, err)
	return f.Column(name)
}

func count(t *testing.T, tbl backend.Table) int64 {
	t.Helper()
	n, err := tbl.Backend().Count(ctx, tbl)
	require.NoError(t, err)
	return n
}

func TestCascadeCorrectness(t *testing.T) {
	dm, _ := keyed(t)
	filtered, err := dm.Filter("customers", expr.In("id", 1, 2))
	require.NoError(t, err)

	orders, err := filtered.Table(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []any{1, 1, 2, 2}, column(t, orders, "customer_id"))

	again, err := filtered.Table(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, column(t, orders, "order_id"), column(t, again, "order_id"))

	assert.Equal(t, 0, dm.Filters().Len(), "Filter leaves the receiver untouched")
}

func TestNoFiltersReturnsStoredTables(t *testing.T) {
	dm, f := keyed(t)

	orders, err := dm.Table(ctx, "orders")
	require.NoError(t, err)
	assert.Same(t, f.orders, orders)

	customers, err := dm.Table(ctx, "customers")
	require.NoError(t, err)
	assert.Same(t, f.customers, customers)
}

func TestApplyFilters(t *testing.T) {
	dm, _ := keyed(t)
	filtered, err := dm.Filter("orders", expr.Ge("amount", 9.0))
	require.NoError(t, err)

	applied, err := filtered.ApplyFilters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied.Filters().Len())

	customers, _ := applied.RawTable("customers")
	assert.Equal(t, []any{1, 5}, column(t, customers, "id"))
	raw, _ := filtered.RawTable("customers")
	assert.Equal(t, int64(5), count(t, raw))

	same, err := dm.ApplyFilters(ctx)
	require.NoError(t, err)
	assert.Same(t, dm, same)
}

func TestFilterValidation(t *testing.T) {
	dm, _ := keyed(t)

	_, err := dm.Filter("ghost", expr.Eq("id", 1))
	assert.True(t, errs.Is(err, errs.ErrKindUnknownTable))
	_, err = dm.Filter("customers", expr.Eq("nope", 1))
	assert.True(t, errs.IsInvalidInput(err))
}

func TestTableCRUD(t *testing.T) {
	dm, f := keyed(t)

	_, err := dm.AddTable("orders", f.orders)
	assert.True(t, errs.Is(err, errs.ErrKindDuplicateTableName))
	_, err = dm.AddTable("", f.orders)
	assert.True(t, errs.IsInvalidInput(err))

	filtered, err := dm.Filter("customers", expr.Eq("id", 1))
	require.NoError(t, err)

	renamed, err := filtered.RenameTable("customers", "clients")
	require.NoError(t, err)
	assert.Equal(t, []string{"clients", "orders"}, renamed.TableNames())
	assert.True(t, renamed.HasForeignKey("orders", "clients"))
	assert.Equal(t, []string{"clients"}, renamed.Filters().Tables())
	assert.Equal(t, []string{"customers", "orders"}, filtered.TableNames())
	_, err = renamed.RenameTable("clients", "orders")
	assert.True(t, errs.Is(err, errs.ErrKindDuplicateTableName))

	removed, err := filtered.RemoveTable("customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, removed.TableNames())
	assert.Empty(t, removed.ForeignKeys())
	assert.Equal(t, 0, removed.Filters().Len())
	assert.Equal(t, 2, filtered.Len())
	_, err = removed.RemoveTable("customers")
	assert.True(t, errs.Is(err, errs.ErrKindUnknownTable))

	selected, err := filtered.SelectTables("orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, selected.TableNames())
	assert.Empty(t, selected.ForeignKeys())
	assert.Equal(t, []keys.PrimaryKey{{Table: "orders", Column: "order_id"}}, selected.PrimaryKeys())
	assert.Equal(t, 0, selected.Filters().Len())
	_, err = filtered.SelectTables("orders", "orders")
	assert.True(t, errs.Is(err, errs.ErrKindDuplicateTableName))
}

func TestPrimaryKeys(t *testing.T) {
	dm, _ := keyed(t)

	_, err := dm.AddPrimaryKey(ctx, "customers", "name", PKOptions{})
	assert.True(t, errs.Is(err, errs.ErrKindPrimaryKeyAlreadySet))

	forced, err := dm.AddPrimaryKey(ctx, "customers", "name", PKOptions{Force: true, Check: true})
	require.NoError(t, err)
	pk, _ := forced.PrimaryKey("customers")
	assert.Equal(t, "name", pk)

	_, err = dm.AddPrimaryKey(ctx, "orders", "customer_id", PKOptions{Force: true, Check: true})
	assert.True(t, errs.Is(err, errs.ErrKindKeyNotUnique))
	_, err = dm.AddPrimaryKey(ctx, "orders", "missing", PKOptions{Force: true})
	assert.True(t, errs.IsInvalidInput(err))

	_, err = dm.RemovePrimaryKey(ctx, "customers", false)
	assert.True(t, errs.Is(err, errs.ErrKindPrimaryKeyRemovalBlockedByForeignKeys))

	cascaded, err := dm.RemovePrimaryKey(ctx, "customers", true)
	require.NoError(t, err)
	assert.False(t, cascaded.HasPrimaryKey("customers"))
	assert.Empty(t, cascaded.ForeignKeys())
	assert.True(t, dm.HasPrimaryKey("customers"))

	_, err = cascaded.RemovePrimaryKey(ctx, "customers", false)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestForeignKeyGuards(t *testing.T) {
	f := newFixture(t)
	dm, err := New().AddTable("customers", f.customers)
	require.NoError(t, err)
	dm, err = dm.AddTable("orders", f.orders)
	require.NoError(t, err)
	dm, err = dm.Filter("customers", expr.Eq("id", 1))
	require.NoError(t, err)

	_, err = dm.AddForeignKey(ctx, "orders", "customer_id", "customers", FKOptions{})
	assert.True(t, errs.Is(err, errs.ErrKindReferencedTableHasNoPrimaryKey))

	// The failed mutation left the snapshot as it was: no edge, so the
	// customers filter does not reach orders.
	orders, err := dm.Table(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(10), count(t, orders))
	assert.Empty(t, dm.ForeignKeys())

	keyedDM, err := dm.AddPrimaryKey(ctx, "customers", "id", PKOptions{})
	require.NoError(t, err)
	_, err = keyedDM.AddForeignKey(ctx, "orders", "nope", "customers", FKOptions{})
	assert.True(t, errs.Is(err, errs.ErrKindForeignKeyColumnMissing))
	_, err = keyedDM.AddForeignKey(ctx, "orders", "customer_id", "ghost", FKOptions{})
	assert.True(t, errs.Is(err, errs.ErrKindUnknownTable))

	withFK, err := keyedDM.AddForeignKey(ctx, "orders", "customer_id", "customers", FKOptions{})
	require.NoError(t, err)
	_, err = withFK.AddForeignKey(ctx, "orders", "customer_id", "customers", FKOptions{})
	assert.True(t, errs.IsInvalidInput(err))
	assert.Equal(t, []string{"customer_id"}, withFK.ForeignKeyColumns("orders", "customers"))

	orders, err = withFK.Table(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count(t, orders))
}

func TestForeignKeyChecks(t *testing.T) {
	f := newFixture(t)
	extra, err := f.be.NewTable([]string{"order_id", "customer_id"}, [][]any{{1, 1}, {2, 9}})
	require.NoError(t, err)
	other, err := memory.New("elsewhere").NewTable([]string{"id"}, [][]any{{1}})
	require.NoError(t, err)

	dm, err := New().AddTable("customers", f.customers)
	require.NoError(t, err)
	dm, err = dm.AddTable("extra", extra)
	require.NoError(t, err)
	dm, err = dm.AddTable("other", other)
	require.NoError(t, err)
	dm, err = dm.AddPrimaryKey(ctx, "customers", "id", PKOptions{})
	require.NoError(t, err)
	dm, err = dm.AddPrimaryKey(ctx, "other", "id", PKOptions{})
	require.NoError(t, err)

	_, err = dm.AddForeignKey(ctx, "extra", "customer_id", "customers", FKOptions{Check: true})
	assert.True(t, errs.Is(err, errs.ErrKindValueSetNotSubset))
	assert.Contains(t, err.Error(), "9")

	_, err = dm.AddForeignKey(ctx, "extra", "customer_id", "other", FKOptions{})
	assert.True(t, errs.Is(err, errs.ErrKindBackendMismatch))

	unchecked, err := dm.AddForeignKey(ctx, "extra", "customer_id", "customers", FKOptions{})
	require.NoError(t, err)
	_, err = unchecked.RemoveForeignKey(ctx, "extra", "order_id", "customers")
	assert.True(t, errs.Is(err, errs.ErrKindNotAForeignKeyColumn))
	_, err = unchecked.RemoveForeignKey(ctx, "customers", "", "extra")
	assert.True(t, errs.Is(err, errs.ErrKindNotAForeignKeyColumn))

	removed, err := unchecked.RemoveForeignKey(ctx, "extra", "", "customers")
	require.NoError(t, err)
	assert.False(t, removed.HasForeignKey("extra", "customers"))
	assert.True(t, unchecked.HasForeignKey("extra", "customers"))
}

func TestFlattenRowCountLaws(t *testing.T) {
	dm, _ := keyed(t)

	left, err := dm.Flatten(ctx, "orders", flatten.Options{Join: backend.JoinLeft})
	require.NoError(t, err)
	assert.Equal(t, int64(10), count(t, left))
	assert.Equal(t, []string{"order_id", "customer_id", "amount", "name"}, left.Columns())

	anti, err := dm.Flatten(ctx, "orders", flatten.Options{Join: backend.JoinAnti, Tables: []string{"customers"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count(t, anti))

	semi, err := dm.Flatten(ctx, "orders", flatten.Options{Join: backend.JoinSemi, Tables: []string{"customers"}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), count(t, semi))
}

func TestFlattenRightJoinGate(t *testing.T) {
	dm, _ := keyed(t)
	filtered, err := dm.Filter("customers", expr.In("id", 1, 2))
	require.NoError(t, err)

	_, err = filtered.Flatten(ctx, "orders", flatten.Options{Join: backend.JoinRight})
	assert.True(t, errs.Is(err, errs.ErrKindFiltersMustBeAppliedFirst))

	applied, err := filtered.ApplyFilters(ctx)
	require.NoError(t, err)
	right, err := applied.Flatten(ctx, "orders", flatten.Options{Join: backend.JoinRight})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count(t, right))
}

func TestFlattenCycleRejectedCascadeSucceeds(t *testing.T) {
	be := memory.New("cycle")
	dm := New()
	for _, def := range []struct{ name, pk, fk string }{
		{"A", "a", "b_id"}, {"B", "b", "c_id"}, {"C", "c", "a_id"},
	} {
		tbl, err := be.NewTable([]string{def.pk, def.fk}, [][]any{{1, 1}, {2, 2}})
		require.NoError(t, err)
		dm, err = dm.AddTable(def.name, tbl)
		require.NoError(t, err)
		dm, err = dm.AddPrimaryKey(ctx, def.name, def.pk, PKOptions{})
		require.NoError(t, err)
	}
	var err error
	dm, err = dm.AddForeignKey(ctx, "A", "b_id", "B", FKOptions{})
	require.NoError(t, err)
	dm, err = dm.AddForeignKey(ctx, "B", "c_id", "C", FKOptions{})
	require.NoError(t, err)
	dm, err = dm.AddForeignKey(ctx, "C", "a_id", "A", FKOptions{})
	require.NoError(t, err)

	for _, start := range []string{"A", "B", "C"} {
		_, err := dm.Flatten(ctx, start, flatten.Options{Join: backend.JoinLeft})
		assert.True(t, errs.Is(err, errs.ErrKindRelationshipCycleUnsupported), start)
	}

	dm, err = dm.Filter("A", expr.Eq("a", 1))
	require.NoError(t, err)
	b, err := dm.Table(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, []any{1}, column(t, b, "b"))
}

func TestJoinToTable(t *testing.T) {
	dm, _ := keyed(t)

	fromParent, err := dm.JoinToTable(ctx, "customers", "orders", backend.JoinLeft)
	require.NoError(t, err)
	fromChild, err := dm.JoinToTable(ctx, "orders", "customers", backend.JoinLeft)
	require.NoError(t, err)
	assert.Equal(t, fromChild.Columns(), fromParent.Columns())
	assert.Equal(t, "order_id", fromParent.Columns()[0])

	_, err = dm.JoinToTable(ctx, "orders", "orders", backend.JoinLeft)
	assert.True(t, errs.Is(err, errs.ErrKindTablesNotDirectlyRelated))
	_, err = dm.JoinToTable(ctx, "orders", "customers", backend.JoinNest)
	assert.True(t, errs.Is(err, errs.ErrKindUnsupportedJoinKind))
}

func TestPrimaryKeyCandidates(t *testing.T) {
	dm, _ := keyed(t)

	cands, err := dm.PrimaryKeyCandidates(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{Column: "order_id", Candidate: true},
		{Column: "customer_id", Why: "has 5 duplicate values"},
		{Column: "amount", Candidate: true},
	}, cands)

	filtered, err := dm.Filter("customers", expr.Eq("id", 1))
	require.NoError(t, err)
	_, err = filtered.PrimaryKeyCandidates(ctx, "orders")
	assert.True(t, errs.Is(err, errs.ErrKindFiltersMustBeAppliedFirst))
}

func TestChecks(t *testing.T) {
	dm, f := keyed(t)

	assert.NoError(t, dm.CheckKey(ctx, "customers", "id"))
	assert.True(t, errs.Is(dm.CheckKey(ctx, "orders", "customer_id"), errs.ErrKindKeyNotUnique))
	assert.NoError(t, dm.CheckKey(ctx, "orders", "order_id", "customer_id"))

	assert.NoError(t, dm.CheckSubset(ctx, "orders", "customer_id", "customers", "id"))
	assert.NoError(t, dm.CheckSetEquality(ctx, "orders", "customer_id", "customers", "id"))

	lonely, err := f.be.NewTable([]string{"id", "name"}, [][]any{{6, "fay"}})
	require.NoError(t, err)
	more, err := dm.RemoveTable("customers")
	require.NoError(t, err)
	all, err := f.be.NewTable([]string{"id", "name"}, [][]any{{1, "a"}, {2, "b"}, {3, "c"}, {4, "d"}, {5, "e"}, {6, "f"}})
	require.NoError(t, err)
	more, err = more.AddTable("customers", all)
	require.NoError(t, err)
	more, err = more.AddTable("lonely", lonely)
	require.NoError(t, err)

	err = more.CheckSetEquality(ctx, "orders", "customer_id", "customers", "id")
	assert.True(t, errs.Is(err, errs.ErrKindValueSetsNotEqual))
	err = more.CheckSubset(ctx, "lonely", "id", "orders", "customer_id")
	assert.True(t, errs.Is(err, errs.ErrKindValueSetNotSubset))
}

func TestCheckCardinality(t *testing.T) {
	dm, _ := keyed(t)

	tests := []struct {
		card Cardinality
		kind errs.ErrKind
	}{
		{ZeroToMany, 0},
		{OneToMany, 0},
		{ZeroToOne, errs.ErrKindCardinalityNotInjective},
		{OneToOne, errs.ErrKindCardinalityNotInjective},
	}
	for _, tt := range tests {
		t.Run(tt.card.String(), func(t *testing.T) {
			err := dm.CheckCardinality(ctx, "customers", "id", "orders", "customer_id", tt.card)
			if tt.kind == 0 {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errs.Is(err, tt.kind), "got %v", err)
		})
	}

	// Only customer 5 and its single order survive the cascade.
	few, err := dm.Filter("orders", expr.Eq("customer_id", 5))
	require.NoError(t, err)
	applied, err := few.ApplyFilters(ctx)
	require.NoError(t, err)
	assert.NoError(t, applied.CheckCardinality(ctx, "customers", "id", "orders", "customer_id", OneToOne))

	unlinked, err := dm.RemoveForeignKey(ctx, "orders", "customer_id", "customers")
	require.NoError(t, err)
	unlinked, err = unlinked.Filter("orders", expr.In("customer_id", 1, 2))
	require.NoError(t, err)
	err = unlinked.CheckCardinality(ctx, "customers", "id", "orders", "customer_id", OneToMany)
	assert.True(t, errs.Is(err, errs.ErrKindCardinalityNotSurjective), "got %v", err)
	err = unlinked.CheckCardinality(ctx, "orders", "customer_id", "customers", "id", ZeroToMany)
	assert.True(t, errs.Is(err, errs.ErrKindKeyNotUnique), "got %v", err)
}

func TestLogsOrderDependentRightJoin(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&logger.Config{Level: "debug", Format: "json", Output: &buf})

	f := newFixture(t)
	regions, err := f.be.NewTable([]string{"region_id", "label"}, [][]any{{1, "north"}})
	require.NoError(t, err)
	withRegion, err := f.be.NewTable([]string{"order_id", "customer_id", "region_id"}, [][]any{{1, 1, 1}})
	require.NoError(t, err)

	dm, err := New(WithLogger(log)).AddTable("customers", f.customers)
	require.NoError(t, err)
	dm, err = dm.AddTable("regions", regions)
	require.NoError(t, err)
	dm, err = dm.AddTable("orders", withRegion)
	require.NoError(t, err)
	dm, err = dm.AddPrimaryKey(ctx, "customers", "id", PKOptions{})
	require.NoError(t, err)
	dm, err = dm.AddPrimaryKey(ctx, "regions", "region_id", PKOptions{})
	require.NoError(t, err)
	dm, err = dm.AddForeignKey(ctx, "orders", "customer_id", "customers", FKOptions{})
	require.NoError(t, err)
	dm, err = dm.AddForeignKey(ctx, "orders", "region_id", "regions", FKOptions{})
	require.NoError(t, err)

	_, err = dm.Flatten(ctx, "orders", flatten.Options{Join: backend.JoinRight})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "depends on join order")
	assert.Contains(t, buf.String(), "foreign key added")
}

func TestKeyChecksRejectNulls(t *testing.T) {
	be := memory.New("nulls")
	tags, err := be.NewTable([]string{"id", "label"}, [][]any{{1, "a"}, {nil, "b"}})
	require.NoError(t, err)
	dm, err := New().AddTable("tags", tags)
	require.NoError(t, err)

	_, err = dm.AddPrimaryKey(ctx, "tags", "id", PKOptions{Check: true})
	assert.True(t, errs.Is(err, errs.ErrKindKeyNotUnique), "got %v", err)

	err = dm.CheckKey(ctx, "tags", "id")
	assert.True(t, errs.Is(err, errs.ErrKindKeyNotUnique), "got %v", err)
	err = dm.CheckKey(ctx, "tags", "label", "id")
	assert.True(t, errs.Is(err, errs.ErrKindKeyNotUnique), "got %v", err)
	assert.NoError(t, dm.CheckKey(ctx, "tags", "label"))

	cands, err := dm.PrimaryKeyCandidates(ctx, "tags")
	require.NoError(t, err)
	assert.Equal(t, Candidate{Column: "id", Why: "has 1 missing values"}, cands[0])

	unchecked, err := dm.AddPrimaryKey(ctx, "tags", "id", PKOptions{})
	require.NoError(t, err)
	assert.True(t, unchecked.HasPrimaryKey("tags"))
}

func TestRemovalsLogToContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logCtx := logger.New(&logger.Config{Level: "debug", Format: "json", Output: &buf}).WithContext(ctx)

	dm, _ := keyed(t)
	dm, err := dm.RemoveForeignKey(logCtx, "orders", "customer_id", "customers")
	require.NoError(t, err)
	_, err = dm.RemovePrimaryKey(logCtx, "customers", false)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "foreign key removed")
	assert.Contains(t, buf.String(), "primary key removed")
}
