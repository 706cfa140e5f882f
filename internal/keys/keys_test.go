package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/datamodel/internal/errs"
)

func shop(t *testing.T) Registry {
	t.Helper()
	r := Registry{}.
		WithPrimaryKey("customers", "id").
		WithPrimaryKey("products", "sku")
	r, err := r.WithForeignKey(ForeignKey{Child: "orders", Column: "customer_id", Parent: "customers"})
	require.NoError(t, err)
	r, err = r.WithForeignKey(ForeignKey{Child: "orders", Column: "sku", Parent: "products"})
	require.NoError(t, err)
	return r
}

func TestPrimaryKeys(t *testing.T) {
	r := shop(t)

	col, ok := r.PrimaryKey("customers")
	assert.True(t, ok)
	assert.Equal(t, "id", col)
	_, ok = r.PrimaryKey("orders")
	assert.False(t, ok)

	r2 := r.WithPrimaryKey("customers", "email")
	col, _ = r2.PrimaryKey("customers")
	assert.Equal(t, "email", col)
	col, _ = r.PrimaryKey("customers")
	assert.Equal(t, "id", col, "receiver is unchanged")

	assert.Equal(t, []PrimaryKey{{"products", "sku"}, {"customers", "email"}}, r2.PrimaryKeys())
	assert.Len(t, r.WithoutPrimaryKey("customers").PrimaryKeys(), 1)
	assert.Len(t, r.WithoutPrimaryKey("customers").ForeignKeys(), 2)
}

func TestForeignKeys(t *testing.T) {
	r := shop(t)

	_, err := r.WithForeignKey(ForeignKey{Child: "orders", Column: "sku", Parent: "products"})
	assert.True(t, errs.IsInvalidInput(err))

	assert.Len(t, r.ForeignKeysBetween("orders", "customers"), 1)
	assert.Empty(t, r.ForeignKeysBetween("customers", "orders"))
	assert.Len(t, r.EdgesBetween("customers", "orders"), 1)
	assert.Len(t, r.Referencing("products"), 1)

	r2, n := r.WithoutForeignKeys("orders", "", "customers")
	assert.Equal(t, 1, n)
	assert.Len(t, r2.ForeignKeys(), 1)
	assert.Len(t, r.ForeignKeys(), 2)

	_, n = r.WithoutForeignKeys("orders", "nope", "customers")
	assert.Equal(t, 0, n)
}

func TestJoinColumns(t *testing.T) {
	r := shop(t)

	self, other, err := r.JoinColumns("orders", "customers")
	require.NoError(t, err)
	assert.Equal(t, "customer_id", self)
	assert.Equal(t, "id", other)

	self, other, err = r.JoinColumns("customers", "orders")
	require.NoError(t, err)
	assert.Equal(t, "id", self)
	assert.Equal(t, "customer_id", other)

	_, _, err = r.JoinColumns("customers", "products")
	assert.True(t, errs.Is(err, errs.ErrKindTablesNotDirectlyRelated))

	twice, err := r.WithForeignKey(ForeignKey{Child: "customers", Column: "last_order", Parent: "orders"})
	require.NoError(t, err)
	twice = twice.WithPrimaryKey("orders", "order_id")
	_, _, err = twice.JoinColumns("orders", "customers")
	assert.True(t, errs.Is(err, errs.ErrKindAmbiguousRelationship))

	noPK := r.WithoutPrimaryKey("customers")
	_, _, err = noPK.JoinColumns("orders", "customers")
	assert.True(t, errs.Is(err, errs.ErrKindReferencedTableHasNoPrimaryKey))
}

func TestTableRewrites(t *testing.T) {
	r := shop(t)

	gone := r.WithoutTable("customers")
	_, ok := gone.PrimaryKey("customers")
	assert.False(t, ok)
	assert.Equal(t, []ForeignKey{{Child: "orders", Column: "sku", Parent: "products"}}, gone.ForeignKeys())

	renamed := r.Renamed("customers", "clients")
	col, ok := renamed.PrimaryKey("clients")
	assert.True(t, ok)
	assert.Equal(t, "id", col)
	assert.Len(t, renamed.ForeignKeysBetween("orders", "clients"), 1)

	only := r.Restrict([]string{"orders", "products"})
	assert.Equal(t, []PrimaryKey{{"products", "sku"}}, only.PrimaryKeys())
	assert.Len(t, only.ForeignKeys(), 1)
}
