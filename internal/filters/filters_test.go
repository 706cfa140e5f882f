package filters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koustreak/datamodel/internal/expr"
)

func TestStore(t *testing.T) {
	var s Store
	assert.Equal(t, 0, s.Len())
	_, ok := s.Predicate("orders")
	assert.False(t, ok)

	s1 := s.Add("orders", expr.Gt("amount", 5))
	s2 := s1.
		Add("customers", expr.Eq("name", "ann")).
		Add("orders", expr.NotNull("customer_id"))

	assert.Equal(t, 1, s1.Len(), "Add never mutates the receiver")
	assert.Equal(t, 3, s2.Len())
	assert.Equal(t, []string{"orders", "customers"}, s2.Tables())
	assert.True(t, s2.Has("customers"))
	assert.False(t, s2.Has("products"))

	pred, ok := s2.Predicate("orders")
	assert.True(t, ok)
	assert.Equal(t, expr.And(expr.Gt("amount", 5), expr.NotNull("customer_id")), pred)

	single, _ := s1.Predicate("orders")
	assert.Equal(t, expr.Gt("amount", 5), single)
}

func TestStore_TableRewrites(t *testing.T) {
	s := Store{}.
		Add("orders", expr.Gt("amount", 5)).
		Add("customers", expr.Eq("name", "ann"))

	renamed := s.Renamed("customers", "clients")
	assert.Equal(t, []string{"orders", "clients"}, renamed.Tables())
	assert.Equal(t, []string{"orders", "customers"}, s.Tables())

	assert.Equal(t, []string{"customers"}, s.WithoutTable("orders").Tables())
	assert.Equal(t, 0, s.Clear().Len())
	assert.Len(t, s.All(), 2)
}
