package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/koustreak/datamodel/internal/backend"
	"github.com/koustreak/datamodel/internal/backend/sqlbackend"
	"github.com/koustreak/datamodel/internal/expr"
)

const schema = `
CREATE TABLE customers (id INT PRIMARY KEY, name TEXT);
CREATE TABLE orders (order_id INT PRIMARY KEY, customer_id INT, amount FLOAT8);
INSERT INTO customers VALUES (1, 'ann'), (2, 'bob'), (3, 'cid');
INSERT INTO orders VALUES (10, 1, 5.0), (11, 1, 7.5), (12, 2, 1.0), (13, 4, 2.0), (14, NULL, 3.0);
`

func startPostgres(t *testing.T) string {
	t.Helper()
	if os.Getenv("DATAMODEL_INTEGRATION") != "1" {
		t.Skip("set DATAMODEL_INTEGRATION=1 to run container tests")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("shop"),
		tcpostgres.WithUsername("shop"),
		tcpostgres.WithPassword("shop"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestIntegration_Operations(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	be, d, err := Open(ctx, sqlbackend.DefaultConfig(sqlbackend.DriverPostgres, dsn), "shop")
	require.NoError(t, err)
	defer d.Close()

	_, err = d.pool.Exec(ctx, schema)
	require.NoError(t, err)

	customers, err := be.Table(ctx, "customers")
	require.NoError(t, err)
	orders, err := be.Table(ctx, "orders")
	require.NoError(t, err)
	on := []backend.On{{Left: "customer_id", Right: "id"}}

	big, err := be.Filter(ctx, orders, expr.Gt("amount", 4))
	require.NoError(t, err)
	n, err := be.Count(ctx, big)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	kept, err := be.SemiJoin(ctx, customers, big, []backend.On{{Left: "id", Right: "customer_id"}})
	require.NoError(t, err)
	f, err := be.Collect(ctx, kept)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1)}, f.Column("id"))

	full, err := be.Join(ctx, backend.JoinFull, orders, customers, on)
	require.NoError(t, err)
	n, err = be.Count(ctx, full)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	missing, err := be.SetDifference(ctx, orders, "customer_id", customers, "id")
	require.NoError(t, err)
	assert.Equal(t, []any{int32(4)}, missing)

	n, err = be.CountDistinct(ctx, orders, []string{"customer_id"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
