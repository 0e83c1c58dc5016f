package catalog_test

import (
	"context"
	"os"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botanique-shop/storefront/internal/catalog"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(context.Background(), dsn)
		if err == nil {
			testPool = pool
		}
	}

	exitCode := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	os.Exit(exitCode)
}

func setupRepo(t *testing.T) catalog.Repository {
	if testPool == nil {
		t.Skip("TEST_DATABASE_URL not set, skipping catalog integration tests")
	}

	truncate := func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE TABLE order_items, orders, products")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(truncate)

	return catalog.NewRepository(testPool)
}

func TestPostgresRepository_ResolveStripeProduct(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id, err := repo.EnsureProduct(ctx, "Lavender Oil", "prod_abc")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	resolved, err := repo.ResolveStripeProduct(ctx, "prod_abc")
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestPostgresRepository_ResolveUnknownProduct(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.ResolveStripeProduct(context.Background(), "prod_missing")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestPostgresRepository_EnsureProductIsIdempotent(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	first, err := repo.EnsureProduct(ctx, "Lavender Oil", "prod_abc")
	require.NoError(t, err)

	second, err := repo.EnsureProduct(ctx, "Lavender Oil 10ml", "prod_abc")
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-syncing the same provider product must not create a second row")

	var count int
	require.NoError(t, testPool.QueryRow(ctx, "SELECT COUNT(*) FROM products").Scan(&count))
	assert.Equal(t, 1, count)
}
