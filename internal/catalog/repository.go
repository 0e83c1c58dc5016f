package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProductNotFound means the provider-side product id has no matching
// product row. Callers must treat this as fatal for the operation in
// progress: a money-bearing record must never reference a product we cannot
// resolve.
var ErrProductNotFound = errors.New("product not found")

type Product struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	StripeProductID string    `json:"stripe_product_id" db:"stripe_product_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Resolver maps payment-provider product identifiers to internal products.
type Resolver interface {
	ResolveStripeProduct(ctx context.Context, stripeProductID string) (uuid.UUID, error)
}

type Repository interface {
	Resolver
	EnsureProduct(ctx context.Context, name, stripeProductID string) (uuid.UUID, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ResolveStripeProduct(ctx context.Context, stripeProductID string) (uuid.UUID, error) {
	query := `
		SELECT id
		FROM products
		WHERE stripe_product_id = $1
	`

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, stripeProductID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrProductNotFound
		}
		return uuid.Nil, fmt.Errorf("repository: failed to resolve product %s: %w", stripeProductID, err)
	}

	return id, nil
}

// EnsureProduct inserts a product mapped to the given provider product id, or
// returns the existing one. Used by catalog sync and by test setup.
func (r *postgresRepository) EnsureProduct(ctx context.Context, name, stripeProductID string) (uuid.UUID, error) {
	newID, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to generate product ID: %w", err)
	}

	query := `
		INSERT INTO products (id, name, stripe_product_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (stripe_product_id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	var id uuid.UUID
	err = r.db.QueryRow(ctx, query, newID, name, stripeProductID, time.Now().UTC()).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("repository: failed to upsert product %s: %w", stripeProductID, err)
	}

	return id, nil
}
