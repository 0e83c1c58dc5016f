package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrSessionConflict means a concurrent writer already created the order
	// for this checkout session. Not a real failure: the caller re-reads the
	// winning row.
	ErrSessionConflict = errors.New("order already exists for checkout session")
)

type Repository interface {
	CreateWithItems(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*Order, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Order, error)
	UpdateStatusBySessionID(ctx context.Context, sessionID, status string) error
	UpdateStatusByPaymentIntentID(ctx context.Context, paymentIntentID, status string) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// CreateWithItems persists the order and all its items in one transaction.
// The unique constraint on checkout_session_id arbitrates concurrent creates:
// the losing writer gets ErrSessionConflict and nothing is persisted.
func (r *postgresRepository) CreateWithItems(ctx context.Context, orderInput *Order) (err error) {
	finalOrderID := orderInput.ID
	if finalOrderID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		finalOrderID = genID
	}
	orderInput.ID = finalOrderID

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", finalOrderID).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id_attempted", finalOrderID).Msg("Failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				log.Error().Err(commitErr).Stringer("order_id", finalOrderID).Msg("Failed to commit transaction")
				err = mapCreateError(commitErr)
			}
		}
	}()

	now := time.Now().UTC()

	queryOrder := `
		INSERT INTO orders (
			id, checkout_session_id, payment_intent_id, status, currency,
			amount_subtotal, amount_total,
			customer_name, customer_email, customer_phone,
			address_line1, address_line2, city, state, postal_code, country,
			delivery_instructions, landmark, preferred_delivery_time, order_type,
			delivery_status, carrier, tracking_number, tracking_url, viewed,
			created_at, updated_at
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $26)
	`
	_, err = tx.Exec(ctx, queryOrder,
		finalOrderID,
		orderInput.CheckoutSessionID,
		orderInput.PaymentIntentID,
		orderInput.Status,
		orderInput.Currency,
		orderInput.AmountSubtotal,
		orderInput.AmountTotal,
		orderInput.CustomerName,
		orderInput.CustomerEmail,
		orderInput.CustomerPhone,
		orderInput.AddressLine1,
		orderInput.AddressLine2,
		orderInput.City,
		orderInput.State,
		orderInput.PostalCode,
		orderInput.Country,
		orderInput.DeliveryInstructions,
		orderInput.Landmark,
		orderInput.PreferredDeliveryTime,
		orderInput.OrderType,
		string(orderInput.DeliveryStatus),
		orderInput.Carrier,
		orderInput.TrackingNumber,
		orderInput.TrackingURL,
		orderInput.Viewed,
		now,
	)
	if err != nil {
		return mapCreateError(err)
	}
	orderInput.CreatedAt = now
	orderInput.UpdatedAt = now

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	for i := range orderInput.Items {
		itemInput := &orderInput.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
		}
		itemInput.ID = itemID
		itemInput.OrderID = finalOrderID

		_, err = tx.Exec(ctx, queryItem,
			itemInput.ID,
			finalOrderID,
			itemInput.ProductID,
			itemInput.ProductName,
			itemInput.Quantity,
			itemInput.UnitPrice,
			itemInput.TotalPrice,
			now,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", finalOrderID, err)
		}
		itemInput.CreatedAt = now
		itemInput.UpdatedAt = now
	}

	return nil
}

func mapCreateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrSessionConflict
	}
	return fmt.Errorf("repository: failed to insert order: %w", err)
}

const orderColumns = `
	id, checkout_session_id, COALESCE(payment_intent_id, ''), status, currency,
	amount_subtotal, amount_total,
	customer_name, customer_email, customer_phone,
	address_line1, address_line2, city, state, postal_code, country,
	delivery_instructions, landmark, preferred_delivery_time, order_type,
	delivery_status, carrier, tracking_number, tracking_url, viewed,
	created_at, updated_at
`

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *postgresRepository) GetBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE checkout_session_id = $1`
	return r.getOne(ctx, query, sessionID)
}

func (r *postgresRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id = $1`
	return r.getOne(ctx, query, paymentIntentID)
}

func (r *postgresRepository) getOne(ctx context.Context, query string, arg any) (*Order, error) {
	var o Order
	var deliveryStatus string
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&o.ID,
		&o.CheckoutSessionID,
		&o.PaymentIntentID,
		&o.Status,
		&o.Currency,
		&o.AmountSubtotal,
		&o.AmountTotal,
		&o.CustomerName,
		&o.CustomerEmail,
		&o.CustomerPhone,
		&o.AddressLine1,
		&o.AddressLine2,
		&o.City,
		&o.State,
		&o.PostalCode,
		&o.Country,
		&o.DeliveryInstructions,
		&o.Landmark,
		&o.PreferredDeliveryTime,
		&o.OrderType,
		&deliveryStatus,
		&o.Carrier,
		&o.TrackingNumber,
		&o.TrackingURL,
		&o.Viewed,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}
	o.DeliveryStatus = DeliveryStatus(deliveryStatus)

	items, err := r.itemsForOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

func (r *postgresRepository) itemsForOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price, created_at, updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order %s: %w", orderID, err)
	}

	return items, nil
}

func (r *postgresRepository) UpdateStatusBySessionID(ctx context.Context, sessionID, status string) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE checkout_session_id = $3
	`
	return r.updateStatus(ctx, query, status, sessionID)
}

func (r *postgresRepository) UpdateStatusByPaymentIntentID(ctx context.Context, paymentIntentID, status string) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = $2
		WHERE payment_intent_id = $3
	`
	return r.updateStatus(ctx, query, status, paymentIntentID)
}

func (r *postgresRepository) updateStatus(ctx context.Context, query, status string, arg any) error {
	cmdTag, err := r.db.Exec(ctx, query, status, time.Now().UTC(), arg)
	if err != nil {
		return fmt.Errorf("repository: failed to update order status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
