package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/botanique-shop/storefront/internal/catalog"
	"github.com/botanique-shop/storefront/internal/payment"
)

// Custom checkout field keys. Different checkout flows define different
// fields; all of them are optional.
const (
	fieldDeliveryInstructions  = "delivery_instructions"
	fieldLandmark              = "landmark"
	fieldPreferredDeliveryTime = "preferred_delivery_time"
	fieldOrderType             = "order_type"
)

// Service turns provider checkout sessions into durable orders. Both trigger
// paths (the buyer's success-page fetch and the provider's webhook) converge
// here, so every operation must be idempotent with respect to the checkout
// session id.
type Service interface {
	Reconcile(ctx context.Context, sessionID string) (*Order, error)
	ReconcileByPaymentIntent(ctx context.Context, paymentIntentID string) (*Order, error)
	MarkPaymentFailed(ctx context.Context, paymentIntentID string) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*Order, error)
}

type service struct {
	orders   Repository
	sessions payment.SessionReader
	products catalog.Resolver
}

func NewService(orders Repository, sessions payment.SessionReader, products catalog.Resolver) Service {
	return &service{
		orders:   orders,
		sessions: sessions,
		products: products,
	}
}

// Reconcile ensures exactly one order exists for the given checkout session.
// The existence check runs first, but the storage-layer unique constraint is
// the real arbiter: when a concurrent writer wins the window between check
// and create, the insert is rejected and the winner's row is returned
// instead. Repeated calls converge on the same order.
func (s *service) Reconcile(ctx context.Context, sessionID string) (*Order, error) {
	existing, err := s.orders.GetBySessionID(ctx, sessionID)
	if err == nil {
		log.Info().Str("session_id", sessionID).Stringer("order_id", existing.ID).Msg("service: order already recorded for session")
		return existing, nil
	}
	if !errors.Is(err, ErrOrderNotFound) {
		return nil, fmt.Errorf("service: failed to check for existing order: %w", err)
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch checkout session: %w", err)
	}

	newOrder, err := s.orderFromSession(ctx, sess)
	if err != nil {
		return nil, err
	}

	err = s.orders.CreateWithItems(ctx, newOrder)
	if errors.Is(err, ErrSessionConflict) {
		// Lost the race against the other trigger path. Converge on the
		// winner's row.
		log.Info().Str("session_id", sessionID).Msg("service: concurrent create won the session, re-reading")
		winner, readErr := s.orders.GetBySessionID(ctx, sessionID)
		if readErr != nil {
			return nil, fmt.Errorf("service: failed to re-read order after create conflict: %w", readErr)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Stringer("order_id", newOrder.ID).
		Int("items", len(newOrder.Items)).
		Int64("amount_total", newOrder.AmountTotal).
		Msg("service: order created from checkout session")

	return newOrder, nil
}

// ReconcileByPaymentIntent resolves the checkout session tied to a payment
// intent, reconciles it, and promotes the order's status to Paid. A nil
// order with a nil error means the intent has no checkout session, which is
// a valid no-op for this flow.
func (s *service) ReconcileByPaymentIntent(ctx context.Context, paymentIntentID string) (*Order, error) {
	sessions, err := s.sessions.SessionsByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to look up sessions for payment intent: %w", err)
	}
	if len(sessions) == 0 {
		log.Info().Str("payment_intent_id", paymentIntentID).Msg("service: payment intent has no checkout session, skipping")
		return nil, nil
	}

	sess := sessions[0]
	ord, err := s.Reconcile(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	if ord.Status != StatusPaid {
		if err := s.orders.UpdateStatusBySessionID(ctx, sess.ID, StatusPaid); err != nil {
			return nil, fmt.Errorf("service: failed to mark order paid: %w", err)
		}
		ord.Status = StatusPaid
	}

	return ord, nil
}

// MarkPaymentFailed flips only the status of the order tied to the payment
// intent. Items and the customer snapshot are immutable once recorded.
// Returns ErrOrderNotFound when no such order exists yet.
func (s *service) MarkPaymentFailed(ctx context.Context, paymentIntentID string) error {
	err := s.orders.UpdateStatusByPaymentIntentID(ctx, paymentIntentID, StatusPaymentFailed)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("service: failed to mark payment failed: %w", err)
	}

	log.Info().Str("payment_intent_id", paymentIntentID).Msg("service: order marked as payment failed")
	return nil
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	ord, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return ord, nil
}

func (s *service) GetOrderBySessionID(ctx context.Context, sessionID string) (*Order, error) {
	ord, err := s.orders.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by session id: %w", err)
	}
	return ord, nil
}

// orderFromSession builds the order snapshot. Every line item's provider
// product id must resolve to an internal product; one unresolvable item
// aborts the whole order rather than recording it partially.
func (s *service) orderFromSession(ctx context.Context, sess *payment.Session) (*Order, error) {
	ord := &Order{
		CheckoutSessionID: sess.ID,
		PaymentIntentID:   sess.PaymentIntentID,
		Status:            sess.Status,
		Currency:          sess.Currency,
		AmountSubtotal:    sess.AmountSubtotal,
		AmountTotal:       sess.AmountTotal,

		CustomerName:  sess.Customer.Name,
		CustomerEmail: sess.Customer.Email,
		CustomerPhone: sess.Customer.Phone,
		AddressLine1:  sess.Customer.Address.Line1,
		AddressLine2:  sess.Customer.Address.Line2,
		City:          sess.Customer.Address.City,
		State:         sess.Customer.Address.State,
		PostalCode:    sess.Customer.Address.PostalCode,
		Country:       sess.Customer.Address.Country,

		DeliveryInstructions:  sess.CustomField(fieldDeliveryInstructions),
		Landmark:              sess.CustomField(fieldLandmark),
		PreferredDeliveryTime: sess.CustomField(fieldPreferredDeliveryTime),
		OrderType:             sess.CustomField(fieldOrderType),

		DeliveryStatus: DeliveryPending,
	}

	for _, li := range sess.LineItems {
		productID, err := s.products.ResolveStripeProduct(ctx, li.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				log.Error().
					Str("session_id", sess.ID).
					Str("stripe_product_id", li.ProductID).
					Msg("service: line item product has no catalog match, aborting order creation")
				return nil, fmt.Errorf("service: cannot resolve product %s for session %s: %w", li.ProductID, sess.ID, err)
			}
			return nil, fmt.Errorf("service: failed to resolve product %s: %w", li.ProductID, err)
		}

		ord.Items = append(ord.Items, OrderItem{
			ProductID:   productID,
			ProductName: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitAmount,
			TotalPrice:  li.Quantity * li.UnitAmount,
		})
	}

	return ord, nil
}
