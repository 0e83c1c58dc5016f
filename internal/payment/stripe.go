package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// SessionReader retrieves checkout sessions from the payment provider.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	SessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]Session, error)
}

// WebhookVerifier checks a webhook payload against its signature header and
// returns the decoded event. Verification failure means the payload must not
// be processed.
type WebhookVerifier interface {
	VerifyEvent(payload []byte, sigHeader string) (Event, error)
}

// Client wraps the Stripe SDK behind the provider-neutral session and event
// types. One instance is created at startup and shared by all requests.
type Client struct {
	api           *client.API
	webhookSecret string
}

func NewClient(apiKey, webhookSecret string) *Client {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Client{api: api, webhookSecret: webhookSecret}
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")
	params.AddExpand("customer")

	s, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("payment: failed to retrieve checkout session %s: %w", sessionID, err)
	}

	sess := fromStripeSession(s)
	return &sess, nil
}

func (c *Client) SessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]Session, error) {
	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	params.AddExpand("data.line_items")

	var sessions []Session
	iter := c.api.CheckoutSessions.List(params)
	for iter.Next() {
		sessions = append(sessions, fromStripeSession(iter.CheckoutSession()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("payment: failed to list sessions for payment intent %s: %w", paymentIntentID, err)
	}

	return sessions, nil
}

func (c *Client) VerifyEvent(payload []byte, sigHeader string) (Event, error) {
	// Accounts pinned to a newer API version than the SDK still deliver
	// verifiable events, so the version check is relaxed.
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("payment: webhook signature verification failed: %w", err)
	}

	ev := Event{Type: string(stripeEvent.Type)}

	switch ev.Type {
	case EventCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &s); err != nil {
			return Event{}, fmt.Errorf("payment: failed to decode checkout session event: %w", err)
		}
		ev.SessionID = s.ID
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(stripeEvent.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("payment: failed to decode payment intent event: %w", err)
		}
		ev.PaymentIntentID = pi.ID
	}

	return ev, nil
}

func fromStripeSession(s *stripe.CheckoutSession) Session {
	sess := Session{
		ID:             s.ID,
		Status:         string(s.Status),
		Currency:       string(s.Currency),
		AmountSubtotal: s.AmountSubtotal,
		AmountTotal:    s.AmountTotal,
	}

	if s.PaymentIntent != nil {
		sess.PaymentIntentID = s.PaymentIntent.ID
	}

	if cd := s.CustomerDetails; cd != nil {
		sess.Customer.Name = cd.Name
		sess.Customer.Email = cd.Email
		sess.Customer.Phone = cd.Phone
		if addr := cd.Address; addr != nil {
			sess.Customer.Address = Address{
				Line1:      addr.Line1,
				Line2:      addr.Line2,
				City:       addr.City,
				State:      addr.State,
				PostalCode: addr.PostalCode,
				Country:    addr.Country,
			}
		}
	}

	for _, f := range s.CustomFields {
		if f == nil {
			continue
		}
		cf := CustomField{Key: f.Key}
		switch {
		case f.Text != nil:
			cf.Value = f.Text.Value
		case f.Dropdown != nil:
			cf.Value = f.Dropdown.Value
		case f.Numeric != nil:
			cf.Value = f.Numeric.Value
		}
		sess.CustomFields = append(sess.CustomFields, cf)
	}

	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			if li == nil {
				continue
			}
			item := LineItem{
				Description: li.Description,
				Quantity:    li.Quantity,
			}
			if li.Price != nil {
				item.UnitAmount = li.Price.UnitAmount
				if li.Price.Product != nil {
					item.ProductID = li.Price.Product.ID
				}
			}
			sess.LineItems = append(sess.LineItems, item)
		}
	}

	return sess
}
