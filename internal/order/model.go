package order

import (
	"time"

	"github.com/gofrs/uuid"
)

// Order statuses mirror the payment provider's vocabulary: an order is
// created with the session's own status string and later promoted by webhook
// events.
const (
	StatusPaid          = "Paid"
	StatusPaymentFailed = "Payment Failed"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryDispatched DeliveryStatus = "DISPATCHED"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryCancelled  DeliveryStatus = "CANCELLED"
)

func (ds DeliveryStatus) String() string {
	return string(ds)
}

// Order is one completed (or failing) checkout. CheckoutSessionID is unique
// per order and acts as the idempotency key for creation. The customer fields
// are a point-in-time copy of what the buyer entered at checkout, not a
// reference to an account.
type Order struct {
	ID                uuid.UUID `json:"id" db:"id"`
	CheckoutSessionID string    `json:"checkout_session_id" db:"checkout_session_id"`
	PaymentIntentID   string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	Status            string    `json:"status" db:"status"`
	Currency          string    `json:"currency" db:"currency"`
	AmountSubtotal    int64     `json:"amount_subtotal" db:"amount_subtotal"`
	AmountTotal       int64     `json:"amount_total" db:"amount_total"`

	CustomerName  string `json:"customer_name" db:"customer_name"`
	CustomerEmail string `json:"customer_email" db:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty" db:"customer_phone"`
	AddressLine1  string `json:"address_line1,omitempty" db:"address_line1"`
	AddressLine2  string `json:"address_line2,omitempty" db:"address_line2"`
	City          string `json:"city,omitempty" db:"city"`
	State         string `json:"state,omitempty" db:"state"`
	PostalCode    string `json:"postal_code,omitempty" db:"postal_code"`
	Country       string `json:"country,omitempty" db:"country"`

	DeliveryInstructions  string `json:"delivery_instructions,omitempty" db:"delivery_instructions"`
	Landmark              string `json:"landmark,omitempty" db:"landmark"`
	PreferredDeliveryTime string `json:"preferred_delivery_time,omitempty" db:"preferred_delivery_time"`
	OrderType             string `json:"order_type,omitempty" db:"order_type"`

	// Fulfillment fields are mutated by the admin workflow, not by this
	// service. They are defaulted at creation so the row is complete.
	DeliveryStatus DeliveryStatus `json:"delivery_status" db:"delivery_status"`
	Carrier        string         `json:"carrier,omitempty" db:"carrier"`
	TrackingNumber string         `json:"tracking_number,omitempty" db:"tracking_number"`
	TrackingURL    string         `json:"tracking_url,omitempty" db:"tracking_url"`
	Viewed         bool           `json:"viewed" db:"viewed"`

	Items []OrderItem `json:"items" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OrderItem is a frozen snapshot of one purchased line: later changes to the
// product's live price never touch it.
type OrderItem struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OrderID     uuid.UUID `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID `json:"product_id" db:"product_id"`
	ProductName string    `json:"product_name" db:"product_name"`
	Quantity    int64     `json:"quantity" db:"quantity"`
	UnitPrice   int64     `json:"unit_price" db:"unit_price"`
	TotalPrice  int64     `json:"total_price" db:"total_price"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
