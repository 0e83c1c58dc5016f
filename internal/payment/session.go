package payment

// Session is a provider-neutral snapshot of a hosted checkout session,
// expanded with line items and customer details.
type Session struct {
	ID              string
	PaymentIntentID string
	Status          string
	Currency        string
	AmountSubtotal  int64
	AmountTotal     int64
	Customer        CustomerDetails
	CustomFields    []CustomField
	LineItems       []LineItem
}

type CustomerDetails struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// CustomField is one buyer-entered value from the checkout form. Which fields
// exist depends on how the checkout flow was configured, so consumers must
// look fields up by key and tolerate absence.
type CustomField struct {
	Key   string
	Value string
}

type LineItem struct {
	Description string
	Quantity    int64
	UnitAmount  int64
	ProductID   string
}

// CustomField returns the value of the custom field with the given key, or
// an empty string when the checkout flow did not define it.
func (s *Session) CustomField(key string) string {
	for _, f := range s.CustomFields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Event is a verified webhook notification from the payment provider.
// SessionID is set for checkout session events, PaymentIntentID for payment
// intent events.
type Event struct {
	Type            string
	SessionID       string
	PaymentIntentID string
}

// Event types this service reacts to. Anything else is acknowledged and
// ignored.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
)
