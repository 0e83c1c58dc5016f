package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botanique-shop/storefront/internal/catalog"
	"github.com/botanique-shop/storefront/internal/order"
	"github.com/botanique-shop/storefront/internal/payment"
)

type mockRepository struct {
	createFunc                        func(ctx context.Context, o *order.Order) error
	getByIDFunc                       func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	getBySessionIDFunc                func(ctx context.Context, sessionID string) (*order.Order, error)
	getByPaymentIntentIDFunc          func(ctx context.Context, paymentIntentID string) (*order.Order, error)
	updateStatusBySessionIDFunc       func(ctx context.Context, sessionID, status string) error
	updateStatusByPaymentIntentIDFunc func(ctx context.Context, paymentIntentID, status string) error
}

func (m *mockRepository) CreateWithItems(ctx context.Context, o *order.Order) error {
	return m.createFunc(ctx, o)
}

func (m *mockRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockRepository) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	return m.getBySessionIDFunc(ctx, sessionID)
}

func (m *mockRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*order.Order, error) {
	return m.getByPaymentIntentIDFunc(ctx, paymentIntentID)
}

func (m *mockRepository) UpdateStatusBySessionID(ctx context.Context, sessionID, status string) error {
	return m.updateStatusBySessionIDFunc(ctx, sessionID, status)
}

func (m *mockRepository) UpdateStatusByPaymentIntentID(ctx context.Context, paymentIntentID, status string) error {
	return m.updateStatusByPaymentIntentIDFunc(ctx, paymentIntentID, status)
}

type mockSessionReader struct {
	getSessionFunc              func(ctx context.Context, sessionID string) (*payment.Session, error)
	sessionsByPaymentIntentFunc func(ctx context.Context, paymentIntentID string) ([]payment.Session, error)
}

func (m *mockSessionReader) GetSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	return m.getSessionFunc(ctx, sessionID)
}

func (m *mockSessionReader) SessionsByPaymentIntent(ctx context.Context, paymentIntentID string) ([]payment.Session, error) {
	return m.sessionsByPaymentIntentFunc(ctx, paymentIntentID)
}

type mockResolver struct {
	resolveFunc func(ctx context.Context, stripeProductID string) (uuid.UUID, error)
}

func (m *mockResolver) ResolveStripeProduct(ctx context.Context, stripeProductID string) (uuid.UUID, error) {
	return m.resolveFunc(ctx, stripeProductID)
}

// memoryStore emulates the storage-layer unique constraint on the session id:
// the second concurrent writer for a session gets ErrSessionConflict, exactly
// like the real table would reject the insert.
type memoryStore struct {
	mu        sync.Mutex
	bySession map[string]*order.Order
	creates   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{bySession: make(map[string]*order.Order)}
}

func (s *memoryStore) CreateWithItems(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySession[o.CheckoutSessionID]; exists {
		return order.ErrSessionConflict
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	stored := *o
	s.bySession[o.CheckoutSessionID] = &stored
	s.creates++
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.bySession {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (s *memoryStore) GetBySessionID(_ context.Context, sessionID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.bySession[sessionID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memoryStore) GetByPaymentIntentID(_ context.Context, paymentIntentID string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.bySession {
		if o.PaymentIntentID == paymentIntentID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (s *memoryStore) UpdateStatusBySessionID(_ context.Context, sessionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.bySession[sessionID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (s *memoryStore) UpdateStatusByPaymentIntentID(_ context.Context, paymentIntentID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.bySession {
		if o.PaymentIntentID == paymentIntentID {
			o.Status = status
			return nil
		}
	}
	return order.ErrOrderNotFound
}

func lavenderSession() *payment.Session {
	return &payment.Session{
		ID:              "cs_test_1",
		PaymentIntentID: "pi_test_1",
		Status:          "complete",
		Currency:        "usd",
		AmountSubtotal:  5000,
		AmountTotal:     5000,
		Customer: payment.CustomerDetails{
			Name:  "Jane Doe",
			Email: "jane@example.com",
		},
		CustomFields: []payment.CustomField{
			{Key: "delivery_instructions", Value: "leave at the door"},
		},
		LineItems: []payment.LineItem{
			{Description: "Lavender Oil", Quantity: 2, UnitAmount: 2500, ProductID: "prod_abc"},
		},
	}
}

func catalogWith(mapping map[string]uuid.UUID) *mockResolver {
	return &mockResolver{
		resolveFunc: func(_ context.Context, stripeProductID string) (uuid.UUID, error) {
			id, ok := mapping[stripeProductID]
			if !ok {
				return uuid.Nil, catalog.ErrProductNotFound
			}
			return id, nil
		},
	}
}

func TestService_Reconcile_CreatesOrderFromSession(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())
	store := newMemoryStore()
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, sessionID string) (*payment.Session, error) {
			require.Equal(t, "cs_test_1", sessionID)
			return lavenderSession(), nil
		},
	}

	svc := order.NewService(store, sessions, catalogWith(map[string]uuid.UUID{"prod_abc": productID}))

	ord, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", ord.CheckoutSessionID)
	assert.Equal(t, "pi_test_1", ord.PaymentIntentID)
	assert.Equal(t, "complete", ord.Status)
	assert.Equal(t, int64(5000), ord.AmountSubtotal)
	assert.Equal(t, int64(5000), ord.AmountTotal)
	assert.Equal(t, "Jane Doe", ord.CustomerName)
	assert.Equal(t, "jane@example.com", ord.CustomerEmail)
	assert.Equal(t, "leave at the door", ord.DeliveryInstructions)
	assert.Empty(t, ord.Landmark)
	assert.Equal(t, order.DeliveryPending, ord.DeliveryStatus)

	require.Len(t, ord.Items, 1)
	item := ord.Items[0]
	assert.Equal(t, productID, item.ProductID)
	assert.Equal(t, "Lavender Oil", item.ProductName)
	assert.Equal(t, int64(2), item.Quantity)
	assert.Equal(t, int64(2500), item.UnitPrice)
	assert.Equal(t, int64(5000), item.TotalPrice)
}

func TestService_Reconcile_LineItemFidelity(t *testing.T) {
	mapping := map[string]uuid.UUID{
		"prod_a": uuid.Must(uuid.NewV4()),
		"prod_b": uuid.Must(uuid.NewV4()),
		"prod_c": uuid.Must(uuid.NewV4()),
	}
	sess := &payment.Session{
		ID:             "cs_multi",
		Status:         "complete",
		Currency:       "usd",
		AmountSubtotal: 10400,
		AmountTotal:    11900, // tax and shipping on top of the subtotal
		LineItems: []payment.LineItem{
			{Description: "Rose Water", Quantity: 1, UnitAmount: 1500, ProductID: "prod_a"},
			{Description: "Lavender Oil", Quantity: 3, UnitAmount: 2500, ProductID: "prod_b"},
			{Description: "Soap Bar", Quantity: 2, UnitAmount: 700, ProductID: "prod_c"},
		},
	}

	store := newMemoryStore()
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) { return sess, nil },
	}
	svc := order.NewService(store, sessions, catalogWith(mapping))

	ord, err := svc.Reconcile(context.Background(), "cs_multi")
	require.NoError(t, err)

	require.Len(t, ord.Items, 3)
	for _, item := range ord.Items {
		assert.Equal(t, item.Quantity*item.UnitPrice, item.TotalPrice)
	}
	// Amounts come verbatim from the session, not from summing line items.
	assert.Equal(t, int64(10400), ord.AmountSubtotal)
	assert.Equal(t, int64(11900), ord.AmountTotal)
}

func TestService_Reconcile_IdempotentSequentialCalls(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())
	store := newMemoryStore()
	sessionFetches := 0
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			sessionFetches++
			return lavenderSession(), nil
		},
	}
	svc := order.NewService(store, sessions, catalogWith(map[string]uuid.UUID{"prod_abc": productID}))

	first, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.NoError(t, err)

	second, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.creates)
	assert.Equal(t, 1, sessionFetches, "second call must short-circuit on the existing order")
}

func TestService_Reconcile_ConcurrentCallsConverge(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())
	store := newMemoryStore()
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			return lavenderSession(), nil
		},
	}
	svc := order.NewService(store, sessions, catalogWith(map[string]uuid.UUID{"prod_abc": productID}))

	var wg sync.WaitGroup
	results := make([]*order.Order, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Reconcile(context.Background(), "cs_test_1")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, results[0].ID, results[1].ID, "both callers must converge on the same order")
	assert.Equal(t, 1, store.creates, "exactly one order row must be persisted")
}

func TestService_Reconcile_RaceLoserReReadsWinner(t *testing.T) {
	winnerID := uuid.Must(uuid.NewV4())
	winner := &order.Order{ID: winnerID, CheckoutSessionID: "cs_test_1", Status: "complete"}

	checkCalls := 0
	repo := &mockRepository{
		getBySessionIDFunc: func(_ context.Context, _ string) (*order.Order, error) {
			checkCalls++
			if checkCalls == 1 {
				// Existence check: nothing there yet.
				return nil, order.ErrOrderNotFound
			}
			// Fallback re-read after the conflict.
			return winner, nil
		},
		createFunc: func(_ context.Context, _ *order.Order) error {
			// The concurrent writer got there between check and create.
			return order.ErrSessionConflict
		},
	}
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			return lavenderSession(), nil
		},
	}
	svc := order.NewService(repo, sessions, catalogWith(map[string]uuid.UUID{"prod_abc": uuid.Must(uuid.NewV4())}))

	ord, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.NoError(t, err, "losing the race must not surface as an error")
	assert.Equal(t, winnerID, ord.ID)
	assert.Equal(t, 2, checkCalls)
}

func TestService_Reconcile_UnresolvableProductAborts(t *testing.T) {
	store := newMemoryStore()
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			return lavenderSession(), nil
		},
	}
	svc := order.NewService(store, sessions, catalogWith(nil))

	ord, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrProductNotFound))
	assert.Nil(t, ord)
	assert.Equal(t, 0, store.creates, "no partial order may be persisted")
}

func TestService_Reconcile_SessionReaderFailurePropagates(t *testing.T) {
	store := newMemoryStore()
	providerErr := errors.New("stripe: connection reset")
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			return nil, providerErr
		},
	}
	svc := order.NewService(store, sessions, catalogWith(nil))

	_, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, providerErr))
	assert.Equal(t, 0, store.creates)
}

func TestService_Reconcile_StoreFailurePropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &mockRepository{
		getBySessionIDFunc: func(_ context.Context, _ string) (*order.Order, error) {
			return nil, order.ErrOrderNotFound
		},
		createFunc: func(_ context.Context, _ *order.Order) error {
			return storeErr
		},
	}
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			return lavenderSession(), nil
		},
	}
	svc := order.NewService(repo, sessions, catalogWith(map[string]uuid.UUID{"prod_abc": uuid.Must(uuid.NewV4())}))

	_, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeErr), "non-conflict store failures must propagate")
}

func TestService_ReconcileByPaymentIntent_NoSessionIsNoOp(t *testing.T) {
	sessions := &mockSessionReader{
		sessionsByPaymentIntentFunc: func(_ context.Context, _ string) ([]payment.Session, error) {
			return nil, nil
		},
	}
	svc := order.NewService(newMemoryStore(), sessions, catalogWith(nil))

	ord, err := svc.ReconcileByPaymentIntent(context.Background(), "pi_orphan")
	require.NoError(t, err)
	assert.Nil(t, ord)
}

func TestService_ReconcileByPaymentIntent_StatusOnlyUpdateOnReplay(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())
	store := newMemoryStore()
	sessionFetches := 0
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			sessionFetches++
			return lavenderSession(), nil
		},
		sessionsByPaymentIntentFunc: func(_ context.Context, paymentIntentID string) ([]payment.Session, error) {
			require.Equal(t, "pi_test_1", paymentIntentID)
			return []payment.Session{*lavenderSession()}, nil
		},
	}
	svc := order.NewService(store, sessions, catalogWith(map[string]uuid.UUID{"prod_abc": productID}))

	// The success page wins the race and records the order first.
	created, err := svc.Reconcile(context.Background(), "cs_test_1")
	require.NoError(t, err)

	// The payment_intent.succeeded webhook arrives afterwards.
	updated, err := svc.ReconcileByPaymentIntent(context.Background(), "pi_test_1")
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, order.StatusPaid, updated.Status)
	assert.Equal(t, 1, store.creates, "replay must never re-create the order")
	assert.Equal(t, 1, sessionFetches)

	// Customer snapshot and items are untouched.
	stored, err := store.GetBySessionID(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, created.CustomerName, stored.CustomerName)
	assert.Equal(t, created.CustomerEmail, stored.CustomerEmail)
	assert.Equal(t, created.Items, stored.Items)
}

func TestService_ReconcileByPaymentIntent_CreatesWhenWebhookWins(t *testing.T) {
	productID := uuid.Must(uuid.NewV4())
	store := newMemoryStore()
	sessions := &mockSessionReader{
		getSessionFunc: func(_ context.Context, _ string) (*payment.Session, error) {
			return lavenderSession(), nil
		},
		sessionsByPaymentIntentFunc: func(_ context.Context, _ string) ([]payment.Session, error) {
			return []payment.Session{*lavenderSession()}, nil
		},
	}
	svc := order.NewService(store, sessions, catalogWith(map[string]uuid.UUID{"prod_abc": productID}))

	ord, err := svc.ReconcileByPaymentIntent(context.Background(), "pi_test_1")
	require.NoError(t, err)
	require.NotNil(t, ord)
	assert.Equal(t, order.StatusPaid, ord.Status)
	assert.Equal(t, 1, store.creates)
}

func TestService_MarkPaymentFailed(t *testing.T) {
	tests := []struct {
		name       string
		updateFunc func(ctx context.Context, paymentIntentID, status string) error
		wantErrIs  error
	}{
		{
			name: "existing_order_marked_failed",
			updateFunc: func(_ context.Context, paymentIntentID, status string) error {
				if paymentIntentID != "pi_test_1" || status != order.StatusPaymentFailed {
					return errors.New("unexpected arguments")
				}
				return nil
			},
		},
		{
			name: "missing_order_reports_not_found",
			updateFunc: func(_ context.Context, _, _ string) error {
				return order.ErrOrderNotFound
			},
			wantErrIs: order.ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{updateStatusByPaymentIntentIDFunc: tt.updateFunc}
			svc := order.NewService(repo, &mockSessionReader{}, catalogWith(nil))

			err := svc.MarkPaymentFailed(context.Background(), "pi_test_1")
			if tt.wantErrIs != nil {
				assert.True(t, errors.Is(err, tt.wantErrIs))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
