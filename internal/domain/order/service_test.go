package order

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderflow/internal/domain/auth"
	"github.com/xenking/orderflow/internal/domain/inventory"
	"github.com/xenking/orderflow/internal/domain/payment"
)

// --- Mock implementations ---

type mockProduct struct {
	snap     inventory.Snapshot
	stock    int
	inactive bool
}

type mockLedger struct {
	mu         sync.Mutex
	products   map[string]*mockProduct
	reserves   int
	releaseErr error
}

func (m *mockLedger) Reserve(_ context.Context, productID string, qty int) (inventory.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves++

	p, ok := m.products[productID]
	switch {
	case !ok:
		return inventory.Snapshot{}, &inventory.ProductNotFoundError{ProductID: productID}
	case p.inactive:
		return inventory.Snapshot{}, &inventory.ProductInactiveError{ProductID: productID}
	case p.stock < qty:
		return inventory.Snapshot{}, &inventory.InsufficientStockError{
			ProductID: productID,
			Name:      p.snap.Name,
			Requested: qty,
			Available: p.stock,
		}
	}
	p.stock -= qty
	return p.snap, nil
}

func (m *mockLedger) Release(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return m.releaseErr
	}
	if p, ok := m.products[productID]; ok {
		p.stock += qty
	}
	return nil
}

func (m *mockLedger) stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[productID].stock
}

type mockHistory struct {
	mu        sync.Mutex
	entries   map[int64][]StatusEntry
	nextID    int64
	appendErr error
}

func (m *mockHistory) Append(_ context.Context, e *StatusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.appendLocked(e)
	return nil
}

func (m *mockHistory) appendLocked(e *StatusEntry) {
	m.nextID++
	e.ID = m.nextID
	m.entries[e.OrderID] = append(m.entries[e.OrderID], *e)
}

func (m *mockHistory) List(_ context.Context, orderID int64) ([]StatusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries[orderID]), nil
}

func (m *mockHistory) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		n += len(e)
	}
	return n
}

type mockOrders struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[int64]*Order
	deleted   []int64
	createErr error
	history   *mockHistory
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c
}

func (m *mockOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	o.ID = m.nextID
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *mockOrders) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockOrders) Get(_ context.Context, orderID uuid.UUID, ownerID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderID == orderID && (ownerID == "" || o.OwnerID == ownerID) {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrders) ListByOwner(_ context.Context, ownerID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.OwnerID == ownerID {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, u StatusUpdate) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[u.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != u.From {
		return nil, ErrStatusConflict
	}
	o.Status = u.To
	o.UpdatedAt = u.At
	if u.TrackingNumber != "" {
		o.TrackingNumber = u.TrackingNumber
	}
	if u.EstimatedDelivery != nil {
		o.EstimatedDelivery = u.EstimatedDelivery
	}
	if u.DeliveredAt != nil {
		o.DeliveredAt = u.DeliveredAt
	}
	if u.Entry != nil {
		m.history.mu.Lock()
		m.history.appendLocked(u.Entry)
		m.history.mu.Unlock()
	}
	return cloneOrder(o), nil
}

func (m *mockOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type mockPayments struct {
	mu        sync.Mutex
	intents   map[uuid.UUID]*payment.Intent
	discarded int
	recordErr error
}

func (m *mockPayments) Record(_ context.Context, in *payment.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.intents[in.ID] = in
	return nil
}

func (m *mockPayments) Discard(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.intents, id)
	m.discarded++
	return nil
}

func (m *mockPayments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intents)
}

type mockNumbers struct {
	seq atomic.Int64
	err error
}

func (m *mockNumbers) Next(_ context.Context, now time.Time) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), m.seq.Add(1)), nil
}

type mockIdempotency struct {
	mu   sync.Mutex
	keys map[string]uuid.UUID
	// completeErrs fails that many Complete calls before succeeding.
	completeErrs int
	completes    int
}

func (m *mockIdempotency) Claim(_ context.Context, ownerID, key string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ownerID + "/" + key
	if id, ok := m.keys[k]; ok {
		if id == uuid.Nil {
			return uuid.Nil, false, ErrRequestInFlight
		}
		return id, false, nil
	}
	m.keys[k] = uuid.Nil
	return uuid.Nil, true, nil
}

func (m *mockIdempotency) Complete(_ context.Context, ownerID, key string, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completes++
	if m.completes <= m.completeErrs {
		return errors.New("redis: connection reset")
	}
	m.keys[ownerID+"/"+key] = orderID
	return nil
}

func (m *mockIdempotency) Abandon(_ context.Context, ownerID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, ownerID+"/"+key)
	return nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *mockPublisher) types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// --- Helpers ---

var (
	serviceNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	customer = auth.Identity{UserID: "user-1", Role: auth.RoleCustomer}
	stranger = auth.Identity{UserID: "user-2", Role: auth.RoleCustomer}
	staff    = auth.Identity{UserID: "staff-1", Role: auth.RoleStaff}
)

type testEnv struct {
	svc       *Service
	ledger    *mockLedger
	orders    *mockOrders
	history   *mockHistory
	payments  *mockPayments
	numbers   *mockNumbers
	idem      *mockIdempotency
	publisher *mockPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	history := &mockHistory{entries: make(map[int64][]StatusEntry)}
	env := &testEnv{
		ledger: &mockLedger{products: map[string]*mockProduct{
			"laptop": {
				snap:  inventory.Snapshot{ProductID: "laptop", Name: "Laptop", SKU: "LAP-001", Price: dec("500")},
				stock: 5,
			},
			"mouse": {
				snap:  inventory.Snapshot{ProductID: "mouse", Name: "Mouse", SKU: "MOU-001", Price: dec("25.50")},
				stock: 10,
			},
			"retired": {
				snap:     inventory.Snapshot{ProductID: "retired", Name: "Pager", SKU: "PAG-001", Price: dec("10")},
				stock:    3,
				inactive: true,
			},
		}},
		orders:    &mockOrders{orders: make(map[int64]*Order), history: history},
		history:   history,
		payments:  &mockPayments{intents: make(map[uuid.UUID]*payment.Intent)},
		numbers:   &mockNumbers{},
		idem:      &mockIdempotency{keys: make(map[string]uuid.UUID)},
		publisher: &mockPublisher{},
	}

	svc, err := NewService(Deps{
		Ledger:      env.ledger,
		Orders:      env.orders,
		History:     env.history,
		Payments:    env.payments,
		Numbers:     env.numbers,
		Publisher:   env.publisher,
		Idempotency: env.idem,
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return serviceNow }
	env.svc = svc

	return env
}

func item(productID string, qty int) ItemRequest {
	return ItemRequest{ProductID: productID, Quantity: qty}
}

// placeRequest builds a request without tax, shipping or discount whose
// subtotal and total are both subtotal.
func placeRequest(subtotal string, items ...ItemRequest) PlaceRequest {
	return PlaceRequest{
		Items:           items,
		Subtotal:        dec(subtotal),
		Total:           dec(subtotal),
		ShippingAddress: testAddress(),
	}
}

func (e *testEnv) place(t *testing.T, actor auth.Identity, req PlaceRequest) *Order {
	t.Helper()
	o, err := e.svc.Place(context.Background(), actor, req)
	require.NoError(t, err)
	return o
}

// --- Tests ---

func TestNewService_RequiresCollaborators(t *testing.T) {
	env := newTestEnv(t)
	full := Deps{
		Ledger:   env.ledger,
		Orders:   env.orders,
		History:  env.history,
		Payments: env.payments,
		Numbers:  env.numbers,
	}

	_, err := NewService(full)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(d *Deps)
	}{
		{"ledger", func(d *Deps) { d.Ledger = nil }},
		{"orders", func(d *Deps) { d.Orders = nil }},
		{"history", func(d *Deps) { d.History = nil }},
		{"payments", func(d *Deps) { d.Payments = nil }},
		{"numbers", func(d *Deps) { d.Numbers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := full
			tt.mutate(&d)
			_, err := NewService(d)
			assert.Error(t, err)
		})
	}
}

func TestService_Place(t *testing.T) {
	env := newTestEnv(t)

	o := env.place(t, customer, placeRequest("1025.50", item("laptop", 2), item("mouse", 1)))

	assert.Equal(t, 3, env.ledger.stock("laptop"))
	assert.Equal(t, 9, env.ledger.stock("mouse"))

	assert.NotEqual(t, uuid.Nil, o.OrderID)
	assert.NotZero(t, o.ID)
	assert.Equal(t, "ORD-20260314-000001", o.Number)
	assert.Equal(t, customer.UserID, o.OwnerID)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.True(t, dec("1025.50").Equal(o.Amounts.Total))
	assert.Equal(t, o.ShippingAddress, o.BillingAddress)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Laptop", o.Items[0].ProductName)
	assert.Equal(t, "LAP-001", o.Items[0].ProductSKU)

	require.Equal(t, 1, env.payments.count())
	for _, in := range env.payments.intents {
		assert.Equal(t, o.ID, in.OrderID)
		assert.Equal(t, payment.MethodCashOnDelivery, in.Method)
		assert.Equal(t, payment.StatusCompleted, in.Status)
		assert.True(t, o.Amounts.Total.Equal(in.Amount))
	}

	entries, err := env.svc.History(context.Background(), customer, o.OrderID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
	assert.Equal(t, NotePlaced, entries[0].Note)
	assert.Equal(t, customer.UserID, entries[0].ActorID)

	assert.Equal(t, []EventType{EventPlaced}, env.publisher.types())
}

func TestService_Place_GatewayPaymentStaysPending(t *testing.T) {
	env := newTestEnv(t)

	req := placeRequest("25.50", item("mouse", 1))
	req.PaymentMethod = "UPI"
	env.place(t, customer, req)

	require.Equal(t, 1, env.payments.count())
	for _, in := range env.payments.intents {
		assert.Equal(t, payment.Method("upi"), in.Method)
		assert.Equal(t, payment.StatusPending, in.Status)
	}
}

func TestService_Place_ReservationFailures(t *testing.T) {
	tests := []struct {
		name  string
		req   PlaceRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "insufficient stock",
			req:  placeRequest("3000", item("laptop", 6)),
			check: func(t *testing.T, err error) {
				var serr *inventory.InsufficientStockError
				require.True(t, errors.As(err, &serr), "got %v", err)
				assert.Equal(t, "laptop", serr.ProductID)
				assert.Equal(t, 6, serr.Requested)
				assert.Equal(t, 5, serr.Available)
			},
		},
		{
			name: "unknown product",
			req:  placeRequest("10", item("ghost", 1)),
			check: func(t *testing.T, err error) {
				var nerr *inventory.ProductNotFoundError
				require.True(t, errors.As(err, &nerr), "got %v", err)
				assert.Equal(t, "product with ID ghost not found", nerr.Error())
			},
		},
		{
			name: "inactive product",
			req:  placeRequest("10", item("retired", 1)),
			check: func(t *testing.T, err error) {
				var ierr *inventory.ProductInactiveError
				assert.True(t, errors.As(err, &ierr), "got %v", err)
			},
		},
		{
			name: "later item short releases earlier items",
			req:  placeRequest("1051", item("mouse", 4), item("laptop", 2), item("mouse", 7)),
			check: func(t *testing.T, err error) {
				var serr *inventory.InsufficientStockError
				require.True(t, errors.As(err, &serr), "got %v", err)
				assert.Equal(t, "mouse", serr.ProductID)
				assert.Equal(t, 6, serr.Available)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.svc.Place(context.Background(), customer, tt.req)
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, 5, env.ledger.stock("laptop"))
			assert.Equal(t, 10, env.ledger.stock("mouse"))
			assert.Equal(t, 3, env.ledger.stock("retired"))
			assert.Zero(t, env.orders.count())
			assert.Zero(t, env.payments.count())
			assert.Zero(t, env.history.count())
			assert.Empty(t, env.publisher.types())
		})
	}
}

func TestService_Place_CompensatesLaterSteps(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name        string
		setup       func(env *testEnv)
		req         PlaceRequest
		wantErr     error
		wantKind    ValidationKind
		wantDeleted bool
	}{
		{
			name:    "number generator fails",
			setup:   func(env *testEnv) { env.numbers.err = errBoom },
			req:     placeRequest("1025.50", item("laptop", 2), item("mouse", 1)),
			wantErr: errBoom,
		},
		{
			name:     "amount mismatch",
			req:      placeRequest("999", item("laptop", 2), item("mouse", 1)),
			wantKind: KindAmountMismatch,
		},
		{
			name:    "order insert fails",
			setup:   func(env *testEnv) { env.orders.createErr = errBoom },
			req:     placeRequest("1025.50", item("laptop", 2), item("mouse", 1)),
			wantErr: errBoom,
		},
		{
			name:        "payment fails",
			setup:       func(env *testEnv) { env.payments.recordErr = errBoom },
			req:         placeRequest("1025.50", item("laptop", 2), item("mouse", 1)),
			wantErr:     errBoom,
			wantDeleted: true,
		},
		{
			name:        "history fails",
			setup:       func(env *testEnv) { env.history.appendErr = errBoom },
			req:         placeRequest("1025.50", item("laptop", 2), item("mouse", 1)),
			wantErr:     errBoom,
			wantDeleted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.setup != nil {
				tt.setup(env)
			}

			_, err := env.svc.Place(context.Background(), customer, tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantKind != "" {
				var verr *ValidationError
				require.True(t, errors.As(err, &verr), "got %v", err)
				assert.Equal(t, tt.wantKind, verr.Kind)
			}

			assert.Equal(t, 5, env.ledger.stock("laptop"))
			assert.Equal(t, 10, env.ledger.stock("mouse"))
			assert.Zero(t, env.orders.count())
			assert.Zero(t, env.payments.count())
			assert.Zero(t, env.history.count())
			assert.Empty(t, env.publisher.types())
			if tt.wantDeleted {
				assert.Len(t, env.orders.deleted, 1)
			} else {
				assert.Empty(t, env.orders.deleted)
			}
		})
	}
}

func TestService_Place_ValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name     string
		req      PlaceRequest
		wantKind ValidationKind
	}{
		{
			name:     "empty order",
			req:      placeRequest("0"),
			wantKind: KindEmptyOrder,
		},
		{
			name:     "zero quantity",
			req:      placeRequest("0", item("laptop", 0)),
			wantKind: KindInvalidQuantity,
		},
		{
			name: "incomplete shipping address",
			req: func() PlaceRequest {
				r := placeRequest("500", item("laptop", 1))
				r.ShippingAddress.AddressLine1 = ""
				return r
			}(),
			wantKind: KindIncompleteAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, err := env.svc.Place(context.Background(), customer, tt.req)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.wantKind, verr.Kind)
			assert.Zero(t, env.ledger.reserves)
			assert.Zero(t, env.orders.count())
		})
	}
}

func TestService_Place_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Place(ctx, customer, placeRequest("500", item("laptop", 1)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, env.ledger.reserves)
	assert.Equal(t, 5, env.ledger.stock("laptop"))
}

func TestService_Place_ConcurrentLastUnit(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.products["laptop"].stock = 1

	const buyers = 10
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		short     atomic.Int32
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buyer := auth.Identity{UserID: fmt.Sprintf("buyer-%d", i)}
			_, err := env.svc.Place(context.Background(), buyer, placeRequest("500", item("laptop", 1)))
			var serr *inventory.InsufficientStockError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &serr):
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, buyers-1, short.Load())
	assert.Zero(t, env.ledger.stock("laptop"))
	assert.Equal(t, 1, env.orders.count())
}

func TestService_Place_ConcurrentIdentifiersAreUnique(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.products["mouse"].stock = 100

	const n = 25
	results := make([]*Order, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := env.svc.Place(context.Background(), customer, placeRequest("25.50", item("mouse", 1)))
			assert.NoError(t, err)
			results[i] = o
		}()
	}
	wg.Wait()

	ids := make(map[uuid.UUID]struct{}, n)
	numbers := make(map[string]struct{}, n)
	for _, o := range results {
		require.NotNil(t, o)
		ids[o.OrderID] = struct{}{}
		numbers[o.Number] = struct{}{}
	}
	assert.Len(t, ids, n)
	assert.Len(t, numbers, n)
	assert.Equal(t, 100-n, env.ledger.stock("mouse"))
}

func TestService_Place_Idempotent(t *testing.T) {
	env := newTestEnv(t)

	req := placeRequest("500", item("laptop", 1))
	req.IdempotencyKey = "retry-1"

	first := env.place(t, customer, req)
	second := env.place(t, customer, req)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, 4, env.ledger.stock("laptop"))
	assert.Equal(t, 1, env.orders.count())

	// Another owner with the same key gets its own order.
	other := env.place(t, stranger, req)
	assert.NotEqual(t, first.OrderID, other.OrderID)
	assert.Equal(t, 3, env.ledger.stock("laptop"))
}

func TestService_Place_IdempotencyKeyFreedOnFailure(t *testing.T) {
	env := newTestEnv(t)

	req := placeRequest("3000", item("laptop", 6))
	req.IdempotencyKey = "retry-2"

	_, err := env.svc.Place(context.Background(), customer, req)
	require.Error(t, err)
	assert.Empty(t, env.idem.keys)

	env.ledger.products["laptop"].stock = 6
	o := env.place(t, customer, req)
	assert.Equal(t, StatusConfirmed, o.Status)
}

func TestService_Place_CompleteRetried(t *testing.T) {
	env := newTestEnv(t)
	env.svc.completeRetry = 0
	env.idem.completeErrs = 2

	req := placeRequest("500", item("laptop", 1))
	req.IdempotencyKey = "flaky"

	first := env.place(t, customer, req)
	assert.Equal(t, 3, env.idem.completes)
	assert.Equal(t, first.OrderID, env.idem.keys[customer.UserID+"/flaky"])

	second := env.place(t, customer, req)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, env.orders.count())
}

func TestService_Place_CompleteGivesUp(t *testing.T) {
	env := newTestEnv(t)
	env.svc.completeRetry = 0
	env.idem.completeErrs = completeAttempts

	req := placeRequest("500", item("laptop", 1))
	req.IdempotencyKey = "down"

	o := env.place(t, customer, req)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, completeAttempts, env.idem.completes)
	id, held := env.idem.keys[customer.UserID+"/down"]
	assert.True(t, held, "the claim is kept, not abandoned")
	assert.Equal(t, uuid.Nil, id)
}

func TestService_Place_Deadline(t *testing.T) {
	env := newTestEnv(t)
	env.svc.placeTimeout = time.Nanosecond

	req := placeRequest("500", item("laptop", 1))
	req.IdempotencyKey = "slow"

	_, err := env.svc.Place(context.Background(), customer, req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, env.ledger.stock("laptop"))
	assert.Zero(t, env.orders.count())
	assert.Empty(t, env.idem.keys, "a timed out placement frees its key")
}

func TestService_Place_InFlightKey(t *testing.T) {
	env := newTestEnv(t)
	env.idem.keys[customer.UserID+"/busy"] = uuid.Nil

	req := placeRequest("500", item("laptop", 1))
	req.IdempotencyKey = "busy"

	_, err := env.svc.Place(context.Background(), customer, req)
	require.ErrorIs(t, err, ErrRequestInFlight)
	assert.Zero(t, env.ledger.reserves)
}

func TestService_Place_PublishFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker down")

	o := env.place(t, customer, placeRequest("500", item("laptop", 1)))
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, 1, env.orders.count())
}

func TestService_Cancel(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("1025.50", item("laptop", 2), item("mouse", 1)))
	require.Equal(t, 3, env.ledger.stock("laptop"))

	cancelled, err := env.svc.Cancel(context.Background(), customer, placed.OrderID)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Len(t, cancelled.Items, 2)
	assert.Equal(t, 5, env.ledger.stock("laptop"))
	assert.Equal(t, 10, env.ledger.stock("mouse"))

	entries, err := env.svc.History(context.Background(), customer, placed.OrderID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
	assert.Equal(t, StatusCancelled, entries[1].Status)
	assert.Equal(t, NoteCancelledByUser, entries[1].Note)

	assert.Equal(t, []EventType{EventPlaced, EventCancelled}, env.publisher.types())
}

func TestService_Cancel_Twice(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("500", item("laptop", 1)))

	_, err := env.svc.Cancel(context.Background(), customer, placed.OrderID)
	require.NoError(t, err)

	_, err = env.svc.Cancel(context.Background(), customer, placed.OrderID)
	var terr *InvalidTransitionError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, StatusCancelled, terr.From)
	assert.Equal(t, "Order cannot be cancelled. Current status: cancelled", terr.Error())

	assert.Equal(t, 5, env.ledger.stock("laptop"), "stock is returned once")
	assert.Equal(t, 2, env.history.count())
}

func TestService_Cancel_NotOwner(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("500", item("laptop", 1)))

	_, err := env.svc.Cancel(context.Background(), stranger, placed.OrderID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.Cancel(context.Background(), customer, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 4, env.ledger.stock("laptop"))
}

func TestService_Cancel_AfterShipping(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("500", item("laptop", 1)))
	ctx := context.Background()

	_, err := env.svc.Advance(ctx, staff, placed.OrderID, AdvanceRequest{To: StatusProcessing})
	require.NoError(t, err)
	_, err = env.svc.Advance(ctx, staff, placed.OrderID, AdvanceRequest{To: StatusShipped, TrackingNumber: "TRK-1"})
	require.NoError(t, err)

	_, err = env.svc.Cancel(ctx, customer, placed.OrderID)
	var terr *InvalidTransitionError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, StatusShipped, terr.From)
	assert.Equal(t, 4, env.ledger.stock("laptop"))
}

func TestService_Cancel_ReleaseFailureStillCancels(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("500", item("laptop", 1)))
	env.ledger.releaseErr = errors.New("ledger unavailable")

	cancelled, err := env.svc.Cancel(context.Background(), customer, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 4, env.ledger.stock("laptop"))
}

func TestService_Cancel_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("1000", item("laptop", 2)))

	const attempts = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Cancel(context.Background(), customer, placed.OrderID)
			var terr *InvalidTransitionError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &terr):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, attempts-1, rejected.Load())
	assert.Equal(t, 5, env.ledger.stock("laptop"))
	assert.Equal(t, 2, env.history.count())
}

func TestService_Advance(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("500", item("laptop", 1)))
	ctx := context.Background()

	_, err := env.svc.Advance(ctx, customer, placed.OrderID, AdvanceRequest{To: StatusProcessing})
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = env.svc.Advance(ctx, staff, placed.OrderID, AdvanceRequest{To: StatusDelivered})
	var terr *InvalidTransitionError
	require.True(t, errors.As(err, &terr), "got %v", err)
	assert.Equal(t, StatusConfirmed, terr.From)

	o, err := env.svc.Advance(ctx, staff, placed.OrderID, AdvanceRequest{To: StatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)

	_, err = env.svc.Advance(ctx, staff, placed.OrderID, AdvanceRequest{To: StatusShipped})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "tracking_number", verr.Field)

	eta := serviceNow.Add(72 * time.Hour)
	o, err = env.svc.Advance(ctx, staff, placed.OrderID, AdvanceRequest{
		To:                StatusShipped,
		TrackingNumber:    "TRK-42",
		EstimatedDelivery: &eta,
		Note:              "Handed to courier",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRK-42", o.TrackingNumber)
	require.NotNil(t, o.EstimatedDelivery)
	assert.Equal(t, eta, *o.EstimatedDelivery)

	o, err = env.svc.Advance(ctx, staff, placed.OrderID, AdvanceRequest{To: StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, o.Status)
	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, serviceNow, *o.DeliveredAt)

	entries, err := env.svc.History(ctx, customer, placed.OrderID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	got := make([]Status, len(entries))
	for i, e := range entries {
		got[i] = e.Status
	}
	assert.Equal(t, []Status{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered}, got)
	assert.Equal(t, "Handed to courier", entries[2].Note)
	assert.Equal(t, "Status changed to delivered", entries[3].Note)
	assert.Equal(t, staff.UserID, entries[3].ActorID)

	assert.Equal(t, 4, env.ledger.stock("laptop"))
}

func TestService_Advance_CancelReleasesStock(t *testing.T) {
	env := newTestEnv(t)
	placed := env.place(t, customer, placeRequest("500", item("laptop", 1)))

	o, err := env.svc.Advance(context.Background(), staff, placed.OrderID, AdvanceRequest{To: StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, 5, env.ledger.stock("laptop"))

	entries, err := env.svc.History(context.Background(), staff, placed.OrderID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, NoteCancelledStaff, entries[1].Note)
}

func TestService_Visibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mine := env.place(t, customer, placeRequest("500", item("laptop", 1)))
	env.place(t, customer, placeRequest("25.50", item("mouse", 1)))
	theirs := env.place(t, stranger, placeRequest("25.50", item("mouse", 1)))

	got, err := env.svc.Get(ctx, customer, mine.OrderID)
	require.NoError(t, err)
	assert.Equal(t, mine.Number, got.Number)

	_, err = env.svc.Get(ctx, customer, theirs.OrderID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.History(ctx, customer, theirs.OrderID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err = env.svc.Get(ctx, staff, theirs.OrderID)
	require.NoError(t, err)
	assert.Equal(t, stranger.UserID, got.OwnerID)

	list, err := env.svc.List(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, o := range list {
		assert.Equal(t, customer.UserID, o.OwnerID)
	}
}
