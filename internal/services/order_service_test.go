package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/repositories"
)

// memoryOrderRepo keeps orders in memory and mimics the ledger semantics of the Postgres store.
type memoryOrderRepo struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	nextEntryID int64
	locks       int
	insertErr   error
	appendErr   error
	listFn      func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	byUser      map[string][]string
	created     []domain.Order

	// owners resolves profile ids so ListByUser mirrors the profiles join.
	owners *memoryProfileRepo
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: map[string]domain.Order{}, byUser: map[string][]string{}}
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return repositories.NewError("orders.insert", repositories.ErrorKindConflict, "orders_pkey", nil)
	}
	for i := range order.History {
		r.nextEntryID++
		order.History[i].ID = r.nextEntryID
	}
	r.orders[order.ID] = order
	r.created = append(r.created, order)
	if order.ProfileID != nil && r.owners != nil {
		if userID := r.owners.userOf(*order.ProfileID); userID != "" {
			r.byUser[userID] = append([]string{order.ID}, r.byUser[userID]...)
		}
	}
	return nil
}

func (r *memoryOrderRepo) seed(order domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range order.History {
		r.nextEntryID++
		order.History[i].ID = r.nextEntryID
	}
	r.orders[order.ID] = order
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewError("orders.find", repositories.ErrorKindNotFound, "", nil)
	}
	order.History = append([]domain.OrderStatusEntry(nil), order.History...)
	return order, nil
}

func (r *memoryOrderRepo) LockForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	r.locks++
	r.mu.Unlock()
	return r.FindByID(ctx, orderID)
}

func (r *memoryOrderRepo) UpdateFulfilment(_ context.Context, orderID string, carrier, trackingNumber *string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return repositories.NewError("orders.update_fulfilment", repositories.ErrorKindNotFound, "", nil)
	}
	if carrier != nil {
		order.Carrier = carrier
	}
	if trackingNumber != nil {
		order.TrackingNumber = trackingNumber
	}
	order.UpdatedAt = updatedAt
	r.orders[orderID] = order
	return nil
}

func (r *memoryOrderRepo) AppendStatus(_ context.Context, orderID string, entry domain.OrderStatusEntry) (domain.OrderStatusEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return domain.OrderStatusEntry{}, r.appendErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.OrderStatusEntry{}, repositories.NewError("orders.append_status", repositories.ErrorKindNotFound, "", nil)
	}
	r.nextEntryID++
	entry.ID = r.nextEntryID
	order.History = append([]domain.OrderStatusEntry{entry}, order.History...)
	r.orders[orderID] = order
	return entry, nil
}

func (r *memoryOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (r *memoryOrderRepo) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, id := range r.byUser[userID] {
		out = append(out, r.orders[id])
	}
	return out, nil
}

func (r *memoryOrderRepo) ListAwaitingProduction(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if !domain.AwaitingProduction(order.CurrentStatus()) {
			continue
		}
		if !from.IsZero() && order.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !order.CreatedAt.Before(to) {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

func (r *memoryOrderRepo) CountItemsForProduct(_ context.Context, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, order := range r.orders {
		for _, item := range order.Items {
			if item.ProductID == productID {
				count++
			}
		}
	}
	return count, nil
}

func (r *memoryOrderRepo) historyLen(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders[orderID].History)
}

type stubCounterService struct {
	number string
	err    error
}

func (s stubCounterService) Next(context.Context, string, string, CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not implemented")
}

func (s stubCounterService) NextOrderNumber(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.number, nil
}

type captureEvents struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (c *captureEvents) Publish(_ context.Context, event DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

type stubUnitOfWork struct {
	calls int
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	s.calls++
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type logCapture struct {
	mu     sync.Mutex
	events []string
}

func (l *logCapture) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *logCapture) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "ID" + strings.Repeat("0", 3) + string(rune('A'+n-1))
	}
}

func validCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		FirstName:     "Ana",
		LastName:      "Gómez",
		CustomerEmail: "ana@example.com",
		CustomerPhone: "3001234567",
		Department:    "Antioquia",
		City:          "Medellín",
		ShippingAddress: ShippingAddressInput{
			City:    "Medellín",
			Address: "Calle 10 # 43-12",
			Phone:   "3001234567",
		},
		Items: []OrderItemInput{
			{ProductID: "prd_a", SKU: "A", Quantity: 2, UnitPrice: 4500000},
			{ProductID: "prd_b", SKU: "B", Quantity: 1, UnitPrice: 3800000},
		},
	}
}

func newTestOrderService(t *testing.T, repo *memoryOrderRepo, events EventPublisher, now time.Time) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      repo,
		Counters:    stubCounterService{number: "TB-2026-000001"},
		UnitOfWork:  &stubUnitOfWork{},
		Events:      events,
		Clock:       fixedClock(now),
		IDGenerator: sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func pendingOrder(id string, created time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "TB-2026-000007",
		Currency:    "COP",
		TotalAmount: 9000050,
		Items: []domain.OrderLineItem{
			{ID: "itm_1", ProductID: "prd_a", SKU: "TB-URBANA-MONSTERA-NEGRO", Quantity: 2, UnitPrice: 4500025},
		},
		History: []domain.OrderStatusEntry{
			{Status: domain.OrderStatusPendingPayment, Source: domain.StatusSourceCheckout, RecordedAt: created},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func statusPtr(status domain.OrderStatus) *domain.OrderStatus {
	return &status
}

func TestOrderServiceCreateComputesTotalAndHistory(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	repo := newMemoryOrderRepo()
	events := &captureEvents{}
	svc := newTestOrderService(t, repo, events, now)

	order, err := svc.Create(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if order.TotalAmount != 12800000 {
		t.Fatalf("expected total 128000.00, got %s", order.TotalAmount)
	}
	if order.OrderNumber != "TB-2026-000001" {
		t.Fatalf("expected allocated order number, got %s", order.OrderNumber)
	}
	if !strings.HasPrefix(order.ID, orderIDPrefix) {
		t.Fatalf("expected order id prefix, got %s", order.ID)
	}
	if order.Currency != domain.DefaultCurrency {
		t.Fatalf("expected default currency, got %s", order.Currency)
	}
	if len(order.History) != 1 || order.History[0].Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected single pending history entry, got %+v", order.History)
	}
	if order.History[0].RecordedAt.Before(order.CreatedAt) {
		t.Fatalf("history entry predates order creation")
	}
	if order.ShippingAddress.FirstName != "Ana" || order.ShippingAddress.Department != "Antioquia" {
		t.Fatalf("expected denormalised name and department, got %+v", order.ShippingAddress)
	}
	for _, item := range order.Items {
		if !strings.HasPrefix(item.ID, orderItemIDPrefix) {
			t.Fatalf("expected item id prefix, got %s", item.ID)
		}
	}
	if len(repo.created) != 1 || repo.created[0].TotalAmount != order.TotalAmount {
		t.Fatalf("expected order persisted with total, got %+v", repo.created)
	}
	if got := events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("expected order.created event, got %v", got)
	}
}

func TestOrderServiceCreateValidation(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*CreateOrderCommand)
		field  string
	}{
		{name: "no items", mutate: func(c *CreateOrderCommand) { c.Items = nil }, field: "items"},
		{name: "zero quantity", mutate: func(c *CreateOrderCommand) { c.Items[0].Quantity = 0 }, field: "items[0].quantity"},
		{name: "quantity beyond column range", mutate: func(c *CreateOrderCommand) { c.Items[0].Quantity = maxItemQuantity + 1 }, field: "items[0].quantity"},
		{name: "total overflows", mutate: func(c *CreateOrderCommand) {
			c.Items[0].UnitPrice = 4_000_000_000_000_000_000
			c.Items[0].Quantity = 5
		}, field: "total amount"},
		{name: "negative price", mutate: func(c *CreateOrderCommand) { c.Items[1].UnitPrice = -1 }, field: "items[1].price"},
		{name: "blank sku", mutate: func(c *CreateOrderCommand) { c.Items[0].SKU = " " }, field: "items[0].sku"},
		{name: "missing product", mutate: func(c *CreateOrderCommand) { c.Items[0].ProductID = "" }, field: "items[0].productId"},
		{name: "bad email", mutate: func(c *CreateOrderCommand) { c.CustomerEmail = "not-an-email" }, field: "customerEmail"},
		{name: "missing address", mutate: func(c *CreateOrderCommand) { c.ShippingAddress.Address = "" }, field: "shippingAddress.address"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryOrderRepo()
			svc := newTestOrderService(t, repo, nil, now)
			cmd := validCreateCommand()
			tc.mutate(&cmd)

			_, err := svc.Create(context.Background(), cmd)
			if !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("expected %s in error, got %v", tc.field, err)
			}
			if len(repo.created) != 0 {
				t.Fatalf("expected nothing persisted")
			}
		})
	}
}

func TestOrderServiceCreatePersistenceFailureLeavesNothing(t *testing.T) {
	repo := newMemoryOrderRepo()
	repo.insertErr = repositories.NewError("orders.insert", repositories.ErrorKindUnavailable, "", errors.New("connection reset"))
	events := &captureEvents{}
	svc := newTestOrderService(t, repo, events, time.Now())

	_, err := svc.Create(context.Background(), validCreateCommand())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !repositories.IsUnavailable(err) {
		t.Fatalf("expected unavailable error to be preserved, got %v", err)
	}
	if len(events.types()) != 0 {
		t.Fatalf("expected no events on failure")
	}
}

func TestOrderServiceGetNotFound(t *testing.T) {
	svc := newTestOrderService(t, newMemoryOrderRepo(), nil, time.Now())
	if _, err := svc.Get(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceListByCustomerEmpty(t *testing.T) {
	svc := newTestOrderService(t, newMemoryOrderRepo(), nil, time.Now())
	orders, err := svc.ListByCustomer(context.Background(), "user-without-orders")
	if err != nil {
		t.Fatalf("list by customer: %v", err)
	}
	if orders == nil || len(orders) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", orders)
	}
}

func TestOrderServiceListPassesFilter(t *testing.T) {
	repo := newMemoryOrderRepo()
	var captured repositories.OrderListFilter
	repo.listFn = func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
		captured = filter
		return domain.CursorPage[domain.Order]{NextPageToken: "next"}, nil
	}
	svc := newTestOrderService(t, repo, nil, time.Now())

	page, err := svc.List(context.Background(), OrderListFilter{
		Status:     []domain.OrderStatus{domain.OrderStatusPaid},
		Pagination: domain.Pagination{PageSize: 20, PageToken: "tok"},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.NextPageToken != "next" || page.Items == nil {
		t.Fatalf("unexpected page %+v", page)
	}
	if len(captured.Status) != 1 || captured.Pagination.PageSize != 20 || captured.Pagination.PageToken != "tok" {
		t.Fatalf("filter not forwarded: %+v", captured)
	}
}

func TestOrderServiceUpdateStatusAppendsOneEntry(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := created.Add(2 * time.Hour)
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", created))
	events := &captureEvents{}
	svc := newTestOrderService(t, repo, events, now)

	result, err := svc.Update(context.Background(), UpdateOrderCommand{OrderID: "ord_1", Status: statusPtr(domain.OrderStatusPaid)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !result.StatusChanged || result.PreviousStatus != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Order.CurrentStatus() != domain.OrderStatusPaid {
		t.Fatalf("expected PAID, got %s", result.Order.CurrentStatus())
	}
	if got := repo.historyLen("ord_1"); got != 2 {
		t.Fatalf("expected 2 history rows, got %d", got)
	}
	if result.Order.History[0].Source != domain.StatusSourceAdmin {
		t.Fatalf("expected admin source by default, got %s", result.Order.History[0].Source)
	}
	if repo.locks != 1 {
		t.Fatalf("expected row lock, got %d", repo.locks)
	}
	if got := events.types(); len(got) != 1 || got[0] != orderEventStatusChanged {
		t.Fatalf("expected status changed event, got %v", got)
	}
}

func TestOrderServiceUpdateTrackingOnlyAppendsNothing(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", created))
	events := &captureEvents{}
	svc := newTestOrderService(t, repo, events, created.Add(time.Hour))

	tracking := " 7700123 "
	carrier := "Servientrega"
	result, err := svc.Update(context.Background(), UpdateOrderCommand{OrderID: "ord_1", TrackingNumber: &tracking, Carrier: &carrier})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.StatusChanged {
		t.Fatalf("expected no status change")
	}
	if got := repo.historyLen("ord_1"); got != 1 {
		t.Fatalf("expected history untouched, got %d rows", got)
	}
	if result.Order.TrackingNumber == nil || *result.Order.TrackingNumber != "7700123" {
		t.Fatalf("expected trimmed tracking number, got %v", result.Order.TrackingNumber)
	}
	if len(events.types()) != 0 {
		t.Fatalf("expected no events, got %v", events.types())
	}
}

// A status update always appends one history row, except when the requested
// status is already current: self-transitions are not recorded.
func TestOrderServiceUpdateSameStatusIsNoop(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", created))
	svc := newTestOrderService(t, repo, nil, created.Add(time.Hour))

	result, err := svc.Update(context.Background(), UpdateOrderCommand{OrderID: "ord_1", Status: statusPtr(domain.OrderStatusPendingPayment)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if result.StatusChanged || repo.historyLen("ord_1") != 1 {
		t.Fatalf("expected no new history row")
	}
}

func TestOrderServiceUpdateTransitions(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		path    []domain.OrderStatus
		target  domain.OrderStatus
		wantErr error
	}{
		{name: "pending to cancelled", target: domain.OrderStatusCancelled},
		{name: "pending to shipped", target: domain.OrderStatusShipped, wantErr: ErrOrderInvalidTransition},
		{name: "paid to production", path: []domain.OrderStatus{domain.OrderStatusPaid}, target: domain.OrderStatusInProduction},
		{name: "delivered is terminal", path: []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusInProduction, domain.OrderStatusShipped, domain.OrderStatusDelivered}, target: domain.OrderStatusPendingPayment, wantErr: ErrOrderInvalidTransition},
		{name: "cancelled is terminal", path: []domain.OrderStatus{domain.OrderStatusCancelled}, target: domain.OrderStatusPaid, wantErr: ErrOrderInvalidTransition},
		{name: "production cannot cancel", path: []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusInProduction}, target: domain.OrderStatusCancelled, wantErr: ErrOrderInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryOrderRepo()
			repo.seed(pendingOrder("ord_1", created))
			svc := newTestOrderService(t, repo, nil, created.Add(time.Hour))
			ctx := context.Background()
			for _, step := range tc.path {
				if _, err := svc.Update(ctx, UpdateOrderCommand{OrderID: "ord_1", Status: statusPtr(step)}); err != nil {
					t.Fatalf("setup transition to %s: %v", step, err)
				}
			}
			before := repo.historyLen("ord_1")

			_, err := svc.Update(ctx, UpdateOrderCommand{OrderID: "ord_1", Status: statusPtr(tc.target)})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if repo.historyLen("ord_1") != before {
					t.Fatalf("rejected transition must not append history")
				}
				return
			}
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if repo.historyLen("ord_1") != before+1 {
				t.Fatalf("expected exactly one appended row")
			}
		})
	}
}

func TestOrderServiceUpdateValidation(t *testing.T) {
	svc := newTestOrderService(t, newMemoryOrderRepo(), nil, time.Now())
	ctx := context.Background()

	if _, err := svc.Update(ctx, UpdateOrderCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected empty patch to be invalid, got %v", err)
	}
	if _, err := svc.Update(ctx, UpdateOrderCommand{OrderID: "ord_1", Status: statusPtr("LOST")}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status to be invalid, got %v", err)
	}
	if _, err := svc.Update(ctx, UpdateOrderCommand{OrderID: "ord_missing", Status: statusPtr(domain.OrderStatusPaid)}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceUpdateRunsInTransaction(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", created))
	repo.appendErr = repositories.NewError("orders.append_status", repositories.ErrorKindUnavailable, "", errors.New("timeout"))
	unit := &stubUnitOfWork{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     repo,
		Counters:   stubCounterService{number: "TB-2026-000001"},
		UnitOfWork: unit,
		Clock:      fixedClock(created),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	tracking := "123"
	_, err = svc.Update(context.Background(), UpdateOrderCommand{OrderID: "ord_1", Status: statusPtr(domain.OrderStatusPaid), TrackingNumber: &tracking})
	if err == nil {
		t.Fatalf("expected append failure")
	}
	if unit.calls != 1 {
		t.Fatalf("expected one transaction, got %d", unit.calls)
	}
	order, _ := repo.FindByID(context.Background(), "ord_1")
	if order.TrackingNumber != nil {
		t.Fatalf("tracking must not be written when the status append fails")
	}
}

func TestOrderServiceEventPublishFailureIsLogged(t *testing.T) {
	logs := &logCapture{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   newMemoryOrderRepo(),
		Counters: stubCounterService{number: "TB-2026-000001"},
		Events:   &captureEvents{err: errors.New("broker down")},
		Logger:   logs.log,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	if _, err := svc.Create(context.Background(), validCreateCommand()); err != nil {
		t.Fatalf("create must succeed when publishing fails: %v", err)
	}
	if !logs.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure to be logged, got %v", logs.events)
	}
}

func TestNewOrderServiceRequiresDeps(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: newMemoryOrderRepo()}); err == nil {
		t.Fatalf("expected error without counter service")
	}
}
