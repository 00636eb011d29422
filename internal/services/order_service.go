package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
	profileIDPrefix   = "prf_"
	eventIDPrefix     = "evt_"

	// maxItemQuantity matches the INTEGER quantity column.
	maxItemQuantity = math.MaxInt32
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the status graph does not allow the requested move.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a duplicate order or a serialisation failure.
	ErrOrderConflict = errors.New("order: conflict")
)

var tracer = otel.Tracer("github.com/totebags/api/internal/services")

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Profiles    repositories.ProfileRepository
	Counters    CounterService
	UnitOfWork  repositories.UnitOfWork
	Events      EventPublisher
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	profiles   repositories.ProfileRepository
	counters   CounterService
	unitOfWork repositories.UnitOfWork
	events     EventPublisher
	currency   string
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	return &orderService{
		orders:     deps.Orders,
		profiles:   deps.Profiles,
		counters:   deps.Counters,
		unitOfWork: unit,
		events:     deps.Events,
		currency:   currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, span := tracer.Start(ctx, "order.create")
	defer func() { endSpan(span, err) }()

	items, err := s.validateCreate(cmd)
	if err != nil {
		return Order{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if len(currency) != 3 {
		return Order{}, fmt.Errorf("%w: currency must be a 3 letter code", ErrOrderInvalidInput)
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: allocate number: %w", err)
	}

	now := s.now()
	order = Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   number,
		ProfileID:     trimmedPtr(cmd.ProfileID),
		CustomerEmail: strings.TrimSpace(cmd.CustomerEmail),
		CustomerPhone: strings.TrimSpace(cmd.CustomerPhone),
		ShippingCity:  strings.TrimSpace(cmd.City),
		ShippingAddress: domain.ShippingAddress{
			City:       strings.TrimSpace(cmd.ShippingAddress.City),
			Address:    strings.TrimSpace(cmd.ShippingAddress.Address),
			Phone:      strings.TrimSpace(cmd.ShippingAddress.Phone),
			FirstName:  strings.TrimSpace(cmd.FirstName),
			LastName:   strings.TrimSpace(cmd.LastName),
			Department: strings.TrimSpace(cmd.Department),
		},
		Currency:  currency,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range order.Items {
		order.Items[i].ID = orderItemIDPrefix + s.newID()
	}
	if order.TotalAmount, err = domain.ComputeOrderTotal(order.Items); err != nil {
		return Order{}, fmt.Errorf("%w: total amount: %v", ErrOrderInvalidInput, err)
	}
	order.History = []domain.OrderStatusEntry{{
		Status:     domain.OrderStatusPendingPayment,
		Source:     domain.StatusSourceCheckout,
		RecordedAt: now,
	}}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("order.items", len(order.Items)))

	if err := s.runInTx(ctx, func(txCtx context.Context) error {
		profileID, err := s.ensureProfile(txCtx, cmd.Customer, order.CustomerEmail, now)
		if err != nil {
			return err
		}
		if profileID != "" {
			order.ProfileID = &profileID
		}
		return s.orders.Insert(txCtx, order)
	}); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:        orderEventCreated,
		AggregateID: order.ID,
		Payload: map[string]any{
			"orderNumber":   order.OrderNumber,
			"totalAmount":   order.TotalAmount.MinorUnits(),
			"currency":      order.Currency,
			"itemCount":     len(order.Items),
			"currentStatus": string(domain.OrderStatusPendingPayment),
		},
	})
	s.logger(ctx, "order.created", map[string]any{"orderId": order.ID, "orderNumber": order.OrderNumber})
	return order, nil
}

// ensureProfile upserts the profile of a verified customer and returns its id.
// Guests and deployments without a profile store get an empty id.
func (s *orderService) ensureProfile(ctx context.Context, customer *CustomerIdentity, fallbackEmail string, now time.Time) (string, error) {
	if customer == nil || s.profiles == nil {
		return "", nil
	}
	userID := strings.TrimSpace(customer.UserID)
	if userID == "" {
		return "", nil
	}
	email := strings.TrimSpace(customer.Email)
	if email == "" {
		email = fallbackEmail
	}
	role := domain.ProfileRoleCustomer
	if customer.Admin {
		role = domain.ProfileRoleAdmin
	}
	profile, err := s.profiles.Upsert(ctx, domain.Profile{
		ID:        profileIDPrefix + s.newID(),
		UserID:    userID,
		Email:     email,
		Role:      role,
		CreatedAt: now,
	})
	if err != nil {
		return "", err
	}
	return profile.ID, nil
}

func (s *orderService) validateCreate(cmd CreateOrderCommand) ([]OrderLineItem, error) {
	var invalid []string
	required := []struct {
		field string
		value string
	}{
		{"firstName", cmd.FirstName},
		{"lastName", cmd.LastName},
		{"customerEmail", cmd.CustomerEmail},
		{"customerPhone", cmd.CustomerPhone},
		{"department", cmd.Department},
		{"city", cmd.City},
		{"shippingAddress.city", cmd.ShippingAddress.City},
		{"shippingAddress.address", cmd.ShippingAddress.Address},
		{"shippingAddress.phone", cmd.ShippingAddress.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			invalid = append(invalid, r.field)
		}
	}
	if email := strings.TrimSpace(cmd.CustomerEmail); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			invalid = append(invalid, "customerEmail")
		}
	}

	if len(cmd.Items) == 0 {
		invalid = append(invalid, "items")
	}
	items := make([]OrderLineItem, 0, len(cmd.Items))
	for i, in := range cmd.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		if strings.TrimSpace(in.ProductID) == "" {
			invalid = append(invalid, prefix+"productId")
		}
		if strings.TrimSpace(in.SKU) == "" {
			invalid = append(invalid, prefix+"sku")
		}
		if in.Quantity <= 0 || in.Quantity > maxItemQuantity {
			invalid = append(invalid, prefix+"quantity")
		}
		if in.UnitPrice <= 0 {
			invalid = append(invalid, prefix+"price")
		}
		items = append(items, OrderLineItem{
			ProductID: strings.TrimSpace(in.ProductID),
			VariantID: trimmedPtr(in.VariantID),
			SKU:       strings.TrimSpace(in.SKU),
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
		})
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: missing or invalid fields [%s]", ErrOrderInvalidInput, strings.Join(invalid, ", "))
	}
	return items, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	if page.Items == nil {
		page.Items = []Order{}
	}
	return page, nil
}

func (s *orderService) ListByCustomer(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

func (s *orderService) Update(ctx context.Context, cmd UpdateOrderCommand) (result OrderUpdateResult, err error) {
	ctx, span := tracer.Start(ctx, "order.update")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderUpdateResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Status == nil && cmd.TrackingNumber == nil && cmd.Carrier == nil {
		return OrderUpdateResult{}, fmt.Errorf("%w: one of status, trackingNumber or carrier is required", ErrOrderInvalidInput)
	}
	var target OrderStatus
	if cmd.Status != nil {
		parsed, ok := domain.ParseOrderStatus(string(*cmd.Status))
		if !ok {
			return OrderUpdateResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, *cmd.Status)
		}
		target = parsed
	}
	source := cmd.Source
	if source == "" {
		source = domain.StatusSourceAdmin
	}
	carrier := trimmedPtr(cmd.Carrier)
	tracking := trimmedPtr(cmd.TrackingNumber)
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("order.status.target", string(target)))

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.LockForUpdate(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		now := s.now()
		current := order.CurrentStatus()
		result.PreviousStatus = current

		// Re-sending the current status is a no-op: the ledger only records
		// transitions, so a self-transition appends no row.
		if cmd.Status != nil && target != current {
			if !domain.CanTransition(current, target) {
				return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, current, target)
			}
			entry, err := s.orders.AppendStatus(txCtx, orderID, domain.OrderStatusEntry{
				Status:     target,
				Source:     source,
				Note:       strings.TrimSpace(cmd.Note),
				RecordedAt: now,
			})
			if err != nil {
				return s.mapRepositoryError(err)
			}
			order.History = append([]domain.OrderStatusEntry{entry}, order.History...)
			result.StatusChanged = true
		}

		if result.StatusChanged || carrier != nil || tracking != nil {
			if err := s.orders.UpdateFulfilment(txCtx, orderID, carrier, tracking, now); err != nil {
				return s.mapRepositoryError(err)
			}
			if carrier != nil {
				order.Carrier = carrier
			}
			if tracking != nil {
				order.TrackingNumber = tracking
			}
			order.UpdatedAt = now
		}
		result.Order = order
		return nil
	})
	if err != nil {
		return OrderUpdateResult{}, err
	}

	if result.StatusChanged {
		s.publishEvent(ctx, DomainEvent{
			Type:        orderEventStatusChanged,
			AggregateID: orderID,
			Payload: map[string]any{
				"orderNumber":    result.Order.OrderNumber,
				"previousStatus": string(result.PreviousStatus),
				"currentStatus":  string(target),
				"source":         string(source),
			},
		})
		s.logger(ctx, "order.status.changed", map[string]any{
			"orderId": orderID,
			"from":    string(result.PreviousStatus),
			"to":      string(target),
			"source":  string(source),
		})
	}
	return result, nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	event.ID = eventIDPrefix + s.newID()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"eventType": event.Type,
			"orderId":   event.AggregateID,
			"error":     err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderInvalidTransition) || errors.Is(err, ErrOrderInvalidInput) {
		return err
	}
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	case repositories.KindOf(err) == repositories.ErrorKindInvalidInput:
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("order: repository unavailable: %w", err)
	}
	return fmt.Errorf("order: %w", err)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
