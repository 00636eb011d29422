package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/auth"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/pagination"
	"github.com/totebags/api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 128 * 1024
	maxOrderUpdateBodySize = 4 * 1024

	cutoffToday = "today"
)

// OrderHandlers exposes checkout, order lookups and the admin status endpoints.
type OrderHandlers struct {
	access      Access
	orders      services.OrderService
	production  services.ProductionService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithProductionService enables GET /orders/production-batches.
func WithProductionService(svc services.ProductionService) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.production = svc
	}
}

// WithCreateOrderMiddleware wraps POST /orders, typically with the idempotency middleware.
func WithCreateOrderMiddleware(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(access Access, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		access: access,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	admin := h.access.admin()

	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.With(h.access.identify()).Method(http.MethodPost, "/", create)
	r.With(admin).Get("/", h.listOrders)
	r.With(admin).Get("/production-batches", h.productionBatches)
	r.Get("/user/{userID}", h.listCustomerOrders)
	r.Get("/{orderID}", h.getOrder)
	r.With(admin).Patch("/{orderID}", h.updateOrder)
}

type createOrderRequest struct {
	FirstName       string                    `json:"firstName"`
	LastName        string                    `json:"lastName"`
	CustomerEmail   string                    `json:"customerEmail"`
	CustomerPhone   string                    `json:"customerPhone"`
	Department      string                    `json:"department"`
	City            string                    `json:"city"`
	ShippingAddress createOrderAddressRequest `json:"shippingAddress"`
	Currency        string                    `json:"currency"`
	ProfileID       *string                   `json:"profileId"`
	Items           []createOrderItemRequest  `json:"items"`
}

type createOrderAddressRequest struct {
	City    string `json:"city"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type createOrderItemRequest struct {
	ProductID string       `json:"productId"`
	VariantID *string      `json:"variantId"`
	SKU       string       `json:"sku"`
	Quantity  int          `json:"quantity"`
	Price     domain.Money `json:"price"`
}

type updateOrderRequest struct {
	Status         *string `json:"status"`
	TrackingNumber *string `json:"trackingNumber"`
	Carrier        *string `json:"carrier"`
	Note           string  `json:"note"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderCreateBodySize, &req) {
		return
	}

	caller, _ := auth.IdentityFromContext(ctx)
	items := make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: trimmedPtr(item.VariantID),
			SKU:       strings.TrimSpace(item.SKU),
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Department:    req.Department,
		City:          req.City,
		ShippingAddress: services.ShippingAddressInput{
			City:    req.ShippingAddress.City,
			Address: req.ShippingAddress.Address,
			Phone:   req.ShippingAddress.Phone,
		},
		Currency:  req.Currency,
		ProfileID: trimmedPtr(req.ProfileID),
		Customer:  h.access.customer(caller),
		Items:     items,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, buildOrderPayload(order), nil)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	page, err := pagination.Parse(query, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var statuses []services.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+raw, http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
	}

	result, err := h.orders.List(ctx, services.OrderListFilter{
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  page.PageSize,
			PageToken: page.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderPayload(order))
	}
	metadata := map[string]any{"page_size": page.PageSize}
	if token := strings.TrimSpace(result.NextPageToken); token != "" {
		metadata["next_page_token"] = token
	}
	httpx.WriteData(w, http.StatusOK, items, metadata)
}

func (h *OrderHandlers) productionBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.production == nil {
		httpx.WriteError(ctx, w, httpx.NewError("production_service_unavailable", "production planning unavailable", http.StatusServiceUnavailable))
		return
	}

	var query services.ProductionBatchQuery
	switch cutoff := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("cutoff"))); cutoff {
	case "":
	case cutoffToday:
		query.CutoffToday = true
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cutoff must be \"today\" when provided", http.StatusBadRequest))
		return
	}

	batches, err := h.production.Batches(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	payload := make([]productionBatchPayload, 0, len(batches))
	for _, batch := range batches {
		payload = append(payload, productionBatchPayload{
			SKU:              batch.SKU,
			ProductName:      batch.ProductName,
			ImageURL:         batch.ImageURL,
			TotalQuantity:    batch.TotalQuantity,
			PriorityQuantity: batch.PriorityQuantity,
			OrderCount:       batch.OrderCount,
			OrderNumbers:     batch.OrderNumbers,
		})
	}
	httpx.WriteData(w, http.StatusOK, payload, nil)
}

func (h *OrderHandlers) listCustomerOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := urlParam(r, "userID")
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}
	orders, err := h.orders.ListByCustomer(ctx, userID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteData(w, http.StatusOK, items, nil)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := urlParam(r, "orderID")
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildOrderPayload(order), nil)
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := urlParam(r, "orderID")
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderRequest
	if !decodeJSONBody(w, r, maxOrderUpdateBodySize, &req) {
		return
	}

	cmd := services.UpdateOrderCommand{
		OrderID:        orderID,
		TrackingNumber: trimmedPtr(req.TrackingNumber),
		Carrier:        trimmedPtr(req.Carrier),
		Source:         domain.StatusSourceAdmin,
		Note:           strings.TrimSpace(req.Note),
	}
	if req.Status != nil {
		status, ok := domain.ParseOrderStatus(*req.Status)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+strings.TrimSpace(*req.Status), http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}

	result, err := h.orders.Update(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildOrderPayload(result.Order), map[string]any{
		"status_changed":  result.StatusChanged,
		"previous_status": string(result.PreviousStatus),
	})
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	Status          string                 `json:"status"`
	ProfileID       *string                `json:"profileId,omitempty"`
	CustomerEmail   string                 `json:"customerEmail"`
	CustomerPhone   string                 `json:"customerPhone"`
	ShippingCity    string                 `json:"shippingCity"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	Currency        string                 `json:"currency"`
	TotalAmount     domain.Money           `json:"totalAmount"`
	Carrier         *string                `json:"carrier,omitempty"`
	TrackingNumber  *string                `json:"trackingNumber,omitempty"`
	Items           []orderItemPayload     `json:"items"`
	StatusHistory   []orderStatusPayload   `json:"statusHistory"`
	CreatedAt       string                 `json:"createdAt"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ID          string       `json:"id"`
	ProductID   string       `json:"productId"`
	VariantID   *string      `json:"variantId,omitempty"`
	SKU         string       `json:"sku"`
	Quantity    int          `json:"quantity"`
	UnitPrice   domain.Money `json:"unitPrice"`
	Subtotal    domain.Money `json:"subtotal"`
	ProductName string       `json:"productName,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
}

type orderStatusPayload struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Source     string `json:"source,omitempty"`
	Note       string `json:"note,omitempty"`
	RecordedAt string `json:"recordedAt"`
}

type productionBatchPayload struct {
	SKU              string   `json:"sku"`
	ProductName      string   `json:"productName,omitempty"`
	ImageURL         string   `json:"imageUrl,omitempty"`
	TotalQuantity    int      `json:"totalQuantity"`
	PriorityQuantity int      `json:"priorityQuantity"`
	OrderCount       int      `json:"orderCount"`
	OrderNumbers     []string `json:"orderNumbers"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		Status:          string(order.CurrentStatus()),
		ProfileID:       order.ProfileID,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		ShippingCity:    order.ShippingCity,
		ShippingAddress: order.ShippingAddress,
		Currency:        order.Currency,
		TotalAmount:     order.TotalAmount,
		Carrier:         order.Carrier,
		TrackingNumber:  order.TrackingNumber,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		StatusHistory:   make([]orderStatusPayload, 0, len(order.History)),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal(),
			ProductName: item.ProductName,
			ImageURL:    item.ImageURL,
		})
	}
	for _, entry := range order.History {
		payload.StatusHistory = append(payload.StatusHistory, orderStatusPayload{
			ID:         entry.ID,
			Status:     string(entry.Status),
			Source:     string(entry.Source),
			Note:       entry.Note,
			RecordedAt: formatTime(entry.RecordedAt),
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid pageToken", http.StatusBadRequest))
	default:
		writeUnexpectedError(ctx, w, "order_error", err)
	}
}
