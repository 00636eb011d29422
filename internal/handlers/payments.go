package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/totebags/api/internal/payments/wompi"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/requestctx"
	"github.com/totebags/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// PaymentHandlers serves the Wompi widget signature and the Wompi event webhook.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: payments}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/wompi/signature/{orderID}", h.signature)
	r.Post("/wompi/webhook", h.webhook)
}

func (h *PaymentHandlers) signature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := urlParam(r, "orderID")
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	signature, err := h.payments.GenerateSignature(ctx, orderID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, signature, nil)
}

func (h *PaymentHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body too large", http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", "webhook body is required", http.StatusBadRequest))
		return
	}

	event, err := wompi.ParseEvent(body)
	if err != nil {
		requestctx.Logger(ctx).Warn("wompi event rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", "malformed event payload", http.StatusBadRequest))
		return
	}

	result, err := h.payments.HandleEvent(ctx, event)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("wompi event processed",
		zap.String("event", event.Event),
		zap.String("outcome", result.Outcome),
		zap.Bool("applied", result.Applied),
	)
	httpx.WriteData(w, http.StatusOK, result, nil)
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentEventUnverified):
		httpx.WriteError(ctx, w, httpx.NewError("event_unverified", "event checksum verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPaymentNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_configured", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		writeOrderError(ctx, w, err)
	}
}
