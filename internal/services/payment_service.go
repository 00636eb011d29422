package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/payments/wompi"
	"github.com/totebags/api/internal/repositories"
)

const (
	paymentOutcomeApplied     = "applied"
	paymentOutcomeDuplicate   = "duplicate"
	paymentOutcomeUnmapped    = "unmapped_status"
	paymentOutcomeOtherEvent  = "other_event"
	paymentOutcomeUnknown     = "unknown_order"
	paymentOutcomeRejected    = "transition_rejected"
	paymentOutcomeNoReference = "missing_transaction"
)

var (
	// ErrPaymentInvalidInput indicates a malformed signature request or webhook payload.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotConfigured indicates a Wompi secret is missing from configuration.
	ErrPaymentNotConfigured = errors.New("payment: gateway not configured")
	// ErrPaymentEventUnverified indicates the webhook checksum did not match.
	ErrPaymentEventUnverified = errors.New("payment: event not verified")
)

// WompiSettings holds the gateway keys the payment service signs and verifies with.
type WompiSettings struct {
	PublicKey       string
	IntegritySecret string
	EventsSecret    string
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders   repositories.OrderRepository
	Updater  OrderService
	Settings WompiSettings
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   repositories.OrderRepository
	updater  OrderService
	settings WompiSettings
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService wires the Wompi signer and webhook reconciler.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Updater == nil {
		return nil, errors.New("payment service: order service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:   deps.Orders,
		updater:  deps.Updater,
		settings: deps.Settings,
		logger:   logger,
	}, nil
}

func (s *paymentService) GenerateSignature(ctx context.Context, orderID string) (PaymentSignature, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return PaymentSignature{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return PaymentSignature{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return PaymentSignature{}, fmt.Errorf("payment: load order: %w", err)
	}
	secret := strings.TrimSpace(s.settings.IntegritySecret)
	if secret == "" {
		return PaymentSignature{}, fmt.Errorf("%w: integrity secret is not set", ErrPaymentNotConfigured)
	}

	currency := order.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	amount := order.TotalAmount.MinorUnits()
	return PaymentSignature{
		Reference:     order.ID,
		AmountInCents: amount,
		Currency:      currency,
		Signature:     wompi.IntegritySignature(order.ID, amount, currency, secret),
		PublicKey:     s.settings.PublicKey,
	}, nil
}

func (s *paymentService) HandleEvent(ctx context.Context, event wompi.Event) (result PaymentEventResult, err error) {
	ctx, span := tracer.Start(ctx, "payment.handle_event")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("wompi.event", event.Event))

	secret := strings.TrimSpace(s.settings.EventsSecret)
	if secret == "" {
		return PaymentEventResult{}, fmt.Errorf("%w: events secret is not set", ErrPaymentNotConfigured)
	}
	if err := wompi.VerifyChecksum(event, secret); err != nil {
		s.logger(ctx, "payment.event.rejected", map[string]any{"event": event.Event, "reason": err.Error()})
		return PaymentEventResult{}, fmt.Errorf("%w: %v", ErrPaymentEventUnverified, err)
	}

	ack := func(outcome string, fields map[string]any) PaymentEventResult {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["outcome"] = outcome
		s.logger(ctx, "payment.event.ignored", fields)
		span.SetAttributes(attribute.String("wompi.outcome", outcome))
		return PaymentEventResult{Success: true, Outcome: outcome}
	}

	if event.Event != wompi.EventTransactionUpdated {
		return ack(paymentOutcomeOtherEvent, map[string]any{"event": event.Event}), nil
	}
	tx, err := event.Transaction()
	if err != nil || strings.TrimSpace(tx.Reference) == "" {
		return ack(paymentOutcomeNoReference, nil), nil
	}
	span.SetAttributes(attribute.String("order.id", tx.Reference), attribute.String("wompi.status", tx.Status))

	target, ok := wompi.MapTransactionStatus(tx.Status)
	if !ok {
		return ack(paymentOutcomeUnmapped, map[string]any{"orderId": tx.Reference, "status": tx.Status}), nil
	}

	update, err := s.updater.Update(ctx, UpdateOrderCommand{
		OrderID: tx.Reference,
		Status:  &target,
		Source:  domain.StatusSourceWompi,
		Note:    fmt.Sprintf("wompi transaction %s %s", tx.ID, tx.Status),
	})
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return ack(paymentOutcomeUnknown, map[string]any{"orderId": tx.Reference, "transactionId": tx.ID}), nil
	case errors.Is(err, ErrOrderInvalidTransition):
		s.logger(ctx, "payment.event.transition.rejected", map[string]any{
			"orderId":       tx.Reference,
			"transactionId": tx.ID,
			"status":        tx.Status,
			"error":         err.Error(),
		})
		return PaymentEventResult{Success: true, Outcome: paymentOutcomeRejected}, nil
	case err != nil:
		return PaymentEventResult{}, fmt.Errorf("payment: apply %s to %s: %w", tx.Status, tx.Reference, err)
	}

	if !update.StatusChanged {
		return ack(paymentOutcomeDuplicate, map[string]any{"orderId": tx.Reference, "status": string(target)}), nil
	}
	s.logger(ctx, "payment.event.applied", map[string]any{
		"orderId":       tx.Reference,
		"transactionId": tx.ID,
		"from":          string(update.PreviousStatus),
		"to":            string(target),
	})
	return PaymentEventResult{Success: true, Applied: true, Outcome: paymentOutcomeApplied}, nil
}
