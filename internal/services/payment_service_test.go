package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/payments/wompi"
	"github.com/totebags/api/internal/repositories"
)

const (
	testIntegritySecret = "test_integrity_secret"
	testEventsSecret    = "test_events_secret"
)

func signedEvent(t *testing.T, eventType, reference, status string) wompi.Event {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"transaction": map[string]any{
			"id":              "tx-" + status,
			"amount_in_cents": 9000050,
			"reference":       reference,
			"currency":        "COP",
			"status":          status,
		},
	})
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	event := wompi.Event{
		Event:       eventType,
		Data:        data,
		Environment: "test",
		Signature: wompi.Signature{
			Properties: []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"},
		},
		Timestamp: 1767225600,
	}
	checksum, err := wompi.Checksum(event, testEventsSecret)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	event.Signature.Checksum = checksum
	return event
}

func newTestPaymentService(t *testing.T, repo *memoryOrderRepo, settings WompiSettings, logs *logCapture) PaymentService {
	t.Helper()
	orders := newTestOrderService(t, repo, nil, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	deps := PaymentServiceDeps{Orders: repo, Updater: orders, Settings: settings}
	if logs != nil {
		deps.Logger = logs.log
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func testWompiSettings() WompiSettings {
	return WompiSettings{PublicKey: "pub_test_123", IntegritySecret: testIntegritySecret, EventsSecret: testEventsSecret}
}

func TestPaymentServiceGenerateSignature(t *testing.T) {
	repo := newMemoryOrderRepo()
	order := pendingOrder("01HORDER", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	repo.seed(order)
	svc := newTestPaymentService(t, repo, testWompiSettings(), nil)

	sig, err := svc.GenerateSignature(context.Background(), "01HORDER")
	if err != nil {
		t.Fatalf("generate signature: %v", err)
	}
	if sig.AmountInCents != 9000050 {
		t.Fatalf("expected 90000.50 to become 9000050 cents, got %d", sig.AmountInCents)
	}
	want := wompi.IntegritySignature("01HORDER", 9000050, "COP", testIntegritySecret)
	if sig.Signature != want {
		t.Fatalf("unexpected signature %s", sig.Signature)
	}
	if sig.Reference != "01HORDER" || sig.Currency != "COP" || sig.PublicKey != "pub_test_123" {
		t.Fatalf("unexpected payload %+v", sig)
	}

	again, err := svc.GenerateSignature(context.Background(), "01HORDER")
	if err != nil {
		t.Fatalf("generate signature again: %v", err)
	}
	if again != sig {
		t.Fatalf("expected deterministic signature")
	}
}

func TestPaymentServiceGenerateSignatureErrors(t *testing.T) {
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", time.Now()))

	svc := newTestPaymentService(t, repo, testWompiSettings(), nil)
	if _, err := svc.GenerateSignature(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	unconfigured := newTestPaymentService(t, repo, WompiSettings{PublicKey: "pub"}, nil)
	if _, err := unconfigured.GenerateSignature(context.Background(), "ord_1"); !errors.Is(err, ErrPaymentNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestPaymentServiceHandleEventMapping(t *testing.T) {
	cases := []struct {
		status  string
		want    domain.OrderStatus
		applied bool
	}{
		{status: wompi.StatusApproved, want: domain.OrderStatusPaid, applied: true},
		{status: wompi.StatusDeclined, want: domain.OrderStatusCancelled, applied: true},
		{status: wompi.StatusVoided, want: domain.OrderStatusCancelled, applied: true},
		{status: wompi.StatusError, want: domain.OrderStatusCancelled, applied: true},
		{status: wompi.StatusPending, want: domain.OrderStatusPendingPayment},
		{status: "SOMETHING_NEW", want: domain.OrderStatusPendingPayment},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			repo := newMemoryOrderRepo()
			repo.seed(pendingOrder("ord_1", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
			svc := newTestPaymentService(t, repo, testWompiSettings(), nil)

			result, err := svc.HandleEvent(context.Background(), signedEvent(t, wompi.EventTransactionUpdated, "ord_1", tc.status))
			if err != nil {
				t.Fatalf("handle event: %v", err)
			}
			if !result.Success || result.Applied != tc.applied {
				t.Fatalf("unexpected result %+v", result)
			}
			order, _ := repo.FindByID(context.Background(), "ord_1")
			if order.CurrentStatus() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, order.CurrentStatus())
			}
			if tc.applied && order.History[0].Source != domain.StatusSourceWompi {
				t.Fatalf("expected wompi source, got %s", order.History[0].Source)
			}
		})
	}
}

func TestPaymentServiceReplayedApprovalAppendsOnce(t *testing.T) {
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
	svc := newTestPaymentService(t, repo, testWompiSettings(), nil)
	event := signedEvent(t, wompi.EventTransactionUpdated, "ord_1", wompi.StatusApproved)

	for i := 0; i < 3; i++ {
		result, err := svc.HandleEvent(context.Background(), event)
		if err != nil || !result.Success {
			t.Fatalf("delivery %d: %+v %v", i, result, err)
		}
	}
	if got := repo.historyLen("ord_1"); got != 2 {
		t.Fatalf("expected one PAID row after replays, got %d rows", got)
	}
}

func TestPaymentServiceRejectsTamperedEvent(t *testing.T) {
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
	logs := &logCapture{}
	svc := newTestPaymentService(t, repo, testWompiSettings(), logs)

	event := signedEvent(t, wompi.EventTransactionUpdated, "ord_1", wompi.StatusDeclined)
	tampered := signedEvent(t, wompi.EventTransactionUpdated, "ord_1", wompi.StatusApproved)
	tampered.Signature.Checksum = event.Signature.Checksum

	_, err := svc.HandleEvent(context.Background(), tampered)
	if !errors.Is(err, ErrPaymentEventUnverified) {
		t.Fatalf("expected unverified, got %v", err)
	}
	if repo.historyLen("ord_1") != 1 {
		t.Fatalf("tampered event must not mutate the order")
	}
	if !logs.has("payment.event.rejected") {
		t.Fatalf("expected rejection to be logged")
	}

	forged := signedEvent(t, wompi.EventTransactionUpdated, "ord_1", wompi.StatusApproved)
	forged.Signature.Checksum = ""
	if _, err := svc.HandleEvent(context.Background(), forged); !errors.Is(err, ErrPaymentEventUnverified) {
		t.Fatalf("expected missing checksum to be unverified, got %v", err)
	}
}

func TestPaymentServiceRequiresEventsSecret(t *testing.T) {
	repo := newMemoryOrderRepo()
	svc := newTestPaymentService(t, repo, WompiSettings{IntegritySecret: testIntegritySecret}, nil)
	_, err := svc.HandleEvent(context.Background(), signedEvent(t, wompi.EventTransactionUpdated, "ord_1", wompi.StatusApproved))
	if !errors.Is(err, ErrPaymentNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestPaymentServiceAcknowledgesUnactionableEvents(t *testing.T) {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	cancelled := pendingOrder("ord_cancelled", created)
	cancelled.History = append([]domain.OrderStatusEntry{{Status: domain.OrderStatusCancelled, Source: domain.StatusSourceAdmin, RecordedAt: created.Add(time.Minute)}}, cancelled.History...)

	cases := []struct {
		name    string
		event   func(t *testing.T) wompi.Event
		outcome string
	}{
		{
			name:    "unknown order",
			event:   func(t *testing.T) wompi.Event { return signedEvent(t, wompi.EventTransactionUpdated, "ord_missing", wompi.StatusApproved) },
			outcome: paymentOutcomeUnknown,
		},
		{
			name:    "approval after cancellation",
			event:   func(t *testing.T) wompi.Event { return signedEvent(t, wompi.EventTransactionUpdated, "ord_cancelled", wompi.StatusApproved) },
			outcome: paymentOutcomeRejected,
		},
		{
			name:    "other event type",
			event:   func(t *testing.T) wompi.Event { return signedEvent(t, "nequi_token.updated", "ord_cancelled", wompi.StatusApproved) },
			outcome: paymentOutcomeOtherEvent,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryOrderRepo()
			repo.seed(cancelled)
			svc := newTestPaymentService(t, repo, testWompiSettings(), nil)

			result, err := svc.HandleEvent(context.Background(), tc.event(t))
			if err != nil {
				t.Fatalf("expected acknowledgement, got %v", err)
			}
			if !result.Success || result.Applied || result.Outcome != tc.outcome {
				t.Fatalf("unexpected result %+v", result)
			}
			if repo.historyLen("ord_cancelled") != 2 {
				t.Fatalf("expected cancelled order untouched")
			}
		})
	}
}

func TestPaymentServiceSurfacesStoreFailures(t *testing.T) {
	repo := newMemoryOrderRepo()
	repo.seed(pendingOrder("ord_1", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)))
	repo.appendErr = repositories.NewError("orders.append_status", repositories.ErrorKindUnavailable, "", errors.New("down"))
	svc := newTestPaymentService(t, repo, testWompiSettings(), nil)

	_, err := svc.HandleEvent(context.Background(), signedEvent(t, wompi.EventTransactionUpdated, "ord_1", wompi.StatusApproved))
	if err == nil || !repositories.IsUnavailable(err) {
		t.Fatalf("expected unavailable error so Wompi retries, got %v", err)
	}
}
