// Package wompi implements the integrity signature and event checksum used by the Wompi
// payment gateway.
package wompi

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/totebags/api/internal/domain"
)

// EventTransactionUpdated is the only event type carrying a transaction.
const EventTransactionUpdated = "transaction.updated"

// Transaction statuses reported by Wompi.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusVoided   = "VOIDED"
	StatusError    = "ERROR"
	StatusPending  = "PENDING"
)

var (
	// ErrMalformedEvent signals a payload that cannot be verified.
	ErrMalformedEvent = errors.New("wompi: malformed event")
	// ErrChecksumMismatch signals a payload whose checksum does not match its content.
	ErrChecksumMismatch = errors.New("wompi: checksum mismatch")
)

// Event is the webhook envelope. Data is kept raw so checksum properties can be
// resolved against exactly what was sent.
type Event struct {
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	Environment string          `json:"environment"`
	Signature   Signature       `json:"signature"`
	Timestamp   int64           `json:"timestamp"`
	SentAt      string          `json:"sent_at"`
}

// Signature lists the data properties concatenated into the checksum.
type Signature struct {
	Checksum   string   `json:"checksum"`
	Properties []string `json:"properties"`
}

// Transaction is the subset of transaction fields the service reconciles on.
type Transaction struct {
	ID                string `json:"id"`
	CreatedAt         string `json:"created_at"`
	AmountInCents     int64  `json:"amount_in_cents"`
	Reference         string `json:"reference"`
	Currency          string `json:"currency"`
	PaymentMethodType string `json:"payment_method_type"`
	Status            string `json:"status"`
	StatusMessage     string `json:"status_message"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return event, nil
}

// Transaction decodes data.transaction.
func (e Event) Transaction() (Transaction, error) {
	var payload struct {
		Transaction *Transaction `json:"transaction"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return Transaction{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if payload.Transaction == nil {
		return Transaction{}, fmt.Errorf("%w: transaction missing", ErrMalformedEvent)
	}
	return *payload.Transaction, nil
}

// IntegritySignature returns hex(sha256(reference + amountInCents + currency + secret)),
// the value the checkout widget expects.
func IntegritySignature(reference string, amountInCents int64, currency, secret string) string {
	sum := sha256.Sum256([]byte(reference + strconv.FormatInt(amountInCents, 10) + currency + secret))
	return hex.EncodeToString(sum[:])
}

// Checksum computes the event checksum from the listed properties, the timestamp and the secret.
func Checksum(event Event, secret string) (string, error) {
	if len(event.Signature.Properties) == 0 {
		return "", fmt.Errorf("%w: signature properties missing", ErrMalformedEvent)
	}
	data, err := decodeData(event.Data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, property := range event.Signature.Properties {
		value, err := resolveProperty(data, property)
		if err != nil {
			return "", err
		}
		b.WriteString(value)
	}
	b.WriteString(strconv.FormatInt(event.Timestamp, 10))
	b.WriteString(secret)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChecksum recomputes the checksum and compares it in constant time.
func VerifyChecksum(event Event, secret string) error {
	provided := strings.ToLower(strings.TrimSpace(event.Signature.Checksum))
	if provided == "" {
		return fmt.Errorf("%w: checksum missing", ErrMalformedEvent)
	}
	expected, err := Checksum(event, secret)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return ErrChecksumMismatch
	}
	return nil
}

// MapTransactionStatus maps a Wompi status onto the order status it implies.
// The boolean is false for statuses that require no action.
func MapTransactionStatus(status string) (domain.OrderStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case StatusApproved:
		return domain.OrderStatusPaid, true
	case StatusVoided, StatusDeclined, StatusError:
		return domain.OrderStatusCancelled, true
	default:
		return "", false
	}
}

func decodeData(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: data missing", ErrMalformedEvent)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return data, nil
}

// resolveProperty walks a dotted path such as "transaction.amount_in_cents".
func resolveProperty(data map[string]any, path string) (string, error) {
	var current any = data
	for _, segment := range strings.Split(strings.TrimSpace(path), ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: property %q not found", ErrMalformedEvent, path)
		}
		current, ok = obj[segment]
		if !ok {
			return "", fmt.Errorf("%w: property %q not found", ErrMalformedEvent, path)
		}
	}
	switch v := current.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("%w: property %q is not a scalar", ErrMalformedEvent, path)
	}
}
