package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/textutil"
	"github.com/totebags/api/internal/repositories"
)

const (
	quoteEventCreated       = "quote.created"
	quoteEventDesignApprove = "quote.design_approved"

	quoteIDPrefix = "qte_"

	defaultLogoMaxBytes = 5 << 20
)

var (
	// ErrQuoteInvalidInput signals the intake form is incomplete or malformed.
	ErrQuoteInvalidInput = errors.New("quote: invalid input")
	// ErrQuoteNotFound indicates the quote could not be located.
	ErrQuoteNotFound = errors.New("quote: not found")
	// ErrLogoStorageNotConfigured indicates a logo was uploaded but no bucket is configured.
	ErrLogoStorageNotConfigured = errors.New("quote: logo storage not configured")
)

var allowedLogoTypes = map[string]struct{}{
	"image/png":     {},
	"image/jpeg":    {},
	"image/webp":    {},
	"image/svg+xml": {},
}

// QuoteServiceDeps bundles collaborators required to construct the quote service.
type QuoteServiceDeps struct {
	Quotes       repositories.QuoteRepository
	Logos        LogoStore
	Events       EventPublisher
	SalesPhone   string
	MaxLogoBytes int64
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type quoteService struct {
	quotes       repositories.QuoteRepository
	logos        LogoStore
	events       EventPublisher
	salesPhone   string
	maxLogoBytes int64
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewQuoteService wires the B2B intake service.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Quotes == nil {
		return nil, errors.New("quote service: quote repository is required")
	}
	phone := digitsOnly(deps.SalesPhone)
	if phone == "" {
		return nil, errors.New("quote service: sales phone is required")
	}
	maxBytes := deps.MaxLogoBytes
	if maxBytes <= 0 {
		maxBytes = defaultLogoMaxBytes
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
	return &quoteService{
		quotes:       deps.Quotes,
		logos:        deps.Logos,
		events:       deps.Events,
		salesPhone:   phone,
		maxLogoBytes: maxBytes,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *quoteService) Create(ctx context.Context, cmd CreateQuoteCommand) (receipt QuoteReceipt, err error) {
	ctx, span := tracer.Start(ctx, "quote.create")
	defer func() { endSpan(span, err) }()

	quote, err := s.buildQuote(cmd)
	if err != nil {
		return QuoteReceipt{}, err
	}

	if cmd.Logo != nil {
		if err := s.validateLogo(*cmd.Logo); err != nil {
			return QuoteReceipt{}, err
		}
		if s.logos == nil {
			return QuoteReceipt{}, ErrLogoStorageNotConfigured
		}
		upload := *cmd.Logo
		upload.QuoteID = quote.ID
		logoURL, err := s.logos.UploadLogo(ctx, upload)
		if err != nil {
			return QuoteReceipt{}, fmt.Errorf("quote: upload logo: %w", err)
		}
		quote.LogoURL = &logoURL
	}

	if err := s.quotes.Insert(ctx, quote); err != nil {
		s.discardLogo(ctx, quote)
		return QuoteReceipt{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:        quoteEventCreated,
		AggregateID: quote.ID,
		Payload: map[string]any{
			"businessName": quote.BusinessName,
			"quantity":     quote.Quantity,
			"package":      string(quote.Package),
			"hasLogo":      quote.LogoURL != nil,
		},
	})
	s.logger(ctx, "quote.created", map[string]any{"quoteId": quote.ID, "package": string(quote.Package)})

	return QuoteReceipt{Quote: quote, Message: s.messagePayload(quote)}, nil
}

// discardLogo removes a logo whose quote was never stored.
func (s *quoteService) discardLogo(ctx context.Context, quote Quote) {
	if quote.LogoURL == nil || s.logos == nil {
		return
	}
	if err := s.logos.DeleteLogo(context.WithoutCancel(ctx), *quote.LogoURL); err != nil {
		s.logger(ctx, "quote.logo.orphaned", map[string]any{
			"quoteId": quote.ID,
			"logoUrl": *quote.LogoURL,
			"error":   err.Error(),
		})
	}
}

func (s *quoteService) buildQuote(cmd CreateQuoteCommand) (Quote, error) {
	quote := Quote{
		BusinessName: textutil.Sanitize(cmd.BusinessName),
		Quantity:     cmd.Quantity,
		Department:   textutil.Sanitize(cmd.Department),
		Municipality: textutil.Sanitize(cmd.Municipality),
		Neighborhood: textutil.Sanitize(cmd.Neighborhood),
		Address:      textutil.Sanitize(cmd.Address),
		ContactPhone: textutil.Sanitize(cmd.ContactPhone),
		QRData:       textutil.Sanitize(cmd.QRData),
	}

	var invalid []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"businessName", quote.BusinessName},
		{"department", quote.Department},
		{"municipality", quote.Municipality},
		{"neighborhood", quote.Neighborhood},
		{"address", quote.Address},
		{"contactPhone", quote.ContactPhone},
		{"qrData", quote.QRData},
	} {
		if field.value == "" {
			invalid = append(invalid, field.name)
		}
	}
	if cmd.Quantity < 1 {
		invalid = append(invalid, "quantity")
	}
	qrType, ok := domain.ParseQRType(cmd.QRType)
	if !ok {
		invalid = append(invalid, "qrType")
	}
	if len(invalid) > 0 {
		return Quote{}, fmt.Errorf("%w: missing or invalid fields [%s]", ErrQuoteInvalidInput, strings.Join(invalid, ", "))
	}

	now := s.clock()
	quote.ID = quoteIDPrefix + s.newID()
	quote.QRType = qrType
	quote.Package = domain.ClassifyQuotePackage(cmd.Quantity)
	quote.Status = domain.QuoteStatusPending
	quote.CreatedAt = now
	quote.UpdatedAt = now
	return quote, nil
}

func (s *quoteService) validateLogo(logo LogoUpload) error {
	contentType := strings.ToLower(strings.TrimSpace(logo.ContentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	if _, ok := allowedLogoTypes[contentType]; !ok {
		return fmt.Errorf("%w: logo must be png, jpeg, webp or svg", ErrQuoteInvalidInput)
	}
	if logo.Size <= 0 || logo.Size > s.maxLogoBytes {
		return fmt.Errorf("%w: logo must be between 1 byte and %d bytes", ErrQuoteInvalidInput, s.maxLogoBytes)
	}
	if logo.Body == nil {
		return fmt.Errorf("%w: logo body is empty", ErrQuoteInvalidInput)
	}
	return nil
}

func (s *quoteService) messagePayload(quote Quote) MessagePayload {
	message := fmt.Sprintf("Hola, soy %s. Quote ID: %s", quote.BusinessName, quote.ID)
	link := "https://wa.me/" + s.salesPhone + "?text=" + strings.ReplaceAll(url.QueryEscape(message), "+", "%20")
	return MessagePayload{Phone: s.salesPhone, Message: message, Link: link}
}

func (s *quoteService) List(ctx context.Context) ([]Quote, error) {
	quotes, err := s.quotes.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if quotes == nil {
		quotes = []Quote{}
	}
	return quotes, nil
}

func (s *quoteService) ApproveDesign(ctx context.Context, quoteID string) (Quote, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return Quote{}, fmt.Errorf("%w: quote id is required", ErrQuoteInvalidInput)
	}
	current, err := s.quotes.FindByID(ctx, quoteID)
	if err != nil {
		return Quote{}, s.mapRepositoryError(err)
	}
	if current.Status == domain.QuoteStatusDesignApproved {
		return current, nil
	}

	updated, err := s.quotes.UpdateStatus(ctx, quoteID, domain.QuoteStatusDesignApproved, s.clock())
	if err != nil {
		return Quote{}, s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, DomainEvent{
		Type:        quoteEventDesignApprove,
		AggregateID: quoteID,
		Payload:     map[string]any{"businessName": updated.BusinessName},
	})
	return updated, nil
}

func (s *quoteService) publishEvent(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	event.ID = eventIDPrefix + s.newID()
	event.OccurredAt = s.clock()
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "quote.event.publish.failed", map[string]any{
			"eventType": event.Type,
			"quoteId":   event.AggregateID,
			"error":     err.Error(),
		})
	}
}

func (s *quoteService) mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrQuoteNotFound, err)
	case repositories.IsConflict(err), repositories.KindOf(err) == repositories.ErrorKindInvalidInput:
		return fmt.Errorf("%w: %v", ErrQuoteInvalidInput, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("quote: repository unavailable: %w", err)
	}
	return fmt.Errorf("quote: %w", err)
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
