package handlers

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/ratelimit"
	"github.com/totebags/api/internal/services"
)

const (
	logoFormField          = "logo"
	defaultQuoteBodyLimit  = 6 << 20
	multipartMemoryLimit   = 1 << 20
	maxQuoteJSONBodySize   = 16 * 1024
	defaultQuoteRateLimit  = 10
	defaultQuoteRateWindow = time.Hour
)

// B2BHandlers serves the bulk-order intake form and the admin quote review endpoints.
type B2BHandlers struct {
	access    Access
	quotes    services.QuoteService
	limiter   ratelimit.Limiter
	bodyLimit int64
}

// B2BHandlersOption customises B2BHandlers.
type B2BHandlersOption func(*B2BHandlers)

// WithQuoteRateLimit overrides how many quotes one client address may submit per window.
// A non-positive limit disables rate limiting.
func WithQuoteRateLimit(limit int, window time.Duration, clock func() time.Time) B2BHandlersOption {
	return func(h *B2BHandlers) {
		h.limiter = memoryLimiter(limit, window, clock)
	}
}

// WithQuoteLimiter installs a shared limiter, typically Redis-backed when
// several replicas serve the intake form.
func WithQuoteLimiter(limiter ratelimit.Limiter) B2BHandlersOption {
	return func(h *B2BHandlers) {
		if limiter != nil {
			h.limiter = limiter
		}
	}
}

func memoryLimiter(limit int, window time.Duration, clock func() time.Time) ratelimit.Limiter {
	if fw := ratelimit.NewFixedWindow(limit, window, clock); fw != nil {
		return fw
	}
	return nil
}

// WithQuoteBodyLimit caps the multipart request size, logo included.
func WithQuoteBodyLimit(limit int64) B2BHandlersOption {
	return func(h *B2BHandlers) {
		if limit > 0 {
			h.bodyLimit = limit
		}
	}
}

// NewB2BHandlers constructs a new B2BHandlers instance.
func NewB2BHandlers(access Access, quotes services.QuoteService, opts ...B2BHandlersOption) *B2BHandlers {
	h := &B2BHandlers{
		access:    access,
		quotes:    quotes,
		limiter:   memoryLimiter(defaultQuoteRateLimit, defaultQuoteRateWindow, nil),
		bodyLimit: defaultQuoteBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /b2b endpoints.
func (h *B2BHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	admin := h.access.admin()
	r.With(limitByClientIP(h.limiter)).Post("/quote", h.createQuote)
	r.With(admin).Get("/quotes", h.listQuotes)
	r.With(admin).Patch("/quotes/{quoteID}/approve", h.approveDesign)
}

type createQuoteRequest struct {
	BusinessName string `json:"businessName"`
	Quantity     int    `json:"quantity"`
	Department   string `json:"department"`
	Municipality string `json:"municipality"`
	Neighborhood string `json:"neighborhood"`
	Address      string `json:"address"`
	ContactPhone string `json:"contactPhone"`
	QRType       string `json:"qrType"`
	QRData       string `json:"qrData"`
}

func (h *B2BHandlers) createQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "quote service unavailable", http.StatusServiceUnavailable))
		return
	}

	var cmd services.CreateQuoteCommand
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var req createQuoteRequest
		if !decodeJSONBody(w, r, maxQuoteJSONBodySize, &req) {
			return
		}
		cmd = quoteCommandFromRequest(req)
	case "multipart/form-data", "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit)
		var (
			file multipart.File
			err  error
		)
		cmd, file, err = h.parseQuoteForm(r)
		if file != nil {
			defer file.Close()
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "quote request too large", http.StatusRequestEntityTooLarge))
				return
			}
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
	default:
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "expected multipart/form-data or application/json", http.StatusUnsupportedMediaType))
		return
	}

	receipt, err := h.quotes.Create(ctx, cmd)
	if err != nil {
		writeQuoteError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusCreated, quoteReceiptPayload{
		Quote:   buildQuotePayload(receipt.Quote),
		Message: receipt.Message,
	}, nil)
}

// parseQuoteForm reads the form fields and the optional logo part. The returned file must be
// closed by the caller.
func (h *B2BHandlers) parseQuoteForm(r *http.Request) (services.CreateQuoteCommand, multipart.File, error) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return services.CreateQuoteCommand{}, nil, err
	}
	if r.MultipartForm == nil {
		if err := r.ParseForm(); err != nil {
			return services.CreateQuoteCommand{}, nil, err
		}
	}

	req := createQuoteRequest{
		BusinessName: r.FormValue("businessName"),
		Department:   r.FormValue("department"),
		Municipality: r.FormValue("municipality"),
		Neighborhood: r.FormValue("neighborhood"),
		Address:      r.FormValue("address"),
		ContactPhone: r.FormValue("contactPhone"),
		QRType:       r.FormValue("qrType"),
		QRData:       r.FormValue("qrData"),
	}
	if raw := strings.TrimSpace(r.FormValue("quantity")); raw != "" {
		quantity, err := strconv.Atoi(raw)
		if err != nil {
			return services.CreateQuoteCommand{}, nil, errors.New("quantity must be an integer")
		}
		req.Quantity = quantity
	}
	cmd := quoteCommandFromRequest(req)

	if r.MultipartForm == nil {
		return cmd, nil, nil
	}
	file, header, err := r.FormFile(logoFormField)
	if errors.Is(err, http.ErrMissingFile) {
		return cmd, nil, nil
	}
	if err != nil {
		return services.CreateQuoteCommand{}, nil, err
	}
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename)))
	}
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = parsed
	}
	cmd.Logo = &services.LogoUpload{
		FileName:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	}
	return cmd, file, nil
}

func quoteCommandFromRequest(req createQuoteRequest) services.CreateQuoteCommand {
	return services.CreateQuoteCommand{
		BusinessName: req.BusinessName,
		Quantity:     req.Quantity,
		Department:   req.Department,
		Municipality: req.Municipality,
		Neighborhood: req.Neighborhood,
		Address:      req.Address,
		ContactPhone: req.ContactPhone,
		QRType:       req.QRType,
		QRData:       req.QRData,
	}
}

func (h *B2BHandlers) listQuotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "quote service unavailable", http.StatusServiceUnavailable))
		return
	}
	quotes, err := h.quotes.List(ctx)
	if err != nil {
		writeQuoteError(ctx, w, err)
		return
	}
	items := make([]quotePayload, 0, len(quotes))
	for _, quote := range quotes {
		items = append(items, buildQuotePayload(quote))
	}
	httpx.WriteData(w, http.StatusOK, items, nil)
}

func (h *B2BHandlers) approveDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quote_service_unavailable", "quote service unavailable", http.StatusServiceUnavailable))
		return
	}
	quoteID := urlParam(r, "quoteID")
	if quoteID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quote id is required", http.StatusBadRequest))
		return
	}
	quote, err := h.quotes.ApproveDesign(ctx, quoteID)
	if err != nil {
		writeQuoteError(ctx, w, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, buildQuotePayload(quote), nil)
}

type quoteReceiptPayload struct {
	Quote   quotePayload            `json:"quote"`
	Message services.MessagePayload `json:"messagePayload"`
}

type quotePayload struct {
	ID           string  `json:"id"`
	BusinessName string  `json:"businessName"`
	Quantity     int     `json:"quantity"`
	Department   string  `json:"department"`
	Municipality string  `json:"municipality"`
	Neighborhood string  `json:"neighborhood"`
	Address      string  `json:"address"`
	ContactPhone string  `json:"contactPhone"`
	QRType       string  `json:"qrType"`
	QRData       string  `json:"qrData"`
	Package      string  `json:"package"`
	LogoURL      *string `json:"logoUrl"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt,omitempty"`
}

func buildQuotePayload(quote domain.Quote) quotePayload {
	return quotePayload{
		ID:           quote.ID,
		BusinessName: quote.BusinessName,
		Quantity:     quote.Quantity,
		Department:   quote.Department,
		Municipality: quote.Municipality,
		Neighborhood: quote.Neighborhood,
		Address:      quote.Address,
		ContactPhone: quote.ContactPhone,
		QRType:       string(quote.QRType),
		QRData:       quote.QRData,
		Package:      string(quote.Package),
		LogoURL:      quote.LogoURL,
		Status:       string(quote.Status),
		CreatedAt:    formatTime(quote.CreatedAt),
		UpdatedAt:    formatTime(quote.UpdatedAt),
	}
}

func writeQuoteError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrQuoteInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrQuoteNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("quote_not_found", "quote not found", http.StatusNotFound))
	case errors.Is(err, services.ErrLogoStorageNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("logo_storage_not_configured", err.Error(), http.StatusBadRequest))
	default:
		writeUnexpectedError(ctx, w, "quote_error", err)
	}
}
