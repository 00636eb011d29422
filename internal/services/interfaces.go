package services

import (
	"context"
	"io"
	"time"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/payments/wompi"
)

// Domain type aliases keep handler signatures short.
type (
	Order              = domain.Order
	Profile            = domain.Profile
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	Quote              = domain.Quote
	Product            = domain.Product
	ProductionBatch    = domain.ProductionBatch
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService covers checkout, order lookups and the status ledger.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	ListByCustomer(ctx context.Context, userID string) ([]Order, error)
	// Update applies a status transition and/or fulfilment fields under a row lock.
	Update(ctx context.Context, cmd UpdateOrderCommand) (OrderUpdateResult, error)
}

// ProfileService serves the back office customer directory.
type ProfileService interface {
	List(ctx context.Context, role string) ([]Profile, error)
	Get(ctx context.Context, profileID string) (ProfileDetail, error)
}

// ProfileDetail is a profile with its orders, newest first.
type ProfileDetail struct {
	Profile Profile
	Orders  []Order
}

// PaymentService hands orders to the Wompi widget and reconciles its events.
type PaymentService interface {
	GenerateSignature(ctx context.Context, orderID string) (PaymentSignature, error)
	HandleEvent(ctx context.Context, event wompi.Event) (PaymentEventResult, error)
}

// QuoteService records B2B bulk order requests.
type QuoteService interface {
	Create(ctx context.Context, cmd CreateQuoteCommand) (QuoteReceipt, error)
	List(ctx context.Context) ([]Quote, error)
	ApproveDesign(ctx context.Context, quoteID string) (Quote, error)
}

// CatalogService manages products, their variants and collections.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	ListProducts(ctx context.Context, collectionID string) ([]Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	RemoveProduct(ctx context.Context, productID string) (ProductRemoval, error)
}

// ProductionService plans print batches from paid orders.
type ProductionService interface {
	Batches(ctx context.Context, query ProductionBatchQuery) ([]ProductionBatch, error)
}

// CounterService issues formatted sequence numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService exposes dependency health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher delivers domain events to the configured broker.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// DomainEvent is the envelope published for order and quote changes.
type DomainEvent struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregateId"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// LogoStore persists uploaded B2B logos and returns their public URL.
type LogoStore interface {
	UploadLogo(ctx context.Context, upload LogoUpload) (string, error)
	// DeleteLogo removes an object previously returned by UploadLogo.
	DeleteLogo(ctx context.Context, logoURL string) error
}

// LogoUpload carries the logo bytes with the metadata used to name the object.
type LogoUpload struct {
	QuoteID     string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CreateOrderCommand is the checkout payload.
type CreateOrderCommand struct {
	FirstName       string
	LastName        string
	CustomerEmail   string
	CustomerPhone   string
	Department      string
	City            string
	ShippingAddress ShippingAddressInput
	Currency        string
	ProfileID       *string
	// Customer is the verified caller. When set, its profile is provisioned
	// and linked in place of ProfileID.
	Customer        *CustomerIdentity
	Items           []OrderItemInput
}

// CustomerIdentity is the shopper behind a verified bearer token.
type CustomerIdentity struct {
	UserID string
	Email  string
	Admin  bool
}

// ShippingAddressInput is the structured delivery address.
type ShippingAddressInput struct {
	City    string
	Address string
	Phone   string
}

// OrderItemInput is a line item as submitted at checkout.
type OrderItemInput struct {
	ProductID string
	VariantID *string
	SKU       string
	Quantity  int
	UnitPrice domain.Money
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     []OrderStatus
	Pagination domain.Pagination
}

// UpdateOrderCommand patches an order. At least one field must be set.
type UpdateOrderCommand struct {
	OrderID        string
	Status         *OrderStatus
	TrackingNumber *string
	Carrier        *string
	Source         domain.StatusSource
	Note           string
}

// OrderUpdateResult reports the order after the update and whether a history row was appended.
type OrderUpdateResult struct {
	Order          Order
	PreviousStatus OrderStatus
	StatusChanged  bool
}

// PaymentSignature is what the storefront needs to open the Wompi widget.
type PaymentSignature struct {
	Reference     string `json:"reference"`
	AmountInCents int64  `json:"amountInCents"`
	Currency      string `json:"currency"`
	Signature     string `json:"signature"`
	PublicKey     string `json:"publicKey"`
}

// PaymentEventResult is the acknowledgement returned to Wompi.
type PaymentEventResult struct {
	Success bool   `json:"success"`
	Applied bool   `json:"-"`
	Outcome string `json:"-"`
}

// CreateQuoteCommand is the B2B intake form.
type CreateQuoteCommand struct {
	BusinessName string
	Quantity     int
	Department   string
	Municipality string
	Neighborhood string
	Address      string
	ContactPhone string
	QRType       string
	QRData       string
	Logo         *LogoUpload
}

// QuoteReceipt returns the stored quote and the prepared sales message.
type QuoteReceipt struct {
	Quote   Quote
	Message MessagePayload
}

// MessagePayload is a WhatsApp message prepared for the customer to send.
type MessagePayload struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Link    string `json:"link"`
}

// CreateProductCommand carries a new catalog design with its variants.
type CreateProductCommand struct {
	Name             string
	Slug             string
	Description      string
	BasePrice        domain.Money
	MinPrice         domain.Money
	ComparePrice     *domain.Money
	CostPrice        *domain.Money
	Status           string
	CollectionID     string
	CollectionName   string
	Tags             []string
	DeliveryTime     string
	Material         string
	Dimensions       string
	CareInstructions string
	PrintType        string
	SEOTitle         string
	SEODescription   string
	Images           []ProductImageInput
	Variants         []ProductVariantInput
}

// ProductImageInput describes a gallery image.
type ProductImageInput struct {
	URL      string
	Alt      string
	Position *int
}

// ProductVariantInput describes a sellable colourway.
type ProductVariantInput struct {
	SKU      string
	Color    string
	ImageURL string
	Stock    int
}

// UpdateProductCommand is a partial product update. Nil fields are left untouched.
type UpdateProductCommand struct {
	ProductID        string
	Name             *string
	Slug             *string
	Description      *string
	BasePrice        *domain.Money
	MinPrice         *domain.Money
	ComparePrice     *domain.Money
	CostPrice        *domain.Money
	Status           *string
	IsActive         *bool
	CollectionID     *string
	CollectionName   *string
	Tags             *[]string
	DeliveryTime     *string
	Material         *string
	Dimensions       *string
	CareInstructions *string
	PrintType        *string
	SEOTitle         *string
	SEODescription   *string
	Images           *[]ProductImageInput
}

// ProductRemoval reports how a product was removed.
type ProductRemoval struct {
	Product     Product
	SoftDeleted bool
}

// ProductionBatchQuery selects which orders feed the batch plan.
type ProductionBatchQuery struct {
	// CutoffToday limits the plan to orders created today before the cutoff hour.
	CutoffToday bool
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(time.Time, int64) string
}

// CounterValue is a raw sequence value and its formatted rendering.
type CounterValue struct {
	Value     int64
	Formatted string
}
