package domain

import (
	"fmt"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// DefaultCurrency is the ISO currency code used when checkout omits one.
const DefaultCurrency = "COP"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPaid indicates payment succeeded and production can begin.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusInProduction indicates the bags are being printed or sewn.
	OrderStatusInProduction OrderStatus = "IN_PRODUCTION"
	// OrderStatusShipped indicates the parcel was handed to the carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled before fulfilment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ParseOrderStatus normalises user input into a known status.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	status := OrderStatus(normalizeEnum(value))
	if _, ok := orderStateTransitions[status]; !ok {
		return "", false
	}
	return status, true
}

// StatusSource identifies which actor appended a history entry.
type StatusSource string

const (
	StatusSourceCheckout StatusSource = "checkout"
	StatusSourceAdmin    StatusSource = "admin"
	StatusSourceWompi    StatusSource = "wompi"
)

// ShippingAddress is the structured delivery address captured at checkout.
type ShippingAddress struct {
	City       string `json:"city"`
	Address    string `json:"address"`
	Phone      string `json:"phone"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Department string `json:"department"`
}

// OrderLineItem is an immutable snapshot of what the customer bought. ProductID and VariantID
// are lookup-only references; SKU and UnitPrice are authoritative for fulfilment.
type OrderLineItem struct {
	ID        string
	ProductID string
	VariantID *string
	SKU       string
	Quantity  int
	UnitPrice Money

	// Display data resolved on read; empty when the product no longer exists.
	ProductName string
	ImageURL    string
}

// Subtotal returns unit price times quantity for display. Persisted items
// were bounded by ComputeOrderTotal at checkout.
func (i OrderLineItem) Subtotal() Money {
	return i.UnitPrice * Money(i.Quantity)
}

// OrderStatusEntry is an append-only history record.
type OrderStatusEntry struct {
	ID         int64
	Status     OrderStatus
	Source     StatusSource
	Note       string
	RecordedAt time.Time
}

// Order aggregates checkout data, its line items and its status ledger.
type Order struct {
	ID              string
	OrderNumber     string
	ProfileID       *string
	CustomerEmail   string
	CustomerPhone   string
	ShippingCity    string
	ShippingAddress ShippingAddress
	Currency        string
	TotalAmount     Money
	Carrier         *string
	TrackingNumber  *string
	Items           []OrderLineItem
	// History is ordered newest first.
	History   []OrderStatusEntry
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CurrentStatus derives the order status from the newest history entry.
func (o Order) CurrentStatus() OrderStatus {
	var (
		latest OrderStatusEntry
		found  bool
	)
	for _, entry := range o.History {
		if !found || newerEntry(entry, latest) {
			latest = entry
			found = true
		}
	}
	if !found {
		return ""
	}
	return latest.Status
}

func newerEntry(a, b OrderStatusEntry) bool {
	if a.RecordedAt.Equal(b.RecordedAt) {
		return a.ID > b.ID
	}
	return a.RecordedAt.After(b.RecordedAt)
}

// ComputeOrderTotal sums unit price times quantity across items. It returns
// ErrMoneyOverflow instead of a wrapped total.
func ComputeOrderTotal(items []OrderLineItem) (Money, error) {
	var total Money
	for _, item := range items {
		subtotal, err := item.UnitPrice.Mul(int64(item.Quantity))
		if err != nil {
			return 0, fmt.Errorf("sku %s: %w", item.SKU, err)
		}
		if total, err = total.Add(subtotal); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ProfileRole separates back office staff from shoppers.
type ProfileRole string

const (
	ProfileRoleAdmin    ProfileRole = "ADMIN"
	ProfileRoleCustomer ProfileRole = "CUSTOMER"
)

// ParseProfileRole validates a role filter.
func ParseProfileRole(value string) (ProfileRole, bool) {
	switch role := ProfileRole(normalizeEnum(value)); role {
	case ProfileRoleAdmin, ProfileRoleCustomer:
		return role, true
	default:
		return "", false
	}
}

// Profile links an identity-provider user to the orders placed under it.
// OrderCount is filled by listings only.
type Profile struct {
	ID         string
	UserID     string
	Email      string
	Role       ProfileRole
	OrderCount int
	CreatedAt  time.Time
}

// QuoteStatus enumerates the review states of a B2B quote.
type QuoteStatus string

const (
	QuoteStatusPending        QuoteStatus = "PENDING"
	QuoteStatusDesignApproved QuoteStatus = "DESIGN_APPROVED"
)

// QuotePackage is the service tier assigned to a bulk order.
type QuotePackage string

const (
	QuotePackageStarter QuotePackage = "Starter"
	QuotePackagePro     QuotePackage = "Pro"
	QuotePackageEvento  QuotePackage = "Evento"
)

// ClassifyQuotePackage maps a requested quantity onto its service tier.
// Both boundaries of the Pro tier are inclusive.
func ClassifyQuotePackage(quantity int) QuotePackage {
	switch {
	case quantity < 50:
		return QuotePackageStarter
	case quantity <= 200:
		return QuotePackagePro
	default:
		return QuotePackageEvento
	}
}

// QRType describes what the printed QR code should open.
type QRType string

const (
	QRTypeWhatsApp  QRType = "WHATSAPP"
	QRTypeWeb       QRType = "WEB"
	QRTypeInstagram QRType = "INSTAGRAM"
)

// ParseQRType validates a QR destination type.
func ParseQRType(value string) (QRType, bool) {
	switch qr := QRType(normalizeEnum(value)); qr {
	case QRTypeWhatsApp, QRTypeWeb, QRTypeInstagram:
		return qr, true
	default:
		return "", false
	}
}

// Quote captures a B2B bulk order request.
type Quote struct {
	ID           string
	BusinessName string
	Quantity     int
	Department   string
	Municipality string
	Neighborhood string
	Address      string
	ContactPhone string
	QRType       QRType
	QRData       string
	Package      QuotePackage
	LogoURL      *string
	Status       QuoteStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProductStatus enumerates catalog availability states.
type ProductStatus string

const (
	ProductStatusAvailable   ProductStatus = "AVAILABLE"
	ProductStatusMadeToOrder ProductStatus = "MADE_TO_ORDER"
	ProductStatusOutOfStock  ProductStatus = "OUT_OF_STOCK"
)

// ParseProductStatus validates a catalog status value.
func ParseProductStatus(value string) (ProductStatus, bool) {
	switch status := ProductStatus(normalizeEnum(value)); status {
	case ProductStatusAvailable, ProductStatusMadeToOrder, ProductStatusOutOfStock:
		return status, true
	default:
		return "", false
	}
}

// PrintType enumerates decoration techniques.
type PrintType string

const (
	PrintTypeScreen     PrintType = "SCREEN"
	PrintTypeDTF        PrintType = "DTF"
	PrintTypeEmbroidery PrintType = "EMBROIDERY"
)

// ParsePrintType validates a decoration technique.
func ParsePrintType(value string) (PrintType, bool) {
	switch pt := PrintType(normalizeEnum(value)); pt {
	case PrintTypeScreen, PrintTypeDTF, PrintTypeEmbroidery:
		return pt, true
	default:
		return "", false
	}
}

// Collection groups designs; its name is the second SKU segment.
type Collection struct {
	ID   string
	Name string
	Slug string
}

// ProductImage is a gallery image.
type ProductImage struct {
	ID       string
	URL      string
	Alt      string
	Position int
}

// ProductVariant is a sellable colourway of a product.
type ProductVariant struct {
	ID       string
	SKU      string
	Color    string
	ImageURL string
	Stock    int
}

// Product is a catalog design with its variants.
type Product struct {
	ID               string
	Name             string
	Slug             string
	Description      string
	BasePrice        Money
	MinPrice         Money
	ComparePrice     *Money
	CostPrice        *Money
	Status           ProductStatus
	IsActive         bool
	Collection       Collection
	Tags             []string
	DeliveryTime     string
	Material         string
	Dimensions       string
	CareInstructions string
	PrintType        *PrintType
	SEOTitle         string
	SEODescription   string
	Images           []ProductImage
	Variants         []ProductVariant
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProductionBatch totals the quantity of a SKU that has to be produced.
type ProductionBatch struct {
	SKU              string
	ProductName      string
	ImageURL         string
	TotalQuantity    int
	PriorityQuantity int
	OrderCount       int
	OrderNumbers     []string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency answered with an error.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or was cancelled.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness probes.
type SystemHealthReport struct {
	Status      string
	Version     string
	Environment string
	Uptime      time.Duration
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
