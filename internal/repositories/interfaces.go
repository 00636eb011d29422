package repositories

import (
	"context"
	"time"

	domain "github.com/totebags/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Profiles() ProfileRepository
	Quotes() QuoteRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary.
// Repositories called with the ctx passed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists orders, their immutable line items and the status ledger.
type OrderRepository interface {
	// Insert writes the order header, items and every history entry on the order.
	Insert(ctx context.Context, order domain.Order) error
	// FindByID loads the order with items and history (newest first).
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// LockForUpdate loads the order like FindByID while holding a row lock until the
	// surrounding transaction ends.
	LockForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateFulfilment writes carrier and tracking number.
	UpdateFulfilment(ctx context.Context, orderID string, carrier, trackingNumber *string, updatedAt time.Time) error
	// AppendStatus appends a history entry and returns it with its assigned sequence id.
	AppendStatus(ctx context.Context, orderID string, entry domain.OrderStatusEntry) (domain.OrderStatusEntry, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// ListAwaitingProduction returns orders whose current status is PAID, created
	// in [from, to). Zero bounds leave that side open.
	ListAwaitingProduction(ctx context.Context, from, to time.Time) ([]domain.Order, error)
	// CountItemsForProduct counts line items referencing the product.
	CountItemsForProduct(ctx context.Context, productID string) (int, error)
}

// ProfileRepository stores customer profiles keyed by identity-provider user id.
type ProfileRepository interface {
	// Upsert creates the profile for profile.UserID or refreshes its email and
	// role, returning the stored row.
	Upsert(ctx context.Context, profile domain.Profile) (domain.Profile, error)
	FindByID(ctx context.Context, profileID string) (domain.Profile, error)
	// List returns profiles newest first with their order counts. An empty role
	// lists every profile.
	List(ctx context.Context, role domain.ProfileRole) ([]domain.Profile, error)
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// QuoteRepository persists B2B quotes.
type QuoteRepository interface {
	Insert(ctx context.Context, quote domain.Quote) error
	FindByID(ctx context.Context, quoteID string) (domain.Quote, error)
	UpdateStatus(ctx context.Context, quoteID string, status domain.QuoteStatus, updatedAt time.Time) (domain.Quote, error)
	List(ctx context.Context) ([]domain.Quote, error)
}

// CatalogRepository persists products, variants, images and collections.
type CatalogRepository interface {
	FindCollectionByID(ctx context.Context, collectionID string) (domain.Collection, error)
	// FindCollectionByNameOrSlug returns a not-found error when neither matches.
	FindCollectionByNameOrSlug(ctx context.Context, name, slug string) (domain.Collection, error)
	InsertCollection(ctx context.Context, collection domain.Collection) error

	InsertProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product, replaceImages bool) error
	DeleteProduct(ctx context.Context, productID string) error
	FindProductByID(ctx context.Context, productID string) (domain.Product, error)
	FindProductBySlug(ctx context.Context, slug string) (domain.Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) ([]domain.Product, error)
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	CollectionID    string
	IncludeInactive bool
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository reports the state of backing dependencies for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
