package postgres

import (
	"context"
	"database/sql"
	"errors"

	ppostgres "github.com/totebags/api/internal/platform/postgres"
	"github.com/totebags/api/internal/repositories"
)

// Registry bundles the Postgres repositories behind repositories.Registry.
type Registry struct {
	db       *sql.DB
	closer   func() error
	orders   *OrderRepository
	profiles *ProfileRepository
	quotes   *QuoteRepository
	catalog  *CatalogRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository to db. closer releases the pool on Close and may be nil.
func NewRegistry(db *sql.DB, health repositories.HealthRepository, closer func() error) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires database")
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	profiles, err := NewProfileRepository(db)
	if err != nil {
		return nil, err
	}
	quotes, err := NewQuoteRepository(db)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(db)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(db)
	if err != nil {
		return nil, err
	}
	return &Registry{
		db:       db,
		closer:   closer,
		orders:   orders,
		profiles: profiles,
		quotes:   quotes,
		catalog:  catalog,
		counters: counters,
		health:   health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Profiles() repositories.ProfileRepository { return r.profiles }
func (r *Registry) Quotes() repositories.QuoteRepository     { return r.quotes }
func (r *Registry) Catalog() repositories.CatalogRepository  { return r.catalog }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return ppostgres.RunInTx(ctx, r.db, fn)
}

// Close releases the underlying pool.
func (r *Registry) Close(context.Context) error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
