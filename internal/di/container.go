package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/totebags/api/internal/platform/config"
	"github.com/totebags/api/internal/platform/observability"
	"github.com/totebags/api/internal/repositories"
	"github.com/totebags/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderService
	Profiles   services.ProfileService
	Counters   services.CounterService
	Payments   services.PaymentService
	Quotes     services.QuoteService
	Catalog    services.CatalogService
	Production services.ProductionService
	System     services.SystemService
}

// Infrastructure carries the external adapters built before the container: the event
// publisher and logo store are optional and left nil when not configured.
type Infrastructure struct {
	Events services.EventPublisher
	Logos  services.LogoStore
	Logger *zap.Logger
	Build  services.BuildInfo
	Clock  func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	counterRepo := reg.Counters()
	if counterRepo == nil {
		return Services{}, errors.New("counter repository is required")
	}
	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: counterRepo,
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	ordersRepo := reg.Orders()
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     ordersRepo,
		Profiles:   reg.Profiles(),
		Counters:   counterSvc,
		UnitOfWork: reg,
		Events:     infra.Events,
		Currency:   cfg.Wompi.Currency,
		Clock:      clock,
		Logger:     observability.ServiceLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	profileSvc, err := services.NewProfileService(services.ProfileServiceDeps{
		Profiles: reg.Profiles(),
		Orders:   ordersRepo,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build profile service: %w", err)
	}
	svc.Profiles = profileSvc

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:  ordersRepo,
		Updater: orderSvc,
		Settings: services.WompiSettings{
			PublicKey:       cfg.Wompi.PublicKey,
			IntegritySecret: cfg.Wompi.IntegritySecret,
			EventsSecret:    cfg.Wompi.EventsSecret,
		},
		Logger: observability.ServiceLogger(logger.Named("payments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	productionSvc, err := services.NewProductionService(services.ProductionServiceDeps{
		Orders:     ordersRepo,
		Location:   cfg.Production.Location(),
		CutoffHour: cfg.Production.CutoffHour,
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build production service: %w", err)
	}
	svc.Production = productionSvc

	quoteSvc, err := services.NewQuoteService(services.QuoteServiceDeps{
		Quotes:       reg.Quotes(),
		Logos:        infra.Logos,
		Events:       infra.Events,
		SalesPhone:   cfg.B2B.SalesPhone,
		MaxLogoBytes: cfg.Storage.LogoMaxBytes,
		Clock:        clock,
		Logger:       observability.ServiceLogger(logger.Named("quotes")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build quote service: %w", err)
	}
	svc.Quotes = quoteSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:    reg.Catalog(),
		Orders:     ordersRepo,
		UnitOfWork: reg,
		Clock:      clock,
		Logger:     observability.ServiceLogger(logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
