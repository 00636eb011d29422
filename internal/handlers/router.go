package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/totebags/api/internal/platform/httpx"
)

// RouteRegistrar adds a resource's routes to the group mounted for it.
type RouteRegistrar func(r chi.Router)

// resource names double as mount paths.
const (
	resourceOrders   = "orders"
	resourcePayments = "payments"
	resourceB2B      = "b2b"
	resourceProducts = "products"
	resourceProfiles = "profiles"
)

var mountOrder = []string{resourceOrders, resourcePayments, resourceB2B, resourceProducts, resourceProfiles}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	resources   map[string]RouteRegistrar
}

type Option func(*routerConfig)

const (
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter builds the API router. Resources without a registrar answer 501
// so that partially wired deployments fail loudly.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		resources: make(map[string]RouteRegistrar, len(mountOrder)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, errorNotFoundCode, http.StatusNotFound, "no route for %s", req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "method_not_allowed", http.StatusMethodNotAllowed, "method %s not allowed on %s", req.Method, req.URL.Path)
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	for _, name := range mountOrder {
		registrar := cfg.resources[name]
		if registrar == nil {
			registrar = notImplemented(name)
		}
		r.Route("/"+name, registrar)
	}
	return r
}

func writeRouteError(w http.ResponseWriter, req *http.Request, code string, status int, format string, args ...any) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, fmt.Sprintf(format, args...), status))
}

func notImplemented(name string) RouteRegistrar {
	return func(r chi.Router) {
		handler := func(w http.ResponseWriter, req *http.Request) {
			writeRouteError(w, req, "not_implemented", http.StatusNotImplemented, "%s routes not implemented", name)
		}
		r.HandleFunc("/", handler)
		r.HandleFunc("/*", handler)
	}
}

// WithMiddlewares appends global middleware after the request id, real ip
// and timeout defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func withResource(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.resources[name] = reg }
}

func WithOrderRoutes(reg RouteRegistrar) Option   { return withResource(resourceOrders, reg) }
func WithPaymentRoutes(reg RouteRegistrar) Option { return withResource(resourcePayments, reg) }
func WithB2BRoutes(reg RouteRegistrar) Option     { return withResource(resourceB2B, reg) }
func WithProductRoutes(reg RouteRegistrar) Option { return withResource(resourceProducts, reg) }
func WithProfileRoutes(reg RouteRegistrar) Option { return withResource(resourceProfiles, reg) }
