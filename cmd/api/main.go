package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/totebags/api/internal/di"
	"github.com/totebags/api/internal/handlers"
	"github.com/totebags/api/internal/platform/auth"
	"github.com/totebags/api/internal/platform/config"
	"github.com/totebags/api/internal/platform/events"
	"github.com/totebags/api/internal/platform/idempotency"
	"github.com/totebags/api/internal/platform/observability"
	ppostgres "github.com/totebags/api/internal/platform/postgres"
	"github.com/totebags/api/internal/platform/ratelimit"
	"github.com/totebags/api/internal/platform/secrets"
	platformstorage "github.com/totebags/api/internal/platform/storage"
	"github.com/totebags/api/internal/repositories"
	pgrepo "github.com/totebags/api/internal/repositories/postgres"
	"github.com/totebags/api/internal/services"
)

const secretHealthReference = "secret://system/healthz?version=latest"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	levelName, _, err := config.Lookup("LOG_LEVEL")
	if err != nil {
		return fmt.Errorf("read log level: %w", err)
	}
	baseLogger, err := observability.NewLogger(levelName)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	resolver, err := newSecretResolver(ctx, logger)
	if err != nil {
		logger.Error("failed to initialise secret resolver", zap.Error(err))
		return err
	}
	defer closeWithLog(logger, "secret resolver", resolver)

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
			return err
		}
		logger.Error("failed to load configuration", zap.Error(err))
		return err
	}

	var checks []repositories.DependencyCheck

	dbProvider := ppostgres.NewProvider(cfg.Database)
	db, err := dbProvider.DB(ctx)
	if err != nil {
		logger.Error("failed to open postgres", zap.Error(err))
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := ppostgres.Migrate(ctx, db); err != nil {
			logger.Error("failed to apply migrations", zap.Error(err))
			return err
		}
	}
	checks = append(checks, repositories.DependencyCheck{Name: "postgres", Check: dbProvider.Ping})

	idempotencyStore, quoteLimiter, redisCloser, redisCheck := newRedisBackends(cfg)
	if redisCloser != nil {
		defer closeWithLog(logger, "redis", redisCloser)
		checks = append(checks, *redisCheck)
	} else {
		logger.Info("redis: REDIS_ADDR not set; idempotency and rate limits stay in memory")
	}

	publisher, eventCloser, eventCheck, err := newEventPublisher(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialise event publisher", zap.Error(err))
		return err
	}
	if eventCloser != nil {
		defer closeWithLog(logger, "event publisher", eventCloser)
	}
	if eventCheck != nil {
		checks = append(checks, *eventCheck)
	}

	logos, storageCloser, storageCheck, err := newLogoStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialise logo storage", zap.Error(err))
		return err
	}
	if storageCloser != nil {
		defer closeWithLog(logger, "storage client", storageCloser)
	}
	if storageCheck != nil {
		checks = append(checks, *storageCheck)
	} else {
		logger.Warn("storage: STORAGE_LOGO_BUCKET not set; quotes with logos will be rejected")
	}

	if strings.TrimSpace(cfg.GCP.ProjectID) != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := resolver.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Error("failed to initialise health checks", zap.Error(err))
		return err
	}

	registry, err := pgrepo.NewRegistry(db, healthRepo, dbProvider.Close)
	if err != nil {
		logger.Error("failed to initialise repositories", zap.Error(err))
		return err
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Events: publisher,
		Logos:  logos,
		Logger: logger,
		Build:  buildInfo,
	})
	if err != nil {
		logger.Error("failed to build services", zap.Error(err))
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, auth.WithIssuer(cfg.Auth.Issuer))
	if !authenticator.Enabled() {
		logger.Warn("auth: AUTH_JWT_SECRET not set; admin routes are open")
	}
	access := handlers.Access{Authn: authenticator, AdminRole: cfg.Auth.AdminRole}

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(access, svc.Orders,
		handlers.WithProductionService(svc.Production),
		handlers.WithCreateOrderMiddleware(idempotencyMiddleware),
	)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments)
	b2bHandlers := handlers.NewB2BHandlers(access, svc.Quotes,
		handlers.WithQuoteRateLimit(cfg.B2B.QuoteRateLimit, cfg.B2B.QuoteRateWindow, nil),
		handlers.WithQuoteLimiter(quoteLimiter),
	)
	productHandlers := handlers.NewProductHandlers(access, svc.Catalog)
	profileHandlers := handlers.NewProfileHandlers(access, svc.Profiles)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	projectID := strings.TrimSpace(cfg.GCP.ProjectID)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithB2BRoutes(b2bHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithProfileRoutes(profileHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("environment", cfg.Environment))
	go func() {
		serverLogger.Info("totebags api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok && err != nil {
			serverLogger.Error("http server error", zap.Error(err))
			return err
		}
		return nil
	case <-shutdown:
		logger.Info("shutdown signal received; draining requests")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version, _, _ := config.Lookup("API_BUILD_VERSION")
	version = strings.TrimSpace(version)
	if version == "" {
		version = "dev"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

// newSecretResolver reads its bootstrap settings directly because it has to exist
// before config.Load can resolve sm:// references.
func newSecretResolver(ctx context.Context, logger *zap.Logger) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		value, _, err := config.Lookup(key)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(value)
	}

	env := strings.ToLower(lookup("API_ENV"))
	if env == "" {
		env = "local"
	}
	opts := []secrets.Option{
		secrets.WithEnvironment(env),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := lookup("GCP_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if fallback := lookup("SECRETS_FALLBACK_FILE"); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	if credentials := lookup("GCP_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewResolver(ctx, opts...)
}

// newRedisBackends shares one Redis client between idempotency records and
// the quote rate limiter. Without REDIS_ADDR both stay in process memory.
func newRedisBackends(cfg config.Config) (idempotency.Store, ratelimit.Limiter, io.Closer, *repositories.DependencyCheck) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return idempotency.NewMemoryStore(), nil, nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := idempotency.NewRedisStore(client)

	var limiter ratelimit.Limiter
	if rl := ratelimit.NewRedis(client, "quotes", cfg.B2B.QuoteRateLimit, cfg.B2B.QuoteRateWindow); rl != nil {
		limiter = rl
	}
	return store, limiter, client, &repositories.DependencyCheck{Name: "redis", Check: store.Ping}
}

func newEventPublisher(ctx context.Context, cfg config.Config) (services.EventPublisher, io.Closer, *repositories.DependencyCheck, error) {
	switch cfg.Events.Backend {
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID, gcpClientOptions(cfg.GCP)...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSubTopic)
		publisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		check := &repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", cfg.Events.PubSubTopic)
				}
				return nil
			},
		}
		return publisher, closerFunc(func() error {
			_ = publisher.Close()
			return client.Close()
		}), check, nil
	case config.EventsBackendKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, nil, nil, err
		}
		return publisher, publisher, &repositories.DependencyCheck{Name: "kafka", Check: publisher.Ping}, nil
	default:
		return nil, nil, nil, nil
	}
}

func newLogoStore(ctx context.Context, cfg config.Config) (services.LogoStore, io.Closer, *repositories.DependencyCheck, error) {
	bucket := strings.TrimSpace(cfg.Storage.LogoBucket)
	if bucket == "" {
		return nil, nil, nil, nil
	}
	client, err := cloudstorage.NewClient(ctx, gcpClientOptions(cfg.GCP)...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("storage client: %w", err)
	}
	writer, err := platformstorage.NewGCSWriter(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	store, err := platformstorage.NewLogoStore(writer, platformstorage.LogoStoreConfig{
		Bucket:        bucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		MaxBytes:      cfg.Storage.LogoMaxBytes,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	check := &repositories.DependencyCheck{
		Name: "storage",
		Check: func(ctx context.Context) error {
			return writer.Ping(ctx, bucket)
		},
	}
	return store, client, check, nil
}

func gcpClientOptions(cfg config.GCPConfig) []option.ClientOption {
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func closeWithLog(logger *zap.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn(name+" close error", zap.Error(err))
	}
}
