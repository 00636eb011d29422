package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultEnvironment         = "local"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultDatabaseMaxConns    = 10
	defaultCurrency            = "COP"
	defaultAdminRole           = "admin"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultEventsBackend       = EventsBackendNone
	defaultLogoMaxBytes        = 5 << 20
	defaultSalesPhone          = "573000000000"
	defaultQuoteRateLimit      = 10
	defaultQuoteRateWindow     = time.Hour
	defaultProductionTimezone  = "America/Bogota"
	defaultProductionCutoffHr  = 12
	environmentLocal           = "local"
	secretReferencePrefix      = "secret://"
	secretReferenceShortPrefix = "sm://"
)

// Events backends supported by EVENTS_BACKEND.
const (
	EventsBackendNone   = "none"
	EventsBackendPubSub = "pubsub"
	EventsBackendKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	Wompi       WompiConfig
	Auth        AuthConfig
	Idempotency IdempotencyConfig
	Redis       RedisConfig
	Events      EventsConfig
	Storage     StorageConfig
	B2B         B2BConfig
	Production  ProductionConfig
	GCP         GCPConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig stores Postgres connection parameters.
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	AutoMigrate bool
}

// WompiConfig collects the payment gateway keys.
type WompiConfig struct {
	PublicKey       string
	IntegritySecret string
	EventsSecret    string
	Currency        string
}

// AuthConfig controls bearer verification for admin routes.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	AdminRole string
}

// Enabled reports whether admin routes require a token.
func (c AuthConfig) Enabled() bool {
	return strings.TrimSpace(c.JWTSecret) != ""
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// RedisConfig configures the optional Redis idempotency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects where domain events are published.
type EventsConfig struct {
	Backend      string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// StorageConfig names the bucket that receives B2B logos.
type StorageConfig struct {
	LogoBucket    string
	PublicBaseURL string
	LogoMaxBytes  int64
}

// B2BConfig holds quote intake settings. QuoteRateLimit counts submissions
// per client address per QuoteRateWindow; zero disables the limit.
type B2BConfig struct {
	SalesPhone      string
	QuoteRateLimit  int
	QuoteRateWindow time.Duration
}

// ProductionConfig configures the production cutoff used for batch planning.
type ProductionConfig struct {
	Timezone   string
	CutoffHour int
}

// Location resolves the configured time zone, falling back to UTC.
func (c ProductionConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GCPConfig holds Google Cloud project settings shared by Pub/Sub, Storage and Secret Manager.
type GCPConfig struct {
	ProjectID       string
	CredentialsFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets are empty after resolution.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks additional secret fields (e.g. "Auth.JWTSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Lookup resolves a single key with the same precedence Load uses. It lets main read
// bootstrap values (such as the GCP project for the secret resolver) before Load runs.
func Lookup(key string, opts ...Option) (string, bool, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", false, err
	}
	value, ok := lookup(key)
	return value, ok, nil
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnvValues, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if o.envMap != nil {
			if value, ok := o.envMap[key]; ok {
				return value, true
			}
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional Secret Manager lookups, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENV", defaultEnvironment)),
		LogLevel:    strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", "info")),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:         stringWithDefault(lookup, "DATABASE_URL", ""),
			MaxConns:    intWithDefault(lookup, "DATABASE_MAX_CONNS", defaultDatabaseMaxConns),
			AutoMigrate: boolWithDefault(lookup, "DATABASE_AUTO_MIGRATE", true),
		},
		Wompi: WompiConfig{
			PublicKey:       stringWithDefault(lookup, "WOMPI_PUBLIC_KEY", ""),
			IntegritySecret: stringWithDefault(lookup, "WOMPI_INTEGRITY_SECRET", ""),
			EventsSecret:    stringWithDefault(lookup, "WOMPI_EVENTS_SECRET", ""),
			Currency:        strings.ToUpper(stringWithDefault(lookup, "WOMPI_CURRENCY", defaultCurrency)),
		},
		Auth: AuthConfig{
			JWTSecret: stringWithDefault(lookup, "AUTH_JWT_SECRET", ""),
			Issuer:    stringWithDefault(lookup, "AUTH_JWT_ISSUER", ""),
			AdminRole: stringWithDefault(lookup, "AUTH_ADMIN_ROLE", defaultAdminRole),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "REDIS_DB", 0),
		},
		Events: EventsConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "EVENTS_BACKEND", defaultEventsBackend)),
			PubSubTopic:  stringWithDefault(lookup, "PUBSUB_TOPIC", ""),
			KafkaBrokers: csvWithDefault(lookup, "KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "KAFKA_TOPIC", ""),
		},
		Storage: StorageConfig{
			LogoBucket:    stringWithDefault(lookup, "STORAGE_LOGO_BUCKET", ""),
			PublicBaseURL: stringWithDefault(lookup, "STORAGE_PUBLIC_BASE_URL", ""),
			LogoMaxBytes:  int64(intWithDefault(lookup, "STORAGE_LOGO_MAX_BYTES", defaultLogoMaxBytes)),
		},
		B2B: B2BConfig{
			SalesPhone:      stringWithDefault(lookup, "B2B_SALES_PHONE", defaultSalesPhone),
			QuoteRateLimit:  intWithDefault(lookup, "B2B_QUOTE_RATE_LIMIT", defaultQuoteRateLimit),
			QuoteRateWindow: durationWithDefault(lookup, "B2B_QUOTE_RATE_WINDOW", defaultQuoteRateWindow),
		},
		Production: ProductionConfig{
			Timezone:   stringWithDefault(lookup, "PRODUCTION_TIMEZONE", defaultProductionTimezone),
			CutoffHour: intWithDefault(lookup, "PRODUCTION_CUTOFF_HOUR", defaultProductionCutoffHr),
		},
		GCP: GCPConfig{
			ProjectID:       stringWithDefault(lookup, "GCP_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "GCP_CREDENTIALS_FILE", ""),
		},
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"Wompi.IntegritySecret", &cfg.Wompi.IntegritySecret},
		{"Wompi.EventsSecret", &cfg.Wompi.EventsSecret},
		{"Auth.JWTSecret", &cfg.Auth.JWTSecret},
		{"Redis.Password", &cfg.Redis.Password},
	}
	resolved := make(map[string]string, len(secretFields))
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	required := append([]string(nil), options.requiredSecrets...)
	if cfg.Environment != environmentLocal {
		required = append(required, "Wompi.IntegritySecret", "Wompi.EventsSecret")
	}
	if missing := findMissingSecrets(required, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		missing = append(missing, "Database.URL")
	}
	if cfg.Database.MaxConns <= 0 {
		missing = append(missing, "Database.MaxConns")
	}
	if cfg.Environment != environmentLocal && strings.TrimSpace(cfg.Wompi.PublicKey) == "" {
		missing = append(missing, "Wompi.PublicKey")
	}
	if len(cfg.Wompi.Currency) != 3 {
		missing = append(missing, "Wompi.Currency")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	switch cfg.Events.Backend {
	case EventsBackendNone:
	case EventsBackendPubSub:
		if cfg.GCP.ProjectID == "" {
			missing = append(missing, "GCP.ProjectID")
		}
		if cfg.Events.PubSubTopic == "" {
			missing = append(missing, "Events.PubSubTopic")
		}
	case EventsBackendKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			missing = append(missing, "Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			missing = append(missing, "Events.KafkaTopic")
		}
	default:
		missing = append(missing, "Events.Backend")
	}
	if cfg.Storage.LogoMaxBytes <= 0 {
		missing = append(missing, "Storage.LogoMaxBytes")
	}
	if cfg.B2B.QuoteRateLimit < 0 || (cfg.B2B.QuoteRateLimit > 0 && cfg.B2B.QuoteRateWindow <= 0) {
		missing = append(missing, "B2B.QuoteRateWindow")
	}
	if cfg.Production.CutoffHour < 0 || cfg.Production.CutoffHour > 23 {
		missing = append(missing, "Production.CutoffHour")
	}
	if _, err := time.LoadLocation(cfg.Production.Timezone); err != nil {
		missing = append(missing, "Production.Timezone")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, secretReferencePrefix) || strings.HasPrefix(trimmed, secretReferenceShortPrefix)
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, secretReferenceShortPrefix) {
		return secretReferencePrefix + strings.TrimPrefix(trimmed, secretReferenceShortPrefix)
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
