package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	environmentLocal    = "local"
	defaultFallbackPath = ".secrets.local"
	metricNamespace     = "github.com/totebags/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Resolver resolves secret:// references against Google Secret Manager. Values are cached
// for the life of the process. In the local environment a KEY=value fallback file answers
// when Secret Manager is unreachable or no project is configured.
type Resolver struct {
	client     secretManagerClient
	ownsClient bool

	logger    *zap.Logger
	env       string
	projectID string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	latency        metric.Float64Histogram
	latencyEnabled bool
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type resolverConfig struct {
	logger       *zap.Logger
	env          string
	projectID    string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Resolver construction.
type Option func(*resolverConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *resolverConfig) {
		cfg.logger = logger
	}
}

// WithEnvironment sets the deployment environment; fallback files are honoured only in "local".
func WithEnvironment(env string) Option {
	return func(cfg *resolverConfig) {
		cfg.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithProject configures the project used for references without a ?project= override.
func WithProject(projectID string) Option {
	return func(cfg *resolverConfig) {
		cfg.projectID = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *resolverConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *resolverConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client (primarily for tests).
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *resolverConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *resolverConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewResolver builds a Resolver. A missing Secret Manager client is fatal outside local.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	cfg := resolverConfig{
		logger:       zap.NewNop(),
		env:          environmentLocal,
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.env == "" {
		cfg.env = environmentLocal
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	latency, latencyErr := meter.Float64Histogram(
		"secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret resolution"),
	)
	if latencyErr != nil {
		cfg.logger.Warn("secrets: unable to register latency metric", zap.Error(latencyErr))
	}

	r := &Resolver{
		logger:         cfg.logger,
		env:            cfg.env,
		projectID:      cfg.projectID,
		fallbackPath:   cfg.fallbackPath,
		cache:          make(map[string]string),
		latency:        latency,
		latencyEnabled: latencyErr == nil,
	}

	if cfg.client != nil {
		r.client = cfg.client
		return r, nil
	}
	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		if !r.fallbackAllowed() {
			return nil, fmt.Errorf("secrets: secret manager client: %w", err)
		}
		cfg.logger.Warn("secrets: secret manager client unavailable; using local fallback file", zap.Error(err))
		return r, nil
	}
	r.client = client
	r.ownsClient = true
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return r.Resolve(ctx, ref)
}

// Resolve returns the secret value for a secret:// or sm:// reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := cacheKey(parsed.Canonical, parsed.Version)

	r.mu.RLock()
	value, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		r.recordLatency(ctx, time.Since(start), "cache", nil)
		return value, nil
	}

	projectID := parsed.ProjectOverride
	if projectID == "" {
		projectID = r.projectID
	}

	if projectID != "" && r.client != nil {
		value, fetchErr := r.fetchRemote(ctx, projectID, parsed.Secret, parsed.Version)
		if fetchErr == nil {
			r.store(key, value)
			r.recordLatency(ctx, time.Since(start), "remote", nil)
			return value, nil
		}
		if !isFallbackError(fetchErr) || !r.fallbackAllowed() {
			r.recordLatency(ctx, time.Since(start), "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, fetchErr)
		}
		r.logger.Debug("secrets: falling back to local secrets", zap.String("ref", parsed.Canonical), zap.Error(fetchErr))
	} else if !r.fallbackAllowed() {
		err := fmt.Errorf("secrets: no project or client configured for %s", parsed.Canonical)
		r.recordLatency(ctx, time.Since(start), "error", err)
		return "", err
	}

	value, ok = r.lookupFallback(parsed)
	if !ok {
		err := fmt.Errorf("secrets: fallback value not found for %s", parsed.Canonical)
		r.recordLatency(ctx, time.Since(start), "error", err)
		return "", err
	}
	r.store(key, value)
	r.recordLatency(ctx, time.Since(start), "fallback", nil)
	return value, nil
}

func (r *Resolver) fallbackAllowed() bool {
	return r.env == environmentLocal && r.fallbackPath != ""
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
}

func (r *Resolver) fetchRemote(ctx context.Context, projectID, secretName, version string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretName, version)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resourceName)
	}
	return strings.TrimSpace(string(resp.Payload.GetData())), nil
}

func (r *Resolver) lookupFallback(ref parsedReference) (string, bool) {
	r.fallbackOnce.Do(r.loadFallback)
	if r.fallbackErr != nil {
		r.logger.Debug("secrets: fallback load error", zap.Error(r.fallbackErr))
		return "", false
	}
	if val, ok := r.fallbackVals[cacheKey(ref.Canonical, ref.Version)]; ok {
		return val, true
	}
	val, ok := r.fallbackVals[ref.Canonical]
	return val, ok
}

func (r *Resolver) loadFallback() {
	r.fallbackVals = map[string]string{}
	absPath, err := filepath.Abs(r.fallbackPath)
	if err != nil {
		absPath = r.fallbackPath
	}
	file, err := os.Open(absPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.fallbackErr = fmt.Errorf("secrets: unable to open fallback file %s: %w", absPath, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if parsed, err := parseReference(key); err == nil {
			r.fallbackVals[parsed.Canonical] = value
			r.fallbackVals[cacheKey(parsed.Canonical, parsed.Version)] = value
		}
	}
	if err := scanner.Err(); err != nil {
		r.fallbackErr = fmt.Errorf("secrets: failed reading %s: %w", absPath, err)
	}
}

func (r *Resolver) recordLatency(ctx context.Context, d time.Duration, source string, err error) {
	if !r.latencyEnabled {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	r.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

type parsedReference struct {
	Canonical       string
	Secret          string
	Version         string
	ProjectOverride string
}

// parseReference accepts secret://name[?version=N&project=P]; sm:// is an alias.
func parseReference(ref string) (parsedReference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return parsedReference{}, errors.New("secrets: empty reference")
	}
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return parsedReference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return parsedReference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" || strings.Contains(secret, "/") {
		return parsedReference{}, fmt.Errorf("secrets: invalid secret name in %q", ref)
	}

	values := u.Query()
	version := strings.TrimSpace(values.Get("version"))
	if version == "" {
		version = "latest"
	}
	return parsedReference{
		Canonical:       "secret://" + secret,
		Secret:          secret,
		Version:         version,
		ProjectOverride: strings.TrimSpace(values.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
