package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/totebags",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Wompi.Currency != "COP" {
		t.Errorf("expected COP, got %s", cfg.Wompi.Currency)
	}
	if cfg.Auth.Enabled() {
		t.Errorf("expected auth disabled without secret")
	}
	if cfg.Events.Backend != EventsBackendNone {
		t.Errorf("expected events backend none, got %s", cfg.Events.Backend)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Production.CutoffHour != 12 {
		t.Errorf("expected cutoff hour 12, got %d", cfg.Production.CutoffHour)
	}
	if !cfg.Database.AutoMigrate {
		t.Errorf("expected auto migrate by default")
	}
	if cfg.B2B.QuoteRateLimit != 10 || cfg.B2B.QuoteRateWindow != time.Hour {
		t.Errorf("expected 10 quotes per hour, got %d per %s", cfg.B2B.QuoteRateLimit, cfg.B2B.QuoteRateWindow)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_ENV":                "prod",
		"API_SERVER_PORT":        "9090",
		"DATABASE_URL":           "sm://db/url",
		"DATABASE_MAX_CONNS":     "25",
		"WOMPI_PUBLIC_KEY":       "pub_prod_abc",
		"WOMPI_INTEGRITY_SECRET": "secret://wompi/integrity",
		"WOMPI_EVENTS_SECRET":    "secret://wompi/events",
		"WOMPI_CURRENCY":         "cop",
		"AUTH_JWT_SECRET":        "secret://auth/jwt",
		"EVENTS_BACKEND":         "kafka",
		"KAFKA_BROKERS":          "broker-1:9092, broker-2:9092",
		"KAFKA_TOPIC":            "totebags.events",
		"STORAGE_LOGO_BUCKET":    "totebags-logos",
		"PRODUCTION_CUTOFF_HOUR": "11",
	}

	resolved := map[string]string{}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		resolved[ref] = ref
		switch ref {
		case "secret://db/url":
			return "postgres://prod/totebags", nil
		case "secret://wompi/integrity":
			return "prod_integrity_xyz", nil
		case "secret://wompi/events":
			return "prod_events_xyz", nil
		case "secret://auth/jwt":
			return "jwt-secret", nil
		}
		return "", errors.New("unknown ref")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://prod/totebags" || cfg.Database.MaxConns != 25 {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Wompi.IntegritySecret != "prod_integrity_xyz" || cfg.Wompi.EventsSecret != "prod_events_xyz" {
		t.Errorf("wompi secrets not resolved: %+v", cfg.Wompi)
	}
	if cfg.Wompi.Currency != "COP" {
		t.Errorf("expected currency upper-cased, got %s", cfg.Wompi.Currency)
	}
	if !cfg.Auth.Enabled() || cfg.Auth.AdminRole != "admin" {
		t.Errorf("unexpected auth config %+v", cfg.Auth)
	}
	if !reflect.DeepEqual(cfg.Events.KafkaBrokers, []string{"broker-1:9092", "broker-2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Production.CutoffHour != 11 {
		t.Errorf("unexpected cutoff hour %d", cfg.Production.CutoffHour)
	}
	if len(resolved) != 4 {
		t.Errorf("expected 4 secret lookups, got %d", len(resolved))
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "DATABASE_URL=postgres://dotenv/db\nAPI_SERVER_PORT=7070\n# comment\nexport B2B_SALES_PHONE=\"573001112233\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(path), WithEnvMap(map[string]string{"API_SERVER_PORT": "6060"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.URL != "postgres://dotenv/db" {
		t.Errorf("expected dotenv database url, got %s", cfg.Database.URL)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected env map to win over dotenv, got %s", cfg.Server.Port)
	}
	if cfg.B2B.SalesPhone != "573001112233" {
		t.Errorf("unexpected sales phone %s", cfg.B2B.SalesPhone)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"EVENTS_BACKEND": "pubsub",
	}))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := []string{"Database.URL", "GCP.ProjectID", "Events.PubSubTopic"}
	if !reflect.DeepEqual(vErr.Fields(), want) {
		t.Fatalf("expected fields %v, got %v", want, vErr.Fields())
	}
}

func TestLoadRejectsQuoteRateLimitWithoutWindow(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"DATABASE_URL":          "postgres://localhost/totebags",
		"B2B_QUOTE_RATE_LIMIT":  "5",
		"B2B_QUOTE_RATE_WINDOW": "0s",
	}))
	var vErr *ValidationError
	if !errors.As(err, &vErr) || !reflect.DeepEqual(vErr.Fields(), []string{"B2B.QuoteRateWindow"}) {
		t.Fatalf("expected B2B.QuoteRateWindow validation error, got %v", err)
	}
}

func TestLoadRequiresWompiSecretsOutsideLocal(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"API_ENV":             "staging",
		"DATABASE_URL":        "postgres://staging/db",
		"WOMPI_PUBLIC_KEY":    "pub_test_abc",
		"WOMPI_EVENTS_SECRET": "events",
	}))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if !reflect.DeepEqual(missing.Names(), []string{"Wompi.IntegritySecret"}) {
		t.Fatalf("unexpected missing names %v", missing.Names())
	}
	if len(missing.RedactedNames()) != 1 || missing.RedactedNames()[0] == "Wompi.IntegritySecret" {
		t.Fatalf("expected redacted names, got %v", missing.RedactedNames())
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"DATABASE_URL": "sm://db/url",
	}))
	var sErr *SecretError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if sErr.Ref != "secret://db/url" {
		t.Fatalf("expected normalised ref, got %s", sErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected resolver not configured, got %v", err)
	}
}

func TestLookupUsesSamePrecedence(t *testing.T) {
	value, ok, err := Lookup("GCP_PROJECT_ID", WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{"GCP_PROJECT_ID": "totebags-prod"}))
	if err != nil || !ok || value != "totebags-prod" {
		t.Fatalf("unexpected lookup result %q %v %v", value, ok, err)
	}
	if _, ok, _ := Lookup("MISSING", WithoutSystemEnv(), WithEnvFile("")); ok {
		t.Fatalf("expected missing key")
	}
}

func TestProductionLocationFallsBackToUTC(t *testing.T) {
	if loc := (ProductionConfig{Timezone: "Mars/Olympus"}).Location(); loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
}
