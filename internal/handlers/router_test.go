package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v4"

	domain "github.com/totebags/api/internal/domain"
	"github.com/totebags/api/internal/platform/auth"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/services"
)

const testJWTSecret = "router-test-secret"

type envelope struct {
	Success  bool             `json:"success"`
	Data     json.RawMessage  `json:"data"`
	Error    *httpx.ErrorBody `json:"error"`
	Metadata map[string]any   `json:"metadata"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse envelope %q: %v", rr.Body.String(), err)
	}
	return env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("failed to parse data %s: %v", env.Data, err)
	}
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Success || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rr.Body.String())
	}
	if env.Error.Code != code {
		t.Fatalf("expected error code %s, got %s", code, env.Error.Code)
	}
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops-1",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("unconfigured group", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
		assertErrorCode(t, rr, http.StatusNotImplemented, "not_implemented")
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/carts", nil))
		assertErrorCode(t, rr, http.StatusNotFound, errorNotFoundCode)
	})
}

func TestNewRouter_MountsRegistrars(t *testing.T) {
	var hit string
	registrar := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
				hit = name
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}
	router := NewRouter(
		WithOrderRoutes(registrar("orders")),
		WithPaymentRoutes(registrar("payments")),
		WithB2BRoutes(registrar("b2b")),
		WithProductRoutes(registrar("products")),
		WithProfileRoutes(registrar("profiles")),
	)

	for _, name := range []string{"orders", "payments", "b2b", "products", "profiles"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/"+name+"/ping", nil))
		if rr.Code != http.StatusNoContent || hit != name {
			t.Fatalf("expected %s registrar, got status %d hit %q", name, rr.Code, hit)
		}
	}
}

func TestAdminRoutesRequireRoleWhenAuthEnabled(t *testing.T) {
	svc := &stubQuoteService{}
	access := Access{Authn: auth.NewAuthenticator(testJWTSecret), AdminRole: auth.RoleAdmin}
	router := NewRouter(WithB2BRoutes(NewB2BHandlers(access, svc).Routes))

	t.Run("missing token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/b2b/quotes", nil))
		assertErrorCode(t, rr, http.StatusUnauthorized, "unauthenticated")
	})

	t.Run("wrong role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/b2b/quotes", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "customer"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assertErrorCode(t, rr, http.StatusForbidden, "insufficient_role")
	})

	t.Run("admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/b2b/quotes", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestAdminRoutesOpenWhenAuthDisabled(t *testing.T) {
	router := NewRouter(WithB2BRoutes(NewB2BHandlers(Access{}, &stubQuoteService{}).Routes))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/b2b/quotes", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without authenticator, got %d", rr.Code)
	}
}
