package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/totebags/api/internal/platform/auth"
	"github.com/totebags/api/internal/platform/httpx"
	"github.com/totebags/api/internal/platform/requestctx"
	"github.com/totebags/api/internal/services"
)

const defaultMaxJSONBodySize = 64 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxJSONBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads at most limit bytes and decodes them into dst, writing the
// error response itself. It reports whether the handler should continue.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return false
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_json", fmt.Sprintf("invalid JSON payload: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

// writeUnexpectedError logs the cause and answers with a generic 500.
func writeUnexpectedError(ctx context.Context, w http.ResponseWriter, code string, err error) {
	requestctx.Logger(ctx).Error("request failed", zap.String("code", code), zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError(code, "internal error", http.StatusInternalServerError))
}

func urlParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

// Access describes how back-office routes are guarded.
type Access struct {
	Authn     *auth.Authenticator
	AdminRole string
}

func (a Access) admin() func(http.Handler) http.Handler {
	return adminOnly(a.Authn, a.AdminRole)
}

// identify attaches the caller's identity when a bearer token is sent.
func (a Access) identify() func(http.Handler) http.Handler {
	return a.Authn.Identify()
}

// customer maps the verified caller onto the checkout identity.
func (a Access) customer(identity *auth.Identity) *services.CustomerIdentity {
	if identity == nil || strings.TrimSpace(identity.Subject) == "" {
		return nil
	}
	role := strings.TrimSpace(a.AdminRole)
	if role == "" {
		role = auth.RoleAdmin
	}
	return &services.CustomerIdentity{
		UserID: identity.Subject,
		Email:  identity.Email,
		Admin:  identity.HasRole(role),
	}
}

// adminOnly guards a route with the admin role. A nil or disabled authenticator leaves it open.
func adminOnly(authn *auth.Authenticator, role string) func(http.Handler) http.Handler {
	if !authn.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	role = strings.TrimSpace(role)
	if role == "" {
		role = auth.RoleAdmin
	}
	return authn.RequireRole(role)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
