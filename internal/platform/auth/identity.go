package auth

import (
	"context"
	"slices"
	"strings"
)

// RoleAdmin guards the back office: quote review, order status changes and
// catalog edits.
const RoleAdmin = "admin"

// Identity is the principal behind a verified bearer token. Roles are stored
// lower-cased.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

func (i *Identity) HasRole(role string) bool {
	role = normaliseRole(role)
	return i != nil && role != "" && slices.ContainsFunc(i.Roles, func(r string) bool {
		return normaliseRole(r) == role
	})
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext reports false for anonymous requests.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
