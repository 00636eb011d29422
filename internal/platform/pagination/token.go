package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Keyset is the position after which the next page starts, for listings ordered by
// (created_at DESC, id DESC).
type Keyset struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// IsZero reports whether the keyset points at the first page.
func (k Keyset) IsZero() bool {
	return k.ID == "" && k.CreatedAt.IsZero()
}

// EncodeToken serialises the keyset into a base64 URL-safe page token.
func EncodeToken(cursor Keyset) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken.
func DecodeToken(token string) (Keyset, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Keyset{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Keyset{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Keyset
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Keyset{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.ID == "" || cursor.CreatedAt.IsZero() {
		return Keyset{}, fmt.Errorf("%w: incomplete cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}
