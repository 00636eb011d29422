// Package pagination reads pageSize/pageToken query parameters and encodes
// keyset cursors for listings ordered newest first.
package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

// Params is a parsed page request. A zero Cursor means the first page.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Keyset
}

// Options override the package defaults per listing; zero values keep them.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// limits resolves the effective default and ceiling. The default never
// exceeds the ceiling.
func (o Options) limits() (def, ceiling int) {
	def, ceiling = DefaultPageSize, DefaultMaxPageSize
	if o.MaxPageSize > 0 {
		ceiling = o.MaxPageSize
	}
	if o.DefaultPageSize > 0 {
		def = o.DefaultPageSize
	}
	return min(def, ceiling), ceiling
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Parse reads pageSize and pageToken. Oversized pages are clamped rather
// than rejected; non-numeric or non-positive sizes are errors.
func Parse(values url.Values, opts Options) (Params, error) {
	def, ceiling := opts.limits()

	size := def
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		case n <= 0:
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = min(n, ceiling)
	}

	token := strings.TrimSpace(values.Get("pageToken"))
	cursor, err := DecodeToken(token)
	if err != nil {
		return Params{}, err
	}
	return Params{PageSize: size, PageToken: token, Cursor: cursor}, nil
}

// Clamp applies the package defaults to a page size passed in by a service
// caller instead of a query string.
func Clamp(pageSize int) int {
	if pageSize <= 0 {
		return DefaultPageSize
	}
	return min(pageSize, DefaultMaxPageSize)
}
