package pagination

import (
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestParsePageSize(t *testing.T) {
	cases := map[string]struct {
		raw  string
		opts Options
		want int
	}{
		"defaults":              {want: DefaultPageSize},
		"custom default":        {opts: Options{DefaultPageSize: 25}, want: 25},
		"default above ceiling": {opts: Options{DefaultPageSize: 80, MaxPageSize: 40}, want: 40},
		"explicit":              {raw: " 30 ", opts: Options{MaxPageSize: 40}, want: 30},
		"clamped":               {raw: "400", opts: Options{MaxPageSize: 40}, want: 40},
		"package ceiling":       {raw: "400", want: DefaultMaxPageSize},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			values := url.Values{}
			if tc.raw != "" {
				values.Set("pageSize", tc.raw)
			}
			params, err := Parse(values, tc.opts)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, params.PageSize)
			}
			if params.PageToken != "" || !params.Cursor.IsZero() {
				t.Fatalf("expected first page, got %+v", params)
			}
		})
	}
}

func TestParseRejectsBadPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3", "1.5"} {
		if _, err := Parse(url.Values{"pageSize": {raw}}, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize=%q: expected ErrInvalidPageSize, got %v", raw, err)
		}
	}
}

func TestParseNilValues(t *testing.T) {
	params, err := Parse(nil, Options{})
	if err != nil || params.PageSize != DefaultPageSize {
		t.Fatalf("expected defaults for nil values, got %+v %v", params, err)
	}
}

func TestPageTokenRoundTrip(t *testing.T) {
	cursor := Keyset{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), ID: "01HZX"}
	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken returned error: %v", err)
	}

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !params.Cursor.CreatedAt.Equal(cursor.CreatedAt) || params.Cursor.ID != cursor.ID {
		t.Fatalf("expected cursor %+v got %+v", cursor, params.Cursor)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	for _, token := range []string{"%%%", "bm90LWpzb24", "e30"} {
		values := url.Values{}
		values.Set("pageToken", token)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken got %v", token, err)
		}
	}
}

func TestEncodeZeroCursor(t *testing.T) {
	token, err := EncodeToken(Keyset{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q err=%v", token, err)
	}
}

func TestClamp(t *testing.T) {
	cases := map[int]int{0: DefaultPageSize, -1: DefaultPageSize, 10: 10, 500: DefaultMaxPageSize}
	for in, want := range cases {
		if got := Clamp(in); got != want {
			t.Fatalf("Clamp(%d) = %d, want %d", in, got, want)
		}
	}
}
