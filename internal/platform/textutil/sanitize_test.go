package textutil

import (
	"reflect"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := map[string]struct {
		input string
		want  string
	}{
		"plain text":        {input: "Café La Esquina", want: "Café La Esquina"},
		"strips script":     {input: `Tienda<script>alert(1)</script> Norte`, want: "Tienda Norte"},
		"strips markup":     {input: `<b>Bold</b> <a href="x">link</a>`, want: "Bold link"},
		"collapses spaces":  {input: "  Calle   10 \n # 43-12 ", want: "Calle 10 # 43-12"},
		"keeps ampersand":   {input: "Pan & Café", want: "Pan & Café"},
		"empty after strip": {input: "<img src=x onerror=alert(1)>", want: ""},
		"keeps quotes":      {input: `Don Pepe's "Bolsos"`, want: `Don Pepe's "Bolsos"`},
		"encoded markup":    {input: "&lt;script&gt;alert(1)&lt;/script&gt;", want: "&lt;script&gt;alert(1)&lt;/script&gt;"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Sanitize(tc.input); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeList(t *testing.T) {
	t.Run("trims and dedupes", func(t *testing.T) {
		got := NormalizeList([]string{" Eco ", "eco", "", "<i>Algodón</i>", "Lona"})
		want := []string{"Eco", "Algodón", "Lona"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %#v got %#v", want, got)
		}
	})

	t.Run("returns empty slice for nil input", func(t *testing.T) {
		got := NormalizeList(nil)
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil slice, got %#v", got)
		}
	})
}
