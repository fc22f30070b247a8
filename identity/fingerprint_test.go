package identity

import (
	"testing"

	"relowatch/models"
)

func TestIDFromURL(t *testing.T) {
	cases := []struct {
		href string
		want string
	}{
		{"https://www.idealista.com/inmueble/98765432/", "98765432"},
		{"/es/comprar/vivienda/madrid-capital/calefaccion/183456789/d", "183456789"},
		{"https://www.pisos.com/comprar/piso-madrid_centro-45678901234/", "45678901234"},
		{"/ofertas/piso-luminoso-en-chamberi.html", "piso-luminoso-en-chamberi"},
		{"", ""},
		{"https://example.com/", ""},
	}
	for _, tc := range cases {
		if got := IDFromURL(tc.href); got != tc.want {
			t.Fatalf("IDFromURL(%q) = %q, want %q", tc.href, got, tc.want)
		}
	}
}

func TestExternalIDPicksFirstNonEmpty(t *testing.T) {
	if got := ExternalID("", "  ", "AB 12"); got != "ab-12" {
		t.Fatalf("expected ab-12, got %q", got)
	}
	if got := ExternalID("", ""); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestPositionalIDIsDeterministic(t *testing.T) {
	a := PositionalID("https://example.com/list", 3, "Piso en venta")
	b := PositionalID("https://example.com/list", 3, "  piso  en venta ")
	if a != b {
		t.Fatalf("expected same positional id, got %s and %s", a, b)
	}
	if c := PositionalID("https://example.com/list", 4, "Piso en venta"); c == a {
		t.Fatalf("expected different id for different position")
	}
}

func TestFingerprintChangesWithPrice(t *testing.T) {
	p1, p2 := 100000.0, 95000.0
	c := models.Candidate{Title: "Piso", Price: &p1}
	before := Fingerprint(&c)
	c.Price = &p2
	if Fingerprint(&c) == before {
		t.Fatalf("expected fingerprint to change with price")
	}
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("HTTPS://WWW.Idealista.com/venta-viviendas/madrid/#map")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if got != "https://www.idealista.com/venta-viviendas/madrid" {
		t.Fatalf("unexpected normalized url %s", got)
	}
	if _, err := NormalizeURL("not a url"); err == nil {
		t.Fatalf("expected error for relative url")
	}
}
