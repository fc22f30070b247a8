package extractor

import (
	"net/url"
	"testing"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"1.234,56 €", 1234.56},
		{"350.000 €", 350000},
		{"1.250 €/mes", 1250},
		{"€ 2.100", 2100},
		{"350 000 €", 350000},
		{"Desde 49,90 EUR", 49.90},
	}
	for _, tc := range cases {
		got := ParsePrice(tc.text)
		if got == nil {
			t.Fatalf("ParsePrice(%q): expected %v, got nil", tc.text, tc.want)
		}
		if *got != tc.want {
			t.Fatalf("ParsePrice(%q): expected %v, got %v", tc.text, tc.want, *got)
		}
	}

	for _, text := range []string{"Contact us", "", "Precio a consultar"} {
		if got := ParsePrice(text); got != nil {
			t.Fatalf("ParsePrice(%q): expected nil, got %v", text, *got)
		}
	}
}

func TestDetectCurrency(t *testing.T) {
	if got := DetectCurrency("1.250 €/mes"); got != "EUR" {
		t.Fatalf("expected EUR, got %s", got)
	}
	if got := DetectCurrency("£1,200 pcm"); got != "GBP" {
		t.Fatalf("expected GBP, got %s", got)
	}
	if got := DetectCurrency("1200"); got != "" {
		t.Fatalf("expected no currency, got %s", got)
	}
}

func TestFeatureNumber(t *testing.T) {
	features := []string{"95 m²", "3 hab.", "2 baños", "Planta 4ª exterior"}

	bedrooms := FeatureNumber(features, bedroomKeywords...)
	if bedrooms == nil || *bedrooms != 3 {
		t.Fatalf("expected 3 bedrooms, got %v", bedrooms)
	}
	bathrooms := FeatureNumber(features, bathroomKeywords...)
	if bathrooms == nil || *bathrooms != 2 {
		t.Fatalf("expected 2 bathrooms, got %v", bathrooms)
	}
	if got := FeatureNumber(features, "garaje"); got != nil {
		t.Fatalf("expected nil, got %d", *got)
	}
	if got := FeatureNumber([]string{"hab. sin número"}, bedroomKeywords...); got != nil {
		t.Fatalf("expected nil without digits, got %d", *got)
	}
}

func TestFeatureArea(t *testing.T) {
	area := FeatureArea([]string{"3 hab.", "1.250 m²"})
	if area == nil || *area != 1250 {
		t.Fatalf("expected 1250, got %v", area)
	}
	area = FeatureArea([]string{"72,5 m2 útiles"})
	if area == nil || *area != 72.5 {
		t.Fatalf("expected 72.5, got %v", area)
	}
	if got := FeatureArea([]string{"3 hab."}); got != nil {
		t.Fatalf("expected nil, got %v", *got)
	}
}

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://www.idealista.com/venta-viviendas/madrid/")
	cases := []struct {
		href string
		want string
	}{
		{"/inmueble/123456/", "https://www.idealista.com/inmueble/123456/"},
		{"pagina-2.htm", "https://www.idealista.com/venta-viviendas/madrid/pagina-2.htm"},
		{"https://other.example/x", "https://other.example/x"},
		{"", ""},
		{"#top", ""},
		{"javascript:void(0)", ""},
		{"mailto:info@example.com", ""},
		{"http://[::1", ""},
	}
	for _, tc := range cases {
		if got := ResolveURL(base, tc.href); got != tc.want {
			t.Fatalf("ResolveURL(%q): expected %q, got %q", tc.href, tc.want, got)
		}
	}
}

func TestLocationFromTitle(t *testing.T) {
	if got := locationFromTitle("Piso en Calle Mayor, Madrid"); got != "Calle Mayor, Madrid" {
		t.Fatalf("unexpected location %q", got)
	}
	if got := locationFromTitle("Chalet adosado"); got != "" {
		t.Fatalf("expected empty location, got %q", got)
	}
}
