package extractor

import (
	"bytes"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"relowatch/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func loadDocument(t *testing.T, name, base string) (*goquery.Document, *url.URL) {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, name)))
	if err != nil {
		t.Fatalf("failed to parse fixture %s: %v", name, err)
	}
	u, err := url.Parse(base)
	if err != nil {
		t.Fatalf("bad base url %s: %v", base, err)
	}
	return doc, u
}

func TestIdealistaExtract(t *testing.T) {
	doc, base := loadDocument(t, "idealista_search.html", "https://www.idealista.com/venta-viviendas/madrid/")
	items := NewIdealista().Extract(doc, base)
	if len(items) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(items))
	}

	first := items[0]
	if first.ExternalID != "98765432" {
		t.Fatalf("expected id 98765432, got %s", first.ExternalID)
	}
	if first.URL != "https://www.idealista.com/inmueble/98765432/" {
		t.Fatalf("unexpected url %s", first.URL)
	}
	if first.Title != "Piso en calle de Alcalá, Goya, Madrid" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if first.Price == nil || *first.Price != 350000 {
		t.Fatalf("expected price 350000, got %v", first.Price)
	}
	if first.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", first.Currency)
	}
	if first.Location != "calle de Alcalá, Goya, Madrid" {
		t.Fatalf("unexpected location %q", first.Location)
	}
	if first.Metadata.Bedrooms == nil || *first.Metadata.Bedrooms != 3 {
		t.Fatalf("expected 3 bedrooms, got %v", first.Metadata.Bedrooms)
	}
	if first.Metadata.Bathrooms != nil {
		t.Fatalf("expected no bathrooms, got %d", *first.Metadata.Bathrooms)
	}
	if first.Metadata.SizeM2 == nil || *first.Metadata.SizeM2 != 95 {
		t.Fatalf("expected 95 m2, got %v", first.Metadata.SizeM2)
	}
	if first.Metadata.Agency != "Inmobiliaria Sol" {
		t.Fatalf("unexpected agency %q", first.Metadata.Agency)
	}
	if first.Metadata.Source != "idealista" {
		t.Fatalf("expected source idealista, got %s", first.Metadata.Source)
	}
	if first.ItemType != "sale" {
		t.Fatalf("expected sale, got %s", first.ItemType)
	}
	if len(first.Images) != 1 || !strings.HasSuffix(first.Images[0], "/1001.jpg") {
		t.Fatalf("unexpected images %v", first.Images)
	}
	if first.Description != "Luminoso piso reformado a dos calles del Retiro." {
		t.Fatalf("unexpected description %q", first.Description)
	}

	second := items[1]
	if second.Price == nil || *second.Price != 1234500.50 {
		t.Fatalf("expected price 1234500.50, got %v", second.Price)
	}
	if second.Metadata.Bathrooms == nil || *second.Metadata.Bathrooms != 2 {
		t.Fatalf("expected 2 bathrooms, got %v", second.Metadata.Bathrooms)
	}
	if second.Metadata.SizeM2 == nil || *second.Metadata.SizeM2 != 1150 {
		t.Fatalf("expected 1150 m2, got %v", second.Metadata.SizeM2)
	}

	third := items[2]
	if third.ExternalID != "55667788" {
		t.Fatalf("expected id from url 55667788, got %s", third.ExternalID)
	}
	if third.Price != nil {
		t.Fatalf("expected no price, got %v", *third.Price)
	}
	if third.Metadata.RawPriceText != "Precio a consultar" {
		t.Fatalf("expected raw price text kept, got %q", third.Metadata.RawPriceText)
	}
}

func TestFotocasaExtract(t *testing.T) {
	doc, base := loadDocument(t, "fotocasa_search.html", "https://www.fotocasa.es/es/comprar/viviendas/madrid-capital/todas-las-zonas/l")
	items := NewFotocasa().Extract(doc, base)
	if len(items) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(items))
	}

	premium := items[0]
	if premium.ExternalID != "183456789" {
		t.Fatalf("expected id 183456789, got %s", premium.ExternalID)
	}
	if premium.URL != "https://www.fotocasa.es/es/comprar/vivienda/madrid-capital/calefaccion-ascensor/183456789/d" {
		t.Fatalf("unexpected url %s", premium.URL)
	}
	if premium.Price == nil || *premium.Price != 289000 {
		t.Fatalf("expected price 289000, got %v", premium.Price)
	}
	if premium.Location != "Chamberí, Madrid Capital" {
		t.Fatalf("unexpected location %q", premium.Location)
	}
	if len(premium.Images) != 2 {
		t.Fatalf("expected 2 images, got %v", premium.Images)
	}
	if premium.Images[1] != "https://static.fotocasa.es/images/ads/183456789-2.jpg" {
		t.Fatalf("expected lazy image from data-src, got %s", premium.Images[1])
	}
	md := premium.Metadata
	if md.Bedrooms == nil || *md.Bedrooms != 2 || md.Bathrooms == nil || *md.Bathrooms != 1 {
		t.Fatalf("unexpected rooms %v/%v", md.Bedrooms, md.Bathrooms)
	}
	if md.SizeM2 == nil || *md.SizeM2 != 70 {
		t.Fatalf("expected 70 m2, got %v", md.SizeM2)
	}
	if md.Floor != "3ª Planta" {
		t.Fatalf("unexpected floor %q", md.Floor)
	}
	if md.Agency != "Gestiona Fincas" {
		t.Fatalf("unexpected agency %q", md.Agency)
	}

	minimal := items[1]
	if minimal.ExternalID != "177000111" {
		t.Fatalf("expected id from url 177000111, got %s", minimal.ExternalID)
	}
	if minimal.ItemType != "rent" {
		t.Fatalf("expected rent, got %s", minimal.ItemType)
	}
	if minimal.Price == nil || *minimal.Price != 1450 {
		t.Fatalf("expected price 1450, got %v", minimal.Price)
	}
	if minimal.Location != "Arganzuela, Madrid Capital" {
		t.Fatalf("expected location from title, got %q", minimal.Location)
	}
}

func TestPisosExtract(t *testing.T) {
	doc, base := loadDocument(t, "pisos_search.html", "https://www.pisos.com/alquiler/pisos-madrid/")
	items := NewPisos().Extract(doc, base)
	if len(items) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(items))
	}

	first := items[0]
	if first.ExternalID != "45678901234_100500" {
		t.Fatalf("expected id 45678901234_100500, got %s", first.ExternalID)
	}
	if first.URL != "https://www.pisos.com/alquilar/piso-madrid_centro-45678901234_100500/" {
		t.Fatalf("unexpected url %s", first.URL)
	}
	if first.Price == nil || *first.Price != 1250 {
		t.Fatalf("expected price 1250, got %v", first.Price)
	}
	if first.Location != "Universidad (Distrito Centro. Madrid Capital)" {
		t.Fatalf("unexpected location %q", first.Location)
	}
	if len(first.Images) != 1 || first.Images[0] != "https://fotos.imghs.net/s/1030/45678901234-1.jpg" {
		t.Fatalf("unexpected images %v", first.Images)
	}
	if first.Metadata.Agency != "Inmobiliaria Centro" {
		t.Fatalf("unexpected agency %q", first.Metadata.Agency)
	}
	if first.ItemType != "rent" {
		t.Fatalf("expected rent, got %s", first.ItemType)
	}

	second := items[1]
	if second.URL != "https://www.pisos.com/alquilar/estudio-madrid_lavapies-47777777777_100500/" {
		t.Fatalf("expected link from data-lnk-href, got %s", second.URL)
	}
	if second.ExternalID != "47777777777_100500" {
		t.Fatalf("expected id 47777777777_100500, got %s", second.ExternalID)
	}
	if second.Price != nil {
		t.Fatalf("expected no price, got %v", *second.Price)
	}
}

func TestGenericExtractMicrodata(t *testing.T) {
	doc, base := loadDocument(t, "generic_search.html", "https://www.mudanzas.example/presupuestos")
	items := NewGeneric().Extract(doc, base)
	if len(items) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(items))
	}

	offer := items[0]
	if offer.ExternalID != "mv-100" {
		t.Fatalf("expected id mv-100, got %s", offer.ExternalID)
	}
	if offer.Title != "Mudanza piso completo" {
		t.Fatalf("unexpected title %q", offer.Title)
	}
	if offer.URL != "https://www.mudanzas.example/servicios/mudanza-completa" {
		t.Fatalf("unexpected url %s", offer.URL)
	}
	if offer.Price == nil || *offer.Price != 850 {
		t.Fatalf("expected price 850, got %v", offer.Price)
	}
	if offer.Currency != "EUR" {
		t.Fatalf("expected EUR, got %s", offer.Currency)
	}
	if offer.ItemType != "listing" {
		t.Fatalf("expected listing, got %s", offer.ItemType)
	}
	if offer.Metadata.Source != "generic" {
		t.Fatalf("expected source generic, got %s", offer.Metadata.Source)
	}

	storage := items[1]
	if storage.ExternalID != "guardamuebles" {
		t.Fatalf("expected id guardamuebles, got %s", storage.ExternalID)
	}
	if storage.Price == nil || *storage.Price != 49 {
		t.Fatalf("expected price 49, got %v", storage.Price)
	}
}

func TestGenericExtractNonFiniteMicrodataPrice(t *testing.T) {
	page := `<html><body>
<div itemscope itemtype="https://schema.org/Offer" data-id="ok">
  <h2 itemprop="name">Mudanza estudio</h2>
  <meta itemprop="price" content="300">
</div>
<div itemscope itemtype="https://schema.org/Offer" data-id="nan">
  <h2 itemprop="name">Mudanza oficina</h2>
  <meta itemprop="price" content="NaN">
</div>
<div itemscope itemtype="https://schema.org/Offer" data-id="inf">
  <h2 itemprop="name">Mudanza internacional</h2>
  <meta itemprop="price" content="-Infinity">
</div>
</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	items := NewGeneric().Extract(doc, nil)
	if len(items) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(items))
	}
	if items[0].Price == nil || *items[0].Price != 300 {
		t.Fatalf("expected price 300, got %v", items[0].Price)
	}
	for _, c := range items[1:] {
		if c.Price != nil {
			t.Fatalf("%s: expected no price, got %v", c.ExternalID, *c.Price)
		}
		if c.Title == "" {
			t.Fatalf("%s: expected listing kept with its title", c.ExternalID)
		}
	}
}

func TestParsePriceRejectsOverflow(t *testing.T) {
	if p := ParsePrice(strings.Repeat("9", 400) + " €"); p != nil {
		t.Fatalf("expected nil for overflowing price, got %v", *p)
	}
}

func TestGenericExtractNoListings(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>Nothing here</p></body></html>"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	items := NewGeneric().Extract(doc, nil)
	if items == nil || len(items) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", items)
	}
}

func TestEachIsolatedSkipsPanics(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<ul><li>a</li><li>b</li><li>c</li></ul>`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	items := eachIsolated(SourceGeneric, doc.Find("li"), func(i int, s *goquery.Selection) (*models.Candidate, error) {
		if i == 1 {
			panic("malformed element")
		}
		if i == 2 {
			return nil, errors.New("broken")
		}
		return &models.Candidate{ExternalID: s.Text(), Title: s.Text()}, nil
	})
	if len(items) != 1 || items[0].ExternalID != "a" {
		t.Fatalf("expected only the healthy element, got %v", items)
	}
}

func TestSourceFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want Source
	}{
		{"https://www.idealista.com/alquiler-viviendas/madrid/", SourceIdealista},
		{"https://www.idealista.pt/comprar-casas/lisboa/", SourceIdealista},
		{"https://WWW.FOTOCASA.ES/es/comprar/viviendas/", SourceFotocasa},
		{"https://www.pisos.com/venta/pisos-madrid/", SourcePisos},
		{"https://notpisos.com/venta/", ""},
		{"https://example.org/listings", ""},
		{"::bad", ""},
	}
	for _, tc := range cases {
		if got := SourceFromURL(tc.url); got != tc.want {
			t.Fatalf("SourceFromURL(%q): expected %q, got %q", tc.url, tc.want, got)
		}
	}
}

func TestDispatcherResolve(t *testing.T) {
	strict := NewDispatcher(false)
	if ex, err := strict.Resolve(SourceFotocasa); err != nil || ex.Source() != SourceFotocasa {
		t.Fatalf("expected fotocasa extractor, got %v, %v", ex, err)
	}
	if _, err := strict.Resolve("rightmove"); !errors.Is(err, models.ErrUnsupportedSource) {
		t.Fatalf("expected ErrUnsupportedSource, got %v", err)
	}

	lenient := NewDispatcher(true)
	ex, err := lenient.Resolve("")
	if err != nil {
		t.Fatalf("expected generic fallback, got %v", err)
	}
	if ex.Source() != SourceGeneric {
		t.Fatalf("expected generic, got %s", ex.Source())
	}
}
