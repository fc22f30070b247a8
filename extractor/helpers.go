package extractor

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"

	"relowatch/identity"
	"relowatch/models"
)

var (
	// Numbers on the supported sites use '.' for thousands and ',' for decimals.
	numberTokenRegex = regexp.MustCompile(`\d[\d.]*(?:,\d+)?`)
	digitRunRegex    = regexp.MustCompile(`\d+`)
	euroAmountRegex  = regexp.MustCompile(`\d[\d.\s\x{00a0}]*(?:,\d+)?\s*(?:€|EUR)`)
)

var (
	bedroomKeywords  = []string{"hab", "dorm", "bed"}
	bathroomKeywords = []string{"baño", "bano", "aseo", "bath"}
	areaKeywords     = []string{"m²", "m2", "sqm"}
	floorKeywords    = []string{"planta", "bajo", "floor"}
)

var errEmptyElement = errors.New("element has no title, link or price")

// ParsePrice returns the first amount in text, or nil when there is none.
// "1.234,56 €" -> 1234.56, "Contact us" -> nil.
func ParsePrice(text string) *float64 {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return parseNumberToken(numberTokenRegex.FindString(compact))
}

func parseNumberToken(tok string) *float64 {
	if tok == "" {
		return nil
	}
	tok = strings.ReplaceAll(tok, ".", "")
	tok = strings.Replace(tok, ",", ".", 1)
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || !finite(v) {
		return nil
	}
	return &v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DetectCurrency returns the ISO code of the first currency marker in text.
func DetectCurrency(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(text, "€") || strings.Contains(upper, "EUR"):
		return "EUR"
	case strings.Contains(text, "£") || strings.Contains(upper, "GBP"):
		return "GBP"
	case strings.Contains(text, "$") || strings.Contains(upper, "USD"):
		return "USD"
	}
	return ""
}

// FeatureNumber scans feature strings for the first one that mentions any
// keyword and returns its first digit run.
func FeatureNumber(features []string, keywords ...string) *int {
	f := findFeature(features, keywords)
	if f == "" {
		return nil
	}
	run := digitRunRegex.FindString(f)
	if run == "" {
		return nil
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return nil
	}
	return &n
}

// FeatureArea is FeatureNumber for surfaces, keeping thousands separators
// and decimals: "1.250 m²" -> 1250.
func FeatureArea(features []string) *float64 {
	f := findFeature(features, areaKeywords)
	if f == "" {
		return nil
	}
	return parseNumberToken(numberTokenRegex.FindString(f))
}

func findFeature(features []string, keywords []string) string {
	for _, f := range features {
		lower := strings.ToLower(f)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return f
			}
		}
	}
	return ""
}

// ResolveURL resolves href against base. Malformed or non-http(s) links
// yield "".
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if resolved.Host == "" {
		return ""
	}
	return resolved.String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// firstText returns the trimmed text of the first selector that matches
// something non-empty inside s.
func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := cleanText(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// firstAttr is firstText for an attribute.
func firstAttr(s *goquery.Selection, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := s.Find(sel).First().Attr(attr); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// ownAttr returns the first non-empty attribute of the element itself.
func ownAttr(s *goquery.Selection, attrs ...string) string {
	for _, a := range attrs {
		if v, ok := s.Attr(a); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func texts(s *goquery.Selection, selector string) []string {
	var out []string
	s.Find(selector).Each(func(_ int, el *goquery.Selection) {
		if t := cleanText(el.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// images collects resolved image URLs in document order, preferring lazy
// loading attributes over src.
func images(s *goquery.Selection, base *url.URL, selector string) []string {
	var out []string
	seen := make(map[string]bool)
	s.Find(selector).Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"data-src", "data-ondemand-img", "data-lazy", "src"} {
			raw, ok := img.Attr(attr)
			if !ok {
				continue
			}
			u := ResolveURL(base, raw)
			if u == "" {
				continue
			}
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
			return
		}
	})
	return out
}

// locationFromTitle takes the part after " en " in titles like
// "Piso en Calle Mayor, Madrid".
func locationFromTitle(title string) string {
	lower := strings.ToLower(title)
	if i := strings.Index(lower, " en "); i >= 0 {
		return strings.TrimSpace(title[i+4:])
	}
	return ""
}

// operationFromURL tells sale and rental listings apart by their path.
func operationFromURL(u string) string {
	lower := strings.ToLower(u)
	switch {
	case strings.Contains(lower, "alquil") || strings.Contains(lower, "/rent"):
		return "rent"
	case strings.Contains(lower, "comprar") || strings.Contains(lower, "venta") ||
		strings.Contains(lower, "/inmueble/") || strings.Contains(lower, "/sale"):
		return "sale"
	}
	return "listing"
}

// fillFeatures sets the numeric metadata shared by every source.
func fillFeatures(md *models.Metadata, features []string) {
	md.Features = features
	md.Bedrooms = FeatureNumber(features, bedroomKeywords...)
	md.Bathrooms = FeatureNumber(features, bathroomKeywords...)
	md.SizeM2 = FeatureArea(features)
	if f := findFeature(features, floorKeywords); f != "" {
		md.Floor = f
	}
}

// setPrice fills price, currency and raw price text from a price label.
func setPrice(c *models.Candidate, raw, defaultCurrency string) {
	if raw == "" {
		return
	}
	c.Metadata.RawPriceText = raw
	c.Price = ParsePrice(raw)
	if c.Price == nil {
		return
	}
	c.Currency = DetectCurrency(raw)
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
}

// finalize enforces the candidate contract: non-empty external id and
// title, metadata tagged with its source.
func finalize(c *models.Candidate, source Source, base *url.URL, index int) error {
	if c.Title == "" && c.URL == "" && c.Price == nil {
		return errEmptyElement
	}
	baseStr := ""
	if base != nil {
		baseStr = base.String()
	}
	if c.ExternalID == "" {
		c.ExternalID = identity.PositionalID(baseStr, index, c.Title)
	}
	if c.Title == "" {
		c.Title = fmt.Sprintf("Untitled %s listing #%d", source, index+1)
	}
	if c.ItemType == "" {
		c.ItemType = operationFromURL(c.URL)
	}
	c.Metadata.Source = string(source)
	return nil
}

type elementFunc func(index int, s *goquery.Selection) (*models.Candidate, error)

// eachIsolated runs fn over every element of sel. An element that fails or
// panics is logged and skipped; the others are still returned.
func eachIsolated(source Source, sel *goquery.Selection, fn elementFunc) []models.Candidate {
	out := make([]models.Candidate, 0, sel.Length())
	sel.Each(func(i int, s *goquery.Selection) {
		c, err := runIsolated(i, s, fn)
		if err != nil {
			if errors.Is(err, errEmptyElement) {
				log.Debug("Skipping empty listing element", "source", source, "index", i)
			} else {
				log.Warn("Skipping listing element", "source", source, "index", i, "error", err)
			}
			return
		}
		if c != nil {
			out = append(out, *c)
		}
	})
	return out
}

func runIsolated(i int, s *goquery.Selection, fn elementFunc) (c *models.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			c = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(i, s)
}

// euroAmount finds the first euro amount in free text, for markup that has
// no dedicated price element.
func euroAmount(text string) string {
	return strings.TrimSpace(euroAmountRegex.FindString(text))
}
