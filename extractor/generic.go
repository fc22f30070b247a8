package extractor

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"relowatch/identity"
	"relowatch/models"
)

// containerSelectors are tried in order; the first one that matches any
// element defines what a listing is on the page.
var containerSelectors = []string{
	"[itemtype*='schema.org/Offer']",
	"[itemtype*='schema.org/Product']",
	"[itemtype*='schema.org/Residence'], [itemtype*='schema.org/Apartment'], [itemtype*='schema.org/House']",
	"article",
	".listing, .property, .result-item",
	"li.item, .card",
}

// Generic is the best-effort extractor for sites without a dedicated one.
// It relies on schema.org microdata first and common class names second.
type Generic struct{}

func NewGeneric() *Generic { return &Generic{} }

func (e *Generic) Source() Source { return SourceGeneric }

func (e *Generic) Extract(doc *goquery.Document, base *url.URL) []models.Candidate {
	var items *goquery.Selection
	for _, sel := range containerSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			items = found
			break
		}
	}
	if items == nil {
		return []models.Candidate{}
	}

	return eachIsolated(SourceGeneric, items, func(i int, s *goquery.Selection) (*models.Candidate, error) {
		href := firstAttr(s, "href", "[itemprop='url']", "h1 a, h2 a, h3 a", "a[href]")
		c := &models.Candidate{
			Title:       firstText(s, "[itemprop='name']", "h1", "h2", "h3", "h4", ".title"),
			URL:         ResolveURL(base, href),
			Description: firstText(s, "[itemprop='description']", ".description", "p"),
			Location:    firstText(s, "[itemprop='address']", ".location", ".address", "[class*='location']"),
			Images:      images(s, base, "img"),
		}
		if c.Title == "" {
			c.Title = firstText(s, "a[href]")
		}
		c.ExternalID = identity.ExternalID(
			ownAttr(s, "data-id", "data-listing-id", "data-item-id", "id"),
			identity.IDFromURL(href),
		)

		content := firstAttr(s, "content", "[itemprop='price']")
		price := content
		if price == "" {
			price = firstText(s, "[itemprop='price']", ".price", "[class*='price']")
		}
		if price == "" {
			price = euroAmount(s.Text())
		}
		// microdata prices are machine formatted ("350000.00")
		if v, ok := microdataPrice(content); ok {
			c.Price = &v
			c.Metadata.RawPriceText = price
			c.Currency = firstAttr(s, "content", "[itemprop='priceCurrency']")
		} else {
			setPrice(c, price, "")
		}

		fillFeatures(&c.Metadata, texts(s, ".features li, [class*='feature'], ul li"))

		if err := finalize(c, SourceGeneric, base, i); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func microdataPrice(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || !finite(v) || v < 0 {
		return 0, false
	}
	return v, true
}
