package extractor

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"relowatch/identity"
	"relowatch/models"
)

// Idealista parses idealista search result pages.
//
//	<article class="item" data-element-id="98765432">
//	  <a class="item-link" href="/inmueble/98765432/">Piso en calle de Alcalá, Goya, Madrid</a>
//	  <span class="item-price">350.000<span>€</span></span>
//	  <div class="item-detail-char"><span class="item-detail">3 hab.</span> ...
type Idealista struct{}

func NewIdealista() *Idealista { return &Idealista{} }

func (e *Idealista) Source() Source { return SourceIdealista }

func (e *Idealista) Extract(doc *goquery.Document, base *url.URL) []models.Candidate {
	items := doc.Find("article.item, div.item[data-element-id]")
	return eachIsolated(SourceIdealista, items, func(i int, s *goquery.Selection) (*models.Candidate, error) {
		href := firstAttr(s, "href", "a.item-link", "a[href*='/inmueble/']")
		c := &models.Candidate{
			Title:       firstText(s, "a.item-link", ".item-title", "h2", "h3"),
			URL:         ResolveURL(base, href),
			Description: firstText(s, ".item-description p", ".item-description", "p.ellipsis"),
			Images:      images(s, base, "picture img, .item-multimedia img, .item-gallery img"),
		}
		if c.Title == "" {
			c.Title = firstAttr(s, "title", "a.item-link")
		}
		c.ExternalID = identity.ExternalID(
			ownAttr(s, "data-element-id", "data-adid"),
			identity.IDFromURL(href),
		)
		setPrice(c, firstText(s, ".item-price", ".price-row", "[class*='price']"), "EUR")
		c.Location = firstText(s, ".item-location", ".item-detail-location")
		if c.Location == "" {
			c.Location = locationFromTitle(c.Title)
		}

		fillFeatures(&c.Metadata, texts(s, ".item-detail-char .item-detail, span.item-detail"))
		c.Metadata.Agency = firstAttr(s, "title", "a.logo-branding", ".item-agency-logo img")
		if c.Metadata.Agency == "" {
			c.Metadata.Agency = firstAttr(s, "alt", ".logo-branding img")
		}

		if err := finalize(c, SourceIdealista, base, i); err != nil {
			return nil, err
		}
		return c, nil
	})
}
