package extractor

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"relowatch/identity"
	"relowatch/models"
)

// Fotocasa parses fotocasa.es search result cards. Card classes carry the
// ad package name (re-CardPackPremium, re-CardPackAdvance, ...), so most
// selectors match on prefixes.
type Fotocasa struct{}

func NewFotocasa() *Fotocasa { return &Fotocasa{} }

func (e *Fotocasa) Source() Source { return SourceFotocasa }

func (e *Fotocasa) Extract(doc *goquery.Document, base *url.URL) []models.Candidate {
	cards := doc.Find("article[class*='re-CardPack'], article.re-Card")
	return eachIsolated(SourceFotocasa, cards, func(i int, s *goquery.Selection) (*models.Candidate, error) {
		href := firstAttr(s, "href",
			"a.re-Card-link",
			"a[class*='-info-container']",
			"a[class*='-carousel']",
			"a[href*='/d']",
		)
		c := &models.Candidate{
			Title:       firstText(s, ".re-CardTitle", ".re-Card-title", "h3"),
			URL:         ResolveURL(base, href),
			Description: firstText(s, ".re-CardDescription-text", ".re-Card-description"),
			Location:    firstText(s, ".re-CardLocation", ".re-Card-location"),
			Images:      images(s, base, "img[class*='re-CardMultimedia'], .re-CardMultimedia img"),
		}
		c.ExternalID = identity.ExternalID(
			ownAttr(s, "data-id", "data-ad-id"),
			identity.IDFromURL(href),
		)
		setPrice(c, firstText(s, ".re-CardPrice", ".re-Card-price"), "EUR")
		if c.Location == "" {
			c.Location = locationFromTitle(c.Title)
		}

		fillFeatures(&c.Metadata, texts(s, "li[class*='re-CardFeatures'], .re-CardFeatures-feature"))
		c.Metadata.Agency = firstAttr(s, "alt", ".re-CardPromotionBanner-logo", "img[class*='Logo']")

		if err := finalize(c, SourceFotocasa, base, i); err != nil {
			return nil, err
		}
		return c, nil
	})
}
