package extractor

import (
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"relowatch/identity"
	"relowatch/models"
)

// Listing paths end in "<ad id>_<agency id>/"; the pair is the listing id.
var pisosIDRegex = regexp.MustCompile(`(\d+_\d+)/?$`)

// Pisos parses pisos.com result previews (div.ad-preview). Previews carry
// their id in data-id and their link in data-lnk-href as well as in the
// title anchor.
type Pisos struct{}

func NewPisos() *Pisos { return &Pisos{} }

func (e *Pisos) Source() Source { return SourcePisos }

func (e *Pisos) Extract(doc *goquery.Document, base *url.URL) []models.Candidate {
	previews := doc.Find("div.ad-preview")
	return eachIsolated(SourcePisos, previews, func(i int, s *goquery.Selection) (*models.Candidate, error) {
		href := firstAttr(s, "href", "a.ad-preview__title", "a[href]")
		link := ResolveURL(base, href)
		if link == "" {
			href = ownAttr(s, "data-lnk-href")
			link = ResolveURL(base, href)
		}
		c := &models.Candidate{
			Title:       firstText(s, "a.ad-preview__title", ".ad-preview__title"),
			URL:         link,
			Description: firstText(s, ".ad-preview__description"),
			Location:    firstText(s, ".ad-preview__subtitle"),
			Images:      images(s, base, ".ad-preview__gallery img, img.ad-preview__image"),
		}
		c.ExternalID = identity.ExternalID(
			ownAttr(s, "data-id", "id"),
			pisosID(href),
			identity.IDFromURL(href),
		)
		setPrice(c, firstText(s, ".ad-preview__price"), "EUR")

		fillFeatures(&c.Metadata, texts(s, ".ad-preview__char"))
		c.Metadata.Agency = firstAttr(s, "alt", ".ad-preview__logo img")

		if err := finalize(c, SourcePisos, base, i); err != nil {
			return nil, err
		}
		return c, nil
	})
}

func pisosID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if m := pisosIDRegex.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}
