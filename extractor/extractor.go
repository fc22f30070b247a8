// Package extractor turns listing search pages into normalized candidates.
// Each supported site has its own extractor; the set is closed and looked up
// by source id.
package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"relowatch/models"
)

type Source string

const (
	SourceIdealista Source = "idealista"
	SourceFotocasa  Source = "fotocasa"
	SourcePisos     Source = "pisos"
	SourceGeneric   Source = "generic"
)

// Extractor parses one site's search result page. Implementations must not
// do I/O and must not fail as a whole because of a single bad element.
type Extractor interface {
	Source() Source
	Extract(doc *goquery.Document, base *url.URL) []models.Candidate
}

var hostSources = []struct {
	suffix string
	source Source
}{
	{"idealista.com", SourceIdealista},
	{"idealista.pt", SourceIdealista},
	{"idealista.it", SourceIdealista},
	{"fotocasa.es", SourceFotocasa},
	{"pisos.com", SourcePisos},
}

// SourceFromURL derives the source id from a website URL's host. Unknown
// hosts return "".
func SourceFromURL(raw string) Source {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, hs := range hostSources {
		if host == hs.suffix || strings.HasSuffix(host, "."+hs.suffix) {
			return hs.source
		}
	}
	return ""
}

// Dispatcher maps source ids to extractors.
type Dispatcher struct {
	extractors map[Source]Extractor
	fallback   Extractor
}

// NewDispatcher returns a dispatcher over every site extractor. With
// withGeneric, unknown sources go to the generic extractor instead of
// failing.
func NewDispatcher(withGeneric bool) *Dispatcher {
	d := &Dispatcher{
		extractors: map[Source]Extractor{
			SourceIdealista: NewIdealista(),
			SourceFotocasa:  NewFotocasa(),
			SourcePisos:     NewPisos(),
		},
	}
	if withGeneric {
		d.fallback = NewGeneric()
	}
	return d
}

// Resolve returns the extractor for source.
func (d *Dispatcher) Resolve(source Source) (Extractor, error) {
	if ex, ok := d.extractors[source]; ok {
		return ex, nil
	}
	if d.fallback != nil {
		return d.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedSource, source)
}

func (d *Dispatcher) Dispatch(source Source, doc *goquery.Document, base *url.URL) ([]models.Candidate, error) {
	ex, err := d.Resolve(source)
	if err != nil {
		return nil, err
	}
	return ex.Extract(doc, base), nil
}
