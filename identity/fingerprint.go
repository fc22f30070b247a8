package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"relowatch/models"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonIDRegex      = regexp.MustCompile(`[^a-z0-9_-]+`)
	numericIDRegex  = regexp.MustCompile(`\d{5,}`)
)

// ExternalID returns the first candidate that normalizes to a non-empty id.
func ExternalID(candidates ...string) string {
	for _, c := range candidates {
		if id := normalizeID(c); id != "" {
			return id
		}
	}
	return ""
}

func normalizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonIDRegex.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// IDFromURL derives a listing id from a listing href: the last long digit
// run in the path if there is one (".../inmueble/98765432/"), else the last
// path segment.
func IDFromURL(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Path == "" {
		return ""
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return ""
	}
	if ids := numericIDRegex.FindAllString(path, -1); len(ids) > 0 {
		return ids[len(ids)-1]
	}
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	last = strings.TrimSuffix(last, ".html")
	last = strings.TrimSuffix(last, ".htm")
	return normalizeID(last)
}

// PositionalID is the fallback when a listing element carries no stable
// identifier. It is stable as long as the element keeps its position and
// title on the page.
func PositionalID(baseURL string, index int, title string) string {
	input := fmt.Sprintf("%s|%d|%s", baseURL, index, NormalizeText(title))
	hash := sha256.Sum256([]byte(input))
	return "pos-" + hex.EncodeToString(hash[:8])
}

// Fingerprint hashes the user-visible fields of a candidate so callers can
// tell whether a re-observed listing changed.
func Fingerprint(c *models.Candidate) string {
	price := ""
	if c.Price != nil {
		price = fmt.Sprintf("%.2f", *c.Price)
	}
	input := strings.Join([]string{
		NormalizeText(c.Title),
		NormalizeText(c.Description),
		c.URL,
		price,
		c.Currency,
		NormalizeText(c.Location),
		strings.Join(c.Images, ","),
	}, "|")
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return s
}

// NormalizeURL returns the canonical form used to detect duplicate tracked
// websites: lower-case scheme and host, no fragment, no trailing slash.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url must be absolute: %q", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	} else {
		u.Path = ""
	}
	return u.String(), nil
}
