// Package resolver follows indirection links to the invite URL they hide.
package resolver

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnresolved is returned when no destination could be found.
var ErrUnresolved = errors.New("no destination link found")

// DefaultTargetDomain is the host invite links live on.
const DefaultTargetDomain = "chat.whatsapp.com"

// Scanner searches a page for a destination URL on the target domain.
type Scanner struct {
	domain     string
	assignment *regexp.Regexp
	windowOpen *regexp.Regexp
}

// NewScanner builds the script patterns for the given domain.
func NewScanner(domain string) *Scanner {
	if domain == "" {
		domain = DefaultTargetDomain
	}
	target := `(https?://(?:www\.)?` + regexp.QuoteMeta(domain) + `/[^"'\s)]+)`

	return &Scanner{
		domain:     domain,
		assignment: regexp.MustCompile(`(?:location(?:\.href)?|[A-Za-z_$][\w$]*)\s*=\s*["']` + target + `["']`),
		windowOpen: regexp.MustCompile(`window\.open\(\s*["']` + target + `["']`),
	}
}

// IsDirect reports whether the link already points at the target domain.
func (s *Scanner) IsDirect(link string) bool {
	return strings.Contains(link, s.domain)
}

// Scan looks for the destination in anchor hrefs first, then in inline
// script assignments, then in window.open calls.
func (s *Scanner) Scan(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if strings.Contains(href, s.domain) {
			found = href
			return false
		}
		return true
	})
	if found != "" {
		return found, nil
	}

	scripts := doc.Find("script")
	for _, pattern := range []*regexp.Regexp{s.assignment, s.windowOpen} {
		scripts.EachWithBreak(func(_ int, script *goquery.Selection) bool {
			if m := pattern.FindStringSubmatch(script.Text()); m != nil {
				found = m[1]
				return false
			}
			return true
		})
		if found != "" {
			return found, nil
		}
	}

	return "", ErrUnresolved
}
