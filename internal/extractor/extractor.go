package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
)

// TitleStrategy picks a title out of a listing container. It returns ""
// when it has nothing to offer so the next strategy can be tried.
type TitleStrategy func(container, anchor *goquery.Selection) string

// DefaultTitleStrategies is the lookup order used when none is configured:
// heading, then paragraph or title-classed element, then the anchor text.
var DefaultTitleStrategies = []TitleStrategy{
	HeadingTitle,
	ParagraphTitle,
	AnchorTitle,
}

// GroupExtractor pulls group records out of a directory results fragment.
type GroupExtractor struct {
	rules  site.Site
	base   *url.URL
	titles []TitleStrategy
}

// New creates an extractor for the given site rules.
func New(rules site.Site, titles ...TitleStrategy) *GroupExtractor {
	if len(titles) == 0 {
		titles = DefaultTitleStrategies
	}
	base, _ := url.Parse(rules.BaseURL)
	return &GroupExtractor{rules: rules, base: base, titles: titles}
}

func (e *GroupExtractor) Name() string { return "groups:" + e.rules.Name }

// Extract returns one record per container that holds a usable link.
// Containers without one are skipped; no containers yields an empty result.
func (e *GroupExtractor) Extract(html string) ([]plugin.GroupRecord, error) {
	if strings.TrimSpace(html) == "" {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	containerSel := `[class*="` + e.rules.ContainerClass + `"]`
	var records []plugin.GroupRecord

	doc.Find(containerSel).Each(func(_ int, container *goquery.Selection) {
		// Nested matches belong to the outer listing.
		if container.ParentsFiltered(containerSel).Length() > 0 {
			return
		}

		anchor, link := e.findLink(container)
		if link == "" {
			return
		}

		records = append(records, plugin.GroupRecord{
			Source:   e.rules.Source,
			Title:    e.title(container, anchor),
			Link:     link,
			ImageURL: e.image(container),
		})
	})

	return records, nil
}

// findLink returns the first anchor whose href carries either the
// direct or the indirection marker, with the link it yields.
func (e *GroupExtractor) findLink(container *goquery.Selection) (*goquery.Selection, string) {
	var (
		anchor *goquery.Selection
		link   string
	)

	container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))

		switch {
		case e.rules.IndirectionMarker != "" && strings.Contains(href, e.rules.IndirectionMarker):
			if e.rules.ResolveIndirection {
				link = resolveURL(e.base, href)
			} else if rewritten, ok := RewriteIndirection(href, e.rules.IndirectionMarker, e.rules.InviteBaseURL); ok {
				link = rewritten
			}
		case e.rules.DirectMarker != "" && strings.Contains(href, e.rules.DirectMarker):
			link = href
		}

		if link != "" {
			anchor = a
			return false
		}
		return true
	})

	return anchor, link
}

func (e *GroupExtractor) title(container, anchor *goquery.Selection) string {
	for _, strategy := range e.titles {
		if t := strategy(container, anchor); t != "" {
			return t
		}
	}
	return plugin.PlaceholderTitle
}

func (e *GroupExtractor) image(container *goquery.Selection) string {
	img := container.Find("img").First()
	if img.Length() == 0 {
		return ""
	}
	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" || strings.HasPrefix(src, "data:") {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		return ""
	}
	return resolveURL(e.base, src)
}

// RewriteIndirection turns an indirection href such as /group/join/ABC123
// into base+ABC123. It reports false when the href holds no identifier.
func RewriteIndirection(href, marker, base string) (string, bool) {
	idx := strings.Index(href, marker)
	if marker == "" || idx < 0 {
		return "", false
	}

	id := href[idx+len(marker):]
	if cut := strings.IndexAny(id, "?#"); cut >= 0 {
		id = id[:cut]
	}
	id = strings.Trim(id, "/")
	if id == "" {
		return "", false
	}

	return strings.TrimRight(base, "/") + "/" + id, true
}

// ---------- title strategies ----------

// HeadingTitle uses the first heading element in the container.
func HeadingTitle(container, _ *goquery.Selection) string {
	return cleanText(container.Find("h1, h2, h3, h4, h5").First().Text())
}

// ParagraphTitle uses a title-classed element, else the first paragraph.
func ParagraphTitle(container, _ *goquery.Selection) string {
	if t := cleanText(container.Find(`[class*="title"]`).First().Text()); t != "" {
		return t
	}
	return cleanText(container.Find("p").First().Text())
}

// AnchorTitle uses the matched anchor's own text.
func AnchorTitle(_, anchor *goquery.Selection) string {
	if anchor == nil {
		return ""
	}
	return cleanText(anchor.Text())
}

var whitespace = regexp.MustCompile(`\s+`)

func cleanText(text string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// resolveURL resolves a potentially relative URL against a base URL.
func resolveURL(base *url.URL, raw string) string {
	if base == nil {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}
