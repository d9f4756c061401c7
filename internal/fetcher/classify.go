package fetcher

import (
	"net/http"
	"strings"

	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
)

// Classify decides what a page response means for pagination.
// Status is checked first, then an empty body, then the end marker.
func Classify(page *plugin.PageData, endMarker string) plugin.PageOutcome {
	if page == nil || page.StatusCode == 0 {
		return plugin.OutcomeFailed
	}

	switch {
	case page.StatusCode == http.StatusForbidden:
		return plugin.OutcomeBlocked
	case page.StatusCode < 200 || page.StatusCode > 299:
		return plugin.OutcomeHTTPError
	}

	if strings.TrimSpace(page.Body) == "" {
		return plugin.OutcomeEmpty
	}
	if endMarker != "" && strings.Contains(page.Body, endMarker) {
		return plugin.OutcomeEnd
	}
	return plugin.OutcomeFragment
}
