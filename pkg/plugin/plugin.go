// Package plugin defines the public types and interfaces for groupscrape.
// External tools can import this package to plug in their own fetchers,
// extractors, resolvers, or output writers without forking the project.
package plugin

import (
	"context"
	"net/http"
	"time"
)

// ---------- Core Data Types ----------

// Source identifies which directory produced a record.
type Source string

const (
	SourceDirectoryA Source = "directory-a"
	SourceDirectoryB Source = "directory-b"
)

// PlaceholderTitle is used when a listing carries no usable title.
const PlaceholderTitle = "No Title Found"

// FilterSet holds the category/country/language identifiers a page was requested with.
type FilterSet struct {
	Category string `json:"category_id"`
	Country  string `json:"country_id"`
	Language string `json:"language_id"`
}

// GroupRecord is one listing extracted from a directory page.
// Records are values: once built they are never modified in place.
type GroupRecord struct {
	Source   Source    `json:"source"`
	Title    string    `json:"title"`
	Link     string    `json:"link"`
	ImageURL string    `json:"image_url"`
	Filters  FilterSet `json:"filters"`
}

// WithLink returns a copy of the record pointing at a different link.
func (r GroupRecord) WithLink(link string) GroupRecord {
	r.Link = link
	return r
}

// WithFilters returns a copy of the record tagged with the given filters.
func (r GroupRecord) WithFilters(f FilterSet) GroupRecord {
	r.Filters = f
	return r
}

// PageRequest describes one request for a results fragment.
type PageRequest struct {
	Index   int
	Filters FilterSet
	// Extra carries additional form fields, e.g. geolocation defaults.
	Extra map[string]string
}

// PageData is the raw outcome of a single page request.
type PageData struct {
	Index         int           `json:"index"`
	URL           string        `json:"url"`
	Method        string        `json:"method"`
	StatusCode    int           `json:"status_code"`
	Headers       http.Header   `json:"-"`
	Body          string        `json:"-"`
	FetchedAt     time.Time     `json:"fetched_at"`
	FetchDuration time.Duration `json:"fetch_duration"`
	FetcherUsed   string        `json:"fetcher_used"`
	Attempts      int           `json:"attempts"`
}

// PageOutcome classifies a fetched page.
type PageOutcome string

const (
	// OutcomeFragment means the body holds listings to extract.
	OutcomeFragment PageOutcome = "fragment"
	// OutcomeEnd means the site reported there are no more results.
	OutcomeEnd PageOutcome = "end"
	// OutcomeEmpty means the body was empty or whitespace.
	OutcomeEmpty PageOutcome = "empty"
	// OutcomeBlocked means the site refused the request (403).
	OutcomeBlocked PageOutcome = "blocked"
	// OutcomeHTTPError means any other non-2xx status.
	OutcomeHTTPError PageOutcome = "http-error"
	// OutcomeFailed means the request never produced a response.
	OutcomeFailed PageOutcome = "failed"
)

// Terminal reports whether the outcome stops pagination.
func (o PageOutcome) Terminal() bool {
	return o != OutcomeFragment
}

// PageBatch is what one pagination step produces.
type PageBatch struct {
	Index   int           `json:"index"`
	Outcome PageOutcome   `json:"outcome"`
	Page    *PageData     `json:"page,omitempty"`
	Records []GroupRecord `json:"records"`
	Err     error         `json:"-"`
}

// RunSummary is the final aggregated output of a run.
type RunSummary struct {
	Source         Source        `json:"source"`
	Filters        FilterSet     `json:"filters"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration"`
	PagesProcessed int           `json:"pages_processed"`
	PagesFailed    int           `json:"pages_failed"`
	TotalRecords   int           `json:"total_records"`
	Resolved       int           `json:"resolved"`
	ResolveFailed  int           `json:"resolve_failed"`
	StopReason     string        `json:"stop_reason"`
	FinalState     string        `json:"final_state"`
	Records        []GroupRecord `json:"records"`
}

// ---------- Event Types ----------

// RunEvent represents a real-time event emitted by the harvester.
type RunEvent struct {
	Type    EventType
	Page    int
	Batch   *PageBatch
	Record  *GroupRecord
	Delay   time.Duration
	State   string
	Error   error
	Stats   *RunStats
	Message string
}

// EventType identifies the kind of event.
type EventType int

const (
	EventRunStarted EventType = iota
	EventStateChanged
	EventPageStarted
	EventPageDone
	EventPageEnd
	EventWarning
	EventDelay
	EventRecordResolved
	EventResolveFailed
	EventRunFinished
)

// RunStats holds real-time run statistics.
type RunStats struct {
	PagesProcessed int           `json:"pages_processed"`
	PagesFailed    int           `json:"pages_failed"`
	RecordsFound   int           `json:"records_found"`
	Resolved       int           `json:"resolved"`
	ResolveFailed  int           `json:"resolve_failed"`
	Elapsed        time.Duration `json:"elapsed"`
}

// ---------- Plugin Interfaces ----------

// Fetcher defines how result pages are retrieved.
type Fetcher interface {
	// Name returns a human-readable identifier for this fetcher.
	Name() string

	// FetchPage performs exactly one request for the given page. A
	// response with any status code is returned without error; errors are
	// reserved for requests that produced no response at all.
	FetchPage(ctx context.Context, req PageRequest) (*PageData, error)

	// Close releases any resources held by the fetcher.
	Close() error
}

// Extractor turns a page body into group records.
type Extractor interface {
	// Name returns a human-readable identifier.
	Name() string

	// Extract returns the records found in the HTML fragment, in document order.
	Extract(html string) ([]GroupRecord, error)
}

// Resolver follows an indirection link to its final destination.
type Resolver interface {
	Name() string

	// Resolve returns the destination URL, or an error if none was found.
	// Links that are already final are returned unchanged.
	Resolve(ctx context.Context, link string) (string, error)
}

// OutputWriter defines how harvested records are persisted.
type OutputWriter interface {
	// Name returns a human-readable identifier for this writer.
	Name() string

	// WriteRecords writes the final record set.
	WriteRecords(records []GroupRecord) error

	// Finalize writes the run summary and closes resources.
	Finalize(summary *RunSummary) error
}
