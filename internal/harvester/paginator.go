package harvester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/fetcher"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/sirupsen/logrus"
)

// ErrExhausted is returned by Paginator.Next once no further page will be requested.
var ErrExhausted = errors.New("pagination exhausted")

// WaitFunc blocks for d or until the wait is abandoned.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Paginator is a resumable, finite sequence of page batches. Each call
// to Next performs exactly one page request. Pages are requested
// strictly in order and never concurrently.
type Paginator struct {
	fetcher   plugin.Fetcher
	extractor plugin.Extractor
	rules     site.Site
	filters   plugin.FilterSet
	extra     map[string]string

	maxPages    int
	maxAttempts int
	retryDelay  time.Duration
	wait        WaitFunc
	log         logrus.FieldLogger

	next      int
	requested int
	done      bool
}

// PaginatorConfig holds what a Paginator needs to run.
type PaginatorConfig struct {
	Fetcher    plugin.Fetcher
	Extractor  plugin.Extractor
	Site       site.Site
	Filters    plugin.FilterSet
	Extra      map[string]string
	MaxPages   int
	MaxRetries int
	RetryDelay time.Duration
	Wait       WaitFunc
	Logger     logrus.FieldLogger
}

// NewPaginator creates a paginator positioned at the site's first page.
func NewPaginator(cfg PaginatorConfig) *Paginator {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	wait := cfg.Wait
	if wait == nil {
		wait = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Paginator{
		fetcher:     cfg.Fetcher,
		extractor:   cfg.Extractor,
		rules:       cfg.Site,
		filters:     cfg.Filters,
		extra:       cfg.Extra,
		maxPages:    cfg.MaxPages,
		maxAttempts: attempts,
		retryDelay:  cfg.RetryDelay,
		wait:        wait,
		log:         logger.WithField("component", "paginator"),
		next:        cfg.Site.FirstPage,
	}
}

// Cursor returns the index of the next page to request.
func (p *Paginator) Cursor() int { return p.next }

// Done reports whether the sequence has finished.
func (p *Paginator) Done() bool { return p.done }

// Requested returns how many page requests this paginator has completed.
func (p *Paginator) Requested() int { return p.requested }

// Resume restarts the sequence at cursor, typically the Cursor value
// saved from an earlier, interrupted run.
func (p *Paginator) Resume(cursor int) {
	if cursor < p.rules.FirstPage {
		cursor = p.rules.FirstPage
	}
	p.next = cursor
	p.requested = 0
	p.done = false
}

// Next fetches and extracts the next page. Fetch failures, termination
// sentinels and empty pages come back as a batch with a terminal
// outcome, after which Next returns ErrExhausted. The only error Next
// passes through is the context's own.
func (p *Paginator) Next(ctx context.Context) (plugin.PageBatch, error) {
	if p.done {
		return plugin.PageBatch{}, ErrExhausted
	}
	if p.maxPages > 0 && p.requested >= p.maxPages {
		p.done = true
		return plugin.PageBatch{}, ErrExhausted
	}

	index := p.next
	log := p.log.WithField("page", index)
	req := plugin.PageRequest{Index: index, Filters: p.filters, Extra: p.extra}

	page, err := p.fetch(ctx, req)
	batch := plugin.PageBatch{Index: index, Page: page}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return batch, ctxErr
		}
		p.requested++
		p.done = true
		batch.Outcome = plugin.OutcomeFailed
		batch.Err = err
		log.WithError(err).Warn("Giving up on page after retries")
		return batch, nil
	}
	p.requested++

	batch.Outcome = fetcher.Classify(page, p.rules.EndMarker)
	if batch.Outcome.Terminal() {
		p.done = true
		if batch.Outcome != plugin.OutcomeEnd {
			batch.Err = fmt.Errorf("page %d: %s (status %d)", index, batch.Outcome, page.StatusCode)
		}
		return batch, nil
	}

	records, err := p.extractor.Extract(page.Body)
	if err != nil {
		log.WithError(err).Warn("Could not parse page")
		records = nil
	}
	for i := range records {
		records[i] = records[i].WithFilters(p.filters)
	}
	batch.Records = records

	p.next++
	if len(records) == 0 {
		p.done = true
	}
	if p.maxPages > 0 && p.requested >= p.maxPages {
		p.done = true
	}
	return batch, nil
}

// fetch issues the request, retrying failures with a fixed delay up to
// the configured number of attempts.
func (p *Paginator) fetch(ctx context.Context, req plugin.PageRequest) (*plugin.PageData, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		page, err := p.fetcher.FetchPage(ctx, req)
		if err == nil {
			if page != nil {
				page.Attempts = attempt
			}
			return page, nil
		}
		if ctx.Err() != nil {
			return page, ctx.Err()
		}
		lastErr = err

		p.log.WithError(err).WithFields(logrus.Fields{
			"page":    req.Index,
			"attempt": attempt,
			"of":      p.maxAttempts,
		}).Warn("Page request failed")

		if attempt < p.maxAttempts {
			if err := p.wait(ctx, p.retryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("page %d failed after %d attempts: %w", req.Index, p.maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
