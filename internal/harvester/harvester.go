package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/extractor"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/fetcher"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/geo"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/output"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/resolver"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/sirupsen/logrus"
)

// State is the harvester's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StatePaused     State = "paused"
	StateResolving  State = "resolving"
	StateStopped    State = "stopped"
	StateDone       State = "done"
)

var errStopped = errors.New("harvester stopped")

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("harvester already ran")

// Harvester drives one run: it pages through a directory, accumulates
// the records, optionally resolves indirection links, and hands the
// result to its output writers. It owns all run state; nothing is global.
type Harvester struct {
	config   *Config
	fetch    plugin.Fetcher
	extract  plugin.Extractor
	resolve  plugin.Resolver
	writers  []plugin.OutputWriter
	pager    *Paginator
	log      logrus.FieldLogger
	events   chan plugin.RunEvent
	randDur  func(lo, hi time.Duration) time.Duration
	geoFetch func(ctx context.Context) (geo.Location, error)

	// Accumulator
	records []plugin.GroupRecord
	recMu   sync.Mutex

	// Stats
	stats      plugin.RunStats
	statsMu    sync.Mutex
	startTime  time.Time
	finishTime time.Time
	stopReason string

	// Control
	ctrlMu  sync.Mutex
	state   State
	active  State
	paused  bool
	stopped bool
	started bool
	wake    chan struct{}
	stopCh  chan struct{}
}

// Option customises a Harvester, mainly to swap in components.
type Option func(*Harvester)

// WithFetcher sets the page fetcher instead of building one in Init.
func WithFetcher(f plugin.Fetcher) Option { return func(h *Harvester) { h.fetch = f } }

// WithExtractor sets the record extractor.
func WithExtractor(e plugin.Extractor) Option { return func(h *Harvester) { h.extract = e } }

// WithResolver sets the link resolver.
func WithResolver(r plugin.Resolver) Option { return func(h *Harvester) { h.resolve = r } }

// WithWriter adds an output writer. A CSV writer is added in Init when
// the config asks for a saved file.
func WithWriter(w plugin.OutputWriter) Option {
	return func(h *Harvester) { h.writers = append(h.writers, w) }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(h *Harvester) { h.log = l } }

// WithGeolocation replaces the geolocation lookup.
func WithGeolocation(fn func(ctx context.Context) (geo.Location, error)) Option {
	return func(h *Harvester) { h.geoFetch = fn }
}

// New creates a new Harvester with the given configuration.
func New(config *Config, opts ...Option) *Harvester {
	h := &Harvester{
		config:  config,
		events:  make(chan plugin.RunEvent, 1000),
		state:   StateIdle,
		stopCh:  make(chan struct{}),
		randDur: randomDuration,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("component", "harvester")
	return h
}

// Events returns the event channel for the CLI or other consumers.
func (h *Harvester) Events() <-chan plugin.RunEvent {
	return h.events
}

// Init builds any component not supplied as an option, opens the
// session and prepares the paginator.
func (h *Harvester) Init(ctx context.Context) error {
	if err := h.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	rules := h.config.Site

	if h.extract == nil {
		h.extract = extractor.New(rules)
	}

	if h.fetch == nil {
		if err := h.initFetcher(); err != nil {
			return err
		}
	}

	if h.resolve == nil && h.needsResolve() {
		if err := h.initResolver(); err != nil {
			return err
		}
	}

	if h.config.SaveOutput {
		h.writers = append([]plugin.OutputWriter{output.NewCSVWriter(h.config.OutputPath, h.config.IncludeFilters)}, h.writers...)
	}

	if h.config.Warmup {
		if w, ok := h.fetch.(interface{ Warmup(context.Context) error }); ok {
			if err := w.Warmup(ctx); err != nil {
				h.warn(0, err, "Warm-up request failed, continuing without session cookies")
			}
		}
	}

	extra := make(map[string]string)
	if rules.UseGeolocation && h.config.Geolocation {
		lookup := h.geoFetch
		if lookup == nil {
			lookup = geo.NewClient(h.config.GeoEndpoint, h.config.Timeout, h.log).Lookup
		}
		loc, err := lookup(ctx)
		if err != nil {
			h.warn(0, err, "Geolocation lookup failed, country defaults not sent")
		} else {
			for k, v := range loc.FormFields(rules.Params.CountryCode, rules.Params.CountryName) {
				extra[k] = v
			}
		}
	}

	h.pager = NewPaginator(PaginatorConfig{
		Fetcher:    h.fetch,
		Extractor:  h.extract,
		Site:       rules,
		Filters:    h.config.Filters,
		Extra:      extra,
		MaxPages:   h.config.MaxPages,
		MaxRetries: h.config.MaxRetries,
		RetryDelay: h.config.RetryDelay,
		Wait:       h.wait,
		Logger:     h.log,
	})
	return nil
}

func (h *Harvester) initFetcher() error {
	rules := h.config.Site

	if h.config.FetcherMode == FetcherBrowser {
		bf, err := fetcher.NewBrowserFetcher(fetcher.BrowserFetcherConfig{
			Site:        rules,
			Timeout:     h.config.BrowserTimeout,
			PageTimeout: h.config.PageTimeout,
			UserAgent:   h.config.UserAgent,
			Headless:    true,
			Logger:      h.log,
		})
		if err == nil {
			h.fetch = bf
			return nil
		}
		h.warn(0, err, "Browser fetcher unavailable, falling back to HTTP")
		h.config.FetcherMode = FetcherHTTP
	}

	hf, err := fetcher.NewHTTPFetcher(fetcher.HTTPFetcherConfig{
		Site:            rules,
		UserAgent:       h.config.UserAgent,
		Timeout:         h.config.Timeout,
		MaxResponseSize: h.config.MaxResponseSize,
		Proxy:           h.config.Proxy,
		CustomHeaders:   h.config.CustomHeaders,
		Logger:          h.log,
	})
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	h.fetch = hf
	return nil
}

func (h *Harvester) initResolver() error {
	if h.config.ResolverMode == ResolverBrowser {
		br, err := resolver.NewBrowserResolver(resolver.BrowserResolverConfig{
			Timeout:     h.config.BrowserTimeout,
			PageTimeout: h.config.PageTimeout,
			Headless:    true,
			Logger:      h.log,
		})
		if err == nil {
			h.resolve = br
			return nil
		}
		h.warn(0, err, "Browser resolver unavailable, falling back to HTTP")
		h.config.ResolverMode = ResolverHTTP
	}

	hr, err := resolver.NewHTTPResolver(resolver.HTTPResolverConfig{
		UserAgent: h.config.UserAgent,
		Referer:   h.config.Site.BaseURL,
		Timeout:   h.config.Timeout,
		Logger:    h.log,
	})
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}
	h.resolve = hr
	return nil
}

// Paginator exposes the page sequence, e.g. to read or restore its cursor.
func (h *Harvester) Paginator() *Paginator {
	return h.pager
}

// Run collects pages until a termination condition, a stop request or
// context cancellation, then resolves links if configured. Whatever was
// collected is kept in every case. Fetch failures end collection; they
// are reported as warning events, not returned.
func (h *Harvester) Run(ctx context.Context) error {
	if h.pager == nil {
		return errors.New("harvester not initialized")
	}
	h.ctrlMu.Lock()
	if h.started {
		h.ctrlMu.Unlock()
		return ErrAlreadyRun
	}
	h.started = true
	h.ctrlMu.Unlock()
	defer close(h.events)

	h.startTime = time.Now()
	rules := h.config.Site
	h.emit(plugin.RunEvent{
		Type:    plugin.EventRunStarted,
		Page:    h.pager.Cursor(),
		Message: fmt.Sprintf("Starting %s from page %d", rules.Name, h.pager.Cursor()),
	})

	h.collect(ctx)

	if !h.isStopped() && h.needsResolve() && h.resolve != nil {
		h.resolveLinks(ctx)
	}

	if h.isStopped() {
		h.setState(StateStopped)
	} else {
		h.setState(StateDone)
	}
	h.finishTime = time.Now()

	records := h.Records()
	for _, w := range h.writers {
		if err := w.WriteRecords(records); err != nil {
			h.warn(0, err, fmt.Sprintf("Failed to write records (%s)", w.Name()))
		} else if err := w.Finalize(h.Summary()); err != nil {
			h.warn(0, err, fmt.Sprintf("Failed to finalize output (%s)", w.Name()))
		}
	}

	stats := h.getStats()
	h.log.WithFields(logrus.Fields{
		"pages":   stats.PagesProcessed,
		"records": stats.RecordsFound,
		"reason":  h.reason(),
	}).Info("Run finished")

	h.emit(plugin.RunEvent{
		Type:    plugin.EventRunFinished,
		State:   string(h.State()),
		Stats:   stats,
		Message: fmt.Sprintf("Finished: %d pages processed, %d records found (%s)", stats.PagesProcessed, stats.RecordsFound, h.reason()),
	})
	return nil
}

func (h *Harvester) collect(ctx context.Context) {
	h.setState(StateCollecting)

	for {
		if !h.checkpoint(ctx) {
			return
		}

		index := h.pager.Cursor()
		h.emit(plugin.RunEvent{Type: plugin.EventPageStarted, Page: index, Message: fmt.Sprintf("Fetching page %d", index)})

		batch, err := h.pager.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			h.setReason("max pages reached")
			return
		}
		if err != nil {
			h.markStopped(err.Error())
			return
		}

		h.handleBatch(batch)
		if h.pager.Done() {
			// No-op when the batch already set a reason.
			h.setReason("max pages reached")
			return
		}

		delay := h.randDur(h.config.DelayMin, h.config.DelayMax)
		if delay > 0 {
			h.emit(plugin.RunEvent{
				Type:    plugin.EventDelay,
				Page:    h.pager.Cursor(),
				Delay:   delay,
				Message: fmt.Sprintf("Waiting %s before page %d", delay.Round(time.Millisecond), h.pager.Cursor()),
			})
			_ = h.wait(ctx, delay)
		}
	}
}

func (h *Harvester) handleBatch(batch plugin.PageBatch) {
	h.statsMu.Lock()
	if batch.Outcome == plugin.OutcomeFailed {
		h.stats.PagesFailed++
	} else {
		h.stats.PagesProcessed++
	}
	h.stats.Elapsed = time.Since(h.startTime)
	h.statsMu.Unlock()

	switch batch.Outcome {
	case plugin.OutcomeEnd:
		h.setReason("end of results")
		h.emit(plugin.RunEvent{Type: plugin.EventPageEnd, Page: batch.Index, Batch: &batch, Message: fmt.Sprintf("No more results after page %d", batch.Index)})
		return
	case plugin.OutcomeBlocked:
		h.setReason("blocked by site (HTTP 403)")
		h.warn(batch.Index, batch.Err, fmt.Sprintf("Page %d was refused (HTTP 403); the site may be blocking automated requests", batch.Index))
		return
	case plugin.OutcomeEmpty:
		h.setReason("empty response")
		h.warn(batch.Index, batch.Err, fmt.Sprintf("Page %d came back empty; the site may be blocking automated requests", batch.Index))
		return
	case plugin.OutcomeHTTPError:
		status := 0
		if batch.Page != nil {
			status = batch.Page.StatusCode
		}
		h.setReason(fmt.Sprintf("HTTP status %d", status))
		h.warn(batch.Index, batch.Err, fmt.Sprintf("Page %d returned HTTP %d", batch.Index, status))
		return
	case plugin.OutcomeFailed:
		h.setReason("fetch failed")
		h.warn(batch.Index, batch.Err, fmt.Sprintf("Page %d could not be fetched", batch.Index))
		return
	}

	h.recMu.Lock()
	h.records = append(h.records, batch.Records...)
	h.recMu.Unlock()

	h.statsMu.Lock()
	h.stats.RecordsFound += len(batch.Records)
	h.statsMu.Unlock()

	if len(batch.Records) == 0 {
		h.setReason("no records on page")
	}

	h.emit(plugin.RunEvent{
		Type:    plugin.EventPageDone,
		Page:    batch.Index,
		Batch:   &batch,
		Stats:   h.getStats(),
		Message: fmt.Sprintf("Page %d: %d records", batch.Index, len(batch.Records)),
	})
}

// resolveLinks follows every indirection link collected so far. Links
// that cannot be resolved are kept as they are.
func (h *Harvester) resolveLinks(ctx context.Context) {
	h.setState(StateResolving)
	marker := h.config.Site.IndirectionMarker

	h.recMu.Lock()
	var pending []int
	for i, rec := range h.records {
		if marker != "" && strings.Contains(rec.Link, marker) {
			pending = append(pending, i)
		}
	}
	h.recMu.Unlock()

	for n, i := range pending {
		if !h.checkpoint(ctx) {
			return
		}

		h.recMu.Lock()
		rec := h.records[i]
		h.recMu.Unlock()

		dest, err := h.resolve.Resolve(ctx, rec.Link)
		if err != nil {
			if ctx.Err() != nil {
				h.markStopped(ctx.Err().Error())
				return
			}
			h.statsMu.Lock()
			h.stats.ResolveFailed++
			h.statsMu.Unlock()

			h.log.WithError(err).WithField("url", rec.Link).Warn("Could not resolve link")
			h.emit(plugin.RunEvent{Type: plugin.EventResolveFailed, Record: &rec, Error: err, Message: fmt.Sprintf("Could not resolve %s", rec.Link)})
		} else {
			resolved := rec.WithLink(dest)
			h.recMu.Lock()
			h.records[i] = resolved
			h.recMu.Unlock()

			h.statsMu.Lock()
			h.stats.Resolved++
			h.statsMu.Unlock()
			h.emit(plugin.RunEvent{Type: plugin.EventRecordResolved, Record: &resolved, Stats: h.getStats()})
		}

		if n < len(pending)-1 {
			if delay := h.randDur(h.config.DelayMin, h.config.DelayMax); delay > 0 {
				h.emit(plugin.RunEvent{Type: plugin.EventDelay, Delay: delay, Message: fmt.Sprintf("Waiting %s before next link", delay.Round(time.Millisecond))})
				_ = h.wait(ctx, delay)
			}
		}
	}
}

func (h *Harvester) needsResolve() bool {
	return h.config.Resolve && h.config.Site.ResolveIndirection
}

// ---------- control ----------

// Pause suspends the run at the next checkpoint.
func (h *Harvester) Pause() {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	if h.paused || h.stopped {
		return
	}
	h.paused = true
	h.wake = make(chan struct{})
}

// Resume continues a paused run.
func (h *Harvester) Resume() {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	if !h.paused {
		return
	}
	h.paused = false
	close(h.wake)
}

// Stop signals the harvester to stop. An in-flight request completes
// first; results gathered so far are kept.
func (h *Harvester) Stop() {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.stopReason == "" {
		h.stopReason = "stopped by user"
	}
	close(h.stopCh)
	if h.paused {
		h.paused = false
		close(h.wake)
	}
}

// State returns the current lifecycle state.
func (h *Harvester) State() State {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	return h.state
}

// Paused reports whether a pause has been requested.
func (h *Harvester) Paused() bool {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	return h.paused
}

func (h *Harvester) isStopped() bool {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	return h.stopped
}

func (h *Harvester) markStopped(reason string) {
	h.ctrlMu.Lock()
	h.stopReason = reason
	h.ctrlMu.Unlock()
	h.Stop()
}

func (h *Harvester) setReason(reason string) {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	if h.stopReason == "" {
		h.stopReason = reason
	}
}

func (h *Harvester) reason() string {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	if h.stopReason == "" {
		return "finished"
	}
	return h.stopReason
}

func (h *Harvester) setState(s State) {
	h.ctrlMu.Lock()
	if h.state == s {
		h.ctrlMu.Unlock()
		return
	}
	h.state = s
	if s == StateCollecting || s == StateResolving {
		h.active = s
	}
	h.ctrlMu.Unlock()

	h.log.WithField("state", s).Debug("State changed")
	h.emit(plugin.RunEvent{Type: plugin.EventStateChanged, State: string(s)})
}

// checkpoint blocks while paused and reports whether the run may go on.
func (h *Harvester) checkpoint(ctx context.Context) bool {
	for {
		if err := ctx.Err(); err != nil {
			h.markStopped(err.Error())
			return false
		}

		h.ctrlMu.Lock()
		stopped, paused, wake, active := h.stopped, h.paused, h.wake, h.active
		h.ctrlMu.Unlock()

		if stopped {
			return false
		}
		if !paused {
			h.setState(active)
			return true
		}

		h.setState(StatePaused)
		select {
		case <-wake:
		case <-ctx.Done():
		}
	}
}

// wait sleeps for d unless the run is stopped or the context ends first.
func (h *Harvester) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-h.stopCh:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// randomDuration picks a delay uniformly from [lo, hi].
func randomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// ---------- results ----------

// Records returns a copy of everything accumulated so far.
func (h *Harvester) Records() []plugin.GroupRecord {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	out := make([]plugin.GroupRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Summary builds the RunSummary for the current state.
func (h *Harvester) Summary() *plugin.RunSummary {
	stats := h.getStats()
	finished := h.finishTime
	if finished.IsZero() {
		finished = time.Now()
	}
	return &plugin.RunSummary{
		Source:         h.config.Site.Source,
		Filters:        h.config.Filters,
		StartedAt:      h.startTime,
		FinishedAt:     finished,
		Duration:       finished.Sub(h.startTime),
		PagesProcessed: stats.PagesProcessed,
		PagesFailed:    stats.PagesFailed,
		TotalRecords:   stats.RecordsFound,
		Resolved:       stats.Resolved,
		ResolveFailed:  stats.ResolveFailed,
		StopReason:     h.reason(),
		FinalState:     string(h.State()),
		Records:        h.Records(),
	}
}

// getStats returns a copy of the current stats.
func (h *Harvester) getStats() *plugin.RunStats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	statsCopy := h.stats
	if !h.startTime.IsZero() {
		statsCopy.Elapsed = time.Since(h.startTime)
	}
	return &statsCopy
}

func (h *Harvester) warn(page int, err error, msg string) {
	entry := h.log.WithField("page", page)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(msg)
	h.emit(plugin.RunEvent{Type: plugin.EventWarning, Page: page, Error: err, Message: msg})
}

// emit sends an event to the event channel (non-blocking).
func (h *Harvester) emit(event plugin.RunEvent) {
	select {
	case h.events <- event:
	default:
		// Drop event if channel is full; the loop never waits on consumers.
	}
}

// Close releases all resources.
func (h *Harvester) Close() error {
	var errs []error
	if h.fetch != nil {
		errs = append(errs, h.fetch.Close())
	}
	if c, ok := h.resolve.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
