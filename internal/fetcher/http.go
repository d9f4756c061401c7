package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/sirupsen/logrus"
)

// ErrTransient marks failures that produced no response (timeouts,
// refused or reset connections). They are worth retrying.
var ErrTransient = errors.New("transient fetch failure")

// HTTPFetcher uses Colly to post page requests to a directory's
// load-more endpoint. One collector backs the whole run, so cookies set
// by the warm-up request carry over to every page.
type HTTPFetcher struct {
	collector *colly.Collector
	rules     site.Site
	userAgent string
	headers   []string
	log       logrus.FieldLogger
}

// HTTPFetcherConfig holds configuration for the HTTP fetcher.
type HTTPFetcherConfig struct {
	Site            site.Site
	UserAgent       string
	Timeout         time.Duration
	MaxResponseSize int
	Proxy           string
	CustomHeaders   []string
	Logger          logrus.FieldLogger
}

// NewHTTPFetcher creates a new Colly-based page fetcher.
func NewHTTPFetcher(cfg HTTPFetcherConfig) (*HTTPFetcher, error) {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.Async(false),
	)

	// Every status reaches OnResponse; classification happens afterwards.
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true

	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	if cfg.MaxResponseSize > 0 {
		c.MaxBodySize = cfg.MaxResponseSize
	}
	if cfg.Proxy != "" {
		if err := c.SetProxy(cfg.Proxy); err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", cfg.Proxy, err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &HTTPFetcher{
		collector: c,
		rules:     cfg.Site,
		userAgent: cfg.UserAgent,
		headers:   cfg.CustomHeaders,
		log:       logger.WithField("component", "fetcher"),
	}, nil
}

func (f *HTTPFetcher) Name() string { return "http" }

// Warmup visits the site once so the session picks up its cookies.
func (f *HTTPFetcher) Warmup(ctx context.Context) error {
	if f.rules.WarmupPath == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	target := f.rules.URL(f.rules.WarmupPath)
	c := f.session()

	var status int
	c.OnResponse(func(r *colly.Response) { status = r.StatusCode })

	if err := c.Visit(target); err != nil {
		return fmt.Errorf("%w: warm-up %s: %w", ErrTransient, target, err)
	}
	c.Wait()

	f.log.WithFields(logrus.Fields{"url": target, "status": status}).Debug("Warm-up request done")
	if status >= 400 {
		return fmt.Errorf("warm-up %s returned status %d", target, status)
	}
	return nil
}

// FetchPage posts one page request and returns the response as-is.
func (f *HTTPFetcher) FetchPage(ctx context.Context, req plugin.PageRequest) (*plugin.PageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	target := f.rules.URL(Endpoint(f.rules, req.Index))
	form := FormData(f.rules, req)

	page := &plugin.PageData{
		Index:       req.Index,
		URL:         target,
		Method:      http.MethodPost,
		FetcherUsed: "http",
		FetchedAt:   start,
	}

	c := f.session()
	c.OnResponse(func(r *colly.Response) {
		page.StatusCode = r.StatusCode
		page.Body = string(r.Body)
		page.URL = r.Request.URL.String()

		page.Headers = make(http.Header)
		if r.Headers != nil {
			for key, values := range *r.Headers {
				for _, v := range values {
					page.Headers.Add(key, v)
				}
			}
		}
	})

	log := f.log.WithFields(logrus.Fields{"page": req.Index, "url": target})
	log.Debug("Requesting page")

	err := c.Post(target, form)
	c.Wait()
	page.FetchDuration = time.Since(start)

	if err != nil && page.StatusCode == 0 {
		log.WithError(err).Debug("Page request failed without a response")
		return page, fmt.Errorf("%w: page %d: %w", ErrTransient, req.Index, err)
	}

	log.WithFields(logrus.Fields{
		"status":   page.StatusCode,
		"bytes":    len(page.Body),
		"duration": page.FetchDuration,
	}).Debug("Page response received")
	return page, nil
}

func (f *HTTPFetcher) Close() error {
	return nil
}

// session clones the run collector so each request gets clean callbacks
// while sharing the cookie jar and transport.
func (f *HTTPFetcher) session() *colly.Collector {
	c := f.collector.Clone()

	if f.userAgent == "" {
		extensions.RandomUserAgent(c)
	}

	origin := strings.TrimRight(f.rules.BaseURL, "/")
	referer := f.rules.URL(f.rules.WarmupPath)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("X-Requested-With", "XMLHttpRequest")
		r.Headers.Set("Origin", origin)
		r.Headers.Set("Referer", referer)
		r.Headers.Set("Accept", "text/html, */*; q=0.01")
		for _, h := range f.headers {
			parts := strings.SplitN(h, ":", 2)
			if len(parts) == 2 {
				r.Headers.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}
		}
	})

	return c
}

// Endpoint returns the path a page index is requested from. The first
// page goes to the search form for sites that require it.
func Endpoint(rules site.Site, index int) string {
	if rules.FirstPageMode == site.FirstPageForm && index == rules.FirstPage {
		return rules.FormPath
	}
	return rules.LoadMorePath
}

// FormData builds the POST fields for a page request.
func FormData(rules site.Site, req plugin.PageRequest) map[string]string {
	form := make(map[string]string)
	set := func(key, value string) {
		if key != "" {
			form[key] = value
		}
	}

	set(rules.Params.Page, strconv.Itoa(req.Index))
	set(rules.Params.Category, req.Filters.Category)
	set(rules.Params.Country, req.Filters.Country)
	set(rules.Params.Language, req.Filters.Language)

	for k, v := range req.Extra {
		form[k] = v
	}
	return form
}
