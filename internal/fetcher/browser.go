package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// BrowserFetcher uses Rod (headless Chrome) for sites that only answer
// requests made from a page that has passed their JavaScript checks.
// It opens the site once, then issues each page request with fetch()
// from inside that page so the browser's cookies and headers apply.
type BrowserFetcher struct {
	browser     *rod.Browser
	rules       site.Site
	timeout     time.Duration
	pageTimeout time.Duration
	userAgent   string
	log         logrus.FieldLogger

	mu   sync.Mutex
	page *rod.Page
}

// BrowserFetcherConfig holds configuration for the browser fetcher.
type BrowserFetcherConfig struct {
	Site        site.Site
	Timeout     time.Duration
	PageTimeout time.Duration
	UserAgent   string
	Headless    bool
	Logger      logrus.FieldLogger
}

// LaunchBrowser starts a Chrome instance and connects Rod to it.
func LaunchBrowser(headless bool) (*rod.Browser, error) {
	u, err := launcher.New().
		Headless(headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, err
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return browser, nil
}

// NewBrowserFetcher creates a new Rod-based page fetcher.
func NewBrowserFetcher(cfg BrowserFetcherConfig) (*BrowserFetcher, error) {
	browser, err := LaunchBrowser(cfg.Headless)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pageTimeout := cfg.PageTimeout
	if pageTimeout == 0 {
		pageTimeout = 15 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &BrowserFetcher{
		browser:     browser,
		rules:       cfg.Site,
		timeout:     timeout,
		pageTimeout: pageTimeout,
		userAgent:   cfg.UserAgent,
		log:         logger.WithField("component", "browser_fetcher"),
	}, nil
}

func (f *BrowserFetcher) Name() string { return "browser" }

// Warmup opens the site page that later requests are issued from.
func (f *BrowserFetcher) Warmup(ctx context.Context) error {
	_, err := f.sitePage(ctx)
	return err
}

const postFragmentJS = `async (target, body) => {
	const res = await fetch(target, {
		method: "POST",
		credentials: "include",
		headers: {
			"Content-Type": "application/x-www-form-urlencoded; charset=UTF-8",
			"X-Requested-With": "XMLHttpRequest"
		},
		body: body
	});
	return { status: res.status, body: await res.text() };
}`

func (f *BrowserFetcher) FetchPage(ctx context.Context, req plugin.PageRequest) (*plugin.PageData, error) {
	start := time.Now()
	target := f.rules.URL(Endpoint(f.rules, req.Index))

	page := &plugin.PageData{
		Index:       req.Index,
		URL:         target,
		Method:      http.MethodPost,
		FetcherUsed: "browser",
		FetchedAt:   start,
	}

	rodPage, err := f.sitePage(ctx)
	if err != nil {
		page.FetchDuration = time.Since(start)
		return page, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	body := url.Values{}
	for k, v := range FormData(f.rules, req) {
		body.Set(k, v)
	}

	p := rodPage.Context(ctx).Timeout(f.timeout)
	defer p.CancelTimeout()

	res, err := p.Eval(postFragmentJS, target, body.Encode())
	page.FetchDuration = time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return page, err
		}
		return page, fmt.Errorf("%w: page %d: %w", ErrTransient, req.Index, err)
	}

	page.StatusCode = res.Value.Get("status").Int()
	page.Body = res.Value.Get("body").Str()
	page.Headers = make(http.Header)

	f.log.WithFields(logrus.Fields{
		"page":   req.Index,
		"status": page.StatusCode,
		"bytes":  len(page.Body),
	}).Debug("Page response received")
	return page, nil
}

// sitePage lazily opens and loads the site's warm-up page.
func (f *BrowserFetcher) sitePage(ctx context.Context) (*rod.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.page != nil {
		return f.page, nil
	}

	rodPage, err := f.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}

	if f.userAgent != "" {
		_ = rodPage.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: f.userAgent,
		})
	}

	target := f.rules.URL(f.rules.WarmupPath)
	p := rodPage.Context(ctx).Timeout(f.timeout)
	defer p.CancelTimeout()

	if err := p.Navigate(target); err != nil {
		_ = rodPage.Close()
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}
	if err := p.WaitStable(f.pageTimeout); err != nil {
		// Pages with long-polling never settle; the document is still usable.
		f.log.WithError(err).WithField("url", target).Debug("Site page did not fully stabilize")
	}

	f.page = rodPage
	return rodPage, nil
}

func (f *BrowserFetcher) Close() error {
	if f.browser != nil {
		return f.browser.Close()
	}
	return nil
}
