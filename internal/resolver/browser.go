package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/fetcher"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// BrowserResolver renders indirection pages in headless Chrome, for
// directories that build the destination link with JavaScript.
type BrowserResolver struct {
	browser     *rod.Browser
	scanner     *Scanner
	timeout     time.Duration
	pageTimeout time.Duration
	log         logrus.FieldLogger
}

// BrowserResolverConfig holds configuration for the browser resolver.
type BrowserResolverConfig struct {
	TargetDomain string
	Timeout      time.Duration
	PageTimeout  time.Duration
	Headless     bool
	Logger       logrus.FieldLogger
}

// NewBrowserResolver launches a browser for resolving links.
func NewBrowserResolver(cfg BrowserResolverConfig) (*BrowserResolver, error) {
	browser, err := fetcher.LaunchBrowser(cfg.Headless)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pageTimeout := cfg.PageTimeout
	if pageTimeout == 0 {
		pageTimeout = 10 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &BrowserResolver{
		browser:     browser,
		scanner:     NewScanner(cfg.TargetDomain),
		timeout:     timeout,
		pageTimeout: pageTimeout,
		log:         logger.WithField("component", "browser_resolver"),
	}, nil
}

func (r *BrowserResolver) Name() string { return "browser" }

func (r *BrowserResolver) Resolve(ctx context.Context, link string) (string, error) {
	if r.scanner.IsDirect(link) {
		return link, nil
	}

	rodPage, err := r.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", err
	}
	defer rodPage.Close()

	p := rodPage.Context(ctx).Timeout(r.timeout)
	defer p.CancelTimeout()

	if err := p.Navigate(link); err != nil {
		return "", fmt.Errorf("navigate %s: %w", link, err)
	}
	if err := p.WaitStable(r.pageTimeout); err != nil {
		r.log.WithError(err).WithField("url", link).Debug("Page did not fully stabilize")
	}

	if info, err := p.Info(); err == nil && r.scanner.IsDirect(info.URL) {
		return info.URL, nil
	}

	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", link, err)
	}

	dest, err := r.scanner.Scan(html)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", link, err)
	}
	return dest, nil
}

func (r *BrowserResolver) Close() error {
	if r.browser != nil {
		return r.browser.Close()
	}
	return nil
}
