package resolver

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// HTTPResolver fetches indirection pages with a plain HTTP client and
// searches the markup for the destination link.
type HTTPResolver struct {
	http    *resty.Client
	scanner *Scanner
	log     logrus.FieldLogger
}

// HTTPResolverConfig holds configuration for the HTTP resolver.
type HTTPResolverConfig struct {
	TargetDomain string
	UserAgent    string
	Referer      string
	Timeout      time.Duration
	Logger       logrus.FieldLogger
}

// NewHTTPResolver creates a resolver backed by a cookie-keeping resty client.
func NewHTTPResolver(cfg HTTPResolverConfig) (*HTTPResolver, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	client.SetHeader("user-agent", ua)
	if cfg.Referer != "" {
		client.SetHeader("referer", cfg.Referer)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &HTTPResolver{
		http:    client,
		scanner: NewScanner(cfg.TargetDomain),
		log:     logger.WithField("component", "resolver"),
	}, nil
}

func (r *HTTPResolver) Name() string { return "http" }

// Resolve returns direct links unchanged; otherwise it fetches the page
// once and scans it.
func (r *HTTPResolver) Resolve(ctx context.Context, link string) (string, error) {
	if r.scanner.IsDirect(link) {
		return link, nil
	}

	log := r.log.WithField("url", link)

	res, err := r.http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		log.WithError(err).Debug("Indirection request failed")
		return "", fmt.Errorf("fetch %s: %w", link, err)
	}

	// Some directories answer with a plain redirect. The destination is
	// known even when the invite host refuses the follow-up request.
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		if final := res.RawResponse.Request.URL.String(); r.scanner.IsDirect(final) {
			log.WithField("destination", final).Debug("Indirection redirected")
			return final, nil
		}
	}
	if res.IsError() {
		return "", fmt.Errorf("fetch %s: status %d: %w", link, res.StatusCode(), ErrUnresolved)
	}

	dest, err := r.scanner.Scan(string(res.Body()))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", link, err)
	}

	log.WithField("destination", dest).Debug("Indirection resolved")
	return dest, nil
}
