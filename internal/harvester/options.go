package harvester

import (
	"errors"
	"fmt"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
)

// Config holds all configuration for a harvesting run.
type Config struct {
	// Target
	Site    site.Site
	Filters plugin.FilterSet

	// Loop control
	MaxPages   int
	DelayMin   time.Duration
	DelayMax   time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// Request options
	UserAgent       string
	Timeout         time.Duration
	MaxResponseSize int
	Proxy           string
	CustomHeaders   []string
	Warmup          bool
	Geolocation     bool
	GeoEndpoint     string

	// Feature flags
	Resolve      bool
	FetcherMode  FetcherMode
	ResolverMode ResolverMode

	// Output
	OutputPath     string
	SaveOutput     bool
	IncludeFilters bool

	// Internal
	BrowserTimeout time.Duration
	PageTimeout    time.Duration
}

// FetcherMode controls which page fetcher to use.
type FetcherMode string

const (
	FetcherHTTP    FetcherMode = "http"
	FetcherBrowser FetcherMode = "browser"
)

// ResolverMode controls how indirection links are followed.
type ResolverMode string

const (
	ResolverHTTP    ResolverMode = "http"
	ResolverBrowser ResolverMode = "browser"
)

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Site:            site.DirectoryA(),
		MaxPages:        50,
		DelayMin:        2 * time.Second,
		DelayMax:        5 * time.Second,
		MaxRetries:      3,
		RetryDelay:      5 * time.Second,
		Timeout:         20 * time.Second,
		MaxResponseSize: 4194304, // 4MB
		Warmup:          true,
		Geolocation:     true,
		Resolve:         true,
		FetcherMode:     FetcherHTTP,
		ResolverMode:    ResolverHTTP,
		OutputPath:      "whatsapp_groups.csv",
		IncludeFilters:  true,
		BrowserTimeout:  30 * time.Second,
		PageTimeout:     15 * time.Second,
	}
}

// Validate reports settings the loop cannot run with.
func (c *Config) Validate() error {
	if err := c.Site.Validate(); err != nil {
		return err
	}
	switch {
	case c.MaxPages < 0:
		return fmt.Errorf("max pages must not be negative, got %d", c.MaxPages)
	case c.DelayMin < 0 || c.DelayMax < 0:
		return errors.New("delays must not be negative")
	case c.DelayMin > c.DelayMax:
		return fmt.Errorf("delay min %s is greater than delay max %s", c.DelayMin, c.DelayMax)
	case c.MaxRetries < 1:
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	case c.RetryDelay < 0:
		return errors.New("retry delay must not be negative")
	}

	switch c.FetcherMode {
	case FetcherHTTP, FetcherBrowser:
	default:
		return fmt.Errorf("unknown fetcher mode %q", c.FetcherMode)
	}
	switch c.ResolverMode {
	case ResolverHTTP, ResolverBrowser:
	default:
		return fmt.Errorf("unknown resolver mode %q", c.ResolverMode)
	}
	return nil
}
