package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/geo"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/harvester"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the config reads,
// e.g. GROUPSCRAPE_MAX_PAGES.
const EnvPrefix = "GROUPSCRAPE"

// Config holds all configuration for the application.
// Values are read by viper from a config file, environment variables
// and command-line flags, in increasing order of precedence.
type Config struct {
	Site     string `mapstructure:"site"`
	Category string `mapstructure:"category"`
	Country  string `mapstructure:"country"`
	Language string `mapstructure:"language"`

	MaxPages   int           `mapstructure:"max_pages"`
	DelayMin   time.Duration `mapstructure:"delay_min"`
	DelayMax   time.Duration `mapstructure:"delay_max"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`

	UserAgent   string   `mapstructure:"user_agent"`
	Proxy       string   `mapstructure:"proxy"`
	Headers     []string `mapstructure:"headers"`
	Warmup      bool     `mapstructure:"warmup"`
	Geolocation bool     `mapstructure:"geolocation"`
	GeoEndpoint string   `mapstructure:"geo_endpoint"`

	Resolve  bool   `mapstructure:"resolve"`
	Fetcher  string `mapstructure:"fetcher"`
	Resolver string `mapstructure:"resolver"`

	Output         string `mapstructure:"output"`
	IncludeFilters bool   `mapstructure:"include_filters"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// flagKeys maps config keys to the command-line flags that override them.
var flagKeys = map[string]string{
	"site":            "site",
	"category":        "category",
	"country":         "country",
	"language":        "language",
	"max_pages":       "max-pages",
	"delay_min":       "delay-min",
	"delay_max":       "delay-max",
	"retries":         "retries",
	"retry_delay":     "retry-delay",
	"timeout":         "timeout",
	"user_agent":      "user-agent",
	"proxy":           "proxy",
	"headers":         "header",
	"resolve":         "resolve",
	"fetcher":         "fetcher",
	"resolver":        "resolver",
	"output":          "output",
	"include_filters": "include-filters",
	"log_level":       "log-level",
	"log_format":      "log-format",
}

func setDefaults(v *viper.Viper) {
	d := harvester.DefaultConfig()
	v.SetDefault("site", d.Site.Name)
	v.SetDefault("category", "")
	v.SetDefault("country", "")
	v.SetDefault("language", "")
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("delay_min", d.DelayMin)
	v.SetDefault("delay_max", d.DelayMax)
	v.SetDefault("retries", d.MaxRetries)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("user_agent", "")
	v.SetDefault("proxy", "")
	v.SetDefault("headers", []string{})
	v.SetDefault("warmup", d.Warmup)
	v.SetDefault("geolocation", d.Geolocation)
	v.SetDefault("geo_endpoint", geo.DefaultEndpoint)
	v.SetDefault("resolve", d.Resolve)
	v.SetDefault("fetcher", string(d.FetcherMode))
	v.SetDefault("resolver", string(d.ResolverMode))
	v.SetDefault("output", d.OutputPath)
	v.SetDefault("include_filters", d.IncludeFilters)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads configuration from an optional config.yaml in path,
// GROUPSCRAPE_* environment variables and, when flags is non-nil, any
// flag the user set explicitly.
func LoadConfig(path string, flags *pflag.FlagSet) (config Config, err error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine; env vars and flags still apply.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return config, nil
}

// Harvester converts the loaded values into a validated run configuration.
func (c Config) Harvester() (*harvester.Config, error) {
	rules, err := site.Lookup(c.Site)
	if err != nil {
		return nil, err
	}

	cfg := harvester.DefaultConfig()
	cfg.Site = rules
	cfg.Filters = plugin.FilterSet{Category: c.Category, Country: c.Country, Language: c.Language}
	cfg.MaxPages = c.MaxPages
	cfg.DelayMin = c.DelayMin
	cfg.DelayMax = c.DelayMax
	cfg.MaxRetries = c.Retries
	cfg.RetryDelay = c.RetryDelay
	cfg.Timeout = c.Timeout
	cfg.UserAgent = c.UserAgent
	cfg.Proxy = c.Proxy
	cfg.CustomHeaders = c.Headers
	cfg.Warmup = c.Warmup
	cfg.Geolocation = c.Geolocation
	cfg.GeoEndpoint = c.GeoEndpoint
	cfg.Resolve = c.Resolve
	cfg.FetcherMode = harvester.FetcherMode(strings.ToLower(c.Fetcher))
	cfg.ResolverMode = harvester.ResolverMode(strings.ToLower(c.Resolver))
	cfg.IncludeFilters = c.IncludeFilters

	if c.Output != "" && c.Output != "-" {
		cfg.SaveOutput = true
		cfg.OutputPath = c.Output
	} else {
		cfg.SaveOutput = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Logger builds the application logger from the log_level and
// log_format settings.
func (c Config) Logger() (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return log, nil
}
