// Package geo looks up the caller's country so directory searches can
// default their locale filters the way the sites' own pages do.
package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/titanous/json5"
)

// DefaultEndpoint answers with a JSONP payload.
const DefaultEndpoint = "https://geolocation-db.com/jsonp/"

// Location is the subset of the lookup response the directories use.
type Location struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	IPv4        string `json:"IPv4"`
}

// Client performs geolocation lookups.
type Client struct {
	http     *resty.Client
	endpoint string
	log      logrus.FieldLogger
}

// NewClient creates a lookup client. An empty endpoint uses DefaultEndpoint.
func NewClient(endpoint string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	client.SetHeader("Accept", "application/json, text/javascript, */*")

	return &Client{
		http:     client,
		endpoint: endpoint,
		log:      logger.WithField("component", "geo"),
	}
}

// Lookup fetches and parses the caller's location.
func (c *Client) Lookup(ctx context.Context) (Location, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(c.endpoint)
	if err != nil {
		return Location{}, fmt.Errorf("geolocation request: %w", err)
	}
	if res.IsError() {
		return Location{}, fmt.Errorf("geolocation request: status %d", res.StatusCode())
	}

	loc, err := Parse(res.Body())
	if err != nil {
		return Location{}, err
	}

	c.log.WithFields(logrus.Fields{
		"country_code": loc.CountryCode,
		"country_name": loc.CountryName,
	}).Debug("Geolocation resolved")
	return loc, nil
}

// Parse accepts plain JSON or JSON wrapped in a JSONP callback.
func Parse(body []byte) (Location, error) {
	payload := unwrapJSONP(strings.TrimSpace(string(body)))
	if payload == "" {
		return Location{}, errors.New("geolocation response is empty")
	}

	var loc Location
	if err := json5.Unmarshal([]byte(payload), &loc); err != nil {
		return Location{}, fmt.Errorf("decode geolocation response: %w", err)
	}
	return loc, nil
}

// unwrapJSONP strips a callback(...) wrapper and trailing semicolon.
func unwrapJSONP(s string) string {
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	start := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")
	if start < 0 || end <= start {
		return s
	}
	return strings.TrimSpace(s[start+1 : end])
}

// FormFields maps a location onto a site's country code/name fields.
func (l Location) FormFields(codeKey, nameKey string) map[string]string {
	fields := make(map[string]string)
	if codeKey != "" && l.CountryCode != "" {
		fields[codeKey] = l.CountryCode
	}
	if nameKey != "" && l.CountryName != "" {
		fields[nameKey] = l.CountryName
	}
	return fields
}
