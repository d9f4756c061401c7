// Package site holds the per-directory request and selector rules.
package site

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
)

// ErrUnknownSite is returned by Lookup for names with no rule set.
var ErrUnknownSite = errors.New("unknown site")

// FirstPageMode controls how the first page of results is requested.
type FirstPageMode string

const (
	// FirstPageAjax requests the first page from the load-more endpoint like every other page.
	FirstPageAjax FirstPageMode = "ajax"
	// FirstPageForm requests the first page as a submission of the search form.
	FirstPageForm FirstPageMode = "form"
)

// Params names the form fields a directory expects.
type Params struct {
	Page        string
	Category    string
	Country     string
	Language    string
	CountryCode string
	CountryName string
}

// Site describes how to page through and parse one directory.
type Site struct {
	Name   string
	Source plugin.Source

	BaseURL      string
	WarmupPath   string
	LoadMorePath string
	FormPath     string

	FirstPage     int
	FirstPageMode FirstPageMode
	Params        Params

	// EndMarker is the literal text the endpoint returns once results run out.
	EndMarker string

	ContainerClass    string
	DirectMarker      string
	IndirectionMarker string
	InviteBaseURL     string

	// ResolveIndirection leaves indirection links intact so a resolver
	// pass can follow them, instead of rewriting them onto InviteBaseURL.
	ResolveIndirection bool

	UseGeolocation bool
}

// URL joins a site-relative path onto the base URL.
func (s Site) URL(path string) string {
	if path == "" {
		return s.BaseURL
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Host returns the hostname of the base URL.
func (s Site) Host() string {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Validate reports rule sets that cannot drive a run.
func (s Site) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("site name is empty")
	case s.BaseURL == "":
		return fmt.Errorf("site %s: base url is empty", s.Name)
	case s.LoadMorePath == "":
		return fmt.Errorf("site %s: load-more path is empty", s.Name)
	case s.ContainerClass == "":
		return fmt.Errorf("site %s: container class is empty", s.Name)
	case s.DirectMarker == "" && s.IndirectionMarker == "":
		return fmt.Errorf("site %s: no link marker configured", s.Name)
	case s.FirstPageMode == FirstPageForm && s.FormPath == "":
		return fmt.Errorf("site %s: form first-page mode needs a form path", s.Name)
	case s.FirstPage < 0:
		return fmt.Errorf("site %s: first page index %d is negative", s.Name, s.FirstPage)
	}
	return nil
}

const (
	whatsAppHost   = "chat.whatsapp.com"
	whatsAppInvite = "https://chat.whatsapp.com/invite/"
)

var defaultParams = Params{
	Page:        "group_no",
	Category:    "gcid",
	Country:     "cid",
	Language:    "lid",
	CountryCode: "countryCode",
	CountryName: "countryName",
}

// DirectoryA is the directory whose join pages carry the invite code in the path.
func DirectoryA() Site {
	return Site{
		Name:               "directory-a",
		Source:             plugin.SourceDirectoryA,
		BaseURL:            "https://groupsor.link",
		WarmupPath:         "/",
		LoadMorePath:       "/group/indexmore",
		FormPath:           "/group/searchmore",
		FirstPage:          0,
		FirstPageMode:      FirstPageAjax,
		Params:             defaultParams,
		EndMarker:          "No More groups",
		ContainerClass:     "maindiv",
		DirectMarker:       whatsAppHost,
		IndirectionMarker:  "/group/join/",
		InviteBaseURL:      whatsAppInvite,
		ResolveIndirection: false,
	}
}

// DirectoryB is the directory whose listings point at an intermediate
// page that has to be fetched to learn the invite link.
func DirectoryB() Site {
	return Site{
		Name:               "directory-b",
		Source:             plugin.SourceDirectoryB,
		BaseURL:            "https://groupda.com",
		WarmupPath:         "/add/group/search",
		LoadMorePath:       "/add/group/loadresult",
		FormPath:           "/add/group/search",
		FirstPage:          0,
		FirstPageMode:      FirstPageAjax,
		Params:             defaultParams,
		EndMarker:          "No More groups",
		ContainerClass:     "view",
		DirectMarker:       whatsAppHost,
		IndirectionMarker:  "/add/group/invite/",
		InviteBaseURL:      whatsAppInvite,
		ResolveIndirection: true,
		UseGeolocation:     true,
	}
}

var builtin = map[string]func() Site{
	"directory-a": DirectoryA,
	"directory-b": DirectoryB,
	"a":           DirectoryA,
	"b":           DirectoryB,
}

// Lookup returns the built-in rule set for a site name or short alias.
func Lookup(name string) (Site, error) {
	ctor, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Site{}, fmt.Errorf("%w: %q", ErrUnknownSite, name)
	}
	return ctor(), nil
}

// All returns every built-in rule set, ordered by name.
func All() []Site {
	sites := []Site{DirectoryA(), DirectoryB()}
	sort.Slice(sites, func(i, j int) bool { return sites[i].Name < sites[j].Name })
	return sites
}
