package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules(baseURL string) site.Site {
	rules := site.DirectoryA()
	rules.BaseURL = baseURL
	return rules
}

func newTestFetcher(t *testing.T, rules site.Site) *HTTPFetcher {
	t.Helper()

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f, err := NewHTTPFetcher(HTTPFetcherConfig{
		Site:      rules,
		UserAgent: "groupscrape-test",
		Timeout:   5 * time.Second,
		Logger:    logger,
	})
	require.NoError(t, err, "Failed to create fetcher")
	return f
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		page *plugin.PageData
		want plugin.PageOutcome
	}{
		{"nil page", nil, plugin.OutcomeFailed},
		{"no response", &plugin.PageData{}, plugin.OutcomeFailed},
		{"forbidden", &plugin.PageData{StatusCode: 403, Body: "<div>x</div>"}, plugin.OutcomeBlocked},
		{"server error", &plugin.PageData{StatusCode: 500, Body: "oops"}, plugin.OutcomeHTTPError},
		{"redirect", &plugin.PageData{StatusCode: 302}, plugin.OutcomeHTTPError},
		{"empty body", &plugin.PageData{StatusCode: 200, Body: " \n\t"}, plugin.OutcomeEmpty},
		{"end marker", &plugin.PageData{StatusCode: 200, Body: "<p>No More groups</p>"}, plugin.OutcomeEnd},
		{"fragment", &plugin.PageData{StatusCode: 200, Body: `<div class="maindiv"></div>`}, plugin.OutcomeFragment},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.page, "No More groups"))
		})
	}
}

func TestClassifyStatusBeatsMarker(t *testing.T) {
	page := &plugin.PageData{StatusCode: 404, Body: "No More groups"}
	assert.Equal(t, plugin.OutcomeHTTPError, Classify(page, "No More groups"))
	assert.True(t, Classify(page, "No More groups").Terminal())
	assert.False(t, plugin.OutcomeFragment.Terminal())
}

func TestEndpoint(t *testing.T) {
	rules := site.DirectoryA()
	assert.Equal(t, rules.LoadMorePath, Endpoint(rules, 0))
	assert.Equal(t, rules.LoadMorePath, Endpoint(rules, 3))

	rules.FirstPageMode = site.FirstPageForm
	assert.Equal(t, rules.FormPath, Endpoint(rules, 0))
	assert.Equal(t, rules.LoadMorePath, Endpoint(rules, 1))
}

func TestFormData(t *testing.T) {
	rules := site.DirectoryB()
	req := plugin.PageRequest{
		Index:   4,
		Filters: plugin.FilterSet{Category: "7", Country: "2", Language: "1"},
		Extra:   map[string]string{"countryCode": "IN", "countryName": "India"},
	}

	assert.Equal(t, map[string]string{
		"group_no":    "4",
		"gcid":        "7",
		"cid":         "2",
		"lid":         "1",
		"countryCode": "IN",
		"countryName": "India",
	}, FormData(rules, req))
}

func TestHTTPFetcherPostsPagesWithSessionCookie(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Write([]byte("<html>home</html>"))
	})
	mux.HandleFunc("/group/indexmore", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		cookie, _ := r.Cookie("session")

		mu.Lock()
		seen = append(seen, r.Method+" "+r.PostForm.Get("group_no")+" "+r.PostForm.Get("gcid"))
		mu.Unlock()

		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.Equal(t, "groupscrape-test", r.Header.Get("User-Agent"))
		if assert.NotNil(t, cookie) {
			assert.Equal(t, "abc", cookie.Value)
		}
		w.Write([]byte(`<div class="maindiv"><a href="/group/join/A1">A</a></div>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(t, testRules(srv.URL))
	ctx := context.Background()

	require.NoError(t, f.Warmup(ctx))

	page, err := f.FetchPage(ctx, plugin.PageRequest{Index: 0, Filters: plugin.FilterSet{Category: "7"}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, http.MethodPost, page.Method)
	assert.Contains(t, page.Body, "/group/join/A1")
	assert.Equal(t, srv.URL+"/group/indexmore", page.URL)
	assert.Equal(t, plugin.OutcomeFragment, Classify(page, "No More groups"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"POST 0 7"}, seen)
}

func TestHTTPFetcherReturnsErrorStatusAsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, testRules(srv.URL))

	page, err := f.FetchPage(context.Background(), plugin.PageRequest{Index: 2})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, page.StatusCode)
	assert.Equal(t, plugin.OutcomeBlocked, Classify(page, "No More groups"))
}

func TestHTTPFetcherTransientError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	f := newTestFetcher(t, testRules(base))

	_, err := f.FetchPage(context.Background(), plugin.PageRequest{Index: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestHTTPFetcherCancelledContext(t *testing.T) {
	f := newTestFetcher(t, testRules("http://127.0.0.1:1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchPage(ctx, plugin.PageRequest{Index: 0})
	assert.ErrorIs(t, err, context.Canceled)
}
