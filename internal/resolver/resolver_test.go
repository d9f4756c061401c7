package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanOrder(t *testing.T) {
	s := NewScanner("")

	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "anchor wins over script",
			html: `<a href="https://chat.whatsapp.com/ANCHOR">join</a>
<script>location.href = "https://chat.whatsapp.com/SCRIPT";</script>`,
			want: "https://chat.whatsapp.com/ANCHOR",
		},
		{
			name: "location assignment",
			html: `<script>setTimeout(function(){ location.href = 'https://chat.whatsapp.com/LOC1'; }, 10)</script>`,
			want: "https://chat.whatsapp.com/LOC1",
		},
		{
			name: "variable assignment",
			html: `<script>var link = "https://chat.whatsapp.com/VAR2"; go(link);</script>`,
			want: "https://chat.whatsapp.com/VAR2",
		},
		{
			name: "assignment beats window.open",
			html: `<script>window.open("https://chat.whatsapp.com/OPEN")</script>
<script>window.location = "https://chat.whatsapp.com/ASSIGN"</script>`,
			want: "https://chat.whatsapp.com/ASSIGN",
		},
		{
			name: "window.open",
			html: `<button onclick="x()">go</button><script>function x(){ window.open( "https://chat.whatsapp.com/WIN3" ) }</script>`,
			want: "https://chat.whatsapp.com/WIN3",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := s.Scan(c.html)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestScanNothingFound(t *testing.T) {
	s := NewScanner("")

	_, err := s.Scan(`<a href="https://example.com">elsewhere</a><script>var x = 1;</script>`)
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestIsDirect(t *testing.T) {
	s := NewScanner("")
	assert.True(t, s.IsDirect("https://chat.whatsapp.com/ABC"))
	assert.False(t, s.IsDirect("https://groupda.com/add/group/invite/1"))
}

func newTestResolver(t *testing.T) *HTTPResolver {
	t.Helper()
	logger, _ := test.NewNullLogger()
	r, err := NewHTTPResolver(HTTPResolverConfig{Timeout: 5 * time.Second, Logger: logger})
	require.NoError(t, err, "Failed to create resolver")
	return r
}

func TestResolveDirectLinkIsIdempotent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	r := newTestResolver(t)
	link := "https://chat.whatsapp.com/ALREADY"

	got, err := r.Resolve(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, link, got)

	again, err := r.Resolve(context.Background(), got)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Zero(t, hits.Load())
}

func TestResolveFromPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/add/group/invite/1":
			w.Write([]byte(`<html><script>var link = "https://chat.whatsapp.com/FOUND1";</script></html>`))
		case "/add/group/invite/2":
			w.Write([]byte(`<html><p>nothing</p></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := newTestResolver(t)
	ctx := context.Background()

	got, err := r.Resolve(ctx, srv.URL+"/add/group/invite/1")
	require.NoError(t, err)
	assert.Equal(t, "https://chat.whatsapp.com/FOUND1", got)

	_, err = r.Resolve(ctx, srv.URL+"/add/group/invite/2")
	assert.ErrorIs(t, err, ErrUnresolved)

	_, err = r.Resolve(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestResolveFollowsRedirectToRefusingHost(t *testing.T) {
	invite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer invite.Close()
	dest := strings.Replace(invite.URL, "127.0.0.1", "localhost", 1) + "/ABC123"

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, dest, http.StatusFound)
	}))
	defer hop.Close()

	logger, _ := test.NewNullLogger()
	r, err := NewHTTPResolver(HTTPResolverConfig{TargetDomain: "localhost", Timeout: 5 * time.Second, Logger: logger})
	require.NoError(t, err)

	got, err := r.Resolve(context.Background(), hop.URL+"/add/group/invite/X")
	require.NoError(t, err)
	assert.Equal(t, dest, got)
}
