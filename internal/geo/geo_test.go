package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Location
	}{
		{
			name: "plain json",
			body: `{"country_code":"IN","country_name":"India","city":"Pune","IPv4":"1.2.3.4"}`,
			want: Location{CountryCode: "IN", CountryName: "India", City: "Pune", IPv4: "1.2.3.4"},
		},
		{
			name: "jsonp callback",
			body: `callback({"country_code":"BR","country_name":"Brazil","city":null,"IPv4":"5.6.7.8"});`,
			want: Location{CountryCode: "BR", CountryName: "Brazil", IPv4: "5.6.7.8"},
		},
		{
			name: "lenient json",
			body: "{country_code: 'US', country_name: 'United States',}",
			want: Location{CountryCode: "US", CountryName: "United States"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			loc, err := Parse([]byte(c.body))
			require.NoError(t, err)
			assert.Equal(t, c.want, loc)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(""))
	assert.Error(t, err)

	_, err = Parse([]byte("<html>rate limited</html>"))
	assert.Error(t, err)
}

func TestFormFields(t *testing.T) {
	loc := Location{CountryCode: "IN", CountryName: "India"}

	assert.Equal(t, map[string]string{"countryCode": "IN", "countryName": "India"}, loc.FormFields("countryCode", "countryName"))
	assert.Equal(t, map[string]string{"countryName": "India"}, loc.FormFields("", "countryName"))
	assert.Empty(t, Location{}.FormFields("countryCode", "countryName"))
}

func TestClientLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte(`callback({"country_code":"PK","country_name":"Pakistan"})`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	client := NewClient(srv.URL, 5*time.Second, logger)

	loc, err := client.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PK", loc.CountryCode)
	assert.Equal(t, "Pakistan", loc.CountryName)
}

func TestClientLookupErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	_, err := NewClient(srv.URL, 5*time.Second, logger).Lookup(context.Background())
	assert.Error(t, err)
}
