package geoip

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cannedResponse = `<Response>
  <Ip>203.0.113.5</Ip>
  <Status>OK</Status>
  <CountryCode>DE</CountryCode>
  <CountryCode3>DEU</CountryCode3>
  <CountryName>Germany</CountryName>
  <TimeZone>Europe/Berlin</TimeZone>
</Response>`

func newTestHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 0
	c.Logger = nil
	return c
}

func TestLookupParsesResponse(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, cannedResponse)
	}))
	defer srv.Close()

	c := New(WithStrategy(NewHTTPStrategy(
		WithLookupURL(srv.URL),
		WithHTTPClient(newTestHTTPClient()),
	)))

	result, err := c.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "DE", result.CountryCode)
	assert.Equal(t, "Europe/Berlin", result.TimeZone)

	assert.Equal(t, "de", c.CountryCode())
	assert.Equal(t, "Europe/Berlin", c.TimeZone())

	// Second lookup must come from the cache.
	_, err = c.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(WithStrategy(NewHTTPStrategy(
		WithLookupURL(srv.URL),
		WithHTTPClient(newTestHTTPClient()),
	)))

	_, err := c.Lookup(context.Background())
	require.Error(t, err)
	assert.Equal(t, "", c.CountryCode())
	assert.Equal(t, "", c.TimeZone())
}

func TestLookupMalformedResponse(t *testing.T) {
	c := New(WithStrategy(&StaticStrategy{Response: []byte("<Response><CountryCode>")}))

	_, err := c.Lookup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse lookup response")
}

func TestStaticStrategy(t *testing.T) {
	c := New(WithStrategy(&StaticStrategy{Response: []byte(cannedResponse)}))

	result, err := c.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "de", c.CountryCode())
	assert.Equal(t, "Europe/Berlin", result.TimeZone)
}
