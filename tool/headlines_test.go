package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleNewsHTML = `<html><body>
<article>
	<h3>Fed holds rates steady</h3>
	<div data-n-tid="1">Reuters</div>
</article>
<article>
	<h4>Chipmaker beats estimates</h4>
	<div data-n-tid="1">Bloomberg</div>
</article>
</body></html>`

func TestHeadlineScraper_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleNewsHTML))
	}))
	defer server.Close()

	scraper := NewHeadlineScraper()
	scraper.BaseURL = server.URL

	out, err := scraper.Call(context.Background(), "AAPL")
	assert.NoError(t, err)
	assert.Contains(t, out, "Fed holds rates steady")
	assert.Contains(t, out, "Chipmaker beats estimates")
	assert.Contains(t, out, "Reuters")
}

func TestHeadlineScraper_Call_EmptyQuery(t *testing.T) {
	scraper := NewHeadlineScraper()
	_, err := scraper.Call(context.Background(), "   ")
	assert.Error(t, err)
}

func TestHeadlineScraper_Call_NoArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body></body></html>`))
	}))
	defer server.Close()

	scraper := NewHeadlineScraper()
	scraper.BaseURL = server.URL

	out, err := scraper.Call(context.Background(), "AAPL")
	assert.NoError(t, err)
	assert.Equal(t, "no headlines found", out)
}

func TestHeadlineScraper_Call_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	scraper := NewHeadlineScraper()
	scraper.BaseURL = server.URL

	_, err := scraper.Call(context.Background(), "AAPL")
	assert.Error(t, err)
}
