package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// HeadlineScraper is a MarketDataProvider-shaped tool that fetches a search
// engine's news results page and extracts headline/snippet pairs via
// goquery, for vendors with no JSON API (the spec's news/sentiment analysts
// treat this the same as any other out-of-scope market-data vendor).
type HeadlineScraper struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHeadlineScraper creates a scraper against Google News' search endpoint.
func NewHeadlineScraper() *HeadlineScraper {
	return &HeadlineScraper{
		BaseURL:    "https://news.google.com/search",
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Name returns the name of the tool.
func (h *HeadlineScraper) Name() string {
	return "Headline_Scraper"
}

// Description returns the description of the tool.
func (h *HeadlineScraper) Description() string {
	return "Scrapes recent news headlines matching a query. Input should be a search query."
}

// Call fetches the search results page for query and returns the scraped
// headlines, one per line. It satisfies agents.MarketDataProvider.
func (h *HeadlineScraper) Call(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("headline scraper: query must not be empty")
	}

	reqURL := fmt.Sprintf("%s?%s", h.BaseURL, url.Values{
		"q":  {query},
		"hl": {"en-US"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("headline scraper: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; tradeorch/1.0)")

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("headline scraper: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("headline scraper: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("headline scraper: parse html: %w", err)
	}

	return renderHeadlines(doc), nil
}

func renderHeadlines(doc *goquery.Document) string {
	var sb strings.Builder
	doc.Find("article").Each(func(i int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").Text())
		if title == "" {
			title = strings.TrimSpace(s.Find("h4").Text())
		}
		if title == "" {
			return
		}
		source := strings.TrimSpace(s.Find("div[data-n-tid]").Text())
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, title, source)
	})

	if sb.Len() == 0 {
		return "no headlines found"
	}
	return sb.String()
}
