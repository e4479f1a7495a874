package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/autopress/app/database"
)

// Item is one feed entry as returned by a Fetcher.
type Item struct {
	SourceID string
	URL      string
	Title    string
	Date     *time.Time
}

type Fetcher interface {
	Fetch(ctx context.Context, campaign *database.Campaign, endpoint *database.Endpoint) ([]Item, error)
}

const maxFeedResponseSize = 1 << 20

// WorkerFetcher asks the campaign's worker to aggregate all sources in one request.
type WorkerFetcher struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewWorkerFetcher(httpClient *http.Client, userAgent string, timeout time.Duration) *WorkerFetcher {
	return &WorkerFetcher{httpClient: httpClient, userAgent: userAgent, timeout: timeout}
}

type fetchRequest struct {
	Action     string                `json:"action"`
	CampaignID string                `json:"campaign_id"`
	Sources    []database.FeedSource `json:"sources"`
}

type fetchResponse struct {
	Sources []struct {
		ID    string `json:"id"`
		Items []struct {
			URL   string `json:"url"`
			Title string `json:"title"`
			Date  string `json:"date"`
		} `json:"items"`
	} `json:"sources"`
}

func (f *WorkerFetcher) Fetch(ctx context.Context, campaign *database.Campaign, endpoint *database.Endpoint) ([]Item, error) {
	body, err := json.Marshal(fetchRequest{
		Action:     "fetch_feeds",
		CampaignID: campaign.ID,
		Sources:    campaign.Feed.Sources,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode fetch request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, endpoint.FeedTarget(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", f.userAgent)
	if endpoint.Secret != "" {
		req.Header.Set("X-Callback-Token", endpoint.Secret)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feeds: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > maxFeedResponseSize {
		return nil, fmt.Errorf("feed response exceeds %d bytes", maxFeedResponseSize)
	}

	var out fetchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("malformed feed response: %w", err)
	}

	var items []Item
	for _, source := range out.Sources {
		for _, it := range source.Items {
			items = append(items, Item{
				SourceID: source.ID,
				URL:      strings.TrimSpace(it.URL),
				Title:    it.Title,
				Date:     parseDate(it.Date),
			})
		}
	}
	return items, nil
}

var dateLayouts = []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02 15:04:05", time.DateOnly}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

// DirectFetcher downloads and parses every source itself.
type DirectFetcher struct {
	httpClient  *http.Client
	userAgent   string
	timeout     time.Duration
	concurrency int
}

func NewDirectFetcher(httpClient *http.Client, userAgent string, timeout time.Duration, concurrency int) *DirectFetcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &DirectFetcher{httpClient: httpClient, userAgent: userAgent, timeout: timeout, concurrency: concurrency}
}

// Fetch fails as a whole when any source fails so that the run is retried
// without recording partial history.
func (f *DirectFetcher) Fetch(ctx context.Context, campaign *database.Campaign, _ *database.Endpoint) ([]Item, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	sources := campaign.Feed.Sources
	results := make([][]Item, len(sources))

	g, gctx := errgroup.WithContext(timeoutCtx)
	g.SetLimit(f.concurrency)
	for i, source := range sources {
		g.Go(func() error {
			items, err := f.fetchSource(gctx, source)
			if err != nil {
				return fmt.Errorf("source %s: %w", source.ID, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []Item
	for _, r := range results {
		items = append(items, r...)
	}
	return items, nil
}

func (f *DirectFetcher) fetchSource(ctx context.Context, source database.FeedSource) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		date := it.PublishedParsed
		if date == nil {
			date = it.UpdatedParsed
		}
		items = append(items, Item{
			SourceID: source.ID,
			URL:      strings.TrimSpace(it.Link),
			Title:    it.Title,
			Date:     date,
		})
	}

	slog.Debug("Feed source parsed", "source", source.ID, "items", len(items))
	return items, nil
}
