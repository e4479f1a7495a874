package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/autopress/app/database"
)

func TestWorkerFetcherParsesSources(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Callback-Token") != "s3cret" {
			t.Errorf("Expected callback token header, got %q", r.Header.Get("X-Callback-Token"))
		}
		w.Write([]byte(`{"sources":[{"id":"a","items":[{"url":" https://a.example/1 ","title":"One","date":"2026-03-01T10:00:00Z"}]}]}`))
	}))
	defer server.Close()

	fetcher := NewWorkerFetcher(server.Client(), "autopress-test", time.Second)
	items, err := fetcher.Fetch(context.Background(), &database.Campaign{ID: "news"}, &database.Endpoint{URL: server.URL, Secret: "s3cret"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].SourceID != "a" || items[0].URL != "https://a.example/1" {
		t.Errorf("Unexpected item: %+v", items[0])
	}
	if items[0].Date == nil {
		t.Error("Expected item date to be parsed")
	}
}

func TestWorkerFetcherRejectsOversizedResponse(t *testing.T) {
	padding := strings.Repeat("x", maxFeedResponseSize)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sources":[{"id":"a","items":[{"url":"https://a.example/1","title":"` + padding + `"}]}]}`))
	}))
	defer server.Close()

	fetcher := NewWorkerFetcher(server.Client(), "autopress-test", time.Second)
	items, err := fetcher.Fetch(context.Background(), &database.Campaign{ID: "news"}, &database.Endpoint{URL: server.URL})
	if err == nil {
		t.Fatalf("Expected error for oversized response, got %d items", len(items))
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("Expected size limit error, got %v", err)
	}
}
