package ingest

import (
	"testing"

	"github.com/lysyi3m/autopress/app/database"
)

func TestFilterer_NoFilters(t *testing.T) {
	filterer := NewFilterer()

	filtered, reason := filterer.Run(Item{Title: "Anything"}, nil)
	if filtered {
		t.Errorf("Item should not be filtered when no filters are configured")
	}
	if reason != "" {
		t.Errorf("Expected empty filter reason, got: %s", reason)
	}
}

func TestFilterer_TitleIncludeFilter(t *testing.T) {
	filterer := NewFilterer()
	filters := []database.FeedFilter{{Field: "title", Includes: []string{"golang", "Rust"}}}

	items := []Item{
		{Title: "Golang 1.24 released"},
		{Title: "Why rust is popular"},
		{Title: "Weather Report"},
	}

	expected := []bool{false, false, true}
	for i, item := range items {
		filtered, reason := filterer.Run(item, filters)
		if filtered != expected[i] {
			t.Errorf("Item %d: expected filtered=%v, got %v", i, expected[i], filtered)
		}
		if filtered && reason == "" {
			t.Errorf("Item %d should have filter reason", i)
		}
	}
}

func TestFilterer_ExcludeWinsOverInclude(t *testing.T) {
	filterer := NewFilterer()
	filters := []database.FeedFilter{
		{Field: "title", Includes: []string{"go"}, Excludes: []string{"sponsored"}},
	}

	filtered, reason := filterer.Run(Item{Title: "Go tips (Sponsored)"}, filters)
	if !filtered {
		t.Fatal("Expected sponsored item to be filtered")
	}
	if reason != "excluded by title filter: contains 'sponsored'" {
		t.Errorf("Unexpected filter reason: %s", reason)
	}
}

func TestFilterer_URLAndSourceFields(t *testing.T) {
	filterer := NewFilterer()
	filters := []database.FeedFilter{
		{Field: "url", Excludes: []string{"/video/"}},
		{Field: "source", Includes: []string{"hn"}},
	}

	tests := []struct {
		item     Item
		filtered bool
	}{
		{Item{SourceID: "hn", URL: "https://a.example/post"}, false},
		{Item{SourceID: "hn", URL: "https://a.example/video/1"}, true},
		{Item{SourceID: "lobsters", URL: "https://b.example/post"}, true},
	}

	for _, tt := range tests {
		if filtered, _ := filterer.Run(tt.item, filters); filtered != tt.filtered {
			t.Errorf("Item %+v: expected filtered=%v, got %v", tt.item, tt.filtered, filtered)
		}
	}
}

func TestFilterer_UnknownFieldNeverMatches(t *testing.T) {
	filterer := NewFilterer()

	filters := []database.FeedFilter{{Field: "author", Excludes: []string{"x"}}}
	if filtered, _ := filterer.Run(Item{Title: "x"}, filters); filtered {
		t.Error("Exclude on unknown field should not filter")
	}

	filters = []database.FeedFilter{{Field: "author", Includes: []string{"x"}}}
	if filtered, _ := filterer.Run(Item{Title: "x"}, filters); !filtered {
		t.Error("Include on unknown field should filter")
	}
}
