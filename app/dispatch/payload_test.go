package dispatch

import (
	"testing"

	"github.com/lysyi3m/autopress/app/database"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello, World!":            "hello-world",
		"Crème brûlée à la carte":  "creme-brulee-a-la-carte",
		"  --Go 1.24 released--  ": "go-1-24-released",
		"":                         "",
	}
	for input, expected := range cases {
		if got := Slugify(input); got != expected {
			t.Errorf("Slugify(%q): expected %q, got %q", input, expected, got)
		}
	}
}

func TestMergeFields(t *testing.T) {
	policy := database.GenerationPolicy{Fields: map[string]database.ContentField{
		"title":   {Generate: true, Prompt: "short"},
		"excerpt": {Generate: true},
	}}

	fields := MergeFields(policy, &database.Task{SlugOverride: "custom", FeatureImage: "https://img.example/a.png"})

	if !fields["title"].Generate {
		t.Error("Expected title to stay generated without an override")
	}
	if fields["slug"].Generate || fields["slug"].Value != "custom" {
		t.Errorf("Expected slug override, got %+v", fields["slug"])
	}
	if fields["feature_image"].Value != "https://img.example/a.png" {
		t.Errorf("Expected feature image override, got %+v", fields["feature_image"])
	}
	if !policy.Fields["title"].Generate || len(policy.Fields) != 2 {
		t.Error("Expected campaign policy to be left untouched")
	}
}

func TestRankLinks(t *testing.T) {
	candidates := []database.Task{
		{Topic: "Newest unrelated", ResultTitle: "Gardening tips", ResultSlug: "gardening"},
		{Topic: "Rust ownership", ResultTitle: "Rust ownership model", ResultSlug: "rust-ownership"},
		{Topic: "Older unrelated", ResultTitle: "Cooking pasta", ResultSlug: "pasta"},
		{Topic: "No slug", ResultTitle: "Rust ownership again"},
	}

	links := RankLinks(&database.Task{Topic: "Understanding Rust ownership"}, candidates, "https://site.example", 2)
	if len(links) != 2 {
		t.Fatalf("Expected 2 links, got %d", len(links))
	}
	if links[0].URL != "https://site.example/rust-ownership/" {
		t.Errorf("Expected best match first, got %+v", links[0])
	}
	if links[1].URL != "https://site.example/gardening/" {
		t.Errorf("Expected newest candidate on a tie, got %+v", links[1])
	}

	if got := RankLinks(&database.Task{}, candidates, "", 0); got != nil {
		t.Errorf("Expected no links for max 0, got %v", got)
	}
}
