package publication

import (
	"testing"
	"time"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/errs"
)

func campaignWith(policy database.PublicationPolicy) *database.Campaign {
	return &database.Campaign{ID: "news", Publication: policy}
}

func TestResolveCampaignModes(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	task := &database.Task{ID: 1}

	res, err := Resolve(task, campaignWith(database.PublicationPolicy{Mode: database.PublishPendingReview}), Input{Now: now})
	if err != nil || res.Status != StatusPending || res.Date != nil {
		t.Errorf("Expected pending without date, got %+v (err=%v)", res, err)
	}

	res, err = Resolve(task, campaignWith(database.PublicationPolicy{Mode: database.PublishInstantly}), Input{Now: now})
	if err != nil || res.Status != StatusPublish || res.Date != nil {
		t.Errorf("Expected publish without date, got %+v (err=%v)", res, err)
	}
}

func TestResolveIntervals(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	res, err := Resolve(&database.Task{ID: 1}, campaignWith(database.PublicationPolicy{
		Mode: database.PublishIntervals, IntervalValue: 2, IntervalUnit: "hour",
	}), Input{Now: now})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Status != StatusFuture {
		t.Errorf("Expected future status, got %s", res.Status)
	}
	if res.Date == nil || !res.Date.Equal(now.Add(2*time.Hour)) {
		t.Errorf("Expected %v, got %v", now.Add(2*time.Hour), res.Date)
	}

	res, _ = Resolve(&database.Task{ID: 1}, campaignWith(database.PublicationPolicy{
		Mode: database.PublishIntervals, IntervalValue: 45, IntervalUnit: "minute",
	}), Input{Now: now})
	if res.Date == nil || !res.Date.Equal(now.Add(45*time.Minute)) {
		t.Errorf("Expected %v, got %v", now.Add(45*time.Minute), res.Date)
	}
}

func TestResolveRollingSchedule(t *testing.T) {
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	policy := database.PublicationPolicy{Mode: database.PublishRolling, RollingDays: 7, PublishHour: 9}

	res, err := Resolve(&database.Task{ID: 11}, campaignWith(policy), Input{Now: now, RollingCompleted: 10})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC)
	if res.Date == nil || !res.Date.Equal(expected) {
		t.Errorf("Expected day offset 3 (%v), got %v", expected, res.Date)
	}
	if res.Mode != database.PublishRolling {
		t.Errorf("Expected mode %s, got %s", database.PublishRolling, res.Mode)
	}

	if got := RollingOffset(10, 7); got != 3 {
		t.Errorf("Expected offset 3, got %d", got)
	}
}

func TestResolveRollingPastSlotIsClamped(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	policy := database.PublicationPolicy{Mode: database.PublishRolling, RollingDays: 14, PublishHour: 9}

	res, err := Resolve(&database.Task{ID: 1}, campaignWith(policy), Input{Now: now, RollingCompleted: 14})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Date == nil || !res.Date.Equal(now.Add(PastSlotBuffer)) {
		t.Errorf("Expected clamp to %v, got %v", now.Add(PastSlotBuffer), res.Date)
	}
}

func TestResolveOverrides(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	campaign := campaignWith(database.PublicationPolicy{Mode: database.PublishIntervals, IntervalValue: 1, IntervalUnit: "hour"})

	res, err := Resolve(&database.Task{ID: 1, PubOverride: true, PubMode: database.PublishPendingReview}, campaign, Input{Now: now})
	if err != nil || res.Status != StatusPending {
		t.Errorf("Expected override pending, got %+v (err=%v)", res, err)
	}

	future := now.Add(48 * time.Hour)
	res, err = Resolve(&database.Task{ID: 1, PubOverride: true, PubMode: database.PublishSetDate, PubDate: &future}, campaign, Input{Now: now})
	if err != nil || res.Status != StatusFuture || !res.Date.Equal(future) {
		t.Errorf("Expected future at %v, got %+v (err=%v)", future, res, err)
	}

	past := now.Add(-time.Hour)
	res, err = Resolve(&database.Task{ID: 1, PubOverride: true, PubMode: database.PublishSetDate, PubDate: &past}, campaign, Input{Now: now})
	if err != nil {
		t.Fatalf("Expected past date to degrade, got error: %v", err)
	}
	if res.Status != StatusPublish || res.Date != nil || res.Mode != database.PublishInstantly {
		t.Errorf("Expected immediate publish, got %+v", res)
	}

	_, err = Resolve(&database.Task{ID: 1, PubOverride: true, PubMode: database.PublishSetDate}, campaign, Input{Now: now})
	if !errs.IsPublication(err) {
		t.Errorf("Expected PublicationError for missing date, got %v", err)
	}
}

func TestResolveRandomRangeIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	date := now.Add(24 * time.Hour)
	task := &database.Task{ID: 987654, PubOverride: true, PubMode: database.PublishSetDate, PubDate: &date, PubRandomRange: 30}

	first, err := Resolve(task, campaignWith(database.PublicationPolicy{Mode: database.PublishInstantly}), Input{Now: now})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, _ := Resolve(task, campaignWith(database.PublicationPolicy{Mode: database.PublishInstantly}), Input{Now: now})

	if !first.Date.Equal(*second.Date) {
		t.Errorf("Expected identical dates, got %v and %v", first.Date, second.Date)
	}
	if first.Date.Before(date) || first.Date.After(date.Add(30*time.Minute)) {
		t.Errorf("Expected date within 30 minutes of %v, got %v", date, first.Date)
	}
}

func TestResolveInvalidPolicies(t *testing.T) {
	now := time.Now()
	policies := []database.PublicationPolicy{
		{Mode: database.PublishIntervals, IntervalValue: 0, IntervalUnit: "hour"},
		{Mode: database.PublishIntervals, IntervalValue: 3, IntervalUnit: "week"},
		{Mode: database.PublishRolling, RollingDays: 0},
		{Mode: database.PublishRolling, RollingDays: 7, PublishHour: 25},
		{Mode: "whenever"},
	}

	for _, policy := range policies {
		if _, err := Resolve(&database.Task{ID: 1}, campaignWith(policy), Input{Now: now}); !errs.IsPublication(err) {
			t.Errorf("Expected PublicationError for %+v, got %v", policy, err)
		}
	}
}
