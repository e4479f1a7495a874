package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func seedCampaign(t *testing.T, db *DB, id string) {
	t.Helper()

	repo := NewCampaignRepository(db)
	ctx := context.Background()
	if err := repo.UpsertEndpoint(ctx, Endpoint{ID: "worker", URL: "http://worker.local"}); err != nil {
		t.Fatalf("Failed to upsert endpoint: %v", err)
	}
	if _, err := repo.UpsertCampaign(ctx, Campaign{
		ID:          id,
		Name:        "Campaign " + id,
		Status:      CampaignActive,
		EndpointID:  "worker",
		Publication: PublicationPolicy{Mode: PublishInstantly, PublishHour: 9},
	}); err != nil {
		t.Fatalf("Failed to upsert campaign: %v", err)
	}
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := RunMigrations(db)
	if err != nil {
		t.Fatalf("Expected no error on second run, got: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Expected clean version 1, got %d (dirty=%v)", version, dirty)
	}
}

func TestCampaignUpsertKeepsStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewCampaignRepository(db)
	ctx := context.Background()
	seedCampaign(t, db, "news")

	if err := repo.SetCampaignStatus(ctx, "news", CampaignPaused); err != nil {
		t.Fatalf("Failed to pause campaign: %v", err)
	}

	created, err := repo.UpsertCampaign(ctx, Campaign{
		ID:         "news",
		Name:       "Renamed",
		Status:     CampaignActive,
		EndpointID: "worker",
		Generation: GenerationPolicy{Tone: "casual", Fields: map[string]ContentField{"excerpt": {Generate: true}}},
		Feed:       FeedPolicy{Enabled: true, Interval: 15, Sources: []FeedSource{{ID: "hn", URL: "https://hn.example/rss"}}},
	})
	if err != nil {
		t.Fatalf("Failed to update campaign: %v", err)
	}
	if created {
		t.Error("Expected update of an existing campaign")
	}

	c, err := repo.GetCampaign(ctx, "news")
	if err != nil || c == nil {
		t.Fatalf("Expected campaign, got %v (err=%v)", c, err)
	}
	if c.Status != CampaignPaused {
		t.Errorf("Expected status to stay paused, got %s", c.Status)
	}
	if c.Name != "Renamed" || c.Generation.Tone != "casual" {
		t.Errorf("Expected updated definition, got name=%q tone=%q", c.Name, c.Generation.Tone)
	}
	if !c.Feed.Enabled || len(c.Feed.Sources) != 1 || c.Feed.Sources[0].ID != "hn" {
		t.Errorf("Expected feed policy to round-trip, got %+v", c.Feed)
	}
	if !c.Generation.Fields["excerpt"].Generate {
		t.Error("Expected excerpt field configuration to round-trip")
	}

	if err := repo.SetCampaignStatus(ctx, "missing", CampaignActive); err == nil {
		t.Error("Expected error for unknown campaign")
	}
}

func TestCreateTaskWithClientID(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	seedCampaign(t, db, "news")

	first := &Task{ID: 4242, CampaignID: "news", Type: TaskTypeRewrite, ResearchURL: "https://a.example"}
	if err := repo.CreateTask(ctx, first); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	dup := &Task{ID: 4242, CampaignID: "news", Topic: "dup"}
	if err := repo.CreateTask(ctx, dup); !errors.Is(err, ErrTaskIDTaken) {
		t.Errorf("Expected ErrTaskIDTaken, got %v", err)
	}

	auto := &Task{CampaignID: "news", Topic: "auto"}
	if err := repo.CreateTask(ctx, auto); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if auto.ID <= 4242 {
		t.Errorf("Expected store-assigned id above 4242, got %d", auto.ID)
	}

	got, err := repo.GetTask(ctx, 4242)
	if err != nil || got == nil {
		t.Fatalf("Expected task, got %v (err=%v)", got, err)
	}
	if got.Status != TaskPending || got.Type != TaskTypeRewrite {
		t.Errorf("Expected pending rewrite task, got %s %s", got.Status, got.Type)
	}
}

func TestMarkProcessingIsSingleFlight(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	seedCampaign(t, db, "news")

	a := &Task{CampaignID: "news", Topic: "a"}
	b := &Task{CampaignID: "news", Topic: "b"}
	for _, task := range []*Task{a, b} {
		if err := repo.CreateTask(ctx, task); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
	}

	now := time.Now()
	ok, err := repo.MarkProcessing(ctx, a.ID, now)
	if err != nil || !ok {
		t.Fatalf("Expected first task to start, got ok=%v err=%v", ok, err)
	}

	ok, err = repo.MarkProcessing(ctx, b.ID, now)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected second task to stay pending while another is processing")
	}

	processing, err := repo.GetProcessingTask(ctx, "news")
	if err != nil || processing == nil || processing.ID != a.ID {
		t.Fatalf("Expected task %d processing, got %v (err=%v)", a.ID, processing, err)
	}
	if processing.RunStartedAt == nil {
		t.Error("Expected run_started_at to be set")
	}
}

func TestFailedTaskRetry(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	seedCampaign(t, db, "news")

	var ids []int64
	for _, topic := range []string{"a", "b", "c"} {
		task := &Task{CampaignID: "news", Topic: topic}
		if err := repo.CreateTask(ctx, task); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
		ids = append(ids, task.ID)
	}

	for _, id := range ids[:2] {
		if ok, _ := repo.MarkProcessing(ctx, id, time.Now()); !ok {
			t.Fatalf("Expected task %d to start", id)
		}
		if ok, _ := repo.MarkFailed(ctx, id, "boom", time.Now()); !ok {
			t.Fatalf("Expected task %d to fail", id)
		}
	}

	if ok, _ := repo.MarkFailed(ctx, ids[0], "again", time.Now()); ok {
		t.Error("Expected a second terminal transition to be ignored")
	}

	n, err := repo.RetryAllFailed(ctx, "news")
	if err != nil {
		t.Fatalf("Failed to retry: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 retried tasks, got %d", n)
	}

	task, _ := repo.GetTask(ctx, ids[0])
	if task.Status != TaskPending || task.ErrorMessage != "" {
		t.Errorf("Expected pending task with cleared error, got %s %q", task.Status, task.ErrorMessage)
	}

	stats, err := repo.GetTaskStats(ctx, "news")
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Pending != 3 || stats.Failed != 0 {
		t.Errorf("Expected 3 pending and 0 failed, got %+v", stats)
	}
}

func TestCountCompletedInMode(t *testing.T) {
	db := newTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	seedCampaign(t, db, "news")

	var last int64
	for i := 0; i < 4; i++ {
		task := &Task{CampaignID: "news", Topic: "t"}
		if err := repo.CreateTask(ctx, task); err != nil {
			t.Fatalf("Failed to create task: %v", err)
		}
		repo.MarkProcessing(ctx, task.ID, time.Now())
		repo.MarkCompleted(ctx, task.ID, time.Now())
		mode := PublishRolling
		if i == 0 {
			mode = PublishInstantly
		}
		if err := repo.SaveResult(ctx, task.ID, TaskResult{PublicationMode: mode, Slug: "post"}); err != nil {
			t.Fatalf("Failed to save result: %v", err)
		}
		last = task.ID
	}

	count, err := repo.CountCompletedInMode(ctx, "news", PublishRolling, last)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 completed rolling tasks besides the current one, got %d", count)
	}

	candidates, err := repo.ListLinkCandidates(ctx, "news", last, 10)
	if err != nil {
		t.Fatalf("Failed to list candidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("Expected 3 link candidates, got %d", len(candidates))
	}
}

func TestHistoryBatchesArePruned(t *testing.T) {
	db := newTestDB(t)
	repo := NewHistoryRepository(db)
	ctx := context.Background()
	seedCampaign(t, db, "news")

	if _, ok, _ := repo.LastRunID(ctx, "news"); ok {
		t.Error("Expected no runs for a fresh campaign")
	}

	runs := [][]HistoryEntry{
		{{ArticleURL: "https://a.example", SourceID: "s"}},
		nil,
		{{ArticleURL: "https://b.example"}, {ArticleURL: "https://a.example"}},
		{{ArticleURL: "https://c.example"}},
	}
	for i, entries := range runs {
		if err := repo.RecordBatch(ctx, "news", int64(1000+i), entries, 3); err != nil {
			t.Fatalf("Failed to record batch %d: %v", i, err)
		}
	}

	last, ok, err := repo.LastRunID(ctx, "news")
	if err != nil || !ok || last != 1003 {
		t.Errorf("Expected last run 1003, got %d (ok=%v err=%v)", last, ok, err)
	}

	urls, err := repo.ListURLs(ctx, "news")
	if err != nil {
		t.Fatalf("Failed to list urls: %v", err)
	}
	got := map[string]bool{}
	for _, u := range urls {
		got[u] = true
	}
	if got["https://a.example"] {
		t.Error("Expected the oldest run to be pruned")
	}
	if !got["https://b.example"] || !got["https://c.example"] || len(urls) != 2 {
		t.Errorf("Expected b and c to remain, got %v", urls)
	}

	entries, err := repo.ListEntries(ctx, "news", 0)
	if err != nil {
		t.Fatalf("Failed to list entries: %v", err)
	}
	sentinels := 0
	for _, e := range entries {
		if e.ArticleURL == HistoryRunMarker {
			sentinels++
		}
	}
	if sentinels != 1 {
		t.Errorf("Expected one sentinel row for the empty run, got %d", sentinels)
	}
}

func TestScheduleCheckIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewCheckRepository(db)
	ctx := context.Background()

	now := time.Now()
	check := ScheduledCheck{CampaignID: "news", TaskID: 7, EndpointID: "worker", NextCheckAt: now.Add(-time.Second)}

	created, err := repo.ScheduleCheck(ctx, check)
	if err != nil || !created {
		t.Fatalf("Expected check to be created, got %v (err=%v)", created, err)
	}
	created, err = repo.ScheduleCheck(ctx, check)
	if err != nil || created {
		t.Errorf("Expected duplicate schedule to be a no-op, got %v (err=%v)", created, err)
	}

	other := check
	other.TaskID = 8
	other.NextCheckAt = now.Add(time.Hour)
	if created, _ := repo.ScheduleCheck(ctx, other); !created {
		t.Error("Expected a different task to get its own check")
	}

	due, err := repo.ListDueChecks(ctx, now)
	if err != nil {
		t.Fatalf("Failed to list due checks: %v", err)
	}
	if len(due) != 1 || due[0].TaskID != 7 {
		t.Errorf("Expected only task 7 to be due, got %+v", due)
	}

	claimed, _ := repo.ClaimCheck(ctx, "news", 7, "worker")
	again, _ := repo.ClaimCheck(ctx, "news", 7, "worker")
	if !claimed || again {
		t.Errorf("Expected exactly one claim to win, got %v then %v", claimed, again)
	}

	n, err := repo.DeleteCampaignChecks(ctx, "news")
	if err != nil || n != 1 {
		t.Errorf("Expected 1 remaining check removed, got %d (err=%v)", n, err)
	}
}
