package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lysyi3m/autopress/app/campaign"
	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/dispatch"
	"github.com/lysyi3m/autopress/app/engine"
	"github.com/lysyi3m/autopress/app/publication"
)

// stubWorker accepts every dispatch and records the task ids in order
type stubWorker struct {
	mu         sync.Mutex
	dispatched []int64
}

func (w *stubWorker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var payload dispatch.Payload
	json.NewDecoder(r.Body).Decode(&payload)

	w.mu.Lock()
	w.dispatched = append(w.dispatched, payload.TaskID)
	w.mu.Unlock()
	rw.WriteHeader(http.StatusAccepted)
}

func (w *stubWorker) hits() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int64(nil), w.dispatched...)
}

type tickFixture struct {
	scheduler *Scheduler
	engine    *engine.Engine
	tasks     *database.TaskRepo
	worker    *stubWorker
}

func newTickFixture(t *testing.T) *tickFixture {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "tick.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	worker := &stubWorker{}
	server := httptest.NewServer(worker)
	t.Cleanup(server.Close)

	campaigns := database.NewCampaignRepository(db)
	tasks := database.NewTaskRepository(db)
	checks := database.NewCheckRepository(db)

	ctx := context.Background()
	if err := campaigns.UpsertEndpoint(ctx, database.Endpoint{ID: "writer", URL: server.URL, Secret: "s3cret"}); err != nil {
		t.Fatal(err)
	}
	if _, err := campaigns.UpsertCampaign(ctx, database.Campaign{
		ID:          "news",
		Status:      database.CampaignActive,
		EndpointID:  "writer",
		Publication: database.PublicationPolicy{Mode: database.PublishInstantly},
	}); err != nil {
		t.Fatal(err)
	}

	dispatcher := dispatch.NewDispatcher(campaigns, tasks, server.Client(), "http://localhost/api/callback", "autopress-test", time.Second)
	eng := engine.New(campaigns, tasks, checks, dispatcher, publication.LogHandler{}, engine.Options{})

	configCache := campaign.NewConfigCache(t.TempDir())
	if err := configCache.Run(); err != nil {
		t.Fatalf("Failed to load campaigns: %v", err)
	}

	return &tickFixture{
		scheduler: NewScheduler(configCache, campaigns, eng, &MockFeedRunner{}, time.Hour, 1),
		engine:    eng,
		tasks:     tasks,
		worker:    worker,
	}
}

// addTask stores a task without waking the campaign.
func (f *tickFixture) addTask(t *testing.T, topic string) int64 {
	t.Helper()
	task := &database.Task{CampaignID: "news", Topic: topic}
	if err := f.tasks.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	return task.ID
}

func (f *tickFixture) tick() {
	f.scheduler.enqueueJobs()
	for _, job := range drain(f.scheduler) {
		f.scheduler.executeJob(0, job)
	}
}

func (f *tickFixture) status(t *testing.T, id int64) database.TaskStatus {
	t.Helper()
	task, err := f.tasks.GetTask(context.Background(), id)
	if err != nil || task == nil {
		t.Fatalf("Failed to get task %d: %v", id, err)
	}
	return task.Status
}

func TestTickDispatchesPendingTaskWithoutWake(t *testing.T) {
	f := newTickFixture(t)
	id := f.addTask(t, "orphaned")

	for i := 0; i < 3; i++ {
		f.tick()
	}

	if status := f.status(t, id); status != database.TaskProcessing {
		t.Errorf("Expected status processing, got %s", status)
	}
	if hits := f.worker.hits(); len(hits) != 1 || hits[0] != id {
		t.Errorf("Expected a single dispatch of task %d, got %v", id, hits)
	}
}

func TestTickRedispatchesCancelledRun(t *testing.T) {
	f := newTickFixture(t)
	ctx := context.Background()
	id := f.addTask(t, "restart me")

	f.tick()
	if status := f.status(t, id); status != database.TaskProcessing {
		t.Fatalf("Expected status processing, got %s", status)
	}

	if err := f.engine.CancelRun(ctx, id); err != nil {
		t.Fatalf("Failed to cancel run: %v", err)
	}
	if status := f.status(t, id); status != database.TaskPending {
		t.Fatalf("Expected status pending after cancel, got %s", status)
	}

	f.tick()
	if status := f.status(t, id); status != database.TaskProcessing {
		t.Errorf("Expected status processing after tick, got %s", status)
	}
	if hits := f.worker.hits(); len(hits) != 2 {
		t.Errorf("Expected 2 dispatches, got %v", hits)
	}
}

func TestTicksDriveTasksInCreationOrder(t *testing.T) {
	f := newTickFixture(t)
	ctx := context.Background()
	ids := []int64{f.addTask(t, "one"), f.addTask(t, "two"), f.addTask(t, "three")}

	for i, id := range ids {
		f.tick()

		hits := f.worker.hits()
		if len(hits) != i+1 || hits[i] != id {
			t.Fatalf("Tick %d: expected task %d to be dispatched, got %v", i, id, hits)
		}
		for _, later := range ids[i+1:] {
			if status := f.status(t, later); status != database.TaskPending {
				t.Errorf("Tick %d: expected task %d pending, got %s", i, later, status)
			}
		}

		// completion recorded without a follow-up advance
		if ok, err := f.tasks.MarkCompleted(ctx, id, time.Now()); err != nil || !ok {
			t.Fatalf("Tick %d: failed to complete task %d: %v", i, id, err)
		}
	}

	f.tick()
	f.tick()

	for _, id := range ids {
		if status := f.status(t, id); status != database.TaskCompleted {
			t.Errorf("Expected task %d completed, got %s", id, status)
		}
	}
	if hits := f.worker.hits(); len(hits) != 3 {
		t.Errorf("Expected no further dispatch, got %v", hits)
	}
}

func TestTicksWithCallbacksCompleteThreeTasks(t *testing.T) {
	f := newTickFixture(t)
	ctx := context.Background()
	ids := []int64{f.addTask(t, "one"), f.addTask(t, "two"), f.addTask(t, "three")}

	for i, id := range ids {
		f.tick()

		if status := f.status(t, id); status != database.TaskProcessing {
			t.Fatalf("Tick %d: expected task %d processing, got %s", i, id, status)
		}
		err := f.engine.HandleCallback(ctx, "s3cret", engine.Callback{
			TaskID:  id,
			Status:  engine.CallbackCompleted,
			Content: &publication.Content{Title: "Post", Body: "body"},
		})
		if err != nil {
			t.Fatalf("Tick %d: unexpected callback error: %v", i, err)
		}
	}

	f.tick()

	for _, id := range ids {
		if status := f.status(t, id); status != database.TaskCompleted {
			t.Errorf("Expected task %d completed, got %s", id, status)
		}
	}

	hits := f.worker.hits()
	if len(hits) != 3 {
		t.Fatalf("Expected 3 dispatches, got %v", hits)
	}
	for i, id := range ids {
		if hits[i] != id {
			t.Errorf("Expected dispatch %d to be task %d, got %d", i, id, hits[i])
		}
	}
}
