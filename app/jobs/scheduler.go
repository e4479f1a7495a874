package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/autopress/app/campaign"
	"github.com/lysyi3m/autopress/app/database"
)

const (
	DefaultQueueSize = 300
	jobTimeout       = 5 * time.Minute
	maxRetryDelay    = 30 * time.Second
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrJobInFlight = errors.New("job already queued")
)

var _ JobSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	configCache  *campaign.ConfigCache
	campaignRepo database.CampaignRepository
	engine       Orchestrator
	ingestor     FeedRunner
	interval     time.Duration
	workerCount  int
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	jobQueue     chan JobInterface

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewScheduler(configCache *campaign.ConfigCache, campaignRepo database.CampaignRepository,
	engine Orchestrator, ingestor FeedRunner, interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if workerCount <= 0 {
		workerCount = 1
	}

	return &Scheduler{
		configCache:  configCache,
		campaignRepo: campaignRepo,
		engine:       engine,
		ingestor:     ingestor,
		interval:     interval,
		workerCount:  workerCount,
		ctx:          ctx,
		cancel:       cancel,
		jobQueue:     make(chan JobInterface, DefaultQueueSize),
		inFlight:     make(map[string]bool),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupJobs()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueJobs()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// EnqueueJob never blocks. Jobs sharing a non-empty key are rejected while one
// of them is queued or running.
func (s *Scheduler) EnqueueJob(job JobInterface) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}

	key := job.GetKey()
	if key != "" {
		s.mu.Lock()
		if s.inFlight[key] {
			s.mu.Unlock()
			return ErrJobInFlight
		}
		s.inFlight[key] = true
		s.mu.Unlock()
	}

	select {
	case s.jobQueue <- job:
		return nil
	default:
		s.release(job)
		return ErrQueueFull
	}
}

func (s *Scheduler) release(job JobInterface) {
	if key := job.GetKey(); key != "" {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}
}

// Wake queues an advance of the campaign's task chain. A wake is dropped
// while another advance of the same campaign is queued or running.
func (s *Scheduler) Wake(ctx context.Context, campaignID string) {
	if err := s.EnqueueJob(NewAdvanceCampaignJob(campaignID, s.engine)); err != nil && !errors.Is(err, ErrJobInFlight) {
		slog.Warn("Failed to enqueue AdvanceCampaignJob", "campaign", campaignID, "error", err)
	}
}

// ReloadCampaigns re-reads the campaign directory and syncs every definition.
func (s *Scheduler) ReloadCampaigns() (int, error) {
	if err := s.configCache.Run(); err != nil {
		return 0, fmt.Errorf("failed to reload campaign configurations: %w", err)
	}

	configs := s.configCache.GetConfigs()
	for _, config := range configs {
		if err := s.EnqueueJob(NewSyncCampaignJob(config, s.campaignRepo, s.afterSync)); err != nil {
			return 0, fmt.Errorf("failed to enqueue sync of campaign %s: %w", config.ID, err)
		}
	}
	return len(configs), nil
}

func (s *Scheduler) afterSync(ctx context.Context, c database.Campaign) {
	if c.IsActive() {
		s.Wake(ctx, c.ID)
	}
}

func (s *Scheduler) enqueueStartupJobs() {
	configs := s.configCache.GetConfigs()
	slog.Debug("Processing campaign configurations", "count", len(configs))

	for _, config := range configs {
		syncJob := NewSyncCampaignJob(config, s.campaignRepo, s.afterSync)
		if err := s.EnqueueJob(syncJob); err != nil {
			slog.Warn("Failed to enqueue SyncCampaignJob", "campaign", config.ID, "error", err)
		}
	}

	// Campaigns stored earlier but no longer on disk still own tasks.
	campaigns, err := s.campaignRepo.ListCampaigns(s.ctx)
	if err != nil {
		slog.Error("Failed to list campaigns", "error", err)
		return
	}
	for _, c := range campaigns {
		if _, ok := configs[c.ID]; ok || !c.IsActive() {
			continue
		}
		s.Wake(s.ctx, c.ID)
	}
}

func (s *Scheduler) enqueueJobs() {
	campaigns, err := s.campaignRepo.ListCampaigns(s.ctx)
	if err != nil {
		slog.Error("Failed to list campaigns", "error", err)
		return
	}

	for i := range campaigns {
		c := &campaigns[i]

		if c.IsActive() {
			if err := s.engine.EnsureCheck(s.ctx, c); err != nil {
				slog.Warn("Failed to ensure status check", "campaign", c.ID, "error", err)
			}
			// Advance is a no-op while a task is processing.
			if c.EndpointID != "" {
				s.Wake(s.ctx, c.ID)
			}
		}

		if !c.Feed.Enabled {
			continue
		}
		if err := s.EnqueueJob(NewIngestFeedJob(c.ID, s.ingestor)); err != nil && !errors.Is(err, ErrJobInFlight) {
			slog.Warn("Failed to enqueue IngestFeedJob", "campaign", c.ID, "error", err)
		}
	}

	checks, err := s.engine.DueChecks(s.ctx)
	if err != nil {
		slog.Error("Failed to list due checks", "error", err)
		return
	}

	for _, check := range checks {
		if err := s.EnqueueJob(NewCheckStatusJob(check, s.engine)); err != nil && !errors.Is(err, ErrJobInFlight) {
			slog.Warn("Failed to enqueue CheckStatusJob", "campaign", check.CampaignID, "task", check.TaskID, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			s.executeJob(id, job)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeJob(workerID int, job JobInterface) {
	job.Start()

	jobCtx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	err := job.Execute(jobCtx)
	s.release(job)

	if err == nil {
		return
	}

	slog.Error("Worker job execution failed", "worker_id", workerID, "type", string(job.GetType()), "id", job.GetID(), "campaign", job.GetCampaignID(), "retry_count", job.GetRetryCount(), "error", err)

	if !job.CanRetry() {
		if job.GetMaxRetries() > 0 {
			slog.Error("Job failed after maximum retries", "type", string(job.GetType()), "id", job.GetID(), "retry_count", job.GetRetryCount(), "max_retries", job.GetMaxRetries(), "last_error", err)
		}
		return
	}

	job.IncrementRetryCount()
	retryDelay := time.Duration(1<<uint(job.GetRetryCount()-1)) * time.Second
	if retryDelay > maxRetryDelay {
		retryDelay = maxRetryDelay
	}

	slog.Warn("Job retry scheduled", "type", string(job.GetType()), "campaign", job.GetCampaignID(), "retry_count", job.GetRetryCount(), "max_retries", job.GetMaxRetries(), "delay", retryDelay.String())

	go func() {
		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping job retry", "type", string(job.GetType()), "id", job.GetID())
			return
		}
		if retryErr := s.EnqueueJob(job); retryErr != nil {
			slog.Error("Failed to re-enqueue job for retry", "type", string(job.GetType()), "id", job.GetID(), "retry_count", job.GetRetryCount(), "error", retryErr)
		}
	}()
}
