// Package ingest turns new feed items into rewrite tasks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/errs"
)

const (
	KeepRuns         = 3
	MaxIDCollisions  = 3
	FetchModeWorker  = "worker"
	FetchModeDirect  = "direct"
	idEpochMillis    = 1735689600000 // 2025-01-01T00:00:00Z
	idSequenceFactor = 100
)

// Waker is told when a campaign received new tasks.
type Waker interface {
	Wake(ctx context.Context, campaignID string)
}

type Result struct {
	CreatedTaskIDs []int64 `json:"created_task_ids"`
	Processed      int     `json:"processed"`
	Skipped        int     `json:"skipped"`
	Filtered       int     `json:"filtered"`
	RunID          int64   `json:"run_id,omitempty"`
}

type Ingestor struct {
	campaignRepo database.CampaignRepository
	taskRepo     database.TaskRepository
	historyRepo  database.HistoryRepository
	fetchers     map[string]Fetcher
	filterer     *Filterer
	waker        Waker
	now          func() time.Time
}

func NewIngestor(campaignRepo database.CampaignRepository, taskRepo database.TaskRepository,
	historyRepo database.HistoryRepository, workerFetcher, directFetcher Fetcher, waker Waker) *Ingestor {
	return &Ingestor{
		campaignRepo: campaignRepo,
		taskRepo:     taskRepo,
		historyRepo:  historyRepo,
		fetchers: map[string]Fetcher{
			FetchModeWorker: workerFetcher,
			FetchModeDirect: directFetcher,
		},
		filterer: NewFilterer(),
		waker:    waker,
		now:      time.Now,
	}
}

// RunForCampaign ingests the campaign's feeds once its interval has elapsed.
// Campaigns without feeds, endpoint or sources are skipped silently.
func (i *Ingestor) RunForCampaign(ctx context.Context, campaignID string) (Result, error) {
	return i.run(ctx, campaignID, false)
}

// ForceRun ignores the feed interval.
func (i *Ingestor) ForceRun(ctx context.Context, campaignID string) (Result, error) {
	return i.run(ctx, campaignID, true)
}

func (i *Ingestor) run(ctx context.Context, campaignID string, force bool) (Result, error) {
	var result Result

	campaign, err := i.campaignRepo.GetCampaign(ctx, campaignID)
	if err != nil {
		return result, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return result, fmt.Errorf("campaign %s: %w", campaignID, errs.ErrNotFound)
	}
	if !campaign.Feed.Enabled || campaign.EndpointID == "" || len(campaign.Feed.Sources) == 0 {
		return result, nil
	}

	endpoint, err := i.campaignRepo.GetEndpoint(ctx, campaign.EndpointID)
	if err != nil {
		return result, fmt.Errorf("failed to get endpoint: %w", err)
	}
	if endpoint == nil {
		return result, nil
	}

	now := i.now()
	if !force {
		due, err := i.isDue(ctx, campaign, now)
		if err != nil || !due {
			return result, err
		}
	}

	fetcher := i.fetchers[campaign.Feed.FetchMode]
	if fetcher == nil {
		fetcher = i.fetchers[FetchModeWorker]
	}

	items, err := fetcher.Fetch(ctx, campaign, endpoint)
	if err != nil {
		return result, &errs.IngestError{CampaignID: campaign.ID, Err: err}
	}

	seen, err := i.knownURLs(ctx, campaign.ID)
	if err != nil {
		return result, err
	}

	result.RunID = now.UnixMilli()
	ids := newIDGenerator(now)
	var entries []database.HistoryEntry

	for _, item := range items {
		if item.URL == "" || seen[item.URL] {
			result.Skipped++
			continue
		}
		seen[item.URL] = true
		result.Processed++

		// Filtered items still go to history so they are not reconsidered.
		if filtered, reason := i.filterer.Run(item, campaign.Feed.Filters); filtered {
			result.Filtered++
			slog.Debug("Feed item filtered", "campaign", campaign.ID, "url", item.URL, "reason", reason)
		} else if taskID, err := i.createTask(ctx, campaign.ID, item, ids); err != nil {
			slog.Warn("Failed to create task from feed item", "campaign", campaign.ID, "url", item.URL, "error", err)
		} else {
			result.CreatedTaskIDs = append(result.CreatedTaskIDs, taskID)
		}

		entries = append(entries, database.HistoryEntry{
			SourceID:        item.SourceID,
			ArticleURL:      item.URL,
			Title:           item.Title,
			PublicationDate: item.Date,
		})
	}

	if err := i.historyRepo.RecordBatch(ctx, campaign.ID, result.RunID, entries, KeepRuns); err != nil {
		return result, fmt.Errorf("failed to record history: %w", err)
	}

	slog.Info("Feed ingested",
		"campaign", campaign.ID,
		"mode", campaign.Feed.FetchMode,
		"items", len(items),
		"created", len(result.CreatedTaskIDs),
		"skipped", result.Skipped,
		"filtered", result.Filtered)

	if len(result.CreatedTaskIDs) > 0 && campaign.IsActive() && i.waker != nil {
		i.waker.Wake(ctx, campaign.ID)
	}

	return result, nil
}

func (i *Ingestor) isDue(ctx context.Context, campaign *database.Campaign, now time.Time) (bool, error) {
	lastRun, ok, err := i.historyRepo.LastRunID(ctx, campaign.ID)
	if err != nil {
		return false, fmt.Errorf("failed to get last run: %w", err)
	}
	if !ok {
		return true, nil
	}

	elapsed := now.Sub(time.UnixMilli(lastRun))
	if elapsed < campaign.Feed.GetInterval() {
		slog.Debug("Feed not due yet", "campaign", campaign.ID, "elapsed", elapsed.Round(time.Second).String())
		return false, nil
	}
	return true, nil
}

// knownURLs is built once per run from history and existing research URLs.
func (i *Ingestor) knownURLs(ctx context.Context, campaignID string) (map[string]bool, error) {
	historyURLs, err := i.historyRepo.ListURLs(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history urls: %w", err)
	}
	researchURLs, err := i.taskRepo.ListResearchURLs(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list research urls: %w", err)
	}

	seen := make(map[string]bool, len(historyURLs)+len(researchURLs))
	for _, u := range historyURLs {
		seen[u] = true
	}
	for _, u := range researchURLs {
		seen[u] = true
	}
	return seen, nil
}

func (i *Ingestor) createTask(ctx context.Context, campaignID string, item Item, ids *idGenerator) (int64, error) {
	for attempt := 0; ; attempt++ {
		task := &database.Task{
			CampaignID:  campaignID,
			Type:        database.TaskTypeRewrite,
			Topic:       item.Title,
			ResearchURL: item.URL,
		}
		if attempt < MaxIDCollisions {
			task.ID = ids.next()
		}

		err := i.taskRepo.CreateTask(ctx, task)
		if errors.Is(err, database.ErrTaskIDTaken) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return task.ID, nil
	}
}

// idGenerator derives compact ids from the run timestamp.
type idGenerator struct {
	base int64
	seq  int64
}

func newIDGenerator(now time.Time) *idGenerator {
	return &idGenerator{base: (now.UnixMilli() - idEpochMillis) * idSequenceFactor}
}

func (g *idGenerator) next() int64 {
	id := g.base + g.seq%idSequenceFactor
	g.seq++
	return id
}
