package jobs

import (
	"context"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/ingest"
)

// JobSchedulerInterface is used by the main application and the API to drive
// background work.
type JobSchedulerInterface interface {
	Start()
	Stop()
	EnqueueJob(job JobInterface) error
	Wake(ctx context.Context, campaignID string)
	ReloadCampaigns() (int, error)
}

// Orchestrator is the part of the engine the scheduler drives.
type Orchestrator interface {
	Advance(ctx context.Context, campaignID string) error
	CheckStatus(ctx context.Context, campaignID string, taskID int64, endpointID string) error
	EnsureCheck(ctx context.Context, campaign *database.Campaign) error
	DueChecks(ctx context.Context) ([]database.ScheduledCheck, error)
}

type FeedRunner interface {
	RunForCampaign(ctx context.Context, campaignID string) (ingest.Result, error)
}
