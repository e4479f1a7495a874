package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/autopress/app/campaign"
	"github.com/lysyi3m/autopress/app/database"
)

// SyncCampaignJob stores a campaign definition and its endpoint.
type SyncCampaignJob struct {
	Job
	Config       *campaign.Config
	campaignRepo database.CampaignRepository
	onSynced     func(ctx context.Context, c database.Campaign)
}

func NewSyncCampaignJob(config *campaign.Config, campaignRepo database.CampaignRepository, onSynced func(ctx context.Context, c database.Campaign)) *SyncCampaignJob {
	job := NewJob(JobTypeSyncCampaign, config.ID)
	job.MaxRetries = DefaultMaxRetries
	return &SyncCampaignJob{
		Job:          job,
		Config:       config,
		campaignRepo: campaignRepo,
		onSynced:     onSynced,
	}
}

func (j *SyncCampaignJob) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := j.campaignRepo.UpsertEndpoint(ctx, j.Config.EndpointRecord()); err != nil {
		return fmt.Errorf("failed to sync endpoint: %w", err)
	}

	created, err := j.campaignRepo.UpsertCampaign(ctx, j.Config.Campaign())
	if err != nil {
		return fmt.Errorf("failed to sync campaign config to database: %w", err)
	}

	stored, err := j.campaignRepo.GetCampaign(ctx, j.Config.ID)
	if err != nil {
		return fmt.Errorf("failed to read synced campaign: %w", err)
	}

	slog.Info("Job completed",
		"type", string(j.Type),
		"campaign", j.CampaignID,
		"created", created,
		"duration", j.GetDuration())

	if stored != nil && j.onSynced != nil {
		j.onSynced(ctx, *stored)
	}
	return nil
}
