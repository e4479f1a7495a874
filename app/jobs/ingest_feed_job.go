package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

type IngestFeedJob struct {
	Job
	ingestor FeedRunner
}

func NewIngestFeedJob(campaignID string, ingestor FeedRunner) *IngestFeedJob {
	return &IngestFeedJob{
		Job:      NewJob(JobTypeIngestFeed, campaignID),
		ingestor: ingestor,
	}
}

// GetKey keeps two runs of the same campaign from overlapping.
func (j *IngestFeedJob) GetKey() string {
	return string(j.Type) + ":" + j.CampaignID
}

func (j *IngestFeedJob) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := j.ingestor.RunForCampaign(ctx, j.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to ingest feeds: %w", err)
	}

	if result.RunID != 0 {
		slog.Info("Job completed",
			"type", string(j.Type),
			"campaign", j.CampaignID,
			"duration", j.GetDuration(),
			"created", len(result.CreatedTaskIDs),
			"skipped", result.Skipped)
	}
	return nil
}
