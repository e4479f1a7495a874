package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

type AdvanceCampaignJob struct {
	Job
	engine Orchestrator
}

func NewAdvanceCampaignJob(campaignID string, engine Orchestrator) *AdvanceCampaignJob {
	return &AdvanceCampaignJob{
		Job:    NewJob(JobTypeAdvanceCampaign, campaignID),
		engine: engine,
	}
}

func (j *AdvanceCampaignJob) GetKey() string {
	return fmt.Sprintf("%s:%s", j.Type, j.CampaignID)
}

func (j *AdvanceCampaignJob) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := j.engine.Advance(ctx, j.CampaignID); err != nil {
		return fmt.Errorf("failed to advance campaign: %w", err)
	}

	slog.Debug("Job completed", "type", string(j.Type), "campaign", j.CampaignID, "duration", j.GetDuration())
	return nil
}
