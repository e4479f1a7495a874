package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/autopress/app/database"
)

type CheckStatusJob struct {
	Job
	Check  database.ScheduledCheck
	engine Orchestrator
}

func NewCheckStatusJob(check database.ScheduledCheck, engine Orchestrator) *CheckStatusJob {
	return &CheckStatusJob{
		Job:    NewJob(JobTypeCheckStatus, check.CampaignID),
		Check:  check,
		engine: engine,
	}
}

func (j *CheckStatusJob) GetKey() string {
	return fmt.Sprintf("%s:%s:%d:%s", j.Type, j.Check.CampaignID, j.Check.TaskID, j.Check.EndpointID)
}

func (j *CheckStatusJob) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := j.engine.CheckStatus(ctx, j.Check.CampaignID, j.Check.TaskID, j.Check.EndpointID); err != nil {
		return fmt.Errorf("failed to check task status: %w", err)
	}

	slog.Debug("Job completed",
		"type", string(j.Type),
		"campaign", j.CampaignID,
		"task", j.Check.TaskID,
		"duration", j.GetDuration())
	return nil
}
