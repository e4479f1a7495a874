package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/errs"
	"github.com/lysyi3m/autopress/app/publication"
)

var overrideModes = map[string]bool{
	database.PublishPendingReview: true,
	database.PublishInstantly:     true,
	database.PublishSetDate:       true,
}

// ValidateTask checks a new task before it is stored.
func ValidateTask(task *database.Task) error {
	if task.CampaignID == "" {
		return errs.Validation("campaign_id", "is required")
	}
	if task.Type == "" {
		task.Type = database.TaskTypeTopic
	}
	if task.Type != database.TaskTypeTopic && task.Type != database.TaskTypeRewrite {
		return errs.Validation("type", "unknown task type %q", task.Type)
	}
	if field, value := task.RequiredInput(); value == "" {
		return errs.Validation(field, "required for %s tasks", task.Type)
	}
	if task.PubOverride {
		if !overrideModes[task.PubMode] {
			return errs.Validation("pub_mode", "unknown override mode %q", task.PubMode)
		}
		if task.PubMode == database.PublishSetDate && task.PubDate == nil {
			return errs.Validation("pub_date", "required for set_date")
		}
	}
	if task.PubRandomRange < 0 {
		return errs.Validation("pub_random_range", "must not be negative")
	}
	if task.ID < 0 {
		return errs.Validation("id", "must be positive")
	}
	return nil
}

// CreateTask stores a pending task and advances the campaign when it is active.
func (e *Engine) CreateTask(ctx context.Context, task *database.Task) error {
	if err := ValidateTask(task); err != nil {
		return err
	}

	campaign, err := e.campaignRepo.GetCampaign(ctx, task.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return errs.Validation("campaign_id", "campaign %s does not exist", task.CampaignID)
	}

	task.Status = database.TaskPending
	if err := e.taskRepo.CreateTask(ctx, task); err != nil {
		if errors.Is(err, database.ErrTaskIDTaken) {
			return errs.Validation("id", "task %d already exists", task.ID)
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	slog.Info("Task created", "campaign", campaign.ID, "task", task.ID, "type", string(task.Type))

	if campaign.IsActive() {
		e.Wake(ctx, campaign.ID)
	}
	return nil
}

// RetryTask resets a failed task to pending. Retrying a pending task is a no-op.
func (e *Engine) RetryTask(ctx context.Context, id int64) error {
	task, err := e.getTask(ctx, id)
	if err != nil {
		return err
	}

	switch task.Status {
	case database.TaskPending:
		return nil
	case database.TaskFailed:
	default:
		return fmt.Errorf("cannot retry %s task %d: %w", task.Status, id, errs.ErrInvalidTransition)
	}

	if _, err := e.taskRepo.ResetToPending(ctx, id, database.TaskFailed); err != nil {
		return fmt.Errorf("failed to retry task: %w", err)
	}

	slog.Info("Task retried", "campaign", task.CampaignID, "task", id)
	e.Wake(ctx, task.CampaignID)
	return nil
}

func (e *Engine) RetryAllFailed(ctx context.Context, campaignID string) (int, error) {
	if _, err := e.getCampaign(ctx, campaignID); err != nil {
		return 0, err
	}

	n, err := e.taskRepo.RetryAllFailed(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed tasks: %w", err)
	}

	slog.Info("Failed tasks retried", "campaign", campaignID, "count", n)
	if n > 0 {
		e.Wake(ctx, campaignID)
	}
	return n, nil
}

// CancelRun puts a single processing task back to pending and drops its checks.
func (e *Engine) CancelRun(ctx context.Context, id int64) error {
	task, err := e.getTask(ctx, id)
	if err != nil {
		return err
	}

	reset, err := e.taskRepo.ResetToPending(ctx, id, database.TaskProcessing)
	if err != nil {
		return fmt.Errorf("failed to cancel task run: %w", err)
	}
	if !reset {
		return fmt.Errorf("task %d is %s: %w", id, task.Status, errs.ErrInvalidTransition)
	}

	if err := e.checkRepo.DeleteTaskChecks(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task checks: %w", err)
	}

	slog.Info("Task run cancelled", "campaign", task.CampaignID, "task", id)
	return nil
}

// CancelTask marks a pending or failed task cancelled.
func (e *Engine) CancelTask(ctx context.Context, id int64) error {
	task, err := e.getTask(ctx, id)
	if err != nil {
		return err
	}

	cancelled, err := e.taskRepo.CancelTask(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	if !cancelled {
		return fmt.Errorf("task %d is %s: %w", id, task.Status, errs.ErrInvalidTransition)
	}

	slog.Info("Task cancelled", "campaign", task.CampaignID, "task", id)
	return nil
}

// DeleteTask refuses processing tasks; their run has to be cancelled first.
func (e *Engine) DeleteTask(ctx context.Context, id int64) error {
	task, err := e.getTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == database.TaskProcessing {
		return fmt.Errorf("task %d is processing: %w", id, errs.ErrInvalidTransition)
	}

	if err := e.checkRepo.DeleteTaskChecks(ctx, id); err != nil {
		return fmt.Errorf("failed to delete task checks: %w", err)
	}
	if err := e.taskRepo.DeleteTask(ctx, id); err != nil {
		return err
	}

	slog.Info("Task deleted", "campaign", task.CampaignID, "task", id)
	return nil
}

// SetCampaignStatus activates or pauses a campaign. Activation advances it.
func (e *Engine) SetCampaignStatus(ctx context.Context, campaignID string, status database.CampaignStatus) error {
	if status != database.CampaignActive && status != database.CampaignPaused {
		return errs.Validation("status", "unknown campaign status %q", status)
	}

	if err := e.campaignRepo.SetCampaignStatus(ctx, campaignID, status); err != nil {
		return err
	}

	slog.Info("Campaign status changed", "campaign", campaignID, "status", string(status))
	if status == database.CampaignActive {
		e.Wake(ctx, campaignID)
	}
	return nil
}

func (e *Engine) DeleteCampaign(ctx context.Context, campaignID string) error {
	if _, err := e.getCampaign(ctx, campaignID); err != nil {
		return err
	}
	if err := e.campaignRepo.DeleteCampaign(ctx, campaignID); err != nil {
		return err
	}

	slog.Info("Campaign deleted", "campaign", campaignID)
	return nil
}

// RunCampaign advances an active campaign on demand.
func (e *Engine) RunCampaign(ctx context.Context, campaignID string) error {
	campaign, err := e.getCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if !campaign.IsActive() {
		return fmt.Errorf("campaign %s is paused: %w", campaignID, errs.ErrInvalidTransition)
	}
	if campaign.EndpointID == "" {
		return errs.Validation("endpoint_id", "campaign %s has no endpoint", campaignID)
	}
	return e.Advance(ctx, campaignID)
}

// Republish retries publication of a completed task that has no content id yet.
func (e *Engine) Republish(ctx context.Context, id int64) (string, error) {
	task, err := e.getTask(ctx, id)
	if err != nil {
		return "", err
	}
	if task.Status != database.TaskCompleted || task.ContentID != "" {
		return "", fmt.Errorf("task %d is %s with content %q: %w", id, task.Status, task.ContentID, errs.ErrInvalidTransition)
	}

	campaign, err := e.getCampaign(ctx, task.CampaignID)
	if err != nil {
		return "", err
	}

	var content publication.Content
	if task.Content != "" {
		if err := json.Unmarshal([]byte(task.Content), &content); err != nil {
			return "", fmt.Errorf("failed to decode stored content: %w", err)
		}
	}

	return e.publish(ctx, task, campaign, content)
}
