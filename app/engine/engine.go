// Package engine holds the per-campaign task state machine. Every operation
// reads current state from the store right before acting, so running the same
// operation twice never stacks effects.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/errs"
	"github.com/lysyi3m/autopress/app/publication"
)

const (
	DefaultCheckInterval = 30 * time.Second
	DefaultTaskTimeout   = 65 * time.Second

	followUpTimeout = 2 * time.Minute
)

type Dispatcher interface {
	Dispatch(ctx context.Context, campaignID string, taskID int64, endpointID string) error
}

type Options struct {
	CheckInterval time.Duration
	TaskTimeout   time.Duration
}

type Engine struct {
	campaignRepo  database.CampaignRepository
	taskRepo      database.TaskRepository
	checkRepo     database.CheckRepository
	dispatcher    Dispatcher
	publisher     publication.Handler
	checkInterval time.Duration
	taskTimeout   time.Duration
	now           func() time.Time
}

func New(campaignRepo database.CampaignRepository, taskRepo database.TaskRepository, checkRepo database.CheckRepository,
	dispatcher Dispatcher, publisher publication.Handler, opts Options) *Engine {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}

	return &Engine{
		campaignRepo:  campaignRepo,
		taskRepo:      taskRepo,
		checkRepo:     checkRepo,
		dispatcher:    dispatcher,
		publisher:     publisher,
		checkInterval: opts.CheckInterval,
		taskTimeout:   opts.TaskTimeout,
		now:           time.Now,
	}
}

func (e *Engine) getCampaign(ctx context.Context, id string) (*database.Campaign, error) {
	campaign, err := e.campaignRepo.GetCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign %s: %w", id, errs.ErrNotFound)
	}
	return campaign, nil
}

func (e *Engine) getTask(ctx context.Context, id int64) (*database.Task, error) {
	task, err := e.taskRepo.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %d: %w", id, errs.ErrNotFound)
	}
	return task, nil
}

// Advance dispatches the oldest pending task unless one is already processing.
// Paused campaigns and campaigns without an endpoint are left alone.
func (e *Engine) Advance(ctx context.Context, campaignID string) error {
	campaign, err := e.getCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if !campaign.IsActive() || campaign.EndpointID == "" {
		slog.Debug("Campaign not runnable, skipping advance", "campaign", campaignID, "status", string(campaign.Status))
		return nil
	}

	processing, err := e.taskRepo.GetProcessingTask(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to get processing task: %w", err)
	}
	if processing != nil {
		_, err := e.ScheduleCheck(ctx, campaignID, processing.ID, campaign.EndpointID)
		return err
	}

	next, err := e.taskRepo.GetOldestPendingTask(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to get pending task: %w", err)
	}
	if next == nil {
		slog.Debug("No pending tasks", "campaign", campaignID)
		return nil
	}

	err = e.dispatcher.Dispatch(ctx, campaignID, next.ID, campaign.EndpointID)
	switch {
	case err == nil:
		_, err = e.ScheduleCheck(ctx, campaignID, next.ID, campaign.EndpointID)
		return err

	case errors.Is(err, errs.ErrInvalidTransition):
		slog.Debug("Task already picked up", "campaign", campaignID, "task", next.ID)
		return nil

	default:
		var dispatchErr *errs.DispatchError
		if errors.As(err, &dispatchErr) {
			// the failed task's check advances the queue on the next tick
			if _, scheduleErr := e.ScheduleCheck(ctx, campaignID, next.ID, campaign.EndpointID); scheduleErr != nil {
				slog.Error("Failed to schedule check after dispatch failure", "campaign", campaignID, "task", next.ID, "error", scheduleErr)
			}
		}
		return err
	}
}

// ScheduleCheck is a no-op when a check for the same campaign, task and
// endpoint is already pending.
func (e *Engine) ScheduleCheck(ctx context.Context, campaignID string, taskID int64, endpointID string) (bool, error) {
	created, err := e.checkRepo.ScheduleCheck(ctx, database.ScheduledCheck{
		CampaignID:  campaignID,
		TaskID:      taskID,
		EndpointID:  endpointID,
		NextCheckAt: e.now().Add(e.checkInterval),
	})
	if err != nil {
		return false, fmt.Errorf("failed to schedule check: %w", err)
	}
	if created {
		slog.Debug("Status check scheduled", "campaign", campaignID, "task", taskID, "in", e.checkInterval.String())
	}
	return created, nil
}

// EnsureCheck gives an active campaign's processing task a pending check. It
// re-arms campaigns whose check was lost, e.g. across a restart.
func (e *Engine) EnsureCheck(ctx context.Context, campaign *database.Campaign) error {
	if !campaign.IsActive() || campaign.EndpointID == "" {
		return nil
	}

	processing, err := e.taskRepo.GetProcessingTask(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to get processing task: %w", err)
	}
	if processing == nil {
		return nil
	}

	_, err = e.ScheduleCheck(ctx, campaign.ID, processing.ID, campaign.EndpointID)
	return err
}

func (e *Engine) DueChecks(ctx context.Context) ([]database.ScheduledCheck, error) {
	return e.checkRepo.ListDueChecks(ctx, e.now())
}

// CheckStatus consumes a scheduled check. A processing task past the timeout
// is failed; one still within it gets a new check. Anything else advances.
func (e *Engine) CheckStatus(ctx context.Context, campaignID string, taskID int64, endpointID string) error {
	claimed, err := e.checkRepo.ClaimCheck(ctx, campaignID, taskID, endpointID)
	if err != nil {
		return fmt.Errorf("failed to claim check: %w", err)
	}
	if !claimed {
		return nil
	}

	task, err := e.taskRepo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to get task: %w", err)
	}

	if task != nil && task.Status == database.TaskProcessing {
		now := e.now()
		elapsed := now.Sub(startedAt(task))
		if elapsed <= e.taskTimeout {
			_, err := e.ScheduleCheck(ctx, campaignID, taskID, endpointID)
			return err
		}

		timeoutErr := &errs.TimeoutError{TaskID: taskID, Elapsed: elapsed, Limit: e.taskTimeout}
		failed, err := e.taskRepo.MarkFailed(ctx, taskID, timeoutErr.Error(), now)
		if err != nil {
			return fmt.Errorf("failed to mark task timed out: %w", err)
		}
		if failed {
			slog.Warn("Task timed out", "campaign", campaignID, "task", taskID, "elapsed", elapsed.Round(time.Second).String())
		}
	}

	return e.Advance(ctx, campaignID)
}

// StopRun unschedules the campaign's checks and puts processing tasks back to pending.
func (e *Engine) StopRun(ctx context.Context, campaignID string) (int, error) {
	if _, err := e.getCampaign(ctx, campaignID); err != nil {
		return 0, err
	}

	removed, err := e.checkRepo.DeleteCampaignChecks(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checks: %w", err)
	}

	reset, err := e.taskRepo.ResetProcessing(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing tasks: %w", err)
	}

	slog.Info("Campaign run stopped", "campaign", campaignID, "checks", removed, "reset", reset)
	return reset, nil
}

// Wake advances the campaign, logging instead of returning errors.
func (e *Engine) Wake(ctx context.Context, campaignID string) {
	if err := e.Advance(ctx, campaignID); err != nil {
		slog.Warn("Failed to advance campaign", "campaign", campaignID, "error", err)
	}
}

func startedAt(task *database.Task) time.Time {
	if task.RunStartedAt != nil {
		return *task.RunStartedAt
	}
	return task.UpdatedAt
}
