package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/errs"
	"github.com/lysyi3m/autopress/app/publication"
)

// Callback statuses reported by workers.
const (
	CallbackProcessing = "processing"
	CallbackProgress   = "progress"
	CallbackCompleted  = "completed"
	CallbackFailed     = "failed"
)

type Callback struct {
	TaskID      int64                `json:"task_id"`
	ExecutionID string               `json:"execution_id"`
	Status      string               `json:"status"`
	Progress    string               `json:"progress"`
	Error       string               `json:"error"`
	Content     *publication.Content `json:"content"`
}

// HandleCallback applies a worker report. Reports for tasks that are no
// longer processing are accepted and ignored.
func (e *Engine) HandleCallback(ctx context.Context, token string, cb Callback) error {
	task, err := e.callbackTask(ctx, cb)
	if err != nil {
		return err
	}

	campaign, err := e.getCampaign(ctx, task.CampaignID)
	if err != nil {
		return err
	}
	if err := e.authorize(ctx, campaign, token); err != nil {
		return err
	}

	now := e.now()
	switch cb.Status {
	case CallbackProcessing, CallbackProgress:
		updated, err := e.taskRepo.UpdateProgress(ctx, task.ID, cb.Progress, now)
		if err != nil {
			return fmt.Errorf("failed to update progress: %w", err)
		}
		if updated {
			slog.Debug("Task progress", "campaign", campaign.ID, "task", task.ID, "progress", cb.Progress)
		}
		return nil

	case CallbackCompleted:
		completed, err := e.taskRepo.MarkCompleted(ctx, task.ID, now)
		if err != nil {
			return fmt.Errorf("failed to mark task completed: %w", err)
		}
		if !completed {
			slog.Debug("Ignoring completion of task not processing", "task", task.ID, "status", string(task.Status))
			return nil
		}
		slog.Info("Task completed", "campaign", campaign.ID, "task", task.ID, "duration", now.Sub(startedAt(task)).Round(time.Millisecond).String())

		followCtx, cancel := followUpContext(ctx)
		defer cancel()

		if err := e.checkRepo.DeleteTaskChecks(followCtx, task.ID); err != nil {
			slog.Warn("Failed to delete task checks", "task", task.ID, "error", err)
		}

		var content publication.Content
		if cb.Content != nil {
			content = *cb.Content
		}
		_, pubErr := e.publish(followCtx, task, campaign, content)

		if err := e.Advance(followCtx, campaign.ID); err != nil {
			slog.Warn("Failed to advance campaign", "campaign", campaign.ID, "error", err)
		}
		return pubErr

	case CallbackFailed:
		message := cb.Error
		if message == "" {
			message = "worker reported failure"
		}
		failed, err := e.taskRepo.MarkFailed(ctx, task.ID, message, now)
		if err != nil {
			return fmt.Errorf("failed to mark task failed: %w", err)
		}
		if !failed {
			slog.Debug("Ignoring failure of task not processing", "task", task.ID, "status", string(task.Status))
			return nil
		}
		slog.Warn("Task failed", "campaign", campaign.ID, "task", task.ID, "error", message)

		followCtx, cancel := followUpContext(ctx)
		defer cancel()

		if err := e.checkRepo.DeleteTaskChecks(followCtx, task.ID); err != nil {
			slog.Warn("Failed to delete task checks", "task", task.ID, "error", err)
		}
		if err := e.Advance(followCtx, campaign.ID); err != nil {
			slog.Warn("Failed to advance campaign", "campaign", campaign.ID, "error", err)
		}
		return nil

	default:
		return errs.Validation("status", "unknown callback status %q", cb.Status)
	}
}

// followUpContext outlives the worker's callback request. Publication and the
// next dispatch each carry their own network timeout below this bound.
func followUpContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
}

func (e *Engine) callbackTask(ctx context.Context, cb Callback) (*database.Task, error) {
	var task *database.Task
	var err error
	switch {
	case cb.TaskID != 0:
		task, err = e.taskRepo.GetTask(ctx, cb.TaskID)
	case cb.ExecutionID != "":
		task, err = e.taskRepo.GetTaskByExecutionID(ctx, cb.ExecutionID)
	default:
		return nil, errs.Validation("task_id", "task_id or execution_id is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get callback task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("callback task: %w", errs.ErrNotFound)
	}
	return task, nil
}

func (e *Engine) authorize(ctx context.Context, campaign *database.Campaign, token string) error {
	if campaign.EndpointID == "" {
		return nil
	}
	endpoint, err := e.campaignRepo.GetEndpoint(ctx, campaign.EndpointID)
	if err != nil {
		return fmt.Errorf("failed to get endpoint: %w", err)
	}
	if endpoint != nil && endpoint.Secret != "" && endpoint.Secret != token {
		return errs.ErrUnauthorized
	}
	return nil
}

// publish resolves the publication policy and hands the content to the
// publisher. The outcome is stored on the task either way, so a failed
// publication can be retried with Republish.
func (e *Engine) publish(ctx context.Context, task *database.Task, campaign *database.Campaign, content publication.Content) (string, error) {
	encoded, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode content: %w", err)
	}

	result := database.TaskResult{
		Title:   content.Title,
		Slug:    content.Slug,
		Content: string(encoded),
	}
	if result.Title == "" {
		result.Title = task.TitleOverride
	}
	if result.Slug == "" {
		result.Slug = task.SlugOverride
	}

	rolling, err := e.taskRepo.CountCompletedInMode(ctx, campaign.ID, database.PublishRolling, task.ID)
	if err != nil {
		return "", fmt.Errorf("failed to count rolling tasks: %w", err)
	}

	res, pubErr := publication.Resolve(task, campaign, publication.Input{Now: e.now(), RollingCompleted: rolling})
	if pubErr == nil {
		result.PublicationMode = res.Mode
		result.ScheduledPublicationDate = res.Date
		result.ContentID, err = e.publisher.Publish(ctx, task, campaign, content, res)
		if err != nil {
			pubErr = &errs.PublicationError{TaskID: task.ID, Reason: "publish handler failed", Err: err}
			result.PublicationMode = ""
			result.ScheduledPublicationDate = nil
		}
	}

	if err := e.taskRepo.SaveResult(ctx, task.ID, result); err != nil {
		return "", fmt.Errorf("failed to save task result: %w", err)
	}

	if pubErr != nil {
		slog.Error("Publication failed", "campaign", campaign.ID, "task", task.ID, "error", pubErr)
		return "", pubErr
	}

	slog.Info("Task published",
		"campaign", campaign.ID,
		"task", task.ID,
		"content_id", result.ContentID,
		"status", string(res.Status),
		"mode", res.Mode,
		"date", res.Date)
	return result.ContentID, nil
}

