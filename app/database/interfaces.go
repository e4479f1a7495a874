package database

import (
	"context"
	"time"
)

type CampaignRepository interface {
	UpsertEndpoint(ctx context.Context, endpoint Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)

	UpsertCampaign(ctx context.Context, campaign Campaign) (bool, error)
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	SetCampaignStatus(ctx context.Context, id string, status CampaignStatus) error
	DeleteCampaign(ctx context.Context, id string) error
	GetCampaignCount(ctx context.Context) (int, error)
}

type TaskRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id int64) (*Task, error)
	GetTaskByExecutionID(ctx context.Context, executionID string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	GetTaskStats(ctx context.Context, campaignID string) (TaskStats, error)
	DeleteTask(ctx context.Context, id int64) error

	GetProcessingTask(ctx context.Context, campaignID string) (*Task, error)
	GetOldestPendingTask(ctx context.Context, campaignID string) (*Task, error)
	ListResearchURLs(ctx context.Context, campaignID string) ([]string, error)
	ListLinkCandidates(ctx context.Context, campaignID string, excludeID int64, limit int) ([]Task, error)
	CountCompletedInMode(ctx context.Context, campaignID, mode string, excludeID int64) (int, error)

	MarkProcessing(ctx context.Context, id int64, startedAt time.Time) (bool, error)
	SetExecutionID(ctx context.Context, id int64, executionID string) error
	UpdateProgress(ctx context.Context, id int64, progress string, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, message string, at time.Time) (bool, error)
	SaveResult(ctx context.Context, id int64, result TaskResult) error

	ResetToPending(ctx context.Context, id int64, from TaskStatus) (bool, error)
	ResetProcessing(ctx context.Context, campaignID string) (int, error)
	RetryAllFailed(ctx context.Context, campaignID string) (int, error)
	CancelTask(ctx context.Context, id int64) (bool, error)
}

type HistoryRepository interface {
	LastRunID(ctx context.Context, campaignID string) (int64, bool, error)
	ListURLs(ctx context.Context, campaignID string) ([]string, error)
	RecordBatch(ctx context.Context, campaignID string, runID int64, entries []HistoryEntry, keepRuns int) error
	ListEntries(ctx context.Context, campaignID string, limit int) ([]HistoryEntry, error)
}

type CheckRepository interface {
	ScheduleCheck(ctx context.Context, check ScheduledCheck) (bool, error)
	HasCheck(ctx context.Context, campaignID string, taskID int64, endpointID string) (bool, error)
	ClaimCheck(ctx context.Context, campaignID string, taskID int64, endpointID string) (bool, error)
	ListDueChecks(ctx context.Context, now time.Time) ([]ScheduledCheck, error)
	DeleteTaskChecks(ctx context.Context, taskID int64) error
	DeleteCampaignChecks(ctx context.Context, campaignID string) (int, error)
}
