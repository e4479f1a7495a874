package api

import (
	"context"
	"time"

	"github.com/lysyi3m/autopress/app/campaign"
	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/engine"
	"github.com/lysyi3m/autopress/app/ingest"
	"github.com/lysyi3m/autopress/app/jobs"
)

// Orchestrator is the engine surface exposed over HTTP.
type Orchestrator interface {
	HandleCallback(ctx context.Context, token string, cb engine.Callback) error
	CreateTask(ctx context.Context, task *database.Task) error
	RetryTask(ctx context.Context, id int64) error
	RetryAllFailed(ctx context.Context, campaignID string) (int, error)
	CancelRun(ctx context.Context, id int64) error
	CancelTask(ctx context.Context, id int64) error
	DeleteTask(ctx context.Context, id int64) error
	SetCampaignStatus(ctx context.Context, campaignID string, status database.CampaignStatus) error
	DeleteCampaign(ctx context.Context, campaignID string) error
	RunCampaign(ctx context.Context, campaignID string) error
	StopRun(ctx context.Context, campaignID string) (int, error)
	Republish(ctx context.Context, id int64) (string, error)
}

var _ Orchestrator = (*engine.Engine)(nil)

type FeedIngestor interface {
	ForceRun(ctx context.Context, campaignID string) (ingest.Result, error)
}

type Handler struct {
	engine       Orchestrator
	ingestor     FeedIngestor
	campaignRepo database.CampaignRepository
	taskRepo     database.TaskRepository
	historyRepo  database.HistoryRepository
	configCache  *campaign.ConfigCache
	scheduler    jobs.JobSchedulerInterface
}

type createTaskRequest struct {
	ID             int64      `json:"id"`
	Type           string     `json:"type"`
	Topic          string     `json:"topic"`
	Keywords       string     `json:"keywords"`
	ResearchURL    string     `json:"research_url"`
	Title          string     `json:"title"`
	Slug           string     `json:"slug"`
	FeatureImage   string     `json:"feature_image"`
	PubMode        string     `json:"pub_mode"`
	PubDate        *time.Time `json:"pub_date"`
	PubRandomRange int        `json:"pub_random_range"`
}

func (r createTaskRequest) task(campaignID string) *database.Task {
	return &database.Task{
		ID:             r.ID,
		CampaignID:     campaignID,
		Type:           database.TaskType(r.Type),
		Topic:          r.Topic,
		Keywords:       r.Keywords,
		ResearchURL:    r.ResearchURL,
		TitleOverride:  r.Title,
		SlugOverride:   r.Slug,
		FeatureImage:   r.FeatureImage,
		PubOverride:    r.PubMode != "",
		PubMode:        r.PubMode,
		PubDate:        r.PubDate,
		PubRandomRange: r.PubRandomRange,
	}
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type taskResponse struct {
	ID                       int64      `json:"id"`
	CampaignID               string     `json:"campaign_id"`
	Type                     string     `json:"type"`
	Topic                    string     `json:"topic,omitempty"`
	Keywords                 string     `json:"keywords,omitempty"`
	ResearchURL              string     `json:"research_url,omitempty"`
	Status                   string     `json:"status"`
	Progress                 string     `json:"progress,omitempty"`
	ErrorMessage             string     `json:"error_message,omitempty"`
	ExecutionID              string     `json:"execution_id,omitempty"`
	ContentID                string     `json:"content_id,omitempty"`
	Title                    string     `json:"title,omitempty"`
	Slug                     string     `json:"slug,omitempty"`
	PublicationMode          string     `json:"publication_mode,omitempty"`
	ScheduledPublicationDate *time.Time `json:"scheduled_publication_date,omitempty"`
	RunStartedAt             *time.Time `json:"run_started_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
	CompletedAt              *time.Time `json:"completed_at,omitempty"`
}

func newTaskResponse(t database.Task) taskResponse {
	return taskResponse{
		ID:                       t.ID,
		CampaignID:               t.CampaignID,
		Type:                     string(t.Type),
		Topic:                    t.Topic,
		Keywords:                 t.Keywords,
		ResearchURL:              t.ResearchURL,
		Status:                   string(t.Status),
		Progress:                 t.Progress,
		ErrorMessage:             t.ErrorMessage,
		ExecutionID:              t.ExecutionID,
		ContentID:                t.ContentID,
		Title:                    t.ResultTitle,
		Slug:                     t.ResultSlug,
		PublicationMode:          t.PublicationMode,
		ScheduledPublicationDate: t.ScheduledPublicationDate,
		RunStartedAt:             t.RunStartedAt,
		CreatedAt:                t.CreatedAt,
		UpdatedAt:                t.UpdatedAt,
		CompletedAt:              t.CompletedAt,
	}
}

type historyResponse struct {
	SourceID        string     `json:"source_id"`
	URL             string     `json:"url"`
	Title           string     `json:"title,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	RunID           int64      `json:"run_id"`
}
