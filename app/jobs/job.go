package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeSyncCampaign    JobType = "sync_campaign"
	JobTypeAdvanceCampaign JobType = "advance_campaign"
	JobTypeCheckStatus     JobType = "check_status"
	JobTypeIngestFeed      JobType = "ingest_feed"
)

const (
	DefaultMaxRetries = 3
)

type JobInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() JobType
	GetCampaignID() string
	// GetKey identifies jobs that must not run concurrently; empty means no limit.
	GetKey() string
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	Start()
	GetDuration() time.Duration
}

type Job struct {
	ID         string
	Type       JobType
	CampaignID string
	RetryCount int
	MaxRetries int
	StartedAt  *time.Time
}

func (j *Job) GetID() string {
	return j.ID
}

func (j *Job) GetType() JobType {
	return j.Type
}

func (j *Job) GetCampaignID() string {
	return j.CampaignID
}

func (j *Job) GetKey() string {
	return ""
}

func (j *Job) GetRetryCount() int {
	return j.RetryCount
}

func (j *Job) GetMaxRetries() int {
	return j.MaxRetries
}

func (j *Job) IncrementRetryCount() {
	j.RetryCount++
}

func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

func (j *Job) Start() {
	now := time.Now()
	j.StartedAt = &now
}

func (j *Job) GetDuration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	return time.Since(*j.StartedAt)
}

// NewJob creates a job without retries.
func NewJob(jobType JobType, campaignID string) Job {
	return Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		CampaignID: campaignID,
	}
}
