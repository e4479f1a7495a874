package database

import (
	"time"
)

type CampaignStatus string

const (
	CampaignPaused CampaignStatus = "paused"
	CampaignActive CampaignStatus = "active"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

type TaskType string

const (
	TaskTypeTopic   TaskType = "topic"
	TaskTypeRewrite TaskType = "rewrite"
)

// Publication modes. The first two apply to campaigns and task overrides alike.
const (
	PublishPendingReview = "pending_review"
	PublishInstantly     = "publish_instantly"
	PublishIntervals     = "publish_intervals"
	PublishRolling       = "rolling_schedule"
	PublishSetDate       = "set_date"
)

// HistoryRunMarker is recorded when a feed run produced no new items.
const HistoryRunMarker = "__run__"

type Endpoint struct {
	ID        string
	Name      string
	URL       string
	FeedURL   string
	Secret    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FeedTarget is where feed aggregation requests go.
func (e *Endpoint) FeedTarget() string {
	if e.FeedURL != "" {
		return e.FeedURL
	}
	return e.URL
}

type Campaign struct {
	ID          string
	Name        string
	Status      CampaignStatus
	EndpointID  string
	Generation  GenerationPolicy
	Publication PublicationPolicy
	Feed        FeedPolicy
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Campaign) IsActive() bool {
	return c.Status == CampaignActive
}

type GenerationPolicy struct {
	Tone          string                  `json:"tone,omitempty" yaml:"tone"`
	Language      string                  `json:"language,omitempty" yaml:"language"`
	SiteURL       string                  `json:"site_url,omitempty" yaml:"site_url"`
	Taxonomy      TaxonomyRules           `json:"taxonomy" yaml:"taxonomy"`
	Fields        map[string]ContentField `json:"fields,omitempty" yaml:"fields"`
	InternalLinks InternalLinkPolicy      `json:"internal_links" yaml:"internal_links"`
}

type TaxonomyRules struct {
	Categories     []string `json:"categories,omitempty" yaml:"categories"`
	Tags           []string `json:"tags,omitempty" yaml:"tags"`
	AutoCategories bool     `json:"auto_categories" yaml:"auto_categories"`
	AutoTags       bool     `json:"auto_tags" yaml:"auto_tags"`
}

type ContentField struct {
	Generate bool   `json:"generate" yaml:"generate"`
	Prompt   string `json:"prompt,omitempty" yaml:"prompt"`
	Value    string `json:"value,omitempty" yaml:"-"`
}

type InternalLinkPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Max     int  `json:"max,omitempty" yaml:"max"`
}

type PublicationPolicy struct {
	Mode          string
	IntervalValue int
	IntervalUnit  string // minute or hour
	RollingDays   int
	PublishHour   int
}

type FeedPolicy struct {
	Enabled   bool         `yaml:"enabled"`
	Interval  int          `yaml:"interval"` // minutes
	FetchMode string       `yaml:"fetch_mode"`
	Sources   []FeedSource `yaml:"sources"`
	Filters   []FeedFilter `yaml:"filters"`
}

func (f *FeedPolicy) GetInterval() time.Duration {
	if f.Interval <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(f.Interval) * time.Minute
}

// FeedFilter drops feed items before they become tasks. Matching is a
// case-insensitive substring test on Field.
type FeedFilter struct {
	Field    string   `json:"field" yaml:"field"`
	Includes []string `json:"includes,omitempty" yaml:"includes"`
	Excludes []string `json:"excludes,omitempty" yaml:"excludes"`
}

type FeedSource struct {
	ID   string `json:"id" yaml:"id"`
	URL  string `json:"url" yaml:"url"`
	Name string `json:"name,omitempty" yaml:"name"`
}

type Task struct {
	ID          int64
	CampaignID  string
	Type        TaskType
	Topic       string
	Keywords    string
	ResearchURL string

	TitleOverride string
	SlugOverride  string
	FeatureImage  string

	PubOverride    bool
	PubMode        string
	PubDate        *time.Time
	PubRandomRange int // minutes

	Status                   TaskStatus
	Progress                 string
	RunStartedAt             *time.Time
	ScheduledPublicationDate *time.Time
	PublicationMode          string
	ErrorMessage             string
	ExecutionID              string
	ContentID                string
	ResultTitle              string
	ResultSlug               string
	Content                  string // generated output as reported by the worker, JSON

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// RequiredInput returns the field name and value the task type cannot run without.
func (t *Task) RequiredInput() (string, string) {
	if t.Type == TaskTypeRewrite {
		return "research_url", t.ResearchURL
	}
	return "topic", t.Topic
}

type TaskFilter struct {
	CampaignID string
	Status     TaskStatus
	Limit      int
	Offset     int
}

type TaskStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// TaskResult is what the worker reports back for a finished task.
type TaskResult struct {
	ContentID                string
	Title                    string
	Slug                     string
	PublicationMode          string
	ScheduledPublicationDate *time.Time
	Content                  string
}

type HistoryEntry struct {
	ID              int64
	CampaignID      string
	SourceID        string
	ArticleURL      string
	Title           string
	PublicationDate *time.Time
	RunID           int64
	CreatedAt       time.Time
}

type ScheduledCheck struct {
	CampaignID  string
	TaskID      int64
	EndpointID  string
	NextCheckAt time.Time
}
