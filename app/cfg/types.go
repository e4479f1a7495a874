package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath       string
	CampaignsDir string

	// HTTP
	Port         string
	BaseUrl      string
	APIAccessKey string
	PublishURL   string

	// Scheduling
	WorkerCount       int
	SchedulerInterval int
	CheckInterval     int
	TaskTimeout       int
	DispatchTimeout   int
	FeedTimeout       int
	PublishTimeout    int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

func (c *Cfg) GetSchedulerInterval() time.Duration {
	return seconds(c.SchedulerInterval, 10)
}

func (c *Cfg) GetCheckInterval() time.Duration {
	return seconds(c.CheckInterval, 30)
}

func (c *Cfg) GetTaskTimeout() time.Duration {
	return seconds(c.TaskTimeout, 65)
}

func (c *Cfg) GetDispatchTimeout() time.Duration {
	return seconds(c.DispatchTimeout, 15)
}

func (c *Cfg) GetFeedTimeout() time.Duration {
	return seconds(c.FeedTimeout, 60)
}

func (c *Cfg) GetPublishTimeout() time.Duration {
	return seconds(c.PublishTimeout, 30)
}

// CallbackURL is the address workers report progress to.
func (c *Cfg) CallbackURL() string {
	if c.BaseUrl != "" {
		return c.BaseUrl + "/api/callback"
	}
	return "http://localhost:" + c.Port + "/api/callback"
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
