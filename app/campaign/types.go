package campaign

import (
	"github.com/lysyi3m/autopress/app/database"
)

// Config is one campaign definition file.
type Config struct {
	ID          string                    // Derived from filename (without .yml extension)
	Name        string                    `yaml:"name"`
	Status      string                    `yaml:"status"` // applied when the campaign is first stored
	Endpoint    EndpointConfig            `yaml:"endpoint"`
	Generation  database.GenerationPolicy `yaml:"generation"`
	Publication PublicationConfig         `yaml:"publication"`
	Feed        database.FeedPolicy       `yaml:"feed"`
}

type EndpointConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	FeedURL string `yaml:"feed_url"`
	Secret  string `yaml:"secret"`
}

type PublicationConfig struct {
	Mode          string `yaml:"mode"`
	IntervalValue int    `yaml:"interval_value"`
	IntervalUnit  string `yaml:"interval_unit"`
	RollingDays   int    `yaml:"rolling_days"`
	PublishHour   *int   `yaml:"publish_hour"`
}

func (c *Config) Campaign() database.Campaign {
	hour := DefaultPublishHour
	if c.Publication.PublishHour != nil {
		hour = *c.Publication.PublishHour
	}

	return database.Campaign{
		ID:         c.ID,
		Name:       c.Name,
		Status:     database.CampaignStatus(c.Status),
		EndpointID: c.Endpoint.ID,
		Generation: c.Generation,
		Publication: database.PublicationPolicy{
			Mode:          c.Publication.Mode,
			IntervalValue: c.Publication.IntervalValue,
			IntervalUnit:  c.Publication.IntervalUnit,
			RollingDays:   c.Publication.RollingDays,
			PublishHour:   hour,
		},
		Feed: c.Feed,
	}
}

func (c *Config) EndpointRecord() database.Endpoint {
	return database.Endpoint{
		ID:      c.Endpoint.ID,
		Name:    c.Endpoint.Name,
		URL:     c.Endpoint.URL,
		FeedURL: c.Endpoint.FeedURL,
		Secret:  c.Endpoint.Secret,
	}
}
