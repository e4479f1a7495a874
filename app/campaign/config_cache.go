package campaign

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/autopress/app/database"
)

const (
	DefaultPublishHour  = 9
	DefaultFeedInterval = 60
	DefaultMaxLinks     = 5
)

var (
	validRollingDays   = map[int]bool{7: true, 14: true, 30: true, 60: true}
	validFeedIntervals = map[int]bool{15: true, 60: true, 360: true, 1440: true}
	validIntervalUnits = map[string]bool{"minute": true, "hour": true}
	validFetchModes    = map[string]bool{"worker": true, "direct": true}
	validFilterFields  = map[string]bool{"title": true, "url": true, "source": true}
	validModes         = map[string]bool{
		database.PublishPendingReview: true,
		database.PublishInstantly:     true,
		database.PublishIntervals:     true,
		database.PublishRolling:       true,
	}
)

type ConfigCache struct {
	campaignsDir string
	cache        map[string]*Config
	mu           sync.RWMutex
}

func NewConfigCache(campaignsDir string) *ConfigCache {
	return &ConfigCache{
		campaignsDir: campaignsDir,
		cache:        make(map[string]*Config),
	}
}

// Run loads every *.yml file of the campaigns directory, replacing the cache.
func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.campaignsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.campaignsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	loaded := make(map[string]*Config, len(files))
	for _, file := range files {
		id := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.readConfig(id)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}
		loaded[id] = config

		slog.Debug("Campaign configuration loaded", "campaign", id, "endpoint", config.Endpoint.ID, "mode", config.Publication.Mode, "feed", config.Feed.Enabled)
	}

	cc.mu.Lock()
	cc.cache = loaded
	cc.mu.Unlock()

	return nil
}

// LoadConfig re-reads a single campaign file and updates the cache.
func (cc *ConfigCache) LoadConfig(id string) (*Config, error) {
	config, err := cc.readConfig(id)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[config.ID] = config

	return config, nil
}

func (cc *ConfigCache) GetConfig(id string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	config, ok := cc.cache[id]
	if !ok {
		return nil, fmt.Errorf("campaign config with id '%s' not found", id)
	}
	return config, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) readConfig(id string) (*Config, error) {
	configFile := filepath.Join(cc.campaignsDir, id+".yml")
	config, err := parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	config.ID = id
	if config.Name == "" {
		config.Name = id
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}
	return config, nil
}

func parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if config.Status == "" {
		config.Status = string(database.CampaignPaused)
	}
	if config.Publication.Mode == "" {
		config.Publication.Mode = database.PublishPendingReview
	}
	if config.Feed.Interval == 0 {
		config.Feed.Interval = DefaultFeedInterval
	}
	if config.Feed.FetchMode == "" {
		config.Feed.FetchMode = "worker"
	}
	if config.Generation.InternalLinks.Enabled && config.Generation.InternalLinks.Max == 0 {
		config.Generation.InternalLinks.Max = DefaultMaxLinks
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	requiredFields := map[string]string{
		"campaign id":  config.ID,
		"endpoint id":  config.Endpoint.ID,
		"endpoint URL": config.Endpoint.URL,
	}

	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	switch database.CampaignStatus(config.Status) {
	case database.CampaignActive, database.CampaignPaused:
	default:
		return fmt.Errorf("invalid status: %s", config.Status)
	}

	if err := validatePublication(config.Publication); err != nil {
		return err
	}

	return validateFeed(config.Feed)
}

func validatePublication(p PublicationConfig) error {
	if !validModes[p.Mode] {
		return fmt.Errorf("invalid publication mode: %s", p.Mode)
	}

	switch p.Mode {
	case database.PublishIntervals:
		if p.IntervalValue <= 0 {
			return fmt.Errorf("interval_value must be positive for %s", p.Mode)
		}
		if !validIntervalUnits[p.IntervalUnit] {
			return fmt.Errorf("invalid interval_unit: %q", p.IntervalUnit)
		}
	case database.PublishRolling:
		if !validRollingDays[p.RollingDays] {
			return fmt.Errorf("rolling_days must be one of 7, 14, 30, 60, got %d", p.RollingDays)
		}
	}

	if p.PublishHour != nil && (*p.PublishHour < 0 || *p.PublishHour > 23) {
		return fmt.Errorf("publish_hour must be between 0 and 23, got %d", *p.PublishHour)
	}

	return nil
}

func validateFeed(f database.FeedPolicy) error {
	if !validFeedIntervals[f.Interval] {
		return fmt.Errorf("feed interval must be one of 15, 60, 360, 1440 minutes, got %d", f.Interval)
	}
	if !validFetchModes[f.FetchMode] {
		return fmt.Errorf("invalid feed fetch_mode: %s", f.FetchMode)
	}

	seen := make(map[string]bool, len(f.Sources))
	for i, source := range f.Sources {
		if source.ID == "" || source.URL == "" {
			return fmt.Errorf("feed source at index %d must have id and url", i)
		}
		if seen[source.ID] {
			return fmt.Errorf("duplicate feed source id: %s", source.ID)
		}
		seen[source.ID] = true
	}

	for i, filter := range f.Filters {
		if !validFilterFields[filter.Field] {
			return fmt.Errorf("feed filter at index %d has invalid field: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("feed filter at index %d must have includes or excludes", i)
		}
	}

	if f.Enabled && len(f.Sources) == 0 {
		slog.Warn("Feed enabled without sources", "interval", f.Interval)
	}

	return nil
}
