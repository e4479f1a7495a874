package cfg

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath       string `long:"db-path" env:"DB_PATH" default:"./data/autopress.db" description:"SQLite database file"`
	CampaignsDir string `long:"campaigns-dir" env:"CAMPAIGNS_DIR" default:"./campaigns" description:"Directory containing campaign configuration files"`

	// HTTP
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL workers use for callbacks (e.g., https://press.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the admin endpoints (optional)"`
	PublishURL   string `long:"publish-url" env:"PUBLISH_URL" description:"Content API that receives finished tasks (logs only when empty)"`

	// Scheduling
	WorkerCount       int `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of background workers"`
	SchedulerInterval int `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"10" description:"Scheduler tick in seconds"`
	CheckInterval     int `long:"check-interval" env:"CHECK_INTERVAL" default:"30" description:"Delay between status checks of a running task in seconds"`
	TaskTimeout       int `long:"task-timeout" env:"TASK_TIMEOUT" default:"65" description:"Seconds without progress before a running task fails"`
	DispatchTimeout   int `long:"dispatch-timeout" env:"DISPATCH_TIMEOUT" default:"15" description:"Timeout for dispatching a task to the worker in seconds"`
	FeedTimeout       int `long:"feed-timeout" env:"FEED_TIMEOUT" default:"60" description:"Timeout for fetching campaign feeds in seconds"`
	PublishTimeout    int `long:"publish-timeout" env:"PUBLISH_TIMEOUT" default:"30" description:"Timeout for handing finished content to the publish URL in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Autopress/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for publication schedules (e.g., UTC, Europe/Berlin)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses the given arguments instead of os.Args when args is non-nil.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		CampaignsDir:      raw.CampaignsDir,
		Port:              raw.Port,
		BaseUrl:           strings.TrimRight(raw.BaseUrl, "/"),
		APIAccessKey:      raw.APIAccessKey,
		PublishURL:        raw.PublishURL,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		CheckInterval:     raw.CheckInterval,
		TaskTimeout:       raw.TaskTimeout,
		DispatchTimeout:   raw.DispatchTimeout,
		FeedTimeout:       raw.FeedTimeout,
		PublishTimeout:    raw.PublishTimeout,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
