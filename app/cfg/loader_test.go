package cfg

import (
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}
}

func TestLoadArgsDefaults(t *testing.T) {
	t.Setenv("TZ", "UTC")
	t.Setenv("PORT", "8080")

	cfg, err := LoadArgs([]string{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected port '8080', got '%s'", cfg.Port)
	}
	if cfg.GetTaskTimeout() != 65*time.Second {
		t.Errorf("Expected task timeout 65s, got %v", cfg.GetTaskTimeout())
	}
	if cfg.GetCheckInterval() != 30*time.Second {
		t.Errorf("Expected check interval 30s, got %v", cfg.GetCheckInterval())
	}
	if cfg.GetPublishTimeout() != 30*time.Second {
		t.Errorf("Expected publish timeout 30s, got %v", cfg.GetPublishTimeout())
	}
	if cfg.GetFeedTimeout() <= cfg.GetDispatchTimeout() {
		t.Errorf("Expected feed timeout %v to exceed dispatch timeout %v", cfg.GetFeedTimeout(), cfg.GetDispatchTimeout())
	}
	if Get() != cfg {
		t.Error("Expected Get to return the loaded configuration")
	}
}

func TestLoadArgsOverrides(t *testing.T) {
	t.Setenv("TZ", "UTC")
	t.Setenv("TASK_TIMEOUT", "90")
	t.Setenv("PUBLISH_TIMEOUT", "5")

	cfg, err := LoadArgs([]string{"--port", "9090", "--base-url", "https://press.example.com/", "--worker-count", "2"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port '9090', got '%s'", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("Expected worker count 2, got %d", cfg.WorkerCount)
	}
	if cfg.GetTaskTimeout() != 90*time.Second {
		t.Errorf("Expected task timeout from env 90s, got %v", cfg.GetTaskTimeout())
	}
	if cfg.GetPublishTimeout() != 5*time.Second {
		t.Errorf("Expected publish timeout from env 5s, got %v", cfg.GetPublishTimeout())
	}
	if cfg.CallbackURL() != "https://press.example.com/api/callback" {
		t.Errorf("Expected trimmed callback URL, got '%s'", cfg.CallbackURL())
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Cfg{Port: "8080"}

	if cfg.GetSchedulerInterval() != 10*time.Second {
		t.Errorf("Expected scheduler interval 10s, got %v", cfg.GetSchedulerInterval())
	}
	if cfg.GetDispatchTimeout() != 15*time.Second {
		t.Errorf("Expected dispatch timeout 15s, got %v", cfg.GetDispatchTimeout())
	}
	if cfg.GetPublishTimeout() != 30*time.Second {
		t.Errorf("Expected publish timeout 30s, got %v", cfg.GetPublishTimeout())
	}
	if cfg.CallbackURL() != "http://localhost:8080/api/callback" {
		t.Errorf("Expected local callback URL, got '%s'", cfg.CallbackURL())
	}
}
