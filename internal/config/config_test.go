package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.Cache.TopCompaniesTTL != 900*time.Second {
		t.Fatalf("top companies ttl = %s", cfg.Cache.TopCompaniesTTL)
	}
	if cfg.Cache.TrendsTTL != 600*time.Second {
		t.Fatalf("trends ttl = %s", cfg.Cache.TrendsTTL)
	}
	if cfg.Tasks.ProcessMaxRetries != 3 || cfg.Tasks.ProcessBackoffBase != time.Minute {
		t.Fatalf("unexpected process retry defaults: %+v", cfg.Tasks)
	}
	if cfg.Tasks.DispatchMaxRetries != 3 || cfg.Tasks.DispatchDelay != 10*time.Second {
		t.Fatalf("unexpected dispatch retry defaults: %+v", cfg.Tasks)
	}
	if cfg.Tasks.TaskTimeout != 30*time.Minute {
		t.Fatalf("task timeout = %s", cfg.Tasks.TaskTimeout)
	}
	hour, minute, err := cfg.Scheduler.ParseDailyAt()
	if err != nil || hour != 1 || minute != 0 {
		t.Fatalf("daily_at parse = %d:%d %v", hour, minute, err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("tasks:\n  workers: 8\n  broker: memory\ncache:\n  backend: memory\nscheduler:\n  daily_at: \"02:30\"\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RISKALERTS_TASKS_WORKERS", "16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tasks.Workers != 16 {
		t.Fatalf("env should override file, workers = %d", cfg.Tasks.Workers)
	}
	if cfg.Tasks.Broker != "memory" || cfg.Cache.Backend != "memory" {
		t.Fatalf("backends not read from file: %+v", cfg)
	}
	hour, minute, _ := cfg.Scheduler.ParseDailyAt()
	if hour != 2 || minute != 30 {
		t.Fatalf("daily_at = %d:%d", hour, minute)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load defaults: %v", err)
		}
		return cfg
	}

	cases := map[string]func(*Config){
		"workers":  func(c *Config) { c.Tasks.Workers = 0 },
		"broker":   func(c *Config) { c.Tasks.Broker = "kafka" },
		"cache":    func(c *Config) { c.Cache.Backend = "memcached" },
		"daily_at": func(c *Config) { c.Scheduler.DailyAt = "25:99" },
		"timezone": func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"telegram": func(c *Config) { c.Alerting.Telegram.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
