package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults tests that default configuration values are loaded correctly.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default server host '0.0.0.0', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Expected default server port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown timeout 10s, got %v", cfg.Server.ShutdownTimeout)
	}

	if cfg.Storage.DataDir != "./data" {
		t.Errorf("Expected default data dir './data', got '%s'", cfg.Storage.DataDir)
	}
	if cfg.Storage.VMsDir != filepath.Join("./data", "vms") {
		t.Errorf("Expected vms dir derived from data dir, got '%s'", cfg.Storage.VMsDir)
	}
	if cfg.Storage.CatalogDir != filepath.Join("./data", "catalog") {
		t.Errorf("Expected catalog dir derived from data dir, got '%s'", cfg.Storage.CatalogDir)
	}

	if cfg.Hypervisor.Binary != "qemu-system-x86_64" {
		t.Errorf("Expected default hypervisor binary, got '%s'", cfg.Hypervisor.Binary)
	}
	if cfg.Hypervisor.GracePeriod != 5*time.Second {
		t.Errorf("Expected default grace period 5s, got %v", cfg.Hypervisor.GracePeriod)
	}
	if cfg.Hypervisor.ProbeTimeout != 10*time.Second {
		t.Errorf("Expected default probe timeout 10s, got %v", cfg.Hypervisor.ProbeTimeout)
	}

	if cfg.Console.SpicePortMin != 5930 || cfg.Console.SpicePortMax != 5999 {
		t.Errorf("Expected spice range 5930-5999, got %d-%d", cfg.Console.SpicePortMin, cfg.Console.SpicePortMax)
	}
	if cfg.Console.VNCPortMin != 5900 || cfg.Console.VNCPortMax != 5929 {
		t.Errorf("Expected vnc range 5900-5929, got %d-%d", cfg.Console.VNCPortMin, cfg.Console.VNCPortMax)
	}
	if cfg.Console.DialAttempts != 3 {
		t.Errorf("Expected 3 dial attempts, got %d", cfg.Console.DialAttempts)
	}

	if cfg.Telemetry.Interval != 5*time.Second {
		t.Errorf("Expected telemetry interval 5s, got %v", cfg.Telemetry.Interval)
	}
	if cfg.Telemetry.Capacity != 120 {
		t.Errorf("Expected ring capacity 120, got %d", cfg.Telemetry.Capacity)
	}
	if cfg.Telemetry.HistoryRetention != 24*time.Hour {
		t.Errorf("Expected history retention 24h, got %v", cfg.Telemetry.HistoryRetention)
	}
	if cfg.Maintenance.IntegrityInterval != 6*time.Hour {
		t.Errorf("Expected integrity interval 6h, got %v", cfg.Maintenance.IntegrityInterval)
	}
	if cfg.Maintenance.AutoRepair {
		t.Error("Expected auto repair to be off by default")
	}
	if cfg.HistoryPath() != filepath.Join("./data", "history.db") {
		t.Errorf("Expected history db under data dir, got '%s'", cfg.HistoryPath())
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default logging level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected default logging format 'json', got '%s'", cfg.Logging.Format)
	}

	if cfg.Security.RateLimit != 100 {
		t.Errorf("Expected default rate limit 100, got %d", cfg.Security.RateLimit)
	}
	if len(cfg.Security.AllowedOrigins) != 1 || cfg.Security.AllowedOrigins[0] != "*" {
		t.Errorf("Expected default allowed origins ['*'], got %v", cfg.Security.AllowedOrigins)
	}
}

// TestValidation tests the configuration validation logic.
func TestValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		expectErr bool
		errMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			expectErr: true,
			errMsg:    "invalid server port",
		},
		{
			name:      "invalid port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			expectErr: true,
			errMsg:    "invalid server port",
		},
		{
			name:      "missing data dir",
			mutate:    func(c *Config) { c.Storage.DataDir = "" },
			expectErr: true,
			errMsg:    "data_dir is required",
		},
		{
			name:      "inverted spice range",
			mutate:    func(c *Config) { c.Console.SpicePortMin, c.Console.SpicePortMax = 5999, 5930 },
			expectErr: true,
			errMsg:    "invalid spice port range",
		},
		{
			name:      "overlapping ranges",
			mutate:    func(c *Config) { c.Console.VNCPortMax = 5940 },
			expectErr: true,
			errMsg:    "overlap",
		},
		{
			name:      "zero grace period",
			mutate:    func(c *Config) { c.Hypervisor.GracePeriod = 0 },
			expectErr: true,
			errMsg:    "must be positive",
		},
		{
			name:      "zero telemetry interval",
			mutate:    func(c *Config) { c.Telemetry.Interval = 0 },
			expectErr: true,
			errMsg:    "telemetry interval",
		},
		{
			name:      "empty ring",
			mutate:    func(c *Config) { c.Telemetry.Capacity = 0 },
			expectErr: true,
			errMsg:    "telemetry capacity",
		},
		{
			name:      "negative integrity interval",
			mutate:    func(c *Config) { c.Maintenance.IntegrityInterval = -time.Minute },
			expectErr: true,
			errMsg:    "integrity_interval",
		},
		{
			name:      "integrity scan disabled",
			mutate:    func(c *Config) { c.Maintenance.IntegrityInterval = 0 },
			expectErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := validate(c)
			if tt.expectErr {
				if err == nil {
					t.Errorf("Expected error containing '%s', got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

// TestLoadFile tests reading an explicit YAML file.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9001
storage:
  data_dir: /srv/fastvm
  images_dir: /mnt/images
hypervisor:
  grace_period: 30s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Expected port 9001, got %d", cfg.Server.Port)
	}
	if cfg.Hypervisor.GracePeriod != 30*time.Second {
		t.Errorf("Expected grace period 30s, got %v", cfg.Hypervisor.GracePeriod)
	}
	if cfg.Storage.ImagesDir != "/mnt/images" {
		t.Errorf("Expected explicit images dir to be kept, got '%s'", cfg.Storage.ImagesDir)
	}
	if cfg.Storage.VolumesDir != "/srv/fastvm/volumes" {
		t.Errorf("Expected volumes dir derived from data dir, got '%s'", cfg.Storage.VolumesDir)
	}
}

// TestEnvironmentVariableOverride tests that environment variables override config values.
func TestEnvironmentVariableOverride(t *testing.T) {
	t.Setenv("FVM_SERVER_PORT", "9999")
	t.Setenv("FVM_SERVER_HOST", "127.0.0.1")
	t.Setenv("FVM_HYPERVISOR_GRACE_PERIOD", "12s")

	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999 from environment, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host '127.0.0.1' from environment, got '%s'", cfg.Server.Host)
	}
	if cfg.Hypervisor.GracePeriod != 12*time.Second {
		t.Errorf("Expected grace period 12s from environment, got %v", cfg.Hypervisor.GracePeriod)
	}
}

// TestGet tests the global config getter.
func TestGet(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	retrieved := Get()
	if retrieved == nil {
		t.Fatal("Get() returned nil")
	}
	if retrieved.Server.Port != 8000 {
		t.Errorf("Expected port 8000 from Get(), got %d", retrieved.Server.Port)
	}
}
