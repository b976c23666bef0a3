// Package config provides configuration management for fastvm.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with FVM_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.fastvm/config.yaml, /etc/fastvm/config.yaml)
//  3. .env files
//  4. Environment variables (FVM_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
//
// # Environment Variables
//
// Use the FVM_ prefix and underscores for nested keys:
//   - FVM_SERVER_PORT=8000
//   - FVM_STORAGE_DATA_DIR=/var/lib/fastvm
//   - FVM_HYPERVISOR_GRACE_PERIOD=15s
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for fastvm.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Hypervisor  HypervisorConfig  `mapstructure:"hypervisor" yaml:"hypervisor"`
	Console     ConsoleConfig     `mapstructure:"console" yaml:"console"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Security    SecurityConfig    `mapstructure:"security" yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the server listen port (default: 8000)
	Port int `mapstructure:"port" yaml:"port"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Debug enables debug logging and echo's debug mode
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// StorageConfig locates the catalog and every image directory.
// Empty sub-directories default to children of DataDir.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	CatalogDir   string `mapstructure:"catalog_dir" yaml:"catalog_dir"`
	VMsDir       string `mapstructure:"vms_dir" yaml:"vms_dir"`
	ImagesDir    string `mapstructure:"images_dir" yaml:"images_dir"`
	VolumesDir   string `mapstructure:"volumes_dir" yaml:"volumes_dir"`
	SnapshotsDir string `mapstructure:"snapshots_dir" yaml:"snapshots_dir"`
	LogsDir      string `mapstructure:"logs_dir" yaml:"logs_dir"`

	// MinFreeGB is the free-space floor reported by the health check
	MinFreeGB int `mapstructure:"min_free_gb" yaml:"min_free_gb"`
}

// HypervisorConfig describes how hypervisor processes are built and supervised.
type HypervisorConfig struct {
	Binary      string `mapstructure:"binary" yaml:"binary"`
	ImgBinary   string `mapstructure:"img_binary" yaml:"img_binary"`
	Accel       string `mapstructure:"accel" yaml:"accel"`
	Machine     string `mapstructure:"machine" yaml:"machine"`
	OVMFCode    string `mapstructure:"ovmf_code" yaml:"ovmf_code"`
	OVMFVars    string `mapstructure:"ovmf_vars" yaml:"ovmf_vars"`
	SwtpmBinary string `mapstructure:"swtpm_binary" yaml:"swtpm_binary"`

	// GracePeriod is how long a stopping VM may take before it is killed
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`

	// KillTimeout bounds the wait after the forced kill
	KillTimeout time.Duration `mapstructure:"kill_timeout" yaml:"kill_timeout"`

	// ProbeTimeout bounds the liveness probe after launch
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`

	// StopOnExit stops every VM when the server shuts down. By default VMs
	// keep running and are adopted on the next start.
	StopOnExit bool `mapstructure:"stop_on_exit" yaml:"stop_on_exit"`
}

// ConsoleConfig holds console port ranges and relay timings.
type ConsoleConfig struct {
	SpicePortMin int `mapstructure:"spice_port_min" yaml:"spice_port_min"`
	SpicePortMax int `mapstructure:"spice_port_max" yaml:"spice_port_max"`
	VNCPortMin   int `mapstructure:"vnc_port_min" yaml:"vnc_port_min"`
	VNCPortMax   int `mapstructure:"vnc_port_max" yaml:"vnc_port_max"`

	DialAttempts   int           `mapstructure:"dial_attempts" yaml:"dial_attempts"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout" yaml:"cleanup_timeout"`
}

// TelemetryConfig controls the sampler, rings and extended history.
type TelemetryConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`

	// MaxPushFailures is the number of consecutive failed pushes before a
	// subscriber is dropped
	MaxPushFailures int `mapstructure:"max_push_failures" yaml:"max_push_failures"`

	HistoryDB        string        `mapstructure:"history_db" yaml:"history_db"`
	HistoryRetention time.Duration `mapstructure:"history_retention" yaml:"history_retention"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// MaintenanceConfig schedules background catalog audits.
type MaintenanceConfig struct {
	// IntegrityInterval is the period of the integrity scan; 0 disables it
	IntegrityInterval time.Duration `mapstructure:"integrity_interval" yaml:"integrity_interval"`

	// AutoRepair removes orphaned files found by the scheduled scan
	AutoRepair bool `mapstructure:"auto_repair" yaml:"auto_repair"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// SecurityConfig contains rate limiting and CORS settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`

	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.fastvm")
		v.AddConfigPath("/etc/fastvm")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig()

	v.SetEnvPrefix("FVM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	c.Storage.fill()

	if err := validate(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = c
	return c, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	c := &Config{}
	_ = v.Unmarshal(c)
	c.Storage.fill()
	return c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.min_free_gb", 10)

	v.SetDefault("hypervisor.binary", "qemu-system-x86_64")
	v.SetDefault("hypervisor.img_binary", "qemu-img")
	v.SetDefault("hypervisor.accel", "kvm")
	v.SetDefault("hypervisor.machine", "q35")
	v.SetDefault("hypervisor.ovmf_code", "/usr/share/OVMF/OVMF_CODE.fd")
	v.SetDefault("hypervisor.ovmf_vars", "/usr/share/OVMF/OVMF_VARS.fd")
	v.SetDefault("hypervisor.swtpm_binary", "swtpm")
	v.SetDefault("hypervisor.grace_period", "5s")
	v.SetDefault("hypervisor.kill_timeout", "5s")
	v.SetDefault("hypervisor.probe_timeout", "10s")
	v.SetDefault("hypervisor.stop_on_exit", false)

	v.SetDefault("console.spice_port_min", 5930)
	v.SetDefault("console.spice_port_max", 5999)
	v.SetDefault("console.vnc_port_min", 5900)
	v.SetDefault("console.vnc_port_max", 5929)
	v.SetDefault("console.dial_attempts", 3)
	v.SetDefault("console.dial_timeout", "5s")
	v.SetDefault("console.write_timeout", "10s")
	v.SetDefault("console.cleanup_timeout", "2s")

	v.SetDefault("telemetry.interval", "5s")
	v.SetDefault("telemetry.capacity", 120)
	v.SetDefault("telemetry.max_push_failures", 3)
	v.SetDefault("telemetry.history_db", "")
	v.SetDefault("telemetry.history_retention", "24h")
	v.SetDefault("telemetry.cleanup_interval", "1h")

	v.SetDefault("maintenance.integrity_interval", "6h")
	v.SetDefault("maintenance.auto_repair", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
}

// fill derives empty storage paths from DataDir.
func (s *StorageConfig) fill() {
	def := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(s.DataDir, name)
		}
	}
	def(&s.CatalogDir, "catalog")
	def(&s.VMsDir, "vms")
	def(&s.ImagesDir, "images")
	def(&s.VolumesDir, "volumes")
	def(&s.SnapshotsDir, "snapshots")
	def(&s.LogsDir, "logs")
}

// Dirs returns every directory the engine writes to.
func (s *StorageConfig) Dirs() []string {
	return []string{s.CatalogDir, s.VMsDir, s.ImagesDir, s.VolumesDir, s.SnapshotsDir, s.LogsDir}
}

// HistoryPath returns the extended history database file.
func (c *Config) HistoryPath() string {
	if c.Telemetry.HistoryDB != "" {
		return c.Telemetry.HistoryDB
	}
	return filepath.Join(c.Storage.DataDir, "history.db")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	if cfg.Hypervisor.Binary == "" {
		return fmt.Errorf("hypervisor binary is required")
	}

	if err := validateRange("spice", cfg.Console.SpicePortMin, cfg.Console.SpicePortMax); err != nil {
		return err
	}
	if err := validateRange("vnc", cfg.Console.VNCPortMin, cfg.Console.VNCPortMax); err != nil {
		return err
	}
	if cfg.Console.SpicePortMin <= cfg.Console.VNCPortMax && cfg.Console.VNCPortMin <= cfg.Console.SpicePortMax {
		return fmt.Errorf("spice and vnc port ranges overlap")
	}

	if cfg.Hypervisor.GracePeriod <= 0 || cfg.Hypervisor.KillTimeout <= 0 || cfg.Hypervisor.ProbeTimeout <= 0 {
		return fmt.Errorf("hypervisor grace_period, kill_timeout and probe_timeout must be positive")
	}

	if cfg.Telemetry.Interval <= 0 {
		return fmt.Errorf("telemetry interval must be positive")
	}
	if cfg.Telemetry.Capacity < 1 {
		return fmt.Errorf("telemetry capacity must be at least 1")
	}

	if cfg.Maintenance.IntegrityInterval < 0 {
		return fmt.Errorf("maintenance integrity_interval must not be negative")
	}

	return nil
}

func validateRange(name string, min, max int) error {
	if min < 1 || max > 65535 || min > max {
		return fmt.Errorf("invalid %s port range: %d-%d", name, min, max)
	}
	return nil
}

// Get returns the most recently loaded configuration.
func Get() *Config {
	return cfg
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
