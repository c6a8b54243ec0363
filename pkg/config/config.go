package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the harvester.
type Config struct {
	// Pools configures credential/proxy loading and health policy.
	Pools PoolsConfig `yaml:"pools"`

	// Storage configures the persistence gateway.
	Storage StorageConfig `yaml:"storage"`

	// Scheduler configures quota windows and pacing.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Sources lists the content sources in descending weight order.
	Sources []SourceConfig `yaml:"sources"`

	// Probe configures optional proxy validation before first use.
	Probe ProbeConfig `yaml:"probe"`

	// Logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// PoolsConfig holds pool file locations and the health/ban policy.
// The thresholds, cooldowns and recovery factors vary across deployments,
// so all of them are configuration with the defaults below.
type PoolsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	ProxiesFile     string `yaml:"proxies_file"`

	// SuccessIncrement is added to health after a successful request.
	SuccessIncrement float64 `yaml:"success_increment"`
	// TransientPenalty is subtracted from health after a retryable
	// network failure.
	TransientPenalty float64 `yaml:"transient_penalty"`
	// MinHealth is the floor below which a credential is banned.
	MinHealth float64 `yaml:"min_health"`
	// AuthBanCooldown applies when a session is invalidated.
	AuthBanCooldown time.Duration `yaml:"auth_ban_cooldown"`
	// EmptyStreakThreshold is the consecutive-empty-result count
	// after which a credential is soft-banned.
	EmptyStreakThreshold int `yaml:"empty_streak_threshold"`
	// EmptyBanCooldown applies to the empty-result soft ban.
	EmptyBanCooldown time.Duration `yaml:"empty_ban_cooldown"`
	// LowHealthBanCooldown is the base cooldown for a low-health ban,
	// scaled up by the recent failure streak.
	LowHealthBanCooldown time.Duration `yaml:"low_health_ban_cooldown"`
	// RecoveryFactor discounts health when a ban expires.
	RecoveryFactor float64 `yaml:"recovery_factor"`
	// RecoveryFloor is the minimum health a recovered credential keeps.
	RecoveryFloor float64 `yaml:"recovery_floor"`
	// ForceRecoverLimit bounds how many entries a forced recovery may
	// unban when a pool is exhausted.
	ForceRecoverLimit int `yaml:"force_recover_limit"`
	// MinIdleInterval is the minimum time since a credential's last
	// use before it may be selected again.
	MinIdleInterval time.Duration `yaml:"min_idle_interval"`
	// ProxyFailureThreshold is the failure count after which a proxy
	// is banned.
	ProxyFailureThreshold int `yaml:"proxy_failure_threshold"`
	// ProxyBanCooldown applies when a proxy is banned for throttling
	// or repeated failures.
	ProxyBanCooldown time.Duration `yaml:"proxy_ban_cooldown"`
}

// StorageConfig holds persistence store parameters.
type StorageConfig struct {
	// DBPath is the SQLite database file; required.
	DBPath string `yaml:"db_path"`
	// StatsPath is the bbolt file holding cumulative run statistics.
	StatsPath string `yaml:"stats_path"`
	// ReportDir receives daily report snapshots.
	ReportDir string `yaml:"report_dir"`
	// BusyTimeout is the SQLite busy_timeout pragma.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SchedulerConfig holds quota and pacing parameters.
type SchedulerConfig struct {
	// WindowLength is the pacing window; one cycle is paced to this
	// duration. An hour in production, shorter in tests.
	WindowLength time.Duration `yaml:"window_length"`
	// Concurrency bounds simultaneous retrieval calls per source.
	Concurrency int `yaml:"concurrency"`
	// QuotaMetThreshold is the achieved/target fraction counted as a
	// met window.
	QuotaMetThreshold float64 `yaml:"quota_met_threshold"`
}

// SourceConfig describes one content source.
type SourceConfig struct {
	Name string `yaml:"name"`
	// Code is the integer source id of the archival schema.
	Code int `yaml:"code"`
	// Weight orders sources within a cycle, highest first.
	Weight float64 `yaml:"weight"`
	// DailyTarget is the number of persisted items owed per day;
	// the hourly target is DailyTarget/24.
	DailyTarget int `yaml:"daily_target"`
	// Labels is the query/label set the source fans a batch across.
	Labels []string `yaml:"labels"`
	// Endpoint is the JSON feed URL the built-in HTTP retriever
	// queries for this source.
	Endpoint string `yaml:"endpoint"`
}

// ProbeConfig configures the proxy validation probe.
type ProbeConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns a Config with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Pools: PoolsConfig{
			CredentialsFile:       "accounts.txt",
			ProxiesFile:           "proxies.txt",
			SuccessIncrement:      0.02,
			TransientPenalty:      0.05,
			MinHealth:             0.2,
			AuthBanCooldown:       2 * time.Hour,
			EmptyStreakThreshold:  5,
			EmptyBanCooldown:      time.Hour,
			LowHealthBanCooldown:  time.Hour,
			RecoveryFactor:        0.8,
			RecoveryFloor:         0.5,
			ForceRecoverLimit:     5,
			MinIdleInterval:       5 * time.Minute,
			ProxyFailureThreshold: 3,
			ProxyBanCooldown:      30 * time.Minute,
		},
		Storage: StorageConfig{
			DBPath:      "harvester.db",
			StatsPath:   "harvester-stats.db",
			ReportDir:   "reports",
			BusyTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			WindowLength:      time.Hour,
			Concurrency:       5,
			QuotaMetThreshold: 0.8,
		},
		Probe: ProbeConfig{
			Enabled: false,
			URL:     "https://api.ipify.org?format=json",
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile merges a YAML file into the config.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil // no config file, not an error
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func findConfigFile() string {
	locations := []string{
		"harvester.yaml",
		"harvester.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "harvester", "config.yaml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// LoadFromEnv merges HARVESTER_* environment variables into the config.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("HARVESTER_CREDENTIALS_FILE"); v != "" {
		c.Pools.CredentialsFile = v
	}
	if v := os.Getenv("HARVESTER_PROXIES_FILE"); v != "" {
		c.Pools.ProxiesFile = v
	}
	if v := os.Getenv("HARVESTER_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("HARVESTER_STATS_PATH"); v != "" {
		c.Storage.StatsPath = v
	}
	if v := os.Getenv("HARVESTER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HARVESTER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scheduler.Concurrency = n
		}
	}
	if v := os.Getenv("HARVESTER_PROBE_ENABLED"); v != "" {
		c.Probe.Enabled = strings.EqualFold(v, "true")
	}
}

// Validate checks the configuration. Any error here is fatal at
// startup: the process must not run with a broken pool or store setup.
func (c *Config) Validate() error {
	var errs []error

	if c.Pools.CredentialsFile == "" {
		errs = append(errs, errors.New("credentials file is required"))
	}
	if c.Pools.ProxiesFile == "" {
		errs = append(errs, errors.New("proxies file is required"))
	}
	if c.Pools.SuccessIncrement <= 0 || c.Pools.SuccessIncrement > 1 {
		errs = append(errs, errors.New("success increment must be in (0,1]"))
	}
	if c.Pools.MinHealth < 0 || c.Pools.MinHealth >= 1 {
		errs = append(errs, errors.New("min health must be in [0,1)"))
	}
	if c.Pools.RecoveryFactor <= 0 || c.Pools.RecoveryFactor > 1 {
		errs = append(errs, errors.New("recovery factor must be in (0,1]"))
	}
	if c.Pools.EmptyStreakThreshold <= 0 {
		errs = append(errs, errors.New("empty streak threshold must be positive"))
	}
	if c.Pools.ForceRecoverLimit <= 0 {
		errs = append(errs, errors.New("force recover limit must be positive"))
	}

	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage db path is required"))
	}

	if c.Scheduler.WindowLength <= 0 {
		errs = append(errs, errors.New("window length must be positive"))
	}
	if c.Scheduler.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Scheduler.QuotaMetThreshold <= 0 || c.Scheduler.QuotaMetThreshold > 1 {
		errs = append(errs, errors.New("quota met threshold must be in (0,1]"))
	}

	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, errors.New("source name is required"))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate source %q", s.Name))
		}
		seen[s.Name] = true
		if s.DailyTarget < 0 {
			errs = append(errs, fmt.Errorf("source %q: daily target cannot be negative", s.Name))
		}
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Load builds the configuration from all sources with precedence
// env > .env file > config file > defaults.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
