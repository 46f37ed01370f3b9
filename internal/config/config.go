// Package config handles loading and validating nab configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/darshan-rambhia/nab/internal/alerter"
	"github.com/darshan-rambhia/nab/internal/notify"
	"github.com/darshan-rambhia/nab/internal/store"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrConfigFileNotFound is returned by Load when the specified config file does not exist.
var ErrConfigFileNotFound = errors.New("config file not found")

// Config is the top-level nab configuration.
type Config struct {
	ServerName      string               `yaml:"server_name"` // backup server hostname in the store
	Listen          string               `yaml:"listen"`
	DBPath          string               `yaml:"db_path"`
	LogLevel        string               `yaml:"log_level"`
	LogFormat       string               `yaml:"log_format"`
	RsyncPath       string               `yaml:"rsync_path"`
	TransferTimeout Duration             `yaml:"transfer_timeout"`
	RsyncIOTimeout  Duration             `yaml:"rsync_io_timeout"`
	UsageInterval   Duration             `yaml:"usage_interval"`   // storage sampling, 0 disables
	WorkerPoolSize  int                  `yaml:"worker_pool_size"` // concurrent storage queries
	Scheduler       SchedulerConfig      `yaml:"scheduler"`
	Alerts          AlertsConfig         `yaml:"alerts"`
	Retention       RetentionConfig      `yaml:"retention"`
	Notifications   []NotificationConfig `yaml:"notifications"`
	Breaker         BreakerConfig        `yaml:"breaker"`
}

// SchedulerConfig controls the backup loop.
type SchedulerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Interval       Duration `yaml:"interval"`
	BackupInterval Duration `yaml:"backup_interval"`
}

// AlertsConfig controls the alert loop and per-type settings.
type AlertsConfig struct {
	Interval      Duration     `yaml:"interval"`
	BackupOverdue *AlertConfig `yaml:"backup_overdue,omitempty"`
	BackupFailed  *AlertConfig `yaml:"backup_failed,omitempty"`
}

// AlertConfig overrides one alert type. Empty fields keep the defaults.
type AlertConfig struct {
	Severity string   `yaml:"severity"`
	Cooldown Duration `yaml:"cooldown"`
}

// RetentionConfig sets how long usage samples and alert log rows are kept.
type RetentionConfig struct {
	HostUsage    Duration `yaml:"host_usage"`
	StorageUsage Duration `yaml:"storage_usage"`
	AlertLog     Duration `yaml:"alert_log"`
}

// NotificationConfig describes a notification target.
type NotificationConfig struct {
	Type    string            `yaml:"type"` // "ntfy" or "webhook"
	URL     string            `yaml:"url"`
	Topic   string            `yaml:"topic,omitempty"`   // ntfy only
	Token   string            `yaml:"token,omitempty"`   // ntfy only
	Method  string            `yaml:"method,omitempty"`  // webhook only
	Headers map[string]string `yaml:"headers,omitempty"` // webhook only
}

// BreakerConfig tunes the circuit breaker wrapped around every provider.
type BreakerConfig struct {
	FailureThreshold uint32   `yaml:"failure_threshold"`
	Timeout          Duration `yaml:"timeout"`
	Interval         Duration `yaml:"interval"`
}

// Duration wraps time.Duration with YAML string parsing support.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads configuration from a YAML file, then applies NAB_* environment
// overrides. An empty path uses defaults and the environment only. A missing
// file yields ErrConfigFileNotFound.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return fmt.Errorf("server_name is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.RsyncPath == "" {
		return fmt.Errorf("rsync_path is required")
	}
	for i, n := range c.Notifications {
		switch n.Type {
		case "ntfy":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for ntfy", i)
			}
			if n.Topic == "" {
				return fmt.Errorf("notifications[%d]: topic is required for ntfy", i)
			}
		case "webhook":
			if n.URL == "" {
				return fmt.Errorf("notifications[%d]: url is required for webhook", i)
			}
		default:
			return fmt.Errorf("notifications[%d]: unknown type %q (expected ntfy or webhook)", i, n.Type)
		}
		if _, err := url.Parse(n.URL); err != nil {
			return fmt.Errorf("notifications[%d]: invalid url: %w", i, err)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("log_format must be one of: text, json")
	}
	if c.TransferTimeout.Duration < 0 {
		return fmt.Errorf("transfer_timeout must be >= 0")
	}
	if c.RsyncIOTimeout.Duration < 0 {
		return fmt.Errorf("rsync_io_timeout must be >= 0")
	}
	if c.UsageInterval.Duration < 0 {
		return fmt.Errorf("usage_interval must be >= 0")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1")
	}
	if c.Scheduler.Interval.Duration <= 0 {
		return fmt.Errorf("scheduler.interval must be > 0")
	}
	if c.Scheduler.BackupInterval.Duration <= 0 {
		return fmt.Errorf("scheduler.backup_interval must be > 0")
	}
	if c.Alerts.Interval.Duration <= 0 {
		return fmt.Errorf("alerts.interval must be > 0")
	}
	for name, a := range map[string]*AlertConfig{
		"backup_overdue": c.Alerts.BackupOverdue,
		"backup_failed":  c.Alerts.BackupFailed,
	} {
		if a == nil {
			continue
		}
		switch a.Severity {
		case "", "info", "warning", "critical":
		default:
			return fmt.Errorf("alerts.%s: severity must be one of: info, warning, critical", name)
		}
		if a.Cooldown.Duration < 0 {
			return fmt.Errorf("alerts.%s: cooldown must be >= 0", name)
		}
	}
	if c.Breaker.Timeout.Duration < 0 || c.Breaker.Interval.Duration < 0 {
		return fmt.Errorf("breaker: timeout and interval must be >= 0")
	}
	return nil
}

func defaults() *Config {
	hostname, _ := os.Hostname()
	ret := store.DefaultRetention()
	br := notify.DefaultBreakerConfig()
	return &Config{
		ServerName:      hostname,
		Listen:          ":3900",
		DBPath:          "/var/lib/nab/nab.db",
		LogLevel:        "info",
		LogFormat:       "text",
		RsyncPath:       "rsync",
		TransferTimeout: Duration{12 * time.Hour},
		RsyncIOTimeout:  Duration{10 * time.Minute},
		UsageInterval:   Duration{time.Hour},
		WorkerPoolSize:  4,
		Scheduler: SchedulerConfig{
			Enabled:        true,
			Interval:       Duration{time.Minute},
			BackupInterval: Duration{24 * time.Hour},
		},
		Alerts: AlertsConfig{Interval: Duration{5 * time.Minute}},
		Retention: RetentionConfig{
			HostUsage:    Duration{ret.HostUsage},
			StorageUsage: Duration{ret.StorageUsage},
			AlertLog:     Duration{ret.AlertLog},
		},
		Breaker: BreakerConfig{
			FailureThreshold: br.FailureThreshold,
			Timeout:          Duration{br.Timeout},
			Interval:         Duration{br.Interval},
		},
	}
}

// AlerterConfig returns the alerter settings with overrides applied.
func (c *Config) AlerterConfig() alerter.AlertConfig {
	out := alerter.DefaultAlertConfig()
	apply := func(dst *alerter.SimpleAlert, src *AlertConfig) {
		if src == nil {
			return
		}
		if src.Severity != "" {
			dst.Severity = src.Severity
		}
		if src.Cooldown.Duration > 0 {
			dst.Cooldown = src.Cooldown.Duration
		}
	}
	apply(out.BackupOverdue, c.Alerts.BackupOverdue)
	apply(out.BackupFailed, c.Alerts.BackupFailed)
	return out
}

// StoreRetention converts the retention section for store.NewPruner.
func (c *Config) StoreRetention() store.RetentionConfig {
	return store.RetentionConfig{
		HostUsage:    c.Retention.HostUsage.Duration,
		StorageUsage: c.Retention.StorageUsage.Duration,
		AlertLog:     c.Retention.AlertLog.Duration,
	}
}

// Providers builds the notification providers, each behind a circuit breaker.
func (c *Config) Providers() []notify.Provider {
	br := notify.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		Timeout:          c.Breaker.Timeout.Duration,
		Interval:         c.Breaker.Interval.Duration,
	}
	var out []notify.Provider
	for _, n := range c.Notifications {
		var p notify.Provider
		switch n.Type {
		case "ntfy":
			p = notify.NewNtfy(n.URL, n.Topic, n.Token)
		case "webhook":
			p = notify.NewWebhook(n.URL, n.Method, c.ServerName, n.Headers)
		default:
			continue
		}
		out = append(out, notify.WithBreaker(p, br))
	}
	return out
}

// expandEnvVars replaces ${VAR_NAME} placeholders in raw YAML with the
// corresponding environment variable values. Unset variables are replaced
// with an empty string, which will then fail validation with a clear error.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		key := string(match[2 : len(match)-1]) // strip ${ and }
		return []byte(os.Getenv(key))
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NAB_SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := os.Getenv("NAB_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("NAB_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NAB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NAB_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("NAB_RSYNC_PATH"); v != "" {
		cfg.RsyncPath = v
	}
	if v := os.Getenv("NAB_TRANSFER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TransferTimeout = Duration{d}
		}
	}
	if v := os.Getenv("NAB_SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = b
		}
	}

	// Single ntfy target from env vars (only if no YAML notifications configured).
	if len(cfg.Notifications) == 0 {
		if ntfyURL := os.Getenv("NAB_NTFY_URL"); ntfyURL != "" {
			topic := os.Getenv("NAB_NTFY_TOPIC")
			if topic == "" {
				topic = "nab-alerts"
			}
			cfg.Notifications = append(cfg.Notifications, NotificationConfig{
				Type:  "ntfy",
				URL:   ntfyURL,
				Topic: topic,
				Token: os.Getenv("NAB_NTFY_TOKEN"),
			})
		}
	}
}
