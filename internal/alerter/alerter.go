// Package alerter raises notifications for hosts whose backups are overdue or
// failing.
package alerter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/hostconfig"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/notify"
	"github.com/darshan-rambhia/nab/internal/store"
	"github.com/darshan-rambhia/nab/internal/transfer"
)

// Alert types.
const (
	TypeBackupOverdue = "backup_overdue"
	TypeBackupFailed  = "backup_failed"
)

// AlertConfig holds configuration for alert rules.
type AlertConfig struct {
	BackupOverdue *SimpleAlert `yaml:"backup_overdue"`
	BackupFailed  *SimpleAlert `yaml:"backup_failed"`
}

// SimpleAlert sets the severity and repeat interval of one alert type.
type SimpleAlert struct {
	Severity string        `yaml:"severity"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultAlertConfig returns sensible alert defaults.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		BackupOverdue: &SimpleAlert{Severity: "warning", Cooldown: 6 * time.Hour},
		BackupFailed:  &SimpleAlert{Severity: "critical", Cooldown: 1 * time.Hour},
	}
}

// Alerter evaluates rules and sends notifications.
type Alerter struct {
	cache     *cache.Cache
	store     *store.Store
	serverID  int64
	providers []notify.Provider
	config    AlertConfig
	interval  time.Duration
	now       func() time.Time

	mu sync.Mutex
	// Deduplication: maps alert key → last fired time
	lastFired map[string]time.Time
	// Hosts currently reported overdue, so recovery can be announced once.
	overdue map[string]bool
}

// NewAlerter creates a new alerter for the hosts of backup server serverID,
// evaluating every interval (5m when zero).
func NewAlerter(c *cache.Cache, s *store.Store, serverID int64, providers []notify.Provider, cfg AlertConfig, interval time.Duration) *Alerter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Alerter{
		cache:     c,
		store:     s,
		serverID:  serverID,
		providers: providers,
		config:    cfg,
		interval:  interval,
		now:       time.Now,
		lastFired: make(map[string]time.Time),
		overdue:   make(map[string]bool),
	}
}

// Run starts the alerter evaluation loop.
func (a *Alerter) Run(ctx context.Context) error {
	slog.Info("alerter started", "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("alerter stopped")
			return ctx.Err()
		case <-ticker.C:
			a.evaluate(ctx)
		}
	}
}

func (a *Alerter) cleanup(now time.Time) {
	const maxAge = 48 * time.Hour
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, t := range a.lastFired {
		if now.Sub(t) > maxAge {
			delete(a.lastFired, key)
		}
	}
}

func (a *Alerter) evaluate(ctx context.Context) {
	now := a.now()
	a.cleanup(now)
	if a.cache != nil {
		a.cache.SetLastPoll("alerter", now)
	}
	if a.config.BackupOverdue == nil {
		return
	}

	hosts, err := a.store.ListHosts(a.serverID)
	if err != nil {
		slog.Error("listing hosts for alerts", "error", err)
		return
	}
	for _, h := range hosts {
		if !h.Active {
			continue
		}
		cfg, err := hostconfig.Resolve(a.store, h.ID)
		if err != nil {
			slog.Error("resolving host config", "host", h.Hostname, "error", err)
			continue
		}
		if cfg.FailureWarnAfter <= 0 {
			continue
		}
		a.checkOverdue(ctx, now, h, cfg)
	}
}

func (a *Alerter) checkOverdue(ctx context.Context, now time.Time, h model.Host, cfg hostconfig.Config) {
	key := TypeBackupOverdue + ":" + h.Hostname
	var message string

	last, err := a.store.LastSuccessfulBackup(h.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		message = fmt.Sprintf("%s has never been backed up successfully", h.Hostname)
	case err != nil:
		slog.Error("reading last backup", "host", h.Hostname, "error", err)
		return
	default:
		at := last.EndTime
		if at == nil {
			at = last.StartTime
		}
		if at != nil && now.Sub(*at) <= cfg.FailureWarnAfter {
			a.resolve(ctx, now, key, h, cfg)
			return
		}
		if at != nil {
			message = fmt.Sprintf("No successful backup of %s for %s", h.Hostname, now.Sub(*at).Truncate(time.Minute))
		} else {
			message = fmt.Sprintf("Last successful backup of %s has no timestamp", h.Hostname)
		}
	}

	a.mu.Lock()
	a.overdue[key] = true
	a.mu.Unlock()
	a.fire(ctx, now, key, a.config.BackupOverdue.Cooldown, model.Notification{
		AlertType: TypeBackupOverdue,
		Severity:  a.config.BackupOverdue.Severity,
		Title:     fmt.Sprintf("Backup overdue: %s", h.Hostname),
		Message:   message,
		Host:      h.Hostname,
		Timestamp: now,
		Metadata:  metadata(cfg, map[string]string{"warn_after": cfg.FailureWarnAfter.String()}),
	})
}

// resolve announces that a previously overdue host is current again.
func (a *Alerter) resolve(ctx context.Context, now time.Time, key string, h model.Host, cfg hostconfig.Config) {
	a.mu.Lock()
	was := a.overdue[key]
	delete(a.overdue, key)
	delete(a.lastFired, key)
	a.mu.Unlock()
	if !was {
		return
	}
	a.fire(ctx, now, key+":resolved", 0, model.Notification{
		AlertType: TypeBackupOverdue,
		Severity:  "info",
		Title:     fmt.Sprintf("Backups current: %s", h.Hostname),
		Message:   fmt.Sprintf("%s has a recent successful backup again", h.Hostname),
		Host:      h.Hostname,
		Resolved:  true,
		Timestamp: now,
		Metadata:  metadata(cfg, nil),
	})
}

// BackupFailed reports a failed harness run.
func (a *Alerter) BackupFailed(ctx context.Context, h model.Host, cfg hostconfig.Config, err error) {
	if a.config.BackupFailed == nil {
		return
	}
	now := a.now()
	extra := map[string]string{}
	var f *transfer.Failure
	if errors.As(err, &f) && f.ExitCode >= 0 {
		extra["exit_code"] = fmt.Sprint(f.ExitCode)
	}
	a.fire(ctx, now, TypeBackupFailed+":"+h.Hostname, a.config.BackupFailed.Cooldown, model.Notification{
		AlertType: TypeBackupFailed,
		Severity:  a.config.BackupFailed.Severity,
		Title:     fmt.Sprintf("Backup failed: %s", h.Hostname),
		Message:   err.Error(),
		Host:      h.Hostname,
		Timestamp: now,
		Metadata:  metadata(cfg, extra),
	})
}

func metadata(cfg hostconfig.Config, extra map[string]string) map[string]string {
	m := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		m[k] = v
	}
	if cfg.AlertsMailAddress != "" {
		m[notify.MailMetadataKey] = cfg.AlertsMailAddress
	}
	return m
}

func (a *Alerter) fire(ctx context.Context, now time.Time, key string, cooldown time.Duration, notif model.Notification) {
	a.mu.Lock()
	if last, ok := a.lastFired[key]; ok && now.Sub(last) < cooldown {
		a.mu.Unlock()
		return // still in cooldown
	}
	a.lastFired[key] = now
	a.mu.Unlock()

	if err := a.store.InsertAlert(now.Unix(), notif.AlertType, notif.Host, notif.Message, notif.Severity); err != nil {
		slog.Error("storing alert", "type", notif.AlertType, "error", err)
	}

	for _, p := range a.providers {
		if err := p.Send(ctx, notif); err != nil {
			slog.Error("sending notification", "provider", p.Name(), "alert", notif.AlertType, "error", err)
		}
	}

	slog.Warn("alert fired",
		"type", notif.AlertType,
		"severity", notif.Severity,
		"host", notif.Host,
		"resolved", notif.Resolved,
		"title", notif.Title,
	)
}

// FormatSeverity returns an uppercase severity string for templates.
func FormatSeverity(s string) string {
	return strings.ToUpper(s)
}
