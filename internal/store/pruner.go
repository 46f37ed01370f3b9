package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig defines how long to keep samples in each table. Backup
// records are never pruned.
type RetentionConfig struct {
	HostUsage    time.Duration // default 400d
	StorageUsage time.Duration // default 400d
	AlertLog     time.Duration // default 30d
}

// DefaultRetention returns the default retention periods.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		HostUsage:    400 * 24 * time.Hour,
		StorageUsage: 400 * 24 * time.Hour,
		AlertLog:     30 * 24 * time.Hour,
	}
}

// Pruner periodically removes old samples from the store.
type Pruner struct {
	store     *Store
	retention RetentionConfig
	interval  time.Duration
}

// NewPruner creates a pruner with the given retention config.
func NewPruner(store *Store, retention RetentionConfig) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  1 * time.Hour,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval)

	// Run once at startup
	p.prune(time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune(time.Now())
		}
	}
}

func (p *Pruner) prune(now time.Time) {
	tables := []struct {
		name      string
		column    string
		retention time.Duration
	}{
		{"host_usage", "sample_date", p.retention.HostUsage},
		{"storage_usage", "sample_date", p.retention.StorageUsage},
		{"alert_log", "ts", p.retention.AlertLog},
	}

	for _, t := range tables {
		if t.retention <= 0 {
			continue
		}
		cutoff := now.Add(-t.retention).Unix()
		result, err := p.store.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.name, t.column), cutoff)
		if err != nil {
			slog.Error("pruning failed", "table", t.name, "error", err)
			continue
		}
		rows, _ := result.RowsAffected()
		if rows > 0 {
			slog.Info("pruned old data", "table", t.name, "rows", rows)
		}
	}
}
