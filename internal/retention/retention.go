// Package retention picks the generation of the next backup and trims
// snapshots beyond the configured history depth.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/darshan-rambhia/nab/internal/hostconfig"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/storage"
)

type tier struct {
	gen    model.Generation
	period func(time.Time) string
}

// tiers are evaluated in order; daily is the fallback.
var tiers = []tier{
	{model.Monthly, monthKey},
	{model.Weekly, weekKey},
}

// SelectGeneration returns the generation the next backup of a host should
// have. A monthly or weekly tier with a non-zero history depth is due when no
// successful backup of that generation started in the current period. history
// is the host's backup records; unsuccessful ones are ignored.
func SelectGeneration(cfg hostconfig.Config, history []model.Backup, now time.Time) model.Generation {
	for _, t := range tiers {
		if cfg.History(t.gen) <= 0 {
			continue
		}
		if !doneInPeriod(history, t, now) {
			return t.gen
		}
	}
	return model.Daily
}

func doneInPeriod(history []model.Backup, t tier, now time.Time) bool {
	current := t.period(now)
	for _, b := range history {
		if b.Generation != t.gen || b.Successful == nil || !*b.Successful || b.StartTime == nil {
			continue
		}
		if t.period(b.StartTime.In(now.Location())) == current {
			return true
		}
	}
	return false
}

// monthKey is the calendar month, "2006-01".
func monthKey(t time.Time) string {
	return t.Format("2006-01")
}

// weekKey is the year and Sunday-based week number (00-53): days before the
// first Sunday of the year are in week 00.
func weekKey(t time.Time) string {
	week := (t.YearDay() + 6 - int(t.Weekday())) / 7
	return fmt.Sprintf("%d-%02d", t.Year(), week)
}

// Snapshots is the part of a storage backend Prune needs.
type Snapshots interface {
	ListSnapshots(ctx context.Context, host string) ([]string, error)
	DestroySnapshot(ctx context.Context, host, name string) error
}

// Prune destroys the oldest snapshots of each generation beyond the history
// depth configured for it and returns the names it removed. A generation with
// a depth of zero is left untouched. Names that are not snapshot names are
// ignored.
func Prune(ctx context.Context, snaps Snapshots, host string, cfg hostconfig.Config) ([]string, error) {
	names, err := snaps.ListSnapshots(ctx, host)
	if err != nil {
		return nil, err
	}

	byGen := map[model.Generation][]string{}
	for _, name := range names {
		_, gen, err := storage.ParseSnapshotName(name)
		if err != nil {
			continue
		}
		byGen[gen] = append(byGen[gen], name)
	}

	var removed []string
	for _, gen := range model.Generations {
		keep := cfg.History(gen)
		list := byGen[gen]
		if keep <= 0 || len(list) <= keep {
			continue
		}
		sort.Strings(list)
		for _, name := range list[:len(list)-keep] {
			if err := snaps.DestroySnapshot(ctx, host, name); err != nil {
				return removed, fmt.Errorf("pruning %s of %s: %w", name, host, err)
			}
			slog.Info("snapshot pruned", "host", host, "snapshot", name, "generation", gen)
			removed = append(removed, name)
		}
	}
	return removed, nil
}
