// Package liveness clears process ids left on backup records by runs that
// died, and answers whether a host is currently being backed up.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/darshan-rambhia/nab/internal/metrics"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/store"
	"golang.org/x/sys/unix"
)

// Prober checks whether a process exists.
type Prober interface {
	Alive(pid int) (bool, error)
}

// SignalProber sends signal 0, which checks for existence without delivering
// anything. EPERM means the process exists but belongs to someone else.
type SignalProber struct{}

func (SignalProber) Alive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return true, err
	}
}

// Store is the subset of the entity store the controller uses.
type Store interface {
	ListBackups(f store.BackupFilter) ([]model.Backup, error)
	ClearBackupPID(id int64) error
}

// Controller reclaims stale backup process ids.
type Controller struct {
	store  Store
	prober Prober
}

// New returns a controller probing with prober, or SignalProber when nil.
func New(s Store, prober Prober) *Controller {
	if prober == nil {
		prober = SignalProber{}
	}
	return &Controller{store: s, prober: prober}
}

// ReclaimStale clears backup_pid on every record of hostID (all hosts when
// nil) whose process no longer exists, and returns how many were cleared. A
// probe error leaves the record untouched.
func (c *Controller) ReclaimStale(ctx context.Context, hostID *int64) (int, error) {
	f := store.BackupFilter{Running: true}
	if hostID != nil {
		f.HostID = *hostID
	}
	running, err := c.store.ListBackups(f)
	if err != nil {
		return 0, fmt.Errorf("listing running backups: %w", err)
	}

	cleared := 0
	for _, b := range running {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		pid := *b.BackupPID
		alive, err := c.prober.Alive(pid)
		if err != nil {
			slog.Warn("liveness probe failed, treating process as running",
				"backup_id", b.ID, "host_id", b.HostID, "pid", pid, "error", err)
			continue
		}
		if alive {
			continue
		}
		if err := c.store.ClearBackupPID(b.ID); err != nil {
			return cleared, fmt.Errorf("reclaiming backup %d: %w", b.ID, err)
		}
		slog.Info("reclaimed stale backup pid", "backup_id", b.ID, "host_id", b.HostID, "pid", pid)
		metrics.StalePIDsReclaimed.Inc()
		cleared++
	}
	return cleared, nil
}

// IsRunning reclaims stale records of the host and then reports whether any
// record still carries a process id.
func (c *Controller) IsRunning(ctx context.Context, hostID int64) (bool, error) {
	if _, err := c.ReclaimStale(ctx, &hostID); err != nil {
		return false, err
	}
	running, err := c.store.ListBackups(store.BackupFilter{HostID: hostID, Running: true, Limit: 1})
	if err != nil {
		return false, fmt.Errorf("listing running backups: %w", err)
	}
	return len(running) > 0, nil
}
