// Package model defines all shared domain types for nab.
package model

import (
	"fmt"
	"time"
)

// Generation is the retention tier of a backup.
type Generation string

const (
	Daily   Generation = "daily"
	Weekly  Generation = "weekly"
	Monthly Generation = "monthly"
)

// Generations lists every tier, longest period first.
var Generations = []Generation{Monthly, Weekly, Daily}

// ParseGeneration validates a generation name.
func ParseGeneration(s string) (Generation, error) {
	switch g := Generation(s); g {
	case Daily, Weekly, Monthly:
		return g, nil
	default:
		return "", fmt.Errorf("unknown generation %q", s)
	}
}

// Metadata is the singleton installation record.
type Metadata struct {
	ID              int64 `json:"id"`
	DatabaseVersion int   `json:"database_version"`
}

// BackupServer is a machine that stores and runs backups.
type BackupServer struct {
	ID             int64  `json:"id"`
	Hostname       string `json:"hostname"`
	SchedulerSlots int    `json:"scheduler_slots"`
	SSHSupportsY   bool   `json:"ssh_supports_y"` // older ssh builds lack "-y"
}

// Storage is one storage location on a BackupServer. The meaning of Args
// depends on Method.
type Storage struct {
	ID             int64      `json:"id"`
	BackupServerID int64      `json:"backup_server_id"`
	Method         string     `json:"method"` // "hardlinks", "zfs"
	Args           [5]*string `json:"args"`
}

// Arg returns argument n (1-based) or "" when unset.
func (s Storage) Arg(n int) string {
	if n < 1 || n > len(s.Args) || s.Args[n-1] == nil {
		return ""
	}
	return *s.Args[n-1]
}

// TimeOfDay is a wall-clock time without a date, stored as seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// Of returns the time of day of ts in its own location.
func Of(ts time.Time) TimeOfDay {
	return TimeOfDay(ts.Hour()*3600 + ts.Minute()*60 + ts.Second())
}

// Host is a backed-up machine.
type Host struct {
	ID                int64      `json:"id"`
	BackupServerID    int64      `json:"backup_server_id"`
	Hostname          string     `json:"hostname"`
	IPAddress         *string    `json:"ip_address,omitempty"`
	Active            bool       `json:"active"`
	NextBackup        *time.Time `json:"next_backup,omitempty"`
	WindowStart       *TimeOfDay `json:"window_start,omitempty"`
	WindowEnd         *TimeOfDay `json:"window_end,omitempty"`
	LastRsyncChecksum *time.Time `json:"last_rsync_checksum,omitempty"`
}

// Address is the name rsync and ssh should connect to.
func (h Host) Address() string {
	if h.IPAddress != nil && *h.IPAddress != "" {
		return *h.IPAddress
	}
	return h.Hostname
}

// InWindow reports whether now falls inside the host's daily backup window.
// A window that is unset on either end is always open; a window whose end is
// before its start wraps past midnight.
func (h Host) InWindow(now time.Time) bool {
	if h.WindowStart == nil || h.WindowEnd == nil {
		return true
	}
	start, end, t := *h.WindowStart, *h.WindowEnd, Of(now)
	if start <= end {
		return t >= start && t <= end
	}
	return t >= start || t <= end
}

// HostConfig holds configurable values for a host. HostID nil marks the
// global default record. Every value is nullable; nil means "inherit".
type HostConfig struct {
	ID                     int64          `json:"id"`
	HostID                 *int64         `json:"host_id,omitempty"`
	AlertsMailAddress      *string        `json:"alerts_mail_address,omitempty"`
	FailureWarnAfter       *time.Duration `json:"failure_warn_after,omitempty"`
	UseGlobalFilters       *bool          `json:"use_global_filters,omitempty"`
	CheckConnectivity      *bool          `json:"check_connectivity,omitempty"`
	PingMaxMS              *int           `json:"ping_max_ms,omitempty"`
	DailyHistory           *int           `json:"daily_history,omitempty"`
	WeeklyHistory          *int           `json:"weekly_history,omitempty"`
	MonthlyHistory         *int           `json:"monthly_history,omitempty"`
	Priority               *int           `json:"priority,omitempty"`
	RsyncChecksumFrequency *time.Duration `json:"rsync_checksum_frequency,omitempty"`
	RsyncDoCompress        *bool          `json:"rsync_do_compress,omitempty"`
}

// Backup is one execution record.
type Backup struct {
	ID                int64      `json:"id"`
	HostID            int64      `json:"host_id"`
	StorageID         int64      `json:"storage_id"`
	RunID             string     `json:"run_id"`
	Generation        Generation `json:"generation"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	BackupPID         *int       `json:"backup_pid,omitempty"`
	Successful        *bool      `json:"successful,omitempty"`
	WasChecksumRun    bool       `json:"was_checksum_run"`
	HarnessReturnCode *int       `json:"harness_returncode,omitempty"`
	SnapshotLocation  *string    `json:"snapshot_location,omitempty"`
}

// Running reports whether the row still carries an in-flight process id.
func (b Backup) Running() bool { return b.BackupPID != nil }

// FilterRule is one rsync filter rule line. Priority is compared as a string.
type FilterRule struct {
	ID        int64  `json:"id"`
	HostID    *int64 `json:"host_id,omitempty"`
	Priority  string `json:"priority"`
	RsyncRule string `json:"rsync_rule"`
}

// HostUsage is a point-in-time space/runtime sample for a host.
type HostUsage struct {
	ID                      int64          `json:"id"`
	HostID                  int64          `json:"host_id"`
	SampleDate              time.Time      `json:"sample_date"`
	UsedByDataset           *int64         `json:"used_by_dataset,omitempty"`
	UsedBySnapshots         *int64         `json:"used_by_snapshots,omitempty"`
	CompressionRatioPercent *int           `json:"compression_ratio_percent,omitempty"`
	Runtime                 *time.Duration `json:"runtime,omitempty"`
}

// StorageUsage is a point-in-time space sample for a storage location.
type StorageUsage struct {
	ID                int64     `json:"id"`
	StorageID         int64     `json:"storage_id"`
	SampleDate        time.Time `json:"sample_date"`
	TotalBytes        *int64    `json:"total_bytes,omitempty"`
	FreeBytes         *int64    `json:"free_bytes,omitempty"`
	UsedBytes         *int64    `json:"used_bytes,omitempty"`
	UsagePercent      *int      `json:"usage_percent,omitempty"`
	DedupRatioPercent *int      `json:"dedup_ratio_percent,omitempty"`
}

// RunState is a stage of the backup harness.
type RunState string

const (
	StateIdle         RunState = "idle"
	StateGating       RunState = "gating"
	StatePreparing    RunState = "preparing"
	StateTransferring RunState = "transferring"
	StateSnapshotting RunState = "snapshotting"
	StateFinalized    RunState = "finalized"
	StateRefused      RunState = "refused"
	StateFailed       RunState = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s RunState) Terminal() bool {
	return s == StateFinalized || s == StateRefused || s == StateFailed
}

// Run is the in-memory view of one harness invocation.
type Run struct {
	ID         string     `json:"id"`
	Host       string     `json:"host"`
	BackupID   int64      `json:"backup_id,omitempty"`
	Generation Generation `json:"generation,omitempty"`
	State      RunState   `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	Started    time.Time  `json:"started"`
	Finished   *time.Time `json:"finished,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Snapshot   string     `json:"snapshot,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Notification represents a structured alert message.
type Notification struct {
	AlertType string            `json:"alert_type"`
	Severity  string            `json:"severity"` // "info", "warning", "critical"
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Host      string            `json:"host"`
	Resolved  bool              `json:"resolved,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Alert is one entry of the alert log.
type Alert struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	AlertType string    `json:"alert_type"`
	Host      string    `json:"host,omitempty"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
}
