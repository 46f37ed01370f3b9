// Package templates renders the nab status page and provides its formatting
// helpers.
package templates

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
)

// FormatBytes formats bytes into human-readable form.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB", "PB", "EB"}
	return fmt.Sprintf("%.1f %s", float64(b)/float64(div), units[exp])
}

// FormatPct formats a 0-100 percentage.
func FormatPct(v int) string {
	return fmt.Sprintf("%d%%", v)
}

// FormatDuration formats a duration into human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatAge formats the time elapsed since t as "Xm", "Xh" or "Xd".
func FormatAge(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	age := now.Sub(*t)
	if age < time.Hour {
		return fmt.Sprintf("%dm", int(age.Minutes()))
	}
	if age < 24*time.Hour {
		return fmt.Sprintf("%dh", int(age.Hours()))
	}
	return fmt.Sprintf("%dd", int(age.Hours()/24))
}

// FormatTime formats a timestamp, or "--" when unset.
func FormatTime(t *time.Time) string {
	if t == nil {
		return "--"
	}
	return t.Format("2006-01-02 15:04")
}

// RunStateClass returns a CSS class for a harness state.
func RunStateClass(s model.RunState) string {
	switch s {
	case model.StateFinalized:
		return "status-ok"
	case model.StateFailed:
		return "status-critical"
	case model.StateRefused:
		return "status-warning"
	default:
		return "status-running"
	}
}

// RunStateLabel returns an uppercase label for a harness state.
func RunStateLabel(s model.RunState) string {
	return strings.ToUpper(string(s))
}

// BackupOutcomeLabel summarizes a backup record.
func BackupOutcomeLabel(b *model.Backup) string {
	switch {
	case b == nil:
		return "NONE"
	case b.Running():
		return "RUNNING"
	case b.Successful == nil:
		return "UNKNOWN"
	case !*b.Successful:
		return "FAILED"
	case b.SnapshotLocation == nil:
		return "NO SNAPSHOT"
	default:
		return "OK"
	}
}

// BackupOutcomeClass returns the CSS class matching BackupOutcomeLabel.
func BackupOutcomeClass(b *model.Backup) string {
	switch BackupOutcomeLabel(b) {
	case "OK":
		return "status-ok"
	case "RUNNING":
		return "status-running"
	case "FAILED":
		return "status-critical"
	default:
		return "status-warning"
	}
}

// ProgressBarWidth returns a width percentage clamped to 0-100.
func ProgressBarWidth(pct int) int {
	return min(max(pct, 0), 100)
}

// ProgressBarClass returns CSS class based on usage percentage.
func ProgressBarClass(pct int) string {
	if pct >= 90 {
		return "bar-critical"
	}
	if pct >= 75 {
		return "bar-warning"
	}
	return "bar-ok"
}

// RunDuration returns how long a run took, or has been running.
func RunDuration(r *model.Run, now time.Time) string {
	end := now
	if r.Finished != nil {
		end = *r.Finished
	}
	return FormatDuration(end.Sub(r.Started))
}

// SortedStorageIDs returns the keys of a storage usage map in ascending order.
func SortedStorageIDs(usage map[int64]int) []int64 {
	ids := make([]int64, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OldestPoll returns the time since the least recent loop tick.
func OldestPoll(lastPoll map[string]time.Time, now time.Time) string {
	if len(lastPoll) == 0 {
		return "never"
	}
	var oldest time.Time
	for _, t := range lastPoll {
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return fmt.Sprintf("%ds ago", int(now.Sub(oldest).Seconds()))
}

// ExitCodeDisplay returns an exit code or "--".
func ExitCodeDisplay(c *int) string {
	if c == nil {
		return "--"
	}
	return fmt.Sprintf("%d", *c)
}

// StringDeref safely dereferences a *string, returning "" if nil.
func StringDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// IntDeref safely dereferences an *int, returning 0 if nil.
func IntDeref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
