package templates

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1099511627776, "1.0 TB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.input))
	}
}

func TestFormatPct(t *testing.T) {
	assert.Equal(t, "42%", FormatPct(42))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "30s", FormatDuration(30*time.Second))
	assert.Equal(t, "5m 30s", FormatDuration(5*time.Minute+30*time.Second))
	assert.Equal(t, "2h 15m", FormatDuration(2*time.Hour+15*time.Minute))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(-d); return &v }

	assert.Equal(t, "never", FormatAge(nil, now))
	assert.Equal(t, "30m", FormatAge(at(30*time.Minute), now))
	assert.Equal(t, "5h", FormatAge(at(5*time.Hour), now))
	assert.Equal(t, "3d", FormatAge(at(75*time.Hour), now))
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-15 10:30", FormatTime(&ts))
	assert.Equal(t, "--", FormatTime(nil))
}

func TestRunStateClass(t *testing.T) {
	assert.Equal(t, "status-ok", RunStateClass(model.StateFinalized))
	assert.Equal(t, "status-critical", RunStateClass(model.StateFailed))
	assert.Equal(t, "status-warning", RunStateClass(model.StateRefused))
	assert.Equal(t, "status-running", RunStateClass(model.StateTransferring))
	assert.Equal(t, "TRANSFERRING", RunStateLabel(model.StateTransferring))
}

func TestBackupOutcome(t *testing.T) {
	pid := 42
	loc := "2026-01-15_103000daily"
	tests := []struct {
		name  string
		b     *model.Backup
		label string
		class string
	}{
		{"none", nil, "NONE", "status-warning"},
		{"running", &model.Backup{BackupPID: &pid}, "RUNNING", "status-running"},
		{"unknown", &model.Backup{}, "UNKNOWN", "status-warning"},
		{"failed", &model.Backup{Successful: model.Ptr(false)}, "FAILED", "status-critical"},
		{"no snapshot", &model.Backup{Successful: model.Ptr(true)}, "NO SNAPSHOT", "status-warning"},
		{"ok", &model.Backup{Successful: model.Ptr(true), SnapshotLocation: &loc}, "OK", "status-ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.label, BackupOutcomeLabel(tt.b))
			assert.Equal(t, tt.class, BackupOutcomeClass(tt.b))
		})
	}
}

func TestProgressBarWidth(t *testing.T) {
	assert.Equal(t, 50, ProgressBarWidth(50))
	assert.Equal(t, 100, ProgressBarWidth(150))
	assert.Equal(t, 0, ProgressBarWidth(-10))
}

func TestProgressBarClass(t *testing.T) {
	assert.Equal(t, "bar-ok", ProgressBarClass(50))
	assert.Equal(t, "bar-warning", ProgressBarClass(80))
	assert.Equal(t, "bar-critical", ProgressBarClass(95))
}

func TestRunDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	assert.Equal(t, "1m 30s", RunDuration(&model.Run{Started: start, Finished: &end}, start.Add(time.Hour)))
	assert.Equal(t, "10s", RunDuration(&model.Run{Started: start}, start.Add(10*time.Second)))
}

func TestSortedStorageIDs(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 7}, SortedStorageIDs(map[int64]int{7: 10, 1: 20, 2: 30}))
}

func TestOldestPoll(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "never", OldestPoll(nil, now))
	assert.Equal(t, "60s ago", OldestPoll(map[string]time.Time{
		"scheduler": now.Add(-10 * time.Second),
		"alerter":   now.Add(-60 * time.Second),
	}, now))
}

func TestDerefs(t *testing.T) {
	assert.Equal(t, "--", ExitCodeDisplay(nil))
	assert.Equal(t, "24", ExitCodeDisplay(model.Ptr(24)))
	assert.Equal(t, "", StringDeref(nil))
	assert.Equal(t, "x", StringDeref(model.Ptr("x")))
	assert.Equal(t, 0, IntDeref(nil))
	assert.Equal(t, 3, IntDeref(model.Ptr(3)))
}

func TestStatusPage(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	end := now.Add(-time.Hour)
	loc := "2026-01-15_110000daily"
	ok := &model.Backup{StartTime: &end, EndTime: &end, Successful: model.Ptr(true), SnapshotLocation: &loc}

	d := StatusData{
		Server: "backup<1>",
		Now:    now,
		Hosts: []HostRow{
			{Host: model.Host{Hostname: "web1", Active: true}, Last: ok, LastSuccess: ok},
			{Host: model.Host{Hostname: "db1"}},
		},
		Alerts: []model.Alert{{Timestamp: now, AlertType: "backup_failed", Host: "db1", Message: "rsync exited with code 12", Severity: "critical"}},
		Cache: cache.CacheSnapshot{
			Active:       []*model.Run{{Host: "mail1", State: model.StateTransferring, Started: now.Add(-time.Minute)}},
			StorageUsage: map[int64]int{1: 82},
			LastPoll:     map[string]time.Time{"scheduler": now},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, StatusPage(d).Render(context.Background(), &buf))
	html := buf.String()

	assert.Contains(t, html, "backup&lt;1&gt;", "server name is escaped")
	assert.NotContains(t, html, "backup<1>")
	assert.Contains(t, html, "web1")
	assert.Contains(t, html, `class="status-ok">OK<`)
	assert.Contains(t, html, "NONE")
	assert.Contains(t, html, "TRANSFERRING")
	assert.Contains(t, html, "bar-warning")
	assert.Contains(t, html, "82%")
	assert.Contains(t, html, "rsync exited with code 12")
}

func TestRunsTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunsTable(nil, time.Now(), "Running").Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "None")
}

func FuzzFormatBytes(f *testing.F) {
	f.Add(int64(0))
	f.Add(int64(1023))
	f.Add(int64(1 << 40))
	f.Add(int64(-5))
	f.Add(int64(1<<63 - 1))
	f.Fuzz(func(t *testing.T, b int64) {
		s := FormatBytes(b)
		assert.NotEmpty(t, s)
		assert.True(t, strings.HasSuffix(s, "B"), s)
	})
}

func BenchmarkStatusPage(b *testing.B) {
	now := time.Now()
	d := StatusData{Server: "backup1", Now: now}
	for i := range 50 {
		d.Hosts = append(d.Hosts, HostRow{Host: model.Host{Hostname: fmt.Sprintf("host%02d", i), Active: true}})
	}
	var buf bytes.Buffer
	for b.Loop() {
		buf.Reset()
		if err := StatusPage(d).Render(context.Background(), &buf); err != nil {
			b.Fatal(err)
		}
	}
}
