package alerter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/hostconfig"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/notify"
	"github.com/darshan-rambhia/nab/internal/store"
	"github.com/darshan-rambhia/nab/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testProvider records notifications for assertions.
type testProvider struct {
	sent []model.Notification
	err  error
}

func (p *testProvider) Name() string { return "test" }
func (p *testProvider) Send(_ context.Context, n model.Notification) error {
	p.sent = append(p.sent, n)
	return p.err
}

// Compile-time check that testProvider satisfies notify.Provider.
var _ notify.Provider = (*testProvider)(nil)

type fixture struct {
	store    *store.Store
	host     model.Host
	storage  model.Storage
	alerter  *Alerter
	provider *testProvider
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Init())

	f := &fixture{store: s, provider: &testProvider{}, now: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)}
	bs := model.BackupServer{Hostname: "backup1"}
	require.NoError(t, s.CreateBackupServer(&bs))
	top := "/srv/backups"
	f.storage = model.Storage{BackupServerID: bs.ID, Method: "hardlinks", Args: [5]*string{&top}}
	require.NoError(t, s.CreateStorage(&f.storage))
	f.host = model.Host{BackupServerID: bs.ID, Hostname: "web1", Active: true}
	require.NoError(t, s.CreateHost(&f.host))

	f.alerter = NewAlerter(cache.New(), s, bs.ID, []notify.Provider{f.provider}, DefaultAlertConfig(), 0)
	f.alerter.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) backupAt(t *testing.T, end time.Time) {
	t.Helper()
	b := model.Backup{HostID: f.host.ID, StorageID: f.storage.ID, Generation: model.Daily,
		StartTime: &end, EndTime: &end, Successful: model.Ptr(true)}
	require.NoError(t, f.store.CreateBackup(&b))
}

func TestDefaultAlertConfig(t *testing.T) {
	cfg := DefaultAlertConfig()
	require.NotNil(t, cfg.BackupOverdue)
	require.NotNil(t, cfg.BackupFailed)
	assert.Equal(t, "warning", cfg.BackupOverdue.Severity)
	assert.Equal(t, 6*time.Hour, cfg.BackupOverdue.Cooldown)
	assert.Equal(t, "critical", cfg.BackupFailed.Severity)
	assert.Equal(t, time.Hour, cfg.BackupFailed.Cooldown)
}

func TestNewAlerterDefaultInterval(t *testing.T) {
	a := NewAlerter(nil, nil, 0, nil, DefaultAlertConfig(), 0)
	assert.Equal(t, 5*time.Minute, a.interval)
}

func TestOverdueNeverBackedUp(t *testing.T) {
	f := newFixture(t)
	f.alerter.evaluate(context.Background())

	require.Len(t, f.provider.sent, 1)
	n := f.provider.sent[0]
	assert.Equal(t, TypeBackupOverdue, n.AlertType)
	assert.Equal(t, "warning", n.Severity)
	assert.Equal(t, "web1", n.Host)
	assert.Contains(t, n.Message, "never")

	alerts, err := f.store.RecentAlerts(10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "web1", alerts[0].Host)
}

func TestOverdueOnlyLocalServer(t *testing.T) {
	f := newFixture(t)
	other := model.BackupServer{Hostname: "backup2"}
	require.NoError(t, f.store.CreateBackupServer(&other))
	require.NoError(t, f.store.CreateHost(&model.Host{BackupServerID: other.ID, Hostname: "db9", Active: true}))

	f.alerter.evaluate(context.Background())

	require.Len(t, f.provider.sent, 1)
	assert.Equal(t, "web1", f.provider.sent[0].Host)
}

func TestOverdueRespectsWarnAfter(t *testing.T) {
	f := newFixture(t)
	// global failure_warn_after is three days
	f.backupAt(t, f.now.Add(-48*time.Hour))
	f.alerter.evaluate(context.Background())
	assert.Empty(t, f.provider.sent)

	f.now = f.now.Add(25 * time.Hour)
	f.alerter.evaluate(context.Background())
	require.Len(t, f.provider.sent, 1)
	assert.Contains(t, f.provider.sent[0].Message, "73h0m0s")
}

func TestOverdueCooldown(t *testing.T) {
	f := newFixture(t)
	f.alerter.evaluate(context.Background())
	f.now = f.now.Add(time.Hour)
	f.alerter.evaluate(context.Background())
	assert.Len(t, f.provider.sent, 1, "second evaluation is inside the cooldown")

	f.now = f.now.Add(6 * time.Hour)
	f.alerter.evaluate(context.Background())
	assert.Len(t, f.provider.sent, 2)
}

func TestOverdueResolved(t *testing.T) {
	f := newFixture(t)
	f.alerter.evaluate(context.Background())
	require.Len(t, f.provider.sent, 1)

	f.backupAt(t, f.now)
	f.alerter.evaluate(context.Background())
	require.Len(t, f.provider.sent, 2)
	assert.True(t, f.provider.sent[1].Resolved)
	assert.Equal(t, "info", f.provider.sent[1].Severity)

	f.alerter.evaluate(context.Background())
	assert.Len(t, f.provider.sent, 2, "recovery is announced once")
}

func TestOverdueSkipsInactiveAndDisabled(t *testing.T) {
	f := newFixture(t)
	f.host.Active = false
	require.NoError(t, f.store.UpdateHost(f.host))
	f.alerter.evaluate(context.Background())
	assert.Empty(t, f.provider.sent)

	f.host.Active = true
	require.NoError(t, f.store.UpdateHost(f.host))
	id := f.host.ID
	require.NoError(t, f.store.CreateHostConfig(&model.HostConfig{HostID: &id, FailureWarnAfter: model.Ptr(time.Duration(0))}))
	f.alerter.evaluate(context.Background())
	assert.Empty(t, f.provider.sent)
}

func TestOverdueMailMetadata(t *testing.T) {
	f := newFixture(t)
	id := f.host.ID
	require.NoError(t, f.store.CreateHostConfig(&model.HostConfig{HostID: &id, AlertsMailAddress: model.Ptr("ops@example.com")}))

	f.alerter.evaluate(context.Background())
	require.Len(t, f.provider.sent, 1)
	assert.Equal(t, "ops@example.com", f.provider.sent[0].Metadata[notify.MailMetadataKey])
}

func TestBackupFailed(t *testing.T) {
	f := newFixture(t)
	cfg := hostconfig.Config{AlertsMailAddress: "ops@example.com"}
	err := &transfer.Failure{Host: "web1", ExitCode: 12, Err: errors.New("protocol stream error")}

	f.alerter.BackupFailed(context.Background(), f.host, cfg, err)
	f.alerter.BackupFailed(context.Background(), f.host, cfg, err)

	require.Len(t, f.provider.sent, 1, "repeat failure is inside the cooldown")
	n := f.provider.sent[0]
	assert.Equal(t, TypeBackupFailed, n.AlertType)
	assert.Equal(t, "critical", n.Severity)
	assert.Equal(t, "12", n.Metadata["exit_code"])
	assert.Equal(t, "ops@example.com", n.Metadata[notify.MailMetadataKey])
}

func TestBackupFailedDisabled(t *testing.T) {
	f := newFixture(t)
	f.alerter.config.BackupFailed = nil
	f.alerter.BackupFailed(context.Background(), f.host, hostconfig.Config{}, errors.New("boom"))
	assert.Empty(t, f.provider.sent)
}

func TestProviderErrorStillLogged(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("unreachable")
	f.alerter.evaluate(context.Background())

	alerts, err := f.store.RecentAlerts(10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestCleanupDropsOldKeys(t *testing.T) {
	f := newFixture(t)
	f.alerter.lastFired["old"] = f.now.Add(-72 * time.Hour)
	f.alerter.lastFired["new"] = f.now
	f.alerter.cleanup(f.now)
	assert.NotContains(t, f.alerter.lastFired, "old")
	assert.Contains(t, f.alerter.lastFired, "new")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.alerter.Run(ctx), context.Canceled)
}

func TestFormatSeverity(t *testing.T) {
	assert.Equal(t, "CRITICAL", FormatSeverity("critical"))
}
