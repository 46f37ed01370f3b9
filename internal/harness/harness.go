// Package harness runs one backup of one host: gating, preparation, the rsync
// transfer, snapshot creation and record finalization.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/collector"
	"github.com/darshan-rambhia/nab/internal/hostconfig"
	"github.com/darshan-rambhia/nab/internal/liveness"
	"github.com/darshan-rambhia/nab/internal/metrics"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/retention"
	"github.com/darshan-rambhia/nab/internal/storage"
	"github.com/darshan-rambhia/nab/internal/store"
	"github.com/darshan-rambhia/nab/internal/transfer"
	"github.com/google/uuid"
)

// Refusal reasons.
const (
	ReasonAlreadyRunning = "already running"
	ReasonInactive       = "inactive"
)

// Outcome is the terminal result of a run: StateFinalized, StateRefused or
// StateFailed.
type Outcome struct {
	RunID  string
	State  model.RunState
	Reason string // set when refused
	Backup model.Backup
}

// SnapshotError reports that the transfer succeeded but its snapshot could not
// be created. The backup record is left successful without a location.
type SnapshotError struct {
	Host string
	Name string
	Err  error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("creating snapshot %s of %s: %v", e.Name, e.Host, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Transferer moves a host's files into its working directory.
type Transferer interface {
	Run(ctx context.Context, req transfer.Request) (transfer.Result, error)
}

// Notifier is told about failed runs.
type Notifier interface {
	BackupFailed(ctx context.Context, host model.Host, cfg hostconfig.Config, err error)
}

// Options holds the optional collaborators of a Harness.
type Options struct {
	Cache       *cache.Cache
	Notifier    Notifier
	OpenBackend func(model.Storage) (storage.Backend, error) // storage.Open when nil
	Now         func() time.Time                             // time.Now when nil
	PID         int                                          // os.Getpid() when zero
}

// Harness executes backup runs.
type Harness struct {
	store    *store.Store
	liveness *liveness.Controller
	transfer Transferer
	cache    *cache.Cache
	notifier Notifier
	open     func(model.Storage) (storage.Backend, error)
	now      func() time.Time
	pid      int
}

// New creates a harness.
func New(s *store.Store, lc *liveness.Controller, t Transferer, opts Options) *Harness {
	h := &Harness{
		store:    s,
		liveness: lc,
		transfer: t,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		open:     opts.OpenBackend,
		now:      opts.Now,
		pid:      opts.PID,
	}
	if h.open == nil {
		h.open = storage.Open
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.pid == 0 {
		h.pid = os.Getpid()
	}
	return h
}

// RunHost looks up a host by name and runs it.
func (h *Harness) RunHost(ctx context.Context, hostname string) (Outcome, error) {
	host, err := h.store.HostByName(hostname)
	if err != nil {
		return Outcome{State: model.StateFailed}, err
	}
	return h.Run(ctx, host)
}

// run carries the state of one invocation.
type run struct {
	*Harness
	id      string
	host    model.Host
	log     *slog.Logger
	backup  model.Backup
	pidHeld bool // the stored record may still carry our pid
}

// Run performs one backup of host. Refusals are reported through the outcome
// with a nil error. Transfer and snapshot failures return StateFailed together
// with a *transfer.Failure or *SnapshotError.
func (h *Harness) Run(ctx context.Context, host model.Host) (Outcome, error) {
	r := &run{Harness: h, id: uuid.NewString(), host: host}
	r.log = slog.With("run_id", r.id, "host", host.Hostname)

	if h.cache != nil {
		h.cache.StartRun(model.Run{ID: r.id, Host: host.Hostname, State: model.StateGating, Started: h.now()})
	}
	metrics.TrackRunning(true)
	defer metrics.TrackRunning(false)

	out, err := r.execute(ctx)
	out.RunID = r.id
	out.Backup = r.backup
	r.finish(out, err)
	return out, err
}

func (r *run) setState(s model.RunState) {
	r.log.Debug("harness state", "state", s)
	if r.cache != nil {
		r.cache.UpdateRun(r.id, func(run *model.Run) {
			run.State = s
			run.Generation = r.backup.Generation
			run.BackupID = r.backup.ID
		})
	}
}

func (r *run) finish(out Outcome, err error) {
	label := "succeeded"
	switch out.State {
	case model.StateRefused:
		label = "refused"
		r.log.Info("backup refused", "reason", out.Reason)
	case model.StateFailed:
		label = "failed"
		r.log.Error("backup failed", "error", err)
	default:
		r.log.Info("backup finished", "generation", r.backup.Generation, "snapshot", deref(r.backup.SnapshotLocation))
	}
	metrics.HarnessRuns.WithLabelValues(label).Inc()

	if r.cache == nil {
		return
	}
	finished := r.now()
	r.cache.UpdateRun(r.id, func(run *model.Run) {
		run.State = out.State
		run.Reason = out.Reason
		run.Finished = &finished
		run.BackupID = r.backup.ID
		run.Generation = r.backup.Generation
		run.ExitCode = r.backup.HarnessReturnCode
		run.Snapshot = deref(r.backup.SnapshotLocation)
		if err != nil {
			run.Error = err.Error()
		}
	})
}

func refused(reason string) (Outcome, error) {
	return Outcome{State: model.StateRefused, Reason: reason}, nil
}

func failed(err error) (Outcome, error) {
	return Outcome{State: model.StateFailed}, err
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	// Gating
	running, err := r.liveness.IsRunning(ctx, r.host.ID)
	if err != nil {
		return failed(fmt.Errorf("checking running backups of %s: %w", r.host.Hostname, err))
	}
	if running {
		return refused(ReasonAlreadyRunning)
	}
	if !r.host.Active {
		return refused(ReasonInactive)
	}

	// Preparing
	r.setState(model.StatePreparing)
	cfg, err := hostconfig.Resolve(r.store, r.host.ID)
	if err != nil {
		return failed(err)
	}
	history, err := r.store.ListBackups(store.BackupFilter{HostID: r.host.ID, Successful: model.Ptr(true)})
	if err != nil {
		return failed(err)
	}
	now := r.now()
	checksum := cfg.ChecksumDue(r.host.LastRsyncChecksum, now)

	st, err := r.store.FirstStorage(r.host.BackupServerID)
	if err != nil {
		return failed(fmt.Errorf("storage of %s: %w", r.host.Hostname, err))
	}
	backend, err := r.open(st)
	if err != nil {
		return failed(err)
	}

	pid := r.pid
	r.backup = model.Backup{
		HostID:         r.host.ID,
		StorageID:      st.ID,
		RunID:          r.id,
		Generation:     retention.SelectGeneration(cfg, history, now),
		WasChecksumRun: checksum,
		BackupPID:      &pid,
	}
	if err := r.store.CreateBackup(&r.backup); err != nil {
		if errors.Is(err, store.ErrIntegrity) {
			// Another invocation inserted its record after our liveness check.
			r.backup = model.Backup{}
			return refused(ReasonAlreadyRunning)
		}
		r.backup = model.Backup{}
		return failed(err)
	}
	r.pidHeld = true
	defer r.releasePID()
	r.log = r.log.With("backup_id", r.backup.ID, "generation", r.backup.Generation)
	r.setState(model.StatePreparing)

	req, err := r.prepareTransfer(ctx, cfg, backend, checksum)
	if err != nil {
		return r.transferFailed(ctx, cfg, err)
	}

	// Transferring
	r.setState(model.StateTransferring)
	start := r.now()
	r.backup.StartTime = &start
	if err := r.save(); err != nil {
		return r.transferFailed(ctx, cfg, err)
	}

	res, terr := r.transfer.Run(ctx, req)
	end := r.now()
	r.backup.EndTime = &end
	r.backup.BackupPID = nil
	r.backup.Successful = model.Ptr(terr == nil)
	if res.ExitCode >= 0 {
		r.backup.HarnessReturnCode = model.Ptr(res.ExitCode)
	}
	metrics.RecordTransfer(string(r.backup.Generation), res.ExitCode, end.Sub(start))
	if err := r.save(); err != nil {
		rerr := fmt.Errorf("recording transfer result: %w", err)
		if terr != nil {
			rerr = errors.Join(terr, rerr)
		}
		return r.transferFailed(ctx, cfg, rerr)
	}
	if terr != nil {
		r.notify(ctx, cfg, terr)
		return failed(terr)
	}
	if checksum {
		if err := r.store.SetLastRsyncChecksum(r.host.ID, end); err != nil {
			r.log.Error("recording checksum run", "error", err)
		}
	}

	// Snapshotting
	r.setState(model.StateSnapshotting)
	name := backend.SnapshotName(r.backup.Generation, r.now())
	if err := backend.CreateSnapshot(ctx, r.host.Hostname, name); err != nil {
		serr := &SnapshotError{Host: r.host.Hostname, Name: name, Err: err}
		if err := r.finalize(); err != nil {
			r.log.Error("recording end of backup after snapshot failure", "error", err)
		}
		r.notify(ctx, cfg, serr)
		return failed(serr)
	}
	r.backup.SnapshotLocation = &name

	// Finalized
	if err := r.finalize(); err != nil {
		return failed(err)
	}
	r.afterSuccess(ctx, cfg, st, backend, end.Sub(start))
	return Outcome{State: model.StateFinalized}, nil
}

// prepareTransfer makes sure the host storage exists, resets its log area and
// assembles the rsync request.
func (r *run) prepareTransfer(ctx context.Context, cfg hostconfig.Config, backend storage.Backend, checksum bool) (transfer.Request, error) {
	if err := backend.Provision(ctx, r.host.Hostname); err != nil {
		return transfer.Request{}, fmt.Errorf("provisioning storage: %w", err)
	}
	workdir := backend.WorkingDirectory(r.host.Hostname)
	logs := filepath.Join(workdir, "logs")
	if err := os.RemoveAll(logs); err != nil {
		return transfer.Request{}, fmt.Errorf("clearing logs: %w", err)
	}
	if err := os.MkdirAll(logs, 0o700); err != nil {
		return transfer.Request{}, fmt.Errorf("creating logs: %w", err)
	}

	rules, err := r.store.FilterRulesFor(r.host.ID, cfg.UseGlobalFilters)
	if err != nil {
		return transfer.Request{}, err
	}
	lines := make([]string, len(rules))
	for i, rule := range rules {
		lines[i] = rule.RsyncRule
	}

	var shell string
	srv, err := r.store.GetBackupServer(r.host.BackupServerID)
	switch {
	case err != nil:
		r.log.Warn("reading backup server, using default remote shell", "error", err)
	case srv.SSHSupportsY:
		shell = "ssh -y"
	}

	return transfer.Request{
		Host:        r.host.Hostname,
		Address:     r.host.Address(),
		Dest:        filepath.Join(workdir, "data"),
		LogPath:     filepath.Join(logs, "rsync.log"),
		Rules:       lines,
		Compress:    cfg.RsyncDoCompress,
		Inplace:     backend.SupportsInplace(),
		IgnoreTimes: checksum,
		RemoteShell: shell,
	}, nil
}

// transferFailed records a run that could not reach or complete the transfer.
func (r *run) transferFailed(ctx context.Context, cfg hostconfig.Config, err error) (Outcome, error) {
	end := r.now()
	r.backup.EndTime = &end
	r.backup.BackupPID = nil
	r.backup.Successful = model.Ptr(false)
	if uerr := r.save(); uerr != nil {
		r.log.Error("recording failed backup", "error", uerr)
	}
	r.notify(ctx, cfg, err)
	return failed(err)
}

// save writes the backup record and notes when the stored pid is gone.
func (r *run) save() error {
	if err := r.store.UpdateBackup(r.backup); err != nil {
		return err
	}
	if r.backup.BackupPID == nil {
		r.pidHeld = false
	}
	return nil
}

// releasePID clears the stored pid when no record update managed to. Our
// own pid stays alive in daemon mode, so a leftover would block the host.
func (r *run) releasePID() {
	if !r.pidHeld {
		return
	}
	if err := r.store.ClearBackupPID(r.backup.ID); err != nil {
		r.log.Error("clearing backup pid", "error", err)
		return
	}
	r.pidHeld = false
	r.backup.BackupPID = nil
}

func (r *run) finalize() error {
	end := r.now()
	r.backup.EndTime = &end
	if err := r.save(); err != nil {
		return fmt.Errorf("finalizing backup %d: %w", r.backup.ID, err)
	}
	return nil
}

func (r *run) notify(ctx context.Context, cfg hostconfig.Config, err error) {
	if r.notifier != nil {
		r.notifier.BackupFailed(ctx, r.host, cfg, err)
	}
}

// afterSuccess prunes old snapshots and records usage samples. Errors are
// logged; the backup itself is already complete.
func (r *run) afterSuccess(ctx context.Context, cfg hostconfig.Config, st model.Storage, backend storage.Backend, runtime time.Duration) {
	removed, err := retention.Prune(ctx, backend, r.host.Hostname, cfg)
	if err != nil {
		r.log.Error("pruning snapshots", "error", err)
	}
	metrics.SnapshotsPruned.Add(float64(len(removed)))

	now := r.now()
	hu := model.HostUsage{HostID: r.host.ID, SampleDate: now, Runtime: &runtime}
	if rep, ok := backend.(storage.HostUsageReporter); ok {
		if u, err := rep.HostUsage(ctx, r.host.Hostname); err == nil {
			hu.UsedByDataset = &u.UsedByDataset
			hu.UsedBySnapshots = &u.UsedBySnapshots
		} else {
			r.log.Warn("reading host usage", "error", err)
		}
	}
	if err := r.store.InsertHostUsage(&hu); err != nil {
		r.log.Error("recording host usage", "error", err)
	}

	if _, err := collector.SampleStorage(ctx, r.store, r.cache, st, backend, now); err != nil {
		r.log.Warn("recording storage usage", "error", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
