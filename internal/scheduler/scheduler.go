// Package scheduler starts harness runs for hosts that are due, bounded by the
// backup server's slot count.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/harness"
	"github.com/darshan-rambhia/nab/internal/hostconfig"
	"github.com/darshan-rambhia/nab/internal/metrics"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Runner executes one backup.
type Runner interface {
	Run(ctx context.Context, host model.Host) (harness.Outcome, error)
}

// Reclaimer clears stale process ids.
type Reclaimer interface {
	ReclaimStale(ctx context.Context, hostID *int64) (int, error)
}

// Prober checks host connectivity.
type Prober interface {
	Reachable(ctx context.Context, addr string, maxMS *int) (bool, time.Duration, error)
}

// Options configures a Scheduler.
type Options struct {
	Interval       time.Duration // between ticks, default 1m
	BackupInterval time.Duration // next_backup offset after a run, default 24h
	Cache          *cache.Cache
	Now            func() time.Time
}

// Scheduler launches due hosts on each tick.
type Scheduler struct {
	store    *store.Store
	server   model.BackupServer
	runner   Runner
	reclaim  Reclaimer
	prober   Prober
	cache    *cache.Cache
	interval time.Duration
	backoff  time.Duration
	now      func() time.Time

	capacity int
	slots    *semaphore.Weighted
	group    errgroup.Group

	mu       sync.Mutex
	inflight map[int64]bool
}

// New returns a scheduler for server. prober may be nil, in which case
// connectivity checks are skipped.
func New(s *store.Store, server model.BackupServer, r Runner, rc Reclaimer, p Prober, opts Options) *Scheduler {
	slots := server.SchedulerSlots
	if slots <= 0 {
		slots = 1
	}
	sc := &Scheduler{
		store:    s,
		server:   server,
		runner:   r,
		reclaim:  rc,
		prober:   p,
		cache:    opts.Cache,
		interval: opts.Interval,
		backoff:  opts.BackupInterval,
		now:      opts.Now,
		capacity: slots,
		slots:    semaphore.NewWeighted(int64(slots)),
		inflight: make(map[int64]bool),
	}
	if sc.interval <= 0 {
		sc.interval = time.Minute
	}
	if sc.backoff <= 0 {
		sc.backoff = 24 * time.Hour
	}
	if sc.now == nil {
		sc.now = time.Now
	}
	return sc
}

// Run ticks until ctx is cancelled, then waits for in-flight runs.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "server", s.server.Hostname, "interval", s.interval,
		"slots", s.server.SchedulerSlots)

	if _, err := s.Tick(ctx); err != nil {
		slog.Error("scheduler tick failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Wait()
			slog.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				slog.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Wait blocks until every launched run has returned.
func (s *Scheduler) Wait() {
	s.group.Wait() //nolint:errcheck // launched runs never return errors
}

type candidate struct {
	host     model.Host
	cfg      hostconfig.Config
	priority int
}

// due returns the hosts of this server that should run now, in launch order.
func (s *Scheduler) due(now time.Time) ([]candidate, error) {
	hosts, err := s.store.ListHosts(s.server.ID)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, h := range hosts {
		if !h.Active {
			continue
		}
		if h.NextBackup != nil && h.NextBackup.After(now) {
			continue
		}
		if !h.InWindow(now) {
			continue
		}
		cfg, err := hostconfig.Resolve(s.store, h.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{host: h, cfg: cfg, priority: cfg.Priority})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].priority < out[j].priority })
	return out, nil
}

// Tick reclaims stale pids and launches as many due hosts as there are free
// slots. It returns the hostnames launched.
func (s *Scheduler) Tick(ctx context.Context) ([]string, error) {
	now := s.now()
	if s.cache != nil {
		s.cache.SetLastPoll("scheduler", now)
	}
	if _, err := s.reclaim.ReclaimStale(ctx, nil); err != nil {
		return nil, err
	}
	due, err := s.due(now)
	if err != nil {
		return nil, err
	}
	external, err := s.externalRuns()
	if err != nil {
		return nil, err
	}

	var launched []string
	for _, c := range due {
		if !s.claim(c.host.ID) {
			metrics.SchedulerSkips.WithLabelValues("running").Inc()
			continue
		}
		if external > 0 && s.inflightCount()+external > s.capacity {
			s.release(c.host.ID)
			metrics.SchedulerSkips.WithLabelValues("slots").Inc()
			slog.Debug("scheduler slots taken by runs started elsewhere", "host", c.host.Hostname, "external", external)
			break
		}
		if !s.slots.TryAcquire(1) {
			s.release(c.host.ID)
			metrics.SchedulerSkips.WithLabelValues("slots").Inc()
			slog.Debug("no free scheduler slot", "host", c.host.Hostname)
			break
		}
		launched = append(launched, c.host.Hostname)
		s.group.Go(func() error {
			defer s.slots.Release(1)
			defer s.release(c.host.ID)
			s.launch(ctx, c)
			return nil
		})
	}
	return launched, nil
}

func (s *Scheduler) claim(hostID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[hostID] {
		return false
	}
	s.inflight[hostID] = true
	return true
}

func (s *Scheduler) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// externalRuns counts running backups of this server that were not launched
// by this scheduler, such as one-shot runs.
func (s *Scheduler) externalRuns() (int, error) {
	n, err := s.store.CountRunning(s.server.ID)
	if err != nil {
		return 0, err
	}
	return max(0, n-s.inflightCount()), nil
}

func (s *Scheduler) release(hostID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, hostID)
}

func (s *Scheduler) launch(ctx context.Context, c candidate) {
	log := slog.With("host", c.host.Hostname)
	if c.cfg.CheckConnectivity && s.prober != nil {
		ok, latency, err := s.prober.Reachable(ctx, c.host.Address(), c.cfg.PingMaxMS)
		if err != nil || !ok {
			metrics.SchedulerSkips.WithLabelValues("unreachable").Inc()
			log.Warn("host not reachable, skipping", "latency", latency, "error", err)
			return
		}
		log.Debug("host reachable", "latency", latency)
	}

	out, err := s.runner.Run(ctx, c.host)
	if err != nil {
		log.Error("scheduled backup failed", "run_id", out.RunID, "error", err)
	}
	if out.State == model.StateRefused {
		return
	}
	next := s.now().Add(s.backoff)
	if err := s.store.SetNextBackup(c.host.ID, next); err != nil {
		log.Error("setting next backup", "error", err)
	}
}
