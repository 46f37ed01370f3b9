package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/darshan-rambhia/nab/internal/cache"
	"github.com/darshan-rambhia/nab/internal/metrics"
	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/storage"
	"github.com/darshan-rambhia/nab/internal/store"
)

// SampleStorage reads the utilization of one storage location, records it in
// the store and publishes the percentage to c (when non-nil) and metrics.
// Byte totals are only filled in for backends implementing
// storage.UsageReporter.
func SampleStorage(ctx context.Context, s *store.Store, c *cache.Cache, st model.Storage, b storage.Backend, now time.Time) (model.StorageUsage, error) {
	su := model.StorageUsage{StorageID: st.ID, SampleDate: now}
	if rep, ok := b.(storage.UsageReporter); ok {
		u, err := rep.Usage(ctx)
		if err != nil {
			return su, fmt.Errorf("reading usage of storage %d: %w", st.ID, err)
		}
		su.TotalBytes, su.FreeBytes, su.UsedBytes = &u.TotalBytes, &u.FreeBytes, &u.UsedBytes
		su.UsagePercent = &u.Percent
	} else {
		pct, err := b.UsagePercent(ctx)
		if err != nil {
			return su, fmt.Errorf("reading usage of storage %d: %w", st.ID, err)
		}
		su.UsagePercent = &pct
	}

	if err := s.InsertStorageUsage(&su); err != nil {
		return su, err
	}
	metrics.StorageUsagePercent.WithLabelValues(fmt.Sprint(st.ID)).Set(float64(*su.UsagePercent))
	if c != nil {
		c.SetStorageUsage(st.ID, *su.UsagePercent)
	}
	return su, nil
}

// UsageCollector samples every storage location of one backup server.
type UsageCollector struct {
	store    *store.Store
	server   model.BackupServer
	cache    *cache.Cache
	pool     *WorkerPool
	interval time.Duration
	open     func(model.Storage) (storage.Backend, error)
	now      func() time.Time
}

// NewUsageCollector creates a collector for the storage of server.
func NewUsageCollector(s *store.Store, server model.BackupServer, c *cache.Cache, pool *WorkerPool, interval time.Duration) *UsageCollector {
	if interval <= 0 {
		interval = time.Hour
	}
	return &UsageCollector{
		store:    s,
		server:   server,
		cache:    c,
		pool:     pool,
		interval: interval,
		open:     storage.Open,
		now:      time.Now,
	}
}

func (u *UsageCollector) Name() string            { return "usage:" + u.server.Hostname }
func (u *UsageCollector) Interval() time.Duration { return u.interval }

// Collect samples each storage location concurrently. A location that fails
// does not stop the others; all failures are joined into the returned error.
func (u *UsageCollector) Collect(ctx context.Context) error {
	storages, err := u.store.ListStorage(u.server.ID)
	if err != nil {
		return err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	now := u.now()
	for _, st := range storages {
		wg.Add(1)
		err := u.pool.Submit(ctx, func() {
			defer wg.Done()
			if err := u.sample(ctx, st, now); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()

	if u.cache != nil {
		u.cache.SetLastPoll(u.Name(), u.now())
	}
	return errors.Join(errs...)
}

func (u *UsageCollector) sample(ctx context.Context, st model.Storage, now time.Time) error {
	b, err := u.open(st)
	if err != nil {
		return fmt.Errorf("opening storage %d: %w", st.ID, err)
	}
	su, err := SampleStorage(ctx, u.store, u.cache, st, b, now)
	if err != nil {
		return err
	}
	slog.Debug("storage usage sampled", "storage", st.ID, "method", st.Method, "percent", *su.UsagePercent)
	return nil
}
