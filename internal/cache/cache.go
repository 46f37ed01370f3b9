package cache

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
)

// DefaultHistory is how many finished runs are kept.
const DefaultHistory = 100

// Cache is a thread-safe in-memory registry of harness runs and loop state.
type Cache struct {
	mu sync.RWMutex

	Active       map[string]*model.Run // by run ID
	Finished     []*model.Run          // newest first
	StorageUsage map[int64]int         // percent, by storage ID
	LastPoll     map[string]time.Time

	history int
}

// CacheSnapshot is a read-only deep copy of the cache state.
type CacheSnapshot struct {
	Active       []*model.Run // ordered by start time
	Finished     []*model.Run
	StorageUsage map[int64]int
	LastPoll     map[string]time.Time
}

// New returns an initialized Cache.
func New() *Cache {
	return &Cache{
		Active:       make(map[string]*model.Run),
		StorageUsage: make(map[int64]int),
		LastPoll:     make(map[string]time.Time),
		history:      DefaultHistory,
	}
}

func copyRun(r *model.Run) *model.Run {
	cp := *r
	if r.Finished != nil {
		f := *r.Finished
		cp.Finished = &f
	}
	if r.ExitCode != nil {
		c := *r.ExitCode
		cp.ExitCode = &c
	}
	return &cp
}

// Snapshot returns a deep copy of the cache contents.
func (c *Cache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := CacheSnapshot{
		Active:       make([]*model.Run, 0, len(c.Active)),
		Finished:     make([]*model.Run, len(c.Finished)),
		StorageUsage: make(map[int64]int, len(c.StorageUsage)),
		LastPoll:     make(map[string]time.Time, len(c.LastPoll)),
	}
	for _, r := range c.Active {
		snap.Active = append(snap.Active, copyRun(r))
	}
	sort.Slice(snap.Active, func(i, j int) bool {
		return snap.Active[i].Started.Before(snap.Active[j].Started)
	})
	for i, r := range c.Finished {
		snap.Finished[i] = copyRun(r)
	}
	maps.Copy(snap.StorageUsage, c.StorageUsage)
	maps.Copy(snap.LastPoll, c.LastPoll)
	return snap
}

// StartRun registers an in-flight run.
func (c *Cache) StartRun(r model.Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Active[r.ID] = copyRun(&r)
}

// UpdateRun applies fn to an in-flight run. Unknown IDs are ignored. A run
// whose state becomes terminal moves to the finished list.
func (c *Cache) UpdateRun(id string, fn func(*model.Run)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Active[id]
	if !ok {
		return
	}
	fn(r)
	if !r.State.Terminal() {
		return
	}
	delete(c.Active, id)
	c.Finished = append([]*model.Run{r}, c.Finished...)
	if len(c.Finished) > c.history {
		c.Finished = c.Finished[:c.history]
	}
}

// Running reports whether an in-flight run exists for host.
func (c *Cache) Running(host string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.Active {
		if r.Host == host {
			return true
		}
	}
	return false
}

// SetStorageUsage records the latest utilization of a storage location.
func (c *Cache) SetStorageUsage(storageID int64, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StorageUsage[storageID] = percent
}

// SetLastPoll records the last time a loop ran.
func (c *Cache) SetLastPoll(loop string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastPoll[loop] = t
}
