package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	c := New()
	assert.NotNil(t, c.Active)
	assert.NotNil(t, c.StorageUsage)
	assert.NotNil(t, c.LastPoll)
	assert.Empty(t, c.Finished)
}

func TestStartRun(t *testing.T) {
	c := New()
	now := time.Now()
	c.StartRun(model.Run{ID: "r1", Host: "h1", State: model.StateGating, Started: now})

	snap := c.Snapshot()
	require.Len(t, snap.Active, 1)
	assert.Equal(t, "h1", snap.Active[0].Host)
	assert.True(t, c.Running("h1"))
	assert.False(t, c.Running("h2"))
}

func TestUpdateRun_MovesTerminalRuns(t *testing.T) {
	c := New()
	c.StartRun(model.Run{ID: "r1", Host: "h1", State: model.StateGating})

	c.UpdateRun("r1", func(r *model.Run) {
		r.State = model.StateTransferring
		r.Generation = model.Daily
	})
	snap := c.Snapshot()
	require.Len(t, snap.Active, 1)
	assert.Equal(t, model.StateTransferring, snap.Active[0].State)

	c.UpdateRun("r1", func(r *model.Run) {
		r.State = model.StateFinalized
		r.ExitCode = model.Ptr(0)
	})
	snap = c.Snapshot()
	assert.Empty(t, snap.Active)
	require.Len(t, snap.Finished, 1)
	assert.Equal(t, model.StateFinalized, snap.Finished[0].State)
	assert.False(t, c.Running("h1"))
}

func TestUpdateRun_UnknownIgnored(t *testing.T) {
	c := New()
	called := false
	c.UpdateRun("missing", func(*model.Run) { called = true })
	assert.False(t, called)
}

func TestFinishedIsCappedNewestFirst(t *testing.T) {
	c := New()
	c.history = 3
	for i := range 5 {
		id := fmt.Sprintf("r%d", i)
		c.StartRun(model.Run{ID: id, Host: "h1"})
		c.UpdateRun(id, func(r *model.Run) { r.State = model.StateRefused })
	}

	snap := c.Snapshot()
	require.Len(t, snap.Finished, 3)
	assert.Equal(t, "r4", snap.Finished[0].ID)
	assert.Equal(t, "r2", snap.Finished[2].ID)
}

func TestActiveOrderedByStart(t *testing.T) {
	c := New()
	now := time.Now()
	c.StartRun(model.Run{ID: "late", Started: now.Add(time.Minute)})
	c.StartRun(model.Run{ID: "early", Started: now})

	snap := c.Snapshot()
	assert.Equal(t, "early", snap.Active[0].ID)
	assert.Equal(t, "late", snap.Active[1].ID)
}

func TestSetStorageUsage(t *testing.T) {
	c := New()
	c.SetStorageUsage(1, 42)
	assert.Equal(t, 42, c.Snapshot().StorageUsage[1])
}

func TestSetLastPoll(t *testing.T) {
	c := New()
	now := time.Now()
	c.SetLastPoll("scheduler", now)

	snap := c.Snapshot()
	assert.Equal(t, now, snap.LastPoll["scheduler"])
}

func TestSnapshotIsIndependent(t *testing.T) {
	c := New()
	c.StartRun(model.Run{ID: "r1", Host: "h1", State: model.StateTransferring, ExitCode: model.Ptr(0)})

	snap := c.Snapshot()

	c.UpdateRun("r1", func(r *model.Run) {
		r.State = model.StateSnapshotting
		*r.ExitCode = 24
	})

	assert.Equal(t, model.StateTransferring, snap.Active[0].State)
	assert.Equal(t, 0, *snap.Active[0].ExitCode)
}

func TestStartRunCopiesInput(t *testing.T) {
	c := New()
	code := 0
	r := model.Run{ID: "r1", ExitCode: &code}
	c.StartRun(r)
	code = 12
	assert.Equal(t, 0, *c.Snapshot().Active[0].ExitCode)
}

func TestConcurrentReadWrite(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	// Writers
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", n)
			c.StartRun(model.Run{ID: id, Host: "h1"})
			c.UpdateRun(id, func(r *model.Run) { r.State = model.StateFailed })
			c.SetStorageUsage(int64(n), n)
			c.SetLastPoll("writer", time.Now())
		}(i)
	}

	// Readers
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := c.Snapshot()
			_ = len(snap.Active)
			_ = len(snap.Finished)
			_ = c.Running("h1")
		}()
	}

	wg.Wait()
	assert.Len(t, c.Snapshot().Finished, 10)
}

func BenchmarkSnapshot(b *testing.B) {
	c := New()
	for i := range 20 {
		c.StartRun(model.Run{ID: fmt.Sprint(i), Host: fmt.Sprintf("host%d", i), State: model.StateTransferring, Started: time.Now()})
	}
	for i := range DefaultHistory {
		id := fmt.Sprintf("done%d", i)
		c.StartRun(model.Run{ID: id, Host: id, State: model.StateGating, Started: time.Now()})
		c.UpdateRun(id, func(r *model.Run) { r.State = model.StateFinalized })
	}
	for b.Loop() {
		c.Snapshot()
	}
}
