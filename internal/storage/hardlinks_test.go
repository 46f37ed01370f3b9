package storage

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHardlinks(t *testing.T) (*Hardlinks, string) {
	t.Helper()
	top := t.TempDir()
	h, err := NewHardlinks(model.Storage{ID: 1, Method: "hardlinks", Args: [5]*string{&top}})
	require.NoError(t, err)
	return h, top
}

// replaceFile writes content the way rsync does without --inplace: a new
// file renamed over the old one.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestNewHardlinks_RequiresTop(t *testing.T) {
	_, err := NewHardlinks(model.Storage{ID: 3, Method: "hardlinks"})
	assert.Error(t, err)
}

func TestHardlinks_Capabilities(t *testing.T) {
	h, top := newHardlinks(t)
	assert.Equal(t, "hardlinks", h.Method())
	assert.False(t, h.SupportsInplace())
	assert.Equal(t, filepath.Join(top, "h1"), h.WorkingDirectory("h1"))
}

func TestHardlinks_ProvisionLayout(t *testing.T) {
	h, top := newHardlinks(t)
	ctx := context.Background()

	require.NoError(t, h.Provision(ctx, "h1"))

	info, err := os.Stat(filepath.Join(top, "h1"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	for _, area := range []string{"data", "keys", "logs", "snapshots"} {
		info, err := os.Stat(filepath.Join(top, "h1", area))
		require.NoError(t, err, area)
		assert.True(t, info.IsDir(), area)
	}
}

func TestHardlinks_ProvisionDeprovisionRepeatable(t *testing.T) {
	h, top := newHardlinks(t)
	ctx := context.Background()

	for range 2 {
		require.NoError(t, h.Provision(ctx, "h1"))
		require.NoError(t, h.Deprovision(ctx, "h1"))
		_, err := os.Stat(filepath.Join(top, "h1"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(top, "h1"+removeSuffix))
		assert.True(t, os.IsNotExist(err))
	}

	err := h.Deprovision(ctx, "h1")
	assert.ErrorIs(t, err, ErrHostNotProvisioned)
}

func TestHardlinks_ProvisionRejectsBadNames(t *testing.T) {
	h, _ := newHardlinks(t)
	for _, name := range []string{"", "..", "a/b"} {
		assert.Error(t, h.Provision(context.Background(), name), name)
	}
}

func TestHardlinks_SnapshotRoundTrip(t *testing.T) {
	h, top := newHardlinks(t)
	ctx := context.Background()
	require.NoError(t, h.Provision(ctx, "h1"))

	work := h.WorkingDirectory("h1")
	require.NoError(t, os.MkdirAll(filepath.Join(work, "data", "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(work, "data", "etc", "hosts"), []byte("127.0.0.1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(work, "logs", "rsync.log"), []byte("ok"), 0o600))

	name := h.SnapshotName(model.Daily, time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local))
	require.NoError(t, h.CreateSnapshot(ctx, "h1", name))

	snap := filepath.Join(top, "h1", "snapshots", name)
	assert.Equal(t, "127.0.0.1", readFile(t, filepath.Join(snap, "data", "etc", "hosts")))
	assert.Equal(t, "ok", readFile(t, filepath.Join(snap, "logs", "rsync.log")))

	// Unchanged files share an inode with the working copy.
	orig, err := os.Stat(filepath.Join(work, "data", "etc", "hosts"))
	require.NoError(t, err)
	linked, err := os.Stat(filepath.Join(snap, "data", "etc", "hosts"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(orig, linked))
	assert.Equal(t, uint64(2), uint64(linked.Sys().(*syscall.Stat_t).Nlink))

	names, err := h.ListSnapshots(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)

	require.NoError(t, h.DestroySnapshot(ctx, "h1", name))
	_, err = os.Stat(snap)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(snap + removeSuffix)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "127.0.0.1", readFile(t, filepath.Join(work, "data", "etc", "hosts")))

	names, err = h.ListSnapshots(ctx, "h1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestHardlinks_SnapshotsAreIndependent(t *testing.T) {
	h, _ := newHardlinks(t)
	ctx := context.Background()
	require.NoError(t, h.Provision(ctx, "h1"))

	file := filepath.Join(h.WorkingDirectory("h1"), "data", "motd")
	require.NoError(t, os.WriteFile(file, []byte("first"), 0o644))
	require.NoError(t, h.CreateSnapshot(ctx, "h1", "a"))

	replaceFile(t, file, "second")
	require.NoError(t, h.CreateSnapshot(ctx, "h1", "b"))

	pathA, err := h.MountSnapshot(ctx, "h1", "a")
	require.NoError(t, err)
	pathB, err := h.MountSnapshot(ctx, "h1", "b")
	require.NoError(t, err)

	assert.Equal(t, "first", readFile(t, filepath.Join(pathA, "data", "motd")))
	assert.Equal(t, "second", readFile(t, filepath.Join(pathB, "data", "motd")))

	require.NoError(t, h.DestroySnapshot(ctx, "h1", "a"))
	assert.Equal(t, "second", readFile(t, filepath.Join(pathB, "data", "motd")))
	assert.NoError(t, h.UnmountSnapshot(ctx, "h1", "b"))
}

func TestHardlinks_SnapshotConflicts(t *testing.T) {
	h, _ := newHardlinks(t)
	ctx := context.Background()

	err := h.CreateSnapshot(ctx, "h1", "x")
	assert.ErrorIs(t, err, ErrHostNotProvisioned)

	require.NoError(t, h.Provision(ctx, "h1"))
	require.NoError(t, h.CreateSnapshot(ctx, "h1", "x"))
	assert.ErrorIs(t, h.CreateSnapshot(ctx, "h1", "x"), ErrSnapshotExists)

	assert.ErrorIs(t, h.DestroySnapshot(ctx, "h1", "missing"), ErrSnapshotNotFound)
	_, err = h.MountSnapshot(ctx, "h1", "missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestHardlinks_SnapshotKeepsSymlinksAndModes(t *testing.T) {
	h, _ := newHardlinks(t)
	ctx := context.Background()
	require.NoError(t, h.Provision(ctx, "h1"))

	data := filepath.Join(h.WorkingDirectory("h1"), "data")
	require.NoError(t, os.Mkdir(filepath.Join(data, "bin"), 0o750))
	require.NoError(t, os.Symlink("/nonexistent/target", filepath.Join(data, "bin", "dangling")))
	require.NoError(t, h.CreateSnapshot(ctx, "h1", "s"))

	snapData := filepath.Join(h.WorkingDirectory("h1"), "snapshots", "s", "data")
	target, err := os.Readlink(filepath.Join(snapData, "bin", "dangling"))
	require.NoError(t, err)
	assert.Equal(t, "/nonexistent/target", target)

	info, err := os.Stat(filepath.Join(snapData, "bin"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
}

func TestHardlinks_ListSnapshotsUnprovisioned(t *testing.T) {
	h, _ := newHardlinks(t)
	_, err := h.ListSnapshots(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrHostNotProvisioned)
}

func TestHardlinks_Usage(t *testing.T) {
	h, _ := newHardlinks(t)

	u, err := h.Usage(context.Background())
	require.NoError(t, err)
	assert.Positive(t, u.TotalBytes)
	assert.GreaterOrEqual(t, u.Percent, 0)
	assert.LessOrEqual(t, u.Percent, 100)

	pct, err := h.UsagePercent(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, u.Percent, pct, 1)
}

func TestHardlinks_UsageMissingTop(t *testing.T) {
	top := filepath.Join(t.TempDir(), "gone")
	h, err := NewHardlinks(model.Storage{Args: [5]*string{&top}})
	require.NoError(t, err)
	_, err = h.UsagePercent(context.Background())
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 0))
	assert.Equal(t, 0, percent(0, 100))
	assert.Equal(t, 1, percent(1, 1000))
	assert.Equal(t, 50, percent(50, 100))
	assert.Equal(t, 100, percent(100, 100))
}
