package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
	"golang.org/x/sys/unix"
)

// hostAreas are created under each host directory by Provision.
var hostAreas = []string{"data", "keys", "logs", "snapshots"}

// Hardlinks stores each host as a plain directory tree under a top-level
// directory (arg1). Snapshots are hardlinked copies of data and logs, so
// unchanged files share their inode with every earlier snapshot.
type Hardlinks struct {
	top string
}

// NewHardlinks returns a hardlink-tree backend rooted at s.Arg(1).
func NewHardlinks(s model.Storage) (*Hardlinks, error) {
	top := s.Arg(1)
	if top == "" {
		return nil, fmt.Errorf("hardlinks storage %d: top directory (arg1) not set", s.ID)
	}
	return &Hardlinks{top: top}, nil
}

func (h *Hardlinks) Method() string { return "hardlinks" }

func (h *Hardlinks) SupportsInplace() bool { return false }

func (h *Hardlinks) WorkingDirectory(host string) string {
	return filepath.Join(h.top, host)
}

func (h *Hardlinks) snapshotDir(host, name string) string {
	return filepath.Join(h.top, host, "snapshots", name)
}

// Provision creates the host directory and its areas. Existing areas are kept.
func (h *Hardlinks) Provision(_ context.Context, host string) error {
	if err := validName(host); err != nil {
		return err
	}
	dir := h.WorkingDirectory(host)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("provisioning %s: %w", host, err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return fmt.Errorf("provisioning %s: %w", host, err)
	}
	for _, area := range hostAreas {
		if err := os.MkdirAll(filepath.Join(dir, area), 0o700); err != nil {
			return fmt.Errorf("provisioning %s: %w", host, err)
		}
	}
	slog.Info("host storage provisioned", "host", host, "path", dir)
	return nil
}

// Deprovision removes the host directory, snapshots included.
func (h *Hardlinks) Deprovision(_ context.Context, host string) error {
	if err := validName(host); err != nil {
		return err
	}
	dir := h.WorkingDirectory(host)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deprovisioning %s: %w", host, ErrHostNotProvisioned)
	}
	if err := removeTree(dir); err != nil {
		return fmt.Errorf("deprovisioning %s: %w", host, err)
	}
	slog.Info("host storage deprovisioned", "host", host)
	return nil
}

func (h *Hardlinks) SnapshotName(gen model.Generation, now time.Time) string {
	return SnapshotName(gen, now)
}

// CreateSnapshot hardlinks data and logs into snapshots/<name>.
func (h *Hardlinks) CreateSnapshot(_ context.Context, host, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	dir := h.WorkingDirectory(host)
	if _, err := os.Stat(filepath.Join(dir, "snapshots")); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot %s of %s: %w", name, host, ErrHostNotProvisioned)
	}

	snap := h.snapshotDir(host, name)
	if err := os.Mkdir(snap, 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("snapshot %s of %s: %w", name, host, ErrSnapshotExists)
		}
		return fmt.Errorf("snapshot %s of %s: %w", name, host, err)
	}

	for _, area := range []string{"logs", "data"} {
		if err := linkTree(filepath.Join(dir, area), filepath.Join(snap, area)); err != nil {
			if rmErr := removeTree(snap); rmErr != nil {
				slog.Error("removing partial snapshot", "host", host, "snapshot", name, "error", rmErr)
			}
			return fmt.Errorf("snapshot %s of %s: %w", name, host, err)
		}
	}
	return nil
}

func (h *Hardlinks) DestroySnapshot(_ context.Context, host, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	snap := h.snapshotDir(host, name)
	if _, err := os.Stat(snap); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot %s of %s: %w", name, host, ErrSnapshotNotFound)
	}
	if err := removeTree(snap); err != nil {
		return fmt.Errorf("destroying snapshot %s of %s: %w", name, host, err)
	}
	return nil
}

// ListSnapshots returns snapshot names in ascending (chronological) order.
func (h *Hardlinks) ListSnapshots(_ context.Context, host string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(h.WorkingDirectory(host), "snapshots"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("listing snapshots of %s: %w", host, ErrHostNotProvisioned)
	}
	if err != nil {
		return nil, fmt.Errorf("listing snapshots of %s: %w", host, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && validName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// MountSnapshot is a no-op; hardlinked snapshots are always readable.
func (h *Hardlinks) MountSnapshot(_ context.Context, host, name string) (string, error) {
	snap := h.snapshotDir(host, name)
	if _, err := os.Stat(snap); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("snapshot %s of %s: %w", name, host, ErrSnapshotNotFound)
	}
	return snap, nil
}

func (h *Hardlinks) UnmountSnapshot(context.Context, string, string) error { return nil }

func (h *Hardlinks) UsagePercent(ctx context.Context) (int, error) {
	u, err := h.Usage(ctx)
	if err != nil {
		return 0, err
	}
	return u.Percent, nil
}

// Usage reports the capacity of the filesystem holding the top directory the
// way df does: the percentage is used/(used+available), rounded up.
func (h *Hardlinks) Usage(context.Context) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(h.top, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", h.top, err)
	}
	bsize := int64(st.Bsize)
	u := Usage{
		TotalBytes: int64(st.Blocks) * bsize,
		FreeBytes:  int64(st.Bavail) * bsize,
		UsedBytes:  int64(st.Blocks-st.Bfree) * bsize,
	}
	u.Percent = percent(u.UsedBytes, u.UsedBytes+u.FreeBytes)
	return u, nil
}

func percent(used, total int64) int {
	if total <= 0 {
		return 0
	}
	p := (used*100 + total - 1) / total
	return int(min(max(p, 0), 100))
}

// linkTree recreates the directory structure of src at dst and hardlinks
// every non-directory entry. Symlinks are linked themselves, not followed.
func linkTree(src, dst string) error {
	type dirMode struct {
		path string
		mode fs.FileMode
		mod  time.Time
	}
	var dirs []dirMode

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if !d.IsDir() {
			return os.Link(path, target)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		// Directories are made writable while populating them; the source
		// mode is restored afterwards.
		if err := os.Mkdir(target, 0o700); err != nil {
			return err
		}
		dirs = append(dirs, dirMode{target, info.Mode().Perm(), info.ModTime()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("linking %s: %w", src, err)
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := os.Chmod(d.path, d.mode); err != nil {
			return fmt.Errorf("linking %s: %w", src, err)
		}
		if err := os.Chtimes(d.path, d.mod, d.mod); err != nil {
			return fmt.Errorf("linking %s: %w", src, err)
		}
	}
	return nil
}
