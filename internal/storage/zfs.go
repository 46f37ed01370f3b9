package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
)

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ZFS keeps one dataset per host and uses native snapshots. arg1 is the pool,
// arg2 an optional parent filesystem inside it and arg3 the directory under
// which host datasets are mounted.
type ZFS struct {
	pool   string
	parent string
	mount  string
	run    Runner
}

// NewZFS returns a zfs backend that issues commands through run.
func NewZFS(s model.Storage, run Runner) (*ZFS, error) {
	z := &ZFS{pool: s.Arg(1), parent: s.Arg(2), mount: s.Arg(3), run: run}
	if z.pool == "" || z.mount == "" {
		return nil, fmt.Errorf("zfs storage %d: pool (arg1) and mountpoint (arg3) are required", s.ID)
	}
	return z, nil
}

func (z *ZFS) Method() string { return "zfs" }

// SupportsInplace is true: snapshots are block-level copy-on-write.
func (z *ZFS) SupportsInplace() bool { return true }

func (z *ZFS) WorkingDirectory(host string) string {
	return filepath.Join(z.mount, host)
}

func (z *ZFS) dataset(host string) string {
	if z.parent == "" {
		return z.pool + "/" + host
	}
	return z.pool + "/" + z.parent + "/" + host
}

func (z *ZFS) zfs(ctx context.Context, args ...string) ([]byte, error) {
	return z.run.Run(ctx, "zfs", args...)
}

// exists reports whether a dataset or snapshot exists. zfs list fails for
// missing names, so any error is read as absence.
func (z *ZFS) exists(ctx context.Context, name string) bool {
	_, err := z.zfs(ctx, "list", "-H", "-o", "name", name)
	return err == nil
}

func (z *ZFS) Provision(ctx context.Context, host string) error {
	if err := validName(host); err != nil {
		return err
	}
	ds := z.dataset(host)
	dir := z.WorkingDirectory(host)
	if !z.exists(ctx, ds) {
		if _, err := z.zfs(ctx, "create", "-p", "-o", "mountpoint="+dir, ds); err != nil {
			return fmt.Errorf("provisioning %s: %w", host, err)
		}
	}
	for _, area := range []string{"data", "keys", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, area), 0o700); err != nil {
			return fmt.Errorf("provisioning %s: %w", host, err)
		}
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return fmt.Errorf("provisioning %s: %w", host, err)
	}
	slog.Info("host dataset provisioned", "host", host, "dataset", ds)
	return nil
}

// Deprovision renames the host dataset aside and destroys it recursively.
func (z *ZFS) Deprovision(ctx context.Context, host string) error {
	if err := validName(host); err != nil {
		return err
	}
	ds := z.dataset(host)
	if !z.exists(ctx, ds) {
		return fmt.Errorf("deprovisioning %s: %w", host, ErrHostNotProvisioned)
	}
	tmp := ds + removeSuffix
	if _, err := z.zfs(ctx, "rename", ds, tmp); err != nil {
		return fmt.Errorf("deprovisioning %s: %w", host, err)
	}
	if _, err := z.zfs(ctx, "destroy", "-r", tmp); err != nil {
		return fmt.Errorf("deprovisioning %s: %w", host, err)
	}
	slog.Info("host dataset deprovisioned", "host", host, "dataset", ds)
	return nil
}

func (z *ZFS) SnapshotName(gen model.Generation, now time.Time) string {
	return SnapshotName(gen, now)
}

func (z *ZFS) CreateSnapshot(ctx context.Context, host, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	ds := z.dataset(host)
	if !z.exists(ctx, ds) {
		return fmt.Errorf("snapshot %s of %s: %w", name, host, ErrHostNotProvisioned)
	}
	if z.exists(ctx, ds+"@"+name) {
		return fmt.Errorf("snapshot %s of %s: %w", name, host, ErrSnapshotExists)
	}
	if _, err := z.zfs(ctx, "snapshot", ds+"@"+name); err != nil {
		return fmt.Errorf("snapshot %s of %s: %w", name, host, err)
	}
	return nil
}

func (z *ZFS) DestroySnapshot(ctx context.Context, host, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	snap := z.dataset(host) + "@" + name
	if !z.exists(ctx, snap) {
		return fmt.Errorf("snapshot %s of %s: %w", name, host, ErrSnapshotNotFound)
	}
	tmp := snap + removeSuffix
	if _, err := z.zfs(ctx, "rename", snap, tmp); err != nil {
		return fmt.Errorf("destroying snapshot %s of %s: %w", name, host, err)
	}
	if _, err := z.zfs(ctx, "destroy", tmp); err != nil {
		return fmt.Errorf("destroying snapshot %s of %s: %w", name, host, err)
	}
	return nil
}

// ListSnapshots returns the host's snapshot names, oldest first.
func (z *ZFS) ListSnapshots(ctx context.Context, host string) ([]string, error) {
	ds := z.dataset(host)
	if !z.exists(ctx, ds) {
		return nil, fmt.Errorf("listing snapshots of %s: %w", host, ErrHostNotProvisioned)
	}
	out, err := z.zfs(ctx, "list", "-H", "-t", "snapshot", "-o", "name", "-s", "creation", "-d", "1", ds)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots of %s: %w", host, err)
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		_, name, ok := strings.Cut(strings.TrimSpace(line), "@")
		if ok && validName(name) == nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func (z *ZFS) cloneName(host, name string) string {
	return z.dataset(host) + "/restore/" + name
}

// MountSnapshot clones the snapshot to <workdir>/restore/<name>.
func (z *ZFS) MountSnapshot(ctx context.Context, host, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	snap := z.dataset(host) + "@" + name
	if !z.exists(ctx, snap) {
		return "", fmt.Errorf("snapshot %s of %s: %w", name, host, ErrSnapshotNotFound)
	}
	path := filepath.Join(z.WorkingDirectory(host), "restore", name)
	clone := z.cloneName(host, name)
	if z.exists(ctx, clone) {
		return path, nil
	}
	if _, err := z.zfs(ctx, "clone", "-p", "-o", "mountpoint="+path, snap, clone); err != nil {
		return "", fmt.Errorf("mounting snapshot %s of %s: %w", name, host, err)
	}
	return path, nil
}

func (z *ZFS) UnmountSnapshot(ctx context.Context, host, name string) error {
	clone := z.cloneName(host, name)
	if !z.exists(ctx, clone) {
		return nil
	}
	if _, err := z.zfs(ctx, "destroy", clone); err != nil {
		return fmt.Errorf("unmounting snapshot %s of %s: %w", name, host, err)
	}
	return nil
}

func (z *ZFS) UsagePercent(ctx context.Context) (int, error) {
	u, err := z.Usage(ctx)
	if err != nil {
		return 0, err
	}
	return u.Percent, nil
}

// Usage reports pool-level space from the root dataset.
func (z *ZFS) Usage(ctx context.Context) (Usage, error) {
	vals, err := z.numbers(ctx, z.pool, "used,available")
	if err != nil {
		return Usage{}, fmt.Errorf("pool usage of %s: %w", z.pool, err)
	}
	u := Usage{UsedBytes: vals[0], FreeBytes: vals[1], TotalBytes: vals[0] + vals[1]}
	u.Percent = percent(u.UsedBytes, u.TotalBytes)
	return u, nil
}

func (z *ZFS) HostUsage(ctx context.Context, host string) (HostUsage, error) {
	vals, err := z.numbers(ctx, z.dataset(host), "usedbydataset,usedbysnapshots")
	if err != nil {
		return HostUsage{}, fmt.Errorf("usage of %s: %w", host, err)
	}
	return HostUsage{UsedByDataset: vals[0], UsedBySnapshots: vals[1]}, nil
}

// numbers reads numeric properties with parsable (-p) output.
func (z *ZFS) numbers(ctx context.Context, name, props string) ([]int64, error) {
	out, err := z.zfs(ctx, "list", "-Hp", "-o", props, name)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(out))
	want := strings.Count(props, ",") + 1
	if len(fields) != want {
		return nil, fmt.Errorf("unexpected zfs output %q", strings.TrimSpace(string(out)))
	}
	vals := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", f, err)
		}
		vals[i] = v
	}
	return vals, nil
}
