// Package storage implements the snapshot storage backends a Storage record
// can select by its method key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
)

var (
	ErrSnapshotExists     = errors.New("snapshot already exists")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrHostNotProvisioned = errors.New("host storage not provisioned")
	ErrUnknownMethod      = errors.New("unknown storage method")
)

// Backend owns the physical layout, snapshot lifecycle and usage reporting of
// one storage location. Host arguments are host names.
type Backend interface {
	Method() string

	// SupportsInplace reports whether rsync --inplace is safe. Backends whose
	// snapshots share blocks with the working copy through hardlinks must
	// return false.
	SupportsInplace() bool

	// WorkingDirectory is the live mirror of a host. rsync writes into its
	// data subdirectory and logs into its logs subdirectory.
	WorkingDirectory(host string) string

	Provision(ctx context.Context, host string) error
	Deprovision(ctx context.Context, host string) error

	SnapshotName(gen model.Generation, now time.Time) string
	CreateSnapshot(ctx context.Context, host, name string) error
	DestroySnapshot(ctx context.Context, host, name string) error
	ListSnapshots(ctx context.Context, host string) ([]string, error)

	// MountSnapshot makes a snapshot readable and returns its path.
	MountSnapshot(ctx context.Context, host, name string) (string, error)
	UnmountSnapshot(ctx context.Context, host, name string) error

	UsagePercent(ctx context.Context) (int, error)
}

// Usage is the capacity of the filesystem backing a storage location.
type Usage struct {
	TotalBytes int64
	FreeBytes  int64
	UsedBytes  int64
	Percent    int
}

// UsageReporter is implemented by backends that can report byte totals in
// addition to a percentage.
type UsageReporter interface {
	Usage(ctx context.Context) (Usage, error)
}

// HostUsage is the space consumed by one host.
type HostUsage struct {
	UsedByDataset   int64
	UsedBySnapshots int64
}

// HostUsageReporter is implemented by backends that can account space per host.
type HostUsageReporter interface {
	HostUsage(ctx context.Context, host string) (HostUsage, error)
}

type constructor func(s model.Storage) (Backend, error)

var backends = map[string]constructor{
	"hardlinks": func(s model.Storage) (Backend, error) { return NewHardlinks(s) },
	"zfs":       func(s model.Storage) (Backend, error) { return NewZFS(s, ExecRunner{}) },
}

// Methods returns the registered method keys in sorted order.
func Methods() []string {
	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open returns the backend selected by s.Method.
func Open(s model.Storage) (Backend, error) {
	ctor, ok := backends[s.Method]
	if !ok {
		return nil, fmt.Errorf("storage %d: %w: %q", s.ID, ErrUnknownMethod, s.Method)
	}
	return ctor(s)
}

const snapshotTimeLayout = "2006-01-02_150405"

// SnapshotName derives a snapshot name from the time and generation. Names
// sort chronologically and differ across generations taken in the same second.
func SnapshotName(gen model.Generation, now time.Time) string {
	return now.Format(snapshotTimeLayout) + string(gen)
}

// ParseSnapshotName splits a name produced by SnapshotName.
func ParseSnapshotName(name string) (time.Time, model.Generation, error) {
	if len(name) <= len(snapshotTimeLayout) {
		return time.Time{}, "", fmt.Errorf("invalid snapshot name %q", name)
	}
	ts, err := time.ParseInLocation(snapshotTimeLayout, name[:len(snapshotTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid snapshot name %q: %w", name, err)
	}
	gen, err := model.ParseGeneration(name[len(snapshotTimeLayout):])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid snapshot name %q: %w", name, err)
	}
	return ts, gen, nil
}

const removeSuffix = ".nab-remove-in-progress"

// removeTree renames path out of the way before deleting it, so readers never
// observe a half-deleted tree under the original name.
func removeTree(path string) error {
	tmp := path + removeSuffix
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clearing leftover %s: %w", tmp, err)
	}
	if err := os.Rename(path, tmp); err != nil {
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("removing %s: %w", tmp, err)
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/@") ||
		strings.HasSuffix(name, removeSuffix) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}
