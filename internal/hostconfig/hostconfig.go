// Package hostconfig merges per-host configuration over the global default.
package hostconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
	"github.com/darshan-rambhia/nab/internal/store"
)

// ErrNoGlobalConfig is returned when the global default record is missing.
var ErrNoGlobalConfig = errors.New("no global host config")

// Source reads configuration records.
type Source interface {
	GlobalHostConfig() (model.HostConfig, error)
	HostConfigFor(hostID int64) (model.HostConfig, error)
}

// Config is the effective configuration of one host.
type Config struct {
	AlertsMailAddress      string
	FailureWarnAfter       time.Duration // 0 disables overdue warnings
	UseGlobalFilters       bool
	CheckConnectivity      bool
	PingMaxMS              *int // nil accepts any latency
	DailyHistory           int
	WeeklyHistory          int
	MonthlyHistory         int
	Priority               int
	RsyncChecksumFrequency *time.Duration // nil disables checksum runs
	RsyncDoCompress        bool
}

// Resolve loads the host-specific and global records and merges them.
func Resolve(src Source, hostID int64) (Config, error) {
	global, err := src.GlobalHostConfig()
	if errors.Is(err, store.ErrNotFound) {
		return Config{}, ErrNoGlobalConfig
	}
	if err != nil {
		return Config{}, fmt.Errorf("resolving config: %w", err)
	}

	var host *model.HostConfig
	hc, err := src.HostConfigFor(hostID)
	switch {
	case err == nil:
		host = &hc
	case errors.Is(err, store.ErrNotFound):
	default:
		return Config{}, fmt.Errorf("resolving config: %w", err)
	}
	return Merge(host, global), nil
}

// Merge applies host over global attribute by attribute: a non-nil host value
// wins, otherwise the global value is used. host may be nil.
func Merge(host *model.HostConfig, global model.HostConfig) Config {
	if host == nil {
		host = &model.HostConfig{}
	}
	return Config{
		AlertsMailAddress:      deref(pick(host.AlertsMailAddress, global.AlertsMailAddress)),
		FailureWarnAfter:       deref(pick(host.FailureWarnAfter, global.FailureWarnAfter)),
		UseGlobalFilters:       deref(pick(host.UseGlobalFilters, global.UseGlobalFilters)),
		CheckConnectivity:      deref(pick(host.CheckConnectivity, global.CheckConnectivity)),
		PingMaxMS:              pick(host.PingMaxMS, global.PingMaxMS),
		DailyHistory:           deref(pick(host.DailyHistory, global.DailyHistory)),
		WeeklyHistory:          deref(pick(host.WeeklyHistory, global.WeeklyHistory)),
		MonthlyHistory:         deref(pick(host.MonthlyHistory, global.MonthlyHistory)),
		Priority:               deref(pick(host.Priority, global.Priority)),
		RsyncChecksumFrequency: pick(host.RsyncChecksumFrequency, global.RsyncChecksumFrequency),
		RsyncDoCompress:        deref(pick(host.RsyncDoCompress, global.RsyncDoCompress)),
	}
}

// History returns the configured retention depth of a generation.
func (c Config) History(g model.Generation) int {
	switch g {
	case model.Monthly:
		return c.MonthlyHistory
	case model.Weekly:
		return c.WeeklyHistory
	default:
		return c.DailyHistory
	}
}

// ChecksumDue reports whether the next run should be a full checksum run:
// checksum runs are enabled and either none has completed yet or the
// frequency has elapsed since the last one.
func (c Config) ChecksumDue(last *time.Time, now time.Time) bool {
	if c.RsyncChecksumFrequency == nil {
		return false
	}
	if last == nil {
		return true
	}
	return last.Add(*c.RsyncChecksumFrequency).Before(now)
}

func pick[T any](host, global *T) *T {
	if host != nil {
		return host
	}
	return global
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
