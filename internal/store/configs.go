package store

import (
	"database/sql"
	"fmt"

	"github.com/darshan-rambhia/nab/internal/model"
)

const hostConfigColumns = `id, host_id, alerts_mail_address, failure_warn_after, use_global_filters,
	check_connectivity, ping_max_ms, daily_history, weekly_history, monthly_history,
	priority, rsync_checksum_frequency, rsync_do_compress`

// CreateHostConfig inserts a host configuration and sets its ID. A second
// global record, or a second record for the same host, fails with ErrIntegrity.
func (s *Store) CreateHostConfig(c *model.HostConfig) error {
	res, err := s.db.Exec(`
		INSERT INTO host_configs (host_id, alerts_mail_address, failure_warn_after, use_global_filters,
			check_connectivity, ping_max_ms, daily_history, weekly_history, monthly_history,
			priority, rsync_checksum_frequency, rsync_do_compress)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		val(c.HostID), val(c.AlertsMailAddress), secondsOrNil(c.FailureWarnAfter), val(c.UseGlobalFilters),
		val(c.CheckConnectivity), val(c.PingMaxMS), val(c.DailyHistory), val(c.WeeklyHistory),
		val(c.MonthlyHistory), val(c.Priority), secondsOrNil(c.RsyncChecksumFrequency), val(c.RsyncDoCompress),
	)
	if err != nil {
		return wrapErr("inserting host config", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateHostConfig writes every value of an existing host configuration.
func (s *Store) UpdateHostConfig(c model.HostConfig) error {
	_, err := s.db.Exec(`
		UPDATE host_configs SET alerts_mail_address = ?, failure_warn_after = ?, use_global_filters = ?,
			check_connectivity = ?, ping_max_ms = ?, daily_history = ?, weekly_history = ?,
			monthly_history = ?, priority = ?, rsync_checksum_frequency = ?, rsync_do_compress = ?
		WHERE id = ?`,
		val(c.AlertsMailAddress), secondsOrNil(c.FailureWarnAfter), val(c.UseGlobalFilters),
		val(c.CheckConnectivity), val(c.PingMaxMS), val(c.DailyHistory), val(c.WeeklyHistory),
		val(c.MonthlyHistory), val(c.Priority), secondsOrNil(c.RsyncChecksumFrequency), val(c.RsyncDoCompress),
		c.ID,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("updating host config %d", c.ID), err)
	}
	return nil
}

func scanHostConfig(row scanner) (model.HostConfig, error) {
	var c model.HostConfig
	var hostID, warn, ping, daily, weekly, monthly, prio, freq sql.NullInt64
	var mail sql.NullString
	var globalFilters, conn, compress sql.NullBool
	if err := row.Scan(&c.ID, &hostID, &mail, &warn, &globalFilters, &conn, &ping,
		&daily, &weekly, &monthly, &prio, &freq, &compress); err != nil {
		return c, err
	}
	c.HostID = int64Ptr(hostID)
	c.AlertsMailAddress = stringPtr(mail)
	c.FailureWarnAfter = durationPtr(warn)
	c.UseGlobalFilters = boolPtr(globalFilters)
	c.CheckConnectivity = boolPtr(conn)
	c.PingMaxMS = intPtr(ping)
	c.DailyHistory = intPtr(daily)
	c.WeeklyHistory = intPtr(weekly)
	c.MonthlyHistory = intPtr(monthly)
	c.Priority = intPtr(prio)
	c.RsyncChecksumFrequency = durationPtr(freq)
	c.RsyncDoCompress = boolPtr(compress)
	return c, nil
}

// GlobalHostConfig returns the global default configuration.
func (s *Store) GlobalHostConfig() (model.HostConfig, error) {
	c, err := scanHostConfig(s.db.QueryRow(`SELECT ` + hostConfigColumns + ` FROM host_configs WHERE host_id IS NULL`))
	if err != nil {
		return c, wrapErr("reading global host config", err)
	}
	return c, nil
}

// HostConfigFor returns the host-specific configuration of hostID, or
// ErrNotFound if the host has none.
func (s *Store) HostConfigFor(hostID int64) (model.HostConfig, error) {
	c, err := scanHostConfig(s.db.QueryRow(`SELECT `+hostConfigColumns+` FROM host_configs WHERE host_id = ?`, hostID))
	if err != nil {
		return c, wrapErr(fmt.Sprintf("reading host config for host %d", hostID), err)
	}
	return c, nil
}
