package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
)

// InsertHostUsage records a host usage sample.
func (s *Store) InsertHostUsage(u *model.HostUsage) error {
	res, err := s.db.Exec(`
		INSERT INTO host_usage (host_id, sample_date, used_by_dataset, used_by_snapshots,
			compression_ratio_percent, runtime)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.HostID, sampleDate(u.SampleDate), val(u.UsedByDataset), val(u.UsedBySnapshots),
		val(u.CompressionRatioPercent), secondsOrNil(u.Runtime),
	)
	if err != nil {
		return wrapErr("inserting host usage", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// InsertStorageUsage records a storage usage sample.
func (s *Store) InsertStorageUsage(u *model.StorageUsage) error {
	res, err := s.db.Exec(`
		INSERT INTO storage_usage (storage_id, sample_date, total_bytes, free_bytes, used_bytes,
			usage_percent, dedup_ratio_percent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.StorageID, sampleDate(u.SampleDate), val(u.TotalBytes), val(u.FreeBytes), val(u.UsedBytes),
		val(u.UsagePercent), val(u.DedupRatioPercent),
	)
	if err != nil {
		return wrapErr("inserting storage usage", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// LatestStorageUsage returns the most recent usage sample of a storage location.
func (s *Store) LatestStorageUsage(storageID int64) (model.StorageUsage, error) {
	var u model.StorageUsage
	var date int64
	var total, free, used, pct, dedup sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, storage_id, sample_date, total_bytes, free_bytes, used_bytes, usage_percent, dedup_ratio_percent
		FROM storage_usage WHERE storage_id = ? ORDER BY id DESC LIMIT 1`, storageID,
	).Scan(&u.ID, &u.StorageID, &date, &total, &free, &used, &pct, &dedup)
	if err != nil {
		return u, wrapErr(fmt.Sprintf("reading storage usage of %d", storageID), err)
	}
	u.SampleDate = time.Unix(date, 0)
	u.TotalBytes = int64Ptr(total)
	u.FreeBytes = int64Ptr(free)
	u.UsedBytes = int64Ptr(used)
	u.UsagePercent = intPtr(pct)
	u.DedupRatioPercent = intPtr(dedup)
	return u, nil
}

// InsertAlert logs an alert.
func (s *Store) InsertAlert(ts int64, alertType, host, message, severity string) error {
	_, err := s.db.Exec(`
		INSERT INTO alert_log (ts, alert_type, host, message, severity)
		VALUES (?, ?, ?, ?, ?)`,
		ts, alertType, host, message, severity,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// sampleDate truncates t to local midnight. A zero time is stored as NULL so
// the not-null constraint rejects it.
func sampleDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).Unix()
}

// RecentAlerts returns the newest alert log entries, newest first.
func (s *Store) RecentAlerts(limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, ts, alert_type, host, message, severity
		FROM alert_log ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var ts int64
		var host sql.NullString
		if err := rows.Scan(&a.ID, &ts, &a.AlertType, &host, &a.Message, &a.Severity); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		a.Timestamp = time.Unix(ts, 0)
		a.Host = host.String
		out = append(out, a)
	}
	return out, rows.Err()
}
