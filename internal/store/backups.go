package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/nab/internal/model"
)

const backupColumns = `id, host_id, storage_id, run_id, generation, start_time, end_time, backup_pid,
	successful, was_checksum_run, harness_returncode, snapshot_location`

// CreateBackup inserts a backup record and sets its ID. Inserting a second
// record with a non-null pid for the same host fails with ErrIntegrity.
func (s *Store) CreateBackup(b *model.Backup) error {
	res, err := s.db.Exec(`
		INSERT INTO backups (host_id, storage_id, run_id, generation, start_time, end_time, backup_pid,
			successful, was_checksum_run, harness_returncode, snapshot_location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.HostID, b.StorageID, b.RunID, string(b.Generation), unixOrNil(b.StartTime), unixOrNil(b.EndTime),
		val(b.BackupPID), val(b.Successful), b.WasChecksumRun, val(b.HarnessReturnCode), val(b.SnapshotLocation),
	)
	if err != nil {
		return wrapErr("inserting backup", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// UpdateBackup writes every mutable attribute of a backup record.
func (s *Store) UpdateBackup(b model.Backup) error {
	_, err := s.db.Exec(`
		UPDATE backups SET generation = ?, start_time = ?, end_time = ?, backup_pid = ?, successful = ?,
			was_checksum_run = ?, harness_returncode = ?, snapshot_location = ?
		WHERE id = ?`,
		string(b.Generation), unixOrNil(b.StartTime), unixOrNil(b.EndTime), val(b.BackupPID),
		val(b.Successful), b.WasChecksumRun, val(b.HarnessReturnCode), val(b.SnapshotLocation), b.ID,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("updating backup %d", b.ID), err)
	}
	return nil
}

// ClearBackupPID sets backup_pid to NULL on one record.
func (s *Store) ClearBackupPID(id int64) error {
	if _, err := s.db.Exec(`UPDATE backups SET backup_pid = NULL WHERE id = ?`, id); err != nil {
		return wrapErr(fmt.Sprintf("clearing pid of backup %d", id), err)
	}
	return nil
}

func scanBackup(row scanner) (model.Backup, error) {
	var b model.Backup
	var gen string
	var start, end, pid, rc sql.NullInt64
	var ok sql.NullBool
	var loc sql.NullString
	if err := row.Scan(&b.ID, &b.HostID, &b.StorageID, &b.RunID, &gen, &start, &end, &pid,
		&ok, &b.WasChecksumRun, &rc, &loc); err != nil {
		return b, err
	}
	b.Generation = model.Generation(gen)
	b.StartTime = timePtr(start)
	b.EndTime = timePtr(end)
	b.BackupPID = intPtr(pid)
	b.Successful = boolPtr(ok)
	b.HarnessReturnCode = intPtr(rc)
	b.SnapshotLocation = stringPtr(loc)
	return b, nil
}

// GetBackup returns a backup record by ID.
func (s *Store) GetBackup(id int64) (model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(`SELECT `+backupColumns+` FROM backups WHERE id = ?`, id))
	if err != nil {
		return b, wrapErr(fmt.Sprintf("reading backup %d", id), err)
	}
	return b, nil
}

// BackupFilter narrows ListBackups. Zero values do not filter.
type BackupFilter struct {
	HostID      int64
	Generation  model.Generation
	Successful  *bool
	Running     bool // only records with a non-null pid
	Limit       int
	NewestFirst bool
}

// ListBackups returns backup records matching f, ordered by ID.
func (s *Store) ListBackups(f BackupFilter) ([]model.Backup, error) {
	var where []string
	var args []any
	if f.HostID != 0 {
		where = append(where, "host_id = ?")
		args = append(args, f.HostID)
	}
	if f.Generation != "" {
		where = append(where, "generation = ?")
		args = append(args, string(f.Generation))
	}
	if f.Successful != nil {
		where = append(where, "successful = ?")
		args = append(args, *f.Successful)
	}
	if f.Running {
		where = append(where, "backup_pid IS NOT NULL")
	}

	query := `SELECT ` + backupColumns + ` FROM backups`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		query += ` ORDER BY id DESC`
	} else {
		query += ` ORDER BY id ASC`
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying backups: %w", err)
	}
	defer rows.Close()

	var out []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backup: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LastSuccessfulBackup returns the most recent successful backup of a host,
// or ErrNotFound.
func (s *Store) LastSuccessfulBackup(hostID int64) (model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(`
		SELECT `+backupColumns+` FROM backups
		WHERE host_id = ? AND successful = 1
		ORDER BY id DESC LIMIT 1`, hostID))
	if err != nil {
		return b, wrapErr(fmt.Sprintf("reading last successful backup of host %d", hostID), err)
	}
	return b, nil
}

// CountRunning returns the number of records with a non-null pid whose host
// belongs to serverID.
func (s *Store) CountRunning(serverID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM backups b JOIN hosts h ON h.id = b.host_id
		WHERE b.backup_pid IS NOT NULL AND h.backup_server_id = ?`, serverID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting running backups: %w", err)
	}
	return n, nil
}
