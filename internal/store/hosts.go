package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
)

// CreateBackupServer inserts a backup server and sets its ID.
func (s *Store) CreateBackupServer(bs *model.BackupServer) error {
	if bs.SchedulerSlots == 0 {
		bs.SchedulerSlots = 6
	}
	res, err := s.db.Exec(`
		INSERT INTO backup_servers (hostname, scheduler_slots, ssh_supports_y)
		VALUES (?, ?, ?)`,
		bs.Hostname, bs.SchedulerSlots, bs.SSHSupportsY,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("inserting backup server %s", bs.Hostname), err)
	}
	bs.ID, err = res.LastInsertId()
	return err
}

// BackupServerByName returns the backup server with the given hostname.
func (s *Store) BackupServerByName(hostname string) (model.BackupServer, error) {
	var bs model.BackupServer
	err := s.db.QueryRow(`
		SELECT id, hostname, scheduler_slots, ssh_supports_y
		FROM backup_servers WHERE hostname = ?`, hostname,
	).Scan(&bs.ID, &bs.Hostname, &bs.SchedulerSlots, &bs.SSHSupportsY)
	if err != nil {
		return bs, wrapErr(fmt.Sprintf("reading backup server %s", hostname), err)
	}
	return bs, nil
}

// GetBackupServer returns a backup server by ID.
func (s *Store) GetBackupServer(id int64) (model.BackupServer, error) {
	var bs model.BackupServer
	err := s.db.QueryRow(`
		SELECT id, hostname, scheduler_slots, ssh_supports_y
		FROM backup_servers WHERE id = ?`, id,
	).Scan(&bs.ID, &bs.Hostname, &bs.SchedulerSlots, &bs.SSHSupportsY)
	if err != nil {
		return bs, wrapErr(fmt.Sprintf("reading backup server %d", id), err)
	}
	return bs, nil
}

// CreateStorage inserts a storage location and sets its ID.
func (s *Store) CreateStorage(st *model.Storage) error {
	res, err := s.db.Exec(`
		INSERT INTO storage (backup_server_id, method, arg1, arg2, arg3, arg4, arg5)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.BackupServerID, st.Method,
		val(st.Args[0]), val(st.Args[1]), val(st.Args[2]), val(st.Args[3]), val(st.Args[4]),
	)
	if err != nil {
		return wrapErr("inserting storage", err)
	}
	st.ID, err = res.LastInsertId()
	return err
}

const storageColumns = `id, backup_server_id, method, arg1, arg2, arg3, arg4, arg5`

func scanStorage(row scanner) (model.Storage, error) {
	var st model.Storage
	var args [5]sql.NullString
	if err := row.Scan(&st.ID, &st.BackupServerID, &st.Method,
		&args[0], &args[1], &args[2], &args[3], &args[4]); err != nil {
		return st, err
	}
	for i, a := range args {
		st.Args[i] = stringPtr(a)
	}
	return st, nil
}

// GetStorage returns a storage location by ID.
func (s *Store) GetStorage(id int64) (model.Storage, error) {
	st, err := scanStorage(s.db.QueryRow(`SELECT `+storageColumns+` FROM storage WHERE id = ?`, id))
	if err != nil {
		return st, wrapErr(fmt.Sprintf("reading storage %d", id), err)
	}
	return st, nil
}

// ListStorage returns the storage locations of a backup server ordered by ID.
func (s *Store) ListStorage(serverID int64) ([]model.Storage, error) {
	rows, err := s.db.Query(`SELECT `+storageColumns+` FROM storage WHERE backup_server_id = ? ORDER BY id`, serverID)
	if err != nil {
		return nil, fmt.Errorf("querying storage: %w", err)
	}
	defer rows.Close()

	var out []model.Storage
	for rows.Next() {
		st, err := scanStorage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning storage: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// FirstStorage returns the lowest-ID storage location of a backup server.
func (s *Store) FirstStorage(serverID int64) (model.Storage, error) {
	st, err := scanStorage(s.db.QueryRow(
		`SELECT `+storageColumns+` FROM storage WHERE backup_server_id = ? ORDER BY id LIMIT 1`, serverID))
	if err != nil {
		return st, wrapErr(fmt.Sprintf("reading storage for server %d", serverID), err)
	}
	return st, nil
}

// CreateHost inserts a host and sets its ID.
func (s *Store) CreateHost(h *model.Host) error {
	res, err := s.db.Exec(`
		INSERT INTO hosts (backup_server_id, hostname, ip_address, active, next_backup,
		                   window_start, window_end, last_rsync_checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.BackupServerID, h.Hostname, val(h.IPAddress), h.Active, unixOrNil(h.NextBackup),
		todOrNil(h.WindowStart), todOrNil(h.WindowEnd), unixOrNil(h.LastRsyncChecksum),
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("inserting host %s", h.Hostname), err)
	}
	h.ID, err = res.LastInsertId()
	return err
}

// UpdateHost writes every mutable host attribute.
func (s *Store) UpdateHost(h model.Host) error {
	_, err := s.db.Exec(`
		UPDATE hosts SET backup_server_id = ?, hostname = ?, ip_address = ?, active = ?,
			next_backup = ?, window_start = ?, window_end = ?, last_rsync_checksum = ?
		WHERE id = ?`,
		h.BackupServerID, h.Hostname, val(h.IPAddress), h.Active, unixOrNil(h.NextBackup),
		todOrNil(h.WindowStart), todOrNil(h.WindowEnd), unixOrNil(h.LastRsyncChecksum), h.ID,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("updating host %s", h.Hostname), err)
	}
	return nil
}

// SetNextBackup records when the host should be backed up next.
func (s *Store) SetNextBackup(hostID int64, t time.Time) error {
	if _, err := s.db.Exec(`UPDATE hosts SET next_backup = ? WHERE id = ?`, t.Unix(), hostID); err != nil {
		return wrapErr("updating next backup", err)
	}
	return nil
}

// SetLastRsyncChecksum records the completion time of a full checksum run.
func (s *Store) SetLastRsyncChecksum(hostID int64, t time.Time) error {
	if _, err := s.db.Exec(`UPDATE hosts SET last_rsync_checksum = ? WHERE id = ?`, t.Unix(), hostID); err != nil {
		return wrapErr("updating last checksum run", err)
	}
	return nil
}

const hostColumns = `id, backup_server_id, hostname, ip_address, active, next_backup,
	window_start, window_end, last_rsync_checksum`

func scanHost(row scanner) (model.Host, error) {
	var h model.Host
	var ip sql.NullString
	var next, ws, we, sum sql.NullInt64
	if err := row.Scan(&h.ID, &h.BackupServerID, &h.Hostname, &ip, &h.Active, &next, &ws, &we, &sum); err != nil {
		return h, err
	}
	h.IPAddress = stringPtr(ip)
	h.NextBackup = timePtr(next)
	h.WindowStart = todPtr(ws)
	h.WindowEnd = todPtr(we)
	h.LastRsyncChecksum = timePtr(sum)
	return h, nil
}

// GetHost returns a host by ID.
func (s *Store) GetHost(id int64) (model.Host, error) {
	h, err := scanHost(s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id))
	if err != nil {
		return h, wrapErr(fmt.Sprintf("reading host %d", id), err)
	}
	return h, nil
}

// HostByName returns a host by hostname.
func (s *Store) HostByName(hostname string) (model.Host, error) {
	h, err := scanHost(s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE hostname = ?`, hostname))
	if err != nil {
		return h, wrapErr(fmt.Sprintf("reading host %s", hostname), err)
	}
	return h, nil
}

// ListHosts returns all hosts, or only those of serverID when it is non-zero,
// ordered by hostname.
func (s *Store) ListHosts(serverID int64) ([]model.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts`
	var args []any
	if serverID != 0 {
		query += ` WHERE backup_server_id = ?`
		args = append(args, serverID)
	}
	query += ` ORDER BY hostname`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying hosts: %w", err)
	}
	defer rows.Close()

	var out []model.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning host: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
