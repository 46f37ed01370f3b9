package store

// schemaVersion is recorded in the metadata singleton.
const schemaVersion = 1

// Timestamps are unix seconds, durations are seconds and times of day are
// seconds since midnight.
const schema = `
-- Installation metadata (exactly one row)
CREATE TABLE IF NOT EXISTS metadata (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    database_version INTEGER NOT NULL
);

-- Machines that store and run backups
CREATE TABLE IF NOT EXISTS backup_servers (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    hostname        TEXT    NOT NULL UNIQUE,
    scheduler_slots INTEGER NOT NULL DEFAULT 6,
    ssh_supports_y  INTEGER NOT NULL DEFAULT 1
);

-- Storage locations; method selects the backend, args are backend-defined
CREATE TABLE IF NOT EXISTS storage (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    backup_server_id INTEGER NOT NULL REFERENCES backup_servers(id),
    method           TEXT    NOT NULL,
    arg1             TEXT,
    arg2             TEXT,
    arg3             TEXT,
    arg4             TEXT,
    arg5             TEXT
);

-- Backed-up hosts
CREATE TABLE IF NOT EXISTS hosts (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    backup_server_id    INTEGER NOT NULL REFERENCES backup_servers(id),
    hostname            TEXT    NOT NULL UNIQUE,
    ip_address          TEXT,
    active              INTEGER NOT NULL DEFAULT 1,
    next_backup         INTEGER,
    window_start        INTEGER,
    window_end          INTEGER,
    last_rsync_checksum INTEGER
);

-- Per-host configuration; host_id NULL is the global default
CREATE TABLE IF NOT EXISTS host_configs (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    host_id                  INTEGER UNIQUE REFERENCES hosts(id),
    alerts_mail_address      TEXT,
    failure_warn_after       INTEGER,
    use_global_filters       INTEGER,
    check_connectivity       INTEGER,
    ping_max_ms              INTEGER,
    daily_history            INTEGER,
    weekly_history           INTEGER,
    monthly_history          INTEGER,
    priority                 INTEGER,
    rsync_checksum_frequency INTEGER,
    rsync_do_compress        INTEGER
);

-- Execution records (never deleted)
CREATE TABLE IF NOT EXISTS backups (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    host_id            INTEGER NOT NULL REFERENCES hosts(id),
    storage_id         INTEGER NOT NULL REFERENCES storage(id),
    run_id             TEXT    NOT NULL DEFAULT '',
    generation         TEXT    NOT NULL CHECK (generation IN ('daily', 'weekly', 'monthly')),
    start_time         INTEGER,
    end_time           INTEGER,
    backup_pid         INTEGER,
    successful         INTEGER,
    was_checksum_run   INTEGER NOT NULL,
    harness_returncode INTEGER,
    snapshot_location  TEXT
);

-- rsync filter rules; host_id NULL is global
CREATE TABLE IF NOT EXISTS filter_rules (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    host_id    INTEGER REFERENCES hosts(id),
    priority   TEXT    NOT NULL DEFAULT '5',
    rsync_rule TEXT    NOT NULL
);

-- Usage samples (informational)
CREATE TABLE IF NOT EXISTS host_usage (
    id                        INTEGER PRIMARY KEY AUTOINCREMENT,
    host_id                   INTEGER NOT NULL REFERENCES hosts(id),
    sample_date               INTEGER NOT NULL,
    used_by_dataset           INTEGER,
    used_by_snapshots         INTEGER,
    compression_ratio_percent INTEGER,
    runtime                   INTEGER
);

CREATE TABLE IF NOT EXISTS storage_usage (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    storage_id          INTEGER NOT NULL REFERENCES storage(id),
    sample_date         INTEGER NOT NULL,
    total_bytes         INTEGER,
    free_bytes          INTEGER,
    used_bytes          INTEGER,
    usage_percent       INTEGER,
    dedup_ratio_percent INTEGER
);

-- Alert log (30d retention)
CREATE TABLE IF NOT EXISTS alert_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ts          INTEGER NOT NULL,
    alert_type  TEXT    NOT NULL,
    host        TEXT,
    message     TEXT    NOT NULL,
    severity    TEXT    NOT NULL
);

-- At most one global config row.
CREATE UNIQUE INDEX IF NOT EXISTS idx_host_configs_global ON host_configs(IFNULL(host_id, -1));

-- At most one in-flight backup per host.
CREATE UNIQUE INDEX IF NOT EXISTS idx_backups_running ON backups(host_id) WHERE backup_pid IS NOT NULL;

-- Secondary indexes
CREATE INDEX IF NOT EXISTS idx_backups_host_gen ON backups(host_id, generation, successful);
CREATE INDEX IF NOT EXISTS idx_filter_rules_host ON filter_rules(host_id, priority);
CREATE INDEX IF NOT EXISTS idx_host_usage_date ON host_usage(sample_date);
CREATE INDEX IF NOT EXISTS idx_storage_usage_date ON storage_usage(sample_date);
CREATE INDEX IF NOT EXISTS idx_alert_ts ON alert_log(ts);
`
