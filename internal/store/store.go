// Package store provides SQLite persistence for nab.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/darshan-rambhia/nab/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrIntegrity is returned when a uniqueness, foreign-key, check or
	// not-null constraint rejects a write.
	ErrIntegrity = errors.New("integrity violation")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Store wraps a SQLite database for nab data persistence.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the metadata singleton and the global host configuration if
// they do not exist yet. It is safe to call on every start.
func (s *Store) Init() error {
	if _, err := s.Metadata(); errors.Is(err, ErrNotFound) {
		if err := s.CreateMetadata(); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, err := s.GlobalHostConfig(); errors.Is(err, ErrNotFound) {
		global := &model.HostConfig{
			FailureWarnAfter: model.Ptr(3 * 24 * time.Hour),
			UseGlobalFilters: model.Ptr(true),
			DailyHistory:     model.Ptr(7),
			WeeklyHistory:    model.Ptr(4),
			MonthlyHistory:   model.Ptr(12),
			Priority:         model.Ptr(5),
			RsyncDoCompress:  model.Ptr(false),
		}
		if err := s.CreateHostConfig(global); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return nil
}

// CreateMetadata inserts the metadata singleton. A second call fails with
// ErrIntegrity.
func (s *Store) CreateMetadata() error {
	_, err := s.db.Exec(`INSERT INTO metadata (id, database_version) VALUES (1, ?)`, schemaVersion)
	if err != nil {
		return wrapErr("inserting metadata", err)
	}
	return nil
}

// Metadata returns the metadata singleton.
func (s *Store) Metadata() (model.Metadata, error) {
	var m model.Metadata
	err := s.db.QueryRow(`SELECT id, database_version FROM metadata WHERE id = 1`).Scan(&m.ID, &m.DatabaseVersion)
	if err != nil {
		return m, wrapErr("reading metadata", err)
	}
	return m, nil
}

// wrapErr annotates err with op and classifies constraint failures and
// missing rows.
func wrapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%s: %w: %v", op, ErrIntegrity, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func secondsOrNil(d *time.Duration) any {
	if d == nil {
		return nil
	}
	return int64(d.Seconds())
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func durationPtr(v sql.NullInt64) *time.Duration {
	if !v.Valid {
		return nil
	}
	d := time.Duration(v.Int64) * time.Second
	return &d
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func todPtr(v sql.NullInt64) *model.TimeOfDay {
	if !v.Valid {
		return nil
	}
	t := model.TimeOfDay(v.Int64)
	return &t
}

// val dereferences p for use as a query argument, mapping nil to NULL.
func val[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func todOrNil(t *model.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return int64(*t)
}
