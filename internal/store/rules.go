package store

import (
	"database/sql"
	"fmt"

	"github.com/darshan-rambhia/nab/internal/model"
)

// CreateFilterRule inserts a filter rule and sets its ID. An empty priority
// takes the column default "5"; an empty rule is rejected with ErrIntegrity.
func (s *Store) CreateFilterRule(r *model.FilterRule) error {
	if r.Priority == "" {
		r.Priority = "5"
	}
	var rule any
	if r.RsyncRule != "" {
		rule = r.RsyncRule
	}
	res, err := s.db.Exec(`INSERT INTO filter_rules (host_id, priority, rsync_rule) VALUES (?, ?, ?)`,
		val(r.HostID), r.Priority, rule)
	if err != nil {
		return wrapErr("inserting filter rule", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// FilterRulesFor returns the rules applying to hostID: its own rules plus,
// when includeGlobal is set, the global ones. Rules are ordered by priority
// compared as a byte string (so "4" < "42" < "5"), then by ID.
func (s *Store) FilterRulesFor(hostID int64, includeGlobal bool) ([]model.FilterRule, error) {
	query := `SELECT id, host_id, priority, rsync_rule FROM filter_rules WHERE host_id = ?`
	if includeGlobal {
		query += ` OR host_id IS NULL`
	}
	query += ` ORDER BY priority COLLATE BINARY ASC, id ASC`

	rows, err := s.db.Query(query, hostID)
	if err != nil {
		return nil, fmt.Errorf("querying filter rules: %w", err)
	}
	defer rows.Close()

	var out []model.FilterRule
	for rows.Next() {
		var r model.FilterRule
		var host sql.NullInt64
		if err := rows.Scan(&r.ID, &host, &r.Priority, &r.RsyncRule); err != nil {
			return nil, fmt.Errorf("scanning filter rule: %w", err)
		}
		r.HostID = int64Ptr(host)
		out = append(out, r)
	}
	return out, rows.Err()
}
