package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

var _ repository.AuditRepository = (*DB)(nil)

// CreateAuditLog appends one audit row. CreatedAt is set from the DB clock
// when the caller leaves it zero.
func (db *DB) CreateAuditLog(ctx context.Context, entry *model.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = db.now().UTC().Truncate(time.Second)
	}
	if entry.Username == "" {
		entry.Username = model.AnonymousUsername
	}
	details := string(entry.Details)
	if details == "" {
		details = "{}"
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO audit_log (user_id, username, action, details, ip_address, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(entry.UserID),
		entry.Username,
		entry.Action,
		details,
		entry.IPAddress,
		entry.UserAgent,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting audit log %q: %w", entry.Action, err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("sqlite: reading audit log id: %w", err)
	}
	return nil
}

// ListAuditLogs returns matching rows newest first. Limits are applied as
// given; callers clamp them.
func (db *DB) ListAuditLogs(ctx context.Context, filter repository.AuditFilter, opts repository.ListOptions) ([]model.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.Start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Start))
	}
	if !filter.End.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(filter.End))
	}

	query := `SELECT id, user_id, username, action, details, ip_address, user_agent, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing audit logs: %w", err)
	}
	defer rows.Close()

	logs := []model.AuditLog{}
	for rows.Next() {
		var (
			l       model.AuditLog
			userID  sql.NullInt64
			details string
		)
		if err := rows.Scan(&l.ID, &userID, &l.Username, &l.Action, &details,
			&l.IPAddress, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning audit log: %w", err)
		}
		l.UserID = int64Ptr(userID)
		l.Details = []byte(details)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// AuditStats computes the total, a per-action breakdown (largest first) and
// per-day counts for rows created at or after since (newest day first).
func (db *DB) AuditStats(ctx context.Context, since time.Time) (*model.AuditStats, error) {
	stats := &model.AuditStats{
		ByAction:       []model.ActionCount{},
		RecentActivity: []model.DailyCount{},
	}

	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log`,
	).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("sqlite: counting audit logs: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT action, COUNT(*) AS n FROM audit_log GROUP BY action ORDER BY n DESC, action ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: audit stats by action: %w", err)
	}
	for rows.Next() {
		var c model.ActionCount
		if err := rows.Scan(&c.Action, &c.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning action count: %w", err)
		}
		stats.ByAction = append(stats.ByAction, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating action counts: %w", err)
	}

	rows, err = db.conn.QueryContext(ctx,
		`SELECT DATE(created_at) AS day, COUNT(*)
		 FROM audit_log
		 WHERE created_at >= ?
		 GROUP BY day
		 ORDER BY day DESC`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: audit stats by day: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d model.DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("sqlite: scanning daily count: %w", err)
		}
		stats.RecentActivity = append(stats.RecentActivity, d)
	}
	return stats, rows.Err()
}

// DeleteAuditLogsBefore removes rows older than cutoff and reports how many.
func (db *DB) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting audit logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting deleted audit logs: %w", err)
	}
	return n, nil
}
