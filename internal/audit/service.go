package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
)

// Action names written by the routes.
const (
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionLogout             = "logout"
	ActionUserRegistered     = "user_registered"
	ActionPasswordChanged    = "password_changed"
	ActionButtonSizeChanged  = "button_size_changed"
	ActionAvatarUpdated      = "avatar_updated"
	ActionAvatarDeleted      = "avatar_deleted"
	ActionButtonUploaded     = "button_uploaded"
	ActionButtonLinked       = "button_linked"
	ActionButtonUnlinked     = "button_unlinked"
	ActionButtonsReordered   = "buttons_reordered"
	ActionBulkOperation      = "bulk_operation"
	ActionCategoryCreated    = "category_created"
	ActionCategoryUpdated    = "category_updated"
	ActionCategoryDeleted    = "category_deleted"
	ActionButtonUpdated      = "button_updated"
	ActionButtonDeleted      = "button_deleted"
	ActionAdminStatusChanged = "admin_status_changed"
	ActionUserDeleted        = "user_deleted"
	ActionButtonRestored     = "button_restored"
	ActionAuditCleanup       = "audit_cleanup"
)

// Pagination bounds. "All" and date-range listings are broad; per-user,
// per-action and failed-login listings are narrow.
const (
	BroadDefaultLimit  = 100
	BroadMaxLimit      = 1000
	NarrowDefaultLimit = 50
	NarrowMaxLimit     = 500

	DefaultRetentionDays = 90
	statsWindow          = 7 * 24 * time.Hour
)

// Query selects audit rows. The first populated filter wins, in the order
// Action, UserID, Start+End; with none set every row is listed.
type Query struct {
	Action string
	UserID int64
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

// Service is the read and retention side of the audit log.
//
// PAGINATION CLAMPS:
// Limits are never passed through as given. A listing of every row is
// "broad" and allows up to BroadMaxLimit rows per page; a listing filtered
// by action, user or date range is "narrow" and allows NarrowMaxLimit.
// A limit of zero or less means the default for that kind, a larger one is
// cut to the maximum, and a negative offset reads from the start. So
// ?limit=5000&offset=-5 on the unfiltered listing returns the first 1000
// rows rather than an error.
//
// RETENTION:
// Cleanup deletes rows older than a number of days (DefaultRetentionDays
// unless told otherwise) and reports how many went. The same call serves the
// admin route and the `soundboard audit cleanup` command.
type Service struct {
	repo repository.AuditRepository
	now  func() time.Time
}

func NewService(repo repository.AuditRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// clampLimit maps a requested limit into [1, max]; zero or less means def.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func (s *Service) List(ctx context.Context, q Query) ([]model.AuditLog, error) {
	var (
		filter repository.AuditFilter
		opts   = repository.ListOptions{Offset: clampOffset(q.Offset)}
	)
	switch {
	case q.Action != "":
		filter.Action = q.Action
		opts.Limit = clampLimit(q.Limit, NarrowDefaultLimit, NarrowMaxLimit)
	case q.UserID != 0:
		filter.UserID = q.UserID
		opts.Limit = clampLimit(q.Limit, NarrowDefaultLimit, NarrowMaxLimit)
	case !q.Start.IsZero() && !q.End.IsZero():
		if q.End.Before(q.Start) {
			return nil, apperror.ValidationFailed("endDate", "endDate must not be before startDate")
		}
		filter.Start, filter.End = q.Start, q.End
		opts.Limit = clampLimit(q.Limit, BroadDefaultLimit, BroadMaxLimit)
	default:
		opts.Limit = clampLimit(q.Limit, BroadDefaultLimit, BroadMaxLimit)
	}

	logs, err := s.repo.ListAuditLogs(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("service/audit: listing: %w", err)
	}
	return logs, nil
}

func (s *Service) FailedLogins(ctx context.Context, limit, offset int) ([]model.AuditLog, error) {
	return s.List(ctx, Query{Action: ActionLoginFailed, Limit: limit, Offset: offset})
}

// Stats reports totals and the per-day activity of the last seven days.
func (s *Service) Stats(ctx context.Context) (*model.AuditStats, error) {
	stats, err := s.repo.AuditStats(ctx, s.now().Add(-statsWindow))
	if err != nil {
		return nil, fmt.Errorf("service/audit: stats: %w", err)
	}
	return stats, nil
}

// Cleanup deletes rows older than days days and returns how many went.
// days of zero means DefaultRetentionDays.
func (s *Service) Cleanup(ctx context.Context, days int) (int64, error) {
	if days == 0 {
		days = DefaultRetentionDays
	}
	if days < 1 {
		return 0, apperror.ValidationFailed("days", "days must be a positive number")
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := s.repo.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("service/audit: cleanup: %w", err)
	}
	return n, nil
}
