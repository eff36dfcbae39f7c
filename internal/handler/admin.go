package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/service"
)

// AdminHandler serves /api/admin. The router gates each route by tier;
// the handler only enforces what depends on the caller's identity.
type AdminHandler struct {
	admin   *service.AdminService
	audits  *audit.Service
	prefs   *service.PreferenceService
	actions ActionLogger
	logger  *slog.Logger
}

func NewAdminHandler(
	admin *service.AdminService,
	audits *audit.Service,
	prefs *service.PreferenceService,
	actions ActionLogger,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{admin: admin, audits: audits, prefs: prefs, actions: actions, logger: logger}
}

// ===== USERS =====

// HTTP: GET /api/admin/users
func (h *AdminHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"users": users})
}

type toggleAdminRequest struct {
	Level *model.Tier `json:"level"`
}

// HandleToggleAdmin flips the target between regular user and admin, or
// sets an explicit level when the body carries one.
//
// HTTP: POST /api/admin/users/{id}/toggle-admin
func (h *AdminHandler) HandleToggleAdmin(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req toggleAdminRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	change, err := h.admin.ToggleAdmin(r.Context(), p.ID, id, req.Level)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.actions.LogAction(r.Context(), r, audit.ActionAdminStatusChanged, map[string]any{
		"targetUserId":   change.User.ID,
		"targetUsername": change.User.Username,
		"previousStatus": int(change.Previous),
		"newStatus":      int(change.User.Tier),
	})

	message := "Admin privileges revoked"
	if change.User.Tier.IsAdmin() {
		message = "Admin privileges granted"
	}
	writeOK(w, http.StatusOK, message, payload{"is_admin": change.User.Tier})
}

// HTTP: DELETE /api/admin/users/{id}
func (h *AdminHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	deleted, err := h.admin.DeleteUser(r.Context(), p.ID, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.actions.LogAction(r.Context(), r, audit.ActionUserDeleted, map[string]any{
		"deletedUserId":   deleted.ID,
		"deletedUsername": deleted.Username,
	})
	writeOK(w, http.StatusOK, "User deleted successfully", nil)
}

// ===== AUDIT LOG =====

// HandleAuditLogs lists audit rows. Filters are tried in the order action,
// userId, startDate+endDate. Dates are RFC 3339 or YYYY-MM-DD; a date-only
// endDate covers the whole day.
//
// HTTP: GET /api/admin/audit-logs
func (h *AdminHandler) HandleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q, err := parseAuditQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	logs, err := h.audits.List(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"logs": logs, "count": len(logs)})
}

func parseAuditQuery(r *http.Request) (audit.Query, error) {
	var (
		q   audit.Query
		err error
	)
	values := r.URL.Query()
	q.Action = strings.TrimSpace(values.Get("action"))

	if raw := values.Get("userId"); raw != "" {
		if q.UserID, err = strconv.ParseInt(raw, 10, 64); err != nil || q.UserID <= 0 {
			return q, apperror.ValidationFailed("userId", "userId must be a positive number")
		}
	}
	if q.Start, _, err = parseDate(values.Get("startDate"), "startDate"); err != nil {
		return q, err
	}
	end, dateOnly, err := parseDate(values.Get("endDate"), "endDate")
	if err != nil {
		return q, err
	}
	if dateOnly {
		end = end.Add(24*time.Hour - time.Second)
	}
	q.End = end

	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

// parseDate accepts RFC 3339 or a bare date. An empty value is the zero time.
func parseDate(raw, field string) (time.Time, bool, error) {
	if raw == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, apperror.ValidationFailed(field, field+" must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
}

// HTTP: GET /api/admin/audit-logs/stats
func (h *AdminHandler) HandleAuditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.audits.Stats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"stats": stats})
}

// HTTP: GET /api/admin/audit-logs/failed-logins
func (h *AdminHandler) HandleFailedLogins(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	logs, err := h.audits.FailedLogins(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"logs": logs, "count": len(logs)})
}

// cleanupRequest accepts days as a number or a numeric string.
type cleanupRequest struct {
	Days json.RawMessage `json:"days"`
}

func (req cleanupRequest) days() (int, error) {
	raw := strings.TrimSpace(string(req.Days))
	if raw == "" || raw == "null" {
		return audit.DefaultRetentionDays, nil
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed("days", "days must be a positive number")
	}
	if n < 1 {
		return 0, apperror.ValidationFailed("days", "days must be a positive number")
	}
	return n, nil
}

// HTTP: DELETE /api/admin/audit-logs/cleanup
func (h *AdminHandler) HandleAuditCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	days, err := req.days()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	n, err := h.audits.Cleanup(r.Context(), days)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.actions.LogAction(r.Context(), r, audit.ActionAuditCleanup, map[string]any{
		"days":         days,
		"deletedCount": n,
	})
	writeOK(w, http.StatusOK, "Audit logs cleaned up", payload{"deletedCount": n})
}

// ===== DELETE HISTORY =====

// HTTP: GET /api/admin/deleted-buttons
func (h *AdminHandler) HandleDeletedButtons(w http.ResponseWriter, r *http.Request) {
	history, err := h.admin.DeletedButtons(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"deletedButtons": history})
}

type restoreRequest struct {
	Position *int `json:"position"`
}

// HTTP: POST /api/admin/deleted-buttons/{id}/restore
func (h *AdminHandler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req restoreRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	restored, err := h.admin.Restore(r.Context(), id, req.Position)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.actions.LogAction(r.Context(), r, audit.ActionButtonRestored, map[string]any{
		"deletedButtonId": restored.ID,
		"buttonName":      restored.ButtonName,
		"ownerId":         restored.OwnerID,
	})
	writeOK(w, http.StatusOK, "Button restored successfully", payload{"restored": restored})
}

// ===== CATALOG =====

// HTTP: PUT /api/admin/buttons/{id}
func (h *AdminHandler) HandleUpdateButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var in service.UpdateButtonInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.admin.UpdateButton(r.Context(), id, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "buttonName", b.Name)
	writeOK(w, http.StatusOK, "Button updated successfully", payload{"button": b})
}

// HTTP: DELETE /api/admin/buttons/{id}
func (h *AdminHandler) HandleDeleteButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.admin.DeleteButton(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "buttonName", b.Name)
	writeOK(w, http.StatusOK, "Button deleted successfully", nil)
}

// HTTP: PUT /api/admin/categories/{id}
func (h *AdminHandler) HandleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.admin.UpdateCategory(r.Context(), id, req.Name, req.Color)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "categoryName", c.Name)
	writeOK(w, http.StatusOK, "Category updated successfully", payload{"category": c})
}

// HandleDeleteCategory removes a category. What happens to its buttons
// depends on the configured policy, which is echoed back.
//
// HTTP: DELETE /api/admin/categories/{id}
func (h *AdminHandler) HandleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.admin.DeleteCategory(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	audit.Annotate(r.Context(), "categoryName", c.Name)
	audit.Annotate(r.Context(), "buttonCount", c.ButtonCount)
	writeOK(w, http.StatusOK, "Category deleted successfully", payload{
		"onDelete":    string(h.admin.OnDelete()),
		"buttonCount": c.ButtonCount,
	})
}

// HTTP: GET /api/admin/stats
func (h *AdminHandler) HandlePlatformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.prefs.PlatformStats(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", payload{"stats": stats})
}
