package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/soundboard/internal/audit"
	"github.com/sakif/soundboard/internal/model"
)

func TestHandleToggleAdmin(t *testing.T) {
	env := newTestEnv(t)
	root := env.createUser(t, "root", model.TierSuperAdmin)
	bob := env.createUser(t, "bob", model.TierUser)
	const pattern = "/api/admin/users/{id}/toggle-admin"
	toggle := func(id int64, body any) *callResult {
		rr := serve(t, env.admin.HandleToggleAdmin, call{
			method: http.MethodPost, pattern: pattern,
			path: fmt.Sprintf("/api/admin/users/%d/toggle-admin", id), as: root, body: body,
		})
		return &callResult{code: rr.Code, body: decode(t, rr)}
	}

	t.Run("self is rejected and not audited", func(t *testing.T) {
		res := toggle(root.ID, nil)
		assert.Equal(t, http.StatusBadRequest, res.code)
		assert.Equal(t, "Cannot modify your own admin status", res.body["message"])
		assert.Empty(t, env.actions.all())
	})

	t.Run("grant then revoke", func(t *testing.T) {
		res := toggle(bob.ID, nil)
		require.Equal(t, http.StatusOK, res.code)
		assert.Equal(t, "Admin privileges granted", res.body["message"])
		assert.EqualValues(t, 1, res.body["is_admin"])

		calls := env.actions.all()
		require.Len(t, calls, 1)
		assert.Equal(t, audit.ActionAdminStatusChanged, calls[0].Action)
		assert.Equal(t, "bob", calls[0].Extra["targetUsername"])
		assert.Equal(t, 0, calls[0].Extra["previousStatus"])
		assert.Equal(t, 1, calls[0].Extra["newStatus"])

		res = toggle(bob.ID, nil)
		assert.Equal(t, "Admin privileges revoked", res.body["message"])
		assert.EqualValues(t, 0, res.body["is_admin"])
	})

	t.Run("explicit level", func(t *testing.T) {
		res := toggle(bob.ID, map[string]any{"level": 2})
		require.Equal(t, http.StatusOK, res.code)
		assert.EqualValues(t, 2, res.body["is_admin"])

		res = toggle(bob.ID, map[string]any{"level": 7})
		assert.Equal(t, http.StatusBadRequest, res.code)
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, toggle(9999, nil).code)
	})
}

type callResult struct {
	code int
	body map[string]any
}

func TestHandleDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	root := env.createUser(t, "root", model.TierSuperAdmin)
	bob := env.createUser(t, "bob", model.TierUser)
	const pattern = "/api/admin/users/{id}"

	rr := serve(t, env.admin.HandleDeleteUser, call{
		method: http.MethodDelete, pattern: pattern, path: fmt.Sprintf("/api/admin/users/%d", root.ID), as: root,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Cannot delete your own account", decode(t, rr)["message"])

	rr = serve(t, env.admin.HandleDeleteUser, call{
		method: http.MethodDelete, pattern: pattern, path: fmt.Sprintf("/api/admin/users/%d", bob.ID), as: root,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	calls := env.actions.all()
	require.Len(t, calls, 1)
	assert.Equal(t, audit.ActionUserDeleted, calls[0].Action)
	assert.Equal(t, "bob", calls[0].Extra["deletedUsername"])
	assert.Equal(t, bob.ID, calls[0].Extra["deletedUserId"])

	rr = serve(t, env.admin.HandleDeleteUser, call{
		method: http.MethodDelete, pattern: pattern, path: fmt.Sprintf("/api/admin/users/%d", bob.ID), as: root,
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	root := env.createUser(t, "root", model.TierSuperAdmin)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, env.db.CreateAuditLog(ctx, &model.AuditLog{Action: audit.ActionLoginFailed}))
	}
	require.NoError(t, env.db.CreateAuditLog(ctx, &model.AuditLog{Action: audit.ActionLogout, UserID: &root.ID, Username: "root"}))

	list := func(query string) (int, map[string]any) {
		rr := serve(t, env.admin.HandleAuditLogs, call{
			method: http.MethodGet, pattern: "/api/admin/audit-logs", path: "/api/admin/audit-logs" + query, as: root,
		})
		return rr.Code, decode(t, rr)
	}

	code, body := list("")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, body["count"])

	_, body = list("?action=login_failed&limit=2")
	assert.EqualValues(t, 2, body["count"])

	_, body = list(fmt.Sprintf("?userId=%d", root.ID))
	assert.EqualValues(t, 1, body["count"])

	today := time.Now().UTC().Format(time.DateOnly)
	_, body = list("?startDate=" + today + "&endDate=" + today)
	assert.EqualValues(t, 4, body["count"], "a date-only endDate covers the whole day")

	_, body = list("?limit=5000")
	assert.EqualValues(t, 4, body["count"])

	for _, bad := range []string{"?limit=ten", "?offset=x", "?userId=abc", "?startDate=yesterday"} {
		code, _ := list(bad)
		assert.Equal(t, http.StatusBadRequest, code, bad)
	}

	rr := serve(t, env.admin.HandleFailedLogins, call{
		method: http.MethodGet, pattern: "/api/admin/audit-logs/failed-logins",
		path: "/api/admin/audit-logs/failed-logins", as: root,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 3, decode(t, rr)["count"])

	rr = serve(t, env.admin.HandleAuditStats, call{
		method: http.MethodGet, pattern: "/api/admin/audit-logs/stats", path: "/api/admin/audit-logs/stats", as: root,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode(t, rr)["stats"].(map[string]any)
	assert.EqualValues(t, 4, stats["total"])
}

func TestHandleAuditCleanup(t *testing.T) {
	env := newTestEnv(t)
	root := env.createUser(t, "root", model.TierSuperAdmin)
	ctx := context.Background()

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	require.NoError(t, env.db.CreateAuditLog(ctx, &model.AuditLog{Action: audit.ActionLogout, CreatedAt: old}))
	require.NoError(t, env.db.CreateAuditLog(ctx, &model.AuditLog{Action: audit.ActionLogout}))

	cleanup := func(body any) (int, map[string]any) {
		rr := serve(t, env.admin.HandleAuditCleanup, call{
			method: http.MethodDelete, pattern: "/api/admin/audit-logs/cleanup",
			path: "/api/admin/audit-logs/cleanup", as: root, body: body,
		})
		return rr.Code, decode(t, rr)
	}

	code, body := cleanup(nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["deletedCount"], "the 90 day default keeps both rows")

	code, body = cleanup(map[string]any{"days": "30"})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["deletedCount"])

	for _, bad := range []any{map[string]any{"days": 0}, map[string]any{"days": -5}, map[string]any{"days": "soon"}} {
		code, _ := cleanup(bad)
		assert.Equal(t, http.StatusBadRequest, code)
	}

	calls := env.actions.all()
	require.Len(t, calls, 2)
	assert.Equal(t, audit.ActionAuditCleanup, calls[1].Action)
	assert.Equal(t, 30, calls[1].Extra["days"])
	assert.Equal(t, int64(1), calls[1].Extra["deletedCount"])
}

func TestHandleRestore(t *testing.T) {
	env := newTestEnv(t)
	root := env.createUser(t, "root", model.TierAdmin)
	alice := env.createUser(t, "alice", model.TierUser)
	honk := env.upload(t, alice.ID, "Honk", "")
	beep := env.upload(t, alice.ID, "Beep", "")

	hist, err := env.board.Unlink(context.Background(), alice.ID, honk.ID)
	require.NoError(t, err)

	rr := serve(t, env.admin.HandleDeletedButtons, call{
		method: http.MethodGet, pattern: "/api/admin/deleted-buttons", path: "/api/admin/deleted-buttons", as: root,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["deletedButtons"], 1)

	restore := func(body any) int {
		return serve(t, env.admin.HandleRestore, call{
			method: http.MethodPost, pattern: "/api/admin/deleted-buttons/{id}/restore",
			path: fmt.Sprintf("/api/admin/deleted-buttons/%d/restore", hist.ID), as: root, body: body,
		}).Code
	}
	require.Equal(t, http.StatusOK, restore(nil))
	assert.Equal(t, []int64{beep.ID, honk.ID}, env.boardIDs(t, alice.ID), "restored at the end")
	assert.Equal(t, http.StatusConflict, restore(nil))

	calls := env.actions.all()
	require.Len(t, calls, 1)
	assert.Equal(t, audit.ActionButtonRestored, calls[0].Action)
	assert.Equal(t, "Honk", calls[0].Extra["buttonName"])
	assert.Equal(t, alice.ID, calls[0].Extra["ownerId"])
}

func TestHandleAdminCatalog(t *testing.T) {
	env := newTestEnv(t)
	root := env.createUser(t, "root", model.TierAdmin)
	honk := env.upload(t, root.ID, "Honk", "Animals")

	rr := serve(t, env.admin.HandleUpdateButton, call{
		method: http.MethodPut, pattern: "/api/admin/buttons/{id}",
		path: fmt.Sprintf("/api/admin/buttons/%d", honk.ID), as: root,
		body: map[string]any{"button_name": "Goose", "category_id": 0},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	button := decode(t, rr)["button"].(map[string]any)
	assert.Equal(t, "Goose", button["button_name"])
	assert.Nil(t, button["category_id"])

	rr = serve(t, env.admin.HandleUpdateButton, call{
		method: http.MethodPut, pattern: "/api/admin/buttons/{id}",
		path: fmt.Sprintf("/api/admin/buttons/%d", honk.ID), as: root,
		body: map[string]any{"category_id": 4242},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	categories, err := env.buttons.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	catPath := fmt.Sprintf("/api/admin/categories/%d", categories[0].ID)

	rr = serve(t, env.admin.HandleUpdateCategory, call{
		method: http.MethodPut, pattern: "/api/admin/categories/{id}", path: catPath, as: root,
		body: map[string]string{"color": "#00ff00"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "#00ff00", decode(t, rr)["category"].(map[string]any)["color"])

	rr = serve(t, env.admin.HandleDeleteCategory, call{
		method: http.MethodDelete, pattern: "/api/admin/categories/{id}", path: catPath, as: root,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "set_null", decode(t, rr)["onDelete"])

	rr = serve(t, env.admin.HandleDeleteButton, call{
		method: http.MethodDelete, pattern: "/api/admin/buttons/{id}",
		path: fmt.Sprintf("/api/admin/buttons/%d", honk.ID), as: root,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, env.boardIDs(t, root.ID))

	rr = serve(t, env.admin.HandlePlatformStats, call{
		method: http.MethodGet, pattern: "/api/admin/stats", path: "/api/admin/stats", as: root,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode(t, rr)["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["total_users"])
	assert.EqualValues(t, 0, stats["total_buttons"])
}

func TestErrorsAreMasked(t *testing.T) {
	env := newTestEnv(t)
	root := env.createUser(t, "root", model.TierAdmin)
	require.NoError(t, env.db.Close())

	rr := serve(t, env.admin.HandleUsers, call{
		method: http.MethodGet, pattern: "/api/admin/users", path: "/api/admin/users", as: root,
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "An internal error occurred", body["message"])
}
