package handlers_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAndMetrics(t *testing.T) {
	a := newTestApp(t)
	code, body := a.call(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	// Generate one observation so the HTTP histogram is exported.
	a.call(t, http.MethodGet, "/api/v1/positions", "u-alice", nil)
	resp, err := a.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "secondhand_http_request_duration_seconds")
}

func TestAuthRequired(t *testing.T) {
	a := newTestApp(t)
	code, _ := a.call(t, http.MethodPost, "/api/v1/queue/p-camera", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	req.Header.Set("Authorization", "Bearer not-a-session")
	var resp *http.Response
	logs := captureLogs(t, func() {
		var err error
		resp, err = a.app.Test(req, -1)
		require.NoError(t, err)
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	e, ok := findLog(logs, "auth.session.invalid")
	require.True(t, ok)
	assert.Equal(t, "security", e.Kind)
}

func TestLoginAndLogout(t *testing.T) {
	a := newTestApp(t)

	var code int
	var body map[string]any
	logs := captureLogs(t, func() {
		code, _ = a.call(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "alice@secondhand.test", "password": "wrong"})
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	fail, ok := findLog(logs, "auth.login.fail")
	require.True(t, ok)
	assert.Equal(t, "alice@secondhand.test", fail.Fields["email"])

	logs = captureLogs(t, func() {
		code, body = a.call(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "alice@secondhand.test", "password": "Passw0rd!"})
	})
	require.Equal(t, http.StatusOK, code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	success, ok := findLog(logs, "auth.login.success")
	require.True(t, ok)
	assert.Equal(t, "u-alice", success.UserID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueueFlowOverHTTP(t *testing.T) {
	a := newTestApp(t)

	code, body := a.call(t, http.MethodPost, "/api/v1/queue/p-camera", "u-alice", nil)
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 1, body["position"])

	code, body = a.call(t, http.MethodPost, "/api/v1/queue/p-camera", "u-bob", nil)
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 2, body["position"])
	assert.EqualValues(t, 2, body["queueSize"])

	code, body = a.call(t, http.MethodGet, "/api/v1/products/p-camera", "u-bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "reserved", body["status"])

	code, _ = a.call(t, http.MethodDelete, "/api/v1/queue/p-camera", "u-alice", nil)
	require.Equal(t, http.StatusNoContent, code)

	code, body = a.call(t, http.MethodGet, "/api/v1/queue/p-camera", "u-bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["position"])

	code, body = a.call(t, http.MethodGet, "/api/v1/queue/p-camera", "u-alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["position"])
	assert.EqualValues(t, 1, body["queueSize"])

	code, body = a.call(t, http.MethodGet, "/api/v1/wantlist", "u-bob", nil)
	require.Equal(t, http.StatusOK, code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "p-camera", item["productId"])
	assert.EqualValues(t, 1, item["position"])

	wl := body["wantList"].(map[string]any)
	code, body = a.call(t, http.MethodPost, "/api/v1/wantlists/"+wl["id"].(string)+"/complete", "u-bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 18500, body["totalCents"])
	assert.Equal(t, "u-sam", body["sellerId"])

	code, body = a.call(t, http.MethodGet, "/api/v1/products/p-camera", "u-alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sold", body["status"])
}

func TestRemoveItemByID(t *testing.T) {
	a := newTestApp(t)
	code, _ := a.call(t, http.MethodPost, "/api/v1/queue/p-turntable", "u-alice", nil)
	require.Equal(t, http.StatusCreated, code)
	_, body := a.call(t, http.MethodGet, "/api/v1/wantlist", "u-alice", nil)
	itemID := body["items"].([]any)[0].(map[string]any)["id"].(string)

	code, _ = a.call(t, http.MethodDelete, "/api/v1/wantlist/items/"+itemID, "u-alice", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = a.call(t, http.MethodDelete, "/api/v1/wantlist/items/"+itemID, "u-alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestErrorMapping(t *testing.T) {
	a := newTestApp(t)
	cases := []struct {
		name, method, path, user string
		want                     int
		code                     string
	}{
		{"draft product", http.MethodPost, "/api/v1/queue/p-lamp", "u-alice", http.StatusConflict, "business"},
		{"own product", http.MethodPost, "/api/v1/queue/p-camera", "u-sam", http.StatusConflict, "business"},
		{"unknown product", http.MethodPost, "/api/v1/queue/nope", "u-alice", http.StatusNotFound, "not_found"},
		{"bad id", http.MethodPost, "/api/v1/queue/bad%20id", "u-alice", http.StatusBadRequest, "validation"},
		{"not queued", http.MethodDelete, "/api/v1/queue/p-camera", "u-alice", http.StatusNotFound, "not_found"},
		{"other seller publishes", http.MethodPost, "/api/v1/products/p-lamp/publish", "u-bob", http.StatusForbidden, "forbidden"},
		{"unknown want list", http.MethodPost, "/api/v1/wantlists/nope/complete", "u-alice", http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := a.call(t, tc.method, tc.path, tc.user, nil)
			assert.Equal(t, tc.want, code)
			assert.Equal(t, tc.code, body["code"])
		})
	}

	code, _ := a.call(t, http.MethodPost, "/api/v1/queue/p-camera", "u-alice", nil)
	require.Equal(t, http.StatusCreated, code)
	code, body := a.call(t, http.MethodPost, "/api/v1/queue/p-camera", "u-alice", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "already in want list")
}

func TestDraftHiddenFromOtherUsers(t *testing.T) {
	a := newTestApp(t)
	code, _ := a.call(t, http.MethodGet, "/api/v1/products/p-lamp", "u-alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, body := a.call(t, http.MethodGet, "/api/v1/products/p-lamp", "u-sam", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "draft", body["status"])
}

func TestSellerCatalogOverHTTP(t *testing.T) {
	a := newTestApp(t)
	code, body := a.call(t, http.MethodPost, "/api/v1/products", "u-bob", map[string]any{"title": "Polaroid SX-70", "priceCents": 9900})
	require.Equal(t, http.StatusCreated, code)
	id := body["id"].(string)
	assert.Equal(t, "draft", body["status"])

	code, _ = a.call(t, http.MethodPost, "/api/v1/products", "u-bob", map[string]any{"title": "", "priceCents": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.call(t, http.MethodPost, "/api/v1/products/"+id+"/publish", "u-bob", nil)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = a.call(t, http.MethodPost, "/api/v1/queue/"+id, "u-alice", nil)
	require.Equal(t, http.StatusCreated, code)

	code, _ = a.call(t, http.MethodDelete, "/api/v1/products/"+id, "u-bob", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, body = a.call(t, http.MethodPost, "/api/v1/products/"+id+"/unpublish", "u-bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["evicted"])

	code, body = a.call(t, http.MethodGet, "/api/v1/wantlist", "u-alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["items"])

	code, _ = a.call(t, http.MethodDelete, "/api/v1/products/"+id, "u-bob", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, body = a.call(t, http.MethodGet, "/api/v1/products", "u-bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["products"])
}

func TestCancelBySellerAndAdmin(t *testing.T) {
	a := newTestApp(t)
	code, _ := a.call(t, http.MethodPost, "/api/v1/queue/p-camera", "u-alice", nil)
	require.Equal(t, http.StatusCreated, code)
	_, body := a.call(t, http.MethodGet, "/api/v1/wantlist", "u-alice", nil)
	wlID := body["wantList"].(map[string]any)["id"].(string)

	var logs []logEntry
	logs = captureLogs(t, func() {
		code, _ = a.call(t, http.MethodPost, "/api/v1/wantlists/"+wlID+"/cancel", "u-bob", nil)
	})
	assert.Equal(t, http.StatusForbidden, code)
	_, ok := findLog(logs, "wantlist.cancel.forbidden")
	assert.True(t, ok)

	code, _ = a.call(t, http.MethodPost, "/api/v1/wantlists/"+wlID+"/cancel", "u-sam", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = a.call(t, http.MethodPost, "/api/v1/wantlists/"+wlID+"/cancel", "u-admin", nil)
	assert.Equal(t, http.StatusNoContent, code, "cancelling a cancelled list is a no-op")
	code, _ = a.call(t, http.MethodPost, "/api/v1/wantlists/"+wlID+"/cancel", "u-bob", nil)
	assert.Equal(t, http.StatusForbidden, code)

	_, body = a.call(t, http.MethodGet, "/api/v1/products/p-camera", "u-alice", nil)
	assert.Equal(t, "available", body["status"])
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	a := newTestApp(t)
	code, _ := a.call(t, http.MethodPost, "/api/v1/admin/sweep", "u-alice", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := a.call(t, http.MethodPost, "/api/v1/admin/sweep", "u-admin", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["reconciled"])

	code, body = a.call(t, http.MethodGet, "/api/v1/admin/outbox?status=pending", "u-admin", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["rows"])

	code, _ = a.call(t, http.MethodGet, "/api/v1/admin/outbox?status=bogus", "u-admin", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

// A corrupted queue must surface as an opaque 500 while the full detail goes
// to the log.
func TestInvariantFailureIsOpaque(t *testing.T) {
	a := newTestApp(t)
	_, err := a.db.ExecContext(context.Background(), `
	  INSERT INTO interest_queue_entries(product_id, buyer_id, position, created_at)
	  VALUES('p-turntable', 'u-bob', 2, '2026-01-01T00:00:00.000000Z')`)
	require.NoError(t, err)

	var code int
	var body map[string]any
	logs := captureLogs(t, func() {
		code, body = a.call(t, http.MethodPost, "/api/v1/queue/p-turntable", "u-alice", nil)
	})
	assert.Equal(t, http.StatusInternalServerError, code)
	msg, _ := body["error"].(string)
	assert.NotContains(t, strings.ToLower(msg), "position")
	assert.NotContains(t, msg, "p-turntable")

	e, ok := findLog(logs, "reservation.join.fail")
	require.True(t, ok)
	assert.Equal(t, "error", e.Level)
	assert.Contains(t, e.Err, "invariant")
	_, ok = findLog(logs, "queue.join.fail")
	assert.True(t, ok)
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	a := newTestApp(t)
	code, body := a.call(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not found", body["error"])
}

func TestRegisterThenSell(t *testing.T) {
	a := newTestApp(t)
	reg := map[string]string{"email": "Dana@Secondhand.test", "name": "Dana", "password": "records4sale"}
	code, body := a.call(t, http.MethodPost, "/api/v1/auth/register", "", reg)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "USER", body["role"])

	code, _ = a.call(t, http.MethodPost, "/api/v1/auth/register", "", reg)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.call(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "eve@secondhand.test", "name": "Eve", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = a.call(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "dana@secondhand.test", "password": "records4sale"})
	require.Equal(t, http.StatusOK, code)
	token := body["token"].(string)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", strings.NewReader(`{"title":"Crate of jazz LPs","priceCents":4000}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}
