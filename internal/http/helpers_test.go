package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"secondhand/internal/http/handlers"
	applog "secondhand/internal/log"
	"secondhand/internal/repos"
	"secondhand/internal/services"
)

type testApp struct {
	app  *fiber.App
	db   *sqlx.DB
	deps *handlers.Deps
}

// newTestApp serves the full API over a seeded SQLite file. Seeded users share
// the password Passw0rd!; u-sam sells p-turntable, p-camera (available) and
// p-lamp (draft).
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := repos.OpenDB(repos.Options{DSN: filepath.Join(t.TempDir(), "api.db"), Seed: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := repos.NewUserRepo(db)
	auth := &services.AuthService{Users: users, Cost: bcrypt.MinCost}
	deps := handlers.NewDeps(db, services.CoordinatorConfig{BusyRetries: 3}, auth)
	app := handlers.NewApp(deps, handlers.AppOptions{})

	for _, u := range []string{"u-sam", "u-alice", "u-bob", "u-admin"} {
		require.NoError(t, users.BindSession(context.Background(), "sid-"+u, u))
	}
	return &testApp{app: app, db: db, deps: deps}
}

// call performs a request as the given seeded user ("" for anonymous) and
// decodes a JSON object response.
func (a *testApp) call(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer sid-"+user)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

type logEntry struct {
	Level  string         `json:"level"`
	Kind   string         `json:"kind"`
	Action string         `json:"action"`
	Err    string         `json:"err"`
	UserID string         `json:"user_id"`
	ReqID  string         `json:"req_id"`
	Fields map[string]any `json:"fields"`
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// captureLogs collects the action log lines written while fn runs.
func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var lb lockedBuffer
	applog.SetOutput(&lb)
	defer applog.SetOutput(os.Stdout)

	fn()

	lb.mu.Lock()
	defer lb.mu.Unlock()
	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(lb.buf.String()), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func findLog(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}
