package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/blob"
	"lotbuy/internal/config"
	"lotbuy/internal/http/handlers"
	"lotbuy/internal/repos"
	"lotbuy/internal/services"
	"lotbuy/web"
)

type testEnv struct {
	app    *fiber.App
	store  *repos.Store
	engine *services.Engine
}

// newTestEnv builds the full app over an in-memory database. Options tweak
// the config before wiring.
func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.RateLimit = 1000
	for _, o := range opts {
		o(&cfg)
	}
	db, err := repos.OpenDB("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := repos.NewStore(db)
	engine := services.NewEngine(store, cfg.Engine.PaymentWindow.Duration)

	media := t.TempDir()
	local, err := blob.NewLocal(media, "/media")
	if err != nil {
		t.Fatal(err)
	}
	deps := handlers.NewDeps(store, cfg, engine, local)
	return &testEnv{
		app:    handlers.NewApp(deps, cfg, web.Views(), media),
		store:  store,
		engine: engine,
	}
}

func (e *testEnv) call(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// expect checks the status and decodes a JSON object body.
func (e *testEnv) expect(t *testing.T, want int, method, path, token string, body any) map[string]any {
	t.Helper()
	resp := e.call(t, method, path, token, body)
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d; body=%s", method, path, resp.StatusCode, want, raw)
	}
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return out
}

func (e *testEnv) register(t *testing.T, email, name string) (token, id string) {
	t.Helper()
	out := e.expect(t, http.StatusCreated, "POST", "/api/auth/register", "", map[string]string{
		"email": email, "name": name, "password": "Passw0rd!",
	})
	user, _ := out["user"].(map[string]any)
	token, _ = out["token"].(string)
	id, _ = user["id"].(string)
	if token == "" || id == "" {
		t.Fatalf("register %s: %v", email, out)
	}
	return token, id
}

func items(t *testing.T, out map[string]any) []any {
	t.Helper()
	list, ok := out["items"].([]any)
	if !ok {
		t.Fatalf("no items in %v", out)
	}
	return list
}

type logEntry struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	UserID string         `json:"user_id"`
	Err    string         `json:"err"`
	Fields map[string]any `json:"fields"`
}

type lockedBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

// captureLogs swaps the standard logger output while fn runs and returns
// the structured entries written.
func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	buf := &lockedBuf{}
	oldW, oldFlags := log.Writer(), log.Flags()
	log.SetOutput(buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.b.String()), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &e); err == nil && e.Action != "" {
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
