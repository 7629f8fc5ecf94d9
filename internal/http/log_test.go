package handlers_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"lotbuy/internal/http/handlers"
)

func TestAuthLogging(t *testing.T) {
	env := newTestEnv(t)
	_, id := env.register(t, "log@example.com", "Log")

	entries := captureLogs(t, func() {
		env.expect(t, http.StatusUnauthorized, "POST", "/api/auth/login", "", map[string]string{
			"email": "log@example.com", "password": "Wrong-Passw0rd",
		})
		env.expect(t, http.StatusOK, "POST", "/api/auth/login", "", map[string]string{
			"email": "log@example.com", "password": "Passw0rd!",
		})
	})

	failed, ok := findLog(entries, "auth.login.fail")
	if !ok || failed.Level != "warn" {
		t.Fatalf("missing login failure entry: %+v", entries)
	}
	success, ok := findLog(entries, "auth.login.success")
	if !ok || success.Level != "audit" || success.UserID != id {
		t.Fatalf("missing login success entry: %+v", entries)
	}
	for _, e := range entries {
		for _, v := range e.Fields {
			if s, _ := v.(string); strings.Contains(s, "Passw0rd") {
				t.Fatalf("password logged: %+v", e)
			}
		}
	}
}

func TestAccessDeniedAndAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller, _, offerID := setupLotWithOffer(t, env, "Drone")

	entries := captureLogs(t, func() {
		env.expect(t, http.StatusUnauthorized, "GET", "/api/deals", "", nil)
		env.expect(t, http.StatusForbidden, "PATCH", "/api/offers/"+offerID+"/accept", seller.token, nil)
		env.expect(t, http.StatusCreated, "PATCH", "/api/offers/"+offerID+"/accept", buyer.token, nil)
	})

	if _, ok := findLog(entries, "access.denied.auth"); !ok {
		t.Fatalf("anonymous access not logged: %+v", entries)
	}
	denied, ok := findLog(entries, "access.denied")
	if !ok || denied.UserID != seller.id {
		t.Fatalf("forbidden accept not logged: %+v", entries)
	}
	accepted, ok := findLog(entries, "offer.accept")
	if !ok || accepted.UserID != buyer.id || accepted.Fields["deal_id"] == nil {
		t.Fatalf("accept not audited: %+v", entries)
	}
}

// Internal failures surface a friendly message and never leak details.
func TestErrorHandlerFriendlyMessage(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Use(requestid.New())
	app.Get("/err", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "db timeout: secret trace")
	})

	var resp *http.Response
	entries := captureLogs(t, func() {
		var err error
		resp, err = app.Test(httptest.NewRequest("GET", "/err", nil))
		if err != nil {
			t.Fatalf("test request failed: %v", err)
		}
	})
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	s := string(body)
	if !strings.Contains(s, "Something went wrong") || strings.Contains(s, "secret") {
		t.Fatalf("unexpected body: %s", s)
	}
	logged, ok := findLog(entries, "server.error")
	if !ok || !strings.Contains(logged.Err, "db timeout") {
		t.Fatalf("internal error not logged: %+v", entries)
	}
}

func TestStoreFailureIsNotLeaked(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.DB.Close(); err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	entries := captureLogs(t, func() {
		out = env.expect(t, http.StatusInternalServerError, "GET", "/api/requests", "", nil)
	})
	if out["kind"] != "internal" || strings.Contains(out["error"].(string), "sql") {
		t.Fatalf("body = %v", out)
	}
	if _, ok := findLog(entries, "request.error"); !ok {
		t.Fatalf("store failure not logged: %+v", entries)
	}
}
