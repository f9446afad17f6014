package providers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/strategy"
)

const claudeUsageBody = `{
	"five_hour": {"utilization": 42.5, "resets_at": "2026-01-15T14:00:00.000Z"},
	"seven_day": {"utilization": 10, "resets_at": "2026-01-20T00:00:00Z"},
	"seven_day_opus": {"utilization": 3, "resets_at": null},
	"extra_usage": {"is_enabled": true, "monthly_limit": 50, "used_credits": 12.5}
}`

func writeClaudeCreds(t *testing.T, d *Deps, token string) {
	t.Helper()
	writeFile(t, filepath.Join(d.Home, ".claude", ".credentials.json"),
		`{"claudeAiOauth":{"accessToken":"`+token+`","refreshToken":"r","expiresAt":4102444800000,"subscriptionType":"max"}}`)
}

func TestClaudeOAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != claudeUsagePath {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization: got %q", got)
		}
		if got := r.Header.Get("anthropic-beta"); got != claudeBetaHeader {
			t.Errorf("anthropic-beta: got %q", got)
		}
		w.Write([]byte(claudeUsageBody))
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	writeClaudeCreds(t, d, "tok")

	out, err := Fetch(context.Background(), claudeDescriptor(), d, strategy.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	snap := out.Result.Usage
	if out.Kind != strategy.OAuth {
		t.Errorf("kind: got %s", out.Kind)
	}
	if snap.Primary.UsedPercent != 42.5 || *snap.Primary.WindowMinutes != 300 {
		t.Errorf("primary: %+v", snap.Primary)
	}
	if snap.Primary.ResetsAt == nil || snap.Primary.ResetsAt.Hour() != 14 {
		t.Errorf("primary reset: %v", snap.Primary.ResetsAt)
	}
	if snap.Secondary == nil || snap.Secondary.UsedPercent != 10 || *snap.Secondary.WindowMinutes != 10080 {
		t.Errorf("secondary: %+v", snap.Secondary)
	}
	if snap.Tertiary == nil || snap.Tertiary.UsedPercent != 3 || snap.Tertiary.ResetsAt != nil {
		t.Errorf("tertiary: %+v", snap.Tertiary)
	}
	if snap.LoginMethod != "Claude Max" {
		t.Errorf("login method: got %q", snap.LoginMethod)
	}
	if out.Result.Credits == nil || out.Result.Credits.Remaining != 37.5 {
		t.Errorf("credits: %+v", out.Result.Credits)
	}
}

func TestClaudeOAuth_envTokenWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer from-env" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(claudeUsageBody))
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, map[string]string{"CLAUDE_CODE_OAUTH_TOKEN": " from-env "})
	writeClaudeCreds(t, d, "from-file")

	if _, err := Fetch(context.Background(), claudeDescriptor(), d, strategy.Settings{}); err != nil {
		t.Fatal(err)
	}
}

func TestClaudeOAuth_rereadsCredentialsOnUnauthorized(t *testing.T) {
	var d *Deps
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer old" {
			// The CLI refreshed its token in the meantime.
			writeClaudeCreds(t, d, "new")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(claudeUsageBody))
	}))
	defer srv.Close()
	d = newTestDeps(t, srv, nil)
	writeClaudeCreds(t, d, "old")

	out, err := Fetch(context.Background(), claudeDescriptor(), d, strategy.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != strategy.OAuth || out.Result.Usage.Primary.UsedPercent != 42.5 {
		t.Errorf("got %+v", out)
	}
}

func TestClaudeOAuth_unauthorizedFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	writeClaudeCreds(t, d, "tok")

	out, err := Fetch(context.Background(), claudeDescriptor(), d, strategy.Settings{})
	if !errors.Is(err, errs.NoStrategyAvailable) {
		t.Fatalf("expected NoStrategyAvailable, got %v", err)
	}
	if len(out.Attempts) != 3 {
		t.Fatalf("attempts: %+v", out.Attempts)
	}
	if !errors.Is(out.Attempts[0].Err, errs.Unauthorized) {
		t.Errorf("oauth attempt: %v", out.Attempts[0].Err)
	}
	if !errors.Is(out.Attempts[1].Err, errs.CookieDBNotFound) {
		t.Errorf("web attempt: %v", out.Attempts[1].Err)
	}
	if !errors.Is(out.Attempts[2].Err, errs.BinaryNotFound) {
		t.Errorf("cli attempt: %v", out.Attempts[2].Err)
	}
}

func TestClaudeOAuth_schemaMismatchStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"seven_day":{"utilization":1}}`))
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	writeClaudeCreds(t, d, "tok")

	out, err := Fetch(context.Background(), claudeDescriptor(), d, strategy.Settings{})
	if !errors.Is(err, errs.SchemaMismatch) {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
	if len(out.Attempts) != 1 {
		t.Errorf("web/cli should not run after a data-shape error: %+v", out.Attempts)
	}
}

func TestClaudeOAuth_serverErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	writeClaudeCreds(t, d, "tok")
	creds, err := d.readClaudeCredentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.fetchClaudeOAuth(context.Background(), creds)
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind != errs.KindServer || e.Status != 503 || e.Body != "overloaded" {
		t.Fatalf("got %#v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 503") {
		t.Errorf("message: %q", err.Error())
	}
}

func TestClaudeCredentials_expiredIsUnauthorized(t *testing.T) {
	d := newTestDeps(t, nil, nil)
	writeFile(t, filepath.Join(d.Home, ".claude", ".credentials.json"),
		`{"claudeAiOauth":{"accessToken":"tok","expiresAt":1000}}`)
	creds, err := d.readClaudeCredentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.fetchClaudeOAuth(context.Background(), creds); !errors.Is(err, errs.Unauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestClaudeCredentials_missing(t *testing.T) {
	d := newTestDeps(t, nil, nil)
	if _, err := d.readClaudeCredentials(context.Background()); !errors.Is(err, errs.ConfigMissing) {
		t.Fatalf("expected ConfigMissing, got %v", err)
	}
}

func TestClaudeWeb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionKey"); err != nil || c.Value != "sk-ant-sid" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/organizations":
			json.NewEncoder(w).Encode([]claudeOrganization{
				{UUID: "api-org", Capabilities: []string{"api"}},
				{UUID: "chat-org", Capabilities: []string{"chat", "claude_pro"}},
			})
		case "/api/organizations/chat-org/usage":
			w.Write([]byte(`{"five_hour":{"utilization":7},"seven_day":{"utilization":70}}`))
		case "/api/account":
			w.Write([]byte(`{"email_address":"user@example.com"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	createFirefoxCookies(t, d.Home, ".claude.ai", "sessionKey", "sk-ant-sid")

	out, err := Fetch(context.Background(), claudeDescriptor(), d, strategy.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != strategy.Web {
		t.Fatalf("kind: got %s", out.Kind)
	}
	snap := out.Result.Usage
	if snap.Primary.UsedPercent != 7 || snap.Secondary.UsedPercent != 70 || snap.AccountEmail != "user@example.com" {
		t.Errorf("snapshot: %+v", snap)
	}
}

func TestClaudeWeb_noSessionCookie(t *testing.T) {
	d := newTestDeps(t, nil, nil)
	createFirefoxCookies(t, d.Home, ".claude.ai", "other", "x")
	if _, err := d.fetchClaudeWeb(context.Background()); !errors.Is(err, errs.SessionMissing) {
		t.Fatalf("expected SessionMissing, got %v", err)
	}
}

func TestPickOrganization(t *testing.T) {
	if _, ok := pickOrganization(nil); ok {
		t.Error("empty list should not pick")
	}
	o, ok := pickOrganization([]claudeOrganization{{UUID: "a"}, {UUID: "b", Capabilities: []string{"chat"}}})
	if !ok || o.UUID != "b" {
		t.Errorf("got %+v", o)
	}
	o, _ = pickOrganization([]claudeOrganization{{UUID: ""}, {UUID: "c"}})
	if o.UUID != "c" {
		t.Errorf("fallback: got %+v", o)
	}
}

func createFirefoxCookies(t *testing.T, home, host, name, value string) {
	t.Helper()
	createFirefoxProfile(t, home, "abc.default-release", [3]string{host, name, value})
}

// createFirefoxProfile writes a cookies.sqlite holding rows of
// {host, name, value} for one Firefox profile.
func createFirefoxProfile(t *testing.T, home, profile string, rows ...[3]string) {
	t.Helper()
	path := filepath.Join(home, ".mozilla", "firefox", profile, "cookies.sqlite")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE moz_cookies (host TEXT, name TEXT, path TEXT, value TEXT,
		expiry INTEGER, isSecure INTEGER, isHttpOnly INTEGER)`); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if _, err := db.Exec(`INSERT INTO moz_cookies VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r[0], r[1], "/", r[2], int64(4102444800), 1, 1); err != nil {
			t.Fatal(err)
		}
	}
}
