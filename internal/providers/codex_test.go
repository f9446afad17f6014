package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/strategy"
)

func writeCodexAuth(t *testing.T, dir, accessToken, idToken string) {
	t.Helper()
	auth := map[string]any{
		"OPENAI_API_KEY": nil,
		"tokens": map[string]any{
			"id_token":      idToken,
			"access_token":  accessToken,
			"refresh_token": "refresh",
			"account_id":    "acct-123",
		},
		"last_refresh": "2026-01-15T10:00:00Z",
	}
	b, _ := json.Marshal(auth)
	writeFile(t, filepath.Join(dir, "auth.json"), string(b))
}

func TestCodexOAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wham/usage" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer access" || r.Header.Get("ChatGPT-Account-Id") != "acct-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{
			"plan_type": "plus",
			"rate_limit": {
				"primary_window": {"used_percent": 12, "limit_window_seconds": 18000, "reset_at": 1768489200},
				"secondary_window": {"used_percent": 55, "limit_window_seconds": 604800, "reset_after_seconds": 3600}
			},
			"credits": {"has_credits": true, "unlimited": false, "balance": "1,234.5"}
		}`))
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	idToken := signedIDToken(t, jwt.MapClaims{
		"email":                       "dev@example.com",
		"https://api.openai.com/auth": map[string]any{"chatgpt_plan_type": "pro"},
	})
	writeCodexAuth(t, filepath.Join(d.Home, ".codex"), "access", idToken)

	out, err := Fetch(context.Background(), codexDescriptor(), d, strategy.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	snap := out.Result.Usage
	if snap.Primary.UsedPercent != 12 || *snap.Primary.WindowMinutes != 300 {
		t.Errorf("primary: %+v", snap.Primary)
	}
	if !snap.Primary.ResetsAt.Equal(time.Unix(1768489200, 0)) {
		t.Errorf("primary reset: %v", snap.Primary.ResetsAt)
	}
	if snap.Secondary == nil || *snap.Secondary.WindowMinutes != 10080 || !snap.Secondary.ResetsAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("secondary: %+v", snap.Secondary)
	}
	if snap.AccountEmail != "dev@example.com" || snap.LoginMethod != "plus" {
		t.Errorf("account: %q %q", snap.AccountEmail, snap.LoginMethod)
	}
	if out.Result.Credits == nil || out.Result.Credits.Remaining != 1234.5 {
		t.Errorf("credits: %+v", out.Result.Credits)
	}
}

func TestCodexOAuth_honorsCodexHome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rate_limit":{"secondary_window":{"used_percent":5}}}`))
	}))
	defer srv.Close()
	codexHome := t.TempDir()
	d := newTestDeps(t, srv, map[string]string{"CODEX_HOME": codexHome})
	writeCodexAuth(t, codexHome, "access", "")

	out, err := Fetch(context.Background(), codexDescriptor(), d, strategy.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	// Only a weekly window: it becomes primary.
	if out.Result.Usage.Primary.UsedPercent != 5 || out.Result.Usage.Secondary != nil {
		t.Errorf("got %+v", out.Result.Usage)
	}
}

func TestCodexOAuth_missingRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"plan_type":"plus"}`))
	}))
	defer srv.Close()
	d := newTestDeps(t, srv, nil)
	writeCodexAuth(t, filepath.Join(d.Home, ".codex"), "access", "")

	_, err := Fetch(context.Background(), codexDescriptor(), d, strategy.Settings{})
	if !errors.Is(err, errs.SchemaMismatch) {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
}

func TestReadCodexAuth(t *testing.T) {
	d := newTestDeps(t, nil, nil)
	if _, err := d.readCodexAuth(); !errors.Is(err, errs.ConfigMissing) {
		t.Errorf("missing file: got %v", err)
	}
	writeFile(t, filepath.Join(d.Home, ".codex", "auth.json"), `{"OPENAI_API_KEY":"sk-test","tokens":null}`)
	if _, err := d.readCodexAuth(); !errors.Is(err, errs.Unsupported) {
		t.Errorf("api key only: got %v", err)
	}
	writeFile(t, filepath.Join(d.Home, ".codex", "auth.json"), `not json`)
	if _, err := d.readCodexAuth(); !errors.Is(err, errs.ConfigMissing) {
		t.Errorf("garbage: got %v", err)
	}
}

func TestParseBalance(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{`12.5`, 12.5, true},
		{`"1,000"`, 1000, true},
		{`" 7 "`, 7, true},
		{`null`, 0, false},
		{`"lots"`, 0, false},
		{``, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseBalance(json.RawMessage(tt.in))
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseBalance(%s) = %v, %v want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
