package oauth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tnunamak/usagebar/internal/errs"
)

func fakeGeminiInstall(t *testing.T, withOAuth bool) string {
	t.Helper()
	base := filepath.Join(t.TempDir(), "gemini-cli")
	bin := filepath.Join(base, "bin", "gemini")
	if err := os.MkdirAll(filepath.Dir(bin), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if withOAuth {
		js := filepath.Join(base, "lib", "node_modules", "@google", "gemini-cli", "node_modules",
			"@google", "gemini-cli-core", "dist", "src", "code_assist", "oauth2.js")
		if err := os.MkdirAll(filepath.Dir(js), 0755); err != nil {
			t.Fatal(err)
		}
		content := "const OAUTH_CLIENT_ID = 'test-client-id';\nconst OAUTH_CLIENT_SECRET = \"test-client-secret\";\n"
		if err := os.WriteFile(js, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return bin
}

func TestLocateClientConfig(t *testing.T) {
	cfg, err := LocateClientConfig(fakeGeminiInstall(t, true))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID != "test-client-id" || cfg.ClientSecret != "test-client-secret" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLocateClientConfig_followsSymlink(t *testing.T) {
	bin := fakeGeminiInstall(t, true)
	link := filepath.Join(t.TempDir(), "gemini")
	if err := os.Symlink(bin, link); err != nil {
		t.Skip("symlinks unavailable")
	}
	if _, err := LocateClientConfig(link); err != nil {
		t.Fatal(err)
	}
}

func TestLocateClientConfig_missing(t *testing.T) {
	_, err := LocateClientConfig(fakeGeminiInstall(t, false))
	if !errors.Is(err, errs.ConfigMissing) {
		t.Fatalf("expected ConfigMissing, got %v", err)
	}
}

func TestIDTokenClaims(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "user@example.com",
		"sub":   "abc",
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_plan_type": "plus",
		},
	})
	signed, err := tok.SignedString([]byte("irrelevant"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := IDTokenClaims(signed)
	if err != nil {
		t.Fatal(err)
	}
	if c.Email != "user@example.com" || c.Plan != "plus" || c.Subject != "abc" {
		t.Errorf("unexpected claims %+v", c)
	}
	if _, err := IDTokenClaims("not-a-jwt"); !errors.Is(err, errs.DataCorrupted) {
		t.Errorf("expected DataCorrupted, got %v", err)
	}
}

func TestWaitForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte("{}"), 0600)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForFile(ctx, path, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
}

func TestWaitForFile_seesCreateWhileWatching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oauth_creds.json")
	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		// Polling this slowly would outlive the deadline.
		done <- WaitForFile(ctx, path, time.Hour)
	}()

	time.Sleep(100 * time.Millisecond)
	// An unrelated file in the same directory does not end the wait.
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		t.Fatalf("returned before the file existed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("file creation was not noticed")
	}
}

func TestWaitForFile_pollsWhenDirectoryMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet")
	path := filepath.Join(dir, "creds.json")
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.MkdirAll(dir, 0700)
		_ = os.WriteFile(path, []byte("{}"), 0600)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := WaitForFile(ctx, path, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
}

func TestWaitForFile_cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := WaitForFile(ctx, filepath.Join(t.TempDir(), "never"), 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
