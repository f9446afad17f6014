package report

import (
	"errors"
	"testing"
	"time"

	"github.com/tnunamak/usagebar/internal/errs"
)

const claudeScreen = "\x1b[1m Settings:  Status   Config   Usage \x1b[0m\r\n" +
	"\r\n" +
	" Current session\r\n" +
	" \x1b[32m█████████\x1b[0m                                   18% used\r\n" +
	" Resets 3pm (America/Los_Angeles)\r\n" +
	"\r\n" +
	" Current week (all models)\r\n" +
	" ███                                                 6% used\r\n" +
	" Resets Dec 22, 10am (America/Los_Angeles)\r\n" +
	"\r\n" +
	" Current week (Opus)\r\n" +
	"                                                     0% used\r\n" +
	"\r\n" +
	" Account: user@example.com\r\n" +
	" Login method: Claude Max Account\r\n"

func TestParseClaudeUsage(t *testing.T) {
	now := time.Now()
	snap, err := ParseClaudeUsage(claudeScreen, now)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Primary.UsedPercent != 18 || snap.Primary.ResetDescription != "Resets 3pm (America/Los_Angeles)" {
		t.Errorf("primary: %+v", snap.Primary)
	}
	if *snap.Primary.WindowMinutes != 300 {
		t.Errorf("primary window: %d", *snap.Primary.WindowMinutes)
	}
	if snap.Secondary == nil || snap.Secondary.UsedPercent != 6 {
		t.Fatalf("secondary: %+v", snap.Secondary)
	}
	if snap.Tertiary == nil || snap.Tertiary.UsedPercent != 0 || snap.Tertiary.ResetDescription != "" {
		t.Fatalf("tertiary: %+v", snap.Tertiary)
	}
	if snap.AccountEmail != "user@example.com" || snap.LoginMethod != "Claude Max Account" {
		t.Errorf("account: %q %q", snap.AccountEmail, snap.LoginMethod)
	}
}

func TestParseClaudeUsage_missingSession(t *testing.T) {
	_, err := ParseClaudeUsage("Welcome to Claude Code\n> ", time.Now())
	if !errors.Is(err, errs.SchemaMismatch) {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
}

func TestParseCodexStatus(t *testing.T) {
	screen := "╭──────────────────────────────────────────╮\n" +
		"│  Account:       user@example.com (Plus)  │\n" +
		"│  5h limit:      [████░░░░] 32% used (resets 14:05)  │\n" +
		"│  Weekly limit:  [█░░░░░░░] 88% left (resets 09:00 on 20 Dec)  │\n" +
		"│  Credits:       1,234.5 credits  │\n" +
		"╰──────────────────────────────────────────╯\n"
	st, err := ParseCodexStatus(screen, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if st.Usage.Primary.UsedPercent != 32 || st.Usage.Primary.ResetDescription != "Resets 14:05" {
		t.Errorf("primary: %+v", st.Usage.Primary)
	}
	if st.Usage.Secondary == nil || st.Usage.Secondary.UsedPercent != 12 {
		t.Errorf("secondary: %+v", st.Usage.Secondary)
	}
	if st.Usage.Secondary.ResetDescription != "Resets 09:00 on 20 Dec" {
		t.Errorf("secondary reset: %q", st.Usage.Secondary.ResetDescription)
	}
	if st.Usage.AccountEmail != "user@example.com" || st.Usage.LoginMethod != "Plus" {
		t.Errorf("account: %q %q", st.Usage.AccountEmail, st.Usage.LoginMethod)
	}
	if st.Credits == nil || *st.Credits != 1234.5 {
		t.Errorf("credits: %v", st.Credits)
	}
}

func TestParseCodexStatus_noLimits(t *testing.T) {
	_, err := ParseCodexStatus("│  Model: gpt-5  │\n", time.Now())
	if !errors.Is(err, errs.SchemaMismatch) {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
}
