package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tnunamak/usagebar/internal/engine"
	"github.com/tnunamak/usagebar/internal/providers"
	"github.com/tnunamak/usagebar/internal/report"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

var now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func claudeSection() Section {
	return Section{
		Labels: providers.Labels{Primary: "Session", Secondary: "Weekly", Tertiary: "Opus"},
		Status: engine.Status{
			ID:       usage.Claude,
			Name:     "Claude",
			Strategy: strategy.OAuth,
			Snapshot: &usage.Snapshot{
				Primary: usage.RateWindow{UsedPercent: 28, WindowMinutes: usage.Minutes(300),
					ResetsAt: usage.At(now.Add(2*time.Hour + 10*time.Minute))},
				Secondary: &usage.RateWindow{UsedPercent: 60, WindowMinutes: usage.Minutes(10080),
					ResetsAt: usage.At(now.Add(3*24*time.Hour + 12*time.Hour))},
				Tertiary:     &usage.RateWindow{UsedPercent: 5, ResetDescription: "Resets Jan 20"},
				AccountEmail: "dev@example.com",
				LoginMethod:  "Claude Max",
				UpdatedAt:    now.Add(-2 * time.Minute),
			},
			Credits: &usage.Credits{Remaining: 1234.5},
		},
	}
}

func TestRender_plain(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, []Section{claudeSection()}, Options{Now: now}); err != nil {
		t.Fatal(err)
	}
	want := `== Claude (oauth) ==
Session: 72% left
Resets in 2h 10m
Weekly: 40% left
Resets in 3d 12h
Pace: Ahead (+10%) · Runs out in 2d 8h
Opus: 95% left
Resets Jan 20
Credits: 1,234.5
Account: dev@example.com
Plan: Claude Max
Updated: 2 minutes ago
`
	if got := buf.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestRender_errorAndColor(t *testing.T) {
	s := Section{
		Labels: providers.Labels{Primary: "Session"},
		Status: engine.Status{ID: usage.Codex, Name: "Codex", Error: "codex auth: config missing"},
	}
	var buf bytes.Buffer
	Render(&buf, []Section{claudeSection(), s}, Options{Now: now, Color: true})
	out := buf.String()
	if !strings.Contains(out, "\033[32m") || !strings.Contains(out, "█") {
		t.Errorf("colored output should carry a bar:\n%s", out)
	}
	if !strings.Contains(out, "\n\n== Codex ==\nStatus: \033[31mcodex auth: config missing\033[0m\n") {
		t.Errorf("error section:\n%q", out)
	}

	buf.Reset()
	Render(&buf, []Section{{Status: engine.Status{Name: "Gemini"}}}, Options{Now: now})
	if buf.String() != "== Gemini ==\nStatus: no data yet\n" {
		t.Errorf("empty section: %q", buf.String())
	}
}

func TestRender_json(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, []Section{claudeSection()}, Options{JSON: true, Now: now}); err != nil {
		t.Fatal(err)
	}
	var out struct {
		Providers []struct {
			ID       string `json:"id"`
			Strategy string `json:"strategy"`
			Snapshot struct {
				Primary struct {
					UsedPercent float64 `json:"used_percent"`
				} `json:"primary"`
			} `json:"snapshot"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Providers) != 1 || out.Providers[0].ID != "claude" || out.Providers[0].Snapshot.Primary.UsedPercent != 28 {
		t.Errorf("got %+v", out)
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		pct    float64
		filled int
	}{
		{0, 0},
		{50, 10},
		{100, 20},
		{150, 20},
		{-5, 0},
	}
	for _, tt := range tests {
		b := bar(tt.pct)
		if got := strings.Count(b, "█"); got != tt.filled {
			t.Errorf("bar(%v): %d filled, want %d", tt.pct, got, tt.filled)
		}
		if got := strings.Count(b, "█") + strings.Count(b, "░"); got != barWidth {
			t.Errorf("bar(%v) width %d", tt.pct, got)
		}
	}
}

func TestRenderCost(t *testing.T) {
	cost, tokens := 1234.567, int64(1500000)
	today := 0.5
	var buf bytes.Buffer
	RenderCost(&buf, []CostSection{
		{Name: "Claude", Summary: &report.TokenSnapshot{SessionCostUSD: &today, Last30DaysCostUSD: &cost, Last30DaysTokens: &tokens}},
		{Name: "Gemini", Error: "unsupported"},
	}, false)
	out := buf.String()
	for _, line := range []string{"Today: $0.5 · -", "Last 30 days: $1,234.57 · 1,500,000 tokens", "== Gemini cost ==\nStatus: unsupported"} {
		if !strings.Contains(out, line) {
			t.Errorf("missing %q in:\n%s", line, out)
		}
	}
}
