// Package cli renders engine statuses and cost reports for a terminal.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/tnunamak/usagebar/internal/engine"
	"github.com/tnunamak/usagebar/internal/forecast"
	"github.com/tnunamak/usagebar/internal/providers"
	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	barWidth    = 20
	weekMinutes = 7 * 24 * 60
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func color(usedPct float64) string {
	switch {
	case usedPct >= 80:
		return "\033[31m" // red
	case usedPct >= 60:
		return "\033[33m" // yellow
	default:
		return "\033[32m" // green
	}
}

const reset = "\033[0m"

func bar(usedPct float64) string {
	filled := int(math.Round(usedPct / 100 * barWidth))
	filled = max(0, min(filled, barWidth))
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

// Section is one source as it is printed.
type Section struct {
	Status engine.Status
	Labels providers.Labels
}

type Options struct {
	JSON  bool
	Color bool
	Now   time.Time
}

// Render writes every section in order.
func Render(w io.Writer, sections []Section, opts Options) error {
	if opts.JSON {
		return renderJSON(w, sections, opts.Now)
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		renderSection(w, s, opts)
	}
	return nil
}

type jsonOutput struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Providers   []engine.Status `json:"providers"`
}

func renderJSON(w io.Writer, sections []Section, now time.Time) error {
	out := jsonOutput{GeneratedAt: now, Providers: make([]engine.Status, len(sections))}
	for i, s := range sections {
		out.Providers[i] = s.Status
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func renderSection(w io.Writer, s Section, opts Options) {
	st := s.Status
	header := "== " + st.Name
	if st.Strategy != "" {
		header += " (" + string(st.Strategy) + ")"
	}
	fmt.Fprintln(w, header+" ==")

	if snap := st.Snapshot; snap != nil {
		windowLines(w, s.Labels.Primary, &snap.Primary, false, opts)
		windowLines(w, s.Labels.Secondary, snap.Secondary, true, opts)
		windowLines(w, s.Labels.Tertiary, snap.Tertiary, false, opts)
		if st.Credits != nil {
			fmt.Fprintf(w, "Credits: %s\n", humanize.CommafWithDigits(st.Credits.Remaining, 2))
		}
		if snap.AccountEmail != "" {
			fmt.Fprintf(w, "Account: %s\n", snap.AccountEmail)
		}
		if snap.LoginMethod != "" {
			fmt.Fprintf(w, "Plan: %s\n", snap.LoginMethod)
		}
		fmt.Fprintf(w, "Updated: %s\n", humanize.RelTime(snap.UpdatedAt, opts.Now, "ago", "from now"))
	}
	if st.Error != "" {
		msg := st.Error
		if opts.Color {
			msg = "\033[31m" + msg + reset
		}
		fmt.Fprintf(w, "Status: %s\n", msg)
	} else if st.Snapshot == nil {
		fmt.Fprintln(w, "Status: no data yet")
	}
}

func windowLines(w io.Writer, label string, rw *usage.RateWindow, weekly bool, opts Options) {
	if rw == nil || label == "" {
		return
	}
	left := rw.RemainingPercent()
	if opts.Color {
		fmt.Fprintf(w, "%s: %s%s%s %.0f%% left\n", label, color(rw.UsedPercent), bar(rw.UsedPercent), reset, left)
	} else {
		fmt.Fprintf(w, "%s: %.0f%% left\n", label, left)
	}
	switch {
	case rw.ResetsAt != nil:
		fmt.Fprintf(w, "Resets in %s\n", forecast.Countdown(rw.ResetsAt.Sub(opts.Now)))
	case rw.ResetDescription != "":
		fmt.Fprintln(w, rw.ResetDescription)
	}
	if weekly {
		if p, ok := forecast.Weekly(*rw, opts.Now, weekMinutes); ok {
			fmt.Fprintln(w, forecast.Text(p))
		}
	}
}

// Status refreshes the engine once and prints the result. It returns the
// process exit code: 1 when any source has nothing but an error.
func Status(ctx context.Context, eng *engine.Engine, labels map[usage.Provider]providers.Labels, jsonMode, plainMode bool) int {
	eng.Refresh(ctx)
	statuses := eng.Statuses()
	sections := make([]Section, len(statuses))
	code := 0
	for i, st := range statuses {
		sections[i] = Section{Status: st, Labels: labels[st.ID]}
		if st.Snapshot == nil && st.Error != "" {
			code = 1
		}
	}
	opts := Options{JSON: jsonMode, Color: !plainMode && isTTY(), Now: time.Now()}
	if err := Render(os.Stdout, sections, opts); err != nil {
		fmt.Fprintf(os.Stderr, "usagebar: %v\n", err)
		return 1
	}
	return code
}
