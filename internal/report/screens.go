package report

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/ptyrun"
	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	sessionMinutes = 5 * 60
	weekMinutes    = 7 * 24 * 60
)

var (
	percentRE    = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s*(used|left|remaining)?`)
	resetsRE     = regexp.MustCompile(`(?i)\bresets?\s+(.+)`)
	parenResetRE = regexp.MustCompile(`(?i)\(resets?\s+([^)]+)\)`)
	emailRE      = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	accountRE    = regexp.MustCompile(`(?i)account:\s*(\S+@\S+?)(?:\s+\(([^)]+)\))?\s*$`)
	creditsRE    = regexp.MustCompile(`(?i)credits:\s*([\d,]+(?:\.\d+)?)`)
	loginRE      = regexp.MustCompile(`(?i)login method:\s*(.+)$`)
)

// screenLines strips terminal decoration and returns non-empty lines.
func screenLines(text string) []string {
	clean := ptyrun.StripANSI(text)
	var out []string
	for _, l := range strings.Split(clean, "\n") {
		l = strings.Trim(l, " \t│║|╭╮╰╯─")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// usedFrom converts "NN% used" or "NN% left" into a used percentage.
func usedFrom(line string) (float64, bool) {
	m := percentRE.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "left", "remaining":
		return 100 - v, true
	}
	return v, true
}

// claudeSection reads the window under heading: the first percentage and
// reset line before the next heading.
func claudeSection(lines []string, heading func(string) bool, minutes int) *usage.RateWindow {
	for i, l := range lines {
		if !heading(strings.ToLower(l)) {
			continue
		}
		var w *usage.RateWindow
		for j, next := range lines[i:] {
			if j > 0 && isClaudeHeading(strings.ToLower(next)) {
				break
			}
			if w == nil {
				if used, ok := usedFrom(next); ok {
					w = &usage.RateWindow{UsedPercent: used, WindowMinutes: usage.Minutes(minutes)}
					continue
				}
			}
			if w != nil && w.ResetDescription == "" {
				if m := resetsRE.FindStringSubmatch(next); m != nil {
					w.ResetDescription = "Resets " + strings.TrimSpace(m[1])
					break
				}
			}
		}
		return w
	}
	return nil
}

func isClaudeHeading(l string) bool {
	return strings.HasPrefix(l, "current session") || strings.HasPrefix(l, "current week")
}

// ParseClaudeUsage reads the Claude CLI /usage screen.
func ParseClaudeUsage(text string, now time.Time) (usage.Snapshot, error) {
	lines := screenLines(text)
	session := claudeSection(lines, func(l string) bool {
		return strings.HasPrefix(l, "current session")
	}, sessionMinutes)
	if session == nil {
		return usage.Snapshot{}, errs.Newf(errs.KindSchemaMismatch, "claude /usage", "no current session usage in output")
	}
	snap := usage.Snapshot{Primary: *session, UpdatedAt: now}
	snap.Secondary = claudeSection(lines, func(l string) bool {
		return strings.HasPrefix(l, "current week (all models)") || l == "current week"
	}, weekMinutes)
	snap.Tertiary = claudeSection(lines, func(l string) bool {
		return strings.HasPrefix(l, "current week (opus") || strings.HasPrefix(l, "current week (sonnet")
	}, weekMinutes)

	for _, l := range lines {
		lower := strings.ToLower(l)
		if m := loginRE.FindStringSubmatch(l); m != nil && snap.LoginMethod == "" {
			snap.LoginMethod = strings.TrimSpace(m[1])
		}
		if snap.AccountEmail == "" && (strings.Contains(lower, "email") || strings.HasPrefix(lower, "account")) {
			snap.AccountEmail = emailRE.FindString(l)
		}
	}
	return snap, nil
}

// CodexStatus is what the Codex CLI /status screen reports.
type CodexStatus struct {
	Usage   usage.Snapshot
	Credits *float64
}

// ParseCodexStatus reads the Codex CLI /status screen. Both "NN% used"
// and the newer "NN% left" phrasing are accepted.
func ParseCodexStatus(text string, now time.Time) (CodexStatus, error) {
	var (
		st            CodexStatus
		primary, week *usage.RateWindow
	)
	for _, l := range screenLines(text) {
		lower := strings.ToLower(l)
		switch {
		case strings.HasPrefix(lower, "5h limit"):
			primary = codexWindow(l, sessionMinutes)
		case strings.HasPrefix(lower, "weekly limit"):
			week = codexWindow(l, weekMinutes)
		case strings.HasPrefix(lower, "account"):
			if m := accountRE.FindStringSubmatch(l); m != nil {
				st.Usage.AccountEmail = m[1]
				st.Usage.LoginMethod = m[2]
			}
		case strings.HasPrefix(lower, "credits"):
			if m := creditsRE.FindStringSubmatch(l); m != nil {
				if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
					st.Credits = &v
				}
			}
		}
	}
	switch {
	case primary != nil:
		st.Usage.Primary = *primary
		st.Usage.Secondary = week
	case week != nil:
		st.Usage.Primary = *week
	default:
		return CodexStatus{}, errs.Newf(errs.KindSchemaMismatch, "codex /status", "no limit lines in output")
	}
	st.Usage.UpdatedAt = now
	return st, nil
}

func codexWindow(line string, minutes int) *usage.RateWindow {
	_, rest, _ := strings.Cut(line, ":")
	used, ok := usedFrom(rest)
	if !ok {
		return nil
	}
	w := &usage.RateWindow{UsedPercent: used, WindowMinutes: usage.Minutes(minutes)}
	if m := parenResetRE.FindStringSubmatch(rest); m != nil {
		w.ResetDescription = "Resets " + strings.TrimSpace(m[1])
	}
	return w
}
