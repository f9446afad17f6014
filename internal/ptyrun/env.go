package ptyrun

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// EnrichedEnvironment prepares the child environment: the base is kept,
// TERM defaults to xterm-256color, HOME is backfilled and the login-shell
// PATH is merged ahead of the base PATH without duplicates.
func EnrichedEnvironment(base map[string]string, loginPATH, home string) map[string]string {
	env := make(map[string]string, len(base)+3)
	for k, v := range base {
		env[k] = v
	}
	if env["TERM"] == "" {
		env["TERM"] = "xterm-256color"
	}
	if env["HOME"] == "" && home != "" {
		env["HOME"] = home
	}
	if merged := mergePATH(loginPATH, env["PATH"]); merged != "" {
		env["PATH"] = merged
	}
	return env
}

func mergePATH(first, second string) string {
	seen := make(map[string]bool)
	var parts []string
	for _, list := range []string{first, second} {
		for _, dir := range filepath.SplitList(list) {
			if dir == "" || seen[dir] {
				continue
			}
			seen[dir] = true
			parts = append(parts, dir)
		}
	}
	return strings.Join(parts, string(filepath.ListSeparator))
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func envList(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[()][0-9A-Za-z]|\x1b[=>78]`)

// StripANSI removes CSI, OSC and charset escape sequences and carriage
// returns from terminal output.
func StripANSI(s string) string {
	s = ansiRE.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "\r", "")
}
