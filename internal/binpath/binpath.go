// Package binpath finds CLI binaries that were installed from an
// interactive shell and are therefore missing from a GUI process's PATH.
package binpath

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/cache"
	"github.com/tnunamak/usagebar/internal/errs"
)

const (
	shellTimeout = 3 * time.Second
	// failureBackoff is how long a failed login-shell capture is remembered.
	failureBackoff = time.Minute
	startMarker  = "__USAGEBAR_PATH_START__"
	endMarker    = "__USAGEBAR_PATH_END__"
)

type Resolver struct {
	mu        sync.Mutex
	loginPATH string
	loaded    bool
	failedAt  time.Time

	shell  string
	logger *zap.Logger
	now    func() time.Time
	// capture runs the login shell. Replaced in tests.
	capture func(ctx context.Context, shell string) (string, error)
}

func NewResolver(logger *zap.Logger) *Resolver {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Resolver{shell: shell, logger: logger, now: time.Now, capture: captureLoginPATH}
}

// LoginPATH returns the PATH an interactive login shell sees. It is
// computed once per process and cached on disk between runs. A failed
// capture is not retried for failureBackoff.
func (r *Resolver) LoginPATH(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.loginPATH
	}
	if !r.failedAt.IsZero() && r.now().Sub(r.failedAt) < failureBackoff {
		return ""
	}

	if entry, err := cache.Read(); err == nil && entry.IsValid(r.shell) {
		r.loginPATH, r.loaded = entry.PATH, true
		return r.loginPATH
	}

	p, err := r.capture(ctx, r.shell)
	if err != nil {
		r.logger.Debug("login shell PATH unavailable", zap.String("shell", r.shell), zap.Error(err))
		if ctx.Err() == nil {
			r.failedAt = r.now()
		}
		return ""
	}
	r.loginPATH, r.loaded, r.failedAt = p, true, time.Time{}
	if err := cache.Write(r.shell, p); err != nil {
		r.logger.Debug("login PATH cache write failed", zap.Error(err))
	}
	return p
}

// Lookup resolves name to an executable path. override, when non-empty,
// wins outright. Otherwise the process PATH is searched, then the login
// shell PATH.
func (r *Resolver) Lookup(ctx context.Context, name, override string) (string, error) {
	if override != "" {
		if isExecutable(override) {
			return override, nil
		}
		return "", errs.Newf(errs.KindBinaryNotFound, name, "override %s is not executable", override)
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		if isExecutable(name) {
			return name, nil
		}
		return "", errs.Newf(errs.KindBinaryNotFound, name, "not executable")
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	for _, dir := range filepath.SplitList(r.LoginPATH(ctx)) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", errs.Newf(errs.KindBinaryNotFound, name, "not found in PATH or login shell PATH")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

func captureLoginPATH(ctx context.Context, shell string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	script := `printf '%s%s%s' '` + startMarker + `' "$PATH" '` + endMarker + `'`
	cmd := exec.CommandContext(ctx, shell, "-l", "-i", "-c", script)
	cmd.Stdin = nil
	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		return "", err
	}
	return extractMarked(string(out))
}

// extractMarked pulls the PATH out of shell output that may be surrounded
// by rc-file noise.
func extractMarked(out string) (string, error) {
	start := strings.LastIndex(out, startMarker)
	if start < 0 {
		return "", errs.Newf(errs.KindDataCorrupted, "login shell", "PATH marker missing")
	}
	rest := out[start+len(startMarker):]
	end := strings.Index(rest, endMarker)
	if end < 0 {
		return "", errs.Newf(errs.KindDataCorrupted, "login shell", "PATH end marker missing")
	}
	p := strings.TrimSpace(rest[:end])
	if p == "" {
		return "", errs.Newf(errs.KindDataCorrupted, "login shell", "empty PATH")
	}
	return p, nil
}
