// Package cookies imports session cookies from local browser profiles.
package cookies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tnunamak/usagebar/internal/errs"
)

type Browser string

const (
	Chrome   Browser = "chrome"
	Brave    Browser = "brave"
	Edge     Browser = "edge"
	Arc      Browser = "arc"
	Chromium Browser = "chromium"
	Firefox  Browser = "firefox"
)

// DefaultBrowsers is the search order when none is configured.
var DefaultBrowsers = []Browser{Chrome, Arc, Brave, Edge, Chromium, Firefox}

func (b Browser) chromiumFamily() bool { return b != Firefox }

// Record is one cookie row. Host has any leading dot removed.
type Record struct {
	Host     string
	Name     string
	Path     string
	Value    string
	Expires  *time.Time
	Secure   bool
	HTTPOnly bool
}

// Source groups the matching cookies of one browser profile.
type Source struct {
	Browser Browser
	Profile string
	Records []Record
}

func (s Source) Label() string { return string(s.Browser) + " (" + s.Profile + ")" }

// Value returns the first unexpired cookie called name.
func (s Source) Value(name string, now time.Time) (string, bool) {
	for _, r := range s.Records {
		if r.Name != name {
			continue
		}
		if r.Expires != nil && r.Expires.Before(now) {
			continue
		}
		return r.Value, true
	}
	return "", false
}

// Importer reads cookie databases. Fields are exported so tests can point
// it at a fake home directory and key provider.
type Importer struct {
	Home   string
	GOOS   string
	Keys   KeyProvider
	Logger *zap.Logger
}

func NewImporter(logger *zap.Logger) *Importer {
	home, _ := os.UserHomeDir()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		Home:   home,
		GOOS:   runtime.GOOS,
		Keys:   NewSafeStorage(runtime.GOOS),
		Logger: logger,
	}
}

// Import returns one Source per profile holding cookies for any of domains.
// No cookie database for any requested browser yields KindCookieDBNotFound;
// databases without matching rows yield an empty result and nil error.
func (im *Importer) Import(ctx context.Context, browsers []Browser, domains []string) ([]Source, error) {
	if len(browsers) == 0 {
		browsers = DefaultBrowsers
	}
	domains = normalizeDomains(domains)

	var (
		sources []Source
		found   bool
		lastErr error
	)
	for _, b := range browsers {
		profiles := im.profiles(b)
		if len(profiles) == 0 {
			continue
		}
		found = true
		for _, p := range profiles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			records, err := im.readProfile(ctx, b, p, domains)
			if err != nil {
				im.Logger.Debug("cookie profile skipped",
					zap.String("browser", string(b)),
					zap.String("profile", p.name),
					zap.Error(err))
				lastErr = err
				continue
			}
			if len(records) == 0 {
				continue
			}
			sources = append(sources, Source{Browser: b, Profile: p.name, Records: records})
		}
	}
	if !found {
		return nil, errs.Newf(errs.KindCookieDBNotFound, "cookies", "no profile database for %v", browsers)
	}
	if len(sources) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return sources, nil
}

func (im *Importer) readProfile(ctx context.Context, b Browser, p profile, domains []string) ([]Record, error) {
	if len(domains) == 0 {
		return nil, nil
	}
	f, err := os.Open(p.db)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, errs.New(errs.KindCookieDBNotReadable, p.db, err)
		}
		return nil, errs.New(errs.KindCookieDBNotFound, p.db, err)
	}
	f.Close()

	dir, err := os.MkdirTemp("", "usagebar-cookies-*")
	if err != nil {
		return nil, fmt.Errorf("cookie temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	copied := filepath.Join(dir, filepath.Base(p.db))
	if err := copyFile(p.db, copied); err != nil {
		return nil, errs.New(errs.KindCookieDBNotReadable, p.db, err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if _, err := os.Stat(p.db + suffix); err == nil {
			_ = copyFile(p.db+suffix, copied+suffix)
		}
	}

	db, err := sql.Open("sqlite", copied+"?_pragma=query_only(1)")
	if err != nil {
		return nil, errs.New(errs.KindCookieDBNotReadable, p.db, err)
	}
	defer db.Close()

	if b.chromiumFamily() {
		return im.readChromium(ctx, db, b, domains)
	}
	return readFirefox(ctx, db, domains)
}

// hostFilter builds "col = ? OR col LIKE ?" per domain, matching the bare
// domain and any subdomain.
func hostFilter(col string, domains []string) (string, []any) {
	clauses := make([]string, 0, len(domains))
	args := make([]any, 0, 2*len(domains))
	for _, d := range domains {
		clauses = append(clauses, fmt.Sprintf("(%s = ? OR %s LIKE ?)", col, col))
		args = append(args, d, "%."+d)
	}
	return strings.Join(clauses, " OR "), args
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func normalizeDomain(raw string) string {
	return strings.TrimPrefix(strings.TrimSpace(raw), ".")
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		if d = strings.ToLower(normalizeDomain(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

var knownOrigins = []string{"claude.ai", "anthropic.com", "chatgpt.com", "openai.com", "z.ai"}

// OriginURL picks the origin a cookie for host belongs to.
func OriginURL(host string) string {
	h := strings.ToLower(normalizeDomain(host))
	for _, d := range knownOrigins {
		if strings.Contains(h, d) {
			return "https://" + d
		}
	}
	return "https://" + h
}

// HTTPCookies converts records for use with an http.CookieJar or request.
func HTTPCookies(records []Record) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(records))
	for _, r := range records {
		domain := normalizeDomain(r.Host)
		if domain == "" {
			continue
		}
		c := &http.Cookie{
			Name:     r.Name,
			Value:    r.Value,
			Path:     r.Path,
			Domain:   domain,
			Secure:   r.Secure,
			HttpOnly: r.HTTPOnly,
		}
		if r.Expires != nil {
			c.Expires = *r.Expires
		}
		out = append(out, c)
	}
	return out
}
