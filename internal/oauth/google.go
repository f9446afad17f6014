package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tnunamak/usagebar/internal/errs"
)

const GoogleTokenURL = "https://oauth2.googleapis.com/token"

type ClientConfig struct {
	ClientID     string
	ClientSecret string
}

// GoogleRefresher refreshes Google OAuth tokens with the installed
// Gemini CLI's client credentials.
type GoogleRefresher struct {
	Client   ClientConfig
	TokenURL string
	HTTP     *http.Client
	Now      func() time.Time
}

func NewGoogleRefresher(cfg ClientConfig, client *http.Client) *GoogleRefresher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GoogleRefresher{Client: cfg, TokenURL: GoogleTokenURL, HTTP: client, Now: time.Now}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
	Description  string `json:"error_description"`
}

func (g *GoogleRefresher) Refresh(ctx context.Context, refreshToken string) (*Record, error) {
	form := url.Values{
		"client_id":     {g.Client.ClientID},
		"client_secret": {g.Client.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindNetwork, "token refresh", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errs.New(errs.KindNetwork, "token refresh", err)
	}

	var tr tokenResponse
	_ = json.Unmarshal(body, &tr)
	if tr.Error == "invalid_grant" {
		return nil, &errs.Error{Kind: errs.KindUnauthorized, Op: "token refresh", Status: resp.StatusCode, Body: tr.Description}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.HTTP("token refresh", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if tr.AccessToken == "" {
		return nil, errs.Newf(errs.KindSchemaMismatch, "token refresh", "response has no access_token")
	}

	r := &Record{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, IDToken: tr.IDToken}
	if tr.ExpiresIn > 0 {
		r.ExpiresAt = g.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return r, nil
}

var (
	clientIDRE     = regexp.MustCompile(`OAUTH_CLIENT_ID\s*=\s*['"]([^'"]+)['"]`)
	clientSecretRE = regexp.MustCompile(`OAUTH_CLIENT_SECRET\s*=\s*['"]([^'"]+)['"]`)
)

const oauthJS = "dist/src/code_assist/oauth2.js"

// LocateClientConfig finds the OAuth client id and secret embedded in the
// Gemini CLI installation that owns binary.
func LocateClientConfig(binary string) (ClientConfig, error) {
	for _, p := range clientConfigCandidates(binary) {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		id := clientIDRE.FindSubmatch(data)
		secret := clientSecretRE.FindSubmatch(data)
		if id == nil || secret == nil {
			continue
		}
		return ClientConfig{ClientID: string(id[1]), ClientSecret: string(secret[1])}, nil
	}
	return ClientConfig{}, errs.Newf(errs.KindConfigMissing, "gemini oauth", "could not find Gemini CLI OAuth configuration near %s", binary)
}

func clientConfigCandidates(binary string) []string {
	resolved := binary
	if p, err := filepath.EvalSymlinks(binary); err == nil {
		resolved = p
	}
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, start := range []string{filepath.Dir(resolved), filepath.Dir(binary)} {
		dir := start
		for i := 0; i < 8; i++ {
			add(filepath.Join(dir, "node_modules", "@google", "gemini-cli-core", oauthJS))
			add(filepath.Join(dir, "lib", "node_modules", "@google", "gemini-cli", "node_modules", "@google", "gemini-cli-core", oauthJS))
			add(filepath.Join(dir, "libexec", "lib", "node_modules", "@google", "gemini-cli", "node_modules", "@google", "gemini-cli-core", oauthJS))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return out
}

// WaitForFile returns once path exists or ctx is done. It watches the
// parent directory for changes and polls every interval when the
// directory cannot be watched.
func WaitForFile(ctx context.Context, path string, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var (
		events   <-chan fsnotify.Event
		watchErr <-chan error
		tick     <-chan time.Time
	)
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if err := w.Add(filepath.Dir(path)); err == nil {
			events, watchErr = w.Events, w.Errors
		}
	}
	var ticker *time.Ticker
	poll := func() {
		if ticker == nil {
			ticker = time.NewTicker(interval)
			tick = ticker.C
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	if events == nil {
		poll()
	}

	for {
		_, err := os.Stat(path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				events, watchErr = nil, nil
				poll()
			}
		case _, ok := <-watchErr:
			// Events may have been dropped; polling catches up.
			if !ok {
				events, watchErr = nil, nil
			}
			poll()
		case <-tick:
		}
	}
}
