package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/ptyrun"
	"github.com/tnunamak/usagebar/internal/report"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	claudeUsagePath  = "/api/oauth/usage"
	claudeBetaHeader = "oauth-2025-04-20"
	claudeKeychain   = "Claude Code-credentials"
	claudeCLITimeout = 25 * time.Second
)

func claudeDescriptor() Descriptor {
	return Descriptor{
		ID:          usage.Claude,
		Name:        "Claude",
		Labels:      Labels{Primary: "Session", Secondary: "Weekly", Tertiary: "Opus"},
		Order:       []strategy.Kind{strategy.OAuth, strategy.Web, strategy.CLI},
		Prepare:     prepareClaude,
		CostCommand: []string{"ccusage", "daily", "--json"},
	}
}

type claudeCredentials struct {
	ClaudeAiOauth struct {
		AccessToken      string   `json:"accessToken"`
		RefreshToken     string   `json:"refreshToken"`
		ExpiresAt        int64    `json:"expiresAt"`
		Scopes           []string `json:"scopes"`
		SubscriptionType string   `json:"subscriptionType"`
		RateLimitTier    string   `json:"rateLimitTier"`
	} `json:"claudeAiOauth"`

	tokenOnly string // set when credentials come from env var or raw keychain value
}

func (c *claudeCredentials) AccessToken() string {
	if c.tokenOnly != "" {
		return c.tokenOnly
	}
	return c.ClaudeAiOauth.AccessToken
}

func (c *claudeCredentials) IsExpired(now time.Time) bool {
	if c.tokenOnly != "" || c.ClaudeAiOauth.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() >= c.ClaudeAiOauth.ExpiresAt
}

func (c *claudeCredentials) plan() string {
	switch t := strings.ToLower(c.ClaudeAiOauth.SubscriptionType); t {
	case "":
		return ""
	case "max", "pro", "team", "enterprise":
		return "Claude " + strings.ToUpper(t[:1]) + t[1:]
	default:
		return t
	}
}

// readClaudeCredentials tries, in order:
//  1. CLAUDE_CODE_OAUTH_TOKEN env var (raw access token)
//  2. macOS Keychain (security find-generic-password)
//  3. ~/.claude/.credentials.json file
func (d *Deps) readClaudeCredentials(ctx context.Context) (*claudeCredentials, error) {
	if token := strings.TrimSpace(d.Getenv("CLAUDE_CODE_OAUTH_TOKEN")); token != "" {
		return &claudeCredentials{tokenOnly: token}, nil
	}
	if d.GOOS == "darwin" {
		if creds, err := readClaudeKeychain(ctx); err == nil {
			return creds, nil
		}
	}
	return d.readClaudeCredentialsFile()
}

func readClaudeKeychain(ctx context.Context) (*claudeCredentials, error) {
	out, err := exec.CommandContext(ctx, "security", "find-generic-password",
		"-s", claudeKeychain, "-w").Output()
	if err != nil {
		return nil, fmt.Errorf("keychain: %w", err)
	}
	data := strings.TrimSpace(string(out))
	if data == "" {
		return nil, fmt.Errorf("keychain: empty value")
	}
	var creds claudeCredentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		// Might be a raw token string
		return &claudeCredentials{tokenOnly: data}, nil
	}
	return &creds, nil
}

func (d *Deps) readClaudeCredentialsFile() (*claudeCredentials, error) {
	p := d.path(".claude", ".credentials.json")
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindConfigMissing, "claude credentials", err)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, errs.New(errs.KindConfigMissing, "claude credentials", fmt.Errorf("parse credentials: %w", err))
	}
	if creds.AccessToken() == "" {
		return nil, errs.Newf(errs.KindConfigMissing, "claude credentials", "no access token in %s", p)
	}
	return &creds, nil
}

type claudeUsageResponse struct {
	FiveHour       *claudeWindow `json:"five_hour"`
	SevenDay       *claudeWindow `json:"seven_day"`
	SevenDayOpus   *claudeWindow `json:"seven_day_opus"`
	SevenDaySonnet *claudeWindow `json:"seven_day_sonnet"`
	ExtraUsage     *struct {
		IsEnabled    bool     `json:"is_enabled"`
		MonthlyLimit *float64 `json:"monthly_limit"`
		UsedCredits  *float64 `json:"used_credits"`
	} `json:"extra_usage"`
}

type claudeWindow struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    string   `json:"resets_at"`
}

func (w *claudeWindow) rateWindow(minutes int) *usage.RateWindow {
	if w == nil {
		return nil
	}
	rw := &usage.RateWindow{WindowMinutes: usage.Minutes(minutes)}
	if w.Utilization != nil {
		rw.UsedPercent = *w.Utilization
	}
	if t, ok := report.ParseISO8601(w.ResetsAt); ok {
		rw.ResetsAt = &t
	}
	return rw
}

// toResult maps the usage payload shared by the OAuth and claude.ai
// endpoints. A missing session window is a schema mismatch.
func (r claudeUsageResponse) toResult(op string, now time.Time) (usage.Result, error) {
	primary := r.FiveHour.rateWindow(300)
	if primary == nil {
		return usage.Result{}, errs.Newf(errs.KindSchemaMismatch, op, "missing five_hour window")
	}
	snap := usage.Snapshot{
		Primary:   *primary,
		Secondary: r.SevenDay.rateWindow(10080),
		UpdatedAt: now,
	}
	if snap.Tertiary = r.SevenDayOpus.rateWindow(10080); snap.Tertiary == nil {
		snap.Tertiary = r.SevenDaySonnet.rateWindow(10080)
	}
	res := usage.Result{Usage: snap}
	if x := r.ExtraUsage; x != nil && x.IsEnabled && x.MonthlyLimit != nil {
		used := 0.0
		if x.UsedCredits != nil {
			used = *x.UsedCredits
		}
		res.Credits = &usage.Credits{Remaining: *x.MonthlyLimit - used, UpdatedAt: now}
	}
	return res, nil
}

func (d *Deps) fetchClaudeOAuth(ctx context.Context, creds *claudeCredentials) (usage.Result, error) {
	if creds.IsExpired(d.Now()) {
		return usage.Result{}, errs.Newf(errs.KindUnauthorized, "claude oauth", "access token expired")
	}
	var body claudeUsageResponse
	err := getJSON(ctx, d.HTTP, d.Endpoints.ClaudeAPI+claudeUsagePath, "claude oauth", map[string]string{
		"Authorization":  "Bearer " + creds.AccessToken(),
		"anthropic-beta": claudeBetaHeader,
	}, &body)
	if err != nil {
		return usage.Result{}, err
	}
	res, err := body.toResult("claude oauth", d.Now())
	if err != nil {
		return usage.Result{}, err
	}
	res.Usage.LoginMethod = creds.plan()
	return res, nil
}

type claudeOrganization struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// pickOrganization prefers an organization with chat capability.
func pickOrganization(orgs []claudeOrganization) (claudeOrganization, bool) {
	for _, o := range orgs {
		for _, c := range o.Capabilities {
			if c == "chat" && o.UUID != "" {
				return o, true
			}
		}
	}
	for _, o := range orgs {
		if o.UUID != "" {
			return o, true
		}
	}
	return claudeOrganization{}, false
}

func (d *Deps) claudeSessionKey(ctx context.Context) (string, string, error) {
	sources, err := d.Cookies.Import(ctx, d.Browsers, []string{"claude.ai"})
	if err != nil {
		return "", "", err
	}
	for _, s := range sources {
		if v, ok := s.Value("sessionKey", d.Now()); ok {
			return v, s.Label(), nil
		}
	}
	return "", "", errs.Newf(errs.KindSessionMissing, "claude web", "no sessionKey cookie for claude.ai")
}

func (d *Deps) fetchClaudeWeb(ctx context.Context) (usage.Result, error) {
	key, source, err := d.claudeSessionKey(ctx)
	if err != nil {
		return usage.Result{}, err
	}
	d.Logger.Debug("using claude.ai session", zap.String("source", source))
	headers := map[string]string{"Cookie": (&http.Cookie{Name: "sessionKey", Value: key}).String()}
	base := d.Endpoints.ClaudeWeb

	var orgs []claudeOrganization
	if err := getJSON(ctx, d.HTTP, base+"/api/organizations", "claude web", headers, &orgs); err != nil {
		return usage.Result{}, err
	}
	org, ok := pickOrganization(orgs)
	if !ok {
		return usage.Result{}, errs.Newf(errs.KindSchemaMismatch, "claude web", "no organizations")
	}
	var body claudeUsageResponse
	if err := getJSON(ctx, d.HTTP, base+"/api/organizations/"+org.UUID+"/usage", "claude web", headers, &body); err != nil {
		return usage.Result{}, err
	}
	res, err := body.toResult("claude web", d.Now())
	if err != nil {
		return usage.Result{}, err
	}

	var account struct {
		Email string `json:"email_address"`
	}
	if err := getJSON(ctx, d.HTTP, base+"/api/account", "claude web", headers, &account); err == nil {
		res.Usage.AccountEmail = account.Email
	} else {
		d.Logger.Debug("claude account lookup failed", zap.Error(err))
	}
	return res, nil
}

func (d *Deps) fetchClaudeCLI(ctx context.Context) (usage.Result, error) {
	bin, err := d.lookup(ctx, "claude")
	if err != nil {
		return usage.Result{}, err
	}
	// A scratch directory keeps the folder-trust prompt away from real projects.
	dir, err := os.MkdirTemp("", "usagebar-claude-")
	if err != nil {
		return usage.Result{}, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	res, err := d.Runner.Run(ctx, bin, nil, "", ptyrun.Options{
		Timeout:     claudeCLITimeout,
		IdleTimeout: 4 * time.Second,
		SendOnSubstrings: map[string]string{
			"do you trust the files in this folder": "\r",
			"for shortcuts":                         "/usage\r",
			"press enter to continue":               "\r",
		},
		StopOnSubstrings: []string{"current week (all models)"},
		SettleAfterStop:  1500 * time.Millisecond,
		WorkingDirectory: dir,
	})
	if err != nil {
		return usage.Result{}, err
	}
	snap, err := report.ParseClaudeUsage(res.Text, d.Now())
	if err != nil {
		if res.TimedOut {
			return usage.Result{}, errs.New(errs.KindTimeout, "claude /usage", err)
		}
		return usage.Result{}, err
	}
	return usage.Result{Usage: snap}, nil
}

func prepareClaude(ctx context.Context, d *Deps) (strategy.Availability, map[strategy.Kind]strategy.Strategy) {
	avail := strategy.Availability{}
	creds, credErr := d.readClaudeCredentials(ctx)
	avail[strategy.OAuth] = credErr == nil

	current := creds
	oauthStrategy := strategy.Strategy{
		Kind: strategy.OAuth,
		Fetch: func(ctx context.Context) (usage.Result, error) {
			if current == nil {
				return usage.Result{}, credErr
			}
			return d.fetchClaudeOAuth(ctx, current)
		},
		// The Claude CLI owns token refresh; pick up whatever it wrote since.
		Refresh: func(ctx context.Context) error {
			fresh, err := d.readClaudeCredentials(ctx)
			if err != nil {
				return err
			}
			if current != nil && fresh.AccessToken() == current.AccessToken() {
				return errs.Newf(errs.KindUnauthorized, "claude oauth", "token unchanged; run `claude` to re-authenticate")
			}
			current = fresh
			return nil
		},
	}
	return avail, map[strategy.Kind]strategy.Strategy{
		strategy.OAuth: oauthStrategy,
		strategy.Web:   {Kind: strategy.Web, Fetch: d.fetchClaudeWeb},
		strategy.CLI:   {Kind: strategy.CLI, Fetch: d.fetchClaudeCLI},
	}
}
