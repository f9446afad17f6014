package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/oauth"
	"github.com/tnunamak/usagebar/internal/ptyrun"
	"github.com/tnunamak/usagebar/internal/report"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

const codexCLITimeout = 25 * time.Second

func codexDescriptor() Descriptor {
	return Descriptor{
		ID:          usage.Codex,
		Name:        "Codex",
		Labels:      Labels{Primary: "Session", Secondary: "Weekly"},
		Order:       []strategy.Kind{strategy.OAuth, strategy.Web, strategy.CLI},
		Prepare:     prepareCodex,
		CostCommand: []string{"npx", "--yes", "@ccusage/codex@latest", "daily", "--json"},
	}
}

type codexAuth struct {
	APIKey *string `json:"OPENAI_API_KEY"`
	Tokens *struct {
		IDToken      string `json:"id_token"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		AccountID    string `json:"account_id"`
	} `json:"tokens"`
	LastRefresh string `json:"last_refresh"`
}

func (d *Deps) codexHome() string {
	if h := d.Getenv("CODEX_HOME"); h != "" {
		return h
	}
	return d.path(".codex")
}

func (d *Deps) readCodexAuth() (*codexAuth, error) {
	p := filepath.Join(d.codexHome(), "auth.json")
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.KindConfigMissing, "codex auth", err)
		}
		return nil, fmt.Errorf("read codex auth: %w", err)
	}
	var auth codexAuth
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, errs.New(errs.KindConfigMissing, "codex auth", fmt.Errorf("parse %s: %w", p, err))
	}
	if auth.Tokens == nil || auth.Tokens.AccessToken == "" {
		if auth.APIKey != nil && *auth.APIKey != "" {
			return nil, errs.Newf(errs.KindUnsupported, "codex auth", "API key login has no usage limits")
		}
		return nil, errs.Newf(errs.KindConfigMissing, "codex auth", "no ChatGPT tokens in %s", p)
	}
	return &auth, nil
}

type codexUsageResponse struct {
	PlanType  string `json:"plan_type"`
	RateLimit *struct {
		Primary   *codexWindow `json:"primary_window"`
		Secondary *codexWindow `json:"secondary_window"`
	} `json:"rate_limit"`
	Credits *struct {
		HasCredits bool            `json:"has_credits"`
		Unlimited  bool            `json:"unlimited"`
		Balance    json.RawMessage `json:"balance"`
	} `json:"credits"`
}

type codexWindow struct {
	UsedPercent        float64 `json:"used_percent"`
	LimitWindowSeconds int64   `json:"limit_window_seconds"`
	ResetAfterSeconds  *int64  `json:"reset_after_seconds"`
	ResetAt            *int64  `json:"reset_at"`
}

func (w *codexWindow) rateWindow(now time.Time) *usage.RateWindow {
	if w == nil {
		return nil
	}
	rw := &usage.RateWindow{UsedPercent: w.UsedPercent}
	if w.LimitWindowSeconds > 0 {
		rw.WindowMinutes = usage.Minutes(int(w.LimitWindowSeconds / 60))
	}
	switch {
	case w.ResetAt != nil && *w.ResetAt > 0:
		rw.ResetsAt = usage.At(time.Unix(*w.ResetAt, 0).UTC())
	case w.ResetAfterSeconds != nil:
		rw.ResetsAt = usage.At(now.Add(time.Duration(*w.ResetAfterSeconds) * time.Second))
	}
	return rw
}

// parseBalance accepts the balance as a JSON number or a numeric string.
func parseBalance(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	return f, err == nil
}

func (r codexUsageResponse) toResult(now time.Time) (usage.Result, error) {
	if r.RateLimit == nil {
		return usage.Result{}, errs.Newf(errs.KindSchemaMismatch, "codex oauth", "missing rate_limit")
	}
	primary := r.RateLimit.Primary.rateWindow(now)
	secondary := r.RateLimit.Secondary.rateWindow(now)
	if primary == nil {
		if secondary == nil {
			return usage.Result{}, errs.Newf(errs.KindSchemaMismatch, "codex oauth", "no rate limit windows")
		}
		primary, secondary = secondary, nil
	}
	res := usage.Result{Usage: usage.Snapshot{
		Primary:     *primary,
		Secondary:   secondary,
		LoginMethod: r.PlanType,
		UpdatedAt:   now,
	}}
	if c := r.Credits; c != nil && c.HasCredits && !c.Unlimited {
		if bal, ok := parseBalance(c.Balance); ok {
			res.Credits = &usage.Credits{Remaining: bal, UpdatedAt: now}
		}
	}
	return res, nil
}

func (d *Deps) fetchCodexOAuth(ctx context.Context, auth *codexAuth) (usage.Result, error) {
	headers := map[string]string{"Authorization": "Bearer " + auth.Tokens.AccessToken}
	if auth.Tokens.AccountID != "" {
		headers["ChatGPT-Account-Id"] = auth.Tokens.AccountID
	}
	var body codexUsageResponse
	if err := getJSON(ctx, d.HTTP, d.Endpoints.Codex+"/wham/usage", "codex oauth", headers, &body); err != nil {
		return usage.Result{}, err
	}
	res, err := body.toResult(d.Now())
	if err != nil {
		return usage.Result{}, err
	}
	if auth.Tokens.IDToken != "" {
		if claims, err := oauth.IDTokenClaims(auth.Tokens.IDToken); err == nil {
			res.Usage.AccountEmail = claims.Email
			if res.Usage.LoginMethod == "" {
				res.Usage.LoginMethod = claims.Plan
			}
		} else {
			d.Logger.Debug("codex id_token unreadable", zap.Error(err))
		}
	}
	return res, nil
}

func (d *Deps) fetchCodexCLI(ctx context.Context) (usage.Result, error) {
	bin, err := d.lookup(ctx, "codex")
	if err != nil {
		return usage.Result{}, err
	}
	dir, err := os.MkdirTemp("", "usagebar-codex-")
	if err != nil {
		return usage.Result{}, fmt.Errorf("scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	res, err := d.Runner.Run(ctx, bin, nil, "", ptyrun.Options{
		Timeout:     codexCLITimeout,
		IdleTimeout: 5 * time.Second,
		SendOnSubstrings: map[string]string{
			"\x1b[6n":                            "\x1b[1;1R",
			"allow codex to work in this folder": "2\r",
			"press enter to continue":            "\r",
			"to get started":                     "/status\r",
		},
		StopOnSubstrings: []string{"weekly limit"},
		SettleAfterStop:  time.Second,
		WorkingDirectory: dir,
	})
	if err != nil {
		return usage.Result{}, err
	}
	st, err := report.ParseCodexStatus(res.Text, d.Now())
	if err != nil {
		if res.TimedOut {
			return usage.Result{}, errs.New(errs.KindTimeout, "codex /status", err)
		}
		return usage.Result{}, err
	}
	out := usage.Result{Usage: st.Usage}
	if st.Credits != nil {
		out.Credits = &usage.Credits{Remaining: *st.Credits, UpdatedAt: st.Usage.UpdatedAt}
	}
	return out, nil
}

func prepareCodex(ctx context.Context, d *Deps) (strategy.Availability, map[strategy.Kind]strategy.Strategy) {
	auth, authErr := d.readCodexAuth()
	avail := strategy.Availability{strategy.OAuth: authErr == nil}

	current := auth
	return avail, map[strategy.Kind]strategy.Strategy{
		strategy.OAuth: {
			Kind: strategy.OAuth,
			Fetch: func(ctx context.Context) (usage.Result, error) {
				if current == nil {
					return usage.Result{}, authErr
				}
				return d.fetchCodexOAuth(ctx, current)
			},
			// The Codex CLI refreshes auth.json on its own.
			Refresh: func(context.Context) error {
				fresh, err := d.readCodexAuth()
				if err != nil {
					return err
				}
				if current != nil && fresh.Tokens.AccessToken == current.Tokens.AccessToken {
					return errs.Newf(errs.KindUnauthorized, "codex oauth", "token unchanged; run `codex login`")
				}
				current = fresh
				return nil
			},
		},
		strategy.Web: {Kind: strategy.Web, Fetch: d.fetchCodexWeb},
		strategy.CLI: {Kind: strategy.CLI, Fetch: d.fetchCodexCLI},
	}
}
