package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/cookies"
	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/oauth"
	"github.com/tnunamak/usagebar/internal/report"
	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	chatGPTOrigin       = "https://chatgpt.com"
	codexSessionPath    = "/api/auth/session"
	codexWebUsagePath   = "/backend-api/wham/usage"
	codexCreditsPath    = "/backend-api/wham/usage/credits"
	codexCreditsService = "codex"
)

var codexCookieDomains = []string{"chatgpt.com", "openai.com"}

// sessionCookieHeader returns the Cookie header a browser would send to
// origin, built from the records that belong to it.
func sessionCookieHeader(records []cookies.Record, origin string) string {
	target, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	jar, _ := cookiejar.New(nil)
	for _, c := range cookies.HTTPCookies(records) {
		if cookies.OriginURL(c.Domain) != origin {
			continue
		}
		jar.SetCookies(&url.URL{Scheme: "https", Host: c.Domain, Path: "/"}, []*http.Cookie{c})
	}
	parts := make([]string, 0, len(records))
	for _, c := range jar.Cookies(target) {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

type chatGPTSession struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		Email string `json:"email"`
	} `json:"user"`
}

// signedIn is one browser profile with a live chatgpt.com session.
type signedIn struct {
	label   string
	cookie  string
	session chatGPTSession
}

// sessionMismatchError lists the accounts found when none matches the
// Codex CLI's account.
func sessionMismatchError(target string, found map[string]string) error {
	labels := make([]string, 0, len(found))
	for l := range found {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	pairs := make([]string, len(labels))
	for i, l := range labels {
		pairs[i] = l + "=" + found[l]
	}
	return errs.Newf(errs.KindSessionMissing, "codex web",
		"no chatgpt.com session for %s (found %s)", target, strings.Join(pairs, ", "))
}

// codexWebSession finds a signed-in chatgpt.com session. When target is
// set, only a session for that account is accepted.
func (d *Deps) codexWebSession(ctx context.Context, target string) (signedIn, error) {
	sources, err := d.Cookies.Import(ctx, d.Browsers, codexCookieDomains)
	if err != nil {
		return signedIn{}, err
	}
	found := map[string]string{}
	for _, s := range sources {
		header := sessionCookieHeader(s.Records, chatGPTOrigin)
		if header == "" {
			continue
		}
		var sess chatGPTSession
		headers := map[string]string{"Cookie": header}
		if err := getJSON(ctx, d.HTTP, d.Endpoints.CodexWeb+codexSessionPath, "codex web", headers, &sess); err != nil {
			if ctx.Err() != nil {
				return signedIn{}, ctx.Err()
			}
			d.Logger.Debug("chatgpt.com session rejected", zap.String("source", s.Label()), zap.Error(err))
			continue
		}
		if sess.AccessToken == "" {
			continue
		}
		if target != "" && !strings.EqualFold(sess.User.Email, target) {
			found[s.Label()] = sess.User.Email
			continue
		}
		return signedIn{label: s.Label(), cookie: header, session: sess}, nil
	}
	if len(found) > 0 {
		return signedIn{}, sessionMismatchError(target, found)
	}
	return signedIn{}, errs.Newf(errs.KindSessionMissing, "codex web", "no signed-in chatgpt.com session")
}

type codexCreditHistory struct {
	Events []struct {
		Date        string  `json:"date"`
		Service     string  `json:"service"`
		CreditsUsed float64 `json:"credits_used"`
	} `json:"events"`
}

func (h codexCreditHistory) creditEvents() []usage.CreditEvent {
	out := make([]usage.CreditEvent, 0, len(h.Events))
	for _, e := range h.Events {
		at, ok := report.ParseDate(e.Date)
		if !ok {
			continue
		}
		service := e.Service
		if service == "" {
			service = codexCreditsService
		}
		out = append(out, usage.NewCreditEvent(at, service, e.CreditsUsed))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// codexTargetEmail is the account the Codex CLI is logged in as, if known.
func (d *Deps) codexTargetEmail() string {
	auth, err := d.readCodexAuth()
	if err != nil || auth.Tokens.IDToken == "" {
		return ""
	}
	claims, err := oauth.IDTokenClaims(auth.Tokens.IDToken)
	if err != nil {
		return ""
	}
	return claims.Email
}

func (d *Deps) fetchCodexWeb(ctx context.Context) (usage.Result, error) {
	target := d.codexTargetEmail()
	s, err := d.codexWebSession(ctx, target)
	if err != nil {
		return usage.Result{}, err
	}
	d.Logger.Debug("using chatgpt.com session", zap.String("source", s.label))

	headers := map[string]string{
		"Authorization": "Bearer " + s.session.AccessToken,
		"Cookie":        s.cookie,
	}
	var body codexUsageResponse
	if err := getJSON(ctx, d.HTTP, d.Endpoints.CodexWeb+codexWebUsagePath, "codex web", headers, &body); err != nil {
		return usage.Result{}, err
	}
	res, err := body.toResult(d.Now())
	if err != nil {
		return usage.Result{}, fmt.Errorf("codex web: %w", err)
	}
	res.Usage.AccountEmail = s.session.User.Email

	if res.Credits != nil {
		var history codexCreditHistory
		if err := getJSON(ctx, d.HTTP, d.Endpoints.CodexWeb+codexCreditsPath, "codex web", headers, &history); err == nil {
			res.Credits.Events = history.creditEvents()
		} else {
			d.Logger.Debug("codex credit history unavailable", zap.Error(err))
		}
	}
	return res, nil
}
