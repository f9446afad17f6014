package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/oauth"
	"github.com/tnunamak/usagebar/internal/report"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	geminiDayMinutes = 1440
	tebibyte         = int64(1) << 40
)

func geminiDescriptor() Descriptor {
	return Descriptor{
		ID:      usage.Gemini,
		Name:    "Gemini",
		Labels:  Labels{Primary: "Pro", Secondary: "Flash"},
		Order:   []strategy.Kind{strategy.OAuth},
		Prepare: prepareGemini,
	}
}

// geminiAuthType reads the auth type selected in ~/.gemini/settings.json.
// Both the nested and the older top-level key are accepted.
func (d *Deps) geminiAuthType() string {
	data, err := os.ReadFile(d.path(".gemini", "settings.json"))
	if err != nil {
		return ""
	}
	var s struct {
		SelectedAuthType string `json:"selectedAuthType"`
		Security         struct {
			Auth struct {
				SelectedType string `json:"selectedType"`
			} `json:"auth"`
		} `json:"security"`
	}
	if json.Unmarshal(data, &s) != nil {
		return ""
	}
	if t := s.Security.Auth.SelectedType; t != "" {
		return t
	}
	return s.SelectedAuthType
}

func checkGeminiAuthType(t string) error {
	switch t {
	case "api-key", "gemini-api-key":
		return errs.Newf(errs.KindUnsupported, "gemini", "API key auth has no quota endpoint")
	case "vertex-ai":
		return errs.Newf(errs.KindUnsupported, "gemini", "Vertex AI auth has no quota endpoint")
	}
	return nil
}

// geminiRefresher locates the CLI's client credentials only when a
// refresh is actually needed.
type geminiRefresher struct {
	d *Deps
}

func (r geminiRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth.Record, error) {
	override := r.d.Getenv("GEMINI_CLI_PATH")
	if override == "" {
		override = r.d.BinaryOverrides["gemini"]
	}
	var (
		bin string
		err error
	)
	if r.d.Locator != nil {
		bin, err = r.d.Locator.Lookup(ctx, "gemini", override)
	} else if override != "" {
		bin = override
	} else {
		err = errs.Newf(errs.KindBinaryNotFound, "gemini", "no locator")
	}
	if err != nil {
		return nil, errs.New(errs.KindConfigMissing, "gemini oauth", err)
	}
	cfg, err := oauth.LocateClientConfig(bin)
	if err != nil {
		return nil, err
	}
	g := oauth.NewGoogleRefresher(cfg, r.d.HTTP)
	g.TokenURL = r.d.Endpoints.GoogleToken
	g.Now = r.d.Now
	return g.Refresh(ctx, refreshToken)
}

func (d *Deps) geminiManager() *oauth.Manager {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gemini == nil {
		store := &oauth.FileStore{Path: d.path(".gemini", "oauth_creds.json")}
		d.gemini = oauth.NewManager(store, geminiRefresher{d: d}, d.Logger)
		d.gemini.Now = d.Now
	}
	return d.gemini
}

type geminiBucket struct {
	ModelID           string   `json:"modelId"`
	RemainingFraction *float64 `json:"remainingFraction"`
	ResetTime         string   `json:"resetTime"`
}

type modelQuota struct {
	model     string
	remaining float64
	resetTime string
}

// modelQuotas keeps the tightest bucket per model, sorted by model id.
func modelQuotas(buckets []geminiBucket) []modelQuota {
	byModel := map[string]modelQuota{}
	for _, b := range buckets {
		if b.ModelID == "" || b.RemainingFraction == nil {
			continue
		}
		q, seen := byModel[b.ModelID]
		if !seen || *b.RemainingFraction < q.remaining {
			byModel[b.ModelID] = modelQuota{model: b.ModelID, remaining: *b.RemainingFraction, resetTime: b.ResetTime}
		}
	}
	out := make([]modelQuota, 0, len(byModel))
	for _, q := range byModel {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].model < out[j].model })
	return out
}

func tightest(qs []modelQuota, family string) *modelQuota {
	var best *modelQuota
	for i := range qs {
		if !strings.Contains(strings.ToLower(qs[i].model), family) {
			continue
		}
		if best == nil || qs[i].remaining < best.remaining {
			best = &qs[i]
		}
	}
	return best
}

func (q *modelQuota) rateWindow() *usage.RateWindow {
	if q == nil {
		return nil
	}
	used := math.Round((1-q.remaining)*1000) / 10
	rw := &usage.RateWindow{UsedPercent: used, WindowMinutes: usage.Minutes(geminiDayMinutes)}
	if t, ok := report.ParseISO8601(q.resetTime); ok {
		rw.ResetsAt = &t
	}
	return rw
}

// planFromStorage maps the Google One storage quota to the AI plan that
// grants it.
func planFromStorage(limitBytes int64) string {
	switch {
	case limitBytes >= 30*tebibyte:
		return "AI Ultra"
	case limitBytes >= 2*tebibyte:
		return "AI Pro"
	}
	return ""
}

func (d *Deps) geminiProject(ctx context.Context, token string) string {
	var body struct {
		Projects []struct {
			ProjectID string `json:"projectId"`
		} `json:"projects"`
	}
	err := getJSON(ctx, d.HTTP, d.Endpoints.GeminiProjects+"/v1/projects", "gemini projects",
		map[string]string{"Authorization": "Bearer " + token}, &body)
	if err != nil {
		d.Logger.Debug("gemini project lookup failed", zap.Error(err))
		return ""
	}
	for _, p := range body.Projects {
		if strings.HasPrefix(p.ProjectID, "gen-lang-client") {
			return p.ProjectID
		}
	}
	if len(body.Projects) > 0 {
		return body.Projects[0].ProjectID
	}
	return ""
}

func (d *Deps) geminiStoragePlan(ctx context.Context, token string) string {
	var body struct {
		StorageQuota struct {
			Limit string `json:"limit"`
		} `json:"storageQuota"`
	}
	err := getJSON(ctx, d.HTTP, d.Endpoints.GeminiDrive+"/drive/v3/about?fields=storageQuota", "gemini drive",
		map[string]string{"Authorization": "Bearer " + token}, &body)
	if err != nil {
		d.Logger.Debug("drive quota unavailable", zap.Error(err))
		return ""
	}
	limit, err := strconv.ParseInt(body.StorageQuota.Limit, 10, 64)
	if err != nil {
		return ""
	}
	return planFromStorage(limit)
}

func (d *Deps) fetchGeminiQuota(ctx context.Context, token, project string) ([]modelQuota, error) {
	payload := map[string]string{}
	if project != "" {
		payload["project"] = project
	}
	b, _ := json.Marshal(payload)
	req, err := newRequest(ctx, http.MethodPost, d.Endpoints.GeminiQuota+"/v1internal:retrieveUserQuota", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	var body struct {
		Buckets []geminiBucket `json:"buckets"`
	}
	if err := doJSON(d.HTTP, req, "gemini quota", &body); err != nil {
		return nil, err
	}
	qs := modelQuotas(body.Buckets)
	if len(qs) == 0 {
		return nil, errs.Newf(errs.KindSchemaMismatch, "gemini quota", "could not parse Gemini usage: no quota buckets")
	}
	return qs, nil
}

func (d *Deps) fetchGemini(ctx context.Context, rec oauth.Record) (usage.Result, error) {
	project := d.geminiProject(ctx, rec.AccessToken)
	qs, err := d.fetchGeminiQuota(ctx, rec.AccessToken, project)
	if err != nil {
		return usage.Result{}, err
	}

	pro, flash := tightest(qs, "pro"), tightest(qs, "flash")
	primary, secondary := pro.rateWindow(), flash.rateWindow()
	if primary == nil {
		primary, secondary = secondary, nil
	}
	if primary == nil {
		primary = (&qs[0]).rateWindow()
	}
	snap := usage.Snapshot{Primary: *primary, Secondary: secondary, UpdatedAt: d.Now()}

	snap.LoginMethod = d.geminiStoragePlan(ctx, rec.AccessToken)
	if snap.LoginMethod == "" && pro != nil {
		snap.LoginMethod = "AI Pro"
	}
	if rec.IDToken != "" {
		if claims, err := oauth.IDTokenClaims(rec.IDToken); err == nil {
			snap.AccountEmail = claims.Email
		}
	}
	return usage.Result{Usage: snap}, nil
}

func prepareGemini(ctx context.Context, d *Deps) (strategy.Availability, map[strategy.Kind]strategy.Strategy) {
	authErr := checkGeminiAuthType(d.geminiAuthType())
	mgr := d.geminiManager()
	credsPath := d.path(".gemini", "oauth_creds.json")
	if authErr == nil {
		if _, err := os.Stat(credsPath); errors.Is(err, fs.ErrNotExist) {
			authErr = errs.Newf(errs.KindConfigMissing, "gemini", "not logged in: %s missing", credsPath)
		}
	}
	var stale string
	return strategy.Availability{}, map[strategy.Kind]strategy.Strategy{
		strategy.OAuth: {
			Kind: strategy.OAuth,
			Fetch: func(ctx context.Context) (usage.Result, error) {
				if authErr != nil {
					return usage.Result{}, authErr
				}
				rec, err := mgr.Token(ctx)
				if err != nil {
					return usage.Result{}, err
				}
				stale = rec.AccessToken
				return d.fetchGemini(ctx, rec)
			},
			Refresh: func(ctx context.Context) error {
				_, err := mgr.ForceRefresh(ctx, stale)
				return err
			},
		},
	}
}
