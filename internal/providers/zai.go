package providers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/config"
	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

const zaiTokenEnv = "Z_AI_API_KEY"

func zaiDescriptor() Descriptor {
	return Descriptor{
		ID:      usage.Zai,
		Name:    "z.ai",
		Labels:  Labels{Primary: "Tokens", Secondary: "MCP"},
		Order:   []strategy.Kind{strategy.API},
		Prepare: prepareZai,
	}
}

// zaiToken reads Z_AI_API_KEY, then zai_token / zai_api_key from the
// secrets file.
func (d *Deps) zaiToken() string {
	if v := config.CleanValue(d.Getenv(zaiTokenEnv)); v != "" {
		return v
	}
	path := d.SecretsPath
	if path == "" {
		path = config.SecretsPath()
	}
	secrets, err := config.ReadSecrets(path)
	if err != nil {
		return ""
	}
	return config.FirstSecret(secrets, "zai_token", "zai_api_key")
}

type zaiResponse struct {
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Success bool   `json:"success"`
	Data    *struct {
		Limits []zaiLimit `json:"limits"`
	} `json:"data"`
}

type zaiLimit struct {
	Type          string   `json:"type"`
	Unit          int      `json:"unit"`
	Number        int      `json:"number"`
	Usage         *float64 `json:"usage"`
	CurrentValue  *float64 `json:"currentValue"`
	Percentage    *float64 `json:"percentage"`
	NextResetTime *int64   `json:"nextResetTime"`
}

// windowMinutes decodes unit (1 day, 3 hour, 5 minute) times number.
func (l zaiLimit) windowMinutes() *int {
	var per int
	switch l.Unit {
	case 1:
		per = 1440
	case 3:
		per = 60
	case 5:
		per = 1
	default:
		return nil
	}
	if l.Number <= 0 {
		return nil
	}
	return usage.Minutes(per * l.Number)
}

func (l zaiLimit) rateWindow() usage.RateWindow {
	rw := usage.RateWindow{WindowMinutes: l.windowMinutes()}
	switch {
	case l.Percentage != nil:
		rw.UsedPercent = *l.Percentage
	case l.Usage != nil && l.CurrentValue != nil && *l.Usage > 0:
		rw.UsedPercent = *l.CurrentValue / *l.Usage * 100
	}
	if l.NextResetTime != nil && *l.NextResetTime > 0 {
		rw.ResetsAt = usage.At(time.UnixMilli(*l.NextResetTime).UTC())
	}
	return rw
}

func (r zaiResponse) toResult(now time.Time) (usage.Result, error) {
	if !r.Success && r.Code != 0 && r.Code != 200 {
		if r.Code == 401 || r.Code == 1001 {
			return usage.Result{}, errs.Newf(errs.KindUnauthorized, "zai", "%s", r.Msg)
		}
		return usage.Result{}, &errs.Error{Kind: errs.KindServer, Op: "zai", Status: r.Code, Body: r.Msg}
	}
	if r.Data == nil {
		return usage.Result{}, errs.Newf(errs.KindSchemaMismatch, "zai", "missing data")
	}
	var tokens, mcp *usage.RateWindow
	for _, l := range r.Data.Limits {
		w := l.rateWindow()
		switch l.Type {
		case "TOKENS_LIMIT":
			tokens = &w
		case "TIME_LIMIT":
			mcp = &w
		}
	}
	if tokens == nil {
		tokens, mcp = mcp, nil
	}
	if tokens == nil {
		return usage.Result{}, errs.Newf(errs.KindSchemaMismatch, "zai", "no quota limits")
	}
	return usage.Result{Usage: usage.Snapshot{Primary: *tokens, Secondary: mcp, UpdatedAt: now}}, nil
}

func (d *Deps) fetchZai(ctx context.Context, token string) (usage.Result, error) {
	var body zaiResponse
	err := getJSON(ctx, d.HTTP, d.Endpoints.Zai+"/api/monitor/usage/quota/limit", "zai", map[string]string{
		"Authorization": "Bearer " + token,
	}, &body)
	if err != nil {
		return usage.Result{}, err
	}
	return body.toResult(d.Now())
}

func prepareZai(_ context.Context, d *Deps) (strategy.Availability, map[strategy.Kind]strategy.Strategy) {
	token := d.zaiToken()
	if token == "" {
		d.Logger.Debug("z.ai token not configured", zap.String("env", zaiTokenEnv))
	}
	return strategy.Availability{}, map[strategy.Kind]strategy.Strategy{
		strategy.API: {
			Kind: strategy.API,
			Fetch: func(ctx context.Context) (usage.Result, error) {
				if token == "" {
					return usage.Result{}, errs.Newf(errs.KindConfigMissing, "zai",
						"set %s or add zai_api_key to %s", zaiTokenEnv, config.SecretsPath())
				}
				return d.fetchZai(ctx, token)
			},
		},
	}
}
