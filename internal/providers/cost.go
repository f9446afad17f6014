package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/ptyrun"
	"github.com/tnunamak/usagebar/internal/report"
)

const (
	costTimeout    = 60 * time.Second
	costWindowDays = 30
)

// LoadCostSummary runs the source's ccusage-style daily report over the
// last 30 days and summarizes it.
func LoadCostSummary(ctx context.Context, d *Deps, desc Descriptor) (report.TokenSnapshot, error) {
	if len(desc.CostCommand) == 0 {
		return report.TokenSnapshot{}, errs.Newf(errs.KindUnsupported, string(desc.ID), "no cost report")
	}
	ctx, cancel := context.WithTimeout(ctx, costTimeout)
	defer cancel()

	bin, err := d.lookup(ctx, desc.CostCommand[0])
	if err != nil {
		return report.TokenSnapshot{}, err
	}
	since := d.Now().AddDate(0, 0, -costWindowDays).Format("20060102")
	args := append(append([]string(nil), desc.CostCommand[1:]...), "--since", since)

	cmd := exec.CommandContext(ctx, bin, args...)
	loginPATH := ""
	if d.Locator != nil {
		loginPATH = d.Locator.LoginPATH(ctx)
	}
	env := map[string]string{}
	for _, kv := range cmd.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range ptyrun.EnrichedEnvironment(env, loginPATH, d.Home) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return report.TokenSnapshot{}, errs.New(errs.KindTimeout, desc.CostCommand[0], ctx.Err())
		}
		d.Logger.Debug("cost report failed",
			zap.String("provider", string(desc.ID)), zap.String("stderr", strings.TrimSpace(stderr.String())))
		return report.TokenSnapshot{}, errs.New(errs.KindSpawnFailed, desc.CostCommand[0], fmt.Errorf("run: %w", err))
	}
	r, err := report.ParseDailyReport(out)
	if err != nil {
		return report.TokenSnapshot{}, err
	}
	return report.NewTokenSnapshot(r, d.Now()), nil
}
