// Package strategy picks and runs the acquisition paths for one source,
// falling through on errors that only mean "this path can't serve now".
package strategy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/metrics"
	"github.com/tnunamak/usagebar/internal/usage"
)

type Kind string

const (
	OAuth Kind = "oauth"
	Web   Kind = "web"
	CLI   Kind = "cli"
	API   Kind = "api"

	// Auto means no preference.
	Auto Kind = "auto"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case OAuth, Web, CLI, API, Auto:
		return k, nil
	case "":
		return Auto, nil
	}
	return "", fmt.Errorf("unknown source %q (want auto, oauth, web, cli or api)", s)
}

type Settings struct {
	Preferred Kind
}

// Availability holds the results of cheap pre-checks. A kind that is
// absent is treated as possibly available.
type Availability map[Kind]bool

// Select orders the plan for one refresh. It depends only on its
// arguments: the preferred kind moves to the front, kinds known to be
// unavailable are dropped and the rest keep their order.
func Select(order []Kind, s Settings, avail Availability) []Kind {
	plan := make([]Kind, 0, len(order))
	add := func(k Kind) {
		if ok, known := avail[k]; known && !ok {
			return
		}
		plan = append(plan, k)
	}
	preferred := s.Preferred != "" && s.Preferred != Auto && slices.Contains(order, s.Preferred)
	if preferred {
		add(s.Preferred)
	}
	for _, k := range order {
		if preferred && k == s.Preferred {
			continue
		}
		add(k)
	}
	return plan
}

type Strategy struct {
	Kind  Kind
	Fetch func(ctx context.Context) (usage.Result, error)
	// Refresh, when set, renews credentials after Fetch fails with
	// Unauthorized; Fetch is then retried once.
	Refresh func(ctx context.Context) error
}

type Attempt struct {
	Kind Kind
	Err  error
}

type Outcome struct {
	Result   usage.Result
	Kind     Kind
	Attempts []Attempt
}

// Execute runs the plan in order. Unavailable-class errors fall through
// to the next strategy; data-shape errors stop immediately. An empty or
// exhausted plan yields KindNoStrategyAvailable wrapping the last error.
func Execute(ctx context.Context, provider string, plan []Kind, strategies map[Kind]Strategy, logger *zap.Logger) (Outcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		out     Outcome
		lastErr error
	)
	for _, k := range plan {
		s, ok := strategies[k]
		if !ok || s.Fetch == nil {
			continue
		}
		res, err := run(ctx, provider, s, logger)
		if err == nil {
			out.Result, out.Kind = res, k
			out.Attempts = append(out.Attempts, Attempt{Kind: k})
			return out, nil
		}
		out.Attempts = append(out.Attempts, Attempt{Kind: k, Err: err})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		if errs.ClassOf(err) == errs.ClassDataShape {
			logger.Warn("strategy returned unusable data",
				zap.String("provider", provider), zap.String("strategy", string(k)), zap.Error(err))
			return out, err
		}
		logger.Debug("strategy unavailable, trying next",
			zap.String("provider", provider), zap.String("strategy", string(k)), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no strategy selected")
	}
	return out, errs.New(errs.KindNoStrategyAvailable, provider, lastErr)
}

func run(ctx context.Context, provider string, s Strategy, logger *zap.Logger) (usage.Result, error) {
	res, err := s.Fetch(ctx)
	if err != nil && errs.IsUnauthorized(err) && s.Refresh != nil && ctx.Err() == nil {
		record(provider, s.Kind, err)
		if rerr := s.Refresh(ctx); rerr != nil {
			logger.Debug("credential refresh failed",
				zap.String("provider", provider), zap.String("strategy", string(s.Kind)), zap.Error(rerr))
			return usage.Result{}, err
		}
		res, err = s.Fetch(ctx)
	}
	record(provider, s.Kind, err)
	return res, err
}

func record(provider string, k Kind, err error) {
	result := "ok"
	if err != nil {
		result = errs.KindOf(err).String()
	}
	metrics.FetchTotal.WithLabelValues(provider, string(k), result).Inc()
}
