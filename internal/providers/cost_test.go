//go:build unix

package providers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/usage"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	writeFile(t, path, "#!/bin/sh\n"+body)
	if err := os.Chmod(path, 0755); err != nil {
		t.Fatal(err)
	}
}

func TestLoadCostSummary(t *testing.T) {
	d := newTestDeps(t, nil, nil)
	argsFile := filepath.Join(d.Home, "args")
	script := filepath.Join(d.Home, "bin", "ccusage")
	writeScript(t, script, `echo "$@" > `+argsFile+`
cat <<'JSON'
{"daily":[
  {"date":"2026-01-14","totalTokens":1000,"totalCost":1.25},
  {"date":"2026-01-15","totalTokens":500,"totalCost":0.5}
],"totals":{"totalTokens":1500,"totalCost":1.75}}
JSON
`)
	d.BinaryOverrides["ccusage"] = script

	desc, _ := Lookup(usage.Claude)
	snap, err := LoadCostSummary(context.Background(), d, desc)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Last30DaysTokens == nil || *snap.Last30DaysTokens != 1500 {
		t.Errorf("tokens: %v", snap.Last30DaysTokens)
	}
	if snap.Last30DaysCostUSD == nil || *snap.Last30DaysCostUSD != 1.75 {
		t.Errorf("cost: %v", snap.Last30DaysCostUSD)
	}
	if len(snap.Daily) != 2 {
		t.Errorf("daily: %d entries", len(snap.Daily))
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(args), "daily --json --since 20251216\n"; got != want {
		t.Errorf("args: got %q want %q", got, want)
	}
}

func TestLoadCostSummary_failures(t *testing.T) {
	d := newTestDeps(t, nil, nil)
	desc, _ := Lookup(usage.Claude)

	script := filepath.Join(d.Home, "bin", "ccusage")
	writeScript(t, script, "echo boom >&2\nexit 3\n")
	d.BinaryOverrides["ccusage"] = script
	if _, err := LoadCostSummary(context.Background(), d, desc); !errors.Is(err, errs.SpawnFailed) {
		t.Errorf("failing command: got %v", err)
	}

	writeScript(t, script, "echo '{\"nothing\":true}'\n")
	if _, err := LoadCostSummary(context.Background(), d, desc); !errors.Is(err, errs.SchemaMismatch) {
		t.Errorf("bad report: got %v", err)
	}

	gemini, _ := Lookup(usage.Gemini)
	if _, err := LoadCostSummary(context.Background(), d, gemini); !errors.Is(err, errs.Unsupported) {
		t.Errorf("no cost command: got %v", err)
	}
}
