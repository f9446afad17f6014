// Package providers describes each usage source as plain data: its
// labels, its default strategy order and how to build the strategies for
// one refresh.
package providers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/cookies"
	"github.com/tnunamak/usagebar/internal/oauth"
	"github.com/tnunamak/usagebar/internal/ptyrun"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

const httpTimeout = 30 * time.Second

// Labels name the windows of a snapshot for display.
type Labels struct {
	Primary   string
	Secondary string
	Tertiary  string
}

type Descriptor struct {
	ID     usage.Provider
	Name   string
	Labels Labels
	Order  []strategy.Kind
	// Prepare runs the cheap availability checks and returns the
	// strategies for one refresh.
	Prepare func(ctx context.Context, d *Deps) (strategy.Availability, map[strategy.Kind]strategy.Strategy)
	// CostCommand is the ccusage-style report command, if the source has one.
	CostCommand []string
}

// Endpoints are the vendor base URLs. Tests point them at httptest servers.
type Endpoints struct {
	ClaudeAPI      string
	ClaudeWeb      string
	Codex          string
	CodexWeb       string
	GeminiQuota    string
	GeminiProjects string
	GeminiDrive    string
	GoogleToken    string
	Zai            string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		ClaudeAPI:      "https://api.anthropic.com",
		ClaudeWeb:      "https://claude.ai",
		Codex:          "https://chatgpt.com/backend-api",
		CodexWeb:       "https://chatgpt.com",
		GeminiQuota:    "https://cloudcode-pa.googleapis.com",
		GeminiProjects: "https://cloudresourcemanager.googleapis.com",
		GeminiDrive:    "https://www.googleapis.com",
		GoogleToken:    oauth.GoogleTokenURL,
		Zai:            "https://api.z.ai",
	}
}

// Deps are the collaborators shared by every descriptor.
type Deps struct {
	HTTP      *http.Client
	Runner    *ptyrun.Runner
	Locator   ptyrun.Locator
	Cookies   *cookies.Importer
	Browsers  []cookies.Browser
	Endpoints Endpoints
	Home      string
	GOOS      string
	// Getenv reads the environment. Replaced in tests.
	Getenv func(string) string
	Now    func() time.Time
	Logger *zap.Logger
	// BinaryOverrides maps a CLI name to an explicit path.
	BinaryOverrides map[string]string
	// SecretsPath overrides the key = value secrets file.
	SecretsPath string

	mu     sync.Mutex
	gemini *oauth.Manager
}

// NewDeps wires the production collaborators.
func NewDeps(locator ptyrun.Locator, logger *zap.Logger) *Deps {
	if logger == nil {
		logger = zap.NewNop()
	}
	home, _ := os.UserHomeDir()
	return &Deps{
		HTTP:      &http.Client{Timeout: httpTimeout},
		Runner:    ptyrun.NewRunner(locator, logger),
		Locator:   locator,
		Cookies:   cookies.NewImporter(logger),
		Browsers:  cookies.DefaultBrowsers,
		Endpoints: DefaultEndpoints(),
		Home:      home,
		GOOS:      runtime.GOOS,
		Getenv:    os.Getenv,
		Now:       time.Now,
		Logger:    logger,
	}
}

func (d *Deps) path(elem ...string) string {
	return filepath.Join(append([]string{d.Home}, elem...)...)
}

func (d *Deps) lookup(ctx context.Context, name string) (string, error) {
	override := d.BinaryOverrides[name]
	if d.Locator == nil {
		if override != "" {
			return override, nil
		}
		return name, nil
	}
	return d.Locator.Lookup(ctx, name, override)
}

func Registry() map[usage.Provider]Descriptor {
	return map[usage.Provider]Descriptor{
		usage.Claude: claudeDescriptor(),
		usage.Codex:  codexDescriptor(),
		usage.Gemini: geminiDescriptor(),
		usage.Zai:    zaiDescriptor(),
	}
}

func Lookup(id usage.Provider) (Descriptor, bool) {
	desc, ok := Registry()[id]
	return desc, ok
}

// Fetch runs one refresh of desc: availability, plan selection and
// fallback execution.
func Fetch(ctx context.Context, desc Descriptor, d *Deps, s strategy.Settings) (strategy.Outcome, error) {
	avail, strategies := desc.Prepare(ctx, d)
	plan := strategy.Select(desc.Order, s, avail)
	d.Logger.Debug("fetching usage",
		zap.String("provider", string(desc.ID)), zap.Any("plan", plan))
	return strategy.Execute(ctx, string(desc.ID), plan, strategies, d.Logger)
}
