package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/binpath"
	"github.com/tnunamak/usagebar/internal/config"
	"github.com/tnunamak/usagebar/internal/engine"
	"github.com/tnunamak/usagebar/internal/logger"
	"github.com/tnunamak/usagebar/internal/metrics"
	"github.com/tnunamak/usagebar/internal/providers"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

// app carries what every command needs once flags are parsed.
type app struct {
	v        *viper.Viper
	cfg      config.Config
	logger   *zap.Logger
	deps     *providers.Deps
	exitCode int
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("usagebar")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return &app{v: v, logger: zap.NewNop()}
}

// bindFlags lets USAGEBAR_<FLAG> environment variables stand in for the
// flags of cmd and its parents.
func (a *app) bindFlags(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return a.v.BindPFlags(cmd.InheritedFlags())
}

// load reads the config file, overlays flags and environment, and builds
// the logger and provider dependencies. quietLevel is the log level used
// when none was configured explicitly.
func (a *app) load(quietLevel string) error {
	if dir, err := config.Dir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}

	path := a.v.GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	levelSet := false
	if s := a.v.GetString("log-level"); s != "" {
		cfg.Logging.Level = s
		levelSet = true
	}
	if s := a.v.GetString("log-format"); s != "" {
		cfg.Logging.Format = s
	}
	if d := a.v.GetDuration("interval"); d > 0 {
		cfg.RefreshInterval = d
	}
	if s := a.v.GetString("addr"); s != "" {
		cfg.Server.Addr = s
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if quietLevel != "" && !levelSet && level == "info" {
		level = quietLevel
	}
	var outputs []string
	if cfg.Logging.File != "" {
		outputs = []string{cfg.Logging.File}
	}
	l, err := logger.Init(cfg.Logging.Format, level, outputs...)
	if err != nil {
		return err
	}
	a.logger = l
	metrics.Register()

	d := providers.NewDeps(binpath.NewResolver(l), l)
	d.Browsers = cfg.BrowserList()
	d.BinaryOverrides = cfg.BinaryOverrides()
	a.deps = d
	return nil
}

func (a *app) close() {
	_ = logger.Sync()
}

// selected resolves --provider values, or every enabled provider.
func (a *app) selected(names []string) ([]providers.Descriptor, error) {
	var out []providers.Descriptor
	if len(names) == 0 {
		for _, id := range usage.All {
			if a.cfg.IsEnabled(id) {
				desc, _ := providers.Lookup(id)
				out = append(out, desc)
			}
		}
		return out, nil
	}
	for _, n := range names {
		desc, ok := providers.Lookup(usage.Provider(strings.ToLower(n)))
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", n)
		}
		out = append(out, desc)
	}
	return out, nil
}

// newEngine builds an engine over descs and the label table for shells.
func (a *app) newEngine(descs []providers.Descriptor) (*engine.Engine, map[usage.Provider]providers.Labels) {
	sources := make([]engine.Source, 0, len(descs))
	labels := make(map[usage.Provider]providers.Labels, len(descs))
	for _, desc := range descs {
		desc := desc
		settings := strategy.Settings{Preferred: a.cfg.Source(desc.ID)}
		sources = append(sources, engine.Source{
			ID:   desc.ID,
			Name: desc.Name,
			Fetch: func(ctx context.Context) (strategy.Outcome, error) {
				return providers.Fetch(ctx, desc, a.deps, settings)
			},
		})
		labels[desc.ID] = desc.Labels
	}
	eng := engine.New(sources, engine.Options{Timeout: a.cfg.FetchTimeout, Logger: a.logger})
	return eng, labels
}
