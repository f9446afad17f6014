//go:build tray

// Package tray shows engine statuses in the system tray.
package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"fyne.io/systray"
	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/engine"
	"github.com/tnunamak/usagebar/internal/providers"
	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	iconSize  = 64
	linesEach = 3
)

type Options struct {
	Version  string
	Labels   map[usage.Provider]providers.Labels
	Interval time.Duration
	Logger   *zap.Logger
}

type sourceItems struct {
	header *systray.MenuItem
	lines  []*systray.MenuItem
}

func Run(eng *engine.Engine, opts Options) int {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	systray.Run(func() { onReady(ctx, eng, opts) }, cancel)
	return 0
}

func onReady(ctx context.Context, eng *engine.Engine, opts Options) {
	icons := make(map[level][]byte, len(levelColors))
	for l, c := range levelColors {
		icons[l] = circleIcon(c, iconSize)
	}
	systray.SetIcon(icons[levelUnknown])
	systray.SetTitle("usagebar")
	systray.SetTooltip("AI usage monitor " + opts.Version)

	items := map[usage.Provider]*sourceItems{}
	for _, st := range eng.Statuses() {
		si := &sourceItems{header: systray.AddMenuItem(st.Name, "")}
		si.header.Disable()
		for i := 0; i < linesEach+1; i++ {
			m := systray.AddMenuItem("", "")
			m.Disable()
			m.Hide()
			si.lines = append(si.lines, m)
		}
		systray.AddSeparator()
		items[st.ID] = si
	}
	mRefresh := systray.AddMenuItem("Refresh Now", "")
	mQuit := systray.AddMenuItem("Quit", "")

	updates, unsubscribe := eng.Subscribe()
	var alerts thresholds
	render := func() {
		statuses := eng.Statuses()
		now := time.Now()
		for _, st := range statuses {
			si := items[st.ID]
			header := st.Name
			if st.Snapshot != nil && st.Snapshot.LoginMethod != "" {
				header += " · " + st.Snapshot.LoginMethod
			}
			si.header.SetTitle(header)
			lines := menuLines(st, opts.Labels[st.ID], now)
			for i, m := range si.lines {
				if i < len(lines) {
					m.SetTitle(lines[i])
					m.Show()
				} else {
					m.Hide()
				}
			}
			if a, ok := alerts.check(st); ok {
				notify(a, opts.Logger)
			}
		}
		systray.SetTitle(title(statuses))
		systray.SetIcon(icons[overallLevel(statuses)])
	}

	go eng.Run(ctx, opts.Interval)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-updates:
				render()
			case <-mRefresh.ClickedCh:
				eng.Trigger()
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func notify(a alert, logger *zap.Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("notify-send", "-u", a.Urgency, a.Title, a.Body)
	case "darwin":
		cmd = exec.Command("osascript", "-e", fmt.Sprintf(`display notification %q with title %q`, a.Body, a.Title))
	default:
		return
	}
	if err := cmd.Run(); err != nil {
		logger.Debug("notification failed", zap.Error(err))
	}
}
