//go:build !tray

package tray

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/engine"
	"github.com/tnunamak/usagebar/internal/providers"
	"github.com/tnunamak/usagebar/internal/usage"
)

type Options struct {
	Version  string
	Labels   map[usage.Provider]providers.Labels
	Interval time.Duration
	Logger   *zap.Logger
}

func Run(_ *engine.Engine, _ Options) int {
	fmt.Println("usagebar: tray mode not available in this build")
	fmt.Println("rebuild with: go build -tags tray ./cmd/usagebar")
	return 1
}
