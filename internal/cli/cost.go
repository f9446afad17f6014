package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/tnunamak/usagebar/internal/report"
)

// CostSection is one source's local cost report, or why it has none.
type CostSection struct {
	Name    string                `json:"name"`
	Summary *report.TokenSnapshot `json:"summary,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func RenderCost(w io.Writer, sections []CostSection, jsonMode bool) error {
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sections)
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "== %s cost ==\n", s.Name)
		if s.Summary == nil {
			fmt.Fprintf(w, "Status: %s\n", s.Error)
			continue
		}
		fmt.Fprintf(w, "Today: %s\n", costLine(s.Summary.SessionCostUSD, s.Summary.SessionTokens))
		fmt.Fprintf(w, "Last 30 days: %s\n", costLine(s.Summary.Last30DaysCostUSD, s.Summary.Last30DaysTokens))
	}
	return nil
}

func costLine(cost *float64, tokens *int64) string {
	c, t := "-", "-"
	if cost != nil {
		c = "$" + humanize.CommafWithDigits(*cost, 2)
	}
	if tokens != nil {
		t = humanize.Comma(*tokens) + " tokens"
	}
	return c + " · " + t
}
