package tray

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/tnunamak/usagebar/internal/engine"
	"github.com/tnunamak/usagebar/internal/forecast"
	"github.com/tnunamak/usagebar/internal/providers"
	"github.com/tnunamak/usagebar/internal/usage"
)

type level int

const (
	levelUnknown level = iota
	levelOK
	levelWarn
	levelCritical
)

var levelColors = map[level]color.RGBA{
	levelUnknown:  {0x9e, 0x9e, 0x9e, 0xff},
	levelOK:       {0x4c, 0xaf, 0x50, 0xff},
	levelWarn:     {0xff, 0xc1, 0x07, 0xff},
	levelCritical: {0xf4, 0x43, 0x36, 0xff},
}

func levelFor(usedPct float64) level {
	switch {
	case usedPct >= 80:
		return levelCritical
	case usedPct >= 60:
		return levelWarn
	}
	return levelOK
}

// peakUsed is the highest used percentage across a snapshot's windows.
func peakUsed(s *usage.Snapshot) float64 {
	pct := s.Primary.UsedPercent
	for _, w := range []*usage.RateWindow{s.Secondary, s.Tertiary} {
		if w != nil && w.UsedPercent > pct {
			pct = w.UsedPercent
		}
	}
	return pct
}

// overallLevel picks the icon for the whole tray: the worst source wins,
// gray when nothing has data.
func overallLevel(statuses []engine.Status) level {
	worst := levelUnknown
	for _, st := range statuses {
		if st.Snapshot == nil {
			continue
		}
		if l := levelFor(peakUsed(st.Snapshot)); l > worst {
			worst = l
		}
	}
	return worst
}

func windowLine(label string, w *usage.RateWindow, now time.Time) string {
	if w == nil || label == "" {
		return ""
	}
	s := fmt.Sprintf("%s: %3.0f%% left", label, w.RemainingPercent())
	switch {
	case w.ResetsAt != nil:
		s += "  resets in " + forecast.Countdown(w.ResetsAt.Sub(now))
	case w.ResetDescription != "":
		s += "  " + w.ResetDescription
	}
	return s
}

// menuLines renders one source as the disabled items under its header.
func menuLines(st engine.Status, labels providers.Labels, now time.Time) []string {
	if st.Snapshot == nil {
		if st.Error != "" {
			return []string{"Error: " + st.Error}
		}
		return []string{"Loading…"}
	}
	var out []string
	for _, l := range []string{
		windowLine(labels.Primary, &st.Snapshot.Primary, now),
		windowLine(labels.Secondary, st.Snapshot.Secondary, now),
		windowLine(labels.Tertiary, st.Snapshot.Tertiary, now),
	} {
		if l != "" {
			out = append(out, l)
		}
	}
	if st.Error != "" {
		out = append(out, "Error: "+st.Error)
	}
	return out
}

// title is the compact text next to the icon: each source's peak usage.
func title(statuses []engine.Status) string {
	var b bytes.Buffer
	for _, st := range statuses {
		if st.Snapshot == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%.0f%%", st.Name, peakUsed(st.Snapshot))
	}
	if b.Len() == 0 {
		return "usagebar"
	}
	return b.String()
}

type alert struct {
	Title   string
	Body    string
	Urgency string
}

// thresholds remembers the last peak per source so each crossing of 80%
// and 95% alerts once.
type thresholds struct {
	mu   sync.Mutex
	last map[usage.Provider]float64
}

func (t *thresholds) check(st engine.Status) (alert, bool) {
	if st.Snapshot == nil {
		return alert{}, false
	}
	pct := peakUsed(st.Snapshot)
	t.mu.Lock()
	if t.last == nil {
		t.last = make(map[usage.Provider]float64)
	}
	prev := t.last[st.ID]
	t.last[st.ID] = pct
	t.mu.Unlock()

	switch {
	case pct >= 95 && prev < 95:
		return alert{st.Name + " usage critical", fmt.Sprintf("Usage at %.0f%%, you may be rate limited soon", pct), "critical"}, true
	case pct >= 80 && prev < 80:
		return alert{st.Name + " usage warning", fmt.Sprintf("Usage at %.0f%%", pct), "normal"}, true
	}
	return alert{}, false
}

// circleIcon draws a filled circle on a transparent square.
func circleIcon(c color.RGBA, size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	r := float64(size)/2 - 1
	cx, cy := float64(size)/2, float64(size)/2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			if dx*dx+dy*dy <= r*r {
				img.SetRGBA(x, y, c)
			}
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
