// Package forecast projects linear consumption across a rate window.
package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/tnunamak/usagebar/internal/usage"
)

const (
	FiveHourWindow = 5 * time.Hour
	SevenDayWindow = 7 * 24 * time.Hour

	// MinExpectedPercent hides pace claims in the first minutes of a window.
	MinExpectedPercent = 3.0
)

type Stage int

const (
	OnTrack Stage = iota
	SlightlyAhead
	Ahead
	FarAhead
	SlightlyBehind
	Behind
	FarBehind
)

func (s Stage) String() string {
	switch s {
	case SlightlyAhead:
		return "slightly ahead"
	case Ahead:
		return "ahead"
	case FarAhead:
		return "far ahead"
	case SlightlyBehind:
		return "slightly behind"
	case Behind:
		return "behind"
	case FarBehind:
		return "far behind"
	}
	return "on track"
}

func stageFor(delta float64) Stage {
	abs := math.Abs(delta)
	ahead := delta >= 0
	switch {
	case abs <= 2:
		return OnTrack
	case abs <= 6:
		if ahead {
			return SlightlyAhead
		}
		return SlightlyBehind
	case abs <= 12:
		if ahead {
			return Ahead
		}
		return Behind
	}
	if ahead {
		return FarAhead
	}
	return FarBehind
}

// Pace compares actual usage with a linear burn across the window.
type Pace struct {
	Stage               Stage
	ExpectedUsedPercent float64
	DeltaPercent        float64
	// ETA is how long until the window is exhausted at the current rate.
	// Zero when WillLastToReset.
	ETA             time.Duration
	WillLastToReset bool
}

// Compute returns the pace for w, or false when a projection would be
// noise: no reset time, a reset outside the window, nothing elapsed yet,
// too little of the window elapsed, or nothing left to spend.
func Compute(w usage.RateWindow, now time.Time, window time.Duration) (Pace, bool) {
	if w.ResetsAt == nil || window <= 0 {
		return Pace{}, false
	}
	if w.RemainingPercent() <= 0 {
		return Pace{}, false
	}
	toReset := w.ResetsAt.Sub(now)
	if toReset <= 0 || toReset > window {
		return Pace{}, false
	}
	elapsed := window - toReset
	used := math.Max(0, w.UsedPercent)
	if elapsed <= 0 {
		return Pace{}, false
	}

	expected := elapsed.Seconds() / window.Seconds() * 100
	if expected < MinExpectedPercent {
		return Pace{}, false
	}
	delta := used - expected
	p := Pace{
		Stage:               stageFor(delta),
		ExpectedUsedPercent: expected,
		DeltaPercent:        delta,
	}

	rate := used / elapsed.Seconds() // percent per second
	if rate <= 0 {
		p.WillLastToReset = true
		return p, true
	}
	eta := time.Duration((100 - used) / rate * float64(time.Second))
	if eta >= toReset {
		p.WillLastToReset = true
		return p, true
	}
	p.ETA = eta
	return p, true
}

// Weekly computes the pace of a weekly window, falling back to
// defaultMinutes when the window does not report its own length.
func Weekly(w usage.RateWindow, now time.Time, defaultMinutes int) (Pace, bool) {
	minutes := defaultMinutes
	if w.WindowMinutes != nil && *w.WindowMinutes > 0 {
		minutes = *w.WindowMinutes
	}
	return Compute(w, now, time.Duration(minutes)*time.Minute)
}

// Text renders p as "Pace: Ahead (+7%) · Runs out in 3d".
func Text(p Pace) string {
	label := "On pace"
	switch p.Stage {
	case SlightlyAhead, Ahead, FarAhead:
		label = "Ahead"
	case SlightlyBehind, Behind, FarBehind:
		label = "Behind"
	}
	sign := "+"
	if p.DeltaPercent < 0 {
		sign = "-"
	}
	s := fmt.Sprintf("Pace: %s (%s%d%%)", label, sign, int(math.Round(math.Abs(p.DeltaPercent))))
	if p.WillLastToReset {
		return s + " · Lasts to reset"
	}
	eta := Countdown(p.ETA)
	if eta == "now" {
		return s + " · Runs out now"
	}
	return s + " · Runs out in " + eta
}

// Countdown formats d as "1d 2h", "3h 31m" or "11m", rounding up to the
// minute. Non-positive durations are "now".
func Countdown(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	mins := int(math.Ceil(d.Minutes()))
	days, hours, m := mins/(24*60), (mins/60)%24, mins%60
	switch {
	case days > 0 && hours > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	case hours > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", hours, m)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", m)
}
