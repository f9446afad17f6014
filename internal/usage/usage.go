package usage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Provider identifies one usage-reporting source.
type Provider string

const (
	Claude Provider = "claude"
	Codex  Provider = "codex"
	Gemini Provider = "gemini"
	Zai    Provider = "zai"
)

// All lists every known provider in display order.
var All = []Provider{Claude, Codex, Gemini, Zai}

// RateWindow is one quota period. UsedPercent is stored as reported and
// only clamped when presented.
type RateWindow struct {
	UsedPercent      float64    `json:"used_percent"`
	WindowMinutes    *int       `json:"window_minutes,omitempty"`
	ResetsAt         *time.Time `json:"resets_at,omitempty"`
	ResetDescription string     `json:"reset_description,omitempty"`
}

// RemainingPercent returns 100 - UsedPercent clamped to [0, 100].
func (w RateWindow) RemainingPercent() float64 {
	r := 100 - w.UsedPercent
	switch {
	case r < 0:
		return 0
	case r > 100:
		return 100
	}
	return r
}

// Snapshot is the normalized result of one successful fetch.
type Snapshot struct {
	Primary      RateWindow  `json:"primary"`
	Secondary    *RateWindow `json:"secondary,omitempty"`
	Tertiary     *RateWindow `json:"tertiary,omitempty"`
	AccountEmail string      `json:"account_email,omitempty"`
	LoginMethod  string      `json:"login_method,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Clone returns a deep copy so callers never share pointers into engine state.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Primary = s.Primary.clone()
	if s.Secondary != nil {
		w := s.Secondary.clone()
		out.Secondary = &w
	}
	if s.Tertiary != nil {
		w := s.Tertiary.clone()
		out.Tertiary = &w
	}
	return out
}

func (w RateWindow) clone() RateWindow {
	out := w
	if w.WindowMinutes != nil {
		m := *w.WindowMinutes
		out.WindowMinutes = &m
	}
	if w.ResetsAt != nil {
		t := *w.ResetsAt
		out.ResetsAt = &t
	}
	return out
}

type CreditEvent struct {
	ID          uuid.UUID `json:"id"`
	Date        time.Time `json:"date"`
	Service     string    `json:"service"`
	CreditsUsed float64   `json:"creditsUsed"`
}

// UnmarshalJSON fills in a fresh id when the payload carries none.
func (e *CreditEvent) UnmarshalJSON(b []byte) error {
	type plain CreditEvent
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	*e = CreditEvent(p)
	return nil
}

// NewCreditEvent assigns a fresh id.
func NewCreditEvent(date time.Time, service string, used float64) CreditEvent {
	return CreditEvent{ID: uuid.New(), Date: date, Service: service, CreditsUsed: used}
}

type Credits struct {
	Remaining float64       `json:"remaining"`
	Events    []CreditEvent `json:"events,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (c Credits) Clone() Credits {
	out := c
	out.Events = append([]CreditEvent(nil), c.Events...)
	return out
}

// Result is what a strategy hands back to the engine.
type Result struct {
	Usage   Snapshot
	Credits *Credits
}

// Minutes is a small helper for building optional window lengths.
func Minutes(m int) *int { return &m }

// At is a small helper for building optional timestamps.
func At(t time.Time) *time.Time { return &t }
