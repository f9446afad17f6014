// Package report decodes ccusage-style JSON reports and vendor CLI
// screens into normalized values.
package report

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/tnunamak/usagebar/internal/errs"
)

// Usage holds the token and cost fields shared by every report entry.
type Usage struct {
	InputTokens         *int64   `json:"inputTokens,omitempty"`
	OutputTokens        *int64   `json:"outputTokens,omitempty"`
	CacheCreationTokens *int64   `json:"cacheCreationTokens,omitempty"`
	CacheReadTokens     *int64   `json:"cacheReadTokens,omitempty"`
	TotalTokens         *int64   `json:"totalTokens,omitempty"`
	CostUSD             *float64 `json:"costUSD,omitempty"`
	ModelsUsed          []string `json:"modelsUsed,omitempty"`
}

func (u *Usage) decode(b []byte) error {
	var aux struct {
		InputTokens         *int64          `json:"inputTokens"`
		OutputTokens        *int64          `json:"outputTokens"`
		CacheCreationTokens *int64          `json:"cacheCreationTokens"`
		CacheReadTokens     *int64          `json:"cacheReadTokens"`
		TotalTokens         *int64          `json:"totalTokens"`
		CostUSD             *float64        `json:"costUSD"`
		TotalCost           *float64        `json:"totalCost"`
		Cost                *float64        `json:"cost"`
		ModelsUsed          json.RawMessage `json:"modelsUsed"`
		Models              json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*u = Usage{
		InputTokens:         aux.InputTokens,
		OutputTokens:        aux.OutputTokens,
		CacheCreationTokens: aux.CacheCreationTokens,
		CacheReadTokens:     aux.CacheReadTokens,
		TotalTokens:         aux.TotalTokens,
		CostUSD:             firstFloat(aux.CostUSD, aux.TotalCost, aux.Cost),
	}
	u.ModelsUsed = decodeModels(aux.ModelsUsed)
	if u.ModelsUsed == nil {
		u.ModelsUsed = decodeModels(aux.Models)
	}
	return nil
}

// decodeModels accepts a list of names or a map keyed by name. Anything
// else, or an empty collection, is nil.
func decodeModels(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil
		}
		return list
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err == nil && len(m) > 0 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}
	return nil
}

type Summary struct {
	TotalInputTokens  *int64   `json:"totalInputTokens,omitempty"`
	TotalOutputTokens *int64   `json:"totalOutputTokens,omitempty"`
	TotalTokens       *int64   `json:"totalTokens,omitempty"`
	TotalCostUSD      *float64 `json:"totalCostUSD,omitempty"`
}

func (s *Summary) UnmarshalJSON(b []byte) error {
	var aux struct {
		TotalInputTokens  *int64   `json:"totalInputTokens"`
		TotalOutputTokens *int64   `json:"totalOutputTokens"`
		TotalTokens       *int64   `json:"totalTokens"`
		TotalCostUSD      *float64 `json:"totalCostUSD"`
		TotalCost         *float64 `json:"totalCost"`
		CostUSD           *float64 `json:"costUSD"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*s = Summary{
		TotalInputTokens:  aux.TotalInputTokens,
		TotalOutputTokens: aux.TotalOutputTokens,
		TotalTokens:       aux.TotalTokens,
		TotalCostUSD:      firstFloat(aux.TotalCostUSD, aux.TotalCost, aux.CostUSD),
	}
	return nil
}

type DailyEntry struct {
	Date string `json:"date"`
	Usage
}

func (e *DailyEntry) UnmarshalJSON(b []byte) error {
	var k struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(b, &k); err != nil {
		return err
	}
	e.Date = k.Date
	return e.Usage.decode(b)
}

type SessionEntry struct {
	Session      string `json:"session"`
	LastActivity string `json:"lastActivity"`
	Usage
}

func (e *SessionEntry) UnmarshalJSON(b []byte) error {
	var k struct {
		Session      string `json:"session"`
		SessionID    string `json:"sessionId"`
		LastActivity string `json:"lastActivity"`
	}
	if err := json.Unmarshal(b, &k); err != nil {
		return err
	}
	e.Session = k.Session
	if e.Session == "" {
		e.Session = k.SessionID
	}
	e.LastActivity = k.LastActivity
	return e.Usage.decode(b)
}

type MonthlyEntry struct {
	Month string `json:"month"`
	Usage
}

func (e *MonthlyEntry) UnmarshalJSON(b []byte) error {
	var k struct {
		Month string `json:"month"`
	}
	if err := json.Unmarshal(b, &k); err != nil {
		return err
	}
	e.Month = k.Month
	return e.Usage.decode(b)
}

type DailyReport struct {
	Data    []DailyEntry `json:"data"`
	Summary *Summary     `json:"summary,omitempty"`
}

type SessionReport struct {
	Data    []SessionEntry `json:"data"`
	Summary *Summary       `json:"summary,omitempty"`
}

type MonthlyReport struct {
	Data    []MonthlyEntry `json:"data"`
	Summary *Summary       `json:"summary,omitempty"`
}

// envelope holds the array and summary keys used by both report
// generations: data/summary and daily|sessions|monthly/totals.
type envelope[E any] struct {
	Data    *[]E     `json:"data"`
	Summary *Summary `json:"summary"`
	Totals  *Summary `json:"totals"`
}

func decodeEnvelope[E any](b []byte, legacyKey string) ([]E, *Summary, error) {
	var env envelope[E]
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, nil, errs.New(errs.KindDataCorrupted, "decode report", err)
	}
	entries := env.Data
	if entries == nil {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, nil, errs.New(errs.KindDataCorrupted, "decode report", err)
		}
		if legacy, ok := raw[legacyKey]; ok {
			var list []E
			if err := json.Unmarshal(legacy, &list); err != nil {
				return nil, nil, errs.New(errs.KindSchemaMismatch, "decode report", err)
			}
			entries = &list
		}
	}
	if entries == nil {
		return nil, nil, errs.Newf(errs.KindSchemaMismatch, "decode report", "no data or %s array", legacyKey)
	}
	summary := env.Summary
	if summary == nil {
		summary = env.Totals
	}
	return *entries, summary, nil
}

func ParseDailyReport(b []byte) (DailyReport, error) {
	data, summary, err := decodeEnvelope[DailyEntry](b, "daily")
	return DailyReport{Data: data, Summary: summary}, err
}

func ParseSessionReport(b []byte) (SessionReport, error) {
	data, summary, err := decodeEnvelope[SessionEntry](b, "sessions")
	return SessionReport{Data: data, Summary: summary}, err
}

func ParseMonthlyReport(b []byte) (MonthlyReport, error) {
	data, summary, err := decodeEnvelope[MonthlyEntry](b, "monthly")
	return MonthlyReport{Data: data, Summary: summary}, err
}

// TotalCostUSD prefers the summary total, then the sum of entry costs.
// It is nil when no entry carries a positive cost.
func TotalCostUSD(summary *Summary, entries []Usage) *float64 {
	if summary != nil && summary.TotalCostUSD != nil {
		v := *summary.TotalCostUSD
		return &v
	}
	var sum float64
	for _, e := range entries {
		if e.CostUSD != nil {
			sum += *e.CostUSD
		}
	}
	if sum > 0 {
		return &sum
	}
	return nil
}

// TotalTokens follows the same rules as TotalCostUSD.
func TotalTokens(summary *Summary, entries []Usage) *int64 {
	if summary != nil && summary.TotalTokens != nil {
		v := *summary.TotalTokens
		return &v
	}
	var sum int64
	for _, e := range entries {
		if e.TotalTokens != nil {
			sum += *e.TotalTokens
		}
	}
	if sum > 0 {
		return &sum
	}
	return nil
}

func (r DailyReport) usages() []Usage {
	out := make([]Usage, len(r.Data))
	for i, e := range r.Data {
		out[i] = e.Usage
	}
	return out
}

// TokenSnapshot is the cost summary shown next to a provider: the most
// recent day plus totals over the report window.
type TokenSnapshot struct {
	SessionTokens     *int64       `json:"session_tokens,omitempty"`
	SessionCostUSD    *float64     `json:"session_cost_usd,omitempty"`
	Last30DaysTokens  *int64       `json:"last_30_days_tokens,omitempty"`
	Last30DaysCostUSD *float64     `json:"last_30_days_cost_usd,omitempty"`
	Daily             []DailyEntry `json:"daily,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func NewTokenSnapshot(r DailyReport, now time.Time) TokenSnapshot {
	s := TokenSnapshot{
		Last30DaysTokens:  TotalTokens(r.Summary, r.usages()),
		Last30DaysCostUSD: TotalCostUSD(r.Summary, r.usages()),
		Daily:             r.Data,
		UpdatedAt:         now,
	}
	if day, ok := CurrentDay(r.Data); ok {
		s.SessionTokens = day.TotalTokens
		s.SessionCostUSD = day.CostUSD
	}
	return s
}

func firstFloat(vs ...*float64) *float64 {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}
