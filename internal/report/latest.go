package report

import "time"

type rank struct {
	at     time.Time
	cost   float64
	tokens int64
	id     string
}

func rankOf(at time.Time, ok bool, u Usage, id string) rank {
	r := rank{cost: -1, tokens: -1, id: id}
	if ok {
		r.at = at
	}
	if u.CostUSD != nil {
		r.cost = *u.CostUSD
	}
	if u.TotalTokens != nil {
		r.tokens = *u.TotalTokens
	}
	return r
}

// before reports whether a orders strictly before b: older date, then
// lower cost, then fewer tokens, then smaller identifier.
func (a rank) before(b rank) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	if a.cost != b.cost {
		return a.cost < b.cost
	}
	if a.tokens != b.tokens {
		return a.tokens < b.tokens
	}
	return a.id < b.id
}

// latest returns the maximum item under rank order. Unparseable dates
// sort before every parsed one.
func latest[T any](items []T, key func(T) rank) (T, bool) {
	var best T
	if len(items) == 0 {
		return best, false
	}
	best = items[0]
	bestRank := key(best)
	for _, it := range items[1:] {
		if r := key(it); bestRank.before(r) {
			best, bestRank = it, r
		}
	}
	return best, true
}

func CurrentDay(entries []DailyEntry) (DailyEntry, bool) {
	return latest(entries, func(e DailyEntry) rank {
		t, ok := ParseDate(e.Date)
		return rankOf(t, ok, e.Usage, e.Date)
	})
}

func CurrentSession(entries []SessionEntry) (SessionEntry, bool) {
	return latest(entries, func(e SessionEntry) rank {
		t, ok := ParseDate(e.LastActivity)
		return rankOf(t, ok, e.Usage, e.Session)
	})
}

func MostRecentMonth(entries []MonthlyEntry) (MonthlyEntry, bool) {
	return latest(entries, func(e MonthlyEntry) rank {
		t, ok := ParseMonth(e.Month)
		return rankOf(t, ok, e.Usage, e.Month)
	})
}
