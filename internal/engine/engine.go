// Package engine refreshes every enabled source independently and keeps
// the latest status of each one.
package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/gate"
	"github.com/tnunamak/usagebar/internal/metrics"
	"github.com/tnunamak/usagebar/internal/strategy"
	"github.com/tnunamak/usagebar/internal/usage"
)

const DefaultTimeout = 45 * time.Second

// Source is one refreshable provider.
type Source struct {
	ID    usage.Provider
	Name  string
	Fetch func(ctx context.Context) (strategy.Outcome, error)
}

// Status is what the engine knows about one source. Snapshot survives a
// surfaced error so shells can show stale data next to it.
type Status struct {
	ID          usage.Provider  `json:"id"`
	Name        string          `json:"name"`
	Snapshot    *usage.Snapshot `json:"snapshot,omitempty"`
	Credits     *usage.Credits  `json:"credits,omitempty"`
	Strategy    strategy.Kind   `json:"strategy,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Failures    int             `json:"consecutive_failures"`
	Refreshing  bool            `json:"refreshing"`
	LastAttempt time.Time       `json:"last_attempt,omitempty"`
	LastSuccess time.Time       `json:"last_success,omitempty"`

	Err error `json:"-"`
}

func (s Status) clone() Status {
	out := s
	if s.Snapshot != nil {
		snap := s.Snapshot.Clone()
		out.Snapshot = &snap
	}
	if s.Credits != nil {
		c := s.Credits.Clone()
		out.Credits = &c
	}
	return out
}

type Options struct {
	// Timeout bounds one refresh of one source.
	Timeout time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

type Engine struct {
	sources []Source
	timeout time.Duration
	gates   *gate.Set
	logger  *zap.Logger
	now     func() time.Time
	trigger chan struct{}

	mu     sync.RWMutex
	status map[usage.Provider]*Status
	subs   map[int]chan struct{}
	nextID int
}

func New(sources []Source, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		sources: sources,
		timeout: opts.Timeout,
		gates:   gate.NewSet(),
		logger:  opts.Logger,
		now:     opts.Now,
		trigger: make(chan struct{}, 1),
		status:  make(map[usage.Provider]*Status, len(sources)),
		subs:    make(map[int]chan struct{}),
	}
	for _, s := range sources {
		e.status[s.ID] = &Status{ID: s.ID, Name: s.Name}
	}
	return e
}

// Refresh fetches the given sources, or all of them when ids is empty,
// and waits for every fetch to finish. A source that is already being
// refreshed is skipped.
func (e *Engine) Refresh(ctx context.Context, ids ...usage.Provider) {
	var wg sync.WaitGroup
	for _, src := range e.sources {
		if len(ids) > 0 && !slices.Contains(ids, src.ID) {
			continue
		}
		if !e.begin(src.ID) {
			e.logger.Debug("refresh already running", zap.String("provider", string(src.ID)))
			continue
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			e.refreshOne(ctx, src)
		}(src)
	}
	wg.Wait()
}

func (e *Engine) begin(id usage.Provider) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status[id]
	if st.Refreshing {
		return false
	}
	st.Refreshing = true
	st.LastAttempt = e.now()
	return true
}

func (e *Engine) refreshOne(ctx context.Context, src Source) {
	id := string(src.ID)
	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	out, err := src.Fetch(fetchCtx)
	metrics.FetchDuration.WithLabelValues(id).Observe(time.Since(start).Seconds())

	e.mu.Lock()
	st := e.status[src.ID]
	st.Refreshing = false
	switch {
	case err == nil:
		e.gates.RecordSuccess(id)
		snap := out.Result.Usage.Clone()
		st.Snapshot = &snap
		st.Credits = nil
		if out.Result.Credits != nil {
			c := out.Result.Credits.Clone()
			st.Credits = &c
		}
		st.Strategy = out.Kind
		st.Err, st.Error, st.ErrorKind = nil, "", ""
		st.LastSuccess = e.now()
	case ctx.Err() != nil:
		// Shutdown, not a source failure.
	default:
		if e.gates.ShouldSurfaceError(id, st.Snapshot != nil) {
			st.Err, st.Error, st.ErrorKind = err, err.Error(), errs.KindOf(err).String()
			e.logger.Warn("refresh failed", zap.String("provider", id), zap.Error(err))
		} else {
			metrics.FailuresSuppressedTotal.WithLabelValues(id).Inc()
			e.logger.Info("refresh failure suppressed", zap.String("provider", id), zap.Error(err))
		}
	}
	st.Failures = e.gates.Failures(id)
	e.mu.Unlock()

	if err == nil {
		e.logger.Debug("refreshed", zap.String("provider", id), zap.String("strategy", string(out.Kind)))
	}
	e.notify()
}

// Status returns a copy of one source's status.
func (e *Engine) Status(id usage.Provider) (Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.status[id]
	if !ok {
		return Status{}, false
	}
	return st.clone(), true
}

// Statuses returns copies of every status in source order.
func (e *Engine) Statuses() []Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Status, 0, len(e.sources))
	for _, s := range e.sources {
		out = append(out, e.status[s.ID].clone())
	}
	return out
}

// Trigger asks a running Run loop for an immediate refresh. Requests made
// while one is pending are merged.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes every source now and then on every tick or Trigger,
// until ctx is done. Each source keeps its own schedule, so a slow fetch
// only delays the next refresh of that source.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	var wg sync.WaitGroup
	triggers := make([]chan struct{}, len(e.sources))
	for i, src := range e.sources {
		triggers[i] = make(chan struct{}, 1)
		wg.Add(1)
		go func(src Source, trigger <-chan struct{}) {
			defer wg.Done()
			e.runSource(ctx, src, interval, trigger)
		}(src, triggers[i])
	}
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
			for _, ch := range triggers {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (e *Engine) runSource(ctx context.Context, src Source, interval time.Duration, trigger <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if e.begin(src.ID) {
			e.refreshOne(ctx, src)
		} else {
			e.logger.Debug("refresh already running", zap.String("provider", string(src.ID)))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
		}
	}
}

// Subscribe returns a channel that receives after each source refresh
// completes. Notifications are dropped while one is pending. Call the
// returned func to unsubscribe.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()
	return ch, func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) notify() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
