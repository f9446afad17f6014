package oauth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tnunamak/usagebar/internal/errs"
	"github.com/tnunamak/usagebar/internal/metrics"
)

const DefaultMargin = 60 * time.Second

// Refresher exchanges a refresh token for a new record. Implementations
// return KindUnauthorized when the grant is rejected.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Record, error)
}

// Manager owns one credential record. All access is serialized, so
// concurrent callers never issue more than one refresh for the same
// expired token.
type Manager struct {
	store     Store
	refresher Refresher
	logger    *zap.Logger

	// Margin is how long before expiry a token is treated as expired.
	Margin time.Duration
	Now    func() time.Time

	mu      sync.Mutex
	current *Record
	stamp   time.Time
}

func NewManager(store Store, refresher Refresher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		logger:    logger,
		Margin:    DefaultMargin,
		Now:       time.Now,
	}
}

// Token returns a record valid for at least Margin, refreshing it first
// when needed.
func (m *Manager) Token(ctx context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return Record{}, err
	}
	if m.current.ValidAt(m.Now().Add(m.Margin)) {
		return *m.current, nil
	}
	if m.current.RefreshToken == "" {
		return Record{}, errs.Newf(errs.KindUnauthorized, "oauth", "token expired and no refresh token")
	}
	if err := m.refreshLocked(ctx); err != nil {
		return Record{}, err
	}
	return *m.current, nil
}

// ForceRefresh refreshes after a request using staleAccessToken was
// rejected. If another caller already replaced that token the current
// record is returned without a new request.
func (m *Manager) ForceRefresh(ctx context.Context, staleAccessToken string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return Record{}, err
	}
	if m.current.AccessToken != staleAccessToken {
		return *m.current, nil
	}
	if m.current.RefreshToken == "" {
		return Record{}, errs.Newf(errs.KindUnauthorized, "oauth", "token rejected and no refresh token")
	}
	if err := m.refreshLocked(ctx); err != nil {
		return Record{}, err
	}
	return *m.current, nil
}

// Current returns the cached record without refreshing.
func (m *Manager) Current(ctx context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return Record{}, err
	}
	return *m.current, nil
}

// loadLocked reads the record on first use and again whenever a Stamper
// store reports that its data changed underneath us, e.g. after the vendor
// CLI logged in to another account.
func (m *Manager) loadLocked(ctx context.Context) error {
	stamper, stamped := m.store.(Stamper)
	var stamp time.Time
	if stamped {
		if st, err := stamper.Stamp(); err == nil {
			stamp = st
		}
	}
	if m.current != nil && (!stamped || stamp.Equal(m.stamp)) {
		return nil
	}
	r, err := m.store.Load(ctx)
	if err != nil {
		m.current = nil
		return err
	}
	if m.current != nil {
		m.logger.Debug("credentials changed on disk, reloaded")
	}
	m.current, m.stamp = r, stamp
	return nil
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.refresher == nil {
		return errs.Newf(errs.KindUnsupported, "oauth", "no refresher configured")
	}
	next, err := m.refresher.Refresh(ctx, m.current.RefreshToken)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		m.logger.Warn("token refresh failed", zap.Error(err))
		return err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = m.current.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = m.current.IDToken
	}
	if err := m.store.Save(ctx, next); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return err
	}
	m.current = next
	if st, ok := m.store.(Stamper); ok {
		if stamp, err := st.Stamp(); err == nil {
			m.stamp = stamp
		}
	}
	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	m.logger.Debug("token refreshed", zap.Time("expires_at", next.ExpiresAt))
	return nil
}
