package accounting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/ledgerdesk/internal/turnctx"
)

// TokenStore persists the token pair across restarts. Implementations own
// the storage format.
type TokenStore interface {
	Load(ctx context.Context, accountID string) (*oauth2.Token, error)
	Save(ctx context.Context, accountID string, token *oauth2.Token) error
}

// TokenManager holds the token pair for one account and serializes refresh:
// at most one refresh is in flight per account, and every caller needing the
// refreshed credential waits for it instead of starting a duplicate refresh.
type TokenManager struct {
	cfg       *oauth2.Config
	accountID string
	store     TokenStore // optional

	mu    sync.Mutex
	token *oauth2.Token

	group singleflight.Group
}

// NewTokenManager creates a token manager seeded with the given token pair.
func NewTokenManager(cfg *oauth2.Config, accountID string, initial *oauth2.Token, store TokenStore) *TokenManager {
	return &TokenManager{
		cfg:       cfg,
		accountID: accountID,
		token:     initial,
		store:     store,
	}
}

// AccessToken returns a currently valid access token, refreshing if needed.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	tok := m.token
	m.mu.Unlock()

	if tok != nil && tok.Valid() {
		return tok.AccessToken, nil
	}
	return m.refresh(ctx)
}

// Invalidate marks the given access token as expired. Calls racing on the
// same stale token collapse into a single refresh; a token already replaced
// by a newer one is left untouched.
func (m *TokenManager) Invalidate(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil && m.token.AccessToken == accessToken {
		m.token.Expiry = time.Now().Add(-time.Minute)
	}
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	v, err, shared := m.group.Do(m.accountID, func() (any, error) {
		m.mu.Lock()
		stale := m.token
		m.mu.Unlock()

		// A parallel caller may have refreshed while we queued.
		if stale != nil && stale.Valid() {
			return stale.AccessToken, nil
		}
		if stale == nil || stale.RefreshToken == "" {
			return "", errors.Wrap(ErrAuthExpired, "no refresh token available")
		}

		start := time.Now()
		fresh, err := m.cfg.TokenSource(ctx, stale).Token()
		if err != nil {
			slog.Error("accounting: token refresh failed", "account", m.accountID, "error", err)
			return "", errors.Wrap(ErrAuthExpired, err.Error())
		}

		m.mu.Lock()
		m.token = fresh
		m.mu.Unlock()

		turnctx.Incr(ctx, turnctx.CounterAuthRefresh)
		slog.Info("accounting: token refreshed",
			"account", m.accountID,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if m.store != nil {
			if err := m.store.Save(ctx, m.accountID, fresh); err != nil {
				slog.Warn("accounting: failed to persist refreshed token", "account", m.accountID, "error", err)
			}
		}
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		slog.Debug("accounting: refresh coalesced with in-flight refresh", "account", m.accountID)
	}
	return v.(string), nil
}
