package token

import (
	"context"
	"fmt"
	"time"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"
	"promopay-engine/pkg/config"
	"promopay-engine/pkg/errutil"
	"promopay-engine/services/platform"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("token.store",
	fx.Provide(NewStore),
)

// Refresher exchanges a refresh grant with the owning platform.
type Refresher interface {
	RefreshToken(ctx context.Context, p platform.Platform, refreshToken string) (*platform.RefreshedToken, error)
}

// Store keeps OAuth credentials valid under concurrent access from many
// worker processes. Refresh is serialised through a cache lock so only one
// caller talks to the provider; everyone else reads the winner's result.
type Store struct {
	cache     *cache.Cache
	refresher Refresher
	cfg       *config.Config
	now       func() time.Time
}

type StoreParams struct {
	fx.In
	Cache     *cache.Cache
	Refresher *platform.Gateway
	Cfg       *config.Config
}

func NewStore(p StoreParams) *Store {
	return &Store{
		cache:     p.Cache,
		refresher: p.Refresher,
		cfg:       p.Cfg,
		now:       time.Now,
	}
}

// NewStoreWith wires explicit dependencies, used by tests and callers
// outside the fx graph.
func NewStoreWith(c *cache.Cache, r Refresher, cfg *config.Config) *Store {
	return &Store{cache: c, refresher: r, cfg: cfg, now: time.Now}
}

// GetToken reads the credential. An absent token is a valid "not connected"
// state, not an error.
func (s *Store) GetToken(ctx context.Context, userID string, p platform.Platform) (*Token, error) {
	var tok Token
	if ok := s.cache.GetJSON(ctx, cachekey.BuildTokenKey(userID, string(p)), &tok); !ok {
		return nil, nil
	}
	return &tok, nil
}

// StoreToken writes the credential with TTL clamped to its remaining
// lifetime. An already-expired token is accepted and evicted immediately.
func (s *Store) StoreToken(ctx context.Context, tok *Token) error {
	key := cachekey.BuildTokenKey(tok.UserID, string(tok.Platform))

	ttl := tok.Remaining(s.now())
	if ttl <= 0 {
		// accepted, but there is nothing usable to keep
		return s.cache.Del(ctx, key)
	}
	return s.cache.SetJSON(ctx, key, tok, ttl)
}

func (s *Store) DeleteToken(ctx context.Context, userID string, p platform.Platform) error {
	return s.cache.Del(ctx, cachekey.BuildTokenKey(userID, string(p)))
}

// ValidateToken reports validity and whether the remaining lifetime has
// dropped below the refresh margin.
func (s *Store) ValidateToken(ctx context.Context, userID string, p platform.Platform) (Validation, error) {
	tok, err := s.GetToken(ctx, userID, p)
	if err != nil {
		return Validation{}, err
	}
	if tok == nil {
		return Validation{Valid: false, Error: "not connected"}, nil
	}

	now := s.now()
	if tok.Expired(now) {
		return Validation{Valid: false, NeedsRefresh: tok.RefreshToken != "", Error: "token expired"}, nil
	}
	if tok.Remaining(now) < s.cfg.Token.RefreshMargin {
		return Validation{Valid: true, NeedsRefresh: true}, nil
	}
	return Validation{Valid: true}, nil
}

// RefreshToken refreshes under a short-TTL cache lock keyed to
// (user, platform). The lock loser waits for the winner and re-reads the
// refreshed token instead of issuing its own provider call.
func (s *Store) RefreshToken(ctx context.Context, userID string, p platform.Platform) (*Token, error) {
	lock := cache.NewLock(s.cache, cachekey.BuildTokenLockKey(userID, string(p)), s.cfg.Token.LockTTL)

	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return s.awaitWinner(ctx, lock, userID, p)
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			zap.L().Warn("[TokenStore] failed to release refresh lock",
				zap.String("user_id", userID), zap.String("platform", string(p)), zap.Error(err))
		}
	}()

	return s.doRefresh(ctx, userID, p)
}

func (s *Store) doRefresh(ctx context.Context, userID string, p platform.Platform) (*Token, error) {
	tok, err := s.GetToken(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.RefreshToken == "" {
		// nothing to refresh with; force the user back through linking
		_ = s.DeleteToken(ctx, userID, p)
		return nil, errutil.ReauthRequired(fmt.Sprintf("no refresh token for user %s on %s", userID, p))
	}

	refreshed, err := s.refresher.RefreshToken(ctx, p, tok.RefreshToken)
	if err != nil {
		if errutil.IsReauth(err) {
			_ = s.DeleteToken(ctx, userID, p)
			return nil, err
		}
		// transient provider failure: keep the stale token, the caller's
		// job-retry mechanism owns the retry
		return nil, err
	}

	next := &Token{
		UserID:         userID,
		Platform:       p,
		AccessToken:    refreshed.AccessToken,
		RefreshToken:   refreshed.RefreshToken,
		ExpiresAt:      refreshed.ExpiresAt,
		PlatformUserID: refreshed.PlatformUserID,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}
	if next.PlatformUserID == "" {
		next.PlatformUserID = tok.PlatformUserID
	}

	if err := s.StoreToken(ctx, next); err != nil {
		return nil, err
	}

	zap.L().Info("[TokenStore] token refreshed",
		zap.String("user_id", userID),
		zap.String("platform", string(p)),
		zap.Time("expires_at", next.ExpiresAt),
	)
	return next, nil
}

func (s *Store) awaitWinner(ctx context.Context, lock *cache.Lock, userID string, p platform.Platform) (*Token, error) {
	released := lock.WaitForRelease(ctx, s.cfg.Token.LockWaitTimeout, s.cfg.Token.LockWaitPoll)
	if !released {
		// bounded wait elapsed; proceed as if the refresh failed rather than hang
		return nil, errutil.ReauthRequired(fmt.Sprintf("refresh lock wait timed out for user %s on %s", userID, p))
	}

	tok, err := s.GetToken(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if tok == nil || tok.Expired(s.now()) {
		return nil, errutil.ReauthRequired(fmt.Sprintf("refresh by concurrent caller failed for user %s on %s", userID, p))
	}
	return tok, nil
}

// GetValidToken composes validate and refresh. It returns (nil, nil) when
// the user must re-link their account; callers treat nil as "no credential".
func (s *Store) GetValidToken(ctx context.Context, userID string, p platform.Platform) (*Token, error) {
	v, err := s.ValidateToken(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	if v.Valid && !v.NeedsRefresh {
		return s.GetToken(ctx, userID, p)
	}
	if !v.Valid && !v.NeedsRefresh {
		return nil, nil
	}

	tok, err := s.RefreshToken(ctx, userID, p)
	if err != nil {
		if errutil.IsReauth(err) {
			return nil, nil
		}
		// still-valid token survives a failed proactive refresh
		if v.Valid {
			return s.GetToken(ctx, userID, p)
		}
		return nil, err
	}
	return tok, nil
}

// GetTokenHealth reports per-platform credential state for one user.
func (s *Store) GetTokenHealth(ctx context.Context, userID string) ([]PlatformHealth, error) {
	report := make([]PlatformHealth, 0, len(platform.All()))
	for _, p := range platform.All() {
		entry := PlatformHealth{Platform: p}

		tok, err := s.GetToken(ctx, userID, p)
		if err != nil {
			entry.Error = err.Error()
			report = append(report, entry)
			continue
		}
		if tok == nil {
			report = append(report, entry)
			continue
		}

		entry.Connected = true
		entry.ExpiresAt = &tok.ExpiresAt

		v, err := s.ValidateToken(ctx, userID, p)
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Valid = v.Valid
			entry.NeedsRefresh = v.NeedsRefresh
			entry.Error = v.Error
		}
		report = append(report, entry)
	}
	return report, nil
}

// CleanupExpiredTokens scans all token keys and removes any whose expiry has
// passed. Returns how many were removed.
func (s *Store) CleanupExpiredTokens(ctx context.Context) (int, error) {
	keys, err := s.cache.KeysByPattern(ctx, cachekey.TokenPrefix+":*")
	if err != nil {
		return 0, err
	}

	removed := 0
	now := s.now()
	for _, key := range keys {
		var tok Token
		if ok := s.cache.GetJSON(ctx, key, &tok); !ok {
			continue // lock keys and already-evicted entries
		}
		if tok.Expired(now) {
			if err := s.cache.Del(ctx, key); err != nil {
				return removed, err
			}
			removed++
		}
	}

	if removed > 0 {
		zap.L().Info("[TokenStore] expired tokens removed", zap.Int("count", removed))
	}
	return removed, nil
}
