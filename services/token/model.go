package token

import (
	"time"

	"promopay-engine/services/platform"
)

// Token is an access/refresh credential pair scoped to (user, platform).
// It lives only in the cache, with a TTL never longer than the token's own
// remaining lifetime.
type Token struct {
	UserID         string            `json:"user_id"`
	Platform       platform.Platform `json:"platform"`
	AccessToken    string            `json:"access_token"`
	RefreshToken   string            `json:"refresh_token,omitempty"`
	ExpiresAt      time.Time         `json:"expires_at"`
	PlatformUserID string            `json:"platform_user_id,omitempty"`
}

func (t *Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Validation is the answer to "can I use this credential right now".
type Validation struct {
	Valid        bool   `json:"valid"`
	NeedsRefresh bool   `json:"needs_refresh"`
	Error        string `json:"error,omitempty"`
}

// PlatformHealth summarises one platform's credential state for diagnostics.
type PlatformHealth struct {
	Platform     platform.Platform `json:"platform"`
	Connected    bool              `json:"connected"`
	Valid        bool              `json:"valid"`
	NeedsRefresh bool              `json:"needs_refresh"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}
