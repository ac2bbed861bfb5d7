package platform

import (
	"context"
	"fmt"
	"time"
)

// Platform identifies a social network whose post metrics we poll.
type Platform string

const (
	TikTok    Platform = "tiktok"
	Instagram Platform = "instagram"
)

func Parse(s string) (Platform, error) {
	switch Platform(s) {
	case TikTok, Instagram:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

func All() []Platform {
	return []Platform{TikTok, Instagram}
}

// PostMetrics is one raw observation of a promoted post.
type PostMetrics struct {
	PostID       string    `json:"post_id"`
	ViewCount    int64     `json:"view_count"`
	LikeCount    int64     `json:"like_count"`
	CommentCount int64     `json:"comment_count"`
	ShareCount   int64     `json:"share_count"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// RefreshedToken is the provider's answer to a refresh-grant exchange.
type RefreshedToken struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	ExpiresAt      time.Time `json:"expires_at"`
	PlatformUserID string    `json:"platform_user_id"`
}

// Client talks to one platform's public API.
type Client interface {
	Platform() Platform
	FetchPostMetrics(ctx context.Context, accessToken, postID string) (*PostMetrics, error)
	RefreshToken(ctx context.Context, refreshToken string) (*RefreshedToken, error)
}
