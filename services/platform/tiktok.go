package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"promopay-engine/pkg/errutil"
)

const tiktokBaseURL = "https://open.tiktokapis.com/v2"

type tiktokClient struct {
	http         *http.Client
	baseURL      string
	clientKey    string
	clientSecret string
}

func NewTikTokClient(clientKey, clientSecret string) Client {
	return &tiktokClient{
		http:         &http.Client{Timeout: 15 * time.Second},
		baseURL:      tiktokBaseURL,
		clientKey:    clientKey,
		clientSecret: clientSecret,
	}
}

func (c *tiktokClient) Platform() Platform { return TikTok }

type tiktokVideoResponse struct {
	Data struct {
		Videos []struct {
			ID           string `json:"id"`
			ViewCount    int64  `json:"view_count"`
			LikeCount    int64  `json:"like_count"`
			CommentCount int64  `json:"comment_count"`
			ShareCount   int64  `json:"share_count"`
		} `json:"videos"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *tiktokClient) FetchPostMetrics(ctx context.Context, accessToken, postID string) (*PostMetrics, error) {
	body, _ := json.Marshal(map[string]any{
		"filters": map[string]any{"video_ids": []string{postID}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/video/query/?fields=id,view_count,like_count,comment_count,share_count",
		bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errutil.Unavailable("tiktok video query failed", errutil.WithErr(err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "tiktok"); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errutil.Unavailable("tiktok response read failed", errutil.WithErr(err))
	}

	var parsed tiktokVideoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errutil.ValidationFailed("tiktok response malformed", errutil.WithErr(err))
	}
	if len(parsed.Data.Videos) == 0 {
		return nil, errutil.NotFound(fmt.Sprintf("tiktok video %s not found", postID))
	}

	v := parsed.Data.Videos[0]
	return &PostMetrics{
		PostID:       v.ID,
		ViewCount:    v.ViewCount,
		LikeCount:    v.LikeCount,
		CommentCount: v.CommentCount,
		ShareCount:   v.ShareCount,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

type tiktokTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	OpenID       string `json:"open_id"`
	ErrorCode    string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (c *tiktokClient) RefreshToken(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	form := url.Values{}
	form.Set("client_key", c.clientKey)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token/", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errutil.Unavailable("tiktok token refresh failed", errutil.WithErr(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errutil.Unavailable("tiktok token response read failed", errutil.WithErr(err))
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, errutil.ReauthRequired("tiktok rejected refresh grant")
	}
	if resp.StatusCode >= 500 {
		return nil, errutil.Unavailable(fmt.Sprintf("tiktok token endpoint returned %d", resp.StatusCode))
	}

	var parsed tiktokTokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errutil.ValidationFailed("tiktok token response malformed", errutil.WithErr(err))
	}
	if parsed.AccessToken == "" {
		return nil, errutil.ReauthRequired("tiktok refresh returned no access token: " + parsed.ErrorDesc)
	}

	return &RefreshedToken{
		AccessToken:    parsed.AccessToken,
		RefreshToken:   parsed.RefreshToken,
		ExpiresAt:      time.Now().UTC().Add(time.Duration(parsed.ExpiresIn) * time.Second),
		PlatformUserID: parsed.OpenID,
	}, nil
}

// classifyStatus maps an HTTP status to the pipeline error taxonomy.
func classifyStatus(resp *http.Response, provider string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errutil.ReauthRequired(fmt.Sprintf("%s rejected access token (%d)", provider, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return errutil.TooManyRequests(
			fmt.Sprintf("%s rate limit hit", provider),
			errutil.WithRetryAfter(parseRetryAfter(resp)),
		)
	case resp.StatusCode >= 500:
		return errutil.Unavailable(fmt.Sprintf("%s returned %d", provider, resp.StatusCode))
	default:
		return errutil.ValidationFailed(fmt.Sprintf("%s returned unexpected %d", provider, resp.StatusCode))
	}
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}
