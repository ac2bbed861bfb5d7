package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"promopay-engine/pkg/errutil"
)

const instagramBaseURL = "https://graph.instagram.com"

type instagramClient struct {
	http    *http.Client
	baseURL string
}

func NewInstagramClient() Client {
	return &instagramClient{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: instagramBaseURL,
	}
}

func (c *instagramClient) Platform() Platform { return Instagram }

type instagramInsight struct {
	Name   string `json:"name"`
	Values []struct {
		Value int64 `json:"value"`
	} `json:"values"`
}

type instagramInsightsResponse struct {
	Data []instagramInsight `json:"data"`
}

func (c *instagramClient) FetchPostMetrics(ctx context.Context, accessToken, postID string) (*PostMetrics, error) {
	q := url.Values{}
	q.Set("metric", "views,likes,comments,shares")
	q.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/insights?%s", c.baseURL, postID, q.Encode()), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errutil.Unavailable("instagram insights fetch failed", errutil.WithErr(err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "instagram"); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errutil.Unavailable("instagram response read failed", errutil.WithErr(err))
	}

	var parsed instagramInsightsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errutil.ValidationFailed("instagram response malformed", errutil.WithErr(err))
	}

	metrics := &PostMetrics{PostID: postID, FetchedAt: time.Now().UTC()}
	for _, insight := range parsed.Data {
		if len(insight.Values) == 0 {
			continue
		}
		v := insight.Values[0].Value
		switch insight.Name {
		case "views", "plays":
			metrics.ViewCount = v
		case "likes":
			metrics.LikeCount = v
		case "comments":
			metrics.CommentCount = v
		case "shares":
			metrics.ShareCount = v
		}
	}
	return metrics, nil
}

type instagramTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// RefreshToken uses the long-lived token refresh endpoint; Instagram extends
// the same token rather than issuing a refresh pair.
func (c *instagramClient) RefreshToken(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	q := url.Values{}
	q.Set("grant_type", "ig_refresh_token")
	q.Set("access_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/refresh_access_token?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errutil.Unavailable("instagram token refresh failed", errutil.WithErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, errutil.ReauthRequired("instagram rejected refresh grant")
	}
	if resp.StatusCode >= 500 {
		return nil, errutil.Unavailable(fmt.Sprintf("instagram token endpoint returned %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errutil.Unavailable("instagram token response read failed", errutil.WithErr(err))
	}

	var parsed instagramTokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errutil.ValidationFailed("instagram token response malformed", errutil.WithErr(err))
	}
	if parsed.AccessToken == "" {
		return nil, errutil.ReauthRequired("instagram refresh returned no access token")
	}

	return &RefreshedToken{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.AccessToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}
