package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrRateLimited is returned when the search provider throttles a query.
// Results streamed before the throttle hit are already delivered.
var ErrRateLimited = errors.New("search provider rate limited")

// Post is one post record streamed from the search provider.
type Post struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	AuthorHandle string    `json:"author_handle"`
	Likes        int       `json:"likes"`
	Reposts      int       `json:"reposts"`
}

// Query describes one search against the provider.
type Query struct {
	Phrase         string
	Language       string
	Since          time.Time
	Until          time.Time
	ExcludeReposts bool
	Limit          int
}

// String renders the provider's query syntax, e.g.
// `Codex code review -filter:retweets lang:ja since:2026-08-27 until:2026-08-31`.
func (q Query) String() string {
	parts := []string{q.Phrase}
	if q.ExcludeReposts {
		parts = append(parts, "-filter:retweets")
	}
	if q.Language != "" {
		parts = append(parts, "lang:"+q.Language)
	}
	if !q.Since.IsZero() {
		parts = append(parts, "since:"+q.Since.Format("2006-01-02"))
	}
	if !q.Until.IsZero() {
		parts = append(parts, "until:"+q.Until.Format("2006-01-02"))
	}
	return strings.Join(parts, " ")
}

// Provider streams search results one post at a time. Streaming keeps
// mid-query throttling visible: a 429 between pages returns ErrRateLimited
// after the posts collected so far were already handed to fn.
type Provider interface {
	Search(ctx context.Context, q Query, fn func(Post) error) error
}

// HTTPProvider talks to a JSON search API with cursor paging.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	token   string
}

// NewHTTPProvider creates a provider client for the given base URL.
func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type searchPage struct {
	Posts []struct {
		ID        string `json:"id"`
		CreatedAt string `json:"created_at"`
		User      struct {
			Username string `json:"username"`
		} `json:"user"`
		LikeCount   int `json:"like_count"`
		RepostCount int `json:"repost_count"`
	} `json:"posts"`
	NextCursor string `json:"next_cursor"`
}

// Search pages through results until the limit is reached, the pages run
// out, or the provider throttles.
func (p *HTTPProvider) Search(ctx context.Context, q Query, fn func(Post) error) error {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	cursor := ""
	delivered := 0

	for delivered < limit {
		page, err := p.fetchPage(ctx, q.String(), cursor, limit-delivered)
		if err != nil {
			return err
		}

		for _, raw := range page.Posts {
			created, err := time.Parse(time.RFC3339, raw.CreatedAt)
			if err != nil {
				// Malformed timestamps are provider noise; skip the post.
				continue
			}
			post := Post{
				ID:           raw.ID,
				CreatedAt:    created,
				AuthorHandle: raw.User.Username,
				Likes:        raw.LikeCount,
				Reposts:      raw.RepostCount,
			}
			if err := fn(post); err != nil {
				return err
			}
			delivered++
			if delivered >= limit {
				return nil
			}
		}

		if page.NextCursor == "" || len(page.Posts) == 0 {
			return nil
		}
		cursor = page.NextCursor
	}
	return nil
}

func (p *HTTPProvider) fetchPage(ctx context.Context, query, cursor string, limit int) (*searchPage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/api/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}

	var page searchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}
	return &page, nil
}
