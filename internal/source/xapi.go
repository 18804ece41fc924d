package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"postwatch/internal/model"
)

const (
	defaultXBaseURL = "https://api.twitter.com/2"
	tweetFields     = "created_at,author_id,referenced_tweets,attachments"
)

// XClient reads posts through the X API v2 with a bearer token.
type XClient struct {
	baseURL     string
	bearerToken string
	httpClient  HTTPClient
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration

	mu      sync.Mutex
	userIDs map[string]string
}

// XOption configures an XClient.
type XOption func(*XClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) XOption {
	return func(c *XClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h HTTPClient) XOption {
	return func(c *XClient) { c.httpClient = h }
}

// WithLimiter overrides the request rate limiter.
func WithLimiter(l *rate.Limiter) XOption {
	return func(c *XClient) { c.limiter = l }
}

// WithRetry sets the attempt count and initial backoff for 429 and 5xx
// responses.
func WithRetry(attempts int, backoff time.Duration) XOption {
	return func(c *XClient) {
		c.maxAttempts = attempts
		c.baseBackoff = backoff
	}
}

// NewXClient creates an X API client.
func NewXClient(bearerToken string, opts ...XOption) *XClient {
	c := &XClient{
		baseURL:     defaultXBaseURL,
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(1), 5),
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
		userIDs:     make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type xTweet struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	AuthorID         string    `json:"author_id"`
	CreatedAt        time.Time `json:"created_at"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type xUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type xIncludes struct {
	Users []xUser `json:"users"`
}

type xError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

// ListRecent returns the latest posts of q.Handle.
func (c *XClient) ListRecent(ctx context.Context, q Query) ([]model.Post, error) {
	userID, err := c.userID(ctx, q.Handle)
	if err != nil {
		return nil, err
	}

	v := url.Values{}
	v.Set("max_results", strconv.Itoa(clamp(q.Limit, 5, 100)))
	v.Set("tweet.fields", tweetFields)
	v.Set("expansions", "author_id")
	v.Set("user.fields", "name,username")
	var exclude []string
	if !q.IncludeRetweets {
		exclude = append(exclude, "retweets")
	}
	if !q.IncludeReplies {
		exclude = append(exclude, "replies")
	}
	if len(exclude) > 0 {
		v.Set("exclude", strings.Join(exclude, ","))
	}

	var raw struct {
		Data     []xTweet  `json:"data"`
		Includes xIncludes `json:"includes"`
	}
	u := fmt.Sprintf("%s/users/%s/tweets?%s", c.baseURL, url.PathEscape(userID), v.Encode())
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return nil, fmt.Errorf("user tweets %s: %w", q.Handle, err)
	}

	users := indexUsers(raw.Includes.Users)
	out := make([]model.Post, 0, len(raw.Data))
	for _, t := range raw.Data {
		out = append(out, t.toPost(users))
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetPost fetches a single post by id.
func (c *XClient) GetPost(ctx context.Context, id string) (model.Post, error) {
	v := url.Values{}
	v.Set("tweet.fields", tweetFields)
	v.Set("expansions", "author_id")
	v.Set("user.fields", "name,username")

	var raw struct {
		Data     *xTweet   `json:"data"`
		Includes xIncludes `json:"includes"`
		Errors   []xError  `json:"errors"`
	}
	u := fmt.Sprintf("%s/tweets/%s?%s", c.baseURL, url.PathEscape(id), v.Encode())
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return model.Post{}, fmt.Errorf("get post %s: %w", id, err)
	}
	if raw.Data == nil {
		return model.Post{}, fmt.Errorf("get post %s: %w", id, ErrNotFound)
	}
	return raw.Data.toPost(indexUsers(raw.Includes.Users)), nil
}

func (c *XClient) userID(ctx context.Context, handle string) (string, error) {
	name := strings.TrimPrefix(handle, "@")
	if name == "" {
		return "", errors.New("empty handle")
	}

	c.mu.Lock()
	id, ok := c.userIDs[strings.ToLower(name)]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var raw struct {
		Data *xUser `json:"data"`
	}
	u := fmt.Sprintf("%s/users/by/username/%s", c.baseURL, url.PathEscape(name))
	if err := c.getJSON(ctx, u, &raw); err != nil {
		return "", fmt.Errorf("lookup user %s: %w", name, err)
	}
	if raw.Data == nil || raw.Data.ID == "" {
		return "", fmt.Errorf("lookup user %s: %w", name, ErrNotFound)
	}

	c.mu.Lock()
	c.userIDs[strings.ToLower(name)] = raw.Data.ID
	c.mu.Unlock()
	return raw.Data.ID, nil
}

func (c *XClient) getJSON(ctx context.Context, u string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *XClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
			if !retryable || attempt == c.maxAttempts {
				return resp, nil
			}
			wait := retryAfter(resp.Header.Get("Retry-After"), backoff)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}
		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func retryAfter(header string, def time.Duration) time.Duration {
	if header == "" {
		return def
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return def
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t xTweet) toPost(users map[string]xUser) model.Post {
	p := model.Post{
		ID:        t.ID,
		Text:      t.Text,
		CreatedAt: t.CreatedAt.UTC(),
		HasMedia:  len(t.Attachments.MediaKeys) > 0,
	}
	if u, ok := users[t.AuthorID]; ok {
		p.AuthorHandle = u.Username
		p.AuthorName = u.Name
	}
	for _, ref := range t.ReferencedTweets {
		switch ref.Type {
		case "replied_to":
			p.ParentID = ref.ID
		case "retweeted":
			p.IsRetweet = true
		}
	}
	return p
}

func indexUsers(users []xUser) map[string]xUser {
	m := make(map[string]xUser, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return m
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
