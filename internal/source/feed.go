package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"postwatch/internal/model"
)

var (
	statusIDRe  = regexp.MustCompile(`/status(?:es)?/(\d+)`)
	retweetRe   = regexp.MustCompile(`^RT by @?\w+:`)
	replyRe     = regexp.MustCompile(`^R to @?\w+:\s*`)
	imageTagRe  = regexp.MustCompile(`(?i)<(img|video)\b`)
	maxFeedSize = int64(5 * 1024 * 1024)
)

// FeedSource reads account timelines from per-account RSS/Atom bridge feeds,
// such as those served by Nitter-style mirrors.
//
// Feeds do not expose reply parents, so posts from a FeedSource never carry a
// ParentID. GetPost only finds posts seen in previously fetched feeds.
type FeedSource struct {
	client      HTTPClient
	urlTemplate string
	now         func() time.Time

	mu    sync.Mutex
	cache map[string]model.Post
}

// NewFeedSource creates a FeedSource. urlTemplate contains a single %s that
// is replaced by the account handle without a leading @.
func NewFeedSource(client HTTPClient, urlTemplate string) *FeedSource {
	return &FeedSource{
		client:      client,
		urlTemplate: urlTemplate,
		now:         time.Now,
		cache:       make(map[string]model.Post),
	}
}

// Fetch downloads and parses a feed from the given URL.
func (f *FeedSource) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "postwatch/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ListRecent returns the posts of the account feed.
func (f *FeedSource) ListRecent(ctx context.Context, q Query) ([]model.Post, error) {
	handle := strings.TrimPrefix(q.Handle, "@")
	feed, err := f.Fetch(ctx, fmt.Sprintf(f.urlTemplate, handle))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", handle, err)
	}

	var out []model.Post
	for _, item := range feed.Items {
		p := f.itemPost(handle, feed, item)
		if p.IsRetweet && !q.IncludeRetweets {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}

	f.mu.Lock()
	for _, p := range out {
		f.cache[p.ID] = p
	}
	f.mu.Unlock()
	return out, nil
}

// GetPost returns a post from previously fetched feeds.
func (f *FeedSource) GetPost(_ context.Context, id string) (model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.cache[id]
	if !ok {
		return model.Post{}, fmt.Errorf("get post %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (f *FeedSource) itemPost(handle string, feed *gofeed.Feed, item *gofeed.Item) model.Post {
	text := item.Title
	if text == "" {
		text = item.Description
	}
	isRetweet := retweetRe.MatchString(text)
	text = replyRe.ReplaceAllString(text, "")

	created := f.now()
	switch {
	case item.PublishedParsed != nil:
		created = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		created = *item.UpdatedParsed
	}

	author := itemAuthor(item)
	if author == "" {
		author = feed.Title
	}

	return model.Post{
		ID:           ItemID(item),
		AuthorHandle: handle,
		AuthorName:   author,
		Text:         text,
		CreatedAt:    created.UTC(),
		HasMedia:     len(item.Enclosures) > 0 || imageTagRe.MatchString(item.Description),
		IsRetweet:    isRetweet,
	}
}

// ItemID returns the post id of a feed item. Status ids are taken from the
// item link or GUID; otherwise a SHA-256 hash of title+link is used.
func ItemID(item *gofeed.Item) string {
	for _, s := range []string{item.Link, item.GUID} {
		if m := statusIDRe.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// itemAuthor returns the post author of a bridged item. gofeed reads a
// dc:creator such as "@SpaceX" as an email address, so the Dublin Core
// creator is consulted before the parsed author email.
func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if item.DublinCoreExt != nil {
		for _, c := range item.DublinCoreExt.Creator {
			if c = strings.TrimSpace(c); c != "" {
				return c
			}
		}
	}
	if item.Author != nil && item.Author.Email != "" {
		return item.Author.Email
	}
	return ""
}
