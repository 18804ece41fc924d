// Package source provides PostSource implementations.
package source

import (
	"context"
	"errors"
	"net/http"

	"postwatch/internal/model"
)

// ErrNotFound is returned by GetPost when the post does not exist or is not
// visible to the source.
var ErrNotFound = errors.New("post not found")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Query selects recent posts of one account.
type Query struct {
	Handle          string
	IncludeRetweets bool
	IncludeReplies  bool
	Limit           int
}

// PostSource reads posts of tracked accounts.
type PostSource interface {
	ListRecent(ctx context.Context, q Query) ([]model.Post, error)
	GetPost(ctx context.Context, id string) (model.Post, error)
}
