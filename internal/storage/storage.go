// Package storage defines the seen-post store and its implementations.
package storage

import (
	"context"
	"time"
)

// SeenStore records posts that have already been dispatched.
//
// An id present in the store must never be dispatched again. Entries carry
// an expiry and stay visible to Contains until Expire removes them.
type SeenStore interface {
	Contains(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, id string, expiresAt time.Time) error
	Expire(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// QuotedKey is the store key recording that a post was quoted as the parent
// of a dispatched reply. It never collides with a post id, so quoting a post
// does not mark the post itself as dispatched.
func QuotedKey(postID string) string {
	return "quoted:" + postID
}
