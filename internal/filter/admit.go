package filter

import (
	"context"
	"fmt"
	"time"

	"postwatch/internal/model"
)

// DefaultMaxAge is the lookback window used when none is configured.
const DefaultMaxAge = time.Hour

// SeenChecker reports whether a post has already been dispatched.
type SeenChecker interface {
	Contains(ctx context.Context, id string) (bool, error)
}

// SkipReason explains why a post was not admitted.
type SkipReason string

// Skip reasons.
const (
	SkipNone   SkipReason = ""
	SkipSeen   SkipReason = "seen"
	SkipTooOld SkipReason = "too_old"
)

// Admission is the outcome of Admit.
type Admission struct {
	Evaluate bool
	Reason   SkipReason
	Age      time.Duration
}

// Admit decides whether a post should be evaluated. Posts older than maxAge
// and posts already present in seen are skipped. Ages are computed in UTC.
func Admit(ctx context.Context, post model.Post, seen SeenChecker, now time.Time, maxAge time.Duration) (Admission, error) {
	age := now.UTC().Sub(post.CreatedAt.UTC())
	if age > maxAge {
		return Admission{Reason: SkipTooOld, Age: age}, nil
	}

	ok, err := seen.Contains(ctx, post.ID)
	if err != nil {
		return Admission{Age: age}, fmt.Errorf("check seen %s: %w", post.ID, err)
	}
	if ok {
		return Admission{Reason: SkipSeen, Age: age}, nil
	}
	return Admission{Evaluate: true, Age: age}, nil
}

// WantsParent reports whether the parent of post should be fetched and
// evaluated for account.
func WantsParent(account model.Account, post model.Post) bool {
	return account.IncludeReplies && post.IsReply()
}
