// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// Account is a tracked social-media account and its notification rules.
type Account struct {
	Handle          string
	Name            string
	Bio             string
	Triggers        TriggerSet
	IncludeReplies  bool
	IncludeRetweets bool
	MediaOnly       bool
	AlwaysNotify    bool
}

// TriggerSet is an ordered collection of trigger patterns.
// Patterns are regular expressions matched at the start of a lemma token.
type TriggerSet []string

// NewTriggerSet builds a TriggerSet from patterns, dropping blanks and
// duplicates while keeping first-seen order.
func NewTriggerSet(patterns ...string) TriggerSet {
	return TriggerSet(nil).Union(patterns)
}

// Union returns a new set holding the patterns of s followed by the patterns
// of other that s does not already contain.
func (s TriggerSet) Union(other TriggerSet) TriggerSet {
	out := make(TriggerSet, 0, len(s)+len(other))
	seen := make(map[string]struct{}, len(s)+len(other))
	for _, set := range []TriggerSet{s, other} {
		for _, p := range set {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Empty reports whether the set has no patterns.
func (s TriggerSet) Empty() bool {
	return len(s) == 0
}

// Post is a single post fetched from a PostSource.
type Post struct {
	ID           string
	AuthorHandle string
	AuthorName   string
	Text         string
	CreatedAt    time.Time
	ParentID     string
	HasMedia     bool
	IsRetweet    bool
}

// IsReply reports whether the post replies to another post.
func (p Post) IsReply() bool {
	return p.ParentID != ""
}

// MatchResult describes the outcome of matching tokens against triggers.
type MatchResult struct {
	Matched bool
	// Term is the token text consumed by the matching pattern.
	Term string
	// Pattern is the declared trigger pattern that fired.
	Pattern string
}

// SeenPost tracks a post that has already been dispatched.
type SeenPost struct {
	ID        string
	ExpiresAt time.Time
}
