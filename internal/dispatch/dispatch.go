// Package dispatch decides whether a post triggers a notification and
// formats the outgoing message.
package dispatch

import (
	"fmt"
	"strings"

	"postwatch/internal/model"
)

// MediaLabel annotates notifications fired only by the media signal.
const MediaLabel = "media"

// DefaultStatusBaseURL is the permalink prefix used when none is configured.
const DefaultStatusBaseURL = "https://twitter.com"

// Signal names the reason a notification fired. The first signal in
// priority order is reported.
type Signal string

// Signals in priority order.
const (
	SignalNone   Signal = ""
	SignalPost   Signal = "post"
	SignalParent Signal = "parent"
	SignalAlways Signal = "always"
	SignalMedia  Signal = "media"
	SignalEmpty  Signal = "empty_triggers"
)

// Input carries everything the policy needs for one post.
type Input struct {
	Account   model.Account
	Post      model.Post
	PostMatch model.MatchResult

	// Parent is nil when the post is not a reply, replies are disabled for
	// the account, or the parent could not be fetched.
	Parent      *model.Post
	ParentMatch model.MatchResult
	// ParentSeen reports whether the parent id is already in the seen store.
	ParentSeen bool

	// EmptyTriggersMatchAll makes an account without triggers match every
	// admitted post.
	EmptyTriggersMatchAll bool
}

// Decision is the outcome of Decide.
type Decision struct {
	Notify  bool
	Signal  Signal
	Term    string
	Message string
	// QuotesParent reports whether the parent excerpt was included.
	QuotesParent bool
}

// Policy formats messages for decided posts.
type Policy struct {
	statusBaseURL string
}

// New creates a Policy using baseURL as the permalink prefix.
func New(baseURL string) *Policy {
	if baseURL == "" {
		baseURL = DefaultStatusBaseURL
	}
	return &Policy{statusBaseURL: strings.TrimRight(baseURL, "/")}
}

// Decide combines the independent match signals of a post. Any signal is
// enough to notify.
func (p *Policy) Decide(in Input) Decision {
	media := in.Account.MediaOnly && in.Post.HasMedia
	parentMatched := in.Parent != nil && in.ParentMatch.Matched
	empty := in.EmptyTriggersMatchAll && in.Account.Triggers.Empty()

	var d Decision
	switch {
	case in.PostMatch.Matched:
		d.Signal = SignalPost
	case parentMatched:
		d.Signal = SignalParent
	case in.Account.AlwaysNotify:
		d.Signal = SignalAlways
	case media:
		d.Signal = SignalMedia
	case empty:
		d.Signal = SignalEmpty
	default:
		return d
	}
	d.Notify = true

	switch {
	case in.PostMatch.Matched && in.PostMatch.Term != "":
		d.Term = in.PostMatch.Term
	case parentMatched && in.ParentMatch.Term != "":
		d.Term = in.ParentMatch.Term
	case media:
		d.Term = MediaLabel
	}

	d.QuotesParent = parentMatched && !in.ParentSeen
	d.Message = p.format(in, d)
	return d
}

// StatusURL returns the permalink of a post by handle.
func (p *Policy) StatusURL(handle, postID string) string {
	return fmt.Sprintf("%s/%s/status/%s", p.statusBaseURL, strings.TrimPrefix(handle, "@"), postID)
}

func (p *Policy) format(in Input, d Decision) string {
	var b strings.Builder
	if d.QuotesParent {
		b.WriteString(FormatExcerpt(*in.Parent))
	}
	b.WriteString(p.StatusURL(in.Account.Handle, in.Post.ID))
	if d.Term != "" {
		fmt.Fprintf(&b, " __**%s**__", d.Term)
	}
	return b.String()
}

// FormatExcerpt renders a quoted parent post placed above a reply link.
func FormatExcerpt(parent model.Post) string {
	author := parent.AuthorName
	if author == "" {
		author = parent.AuthorHandle
	}
	return fmt.Sprintf("`• %s •`\n%s\n|\n|\n|\n", author, parent.Text)
}
