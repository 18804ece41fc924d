package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"postwatch/internal/config"
	"postwatch/internal/dispatch"
	"postwatch/internal/filter"
	"postwatch/internal/metrics"
	"postwatch/internal/model"
	"postwatch/internal/notify"
	"postwatch/internal/source"
	"postwatch/internal/storage"
)

// Normalizer turns post text into lemma tokens.
type Normalizer interface {
	Normalize(text string) []string
}

// Prober checks connectivity before a cycle.
type Prober interface {
	Check(ctx context.Context) error
}

// Options tune a Scanner.
type Options struct {
	MaxPostAge            time.Duration
	TimelineLimit         int
	StatusBaseURL         string
	EmptyTriggersMatchAll bool
}

// CycleStats summarizes one scan cycle.
type CycleStats struct {
	Skipped   bool
	Accounts  int
	Evaluated int
	Notified  int
	Errors    int
}

// Scanner runs scan cycles over the watched accounts.
type Scanner struct {
	watches  []config.Watch
	source   source.PostSource
	seen     storage.SeenStore
	notifier notify.Notifier
	prober   Prober
	norm     Normalizer
	policy   *dispatch.Policy
	log      *slog.Logger
	now      func() time.Time
	opts     Options
}

// NewScanner creates a Scanner. prober may be nil to skip the connectivity
// check.
func NewScanner(
	watches []config.Watch,
	src source.PostSource,
	seen storage.SeenStore,
	notifier notify.Notifier,
	prober Prober,
	norm Normalizer,
	log *slog.Logger,
	opts Options,
) *Scanner {
	if opts.MaxPostAge <= 0 {
		opts.MaxPostAge = filter.DefaultMaxAge
	}
	if opts.TimelineLimit <= 0 {
		opts.TimelineLimit = 20
	}
	return &Scanner{
		watches:  watches,
		source:   src,
		seen:     seen,
		notifier: notifier,
		prober:   prober,
		norm:     norm,
		policy:   dispatch.New(opts.StatusBaseURL),
		log:      log,
		now:      time.Now,
		opts:     opts,
	}
}

// SetClock overrides the clock (useful for testing).
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// RunCycle performs one scan over all accounts. It stops between accounts
// when ctx is cancelled.
func (s *Scanner) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	log := s.log.With("cycle_id", uuid.NewString())
	metrics.Cycles.Inc()
	defer metrics.ObserveCycleDuration(start)

	var stats CycleStats
	if s.prober != nil {
		if err := s.prober.Check(ctx); err != nil {
			log.Error("no connection, skipping cycle", "error", err)
			metrics.CyclesSkipped.Inc()
			stats.Skipped = true
			return stats
		}
	}

	if n, err := s.seen.Expire(ctx, s.now()); err != nil {
		log.Error("expire seen posts", "error", err)
		stats.Errors++
	} else if n > 0 {
		log.Debug("expired seen posts", "count", n)
	}

	for _, w := range s.watches {
		if ctx.Err() != nil {
			log.Info("cycle interrupted", "error", ctx.Err())
			return stats
		}
		s.scanAccount(ctx, log, w, &stats)
	}

	log.Debug("completed scan", "accounts", stats.Accounts, "evaluated", stats.Evaluated, "notified", stats.Notified)
	return stats
}

func (s *Scanner) scanAccount(ctx context.Context, log *slog.Logger, w config.Watch, stats *CycleStats) {
	acct := w.Account
	log = log.With("account", acct.Handle)

	posts, err := s.source.ListRecent(ctx, source.Query{
		Handle:          acct.Handle,
		IncludeRetweets: acct.IncludeRetweets,
		IncludeReplies:  acct.IncludeReplies,
		Limit:           s.opts.TimelineLimit,
	})
	if err != nil {
		log.Error("read timeline", "error", err)
		metrics.FetchErrors.WithLabelValues("list").Inc()
		stats.Errors++
		return
	}
	stats.Accounts++

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.Before(posts[j].CreatedAt)
	})

	for _, post := range posts {
		s.processPost(ctx, log, w, post, stats)
	}
}

func (s *Scanner) processPost(ctx context.Context, log *slog.Logger, w config.Watch, post model.Post, stats *CycleStats) {
	now := s.now()
	log = log.With("post_id", post.ID)

	adm, err := filter.Admit(ctx, post, s.seen, now, s.opts.MaxPostAge)
	if err != nil {
		log.Error("admit post", "error", err)
		stats.Errors++
		return
	}
	if !adm.Evaluate {
		metrics.PostsEvaluated.WithLabelValues(string(adm.Reason)).Inc()
		return
	}
	metrics.PostsEvaluated.WithLabelValues("evaluated").Inc()
	stats.Evaluated++

	in := dispatch.Input{
		Account:               w.Account,
		Post:                  post,
		PostMatch:             w.Matcher.Match(s.norm.Normalize(post.Text)),
		EmptyTriggersMatchAll: s.opts.EmptyTriggersMatchAll,
	}
	if filter.WantsParent(w.Account, post) {
		s.resolveParent(ctx, log, w, post.ParentID, &in)
	}

	d := s.policy.Decide(in)
	if !d.Notify {
		return
	}

	msg := notify.Message{Text: d.Message, Username: post.AuthorName}
	if err := s.notifier.Send(ctx, msg); err != nil {
		log.Error("send notification", "error", err)
		metrics.NotifyErrors.Inc()
		stats.Errors++
	} else {
		metrics.Notifications.WithLabelValues(string(d.Signal)).Inc()
		stats.Notified++
	}

	expiresAt := now.Add(s.opts.MaxPostAge)
	if err := s.seen.Insert(ctx, post.ID, expiresAt); err != nil {
		log.Error("record seen post", "error", err)
		stats.Errors++
	}
	if d.QuotesParent {
		if err := s.seen.Insert(ctx, storage.QuotedKey(in.Parent.ID), expiresAt); err != nil {
			log.Error("record seen parent", "parent_id", in.Parent.ID, "error", err)
			stats.Errors++
		}
	}

	log.Info("trigger",
		"post_term", in.PostMatch.Term,
		"parent_term", in.ParentMatch.Term,
		"media_match", w.Account.MediaOnly && post.HasMedia,
		"signal", d.Signal,
		"post_age", adm.Age.Round(time.Second),
	)
}

// resolveParent fills in the parent post of a reply. A failed fetch leaves
// the input without a parent.
func (s *Scanner) resolveParent(ctx context.Context, log *slog.Logger, w config.Watch, parentID string, in *dispatch.Input) {
	parent, err := s.source.GetPost(ctx, parentID)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			log.Debug("parent post missing", "parent_id", parentID)
		} else {
			log.Warn("fetch parent post", "parent_id", parentID, "error", err)
			metrics.FetchErrors.WithLabelValues("parent").Inc()
		}
		return
	}

	in.Parent = &parent
	in.ParentMatch = w.Matcher.Match(s.norm.Normalize(parent.Text))

	seen, err := s.parentSeen(ctx, parent.ID)
	if err != nil {
		log.Error("check seen parent", "parent_id", parent.ID, "error", err)
		// Without a seen answer the excerpt is left out.
		seen = true
	}
	in.ParentSeen = seen
}

// parentSeen reports whether the parent was already dispatched on its own or
// already quoted by an earlier reply.
func (s *Scanner) parentSeen(ctx context.Context, parentID string) (bool, error) {
	for _, key := range []string{parentID, storage.QuotedKey(parentID)} {
		ok, err := s.seen.Contains(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
