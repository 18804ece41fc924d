package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/google/go-cmp/cmp"

	"postwatch/internal/config"
	"postwatch/internal/filter"
	"postwatch/internal/model"
	"postwatch/internal/normalize"
	"postwatch/internal/notify"
	"postwatch/internal/source"
	"postwatch/internal/storage"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// --- mocks ---

type fakeSource struct {
	mu        sync.Mutex
	timelines map[string][]model.Post
	listErr   map[string]error
	parents   map[string]model.Post
	parentErr error
	queries   []source.Query
}

func (f *fakeSource) ListRecent(_ context.Context, q source.Query) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.listErr[q.Handle]; err != nil {
		return nil, err
	}
	posts := make([]model.Post, len(f.timelines[q.Handle]))
	copy(posts, f.timelines[q.Handle])
	return posts, nil
}

func (f *fakeSource) GetPost(_ context.Context, id string) (model.Post, error) {
	if f.parentErr != nil {
		return model.Post{}, f.parentErr
	}
	p, ok := f.parents[id]
	if !ok {
		return model.Post{}, source.ErrNotFound
	}
	return p, nil
}

func (f *fakeSource) handles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, q := range f.queries {
		out = append(out, q.Handle)
	}
	return out
}

type mockNotifier struct {
	mu    sync.Mutex
	msgs  []notify.Message
	err   error
	calls int
}

func (m *mockNotifier) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mockNotifier) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.msgs {
		out = append(out, msg.Text)
	}
	return out
}

type fakeProber struct{ err error }

func (p fakeProber) Check(_ context.Context) error { return p.err }

// wordNormalizer lowercases and splits on anything but letters and digits.
type wordNormalizer struct{}

func (wordNormalizer) Normalize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// --- helpers ---

func watch(acct model.Account) config.Watch {
	return config.Watch{Account: acct, Matcher: filter.MustCompile(acct.Triggers)}
}

func elon(triggers ...string) model.Account {
	return model.Account{Handle: "elonmusk", Name: "Elon Musk", Triggers: model.NewTriggerSet(triggers...)}
}

func post(id, text string, age time.Duration) model.Post {
	return model.Post{
		ID:           id,
		AuthorHandle: "elonmusk",
		AuthorName:   "Elon Musk",
		Text:         text,
		CreatedAt:    testNow.Add(-age),
	}
}

type fixture struct {
	scanner  *Scanner
	source   *fakeSource
	store    *storage.Memory
	notifier *mockNotifier
}

func newFixture(t *testing.T, watches []config.Watch, src *fakeSource, opts Options) *fixture {
	t.Helper()
	store := storage.NewMemory()
	n := &mockNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScanner(watches, src, store, n, fakeProber{}, wordNormalizer{}, log, opts)
	s.SetClock(func() time.Time { return testNow })
	return &fixture{scanner: s, source: src, store: store, notifier: n}
}

func mustContain(t *testing.T, store storage.SeenStore, id string, want bool) {
	t.Helper()
	got, err := store.Contains(context.Background(), id)
	if err != nil {
		t.Fatalf("contains %s: %v", id, err)
	}
	if got != want {
		t.Errorf("Contains(%s) = %v, want %v", id, got, want)
	}
}

// --- tests ---

func TestScannerMatchesLemmatizedPost(t *testing.T) {
	norm, err := normalize.Default()
	if err != nil {
		t.Fatalf("default normalizer: %v", err)
	}
	src := &fakeSource{timelines: map[string][]model.Post{
		"elonmusk": {post("1", "Starship static fire test tonight", 10*time.Minute)},
	}}
	store := storage.NewMemory()
	n := &mockNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScanner([]config.Watch{watch(elon("starship"))}, src, store, n, nil, norm, log, Options{})
	s.SetClock(func() time.Time { return testNow })

	stats := s.RunCycle(context.Background())

	want := []notify.Message{{
		Text:     "https://twitter.com/elonmusk/status/1 __**starship**__",
		Username: "Elon Musk",
	}}
	if diff := cmp.Diff(want, n.msgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(CycleStats{Accounts: 1, Evaluated: 1, Notified: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	mustContain(t, store, "1", true)
}

func TestScannerDecisions(t *testing.T) {
	tests := []struct {
		name      string
		account   model.Account
		posts     []model.Post
		opts      Options
		wantTexts []string
		wantSeen  map[string]bool
	}{
		{
			name:     "no matching token",
			account:  elon("starship"),
			posts:    []model.Post{post("1", "Weather is nice today", time.Minute)},
			wantSeen: map[string]bool{"1": false},
		},
		{
			name:     "older than max age",
			account:  elon("starship"),
			posts:    []model.Post{post("1", "Starship launch", time.Hour+time.Second)},
			wantSeen: map[string]bool{"1": false},
		},
		{
			name:      "exactly max age is admitted",
			account:   elon("starship"),
			posts:     []model.Post{post("1", "Starship launch", time.Hour)},
			wantTexts: []string{"https://twitter.com/elonmusk/status/1 __**starship**__"},
			wantSeen:  map[string]bool{"1": true},
		},
		{
			name:     "configured max age",
			account:  elon("starship"),
			posts:    []model.Post{post("1", "Starship launch", 31*time.Minute)},
			opts:     Options{MaxPostAge: 30 * time.Minute},
			wantSeen: map[string]bool{"1": false},
		},
		{
			name:      "prefix anchored pattern",
			account:   elon(`sn\d+`),
			posts:     []model.Post{post("1", "SN11 is go", time.Minute), post("2", "snazzy jacket", 2*time.Minute)},
			wantTexts: []string{"https://twitter.com/elonmusk/status/1 __**sn11**__"},
			wantSeen:  map[string]bool{"1": true, "2": false},
		},
		{
			name:      "posts dispatched oldest first",
			account:   elon("starship"),
			posts:     []model.Post{post("new", "Starship again", time.Minute), post("old", "Starship first", 20*time.Minute)},
			wantTexts: []string{"https://twitter.com/elonmusk/status/old __**starship**__", "https://twitter.com/elonmusk/status/new __**starship**__"},
		},
		{
			name: "always notify",
			account: model.Account{
				Handle: "elonmusk", Triggers: model.NewTriggerSet("starship"), AlwaysNotify: true,
			},
			posts:     []model.Post{post("1", "Weather is nice today", time.Minute)},
			wantTexts: []string{"https://twitter.com/elonmusk/status/1"},
		},
		{
			name:    "media only with media",
			account: model.Account{Handle: "elonmusk", MediaOnly: true},
			posts: []model.Post{
				{ID: "1", Text: "look", CreatedAt: testNow.Add(-time.Minute), HasMedia: true},
				{ID: "2", Text: "no pictures", CreatedAt: testNow.Add(-2 * time.Minute)},
			},
			wantTexts: []string{"https://twitter.com/elonmusk/status/1 __**media**__"},
			wantSeen:  map[string]bool{"1": true, "2": false},
		},
		{
			name:     "empty triggers match nothing by default",
			account:  elon(),
			posts:    []model.Post{post("1", "anything at all", time.Minute)},
			wantSeen: map[string]bool{"1": false},
		},
		{
			name:      "empty triggers match all when enabled",
			account:   elon(),
			posts:     []model.Post{post("1", "anything at all", time.Minute)},
			opts:      Options{EmptyTriggersMatchAll: true},
			wantTexts: []string{"https://twitter.com/elonmusk/status/1"},
			wantSeen:  map[string]bool{"1": true},
		},
		{
			name:     "match all does not apply to accounts with triggers",
			account:  elon("starship"),
			posts:    []model.Post{post("1", "anything at all", time.Minute)},
			opts:     Options{EmptyTriggersMatchAll: true},
			wantSeen: map[string]bool{"1": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{timelines: map[string][]model.Post{"elonmusk": tt.posts}}
			f := newFixture(t, []config.Watch{watch(tt.account)}, src, tt.opts)

			f.scanner.RunCycle(context.Background())

			if diff := cmp.Diff(tt.wantTexts, f.notifier.texts()); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
			for id, want := range tt.wantSeen {
				mustContain(t, f.store, id, want)
			}
		})
	}
}

func TestScannerSkipsSeenPosts(t *testing.T) {
	src := &fakeSource{timelines: map[string][]model.Post{
		"elonmusk": {post("1", "Starship launch", time.Minute)},
	}}
	f := newFixture(t, []config.Watch{watch(elon("starship"))}, src, Options{})

	f.scanner.RunCycle(context.Background())
	f.scanner.RunCycle(context.Background())

	if diff := cmp.Diff(1, len(f.notifier.msgs)); diff != "" {
		t.Errorf("message count mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerSkipsPostsSeenBeforeCycle(t *testing.T) {
	src := &fakeSource{timelines: map[string][]model.Post{
		"elonmusk": {post("1", "Starship launch", time.Minute)},
	}}
	f := newFixture(t, []config.Watch{watch(elon("starship"))}, src, Options{})
	if err := f.store.Insert(context.Background(), "1", testNow.Add(time.Minute)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats := f.scanner.RunCycle(context.Background())

	if len(f.notifier.msgs) != 0 {
		t.Errorf("expected no messages, got %v", f.notifier.texts())
	}
	if diff := cmp.Diff(0, stats.Evaluated); diff != "" {
		t.Errorf("evaluated mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerExpiresSeenAtCycleStart(t *testing.T) {
	src := &fakeSource{timelines: map[string][]model.Post{
		"elonmusk": {post("1", "Starship launch", time.Minute)},
	}}
	f := newFixture(t, []config.Watch{watch(elon("starship"))}, src, Options{})
	if err := f.store.Insert(context.Background(), "1", testNow.Add(-time.Second)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	f.scanner.RunCycle(context.Background())

	if diff := cmp.Diff(1, len(f.notifier.msgs)); diff != "" {
		t.Errorf("message count mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerQuotesParentOnce(t *testing.T) {
	acct := elon("raptor")
	acct.IncludeReplies = true
	parent := model.Post{
		ID:           "900",
		AuthorHandle: "bocachicagal",
		AuthorName:   "Mary",
		Text:         "Raptor engine test",
		CreatedAt:    testNow.Add(-3 * time.Hour),
	}
	reply := post("1", "Nice", 10*time.Minute)
	reply.ParentID = "900"

	src := &fakeSource{
		timelines: map[string][]model.Post{"elonmusk": {reply}},
		parents:   map[string]model.Post{"900": parent},
	}
	f := newFixture(t, []config.Watch{watch(acct)}, src, Options{})

	f.scanner.RunCycle(context.Background())

	second := post("2", "Agreed", 5*time.Minute)
	second.ParentID = "900"
	src.timelines["elonmusk"] = []model.Post{reply, second}
	f.scanner.RunCycle(context.Background())

	want := []string{
		"`• Mary •`\nRaptor engine test\n|\n|\n|\nhttps://twitter.com/elonmusk/status/1 __**raptor**__",
		"https://twitter.com/elonmusk/status/2 __**raptor**__",
	}
	if diff := cmp.Diff(want, f.notifier.texts()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	mustContain(t, f.store, "1", true)
	mustContain(t, f.store, "2", true)
	mustContain(t, f.store, "900", false)
	mustContain(t, f.store, storage.QuotedKey("900"), true)
}

func TestScannerQuotedParentStillNotifiesItsOwnAccount(t *testing.T) {
	acct := elon("raptor")
	acct.IncludeReplies = true
	spacex := model.Account{Handle: "SpaceX", Name: "SpaceX", Triggers: model.NewTriggerSet("raptor")}
	parent := model.Post{
		ID:           "900",
		AuthorHandle: "SpaceX",
		AuthorName:   "SpaceX",
		Text:         "Raptor engine test",
		CreatedAt:    testNow.Add(-20 * time.Minute),
	}
	reply := post("1", "Nice", 10*time.Minute)
	reply.ParentID = "900"

	src := &fakeSource{
		timelines: map[string][]model.Post{
			"elonmusk": {reply},
			"SpaceX":   {parent},
		},
		parents: map[string]model.Post{"900": parent},
	}
	f := newFixture(t, []config.Watch{watch(acct), watch(spacex)}, src, Options{})

	stats := f.scanner.RunCycle(context.Background())

	want := []string{
		"`• SpaceX •`\nRaptor engine test\n|\n|\n|\nhttps://twitter.com/elonmusk/status/1 __**raptor**__",
		"https://twitter.com/SpaceX/status/900 __**raptor**__",
	}
	if diff := cmp.Diff(want, f.notifier.texts()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, stats.Notified); diff != "" {
		t.Errorf("notified mismatch (-want +got):\n%s", diff)
	}
	mustContain(t, f.store, "900", true)
}

func TestScannerDoesNotQuoteDispatchedParent(t *testing.T) {
	acct := elon("raptor")
	acct.IncludeReplies = true
	parent := model.Post{ID: "900", AuthorName: "SpaceX", Text: "Raptor engine test", CreatedAt: testNow.Add(-time.Hour)}
	reply := post("1", "Nice", time.Minute)
	reply.ParentID = "900"

	src := &fakeSource{
		timelines: map[string][]model.Post{"elonmusk": {reply}},
		parents:   map[string]model.Post{"900": parent},
	}
	f := newFixture(t, []config.Watch{watch(acct)}, src, Options{})
	if err := f.store.Insert(context.Background(), "900", testNow.Add(time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	f.scanner.RunCycle(context.Background())

	want := []string{"https://twitter.com/elonmusk/status/1 __**raptor**__"}
	if diff := cmp.Diff(want, f.notifier.texts()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerMatchesHashtag(t *testing.T) {
	norm, err := normalize.Default()
	if err != nil {
		t.Fatalf("default normalizer: %v", err)
	}
	src := &fakeSource{timelines: map[string][]model.Post{
		"elonmusk": {post("1", "Static fire for #Starship tonight", time.Minute)},
	}}
	n := &mockNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScanner([]config.Watch{watch(elon("starship"))}, src, storage.NewMemory(), n, nil, norm, log, Options{})
	s.SetClock(func() time.Time { return testNow })

	s.RunCycle(context.Background())

	want := []string{"https://twitter.com/elonmusk/status/1 __**starship**__"}
	if diff := cmp.Diff(want, n.texts()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerIgnoresParentWhenRepliesDisabled(t *testing.T) {
	reply := post("1", "Nice", time.Minute)
	reply.ParentID = "900"
	src := &fakeSource{
		timelines: map[string][]model.Post{"elonmusk": {reply}},
		parents:   map[string]model.Post{"900": {ID: "900", Text: "Raptor engine test"}},
	}
	f := newFixture(t, []config.Watch{watch(elon("raptor"))}, src, Options{})

	f.scanner.RunCycle(context.Background())

	if len(f.notifier.msgs) != 0 {
		t.Errorf("expected no messages, got %v", f.notifier.texts())
	}
}

func TestScannerParentFetchFailure(t *testing.T) {
	acct := elon("starship")
	acct.IncludeReplies = true
	ownMatch := post("1", "Starship", 2*time.Minute)
	ownMatch.ParentID = "900"
	noMatch := post("2", "Nice", time.Minute)
	noMatch.ParentID = "901"

	for _, parentErr := range []error{errors.New("connection reset"), source.ErrNotFound} {
		t.Run(parentErr.Error(), func(t *testing.T) {
			src := &fakeSource{
				timelines: map[string][]model.Post{"elonmusk": {ownMatch, noMatch}},
				parentErr: parentErr,
			}
			f := newFixture(t, []config.Watch{watch(acct)}, src, Options{})

			f.scanner.RunCycle(context.Background())

			want := []string{"https://twitter.com/elonmusk/status/1 __**starship**__"}
			if diff := cmp.Diff(want, f.notifier.texts()); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScannerAccountFailureDoesNotAbortOthers(t *testing.T) {
	spacex := model.Account{Handle: "SpaceX", Triggers: model.NewTriggerSet("starship")}
	src := &fakeSource{
		timelines: map[string][]model.Post{
			"SpaceX": {{ID: "7", Text: "Starship stacked", CreatedAt: testNow.Add(-time.Minute)}},
		},
		listErr: map[string]error{"elonmusk": errors.New("rate limited")},
	}
	f := newFixture(t, []config.Watch{watch(elon("starship")), watch(spacex)}, src, Options{})

	stats := f.scanner.RunCycle(context.Background())

	want := []string{"https://twitter.com/SpaceX/status/7 __**starship**__"}
	if diff := cmp.Diff(want, f.notifier.texts()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(CycleStats{Accounts: 1, Evaluated: 1, Notified: 1, Errors: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerNotifyFailureKeepsSeenRecord(t *testing.T) {
	src := &fakeSource{timelines: map[string][]model.Post{
		"elonmusk": {post("1", "Starship launch", time.Minute)},
	}}
	f := newFixture(t, []config.Watch{watch(elon("starship"))}, src, Options{})
	f.notifier.err = errors.New("webhook down")

	stats := f.scanner.RunCycle(context.Background())
	f.scanner.RunCycle(context.Background())

	if diff := cmp.Diff(CycleStats{Accounts: 1, Evaluated: 1, Errors: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	mustContain(t, f.store, "1", true)
	if diff := cmp.Diff(1, f.notifier.calls); diff != "" {
		t.Errorf("send calls mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerProbeFailureSkipsCycle(t *testing.T) {
	src := &fakeSource{timelines: map[string][]model.Post{
		"elonmusk": {post("1", "Starship launch", time.Minute)},
	}}
	f := newFixture(t, []config.Watch{watch(elon("starship"))}, src, Options{})
	f.scanner.prober = fakeProber{err: errors.New("no route to host")}
	if err := f.store.Insert(context.Background(), "old", testNow.Add(-time.Hour)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stats := f.scanner.RunCycle(context.Background())

	if !stats.Skipped {
		t.Error("expected skipped cycle")
	}
	if len(f.source.handles()) != 0 {
		t.Errorf("expected no timeline reads, got %v", f.source.handles())
	}
	if diff := cmp.Diff(1, f.store.Len()); diff != "" {
		t.Errorf("seen store size mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerQueryFlags(t *testing.T) {
	acct := elon("starship")
	acct.IncludeReplies = true
	acct.IncludeRetweets = true
	src := &fakeSource{}
	f := newFixture(t, []config.Watch{watch(acct), watch(model.Account{Handle: "SpaceX"})}, src, Options{TimelineLimit: 50})

	f.scanner.RunCycle(context.Background())

	want := []source.Query{
		{Handle: "elonmusk", IncludeRetweets: true, IncludeReplies: true, Limit: 50},
		{Handle: "SpaceX", Limit: 50},
	}
	if diff := cmp.Diff(want, src.queries); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestScannerCancelledContext(t *testing.T) {
	src := &fakeSource{}
	f := newFixture(t, []config.Watch{watch(elon("starship"))}, src, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.scanner.RunCycle(ctx)

	if len(src.handles()) != 0 {
		t.Errorf("expected no timeline reads, got %v", src.handles())
	}
}
