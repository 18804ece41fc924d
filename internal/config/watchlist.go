package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"postwatch/internal/filter"
	"postwatch/internal/model"
)

// Watchlist is the on-disk watch-list document.
type Watchlist struct {
	Vocabularies map[string][]string `yaml:"vocabularies"`
	Accounts     []AccountEntry      `yaml:"accounts"`
}

// AccountEntry is one tracked account in the watch list.
type AccountEntry struct {
	Handle       string   `yaml:"handle"`
	Name         string   `yaml:"name"`
	Bio          string   `yaml:"bio"`
	Vocabularies []string `yaml:"vocabularies"`
	Triggers     []string `yaml:"triggers"`
	Replies      bool     `yaml:"replies"`
	Retweets     bool     `yaml:"retweets"`
	Media        bool     `yaml:"media"`
	AlwaysNotify bool     `yaml:"always_notify"`
}

// Watch pairs an account with its compiled trigger matcher.
type Watch struct {
	Account model.Account
	Matcher *filter.Matcher
}

// LoadWatchlist reads and compiles the watch list at path.
func LoadWatchlist(path string) ([]Watch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	watches, err := ParseWatchlist(data)
	if err != nil {
		return nil, fmt.Errorf("watchlist %s: %w", path, err)
	}
	return watches, nil
}

// ParseWatchlist decodes a watch-list document and compiles every trigger
// set. A set is the union of the named vocabularies in declared order
// followed by the inline triggers. Unknown vocabularies, malformed patterns
// and duplicate handles are errors.
func ParseWatchlist(data []byte) ([]Watch, error) {
	var wl Watchlist
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wl); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(wl.Accounts))
	watches := make([]Watch, 0, len(wl.Accounts))

	for i, entry := range wl.Accounts {
		handle := strings.TrimPrefix(strings.TrimSpace(entry.Handle), "@")
		if handle == "" {
			errs = append(errs, fmt.Errorf("account #%d: handle is required", i+1))
			continue
		}
		key := strings.ToLower(handle)
		if seen[key] {
			errs = append(errs, fmt.Errorf("account %s: duplicate handle", handle))
			continue
		}
		seen[key] = true

		var triggers model.TriggerSet
		for _, name := range entry.Vocabularies {
			vocab, ok := wl.Vocabularies[name]
			if !ok {
				errs = append(errs, fmt.Errorf("account %s: unknown vocabulary %q", handle, name))
				continue
			}
			triggers = triggers.Union(vocab)
		}
		triggers = triggers.Union(entry.Triggers)

		m, err := filter.Compile(triggers)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", handle, err))
			continue
		}

		watches = append(watches, Watch{
			Account: model.Account{
				Handle:          handle,
				Name:            entry.Name,
				Bio:             entry.Bio,
				Triggers:        m.Triggers(),
				IncludeReplies:  entry.Replies,
				IncludeRetweets: entry.Retweets,
				MediaOnly:       entry.Media,
				AlwaysNotify:    entry.AlwaysNotify,
			},
			Matcher: m,
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return watches, nil
}
