// Package filter implements trigger matching and post admission.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"postwatch/internal/model"
)

// Matcher matches lemma tokens against a compiled TriggerSet.
type Matcher struct {
	triggers    model.TriggerSet
	alternation *regexp.Regexp
	patterns    []*regexp.Regexp
}

// Compile validates and compiles every pattern of the set. Each pattern is
// anchored at the start of a token, so it matches token prefixes.
//
// Patterns are matched case-insensitively. Tokens are lowercase lemmas, so
// a pattern written as SN\d+ still matches "sn11".
func Compile(triggers model.TriggerSet) (*Matcher, error) {
	m := &Matcher{triggers: triggers}
	if triggers.Empty() {
		return m, nil
	}

	wrapped := make([]string, 0, len(triggers))
	for _, p := range triggers {
		re, err := compileAnchored(p)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
		wrapped = append(wrapped, "(?:"+p+")")
	}

	alt, err := compileAnchored(strings.Join(wrapped, "|"))
	if err != nil {
		return nil, fmt.Errorf("trigger alternation: %w", err)
	}
	m.alternation = alt
	return m, nil
}

// MustCompile is like Compile but panics on an invalid pattern.
func MustCompile(triggers model.TriggerSet) *Matcher {
	m, err := Compile(triggers)
	if err != nil {
		panic(err)
	}
	return m
}

// Triggers returns the patterns the matcher was compiled from.
func (m *Matcher) Triggers() model.TriggerSet {
	return m.triggers
}

// Empty reports whether the matcher has no patterns. An empty matcher never
// matches; callers decide what an empty set means for an account.
func (m *Matcher) Empty() bool {
	return m.alternation == nil
}

// Match returns the first token matched by the trigger alternation.
// Tokens are tried in order; within a token the alternation prefers the
// earliest declared pattern.
func (m *Matcher) Match(tokens []string) model.MatchResult {
	if m.Empty() {
		return model.MatchResult{}
	}
	for _, tok := range tokens {
		term := m.alternation.FindString(tok)
		if term == "" && !m.alternation.MatchString(tok) {
			continue
		}
		return model.MatchResult{
			Matched: true,
			Term:    term,
			Pattern: m.patternFor(tok),
		}
	}
	return model.MatchResult{}
}

func (m *Matcher) patternFor(token string) string {
	for i, re := range m.patterns {
		if re.MatchString(token) {
			return m.triggers[i]
		}
	}
	return ""
}

func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?i:" + pattern + ")")
}

// ValidateRegex checks whether a pattern is a valid trigger expression.
func ValidateRegex(pattern string) error {
	if _, err := compileAnchored(pattern); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
