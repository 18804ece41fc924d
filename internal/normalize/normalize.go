// Package normalize turns raw post text into lowercase lemma tokens.
package normalize

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
	"github.com/jdkato/prose/v2"
)

// POS is a coarse part-of-speech class used to pick a lemma.
type POS int

// Supported part-of-speech classes.
const (
	Noun POS = iota
	Verb
	Adjective
	Adverb
)

// Token is a single tagged word.
type Token struct {
	Text string
	Tag  string
}

// Tagger splits text into part-of-speech tagged tokens.
type Tagger interface {
	Tag(text string) ([]Token, error)
}

// Dictionary returns the candidate lemmas of a lowercase word.
type Dictionary interface {
	Lemmas(word string) []string
}

// Normalizer converts text into a sequence of lowercase lemmas.
type Normalizer struct {
	tagger Tagger
	dict   Dictionary
}

// New creates a Normalizer from a tagger and a lemma dictionary.
func New(tagger Tagger, dict Dictionary) *Normalizer {
	return &Normalizer{tagger: tagger, dict: dict}
}

var (
	defaultOnce sync.Once
	defaultNorm *Normalizer
	defaultErr  error
)

// Default returns the process-wide English Normalizer backed by the prose
// tagger and the golem English dictionary. The dictionary is loaded once.
func Default() (*Normalizer, error) {
	defaultOnce.Do(func() {
		lem, err := golem.New(en.New())
		if err != nil {
			defaultErr = fmt.Errorf("load lemma dictionary: %w", err)
			return
		}
		defaultNorm = New(ProseTagger{}, GolemDictionary{lem: lem})
	})
	return defaultNorm, defaultErr
}

// Normalize tokenizes text and returns the lemma of every token in order.
// Tokens without letters are returned lowercased but otherwise unchanged.
func (n *Normalizer) Normalize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tokens, err := n.tagger.Tag(text)
	if err != nil {
		// Tagging only fails on internal model errors; fall back to plain
		// whitespace tokens tagged as nouns.
		tokens = fieldTokens(text)
	}
	tokens = splitMarkers(tokens)
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		word := strings.ToLower(tok.Text)
		if word == "" {
			continue
		}
		if !hasLetter(word) {
			out = append(out, word)
			continue
		}
		out = append(out, n.lemma(word, posForTag(tok.Tag)))
	}
	return out
}

func (n *Normalizer) lemma(word string, pos POS) string {
	candidates := n.dict.Lemmas(word)
	switch len(candidates) {
	case 0:
		return word
	case 1:
		return candidates[0]
	}

	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c] = struct{}{}
	}
	_, wordKnown := known[word]

	// The dictionary does not record part of speech, so a surface form is
	// only trusted as its own lemma outside verbs.
	var matches []string
	if wordKnown && pos != Verb {
		matches = append(matches, word)
	}
	for _, r := range detachRules[pos] {
		if !strings.HasSuffix(word, r.suffix) {
			continue
		}
		base := strings.TrimSuffix(word, r.suffix) + r.replace
		if _, ok := known[base]; ok {
			matches = append(matches, base)
		}
	}
	if len(matches) > 0 {
		return shortest(matches)
	}
	if wordKnown {
		return word
	}
	return shortest(candidates)
}

// shortest returns the shortest string, breaking ties lexically.
func shortest(words []string) string {
	sorted := append([]string(nil), words...)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) < len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	return sorted[0]
}

type rule struct {
	suffix  string
	replace string
}

// Inflection detachment rules per part of speech, tried in order.
var detachRules = map[POS][]rule{
	Noun: {
		{"s", ""}, {"ses", "s"}, {"ves", "f"}, {"xes", "x"}, {"zes", "z"},
		{"ches", "ch"}, {"shes", "sh"}, {"men", "man"}, {"ies", "y"},
	},
	Verb: {
		{"s", ""}, {"ies", "y"}, {"es", "e"}, {"es", ""},
		{"ed", "e"}, {"ed", ""}, {"ing", "e"}, {"ing", ""},
	},
	Adjective: {
		{"er", ""}, {"est", ""}, {"er", "e"}, {"est", "e"},
	},
	Adverb: nil,
}

// posForTag maps a Penn Treebank tag to a coarse class. Unknown tags are
// treated as nouns.
func posForTag(tag string) POS {
	if tag == "" {
		return Noun
	}
	switch unicode.ToUpper(rune(tag[0])) {
	case 'J':
		return Adjective
	case 'V':
		return Verb
	case 'R':
		return Adverb
	default:
		return Noun
	}
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// splitMarkers detaches leading hashtag and mention markers so "#Starship"
// becomes "#" followed by "Starship".
func splitMarkers(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, tok := range tokens {
		text := tok.Text
		for len(text) > 1 && (text[0] == '#' || text[0] == '@') {
			out = append(out, Token{Text: text[:1], Tag: text[:1]})
			text = text[1:]
		}
		if text != tok.Text {
			tok = Token{Text: text, Tag: "NN"}
		}
		out = append(out, tok)
	}
	return out
}

func fieldTokens(text string) []Token {
	fields := strings.Fields(text)
	out := make([]Token, 0, len(fields))
	for _, f := range fields {
		out = append(out, Token{Text: f, Tag: "NN"})
	}
	return out
}

// ProseTagger tokenizes and tags text with the prose English model.
type ProseTagger struct{}

// Tag implements Tagger.
func (ProseTagger) Tag(text string) ([]Token, error) {
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("tag text: %w", err)
	}
	toks := doc.Tokens()
	out := make([]Token, 0, len(toks))
	for _, t := range toks {
		out = append(out, Token{Text: t.Text, Tag: t.Tag})
	}
	return out, nil
}

// GolemDictionary looks up lemmas in a golem dictionary.
type GolemDictionary struct {
	lem *golem.Lemmatizer
}

// Lemmas implements Dictionary.
func (d GolemDictionary) Lemmas(word string) []string {
	if !d.lem.InDict(word) {
		return nil
	}
	// Lemmas sorts the dictionary's own slice, so hand out a copy.
	return append([]string(nil), d.lem.Lemmas(word)...)
}
