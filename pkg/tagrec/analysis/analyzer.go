package analysis

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// DefaultStopwords is the English stop set applied to title and body text.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if", "in",
	"into", "is", "it", "no", "not", "of", "on", "or", "such", "that", "the",
	"their", "then", "there", "these", "they", "this", "to", "was", "will",
	"with",
}

// Analyzer turns field text into index terms.
type Analyzer struct {
	stopwords map[string]struct{}
	stem      bool
	stripHTML bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithStopwords replaces the default stop set.
func WithStopwords(words []string) Option {
	return func(a *Analyzer) {
		a.stopwords = make(map[string]struct{}, len(words))
		for _, w := range words {
			a.stopwords[strings.ToLower(w)] = struct{}{}
		}
	}
}

// WithStemming reduces alphabetic terms to their English stem.
func WithStemming() Option {
	return func(a *Analyzer) { a.stem = true }
}

// WithHTMLStripping removes markup before tokenizing.
func WithHTMLStripping() Option {
	return func(a *Analyzer) { a.stripHTML = true }
}

// New creates an analyzer using DefaultStopwords unless overridden.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{}
	WithStopwords(DefaultStopwords)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tokenize splits text into normalized terms, in order, stopwords removed.
func (a *Analyzer) Tokenize(text string) []string {
	if a.stripHTML {
		text = StripHTML(text)
	}

	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		if word := a.processToken(current.String()); word != "" {
			tokens = append(tokens, word)
		}
		current.Reset()
	}

	for _, r := range text {
		if isWordRune(r) {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()

	return tokens
}

// TermFreqs returns the frequency of each term in text and the number of
// terms produced, which is the field length used for norms.
func (a *Analyzer) TermFreqs(text string) (map[string]int, int) {
	tokens := a.Tokenize(text)
	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}
	return freqs, len(tokens)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' || r == '+' || r == '#' || r == '_'
}

func (a *Analyzer) processToken(token string) string {
	word := cleanToken(token)
	if len([]rune(word)) <= 1 {
		return ""
	}
	// Pure numbers carry no topic; "python3" or "utf-8" are kept.
	if isNumericOnly(word) {
		return ""
	}
	if a.isStopword(word) {
		return ""
	}
	if a.stem && isAlpha(word) {
		word = english.Stem(word, false)
	}
	return word
}

// cleanToken strips hyphens at both ends and '+' or '#' at the front, so
// "c++" and "c#" survive but "--flag" becomes "flag".
func cleanToken(token string) string {
	token = strings.Trim(token, "-")
	token = strings.TrimLeft(token, "+#")
	for strings.Contains(token, "--") {
		token = strings.ReplaceAll(token, "--", "-")
	}
	return token
}

func isNumericOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '-' && r != '+' && r != '#' && r != '_' {
			return false
		}
	}
	return true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func (a *Analyzer) isStopword(word string) bool {
	_, ok := a.stopwords[word]
	return ok
}

// AddStopword adds a word to the stop set.
func (a *Analyzer) AddStopword(word string) {
	a.stopwords[strings.ToLower(word)] = struct{}{}
}

// RemoveStopword removes a word from the stop set.
func (a *Analyzer) RemoveStopword(word string) {
	delete(a.stopwords, strings.ToLower(word))
}
