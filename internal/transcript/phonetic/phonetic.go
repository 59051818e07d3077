// Package phonetic snaps misheard phrases to a known vocabulary using Double
// Metaphone codes and Jaro-Winkler similarity.
//
// A phrase is a candidate for a vocabulary term when any of its tokens share
// a Double Metaphone code with any token of the term. Candidates are ranked
// by Jaro-Winkler similarity and accepted above the phonetic threshold. When
// no term sounds alike, plain Jaro-Winkler is tried against every term with
// the stricter fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// sounds alike. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no term sounds
// alike. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Vocabulary is a precomputed term list. Build it once with [Compile] and
// reuse it for every phrase of a transcript.
type Vocabulary struct {
	terms    []term
	maxWords int
}

type term struct {
	original string
	lower    string
	tokens   []string
	joined   string
	codes    map[string]struct{}
}

// Compile lowercases, tokenises and encodes words. Blank entries are
// skipped.
func Compile(words []string) *Vocabulary {
	v := &Vocabulary{}
	for _, w := range words {
		lower := strings.ToLower(strings.TrimSpace(w))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			original: strings.TrimSpace(w),
			lower:    lower,
			tokens:   tokens,
			joined:   strings.Join(tokens, ""),
			codes:    codesForTokens(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, or 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match compiles vocabulary on the fly and calls [Matcher.MatchCompiled].
func (m *Matcher) Match(phrase string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	return m.MatchCompiled(phrase, Compile(vocabulary))
}

// MatchCompiled finds the term of v that phrase most likely stands for.
// When matched is false, corrected equals phrase and confidence is 0.
func (m *Matcher) MatchCompiled(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if v == nil || len(v.terms) == 0 || lower == "" {
		return phrase, 0, false
	}
	tokens := strings.Fields(lower)
	codes := codesForTokens(tokens)
	joined := strings.Join(tokens, "")

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		score := bestJWScore(tokens, t.tokens, lower, t.lower, joined, t.joined)
		if overlaps(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.original, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.original, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of the primary and secondary Double
// Metaphone codes of tokens, without empty codes.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the higher Jaro-Winkler similarity of the full strings and
// the strings with spaces removed, so "elder nacks" can reach "eldrinax".
func bestJWScore(inTokens, termTokens []string, inFull, termFull, inJoined, termJoined string) float64 {
	score := matchr.JaroWinkler(inFull, termFull, false)
	if len(inTokens) > 1 || len(termTokens) > 1 {
		score = max(score, matchr.JaroWinkler(inJoined, termJoined, false))
	}
	return score
}
