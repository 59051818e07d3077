package transcript

import (
	"strings"
	"sync/atomic"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
)

const (
	// minTokenLen keeps short function words ("a", "in", "of") from being
	// snapped to vocabulary terms on their own.
	minTokenLen = 3

	// Thresholds used when NewCorrector is given a nil matcher.
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.92
)

// Corrector replaces misheard phrases with vocabulary terms. The vocabulary
// can be swapped at runtime; Correct always sees a consistent snapshot.
type Corrector struct {
	matcher *phonetic.Matcher
	vocab   atomic.Pointer[phonetic.Vocabulary]
}

// NewCorrector returns a corrector for words using matcher. A nil matcher
// uses thresholds of 0.85 (phonetic) and 0.92 (fuzzy).
func NewCorrector(matcher *phonetic.Matcher, words []string) *Corrector {
	if matcher == nil {
		matcher = phonetic.New(
			phonetic.WithPhoneticThreshold(defaultPhoneticThreshold),
			phonetic.WithFuzzyThreshold(defaultFuzzyThreshold),
		)
	}
	c := &Corrector{matcher: matcher}
	c.SetVocabulary(words)
	return c
}

// SetVocabulary replaces the term list.
func (c *Corrector) SetVocabulary(words []string) {
	c.vocab.Store(phonetic.Compile(words))
}

// Correct returns text with every recognised phrase replaced by its
// vocabulary term, and the substitutions made. Text is returned unchanged
// when the vocabulary is empty.
//
// At each token the longest window, up to the longest term's word count, is
// tried first so multi-word terms win over partial single-word matches.
func (c *Corrector) Correct(text string) (string, []Correction) {
	v := c.vocab.Load()
	if v == nil || v.Len() == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := c.matchAt(tokens, i, v, &out, &corrections)
		if n == 0 {
			out = append(out, tokens[i])
			n = 1
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries windows starting at tokens[i], longest first, and returns
// how many tokens the accepted match consumed.
func (c *Corrector) matchAt(tokens []string, i int, v *phonetic.Vocabulary, out *[]string, corrections *[]Correction) int {
	maxN := min(v.MaxWords(), len(tokens)-i)
	for n := maxN; n >= 1; n-- {
		window := tokens[i : i+n]
		core, trail := splitPunct(window[n-1])
		phrase := strings.Join(append(window[:n-1:n-1], core), " ")
		if n == 1 && len([]rune(core)) < minTokenLen {
			continue
		}
		term, conf, ok := c.matcher.MatchCompiled(phrase, v)
		if !ok {
			continue
		}
		if strings.EqualFold(term, phrase) {
			*out = append(*out, window...)
			return n
		}
		*out = append(*out, strings.Fields(term+trail)...)
		*corrections = append(*corrections, Correction{Original: phrase, Corrected: term, Confidence: conf})
		return n
	}
	return 0
}

// splitPunct separates trailing punctuation from a token so "wispers." can
// match "Whispers" and keep its full stop.
func splitPunct(tok string) (core, trail string) {
	core = strings.TrimRight(tok, ".,!?;:")
	return core, tok[len(core):]
}
