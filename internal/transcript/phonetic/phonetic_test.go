package phonetic_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
)

var vocabulary = []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()
	m := phonetic.New()

	corrected, conf, matched := m.Match("grimjaw", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "grimjaw")
	}
	if corrected != "Grimjaw" {
		t.Errorf("corrected=%q, want %q", corrected, "Grimjaw")
	}
	if conf < 0.99 {
		t.Errorf("confidence=%f, want >= 0.99 for an exact match", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()
	m := phonetic.New()

	corrected, _, matched := m.Match("ELDRINAX", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "ELDRINAX")
	}
	if corrected != "Eldrinax" {
		t.Errorf("corrected=%q, want the vocabulary casing %q", corrected, "Eldrinax")
	}
}

func TestMatcher_MultiWordTerm(t *testing.T) {
	t.Parallel()
	m := phonetic.New()

	corrected, conf, matched := m.Match("tower of wispers", vocabulary)
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "tower of wispers")
	}
	if corrected != "Tower of Whispers" {
		t.Errorf("corrected=%q, want %q", corrected, "Tower of Whispers")
	}
	if conf < 0.9 {
		t.Errorf("confidence=%f, want >= 0.9", conf)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()
	m := phonetic.New()

	corrected, conf, matched := m.Match("hello", vocabulary)
	if matched {
		t.Fatalf("Match(%q): matched=true (%q), want false", "hello", corrected)
	}
	if corrected != "hello" || conf != 0 {
		t.Errorf("got (%q, %f), want the phrase unchanged with confidence 0", corrected, conf)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()
	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.995),
		phonetic.WithFuzzyThreshold(0.995),
	)
	if _, _, matched := m.Match("tower of wispers", vocabulary); matched {
		t.Fatal("near-match should be rejected at threshold 0.995")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()
	m := phonetic.New()

	if got, conf, matched := m.Match("eldrinax", nil); matched || got != "eldrinax" || conf != 0 {
		t.Errorf("empty vocabulary: got (%q, %f, %v)", got, conf, matched)
	}
	if got, conf, matched := m.Match("", vocabulary); matched || got != "" || conf != 0 {
		t.Errorf("empty phrase: got (%q, %f, %v)", got, conf, matched)
	}
	if _, _, matched := m.MatchCompiled("grimjaw", nil); matched {
		t.Error("nil vocabulary should never match")
	}
}

func TestCompile(t *testing.T) {
	t.Parallel()
	v := phonetic.Compile([]string{"Eldrinax", "  ", "", "Tower of Whispers"})
	if v.Len() != 2 {
		t.Errorf("Len = %d, want 2 (blank entries skipped)", v.Len())
	}
	if v.MaxWords() != 3 {
		t.Errorf("MaxWords = %d, want 3", v.MaxWords())
	}
	if empty := phonetic.Compile(nil); empty.Len() != 0 || empty.MaxWords() != 0 {
		t.Errorf("empty vocabulary: Len=%d MaxWords=%d", empty.Len(), empty.MaxWords())
	}
}
