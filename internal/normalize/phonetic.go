package normalize

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched concept name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher corrects misheard concept names in voice transcripts. It combines
// Double Metaphone phonetic filtering with Jaro-Winkler ranking:
//
//  1. A vocabulary entry whose phonetic codes overlap the input's codes
//     becomes a candidate; candidates are ranked by Jaro-Winkler similarity
//     and accepted above the phonetic threshold.
//  2. When no phonetic candidate exists, a pure Jaro-Winkler pass runs
//     against the whole vocabulary with a stricter threshold.
//
// Multi-word concept names are supported. All methods are safe for
// concurrent use; a Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Correction records one replacement made by [Matcher.CorrectTranscript].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Match finds the vocabulary entry most phonetically similar to word.
// word may be a single word or a space-separated phrase. When matched is
// false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	if len(vocabulary) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, name := range vocabulary {
		nameLower := strings.ToLower(strings.TrimSpace(name))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(nameTokens))
		jwScore := bestJWScore(wordTokens, nameTokens, wordLower, nameLower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{name: name, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{name: name, score: jwScore, phonetic: false}
			}
		}
	}

	if best.name != "" {
		return best.name, best.score, true
	}
	return word, 0, false
}

// CorrectTranscript scans text token by token, trying n-gram windows from
// the longest vocabulary entry down to single words, and replaces spans that
// phonetically match a known concept name. The longest match wins so that
// multi-word names take precedence over partial single-word matches.
func (m *Matcher) CorrectTranscript(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(vocabulary) == 0 {
		return text, nil
	}

	// Windows go up to the longest vocabulary entry, but never below two
	// tokens: a single-word concept name is often misheard as two words
	// ("eigen values" for "eigenvalues").
	maxWords := 2
	for _, v := range vocabulary {
		if n := len(strings.Fields(v)); n > maxWords {
			maxWords = n
		}
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			name, conf, ok := m.Match(window, vocabulary)
			if !ok {
				continue
			}
			if strings.EqualFold(window, name) {
				// Already spelled correctly; emit as-is without recording.
				output = append(output, tokens[i:i+n]...)
			} else {
				output = append(output, strings.Fields(name)...)
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  name,
					Confidence: conf,
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
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

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the vocabulary entry across three strategies: full strings,
// space-stripped strings, and best pairwise tokens. The pairwise strategy
// only applies to single-token input; for multi-token windows it would let
// one strong token drag an unrelated neighbour into the match.
func bestJWScore(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	if len(inputTokens) == 1 {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(inputTokens[0], nt, false); s > score {
				score = s
			}
		}
	}

	return score
}
