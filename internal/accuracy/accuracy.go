// Package accuracy implements the character error rate metric shared by all
// recognition backends.
package accuracy

import (
	"regexp"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

var (
	punctuation = regexp.MustCompile(`[?.,!]`)
	whitespace  = regexp.MustCompile(`\s+`)
	blankAudio  = regexp.MustCompile(`(?i)\[blank_audio\]`)
)

// Unit cost per insert, delete and substitute. The library default charges
// substitutions as delete plus insert, which is not the classic distance.
var editOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Score computes a CER-based accuracy in [0, 1] between an expected
// transcript and the text a backend recognized.
//
// Both sides are lowercased, stripped of ? . , ! and collapsed to single
// spaces before comparison. Whisper-family models emit a [BLANK_AUDIO]
// placeholder on silence; it is stripped from the recognized side so the
// metric stays comparable across engine families. An empty expected
// transcript scores 0.
func Score(expected, recognized string) float64 {
	exp := normalize(expected)
	if exp == "" {
		return 0
	}
	recognized = blankAudio.ReplaceAllString(recognized, " ")
	rec := normalize(recognized)

	distance := levenshtein.DistanceForStrings([]rune(exp), []rune(rec), editOptions)
	acc := 1 - float64(distance)/float64(len([]rune(exp)))
	if acc < 0 {
		return 0
	}
	return acc
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
