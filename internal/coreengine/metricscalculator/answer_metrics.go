// Package metricscalculator derives lexical measurements from transcripts.
// Its main job is defending the anti-inflation policy: a provider that is
// generous with classifications gets second-guessed from the transcript text.
package metricscalculator

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// MinimalWordCount is the word count below which an answer is treated as
// minimal regardless of what the provider classified it as.
const MinimalWordCount = 8

// EchoSimilarityThreshold flags answers that merely repeat the question back.
const EchoSimilarityThreshold = 0.8

// WordCount counts whitespace-separated tokens.
func WordCount(transcript string) int {
	return len(strings.Fields(transcript))
}

// WordSimilarity computes a normalized word-level similarity between two
// texts: 1.0 for identical token sequences, 0.0 for fully disjoint ones.
// Each distinct word is mapped to a synthetic rune so the edit distance
// operates on words, not characters.
func WordSimilarity(a, b string) float64 {
	wordsA := strings.Fields(strings.ToLower(a))
	wordsB := strings.Fields(strings.ToLower(b))
	if len(wordsA) == 0 && len(wordsB) == 0 {
		return 1.0
	}
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	ids := make(map[string]rune)
	source := wordRunes(wordsA, ids)
	target := wordRunes(wordsB, ids)

	// Unit substitution cost, unlike DefaultOptions' cost of 2: one swapped
	// word should count as one edit.
	options := levenshtein.Options{
		InsCost: 1,
		DelCost: 1,
		SubCost: 1,
		Matches: levenshtein.IdenticalRunes,
	}
	distance := levenshtein.DistanceForStrings(source, target, options)
	longer := len(wordsA)
	if len(wordsB) > longer {
		longer = len(wordsB)
	}
	return 1.0 - float64(distance)/float64(longer)
}

func wordRunes(words []string, ids map[string]rune) []rune {
	runes := make([]rune, len(words))
	for i, w := range words {
		id, ok := ids[w]
		if !ok {
			id = rune(len(ids) + 1)
			ids[w] = id
		}
		runes[i] = id
	}
	return runes
}

// IsMinimalAnswer reports whether a transcript is too thin to assess: empty,
// below the word-count floor, or an echo of the question text.
func IsMinimalAnswer(questionText, transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}
	if WordCount(trimmed) < MinimalWordCount {
		return true
	}
	if questionText != "" && WordSimilarity(questionText, trimmed) >= EchoSimilarityThreshold {
		return true
	}
	return false
}
