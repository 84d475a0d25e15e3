package metricscalculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 0, WordCount("   "))
	assert.Equal(t, 3, WordCount("one two three"))
	assert.Equal(t, 3, WordCount("  one\ttwo\nthree  "))
}

func TestWordSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, WordSimilarity("", ""))
	assert.Equal(t, 0.0, WordSimilarity("hello there", ""))
	assert.Equal(t, 1.0, WordSimilarity("Tell me about your hometown", "tell me about your hometown"))

	sim := WordSimilarity("tell me about your hometown", "the weather was nice yesterday")
	assert.Less(t, sim, 0.2)
}

func TestWordSimilarity_CountsWholeWordEdits(t *testing.T) {
	// One substituted word out of four is a single edit.
	assert.InDelta(t, 0.75, WordSimilarity("a b c d", "a b c e"), 1e-9)
	// One deleted word out of four.
	assert.InDelta(t, 0.75, WordSimilarity("a b c d", "a b c"), 1e-9)
	// Repeated words must map to the same identity on both sides.
	assert.Equal(t, 1.0, WordSimilarity("so so good", "so so good"))
	assert.InDelta(t, 2.0/3.0, WordSimilarity("so so good", "so bad good"), 1e-9)
}

func TestIsMinimalAnswer_Empty(t *testing.T) {
	assert.True(t, IsMinimalAnswer("Describe your hometown.", ""))
	assert.True(t, IsMinimalAnswer("Describe your hometown.", "   "))
}

func TestIsMinimalAnswer_ShortAnswer(t *testing.T) {
	assert.True(t, IsMinimalAnswer("Do you enjoy reading?", "Yes I do."))
	assert.False(t, IsMinimalAnswer("Do you enjoy reading?",
		"I really enjoy reading novels in the evening because it helps me relax after work."))
}

func TestIsMinimalAnswer_EchoOfQuestion(t *testing.T) {
	question := "What do you usually do with your friends on the weekend in your city"
	echo := "what do you usually do with your friends on the weekend in my city"
	assert.True(t, IsMinimalAnswer(question, echo))

	developed := "On weekends my friends and I usually meet downtown, try a new restaurant and then walk along the river talking about our week."
	assert.False(t, IsMinimalAnswer(question, developed))
}
