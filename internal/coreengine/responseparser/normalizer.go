package responseparser

import (
	"math"
	"strconv"
	"strings"
)

// NoSpeechSentinel is the transcript value the provider emits when it hears
// nothing in a segment.
const NoSpeechSentinel = "[no speech detected]"

// MinimalClassification marks a question answered too briefly to assess.
const MinimalClassification = "minimal"

// RubricCriteria are the canonical criterion keys, always all present in a
// normalized result.
var RubricCriteria = []string{
	"fluency_coherence",
	"lexical_resource",
	"grammatical_range",
	"pronunciation",
}

// CriterionScore is one rubric criterion's assessment.
type CriterionScore struct {
	Score    float64  `json:"score"`
	Feedback string   `json:"feedback"`
	Examples []string `json:"examples"`
}

// QuestionScore is the per-question breakdown used by the anti-inflation
// policy.
type QuestionScore struct {
	Question       string  `json:"question"`
	Score          float64 `json:"score"`
	Classification string  `json:"classification"`
}

// EvaluationResult is the canonical normalized output shape. Every rubric
// criterion is present; the consumer never sees a partially-shaped result.
type EvaluationResult struct {
	Criteria       map[string]CriterionScore `json:"criteria"`
	OverallBand    float64                   `json:"overall_band"`
	Transcripts    map[string]string         `json:"transcripts"`
	ModelAnswers   map[string]string         `json:"model_answers"`
	QuestionScores []QuestionScore           `json:"question_scores"`
	Summary        string                    `json:"summary"`
	Suggestions    []string                  `json:"suggestions"`
}

// Options are the anti-inflation tunables applied during normalization.
type Options struct {
	// OverallScoreMargin bounds how far the reported overall band may sit
	// above the mean of per-question scores.
	OverallScoreMargin float64
	// Minimal-answer caps: when more than SoftRatio of answers are minimal
	// the overall band is capped at SoftCap, and HardRatio/HardCap tighten
	// that further.
	MinimalSoftRatio float64
	MinimalSoftCap   float64
	MinimalHardRatio float64
	MinimalHardCap   float64
}

// DefaultOptions mirrors the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		OverallScoreMargin: 1.5,
		MinimalSoftRatio:   0.3,
		MinimalSoftCap:     5.5,
		MinimalHardRatio:   0.5,
		MinimalHardCap:     4.0,
	}
}

// fieldAliases maps each canonical field onto the naming variants produced
// across historical prompt/schema generations. Evaluated once per response
// rather than scattered through lookups.
var fieldAliases = map[string][]string{
	"fluency_coherence": {"fluency_coherence", "fluency_and_coherence", "fluencyAndCoherence", "fluencyCoherence"},
	"lexical_resource":  {"lexical_resource", "lexicalResource", "vocabulary"},
	"grammatical_range": {"grammatical_range", "grammatical_range_and_accuracy", "grammaticalRangeAndAccuracy", "grammar"},
	"pronunciation":     {"pronunciation"},
	"overall_band":      {"overall_band", "overall_score", "overallBand", "overallScore"},
	"transcripts":       {"transcripts", "question_transcripts", "questionTranscripts"},
	"model_answers":     {"model_answers", "suggested_answers", "modelAnswers", "suggestedAnswers"},
	"question_scores":   {"question_scores", "per_question_scores", "questionScores", "perQuestionScores"},
	"summary":           {"summary", "overall_feedback", "overallFeedback"},
	"suggestions":       {"suggestions", "improvement_suggestions", "improvementSuggestions"},
}

func lookup(parsed map[string]interface{}, canonical string) (interface{}, bool) {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := parsed[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

// Normalize maps a parsed provider response onto the canonical result shape,
// defaulting every missing criterion and applying the overall-band sanity
// caps. It is total for any JSON object input.
func Normalize(parsed map[string]interface{}, opts Options) *EvaluationResult {
	result := &EvaluationResult{
		Criteria:     make(map[string]CriterionScore, len(RubricCriteria)),
		Transcripts:  map[string]string{},
		ModelAnswers: map[string]string{},
	}

	// Criterion scores may live at the top level or under a "criteria"/
	// "scores" container depending on the schema generation.
	criteriaSource := parsed
	for _, container := range []string{"criteria", "scores", "rubric"} {
		if nested, ok := parsed[container].(map[string]interface{}); ok {
			criteriaSource = merged(parsed, nested)
			break
		}
	}

	for _, criterion := range RubricCriteria {
		if v, ok := lookup(criteriaSource, criterion); ok {
			result.Criteria[criterion] = asCriterionScore(v)
		} else {
			result.Criteria[criterion] = CriterionScore{Examples: []string{}}
		}
	}

	if v, ok := lookup(parsed, "transcripts"); ok {
		result.Transcripts = asStringMap(v)
	}
	if v, ok := lookup(parsed, "model_answers"); ok {
		result.ModelAnswers = asStringMap(v)
	}
	if v, ok := lookup(parsed, "question_scores"); ok {
		result.QuestionScores = asQuestionScores(v)
	}
	if v, ok := lookup(parsed, "summary"); ok {
		result.Summary = asString(v)
	}
	if v, ok := lookup(parsed, "suggestions"); ok {
		result.Suggestions = asStringSlice(v)
	}

	overall := 0.0
	if v, ok := lookup(parsed, "overall_band"); ok {
		overall = asFloat(v)
	} else {
		// Fall back to the mean of criterion scores when the provider
		// omitted the overall band.
		var sum float64
		for _, c := range result.Criteria {
			sum += c.Score
		}
		overall = sum / float64(len(result.Criteria))
	}
	result.OverallBand = capOverall(overall, result.QuestionScores, opts)

	return result
}

// capOverall applies the anti-inflation policy: the overall band must not
// exceed the per-question mean by more than the configured margin, and a
// high share of minimal answers hard-caps it outright.
func capOverall(overall float64, questionScores []QuestionScore, opts Options) float64 {
	if len(questionScores) > 0 {
		var sum, minimal float64
		for _, qs := range questionScores {
			sum += qs.Score
			if strings.EqualFold(qs.Classification, MinimalClassification) {
				minimal++
			}
		}
		mean := sum / float64(len(questionScores))
		if overall > mean+opts.OverallScoreMargin {
			overall = mean + opts.OverallScoreMargin
		}

		ratio := minimal / float64(len(questionScores))
		if ratio > opts.MinimalHardRatio {
			overall = math.Min(overall, opts.MinimalHardCap)
		} else if ratio > opts.MinimalSoftRatio {
			overall = math.Min(overall, opts.MinimalSoftCap)
		}
	}

	// Clamp to the band scale and round to the half band.
	overall = math.Max(0, math.Min(9, overall))
	return math.Round(overall*2) / 2
}

// ReapplyOverallCap recomputes the overall band after a caller has adjusted
// question classifications (for example from transcript-derived metrics).
func ReapplyOverallCap(result *EvaluationResult, opts Options) {
	result.OverallBand = capOverall(result.OverallBand, result.QuestionScores, opts)
}

func merged(outer, inner map[string]interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(outer)+len(inner))
	for k, v := range outer {
		m[k] = v
	}
	for k, v := range inner {
		m[k] = v
	}
	return m
}

func asCriterionScore(v interface{}) CriterionScore {
	switch val := v.(type) {
	case map[string]interface{}:
		score := CriterionScore{Examples: []string{}}
		for _, key := range []string{"score", "band", "value"} {
			if s, ok := val[key]; ok {
				score.Score = asFloat(s)
				break
			}
		}
		for _, key := range []string{"feedback", "comment", "comments"} {
			if f, ok := val[key]; ok {
				score.Feedback = asString(f)
				break
			}
		}
		for _, key := range []string{"examples", "excerpts"} {
			if e, ok := val[key]; ok {
				score.Examples = asStringSlice(e)
				break
			}
		}
		return score
	default:
		return CriterionScore{Score: asFloat(v), Examples: []string{}}
	}
}

func asQuestionScores(v interface{}) []QuestionScore {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	scores := make([]QuestionScore, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		qs := QuestionScore{}
		for _, key := range []string{"question", "question_number", "questionNumber", "id"} {
			if q, ok := m[key]; ok {
				qs.Question = asString(q)
				break
			}
		}
		for _, key := range []string{"score", "band"} {
			if s, ok := m[key]; ok {
				qs.Score = asFloat(s)
				break
			}
		}
		for _, key := range []string{"classification", "answer_type", "answerType"} {
			if c, ok := m[key]; ok {
				qs.Classification = asString(c)
				break
			}
		}
		scores = append(scores, qs)
	}
	return scores
}

func asFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return 0
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

func asStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		if s := asString(v); s != "" {
			return []string{s}
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func asStringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = asString(val)
	}
	return out
}
