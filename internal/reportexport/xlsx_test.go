package reportexport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oral-eval-platform/internal/coreengine/responseparser"
	"oral-eval-platform/internal/datastore"
)

func sampleResult(t *testing.T) *datastore.EvaluationResult {
	t.Helper()
	payload, err := json.Marshal(responseparser.EvaluationResult{
		Criteria: map[string]responseparser.CriterionScore{
			"fluency_coherence": {Score: 6.0, Feedback: "steady"},
			"lexical_resource":  {Score: 6.5, Feedback: "varied"},
		},
		OverallBand: 6.0,
		Transcripts: map[string]string{"p1_q1": "I live near the harbour."},
		ModelAnswers: map[string]string{
			"p1_q1": "I live in a quiet neighbourhood close to the harbour, which I love for its morning markets.",
		},
		QuestionScores: []responseparser.QuestionScore{
			{Question: "p1_q1", Score: 6.0, Classification: "developed"},
		},
		Summary:     "competent answers",
		Suggestions: []string{"extend answers", "vary linking words"},
	})
	require.NoError(t, err)
	return &datastore.EvaluationResult{ID: "r1", JobID: "j1", ModelUsed: "gemini-2.5-flash", Payload: payload}
}

func TestBuildWorkbook(t *testing.T) {
	job := &datastore.EvaluationJob{ID: "j1", TestID: "test-1", Status: datastore.JobStatusCompleted}

	f, err := BuildWorkbook(job, sampleResult(t))
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{summarySheet, questionsSheet}, f.GetSheetList())

	jobID, err := f.GetCellValue(summarySheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "j1", jobID)

	segment, err := f.GetCellValue(questionsSheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, "p1_q1", segment)

	transcript, err := f.GetCellValue(questionsSheet, "D2")
	require.NoError(t, err)
	assert.Equal(t, "I live near the harbour.", transcript)
}

func TestBuildWorkbook_BadPayload(t *testing.T) {
	job := &datastore.EvaluationJob{ID: "j1"}
	stored := &datastore.EvaluationResult{Payload: json.RawMessage(`not json`)}

	_, err := BuildWorkbook(job, stored)
	assert.Error(t, err)
}
