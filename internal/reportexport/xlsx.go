// Package reportexport renders evaluation results as spreadsheets for
// offline review.
package reportexport

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"oral-eval-platform/internal/coreengine/responseparser"
	"oral-eval-platform/internal/datastore"
)

const (
	summarySheet   = "Summary"
	questionsSheet = "Questions"
)

// BuildWorkbook renders a job and its normalized result into an xlsx
// workbook. The caller owns closing the returned file.
func BuildWorkbook(job *datastore.EvaluationJob, stored *datastore.EvaluationResult) (*excelize.File, error) {
	var result responseparser.EvaluationResult
	if err := json.Unmarshal(stored.Payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result payload: %w", err)
	}

	f := excelize.NewFile()
	sheet, err := f.NewSheet(summarySheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	f.SetActiveSheet(sheet)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := writeSummary(f, job, stored, &result); err != nil {
		return nil, err
	}
	if err := writeQuestions(f, &result); err != nil {
		return nil, err
	}
	return f, nil
}

func writeSummary(f *excelize.File, job *datastore.EvaluationJob, stored *datastore.EvaluationResult, result *responseparser.EvaluationResult) error {
	rows := [][]interface{}{
		{"Job ID", job.ID},
		{"Test ID", job.TestID},
		{"Status", job.Status},
		{"Model used", stored.ModelUsed},
		{"Overall band", result.OverallBand},
		{"Summary", result.Summary},
		{"Suggestions", strings.Join(result.Suggestions, "; ")},
		{},
		{"Criterion", "Score", "Feedback"},
	}

	criteria := make([]string, 0, len(result.Criteria))
	for name := range result.Criteria {
		criteria = append(criteria, name)
	}
	sort.Strings(criteria)
	for _, name := range criteria {
		cs := result.Criteria[name]
		rows = append(rows, []interface{}{name, cs.Score, cs.Feedback})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to address summary row %d: %w", i+1, err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func writeQuestions(f *excelize.File, result *responseparser.EvaluationResult) error {
	if _, err := f.NewSheet(questionsSheet); err != nil {
		return fmt.Errorf("failed to create questions sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Segment", "Score", "Classification", "Transcript", "Model answer"},
	}
	for _, qs := range result.QuestionScores {
		rows = append(rows, []interface{}{
			qs.Question,
			qs.Score,
			qs.Classification,
			result.Transcripts[qs.Question],
			result.ModelAnswers[qs.Question],
		})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to address questions row %d: %w", i+1, err)
		}
		if err := f.SetSheetRow(questionsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write questions row %d: %w", i+1, err)
		}
	}
	return nil
}
