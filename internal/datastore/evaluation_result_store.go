package datastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateEvaluationResult inserts a result record and returns its ID.
func CreateEvaluationResult(r *EvaluationResult) (string, error) {
	if DB == nil {
		return "", errors.New("database connection not initialized")
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now()

	query := `
		INSERT INTO evaluation_results (id, job_id, model_used, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := DB.Exec(query, r.ID, r.JobID, r.ModelUsed, r.Payload, r.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to create evaluation result: %w", err)
	}
	return r.ID, nil
}

// GetEvaluationResult retrieves a result by ID.
func GetEvaluationResult(id string) (*EvaluationResult, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	query := `SELECT id, job_id, model_used, payload, created_at FROM evaluation_results WHERE id = $1`
	r := &EvaluationResult{}
	err := DB.QueryRow(query, id).Scan(&r.ID, &r.JobID, &r.ModelUsed, &r.Payload, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evaluation result %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get evaluation result: %w", err)
	}
	return r, nil
}

// GetResultForJob retrieves the result linked to a job, if any.
func GetResultForJob(jobID string) (*EvaluationResult, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	query := `SELECT id, job_id, model_used, payload, created_at FROM evaluation_results WHERE job_id = $1 ORDER BY created_at DESC LIMIT 1`
	r := &EvaluationResult{}
	err := DB.QueryRow(query, jobID).Scan(&r.ID, &r.JobID, &r.ModelUsed, &r.Payload, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no result for job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get result for job: %w", err)
	}
	return r, nil
}
