package datastore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, owner_id, test_id, status, segment_paths, segment_durations, questions,
	topic, difficulty, low_duration_fluency, retry_count, retry_ceiling,
	last_error, result_id, created_at, updated_at, completed_at`

// CreateEvaluationJob inserts a new evaluation job and returns its ID. The ID
// is generated application-side so the caller can hand it back before the
// background execution starts.
func CreateEvaluationJob(job *EvaluationJob) (string, error) {
	if DB == nil {
		return "", errors.New("database connection not initialized")
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = time.Now()
	if job.Status == "" {
		job.Status = JobStatusPending
	}

	segmentPaths := job.SegmentPaths
	if segmentPaths == nil {
		segmentPaths = json.RawMessage("{}")
	}
	segmentDurations := job.SegmentDurations
	if segmentDurations == nil {
		segmentDurations = json.RawMessage("{}")
	}
	questions := job.Questions
	if questions == nil {
		questions = json.RawMessage("{}")
	}

	query := `
		INSERT INTO evaluation_jobs (id, owner_id, test_id, status, segment_paths, segment_durations, questions,
			topic, difficulty, low_duration_fluency, retry_count, retry_ceiling, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := DB.Exec(
		query,
		job.ID,
		job.OwnerID,
		job.TestID,
		job.Status,
		segmentPaths,
		segmentDurations,
		questions,
		job.Topic,
		job.Difficulty,
		job.LowDurationFluency,
		job.RetryCount,
		job.RetryCeiling,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create evaluation job: %w", err)
	}
	return job.ID, nil
}

func scanJob(row interface{ Scan(...interface{}) error }) (*EvaluationJob, error) {
	job := &EvaluationJob{}
	var segmentPaths, segmentDurations, questions []byte

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.TestID,
		&job.Status,
		&segmentPaths,
		&segmentDurations,
		&questions,
		&job.Topic,
		&job.Difficulty,
		&job.LowDurationFluency,
		&job.RetryCount,
		&job.RetryCeiling,
		&job.LastError,
		&job.ResultID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.SegmentPaths = json.RawMessage(segmentPaths)
	job.SegmentDurations = json.RawMessage(segmentDurations)
	job.Questions = json.RawMessage(questions)
	return job, nil
}

// GetEvaluationJob retrieves an evaluation job by ID.
func GetEvaluationJob(id string) (*EvaluationJob, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	query := fmt.Sprintf(`SELECT %s FROM evaluation_jobs WHERE id = $1`, jobColumns)
	job, err := scanJob(DB.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("evaluation job %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get evaluation job: %w", err)
	}
	return job, nil
}

// GetLatestJobForOwner returns the most recent job for a (test, owner) pair.
// The owner filter is the row-level isolation boundary; callers must not
// bypass it.
func GetLatestJobForOwner(testID, ownerID string) (*EvaluationJob, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM evaluation_jobs
		WHERE test_id = $1 AND owner_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, jobColumns)
	job, err := scanJob(DB.QueryRow(query, testID, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no job for test %s owner %s: %w", testID, ownerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}
	return job, nil
}

// TransitionJobStatus moves a job from one non-terminal status to another,
// conditionally on the current status. Returns false without error when the
// job was not in fromStatus, which callers treat as "someone else got there
// first".
func TransitionJobStatus(id, fromStatus, toStatus string) (bool, error) {
	if DB == nil {
		return false, errors.New("database connection not initialized")
	}

	query := `UPDATE evaluation_jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	result, err := DB.Exec(query, toStatus, time.Now(), id, fromStatus)
	if err != nil {
		return false, fmt.Errorf("failed to transition job %s to %s: %w", id, toStatus, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected transitioning job %s: %w", id, err)
	}
	return rowsAffected > 0, nil
}

// MarkJobTerminal writes a terminal status, last error and optional result
// link in one statement, guarded so that completed/failed stay absorbing.
// The first writer wins; the losing writer observes rowsAffected == 0.
func MarkJobTerminal(id, status, lastError string, resultID sql.NullString) (bool, error) {
	if DB == nil {
		return false, errors.New("database connection not initialized")
	}
	if status != JobStatusCompleted && status != JobStatusFailed {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	var lastErrorVal sql.NullString
	if lastError != "" {
		lastErrorVal = sql.NullString{String: lastError, Valid: true}
	}

	query := `
		UPDATE evaluation_jobs
		SET status = $1, last_error = $2, result_id = $3, completed_at = $4, updated_at = $4
		WHERE id = $5 AND status NOT IN ($6, $7)
	`
	result, err := DB.Exec(query, status, lastErrorVal, resultID, time.Now(), id, JobStatusCompleted, JobStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s %s: %w", id, status, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected marking job %s terminal: %w", id, err)
	}
	return rowsAffected > 0, nil
}

// ResetJobForRetry moves a processing job back to pending and bumps its retry
// counter, conditionally so a watchdog that already failed the job wins.
func ResetJobForRetry(id, lastError string) (bool, error) {
	if DB == nil {
		return false, errors.New("database connection not initialized")
	}

	query := `
		UPDATE evaluation_jobs
		SET status = $1, retry_count = retry_count + 1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	result, err := DB.Exec(query, JobStatusPending, lastError, time.Now(), id, JobStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to reset job %s for retry: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected resetting job %s: %w", id, err)
	}
	return rowsAffected > 0, nil
}
