package datastore

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Job status values. Transitions are monotonic: pending -> processing ->
// {completed, failed}, with a bounded processing -> pending retry edge.
// completed and failed are absorbing.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// EvaluationJob maps to the evaluation_jobs table. One row is one durable,
// asynchronously-processed unit of evaluation work.
type EvaluationJob struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	TestID  string `json:"test_id"`
	Status  string `json:"status"`

	// SegmentPaths maps segment key (part + question, e.g. "p2_q3") to the
	// object-store path holding the raw audio bytes.
	SegmentPaths json.RawMessage `json:"segment_paths"`
	// SegmentDurations maps segment key to spoken duration in seconds.
	SegmentDurations json.RawMessage `json:"segment_durations"`
	// Questions maps segment key to the prompt the candidate answered, so
	// every recorded answer stays traceable back to its question.
	Questions json.RawMessage `json:"questions"`

	Topic              sql.NullString `json:"topic,omitempty"`
	Difficulty         sql.NullString `json:"difficulty,omitempty"`
	LowDurationFluency bool           `json:"low_duration_fluency"`

	RetryCount   int            `json:"retry_count"`
	RetryCeiling int            `json:"retry_ceiling"`
	LastError    sql.NullString `json:"last_error,omitempty"`
	ResultID     sql.NullString `json:"result_id,omitempty"`

	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt sql.NullTime `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job has reached an absorbing status.
func (j *EvaluationJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// SegmentPathMap decodes the segment-key -> object path manifest.
func (j *EvaluationJob) SegmentPathMap() (map[string]string, error) {
	paths := map[string]string{}
	if len(j.SegmentPaths) == 0 || string(j.SegmentPaths) == "null" {
		return paths, nil
	}
	if err := json.Unmarshal(j.SegmentPaths, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// SegmentDurationMap decodes the segment-key -> duration manifest.
func (j *EvaluationJob) SegmentDurationMap() (map[string]float64, error) {
	durations := map[string]float64{}
	if len(j.SegmentDurations) == 0 || string(j.SegmentDurations) == "null" {
		return durations, nil
	}
	if err := json.Unmarshal(j.SegmentDurations, &durations); err != nil {
		return nil, err
	}
	return durations, nil
}

// QuestionMap decodes the segment-key -> question text manifest.
func (j *EvaluationJob) QuestionMap() (map[string]string, error) {
	questions := map[string]string{}
	if len(j.Questions) == 0 || string(j.Questions) == "null" {
		return questions, nil
	}
	if err := json.Unmarshal(j.Questions, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}
