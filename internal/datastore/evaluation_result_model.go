package datastore

import (
	"encoding/json"
	"time"
)

// EvaluationResult maps to the evaluation_results table. Payload carries the
// canonical normalized result shape as JSONB; the relational layer does not
// inspect it.
type EvaluationResult struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	ModelUsed string          `json:"model_used"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
