package jobmanagement

import (
	"context"
	"database/sql"

	"oral-eval-platform/internal/datastore"
	"oral-eval-platform/internal/objectstore"
)

// DatastoreJobStore adapts the datastore package functions to JobStore.
type DatastoreJobStore struct{}

func (DatastoreJobStore) Create(job *datastore.EvaluationJob) (string, error) {
	return datastore.CreateEvaluationJob(job)
}

func (DatastoreJobStore) Get(id string) (*datastore.EvaluationJob, error) {
	return datastore.GetEvaluationJob(id)
}

func (DatastoreJobStore) LatestForOwner(testID, ownerID string) (*datastore.EvaluationJob, error) {
	return datastore.GetLatestJobForOwner(testID, ownerID)
}

func (DatastoreJobStore) Transition(id, fromStatus, toStatus string) (bool, error) {
	return datastore.TransitionJobStatus(id, fromStatus, toStatus)
}

func (DatastoreJobStore) MarkTerminal(id, status, lastError string, resultID sql.NullString) (bool, error) {
	return datastore.MarkJobTerminal(id, status, lastError, resultID)
}

func (DatastoreJobStore) ResetForRetry(id, lastError string) (bool, error) {
	return datastore.ResetJobForRetry(id, lastError)
}

// DatastoreResultStore adapts the datastore package functions to ResultStore.
type DatastoreResultStore struct{}

func (DatastoreResultStore) Create(result *datastore.EvaluationResult) (string, error) {
	return datastore.CreateEvaluationResult(result)
}

// AudioBlobStore adapts the object store to BlobStore.
type AudioBlobStore struct {
	Store *objectstore.AudioStore
}

func (a AudioBlobStore) GetSegmentBytes(ctx context.Context, objectName string) ([]byte, string, error) {
	return a.Store.GetSegmentBytes(ctx, objectName)
}
