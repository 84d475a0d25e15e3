package jobmanagement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oral-eval-platform/internal/config"
	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/coreengine/responseparser"
	"oral-eval-platform/internal/coreengine/rotation"
	"oral-eval-platform/internal/coreengine/scoringprovider"
	"oral-eval-platform/internal/coreengine/transcriptrepair"
	"oral-eval-platform/internal/datastore"
)

type fakeJobStore struct {
	mu             sync.Mutex
	jobs           map[string]*datastore.EvaluationJob
	terminalWrites int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*datastore.EvaluationJob)}
}

func (f *fakeJobStore) Create(job *datastore.EvaluationJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	copied := *job
	f.jobs[job.ID] = &copied
	return job.ID, nil
}

func (f *fakeJobStore) Get(id string) (*datastore.EvaluationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, datastore.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeJobStore) LatestForOwner(testID, ownerID string) (*datastore.EvaluationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *datastore.EvaluationJob
	for _, job := range f.jobs {
		if job.TestID != testID || job.OwnerID != ownerID {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, datastore.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeJobStore) Transition(id, fromStatus, toStatus string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return false, datastore.ErrNotFound
	}
	if job.Status != fromStatus {
		return false, nil
	}
	job.Status = toStatus
	return true, nil
}

func (f *fakeJobStore) MarkTerminal(id, status, lastError string, resultID sql.NullString) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return false, datastore.ErrNotFound
	}
	if job.Status == datastore.JobStatusCompleted || job.Status == datastore.JobStatusFailed {
		return false, nil
	}
	job.Status = status
	job.LastError = sql.NullString{String: lastError, Valid: lastError != ""}
	job.ResultID = resultID
	f.terminalWrites++
	return true, nil
}

func (f *fakeJobStore) ResetForRetry(id, lastError string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return false, datastore.ErrNotFound
	}
	if job.Status != datastore.JobStatusProcessing {
		return false, nil
	}
	job.Status = datastore.JobStatusPending
	job.RetryCount++
	job.LastError = sql.NullString{String: lastError, Valid: lastError != ""}
	return true, nil
}

func (f *fakeJobStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id].Status
}

func (f *fakeJobStore) job(id string) datastore.EvaluationJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.jobs[id]
}

type fakeResultStore struct {
	mu      sync.Mutex
	results []*datastore.EvaluationResult
}

func (f *fakeResultStore) Create(result *datastore.EvaluationResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	f.results = append(f.results, result)
	return result.ID, nil
}

type fakeBlobStore struct {
	blobs map[string][]byte
}

func (f *fakeBlobStore) GetSegmentBytes(ctx context.Context, objectName string) ([]byte, string, error) {
	data, ok := f.blobs[objectName]
	if !ok {
		return nil, "", fmt.Errorf("object %s not found", objectName)
	}
	return data, "audio/wav", nil
}

type fakeCredentialSource struct {
	queue []credentialpool.Credential
	err   error
}

func (f *fakeCredentialSource) BuildQueue(userKey, modelFamily string) ([]credentialpool.Credential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.queue, nil
}

type scriptedEvaluator struct {
	mu      sync.Mutex
	calls   int
	results []evalStep
	block   chan struct{}
}

type evalStep struct {
	parsed map[string]interface{}
	err    error
}

func (f *scriptedEvaluator) Evaluate(ctx context.Context, parts []scoringprovider.Part, queue []credentialpool.Credential, models []string, temperature float64) (*rotation.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	step := evalStep{err: errors.New("no scripted result")}
	if f.calls < len(f.results) {
		step = f.results[f.calls]
	}
	f.calls++
	f.mu.Unlock()
	if step.err != nil {
		return nil, step.err
	}
	return &rotation.Result{
		Parsed:     step.parsed,
		RawText:    "raw",
		ModelUsed:  models[0],
		Credential: queue[0],
	}, nil
}

func (f *scriptedEvaluator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type passthroughRepairer struct{}

func (passthroughRepairer) Repair(ctx context.Context, transcripts map[string]string, segments map[string]transcriptrepair.Segment, cred credentialpool.Credential, model string) map[string]string {
	return transcripts
}

func goodParsed() map[string]interface{} {
	return map[string]interface{}{
		"overall_band": 6.5,
		"criteria": map[string]interface{}{
			"fluency_coherence": map[string]interface{}{"score": 6.5, "feedback": "steady pace"},
		},
		"transcripts": map[string]interface{}{
			"p1_q1": "I have lived in this city for about ten years and I really enjoy the coastal walks.",
		},
		"question_scores": []interface{}{
			map[string]interface{}{"question": "p1_q1", "score": 6.5, "classification": "developed"},
		},
		"summary": "solid answers",
	}
}

func testPipeline() config.PipelineConfig {
	cfg := config.DefaultPipeline()
	cfg.WatchdogWindow = 5 * time.Second
	return cfg
}

func newTestService(jobs *fakeJobStore, results *fakeResultStore, blobs *fakeBlobStore, pool *fakeCredentialSource, eval Evaluator, cfg config.PipelineConfig) *Service {
	return NewService(jobs, results, blobs, pool, eval, passthroughRepairer{}, cfg)
}

func defaultSpec() SubmissionSpec {
	return SubmissionSpec{
		OwnerID:          "user-1",
		TestID:           "test-1",
		SegmentPaths:     map[string]string{"p1_q1": "user-1/test-1/a.wav"},
		SegmentDurations: map[string]float64{"p1_q1": 12.5},
		Questions:        map[string]string{"p1_q1": "Tell me about where you live."},
	}
}

func waitForTerminal(t *testing.T, jobs *fakeJobStore, id string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status := jobs.status(id)
		if status == datastore.JobStatusCompleted || status == datastore.JobStatusFailed {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state (status %s)", id, jobs.status(id))
	return ""
}

func TestSubmit_RunsToCompleted(t *testing.T) {
	jobs := newFakeJobStore()
	results := &fakeResultStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"user-1/test-1/a.wav": []byte("audio")}}
	pool := &fakeCredentialSource{queue: []credentialpool.Credential{{ID: 1, APIKey: "k"}}}
	eval := &scriptedEvaluator{results: []evalStep{{parsed: goodParsed()}}}
	svc := newTestService(jobs, results, blobs, pool, eval, testPipeline())

	job, err := svc.Submit(defaultSpec())
	require.NoError(t, err)
	assert.Equal(t, datastore.JobStatusPending, job.Status)

	status := waitForTerminal(t, jobs, job.ID)
	assert.Equal(t, datastore.JobStatusCompleted, status)

	final := jobs.job(job.ID)
	require.True(t, final.ResultID.Valid)
	require.Len(t, results.results, 1)
	assert.Equal(t, job.ID, results.results[0].JobID)

	var stored responseparser.EvaluationResult
	require.NoError(t, json.Unmarshal(results.results[0].Payload, &stored))
	assert.Equal(t, 6.5, stored.OverallBand)
	assert.Contains(t, stored.Criteria, "pronunciation")
}

type fillingRepairer struct {
	fill map[string]string
}

func (f fillingRepairer) Repair(ctx context.Context, transcripts map[string]string, segments map[string]transcriptrepair.Segment, cred credentialpool.Credential, model string) map[string]string {
	out := make(map[string]string, len(transcripts))
	for k, v := range transcripts {
		out[k] = v
	}
	for k, v := range f.fill {
		out[k] = v
	}
	return out
}

func TestSubmit_RepairedTranscriptPersisted(t *testing.T) {
	parsed := goodParsed()
	parsed["transcripts"] = map[string]interface{}{
		"p1_q1": responseparser.NoSpeechSentinel,
	}

	jobs := newFakeJobStore()
	results := &fakeResultStore{}
	blobs := &fakeBlobStore{blobs: map[string][]byte{"user-1/test-1/a.wav": []byte("audio")}}
	pool := &fakeCredentialSource{queue: []credentialpool.Credential{{ID: 1, APIKey: "k"}}}
	eval := &scriptedEvaluator{results: []evalStep{{parsed: parsed}}}
	repairer := fillingRepairer{fill: map[string]string{
		"p1_q1": "Sorry, I live near the central station and commute by tram every day.",
	}}
	svc := NewService(jobs, results, blobs, pool, eval, repairer, testPipeline())

	job, err := svc.Submit(defaultSpec())
	require.NoError(t, err)

	status := waitForTerminal(t, jobs, job.ID)
	require.Equal(t, datastore.JobStatusCompleted, status)

	require.Len(t, results.results, 1)
	var stored responseparser.EvaluationResult
	require.NoError(t, json.Unmarshal(results.results[0].Payload, &stored))
	assert.Equal(t, "Sorry, I live near the central station and commute by tram every day.", stored.Transcripts["p1_q1"])
	assert.NotContains(t, stored.Transcripts["p1_q1"], responseparser.NoSpeechSentinel)
}

func TestSubmit_NoSegmentsFailsFast(t *testing.T) {
	svc := newTestService(newFakeJobStore(), &fakeResultStore{}, &fakeBlobStore{}, &fakeCredentialSource{queue: []credentialpool.Credential{{ID: 1}}}, &scriptedEvaluator{}, testPipeline())

	spec := defaultSpec()
	spec.SegmentPaths = nil
	_, err := svc.Submit(spec)
	assert.ErrorIs(t, err, ErrNoUsableAudio)
}

func TestSubmit_NoCredentialsFailsFast(t *testing.T) {
	jobs := newFakeJobStore()
	pool := &fakeCredentialSource{err: credentialpool.ErrNoCredentialsAvailable}
	eval := &scriptedEvaluator{}
	svc := newTestService(jobs, &fakeResultStore{}, &fakeBlobStore{}, pool, eval, testPipeline())

	_, err := svc.Submit(defaultSpec())
	assert.ErrorIs(t, err, credentialpool.ErrNoCredentialsAvailable)
	assert.Empty(t, jobs.jobs)
	assert.Equal(t, 0, eval.callCount())
}

func TestExecute_RetriesThenFails(t *testing.T) {
	jobs := newFakeJobStore()
	blobs := &fakeBlobStore{blobs: map[string][]byte{"user-1/test-1/a.wav": []byte("audio")}}
	pool := &fakeCredentialSource{queue: []credentialpool.Credential{{ID: 1, APIKey: "k"}}}
	eval := &scriptedEvaluator{}
	cfg := testPipeline()
	cfg.JobRetryCeiling = 2
	svc := newTestService(jobs, &fakeResultStore{}, blobs, pool, eval, cfg)

	job, err := svc.Submit(defaultSpec())
	require.NoError(t, err)

	status := waitForTerminal(t, jobs, job.ID)
	assert.Equal(t, datastore.JobStatusFailed, status)

	final := jobs.job(job.ID)
	assert.Equal(t, 2, final.RetryCount)
	assert.Equal(t, 3, eval.callCount())
	assert.True(t, final.LastError.Valid)
}

func TestExecute_MissingAudioFailsWithoutProviderCall(t *testing.T) {
	jobs := newFakeJobStore()
	blobs := &fakeBlobStore{blobs: map[string][]byte{}}
	pool := &fakeCredentialSource{queue: []credentialpool.Credential{{ID: 1, APIKey: "k"}}}
	eval := &scriptedEvaluator{}
	svc := newTestService(jobs, &fakeResultStore{}, blobs, pool, eval, testPipeline())

	job, err := svc.Submit(defaultSpec())
	require.NoError(t, err)

	status := waitForTerminal(t, jobs, job.ID)
	assert.Equal(t, datastore.JobStatusFailed, status)
	assert.Equal(t, 0, eval.callCount())

	final := jobs.job(job.ID)
	assert.Contains(t, final.LastError.String, "no usable audio")
}

func TestWatchdog_FailsStrandedJobExactlyOnce(t *testing.T) {
	jobs := newFakeJobStore()
	blobs := &fakeBlobStore{blobs: map[string][]byte{"user-1/test-1/a.wav": []byte("audio")}}
	pool := &fakeCredentialSource{queue: []credentialpool.Credential{{ID: 1, APIKey: "k"}}}
	eval := &scriptedEvaluator{
		results: []evalStep{{parsed: goodParsed()}},
		block:   make(chan struct{}),
	}
	cfg := testPipeline()
	cfg.WatchdogWindow = 30 * time.Millisecond
	svc := newTestService(jobs, &fakeResultStore{}, blobs, pool, eval, cfg)

	job, err := svc.Submit(defaultSpec())
	require.NoError(t, err)

	status := waitForTerminal(t, jobs, job.ID)
	assert.Equal(t, datastore.JobStatusFailed, status)

	final := jobs.job(job.ID)
	assert.Contains(t, final.LastError.String, "timed out")

	// Unblock the stuck worker; its late completion must not overwrite the
	// watchdog's terminal write.
	close(eval.block)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, datastore.JobStatusFailed, jobs.status(job.ID))
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, 1, jobs.terminalWrites)
}

func TestReclassifyFromTranscripts_DowngradesThinAnswers(t *testing.T) {
	svc := newTestService(newFakeJobStore(), &fakeResultStore{}, &fakeBlobStore{}, &fakeCredentialSource{}, &scriptedEvaluator{}, testPipeline())

	result := &responseparser.EvaluationResult{
		OverallBand: 7.0,
		Transcripts: map[string]string{
			"p1_q1": "Yes.",
			"p1_q2": "I usually spend my weekends hiking with friends in the hills outside the city, which I find very relaxing.",
		},
		QuestionScores: []responseparser.QuestionScore{
			{Question: "p1_q1", Score: 7.0, Classification: "developed"},
			{Question: "p1_q2", Score: 7.0, Classification: "developed"},
		},
	}
	questions := map[string]string{
		"p1_q1": "Do you like your hometown?",
		"p1_q2": "What do you do on weekends?",
	}

	svc.reclassifyFromTranscripts(result, questions, responseparser.Options{
		OverallScoreMargin: 1.5,
		MinimalSoftRatio:   0.3,
		MinimalSoftCap:     5.5,
		MinimalHardRatio:   0.5,
		MinimalHardCap:     4.0,
	})

	assert.Equal(t, responseparser.MinimalClassification, result.QuestionScores[0].Classification)
	assert.Equal(t, "developed", result.QuestionScores[1].Classification)
	// Half the answers are minimal: 1/2 is above the soft ratio, so the
	// overall band is pulled down to the soft cap.
	assert.Equal(t, 5.5, result.OverallBand)
}
