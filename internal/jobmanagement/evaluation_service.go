// Package jobmanagement owns the evaluation job lifecycle: submission,
// background execution, retry bookkeeping and the watchdog that guarantees
// no job is stranded in processing.
package jobmanagement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"oral-eval-platform/internal/config"
	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/coreengine/metricscalculator"
	"oral-eval-platform/internal/coreengine/responseparser"
	"oral-eval-platform/internal/coreengine/rotation"
	"oral-eval-platform/internal/coreengine/scoringprovider"
	"oral-eval-platform/internal/coreengine/transcriptrepair"
	"oral-eval-platform/internal/datastore"
	"oral-eval-platform/internal/logger"
)

// ErrNoUsableAudio is returned when a submission references no audio segment
// worth sending to the provider.
var ErrNoUsableAudio = errors.New("no usable audio segments")

const maxLastErrorLen = 1000

const scoringInstruction = `You are an experienced oral English examiner. Evaluate the candidate's spoken answers below.
Each audio segment is labelled with a segment key; the "questions" object maps each segment key to the question the candidate was answering.
Score on the 9-band scale. Return ONLY a JSON object with this shape:
{
  "criteria": {
    "fluency_coherence": {"score": 0.0, "feedback": "", "examples": []},
    "lexical_resource": {"score": 0.0, "feedback": "", "examples": []},
    "grammatical_range": {"score": 0.0, "feedback": "", "examples": []},
    "pronunciation": {"score": 0.0, "feedback": "", "examples": []}
  },
  "overall_band": 0.0,
  "transcripts": {"<segment key>": "<verbatim transcript>"},
  "model_answers": {"<segment key>": "<an example band-9 answer>"},
  "question_scores": [{"question": "<segment key>", "score": 0.0, "classification": "developed|minimal"}],
  "summary": "",
  "suggestions": []
}
If a segment contains no speech, use "` + responseparser.NoSpeechSentinel + `" as its transcript and classify it as minimal. Do not add commentary outside the JSON object.`

// JobStore is the persistence surface for evaluation jobs.
type JobStore interface {
	Create(job *datastore.EvaluationJob) (string, error)
	Get(id string) (*datastore.EvaluationJob, error)
	LatestForOwner(testID, ownerID string) (*datastore.EvaluationJob, error)
	Transition(id, fromStatus, toStatus string) (bool, error)
	MarkTerminal(id, status, lastError string, resultID sql.NullString) (bool, error)
	ResetForRetry(id, lastError string) (bool, error)
}

// ResultStore persists normalized evaluation results.
type ResultStore interface {
	Create(result *datastore.EvaluationResult) (string, error)
}

// BlobStore fetches recorded audio segments.
type BlobStore interface {
	GetSegmentBytes(ctx context.Context, objectName string) ([]byte, string, error)
}

// CredentialSource builds the rotation queue for one run.
type CredentialSource interface {
	BuildQueue(userKey, modelFamily string) ([]credentialpool.Credential, error)
}

// Evaluator is the rotation entry point.
type Evaluator interface {
	Evaluate(ctx context.Context, parts []scoringprovider.Part, queue []credentialpool.Credential, models []string, temperature float64) (*rotation.Result, error)
}

// TranscriptRepairer runs the best-effort second transcription pass.
type TranscriptRepairer interface {
	Repair(ctx context.Context, transcripts map[string]string, segments map[string]transcriptrepair.Segment, cred credentialpool.Credential, model string) map[string]string
}

// Service coordinates the whole evaluation pipeline for submitted jobs.
type Service struct {
	jobs         JobStore
	results      ResultStore
	blobs        BlobStore
	pool         CredentialSource
	orchestrator Evaluator
	repairer     TranscriptRepairer

	cfg            config.PipelineConfig
	watchdogWindow time.Duration

	log *logrus.Entry
}

// NewService wires the pipeline components together.
func NewService(jobs JobStore, results ResultStore, blobs BlobStore, pool CredentialSource, orchestrator Evaluator, repairer TranscriptRepairer, cfg config.PipelineConfig) *Service {
	return &Service{
		jobs:           jobs,
		results:        results,
		blobs:          blobs,
		pool:           pool,
		orchestrator:   orchestrator,
		repairer:       repairer,
		cfg:            cfg,
		watchdogWindow: cfg.WatchdogWindow,
		log:            logger.New().Module("jobmanagement"),
	}
}

// SubmissionSpec is everything a caller provides to start an evaluation.
// UserAPIKey is used for this run only and is never persisted.
type SubmissionSpec struct {
	OwnerID    string
	TestID     string
	UserAPIKey string

	Topic      string
	Difficulty string

	SegmentPaths     map[string]string
	SegmentDurations map[string]float64
	Questions        map[string]string

	LowDurationFluency bool
}

// Submit persists a pending job, schedules its background execution and the
// watchdog racing it, then returns immediately. The caller never blocks on
// evaluation; terminal failure is only visible through the job record.
func (s *Service) Submit(spec SubmissionSpec) (*datastore.EvaluationJob, error) {
	if spec.OwnerID == "" || spec.TestID == "" {
		return nil, fmt.Errorf("owner id and test id are required")
	}
	if len(spec.SegmentPaths) == 0 {
		return nil, ErrNoUsableAudio
	}
	if len(s.cfg.ModelPriority) == 0 {
		return nil, fmt.Errorf("model priority list is empty")
	}

	// Fail fast on insufficient credential setup rather than after a wasted
	// network round-trip in the background.
	family := rotation.ModelFamily(s.cfg.ModelPriority[0])
	if _, err := s.pool.BuildQueue(spec.UserAPIKey, family); err != nil {
		return nil, err
	}

	segmentPaths, err := json.Marshal(spec.SegmentPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal segment paths: %w", err)
	}
	segmentDurations, err := json.Marshal(spec.SegmentDurations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal segment durations: %w", err)
	}
	questions, err := json.Marshal(spec.Questions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal questions: %w", err)
	}

	job := &datastore.EvaluationJob{
		OwnerID:            spec.OwnerID,
		TestID:             spec.TestID,
		Status:             datastore.JobStatusPending,
		SegmentPaths:       segmentPaths,
		SegmentDurations:   segmentDurations,
		Questions:          questions,
		Topic:              nullString(spec.Topic),
		Difficulty:         nullString(spec.Difficulty),
		LowDurationFluency: spec.LowDurationFluency,
		RetryCeiling:       s.cfg.JobRetryCeiling,
	}
	if _, err := s.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("failed to create evaluation job: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"owner_id": job.OwnerID,
		"test_id":  job.TestID,
		"segments": len(spec.SegmentPaths),
	}).Info("Evaluation job submitted")

	go s.execute(job.ID, spec.UserAPIKey)
	go s.watchdog(job.ID)

	return job, nil
}

// GetJob returns a job scoped to its owner.
func (s *Service) GetJob(id, ownerID string) (*datastore.EvaluationJob, error) {
	job, err := s.jobs.Get(id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("evaluation job %s: %w", id, datastore.ErrNotFound)
	}
	return job, nil
}

// LatestJob returns the owner's most recent job for a test.
func (s *Service) LatestJob(testID, ownerID string) (*datastore.EvaluationJob, error) {
	return s.jobs.LatestForOwner(testID, ownerID)
}

// execute drives one job to a terminal state, including the bounded
// processing -> pending retry loop. It must never propagate a panic: an
// uncaught error with no watchdog race would strand the job.
func (s *Service) execute(jobID, userKey string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("job_id", jobID).Errorf("Background execution panicked: %v", r)
			s.failJob(jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	for {
		ok, err := s.jobs.Transition(jobID, datastore.JobStatusPending, datastore.JobStatusProcessing)
		if err != nil {
			s.log.WithField("job_id", jobID).WithError(err).Error("Failed to transition job to processing")
			return
		}
		if !ok {
			s.log.WithField("job_id", jobID).Warn("Job no longer pending, skipping execution")
			return
		}

		runErr := s.runOnce(context.Background(), jobID, userKey)
		if runErr == nil {
			return
		}
		s.log.WithField("job_id", jobID).WithError(runErr).Warn("Evaluation run failed")

		if errors.Is(runErr, ErrNoUsableAudio) {
			s.failJob(jobID, runErr.Error())
			return
		}

		job, err := s.jobs.Get(jobID)
		if err != nil {
			s.log.WithField("job_id", jobID).WithError(err).Error("Failed to reload job after run failure")
			s.failJob(jobID, runErr.Error())
			return
		}
		if job.IsTerminal() {
			return
		}
		if job.RetryCount >= job.RetryCeiling {
			s.failJob(jobID, runErr.Error())
			return
		}

		reset, err := s.jobs.ResetForRetry(jobID, truncateError(runErr.Error()))
		if err != nil || !reset {
			if err != nil {
				s.log.WithField("job_id", jobID).WithError(err).Error("Failed to reset job for retry")
			}
			// Someone else (the watchdog) already moved the job on.
			return
		}
		s.log.WithFields(logrus.Fields{
			"job_id":      jobID,
			"retry_count": job.RetryCount + 1,
		}).Info("Job reset to pending for retry")
	}
}

// runOnce performs a single evaluation attempt end to end.
func (s *Service) runOnce(ctx context.Context, jobID, userKey string) error {
	job, err := s.jobs.Get(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	paths, err := job.SegmentPathMap()
	if err != nil {
		return fmt.Errorf("failed to decode segment paths: %w", err)
	}
	durations, err := job.SegmentDurationMap()
	if err != nil {
		return fmt.Errorf("failed to decode segment durations: %w", err)
	}
	questions, err := job.QuestionMap()
	if err != nil {
		return fmt.Errorf("failed to decode questions: %w", err)
	}

	segments := s.downloadSegments(ctx, paths, durations)
	if len(segments) == 0 {
		return ErrNoUsableAudio
	}

	parts, err := s.buildPayload(job, questions, segments)
	if err != nil {
		return err
	}

	family := rotation.ModelFamily(s.cfg.ModelPriority[0])
	queue, err := s.pool.BuildQueue(userKey, family)
	if err != nil {
		return err
	}

	rot, err := s.orchestrator.Evaluate(ctx, parts, queue, s.cfg.ModelPriority, s.cfg.ScoringTemperature)
	if err != nil {
		return err
	}

	opts := s.normalizeOptions()
	result := responseparser.Normalize(rot.Parsed, opts)

	result.Transcripts = s.repairer.Repair(ctx, result.Transcripts, segments, rot.Credential, rot.ModelUsed)
	s.reclassifyFromTranscripts(result, questions, opts)

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation result: %w", err)
	}
	stored := &datastore.EvaluationResult{
		JobID:     jobID,
		ModelUsed: rot.ModelUsed,
		Payload:   payload,
	}
	resultID, err := s.results.Create(stored)
	if err != nil {
		return fmt.Errorf("failed to persist evaluation result: %w", err)
	}

	won, err := s.jobs.MarkTerminal(jobID, datastore.JobStatusCompleted, "", sql.NullString{String: resultID, Valid: true})
	if err != nil {
		s.log.WithField("job_id", jobID).WithError(err).Error("Failed to mark job completed")
		return nil
	}
	if !won {
		s.log.WithField("job_id", jobID).Warn("Job already terminal, completion result kept for diagnosis")
		return nil
	}
	s.log.WithFields(logrus.Fields{
		"job_id":       jobID,
		"result_id":    resultID,
		"model_used":   rot.ModelUsed,
		"overall_band": result.OverallBand,
	}).Info("Evaluation job completed")
	return nil
}

// downloadSegments fetches every referenced blob, dropping segments whose
// audio is missing. A missing blob is not fatal by itself; the job only
// fails if nothing usable remains.
func (s *Service) downloadSegments(ctx context.Context, paths map[string]string, durations map[string]float64) map[string]transcriptrepair.Segment {
	segments := make(map[string]transcriptrepair.Segment, len(paths))
	for key, objectName := range paths {
		data, contentType, err := s.blobs.GetSegmentBytes(ctx, objectName)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"segment": key,
				"object":  objectName,
			}).WithError(err).Warn("Failed to download audio segment")
			continue
		}
		if len(data) == 0 {
			continue
		}
		segments[key] = transcriptrepair.Segment{
			Audio:    data,
			MIMEType: contentType,
			Duration: durations[key],
		}
	}
	return segments
}

// buildPayload assembles the provider parts: the scoring instruction, the
// machine-readable segment-to-question map, then one labelled audio part per
// segment in deterministic order.
func (s *Service) buildPayload(job *datastore.EvaluationJob, questions map[string]string, segments map[string]transcriptrepair.Segment) ([]scoringprovider.Part, error) {
	questionsJSON, err := json.Marshal(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal question map: %w", err)
	}

	var contextLines []string
	if job.Topic.Valid && job.Topic.String != "" {
		contextLines = append(contextLines, "Topic: "+job.Topic.String)
	}
	if job.Difficulty.Valid && job.Difficulty.String != "" {
		contextLines = append(contextLines, "Difficulty: "+job.Difficulty.String)
	}
	if job.LowDurationFluency {
		contextLines = append(contextLines, "Note: several answers are very short; weigh fluency accordingly rather than guessing content.")
	}

	parts := []scoringprovider.Part{scoringprovider.TextPart(scoringInstruction)}
	if len(contextLines) > 0 {
		parts = append(parts, scoringprovider.TextPart(strings.Join(contextLines, "\n")))
	}
	parts = append(parts, scoringprovider.TextPart(fmt.Sprintf(`{"questions": %s}`, questionsJSON)))

	keys := make([]string, 0, len(segments))
	for key := range segments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		seg := segments[key]
		parts = append(parts,
			scoringprovider.TextPart(fmt.Sprintf("Segment key: %s", key)),
			scoringprovider.AudioPart(seg.MIMEType, seg.Audio))
	}
	return parts, nil
}

// reclassifyFromTranscripts second-guesses the provider's per-question
// classifications from the transcript text, then re-applies the overall cap.
func (s *Service) reclassifyFromTranscripts(result *responseparser.EvaluationResult, questions map[string]string, opts responseparser.Options) {
	var changed bool
	for i, qs := range result.QuestionScores {
		transcript, ok := result.Transcripts[qs.Question]
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(transcript), responseparser.NoSpeechSentinel) {
			transcript = ""
		}
		if metricscalculator.IsMinimalAnswer(questions[qs.Question], transcript) &&
			!strings.EqualFold(qs.Classification, responseparser.MinimalClassification) {
			result.QuestionScores[i].Classification = responseparser.MinimalClassification
			changed = true
		}
	}
	if changed {
		responseparser.ReapplyOverallCap(result, opts)
	}
}

// watchdog races the background execution. When the window expires it
// forcibly fails the job unless something already reached a terminal state;
// the conditional write makes the terminal transition exactly-once.
func (s *Service) watchdog(jobID string) {
	timer := time.NewTimer(s.watchdogWindow)
	defer timer.Stop()
	<-timer.C

	won, err := s.jobs.MarkTerminal(jobID, datastore.JobStatusFailed,
		fmt.Sprintf("evaluation timed out: job not terminal after %s", s.watchdogWindow), sql.NullString{})
	if err != nil {
		s.log.WithField("job_id", jobID).WithError(err).Error("Watchdog failed to write terminal status")
		return
	}
	if won {
		s.log.WithField("job_id", jobID).Warn("Watchdog failed stranded job")
	}
}

func (s *Service) failJob(jobID, detail string) {
	won, err := s.jobs.MarkTerminal(jobID, datastore.JobStatusFailed, truncateError(detail), sql.NullString{})
	if err != nil {
		s.log.WithField("job_id", jobID).WithError(err).Error("Failed to mark job failed")
		return
	}
	if won {
		s.log.WithFields(logrus.Fields{
			"job_id": jobID,
			"error":  truncateError(detail),
		}).Warn("Evaluation job failed")
	}
}

func (s *Service) normalizeOptions() responseparser.Options {
	return responseparser.Options{
		OverallScoreMargin: s.cfg.OverallScoreMargin,
		MinimalSoftRatio:   s.cfg.MinimalSoftRatio,
		MinimalSoftCap:     s.cfg.MinimalSoftCap,
		MinimalHardRatio:   s.cfg.MinimalHardRatio,
		MinimalHardCap:     s.cfg.MinimalHardCap,
	}
}

func truncateError(detail string) string {
	if len(detail) > maxLastErrorLen {
		return detail[:maxLastErrorLen]
	}
	return detail
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
