package jobmanagement

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/datastore"
)

// Handlers exposes the job lifecycle over HTTP.
type Handlers struct {
	Service *Service
}

// SubmitEvaluationRequest defines the expected payload for submitting an
// evaluation job. APIKey is the caller's own provider key; it is used for
// this run only and never stored.
type SubmitEvaluationRequest struct {
	TestID           string             `json:"test_id" binding:"required"`
	APIKey           string             `json:"api_key"`
	Topic            string             `json:"topic"`
	Difficulty       string             `json:"difficulty"`
	SegmentPaths     map[string]string  `json:"segment_paths" binding:"required"`
	SegmentDurations map[string]float64 `json:"segment_durations"`
	Questions        map[string]string  `json:"questions"`
	LowDurationNote  bool               `json:"low_duration_fluency"`
}

// SubmitEvaluationHandler accepts a job and detaches: the response carries
// the pending job handle while evaluation continues in the background.
func (h *Handlers) SubmitEvaluationHandler(c *gin.Context) {
	var req SubmitEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Owner-ID header is required"})
		return
	}

	job, err := h.Service.Submit(SubmissionSpec{
		OwnerID:            ownerID,
		TestID:             req.TestID,
		UserAPIKey:         req.APIKey,
		Topic:              req.Topic,
		Difficulty:         req.Difficulty,
		SegmentPaths:       req.SegmentPaths,
		SegmentDurations:   req.SegmentDurations,
		Questions:          req.Questions,
		LowDurationFluency: req.LowDurationNote,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNoUsableAudio):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, credentialpool.ErrNoCredentialsAvailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit evaluation job: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetJobHandler returns one job, scoped to its owner.
func (h *Handlers) GetJobHandler(c *gin.Context) {
	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Owner-ID header is required"})
		return
	}

	job, err := h.Service.GetJob(c.Param("id"), ownerID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve job: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetLatestJobHandler returns the owner's most recent job for a test, so a
// client reconnecting mid-evaluation can resume polling.
func (h *Handlers) GetLatestJobHandler(c *gin.Context) {
	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Owner-ID header is required"})
		return
	}
	testID := c.Query("test_id")
	if testID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "test_id query parameter is required"})
		return
	}

	job, err := h.Service.LatestJob(testID, ownerID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve job: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetResultHandler returns the normalized evaluation result linked to a job.
func (h *Handlers) GetResultHandler(c *gin.Context) {
	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Owner-ID header is required"})
		return
	}

	job, err := h.Service.GetJob(c.Param("id"), ownerID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve job: " + err.Error()})
		}
		return
	}
	if !job.ResultID.Valid {
		c.JSON(http.StatusNotFound, gin.H{"error": "job has no result yet", "status": job.Status})
		return
	}

	result, err := datastore.GetEvaluationResult(job.ResultID.String)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve result: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}
