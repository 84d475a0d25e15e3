package jobmanagement

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"oral-eval-platform/internal/objectstore"
)

// maxSegmentBytes bounds one uploaded answer recording.
const maxSegmentBytes = 25 << 20

// SegmentHandlers exposes audio segment upload.
type SegmentHandlers struct {
	Audio *objectstore.AudioStore
}

// UploadSegmentHandler stores one recorded answer and returns the object
// path to reference in a later submission.
func (h *SegmentHandlers) UploadSegmentHandler(c *gin.Context) {
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

	contentType := c.ContentType()
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSegmentBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body: " + err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body is empty"})
		return
	}
	if len(data) > maxSegmentBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Audio segment exceeds the size limit"})
		return
	}

	objectName, err := h.Audio.PutSegment(c.Request.Context(), ownerID, testID, data, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store audio segment: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": objectName})
}
