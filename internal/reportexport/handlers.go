package reportexport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"oral-eval-platform/internal/datastore"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportJobHandler streams an xlsx report for a finished job.
func ExportJobHandler(c *gin.Context) {
	jobID := c.Param("id")
	job, err := datastore.GetEvaluationJob(jobID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve job: " + err.Error()})
		}
		return
	}
	if !job.ResultID.Valid {
		c.JSON(http.StatusConflict, gin.H{"error": "job has no result to export", "status": job.Status})
		return
	}

	stored, err := datastore.GetEvaluationResult(job.ResultID.String)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve result: " + err.Error()})
		return
	}

	f, err := BuildWorkbook(job, stored)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build report: " + err.Error()})
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="evaluation-%s.xlsx"`, job.ID))
	c.Header("Content-Type", xlsxContentType)
	if err := f.Write(c.Writer); err != nil {
		// Headers are already out; nothing useful left to send.
		c.Status(http.StatusInternalServerError)
	}
}
