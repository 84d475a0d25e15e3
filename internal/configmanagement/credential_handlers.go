// Package configmanagement exposes the admin surface for the shared
// credential pool: enrolling keys, retiring them and resetting quota flags.
package configmanagement

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"oral-eval-platform/internal/coreengine/credentialpool"
	"oral-eval-platform/internal/datastore"
)

// CreateCredentialRequest is the payload for enrolling a pool credential.
type CreateCredentialRequest struct {
	Label  string `json:"label"`
	APIKey string `json:"api_key" binding:"required"`
}

// CreateCredentialHandler enrolls a new API key into the shared pool.
func CreateCredentialHandler(c *gin.Context) {
	var req CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	cred := &datastore.Credential{
		Label:  sql.NullString{String: req.Label, Valid: req.Label != ""},
		APIKey: req.APIKey,
		Active: true,
	}
	id, err := datastore.CreateCredential(cred)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create credential: " + err.Error()})
		return
	}

	cred.ID = id
	c.JSON(http.StatusCreated, cred)
}

// PromoteCredentialHandler enrolls a key that already proved itself as a
// caller-supplied key during an evaluation run.
func PromoteCredentialHandler(c *gin.Context) {
	var req CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	manager := credentialpool.NewManager(credentialpool.DatastoreStore{})
	id, err := manager.Promote(req.APIKey, req.Label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to promote credential: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListCredentialsHandler returns every pool credential, active or not. API
// keys are redacted by the model's JSON tags.
func ListCredentialsHandler(c *gin.Context) {
	creds, err := datastore.ListCredentials()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list credentials: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, creds)
}

// GetCredentialHandler retrieves one pool credential by ID.
func GetCredentialHandler(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credential ID format"})
		return
	}

	cred, err := datastore.GetCredential(id)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve credential: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, cred)
}

// DeactivateCredentialHandler retires a credential without deleting its
// history.
func DeactivateCredentialHandler(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credential ID format"})
		return
	}

	if err := datastore.DeactivateCredential(id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate credential: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Credential deactivated"})
}

// DeleteCredentialHandler removes a credential outright.
func DeleteCredentialHandler(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credential ID format"})
		return
	}

	if err := datastore.DeleteCredential(id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete credential: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Credential deleted"})
}

// ResetQuotaHandler clears every credential's exhausted-family flags. Meant
// for the daily quota rollover or after a billing change.
func ResetQuotaHandler(c *gin.Context) {
	affected, err := datastore.ClearAllExhaustedFamilies()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset quota flags: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Quota flags cleared", "credentials_updated": affected})
}
