package datastore

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Credential maps to the api_credentials table. Each row is one shared pool
// key for the scoring provider. User-supplied keys are never persisted here;
// they only exist in memory for the duration of one evaluation run.
type Credential struct {
	ID         int            `json:"id"`
	Label      sql.NullString `json:"label,omitempty"`
	APIKey     string         `json:"-"` // never serialized
	Active     bool           `json:"active"`
	ErrorCount int            `json:"error_count"`
	// ExhaustedFamilies is a JSONB map of model family -> date (YYYY-MM-DD)
	// on which the provider reported quota exhaustion for that family. A
	// family entry dated today excludes the credential from selection for
	// that family until the daily reset clears the map.
	ExhaustedFamilies json.RawMessage `json:"exhausted_families,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ExhaustedFor reports whether the credential is flagged quota-exhausted for
// the given model family on the given date.
func (c *Credential) ExhaustedFor(modelFamily string, date string) bool {
	if len(c.ExhaustedFamilies) == 0 || string(c.ExhaustedFamilies) == "null" {
		return false
	}
	var families map[string]string
	if err := json.Unmarshal(c.ExhaustedFamilies, &families); err != nil {
		// An unreadable flag map is treated as exhausted: under-flagging
		// risks continued billing against a spent key.
		return true
	}
	return families[modelFamily] == date
}
