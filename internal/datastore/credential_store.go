package datastore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateCredential inserts a new pool credential and returns its ID.
func CreateCredential(c *Credential) (int, error) {
	if DB == nil {
		return 0, errors.New("database connection not initialized")
	}

	query := `
		INSERT INTO api_credentials (label, api_key, active, error_count, exhausted_families, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()

	exhausted := c.ExhaustedFamilies
	if exhausted == nil {
		exhausted = json.RawMessage("{}")
	}

	var id int
	err := DB.QueryRow(
		query,
		c.Label,
		c.APIKey,
		c.Active,
		c.ErrorCount,
		exhausted,
		c.CreatedAt,
		c.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create credential: %w", err)
	}
	c.ID = id
	return id, nil
}

// GetCredential retrieves a credential by ID.
func GetCredential(id int) (*Credential, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	query := `
		SELECT id, label, api_key, active, error_count, exhausted_families, created_at, updated_at
		FROM api_credentials
		WHERE id = $1
	`
	c := &Credential{}
	var exhausted []byte

	err := DB.QueryRow(query, id).Scan(
		&c.ID,
		&c.Label,
		&c.APIKey,
		&c.Active,
		&c.ErrorCount,
		&exhausted,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential with ID %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	c.ExhaustedFamilies = json.RawMessage(exhausted)
	return c, nil
}

// ListActiveCredentials lists active pool credentials that are not flagged
// quota-exhausted for modelFamily on the given date. The exhaustion filter
// is applied in Go after the query so the JSONB flag map stays a plain
// read-modify-free column on the read path.
func ListActiveCredentials(modelFamily string, date string) ([]*Credential, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	query := `
		SELECT id, label, api_key, active, error_count, exhausted_families, created_at, updated_at
		FROM api_credentials
		WHERE active = TRUE
		ORDER BY id
	`
	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active credentials: %w", err)
	}
	defer rows.Close()

	credentials := []*Credential{}
	for rows.Next() {
		c := &Credential{}
		var exhausted []byte
		if err := rows.Scan(
			&c.ID,
			&c.Label,
			&c.APIKey,
			&c.Active,
			&c.ErrorCount,
			&exhausted,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		c.ExhaustedFamilies = json.RawMessage(exhausted)
		if c.ExhaustedFor(modelFamily, date) {
			continue
		}
		credentials = append(credentials, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for credentials: %w", err)
	}
	return credentials, nil
}

// ListCredentials lists all pool credentials, active or not. Used by the
// admin management surface.
func ListCredentials() ([]*Credential, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	query := `
		SELECT id, label, api_key, active, error_count, exhausted_families, created_at, updated_at
		FROM api_credentials
		ORDER BY created_at DESC
	`
	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	credentials := []*Credential{}
	for rows.Next() {
		c := &Credential{}
		var exhausted []byte
		if err := rows.Scan(
			&c.ID,
			&c.Label,
			&c.APIKey,
			&c.Active,
			&c.ErrorCount,
			&exhausted,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan credential row: %w", err)
		}
		c.ExhaustedFamilies = json.RawMessage(exhausted)
		credentials = append(credentials, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for credentials: %w", err)
	}
	return credentials, nil
}

// MarkCredentialExhausted records quota exhaustion for one model family as a
// single jsonb_set statement, so concurrent writers for different families
// cannot clobber each other and repeated calls are idempotent.
func MarkCredentialExhausted(id int, modelFamily string, date string) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	query := `
		UPDATE api_credentials
		SET exhausted_families = jsonb_set(COALESCE(exhausted_families, '{}'::jsonb), ARRAY[$1], to_jsonb($2::text)),
		    updated_at = $3
		WHERE id = $4
	`
	result, err := DB.Exec(query, modelFamily, date, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark credential %d exhausted for %s: %w", id, modelFamily, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected marking credential %d exhausted: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeactivateCredential disables a credential entirely (invalid key).
func DeactivateCredential(id int) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	query := `UPDATE api_credentials SET active = FALSE, updated_at = $1 WHERE id = $2`
	result, err := DB.Exec(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate credential %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected deactivating credential %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementCredentialErrorCount bumps the error counter. A lost update here
// is tolerated; the counter is diagnostic, not load-bearing.
func IncrementCredentialErrorCount(id int) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}
	query := `UPDATE api_credentials SET error_count = error_count + 1, updated_at = $1 WHERE id = $2`
	if _, err := DB.Exec(query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to increment error count for credential %d: %w", id, err)
	}
	return nil
}

// ResetCredentialErrorCount clears the error counter after a successful call.
func ResetCredentialErrorCount(id int) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}
	query := `UPDATE api_credentials SET error_count = 0, updated_at = $1 WHERE id = $2`
	if _, err := DB.Exec(query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to reset error count for credential %d: %w", id, err)
	}
	return nil
}

// ClearAllExhaustedFamilies wipes every quota-exhaustion flag. Invoked by the
// daily reset endpoint once the provider's quota window rolls over.
func ClearAllExhaustedFamilies() (int64, error) {
	if DB == nil {
		return 0, errors.New("database connection not initialized")
	}
	query := `UPDATE api_credentials SET exhausted_families = '{}'::jsonb, updated_at = $1 WHERE exhausted_families <> '{}'::jsonb`
	result, err := DB.Exec(query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to clear exhausted families: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected clearing exhausted families: %w", err)
	}
	return rowsAffected, nil
}

// DeleteCredential removes a pool credential. Admin surface only.
func DeleteCredential(id int) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}
	query := `DELETE FROM api_credentials WHERE id = $1`
	result, err := DB.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected deleting credential %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("credential %d: %w", id, ErrNotFound)
	}
	return nil
}
