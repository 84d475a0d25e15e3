// Package credentialpool owns the lifecycle of the shared scoring-provider
// key pool plus the optional per-user key. All pool mutations go through the
// Manager; callers only ever borrow credentials for the duration of one call.
package credentialpool

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"oral-eval-platform/internal/datastore"
	"oral-eval-platform/internal/logger"
)

// ErrNoCredentialsAvailable is returned when neither a user key nor any
// usable pool credential exists for the requested model family.
var ErrNoCredentialsAvailable = errors.New("no credentials available")

// Credential is the in-memory borrow handed to the rotation loop. A
// user-owned credential has ID 0 and never maps back to pool state.
type Credential struct {
	ID        int
	APIKey    string
	UserOwned bool
}

// Store is the persistence surface the manager depends on.
type Store interface {
	ListActive(modelFamily, date string) ([]*datastore.Credential, error)
	MarkExhausted(id int, modelFamily, date string) error
	Deactivate(id int) error
	IncrementErrorCount(id int) error
	ResetErrorCount(id int) error
	Create(c *datastore.Credential) (int, error)
}

// Manager builds credential queues and applies rotation verdicts to the pool.
type Manager struct {
	store Store
	log   *logrus.Entry
	now   func() time.Time
	// shuffle spreads load across pool keys; swappable for deterministic tests.
	shuffle func(n int, swap func(i, j int))
}

// NewManager creates a pool manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:   store,
		log:     logger.New().Module("credentialpool"),
		now:     time.Now,
		shuffle: rand.Shuffle,
	}
}

// BuildQueue returns the ordered credential queue for one evaluation run: the
// user's own key first (if any), then all active pool credentials not flagged
// quota-exhausted for modelFamily today, in random order. A store failure is
// a hard failure: evaluating with unknown-quota credentials could silently
// exceed billing limits.
func (m *Manager) BuildQueue(userKey, modelFamily string) ([]Credential, error) {
	queue := []Credential{}
	if userKey != "" {
		queue = append(queue, Credential{APIKey: userKey, UserOwned: true})
	}

	records, err := m.store.ListActive(modelFamily, m.today())
	if err != nil {
		return nil, fmt.Errorf("failed to build credential queue: %w", err)
	}

	pool := make([]Credential, 0, len(records))
	for _, rec := range records {
		pool = append(pool, Credential{ID: rec.ID, APIKey: rec.APIKey})
	}
	m.shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	queue = append(queue, pool...)

	if len(queue) == 0 {
		return nil, fmt.Errorf("model family %s: %w", modelFamily, ErrNoCredentialsAvailable)
	}
	return queue, nil
}

// MarkExhausted persists the quota-exhaustion flag for one model family.
// Idempotent. User-owned credentials are never written back; the rotation
// loop tracks their exhaustion in-memory for the run.
func (m *Manager) MarkExhausted(cred Credential, modelFamily string) {
	if cred.UserOwned {
		return
	}
	if err := m.store.MarkExhausted(cred.ID, modelFamily, m.today()); err != nil {
		// Under-flagging risks continued billing against a spent key, so
		// this is loud, but the rotation loop must keep advancing.
		m.log.WithError(err).WithFields(logrus.Fields{
			"credential_id": cred.ID,
			"model_family":  modelFamily,
		}).Error("failed to persist quota exhaustion flag")
		return
	}
	m.log.WithFields(logrus.Fields{
		"credential_id": cred.ID,
		"model_family":  modelFamily,
	}).Warn("credential marked quota-exhausted")
}

// MarkInvalid deactivates a pool credential whose key the provider rejected.
func (m *Manager) MarkInvalid(cred Credential) {
	if cred.UserOwned {
		return
	}
	if err := m.store.Deactivate(cred.ID); err != nil {
		m.log.WithError(err).WithField("credential_id", cred.ID).Error("failed to deactivate credential")
		return
	}
	m.log.WithField("credential_id", cred.ID).Warn("credential deactivated")
}

// RecordSuccess resets the credential's error counter after a good call.
func (m *Manager) RecordSuccess(cred Credential) {
	if cred.UserOwned {
		return
	}
	if err := m.store.ResetErrorCount(cred.ID); err != nil {
		m.log.WithError(err).WithField("credential_id", cred.ID).Warn("failed to reset error counter")
	}
}

// RecordFailure bumps the credential's error counter without deactivating.
func (m *Manager) RecordFailure(cred Credential) {
	if cred.UserOwned {
		return
	}
	if err := m.store.IncrementErrorCount(cred.ID); err != nil {
		m.log.WithError(err).WithField("credential_id", cred.ID).Warn("failed to increment error counter")
	}
}

// Promote stores a user-supplied key as a new active pool credential.
func (m *Manager) Promote(userKey, label string) (int, error) {
	if userKey == "" {
		return 0, errors.New("cannot promote an empty key")
	}
	rec := &datastore.Credential{
		APIKey: userKey,
		Active: true,
	}
	if label != "" {
		rec.Label.String = label
		rec.Label.Valid = true
	}
	id, err := m.store.Create(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to promote user key to pool: %w", err)
	}
	m.log.WithField("credential_id", id).Info("user key promoted to pool")
	return id, nil
}

func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}
