package credentialpool

import "oral-eval-platform/internal/datastore"

// DatastoreStore adapts the datastore package-level credential functions to
// the Store interface.
type DatastoreStore struct{}

func (DatastoreStore) ListActive(modelFamily, date string) ([]*datastore.Credential, error) {
	return datastore.ListActiveCredentials(modelFamily, date)
}

func (DatastoreStore) MarkExhausted(id int, modelFamily, date string) error {
	return datastore.MarkCredentialExhausted(id, modelFamily, date)
}

func (DatastoreStore) Deactivate(id int) error {
	return datastore.DeactivateCredential(id)
}

func (DatastoreStore) IncrementErrorCount(id int) error {
	return datastore.IncrementCredentialErrorCount(id)
}

func (DatastoreStore) ResetErrorCount(id int) error {
	return datastore.ResetCredentialErrorCount(id)
}

func (DatastoreStore) Create(c *datastore.Credential) (int, error) {
	return datastore.CreateCredential(c)
}
