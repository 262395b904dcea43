// Package storage provides the record storage abstraction shared by the key
// custody containers and the certificate metadata store.
//
// Records are addressed by (namespace, recordType, recordID). Every record is
// an Envelope; custody entries are sealed, metadata records are plain.
package storage

// BatchTx provides writes within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, envelope *Envelope) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for record storage.
//
// PutCAS with expectedVersion 0 inserts only when the record is absent, which
// is how write-once entries and unique records are enforced. Scan returns a
// consistent snapshot of every record of one type, keyed by record ID.
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	List(namespace string, recordType string) ([]string, error)
	Scan(namespace string, recordType string) (map[string]*Envelope, error)
	PutCAS(namespace string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Delete(namespace string, recordType string, recordID string) error
	Batch(namespace string, fn func(tx BatchTx) error) error
}
