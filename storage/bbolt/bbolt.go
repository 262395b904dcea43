// Package bbolt provides a BBolt-backed storage repository.
//
// Each namespace is a top-level bucket; records are keyed "recordType:recordID".
package bbolt

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/ironca/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(recordType, recordID string) []byte {
	return []byte(recordType + ":" + recordID)
}

func decode(data []byte) (*storage.Envelope, error) {
	var env storage.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &env, nil
}

func (s *Store) Put(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return putInBucket(b, recordType, recordID, envelope)
	})
}

func putInBucket(b *bbolt.Bucket, recordType, recordID string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.Put(recordKey(recordType, recordID), data)
}

func (s *Store) Get(namespace, recordType, recordID string) (*storage.Envelope, error) {
	var envelope *storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
		}
		data := b.Get(recordKey(recordType, recordID))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
		}
		var err error
		envelope, err = decode(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return envelope, nil
}

func (s *Store) Delete(namespace, recordType, recordID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
		}
		return deleteInBucket(b, recordType, recordID)
	})
}

func deleteInBucket(b *bbolt.Bucket, recordType, recordID string) error {
	key := recordKey(recordType, recordID)
	if b.Get(key) == nil {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return b.Delete(key)
}

func (s *Store) List(namespace, recordType string) ([]string, error) {
	var ids []string
	prefix := []byte(recordType + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

// Scan reads every record of recordType inside one read transaction.
func (s *Store) Scan(namespace, recordType string) (map[string]*storage.Envelope, error) {
	out := make(map[string]*storage.Envelope)
	prefix := []byte(recordType + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			env, err := decode(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			out[string(k[len(prefix):])] = env
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func putCASInBucket(b *bbolt.Bucket, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	existingData := b.Get(recordKey(recordType, recordID))

	if expectedVersion == 0 {
		if existingData != nil {
			return storage.ErrCASFailed
		}
	} else {
		if existingData == nil {
			return storage.ErrCASFailed
		}
		existing, err := decode(existingData)
		if err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}
	return putInBucket(b, recordType, recordID, envelope)
}

func (s *Store) PutCAS(namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return putCASInBucket(b, recordType, recordID, expectedVersion, envelope)
	})
}

type boltBatchTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	return putInBucket(tx.bucket, recordType, recordID, envelope)
}

func (tx *boltBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInBucket(tx.bucket, recordType, recordID, expectedVersion, envelope)
}

func (tx *boltBatchTx) Delete(recordType, recordID string) error {
	return deleteInBucket(tx.bucket, recordType, recordID)
}

// Batch runs fn inside a single bbolt write transaction; returning an error
// from fn rolls every write back.
func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{bucket: b})
	})
}
