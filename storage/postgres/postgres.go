// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (namespace, record_type,
// record_id) that mirrors the key space used by the BBolt and in-memory
// backends. Envelope fields are stored as individual columns so nonce and
// payload use native BYTEA storage.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/ironca/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ---------------------------------------------------------------------------
// Repository interface implementation
// ---------------------------------------------------------------------------

const upsertSQL = `INSERT INTO records (namespace, record_type, record_id, ver, scheme, nonce, payload, version)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	 ON CONFLICT (namespace, record_type, record_id)
	 DO UPDATE SET ver = $4, scheme = $5, nonce = $6, payload = $7, version = $8`

const deleteSQL = `DELETE FROM records WHERE namespace = $1 AND record_type = $2 AND record_id = $3`

func (s *Store) Put(namespace, recordType, recordID string, envelope *storage.Envelope) error {
	_, err := s.pool.Exec(context.Background(), upsertSQL,
		namespace, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

func (s *Store) Get(namespace, recordType, recordID string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.pool.QueryRow(context.Background(),
		`SELECT ver, scheme, nonce, payload, version
		 FROM records WHERE namespace = $1 AND record_type = $2 AND record_id = $3`,
		namespace, recordType, recordID).Scan(
		&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &env.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(context.Background(), s.pool, namespace, recordType, recordID)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) List(namespace, recordType string) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT record_id FROM records WHERE namespace = $1 AND record_type = $2`,
		namespace, recordType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Scan reads every record of recordType with a single query, which Postgres
// answers from one snapshot.
func (s *Store) Scan(namespace, recordType string) (map[string]*storage.Envelope, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT record_id, ver, scheme, nonce, payload, version
		 FROM records WHERE namespace = $1 AND record_type = $2`,
		namespace, recordType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*storage.Envelope)
	for rows.Next() {
		var id string
		var env storage.Envelope
		if err := rows.Scan(&id, &env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &env.Version); err != nil {
			return nil, err
		}
		out[id] = &env
	}
	return out, rows.Err()
}

func (s *Store) Delete(namespace, recordType, recordID string) error {
	tag, err := s.pool.Exec(context.Background(), deleteSQL, namespace, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(context.Background(), s.pool, namespace, recordType, recordID)
	}
	return nil
}

func (s *Store) PutCAS(namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background()) //nolint:errcheck

	if err := putCASInTx(context.Background(), tx, namespace, recordType, recordID, expectedVersion, envelope); err != nil {
		return err
	}
	return tx.Commit(context.Background())
}

func (s *Store) Batch(namespace string, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(context.Background())
	if err != nil {
		return err
	}
	defer pgTx.Rollback(context.Background()) //nolint:errcheck

	if err := fn(&pgBatchTx{tx: pgTx, namespace: namespace}); err != nil {
		return err
	}
	return pgTx.Commit(context.Background())
}

// ---------------------------------------------------------------------------
// BatchTx implementation
// ---------------------------------------------------------------------------

type pgBatchTx struct {
	tx        pgx.Tx
	namespace string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	_, err := btx.tx.Exec(context.Background(), upsertSQL,
		btx.namespace, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

func (btx *pgBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInTx(context.Background(), btx.tx, btx.namespace, recordType, recordID, expectedVersion, envelope)
}

func (btx *pgBatchTx) Delete(recordType, recordID string) error {
	tag, err := btx.tx.Exec(context.Background(), deleteSQL, btx.namespace, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// putCASInTx performs a compare-and-swap put within an existing transaction.
// Inserts use ON CONFLICT DO NOTHING so two racing inserts cannot both win.
func putCASInTx(ctx context.Context, tx pgx.Tx, namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	if expectedVersion == 0 {
		tag, err := tx.Exec(ctx,
			`INSERT INTO records (namespace, record_type, record_id, ver, scheme, nonce, payload, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (namespace, record_type, record_id) DO NOTHING`,
			namespace, recordType, recordID,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrCASFailed
		}
		return nil
	}

	var currentVersion uint64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE namespace = $1 AND record_type = $2 AND record_id = $3
		 FOR UPDATE`,
		namespace, recordType, recordID).Scan(&currentVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrCASFailed
	}
	if err != nil {
		return err
	}
	if currentVersion != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE records SET ver = $4, scheme = $5, nonce = $6, payload = $7, version = $8
		 WHERE namespace = $1 AND record_type = $2 AND record_id = $3`,
		namespace, recordType, recordID,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError distinguishes a missing namespace from a missing record, the
// same way the BBolt backend does.
func notFoundError(ctx context.Context, q querier, namespace, recordType, recordID string) error {
	var exists bool
	_ = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE namespace = $1 LIMIT 1)`,
		namespace).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", namespace, storage.ErrNamespaceNotFound)
	}
	return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
}
