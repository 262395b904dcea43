// Package storagetest holds the behaviour every storage.Repository backend
// must share. Backend packages call Run from their own tests.
package storagetest

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/storage"
)

func env(payload string, version uint64) *storage.Envelope {
	return storage.PlainRecord([]byte(payload), version)
}

func payload(t *testing.T, e *storage.Envelope) string {
	t.Helper()
	b, err := storage.ReadPlain(e)
	require.NoError(t, err)
	return string(b)
}

// Run exercises repo. The repository must start empty for namespace ns.
func Run(t *testing.T, repo storage.Repository, ns string) {
	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ns, "CERT", "0a", env("one", 1)))
		got, err := repo.Get(ns, "CERT", "0a")
		require.NoError(t, err)
		assert.Equal(t, "one", payload(t, got))
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ns, "CERT", "missing")
		assert.True(t, storage.IsNotFound(err), "got %v", err)
		_, err = repo.Get(ns+"-absent", "CERT", "0a")
		assert.True(t, storage.IsNotFound(err), "got %v", err)
	})

	t.Run("ListAndScan", func(t *testing.T) {
		require.NoError(t, repo.Put(ns, "CERT", "0b", env("two", 1)))
		require.NoError(t, repo.Put(ns, "REVOKED", "0a", env("rev", 1)))

		ids, err := repo.List(ns, "CERT")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"0a", "0b"}, ids)

		snap, err := repo.Scan(ns, "CERT")
		require.NoError(t, err)
		require.Len(t, snap, 2)
		assert.Equal(t, "two", payload(t, snap["0b"]))

		ids, err = repo.List(ns+"-absent", "CERT")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("PutCASInsertOnly", func(t *testing.T) {
		require.NoError(t, repo.PutCAS(ns, "LOCK", "a", 0, env("first", 1)))
		err := repo.PutCAS(ns, "LOCK", "a", 0, env("second", 1))
		assert.ErrorIs(t, err, storage.ErrCASFailed)

		got, err := repo.Get(ns, "LOCK", "a")
		require.NoError(t, err)
		assert.Equal(t, "first", payload(t, got))
	})

	t.Run("PutCASVersioned", func(t *testing.T) {
		require.NoError(t, repo.PutCAS(ns, "CTR", "c", 0, env("1", 1)))
		require.NoError(t, repo.PutCAS(ns, "CTR", "c", 1, env("2", 2)))
		assert.ErrorIs(t, repo.PutCAS(ns, "CTR", "c", 1, env("x", 2)), storage.ErrCASFailed)
		assert.ErrorIs(t, repo.PutCAS(ns, "CTR", "missing", 1, env("x", 2)), storage.ErrCASFailed)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Put(ns, "TMP", "d", env("d", 1)))
		require.NoError(t, repo.Delete(ns, "TMP", "d"))
		_, err := repo.Get(ns, "TMP", "d")
		assert.True(t, storage.IsNotFound(err))
		assert.True(t, storage.IsNotFound(repo.Delete(ns, "TMP", "d")))
	})

	t.Run("BatchCommitAndRollback", func(t *testing.T) {
		err := repo.Batch(ns, func(tx storage.BatchTx) error {
			if err := tx.PutCAS("B", "1", 0, env("one", 1)); err != nil {
				return err
			}
			return tx.Put("B", "2", env("two", 1))
		})
		require.NoError(t, err)

		sentinel := errors.New("simulated")
		err = repo.Batch(ns, func(tx storage.BatchTx) error {
			if err := tx.Put("B", "3", env("three", 1)); err != nil {
				return err
			}
			if err := tx.Delete("B", "1"); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		ids, err := repo.List(ns, "B")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"1", "2"}, ids)
	})

	t.Run("ConcurrentInsertOnlyHasOneWinner", func(t *testing.T) {
		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if repo.PutCAS(ns, "RACE", "r", 0, env("x", 1)) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}
