package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/storage"
	"github.com/jmcleod/ironca/storage/storagetest"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ironca-test.db")
	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	return s, path
}

func TestBBoltStorage(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	storagetest.Run(t, s, "ns1")
}

func TestBBoltStoragePersistsAcrossReopen(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.PutCAS("ns", "CERT", "0a", 0, storage.PlainRecord([]byte("kept"), 1)))
	require.NoError(t, s.Close())

	reopened, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("ns", "CERT", "0a")
	require.NoError(t, err)
	b, err := storage.ReadPlain(got)
	require.NoError(t, err)
	require.Equal(t, "kept", string(b))
}
