package pki_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/pki"
	"github.com/jmcleod/ironca/storage/memory"
)

func TestCertificateRepository(t *testing.T) {
	certs := pki.NewCertificateRepository(memory.NewRepository())
	now := time.Now().UTC().Truncate(time.Second)
	a := &pki.Certificate{SerialNumber: "0a", Type: pki.TypeRoot, Subject: pki.Identity{CommonName: "Root"}, Issued: now}
	b := &pki.Certificate{SerialNumber: "0b", Type: pki.TypeRoot, Subject: pki.Identity{CommonName: "Root"}, Issued: now.Add(-time.Hour)}

	require.NoError(t, certs.Insert(a))
	require.NoError(t, certs.Insert(b))
	assert.ErrorIs(t, certs.Insert(a), pki.ErrDuplicateSerial)

	got, err := certs.Get("0a")
	require.NoError(t, err)
	assert.Equal(t, a.Subject, got.Subject)
	_, err = certs.Get("0c")
	assert.ErrorIs(t, err, pki.ErrNotFound)

	byDN, err := certs.FindBySubjectDN("CN=Root")
	require.NoError(t, err)
	assert.Len(t, byDN, 2)

	all, err := certs.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "0b", all[0].SerialNumber)

	changed, err := certs.SetWithdrawn("0a")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = certs.SetWithdrawn("0a")
	require.NoError(t, err)
	assert.False(t, changed)
	got, err = certs.Get("0a")
	require.NoError(t, err)
	assert.True(t, got.IsWithdrawn)

	_, err = certs.SetWithdrawn("0c")
	assert.ErrorIs(t, err, pki.ErrNotFound)
}

func TestRevocationRepository(t *testing.T) {
	revs := pki.NewRevocationRepository(memory.NewRepository())
	now := time.Now().UTC()

	inserted, err := revs.Insert(pki.RevokedCertificate{SerialNumber: "0a", IssuerDN: "CN=Root", RevokedAt: now})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = revs.Insert(pki.RevokedCertificate{SerialNumber: "0a", IssuerDN: "CN=Root", RevokedAt: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = revs.Insert(pki.RevokedCertificate{SerialNumber: "0b", IssuerDN: "CN=Root", RevokedAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = revs.Insert(pki.RevokedCertificate{SerialNumber: "0c", IssuerDN: "CN=Other", RevokedAt: now})
	require.NoError(t, err)

	list, err := revs.ListByIssuer("CN=Root")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "0b", list[0].SerialNumber)
	assert.True(t, list[1].RevokedAt.Equal(now))

	ok, err := revs.Exists("0c")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = revs.Get("0d")
	assert.ErrorIs(t, err, pki.ErrNotFound)
}

func TestNextCRLNumberIsMonotonic(t *testing.T) {
	revs := pki.NewRevocationRepository(memory.NewRepository())

	const n = 10
	var wg sync.WaitGroup
	numbers := make(chan int64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := revs.NextCRLNumber("CN=Root")
			if assert.NoError(t, err) {
				numbers <- num.Int64()
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int64]bool{}
	for num := range numbers {
		seen[num] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing CRL number %d", i)
	}

	other, err := revs.NextCRLNumber("CN=Other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Int64())
}
