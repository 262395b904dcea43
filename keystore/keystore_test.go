package keystore_test

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/keystore"
	"github.com/jmcleod/ironca/storage"
	"github.com/jmcleod/ironca/storage/memory"
)

var testPassphrases = keystore.Passphrases{
	Master:       "master passphrase 01",
	Organization: "organization passphrase 01",
	Certificate:  "certificate passphrase 01",
}

func openHierarchy(t *testing.T, repo storage.Repository, p keystore.Passphrases) (*keystore.Hierarchy, error) {
	t.Helper()
	return keystore.Open(t.Context(), repo, p, keystore.WithArgon2id(1, 64, 1))
}

func newKeyAndCert(t *testing.T, serial int64) (crypto.Signer, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: "keystore test"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func TestPassphrasesValidate(t *testing.T) {
	assert.NoError(t, testPassphrases.Validate())

	missing := testPassphrases
	missing.Organization = ""
	assert.ErrorIs(t, missing.Validate(), keystore.ErrConfiguration)

	short := testPassphrases
	short.Master = "short"
	assert.ErrorIs(t, short.Validate(), keystore.ErrConfiguration)

	_, err := openHierarchy(t, memory.NewRepository(), short)
	assert.ErrorIs(t, err, keystore.ErrConfiguration)
}

func TestKeyRoundTripThroughOrganizationLayer(t *testing.T) {
	h, err := openHierarchy(t, memory.NewRepository(), testPassphrases)
	require.NoError(t, err)
	defer h.Close()

	key, cert := newKeyAndCert(t, 10)
	require.NoError(t, h.WriteKeyEntry(t.Context(), "root", "0a", "org-1", key, cert))

	loaded, err := h.ReadPrivateKey("org-1", "root", "0a")
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("payload"))
	sig, err := loaded.Sign(rand.Reader, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(cert.PublicKey.(*ecdsa.PublicKey), digest[:], sig))

	got, err := h.ReadCertificate("root", "0a")
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, got.Raw)

	ok, err := h.HasKeyEntry("org-1", "root", "0a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyNeedsIssuingOrganization(t *testing.T) {
	h, err := openHierarchy(t, memory.NewRepository(), testPassphrases)
	require.NoError(t, err)
	defer h.Close()

	key, cert := newKeyAndCert(t, 11)
	require.NoError(t, h.WriteKeyEntry(t.Context(), "intermediate", "0b", "org-1", key, cert))

	_, err = h.ReadPrivateKey("org-2", "intermediate", "0b")
	assert.ErrorIs(t, err, keystore.ErrAliasNotFound)
}

func TestEntriesAreWriteOnce(t *testing.T) {
	h, err := openHierarchy(t, memory.NewRepository(), testPassphrases)
	require.NoError(t, err)
	defer h.Close()

	key, cert := newKeyAndCert(t, 12)
	require.NoError(t, h.WriteKeyEntry(t.Context(), "end_entity", "0c", "org-1", key, cert))
	err = h.WriteKeyEntry(t.Context(), "end_entity", "0c", "org-1", key, cert)
	assert.ErrorIs(t, err, keystore.ErrAliasExists)
}

func TestTamperedEntryFailsClosed(t *testing.T) {
	repo := memory.NewRepository()
	h, err := openHierarchy(t, repo, testPassphrases)
	require.NoError(t, err)
	defer h.Close()

	key, cert := newKeyAndCert(t, 13)
	require.NoError(t, h.WriteKeyEntry(t.Context(), "root", "0d", "org-1", key, cert))

	entry := keystore.EntryName("org-1", keystore.Alias("root", "0d"))
	env, err := repo.Get(keystore.OrganizationContainer, "ENTRY", entry)
	require.NoError(t, err)
	env.Ciphertext[len(env.Ciphertext)-1] ^= 0xFF
	require.NoError(t, repo.Put(keystore.OrganizationContainer, "ENTRY", entry, env))

	loaded, err := h.ReadPrivateKey("org-1", "root", "0d")
	assert.ErrorIs(t, err, keystore.ErrDecrypt)
	assert.Nil(t, loaded)
}

func TestEntryMovedToAnotherAliasFails(t *testing.T) {
	repo := memory.NewRepository()
	h, err := openHierarchy(t, repo, testPassphrases)
	require.NoError(t, err)
	defer h.Close()

	key, cert := newKeyAndCert(t, 14)
	require.NoError(t, h.WriteKeyEntry(t.Context(), "root", "0e", "org-1", key, cert))

	env, err := repo.Get(keystore.OrganizationContainer, "ENTRY", keystore.EntryName("org-1", "root-0e"))
	require.NoError(t, err)
	require.NoError(t, repo.Put(keystore.OrganizationContainer, "ENTRY", keystore.EntryName("org-2", "root-0e"), env))

	_, err = h.ReadPrivateKey("org-2", "root", "0e")
	assert.ErrorIs(t, err, keystore.ErrDecrypt)
}

func TestReopenKeepsMasterKeyAndIndex(t *testing.T) {
	repo := memory.NewRepository()
	h, err := openHierarchy(t, repo, testPassphrases)
	require.NoError(t, err)

	key, cert := newKeyAndCert(t, 15)
	require.NoError(t, h.WriteKeyEntry(t.Context(), "intermediate", "0f", "org-1", key, cert))
	h.Close()

	_, err = h.ReadPrivateKey("org-1", "intermediate", "0f")
	assert.ErrorIs(t, err, keystore.ErrClosed)

	reopened, err := openHierarchy(t, repo, testPassphrases)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.ReadPrivateKey("org-1", "intermediate", "0f")
	require.NoError(t, err)

	got, err := reopened.ReadCertificate("intermediate", "0f")
	require.NoError(t, err)
	assert.Equal(t, cert.Raw, got.Raw)

	assert.Equal(t, []keystore.EntryRef{{TypeTag: "intermediate", Serial: "0f"}}, reopened.Entries("root", "intermediate"))
}

func TestWrongPassphraseIsRejected(t *testing.T) {
	repo := memory.NewRepository()
	h, err := openHierarchy(t, repo, testPassphrases)
	require.NoError(t, err)
	h.Close()

	wrong := testPassphrases
	wrong.Organization = "not the organization passphrase"
	_, err = openHierarchy(t, repo, wrong)
	assert.ErrorIs(t, err, keystore.ErrBadPassphrase)
}

func TestRemoveKeyEntry(t *testing.T) {
	h, err := openHierarchy(t, memory.NewRepository(), testPassphrases)
	require.NoError(t, err)
	defer h.Close()

	key, cert := newKeyAndCert(t, 16)
	require.NoError(t, h.WriteKeyEntry(t.Context(), "end_entity", "10", "org-1", key, cert))
	require.NoError(t, h.RemoveKeyEntry("org-1", "end_entity", "10"))
	require.NoError(t, h.RemoveKeyEntry("org-1", "end_entity", "10"))

	ok, err := h.HasKeyEntry("org-1", "end_entity", "10")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.Entries("end_entity"))
}

func TestSplitAlias(t *testing.T) {
	tag, serial, ok := keystore.SplitAlias("end_entity-0a1b")
	require.True(t, ok)
	assert.Equal(t, "end_entity", tag)
	assert.Equal(t, "0a1b", serial)

	_, _, ok = keystore.SplitAlias("nodash")
	assert.False(t, ok)
}
