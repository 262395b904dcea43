package keystore

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironca/internal/util"
)

// MasterKeyAlias is the alias of the master key inside the master container.
const MasterKeyAlias = "master-key"

// MasterKey is the Layer 0 key. It only ever leaves its enclave for the
// duration of a single wrap or unwrap.
type MasterKey struct {
	key *memguard.Enclave
}

// LoadOrCreateMasterKey reads the master key from c, generating and storing
// a fresh 256-bit key when the container has none. The boolean reports
// whether a key was created.
func LoadOrCreateMasterKey(c *Container) (*MasterKey, bool, error) {
	raw, err := c.Get(MasterKeyAlias)
	created := false
	if errors.Is(err, ErrAliasNotFound) {
		raw, err = util.NewAESKey()
		if err != nil {
			return nil, false, err
		}
		err = c.Put(MasterKeyAlias, raw)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, ErrAliasExists):
			util.WipeBytes(raw)
			raw, err = c.Get(MasterKeyAlias)
		}
	}
	if err != nil {
		if raw != nil {
			util.WipeBytes(raw)
		}
		return nil, false, fmt.Errorf("loading master key: %w", err)
	}
	if len(raw) != util.AESKeySize {
		util.WipeBytes(raw)
		return nil, false, fmt.Errorf("%w: master key has %d bytes", ErrDecrypt, len(raw))
	}
	return &MasterKey{key: memguard.NewEnclave(raw)}, created, nil
}

func (m *MasterKey) seal(plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	buf, err := m.open()
	if err != nil {
		return nil, nil, err
	}
	defer buf.Destroy()
	return util.SealGCM(buf.Bytes(), plaintext, aad)
}

func (m *MasterKey) unseal(nonce, ciphertext, aad []byte) ([]byte, error) {
	buf, err := m.open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	plaintext, err := util.OpenGCM(buf.Bytes(), nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (m *MasterKey) open() (*memguard.LockedBuffer, error) {
	if m == nil || m.key == nil {
		return nil, ErrClosed
	}
	buf, err := m.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key: %w", err)
	}
	return buf, nil
}

// Destroy drops the enclave reference.
func (m *MasterKey) Destroy() {
	if m != nil {
		m.key = nil
	}
}
