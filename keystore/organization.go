package keystore

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"

	icrypto "github.com/jmcleod/ironca/internal/crypto"
	"github.com/jmcleod/ironca/internal/util"
)

const wrapVer = 1

// wrappedKey is the Layer 1 entry payload: a PKCS#8 private key sealed under
// the master key.
type wrappedKey struct {
	Ver        int    `json:"ver"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// OrganizationKeyStore is Layer 1 of the custody hierarchy. Entries are
// named "{orgID}-{alias}".
type OrganizationKeyStore struct {
	container *Container
	master    *MasterKey
}

// NewOrganizationKeyStore wraps keys stored in c under master.
func NewOrganizationKeyStore(c *Container, master *MasterKey) *OrganizationKeyStore {
	return &OrganizationKeyStore{container: c, master: master}
}

// EntryName returns the container entry name for an organization key.
func EntryName(orgID, alias string) string {
	return orgID + "-" + alias
}

// Store wraps key under the master key and writes it as orgID-alias.
func (s *OrganizationKeyStore) Store(orgID, alias string, key crypto.Signer) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshaling private key: %w", err)
	}
	defer util.WipeBytes(der)

	nonce, ciphertext, err := s.master.seal(der, icrypto.AADOrganizationKey(orgID, alias, wrapVer))
	if err != nil {
		return fmt.Errorf("wrapping private key: %w", err)
	}
	payload, err := json.Marshal(wrappedKey{Ver: wrapVer, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("encoding wrapped key: %w", err)
	}
	return s.container.Put(EntryName(orgID, alias), payload)
}

// Load unwraps the key stored as orgID-alias. A tag mismatch yields
// ErrDecrypt; nothing is returned in that case.
func (s *OrganizationKeyStore) Load(orgID, alias string) (crypto.Signer, error) {
	payload, err := s.container.Get(EntryName(orgID, alias))
	if err != nil {
		return nil, err
	}
	var wk wrappedKey
	if err := json.Unmarshal(payload, &wk); err != nil {
		return nil, fmt.Errorf("%w: decoding wrapped key: %v", ErrDecrypt, err)
	}
	if wk.Ver != wrapVer {
		return nil, fmt.Errorf("unsupported wrapped key version: %d", wk.Ver)
	}

	der, err := s.master.unseal(wk.Nonce, wk.Ciphertext, icrypto.AADOrganizationKey(orgID, alias, wk.Ver))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EntryName(orgID, alias), err)
	}
	defer util.WipeBytes(der)

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing private key: %v", ErrDecrypt, err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: stored key of type %T cannot sign", ErrDecrypt, parsed)
	}
	return signer, nil
}

// Has reports whether orgID-alias exists.
func (s *OrganizationKeyStore) Has(orgID, alias string) (bool, error) {
	return s.container.Has(EntryName(orgID, alias))
}

// Delete removes orgID-alias. A missing entry is not an error.
func (s *OrganizationKeyStore) Delete(orgID, alias string) error {
	err := s.container.Delete(EntryName(orgID, alias))
	if errors.Is(err, ErrAliasNotFound) {
		return nil
	}
	return err
}
