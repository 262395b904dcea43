package keystore

import (
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// CertificateStore is Layer 2 of the custody hierarchy: certificate DER
// stored as "{typeTag}-{serial}", with an in-memory index by type tag.
type CertificateStore struct {
	container *Container

	mu    sync.RWMutex
	index map[string]map[string]struct{}
}

// Alias returns the Layer 2 alias for a certificate. The same alias names
// the matching private key in Layer 1.
func Alias(typeTag, serial string) string {
	return typeTag + "-" + serial
}

// SplitAlias reverses Alias. Type tags never contain '-', so the first one
// separates tag from serial.
func SplitAlias(alias string) (typeTag, serial string, ok bool) {
	typeTag, serial, ok = strings.Cut(alias, "-")
	if !ok || typeTag == "" || serial == "" {
		return "", "", false
	}
	return typeTag, serial, true
}

// NewCertificateStore builds the type index from the aliases already in c.
func NewCertificateStore(c *Container) (*CertificateStore, error) {
	s := &CertificateStore{container: c, index: make(map[string]map[string]struct{})}
	aliases, err := c.Aliases()
	if err != nil {
		return nil, fmt.Errorf("listing certificate aliases: %w", err)
	}
	for _, alias := range aliases {
		if typeTag, serial, ok := SplitAlias(alias); ok {
			s.addLocked(typeTag, serial)
		}
	}
	return s, nil
}

func (s *CertificateStore) addLocked(typeTag, serial string) {
	set, ok := s.index[typeTag]
	if !ok {
		set = make(map[string]struct{})
		s.index[typeTag] = set
	}
	set[serial] = struct{}{}
}

// Put stores cert under typeTag-serial and indexes it.
func (s *CertificateStore) Put(typeTag, serial string, cert *x509.Certificate) error {
	if strings.Contains(typeTag, "-") {
		return fmt.Errorf("invalid type tag %q", typeTag)
	}
	if err := s.container.Put(Alias(typeTag, serial), cert.Raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.addLocked(typeTag, serial)
	s.mu.Unlock()
	return nil
}

// Get parses the certificate stored under typeTag-serial.
func (s *CertificateStore) Get(typeTag, serial string) (*x509.Certificate, error) {
	der, err := s.container.Get(Alias(typeTag, serial))
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing certificate %s: %v", ErrDecrypt, Alias(typeTag, serial), err)
	}
	return cert, nil
}

// Serials returns the indexed serials for typeTag, sorted.
func (s *CertificateStore) Serials(typeTag string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.index[typeTag]))
}

// Delete removes typeTag-serial from the container and the index. A missing
// entry is not an error.
func (s *CertificateStore) Delete(typeTag, serial string) error {
	err := s.container.Delete(Alias(typeTag, serial))
	if err != nil && !errors.Is(err, ErrAliasNotFound) {
		return err
	}
	s.mu.Lock()
	delete(s.index[typeTag], serial)
	s.mu.Unlock()
	return nil
}
