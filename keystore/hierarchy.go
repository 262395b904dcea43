// Package keystore implements the three-tier key custody hierarchy.
//
// Layer 0 is a single master key held in its own passphrase-protected
// container. Layer 1 holds issued private keys as PKCS#8 blobs sealed under
// the master key with AES-256-GCM, named "{orgID}-{type}-{serial}". Layer 2
// holds the matching certificates named "{type}-{serial}" with an index by
// type. Every container is itself sealed under a key derived from its own
// passphrase, so reading a private key needs the organization passphrase,
// the master passphrase, and the issuing organization's ID.
package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmcleod/ironca/internal/util"
	"github.com/jmcleod/ironca/storage"
)

// Container names double as storage namespaces.
const (
	MasterContainer       = "ironca-master"
	OrganizationContainer = "ironca-organization"
	CertificateContainer  = "ironca-certificates"
)

// EntryRef identifies one Layer 2 certificate entry.
type EntryRef struct {
	TypeTag string
	Serial  string
}

type options struct {
	kdf    util.Argon2idParams
	logger *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithArgon2id overrides the KDF cost used when a container is created.
// Existing containers keep the parameters recorded in their header.
func WithArgon2id(time, memoryKiB uint32, threads uint8) Option {
	return func(o *options) {
		o.kdf = util.Argon2idParams{Time: time, MemoryKiB: memoryKiB, Parallelism: threads, KeyLen: 32}
	}
}

// WithLogger sets the logger used for custody events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Hierarchy ties the three layers together. Key writes are serialized.
type Hierarchy struct {
	mu     sync.Mutex
	closed bool
	logger *slog.Logger

	master     *MasterKey
	containers []*Container
	orgKeys    *OrganizationKeyStore
	certs      *CertificateStore
}

// Open opens (or creates) the three containers in repo. Missing or weak
// passphrases fail with ErrConfiguration and a wrong passphrase with
// ErrBadPassphrase, both before any key material is touched.
func Open(ctx context.Context, repo storage.Repository, passphrases Passphrases, opts ...Option) (*Hierarchy, error) {
	o := options{kdf: util.DefaultArgon2idParams(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := passphrases.Validate(); err != nil {
		return nil, err
	}

	h := &Hierarchy{logger: o.logger}
	for _, c := range []struct {
		name, passphrase string
	}{
		{MasterContainer, passphrases.Master},
		{OrganizationContainer, passphrases.Organization},
		{CertificateContainer, passphrases.Certificate},
	} {
		if err := ctx.Err(); err != nil {
			h.Close()
			return nil, err
		}
		container, err := OpenContainer(repo, c.name, c.passphrase, o.kdf)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("opening %s: %w", c.name, err)
		}
		h.containers = append(h.containers, container)
	}

	master, created, err := LoadOrCreateMasterKey(h.containers[0])
	if err != nil {
		h.Close()
		return nil, err
	}
	if created {
		h.logger.Info("generated master key", slog.String("container", MasterContainer))
	}
	h.master = master
	h.orgKeys = NewOrganizationKeyStore(h.containers[1], master)

	h.certs, err = NewCertificateStore(h.containers[2])
	if err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Hierarchy) checkOpen() error {
	if h.closed {
		return ErrClosed
	}
	return nil
}

// WriteKeyEntry stores key in Layer 1 and cert in Layer 2 for one issued
// certificate. If the Layer 2 write fails the Layer 1 entry is removed.
func (h *Hierarchy) WriteKeyEntry(ctx context.Context, typeTag, serial, orgID string, key crypto.Signer, cert *x509.Certificate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	alias := Alias(typeTag, serial)
	if err := h.orgKeys.Store(orgID, alias, key); err != nil {
		return fmt.Errorf("storing private key %s: %w", alias, err)
	}
	if err := h.certs.Put(typeTag, serial, cert); err != nil {
		if rbErr := h.orgKeys.Delete(orgID, alias); rbErr != nil {
			h.logger.Error("rolling back private key entry",
				slog.String("alias", EntryName(orgID, alias)),
				slog.String("error", rbErr.Error()))
		}
		return fmt.Errorf("storing certificate %s: %w", alias, err)
	}
	return nil
}

// ReadPrivateKey unwraps the private key for typeTag-serial stored by orgID.
// The returned key must not outlive the operation that needed it.
func (h *Hierarchy) ReadPrivateKey(orgID, typeTag, serial string) (crypto.Signer, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return h.orgKeys.Load(orgID, Alias(typeTag, serial))
}

// ReadCertificate returns the Layer 2 certificate for typeTag-serial.
func (h *Hierarchy) ReadCertificate(typeTag, serial string) (*x509.Certificate, error) {
	return h.certs.Get(typeTag, serial)
}

// HasKeyEntry reports whether both layers hold an entry for typeTag-serial.
func (h *Hierarchy) HasKeyEntry(orgID, typeTag, serial string) (bool, error) {
	ok, err := h.orgKeys.Has(orgID, Alias(typeTag, serial))
	if err != nil || !ok {
		return false, err
	}
	return h.containers[2].Has(Alias(typeTag, serial))
}

// RemoveKeyEntry deletes both layers for typeTag-serial. It exists to undo
// a failed issuance; missing entries are ignored.
func (h *Hierarchy) RemoveKeyEntry(orgID, typeTag, serial string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOpen(); err != nil {
		return err
	}
	return errors.Join(
		h.orgKeys.Delete(orgID, Alias(typeTag, serial)),
		h.certs.Delete(typeTag, serial),
	)
}

// Entries lists every Layer 2 entry of the given type tags.
func (h *Hierarchy) Entries(typeTags ...string) []EntryRef {
	var refs []EntryRef
	for _, tag := range typeTags {
		for _, serial := range h.certs.Serials(tag) {
			refs = append(refs, EntryRef{TypeTag: tag, Serial: serial})
		}
	}
	return refs
}

// Close drops every key reference. The hierarchy cannot be reopened.
func (h *Hierarchy) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.master.Destroy()
	for _, c := range h.containers {
		c.Close()
	}
}
