package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/ironca/internal/crypto"
	"github.com/jmcleod/ironca/internal/util"
	"github.com/jmcleod/ironca/storage"
)

const (
	recordHeader = "HEADER"
	recordEntry  = "ENTRY"
	headerID     = "header"

	containerVer = 1
	saltSize     = 16
)

var verifierPlaintext = []byte("ironca container verifier")

// containerHeader is stored in the clear next to the entries. It holds what
// is needed to re-derive the container key and check the passphrase.
type containerHeader struct {
	Ver           int                 `json:"ver"`
	Salt          []byte              `json:"salt"`
	KDF           util.Argon2idParams `json:"kdf"`
	VerifierNonce []byte              `json:"verifier_nonce"`
	Verifier      []byte              `json:"verifier"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Container is a passphrase-protected keyed store of sealed entries living
// in one repository namespace. Entries are write-once; Delete exists only so
// a failed multi-container write can be undone.
type Container struct {
	name string
	repo storage.Repository

	mu  sync.Mutex
	key *memguard.Enclave
}

// OpenContainer opens the named container, creating it on first use.
// A passphrase that does not match the stored verifier yields
// ErrBadPassphrase.
func OpenContainer(repo storage.Repository, name, passphrase string, params util.Argon2idParams) (*Container, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: container %s has no passphrase", ErrConfiguration, name)
	}
	hdr, created, err := loadOrCreateHeader(repo, name, params)
	if err != nil {
		return nil, err
	}

	seed, err := util.DeriveArgon2idKey(util.Normalize(passphrase), hdr.Salt, hdr.KDF)
	if err != nil {
		return nil, fmt.Errorf("deriving container seed: %w", err)
	}
	defer util.WipeBytes(seed)

	key, err := icrypto.DeriveContainerKey(seed, name)
	if err != nil {
		return nil, fmt.Errorf("deriving container key: %w", err)
	}

	aad := icrypto.AADContainerVerifier(name, containerVer)
	if created {
		hdr.VerifierNonce, hdr.Verifier, err = util.SealGCM(key, verifierPlaintext, aad)
		if err != nil {
			util.WipeBytes(key)
			return nil, fmt.Errorf("sealing verifier: %w", err)
		}
		if err := writeHeader(repo, name, hdr); err != nil {
			util.WipeBytes(key)
			if !errors.Is(err, storage.ErrCASFailed) {
				return nil, err
			}
			// Another opener created the container first; start over against its header.
			return OpenContainer(repo, name, passphrase, params)
		}
	} else if _, err := util.OpenGCM(key, hdr.VerifierNonce, hdr.Verifier, aad); err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("container %s: %w", name, ErrBadPassphrase)
	}

	return &Container{
		name: name,
		repo: repo,
		key:  memguard.NewEnclave(key),
	}, nil
}

func loadOrCreateHeader(repo storage.Repository, name string, params util.Argon2idParams) (*containerHeader, bool, error) {
	env, err := repo.Get(name, recordHeader, headerID)
	if err == nil {
		raw, err := storage.ReadPlain(env)
		if err != nil {
			return nil, false, fmt.Errorf("reading container header: %w", err)
		}
		var hdr containerHeader
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return nil, false, fmt.Errorf("decoding container header: %w", err)
		}
		if hdr.Ver != containerVer {
			return nil, false, fmt.Errorf("unsupported container version: %d", hdr.Ver)
		}
		return &hdr, false, nil
	}
	if !storage.IsNotFound(err) {
		return nil, false, fmt.Errorf("loading container header: %w", err)
	}

	if err := params.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	salt, err := util.RandomBytes(saltSize)
	if err != nil {
		return nil, false, err
	}
	return &containerHeader{
		Ver:       containerVer,
		Salt:      salt,
		KDF:       params,
		CreatedAt: time.Now().UTC(),
	}, true, nil
}

func writeHeader(repo storage.Repository, name string, hdr *containerHeader) error {
	raw, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("encoding container header: %w", err)
	}
	return repo.PutCAS(name, recordHeader, headerID, 0, storage.PlainRecord(raw, 1))
}

// Name returns the container name, which is also its storage namespace.
func (c *Container) Name() string {
	return c.name
}

func (c *Container) openKey() (*memguard.LockedBuffer, error) {
	c.mu.Lock()
	enclave := c.key
	c.mu.Unlock()
	if enclave == nil {
		return nil, ErrClosed
	}
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening container key: %w", err)
	}
	return buf, nil
}

// Put seals secret under alias. Existing aliases are never overwritten.
func (c *Container) Put(alias string, secret []byte) error {
	buf, err := c.openKey()
	if err != nil {
		return err
	}
	defer buf.Destroy()

	env, err := storage.SealRecord(buf.Bytes(), secret, icrypto.AADContainerEntry(c.name, alias, containerVer), 1)
	if err != nil {
		return fmt.Errorf("sealing %s/%s: %w", c.name, alias, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.repo.PutCAS(c.name, recordEntry, alias, 0, env)
	if errors.Is(err, storage.ErrCASFailed) {
		return fmt.Errorf("%s/%s: %w", c.name, alias, ErrAliasExists)
	}
	return err
}

// Get opens the entry stored under alias. The caller owns the returned
// bytes and should wipe them when done.
func (c *Container) Get(alias string) ([]byte, error) {
	env, err := c.repo.Get(c.name, recordEntry, alias)
	if storage.IsNotFound(err) {
		return nil, fmt.Errorf("%s/%s: %w", c.name, alias, ErrAliasNotFound)
	}
	if err != nil {
		return nil, err
	}

	buf, err := c.openKey()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	secret, err := storage.OpenRecord(buf.Bytes(), env, icrypto.AADContainerEntry(c.name, alias, containerVer))
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", c.name, alias, ErrDecrypt)
	}
	return secret, nil
}

// Has reports whether an entry exists under alias without decrypting it.
func (c *Container) Has(alias string) (bool, error) {
	_, err := c.repo.Get(c.name, recordEntry, alias)
	if storage.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Aliases returns every alias in the container, sorted.
func (c *Container) Aliases() ([]string, error) {
	ids, err := c.repo.List(c.name, recordEntry)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// Delete removes the entry under alias.
func (c *Container) Delete(alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.repo.Delete(c.name, recordEntry, alias)
	if storage.IsNotFound(err) {
		return fmt.Errorf("%s/%s: %w", c.name, alias, ErrAliasNotFound)
	}
	return err
}

// Close drops the container key. Later calls fail with ErrClosed.
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = nil
}
