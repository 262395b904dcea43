package pki

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/jmcleod/ironca/storage"
)

// RecordsNamespace holds certificate metadata, revocations and CRL counters.
const RecordsNamespace = "ironca-records"

const (
	recordCert      = "CERT"
	recordRevoked   = "REVOKED"
	recordCRLNumber = "CRLNUM"
	subjectIndex    = "SUBJECT-"

	casRetries = 16
)

// subjectIndexType names the index record type for one subject DN. The
// record IDs under it are the serials of certificates with that subject.
func subjectIndexType(dn string) string {
	return subjectIndex + dnKey(dn)
}

func dnKey(dn string) string {
	sum := sha256.Sum256([]byte(dn))
	return hex.EncodeToString(sum[:16])
}

func readJSON(env *storage.Envelope, out any) error {
	raw, err := storage.ReadPlain(env)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// ---------------------------------------------------------------------------
// Certificate metadata
// ---------------------------------------------------------------------------

// CertificateRepository persists certificate metadata. Records are unique
// by serial and mutate only through the withdrawal flag.
type CertificateRepository struct {
	repo storage.Repository
}

func NewCertificateRepository(repo storage.Repository) *CertificateRepository {
	return &CertificateRepository{repo: repo}
}

// Insert stores cert and its subject index entry atomically. An existing
// serial yields ErrDuplicateSerial.
func (r *CertificateRepository) Insert(cert *Certificate) error {
	payload, err := json.Marshal(cert)
	if err != nil {
		return fmt.Errorf("encoding certificate %s: %w", cert.SerialNumber, err)
	}
	err = r.repo.Batch(RecordsNamespace, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(recordCert, cert.SerialNumber, 0, storage.PlainRecord(payload, 1)); err != nil {
			return err
		}
		return tx.Put(subjectIndexType(cert.SubjectDN()), cert.SerialNumber, storage.PlainRecord([]byte(cert.SerialNumber), 1))
	})
	if errors.Is(err, storage.ErrCASFailed) {
		return fmt.Errorf("%w: %s", ErrDuplicateSerial, cert.SerialNumber)
	}
	if err != nil {
		return fmt.Errorf("storing certificate %s: %w", cert.SerialNumber, err)
	}
	return nil
}

func (r *CertificateRepository) get(serial string) (*Certificate, uint64, error) {
	env, err := r.repo.Get(RecordsNamespace, recordCert, serial)
	if storage.IsNotFound(err) {
		return nil, 0, fmt.Errorf("%w: certificate %s", ErrNotFound, serial)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("loading certificate %s: %w", serial, err)
	}
	var cert Certificate
	if err := readJSON(env, &cert); err != nil {
		return nil, 0, fmt.Errorf("decoding certificate %s: %w", serial, err)
	}
	return &cert, env.Version, nil
}

// Get returns the record with serial or ErrNotFound.
func (r *CertificateRepository) Get(serial string) (*Certificate, error) {
	cert, _, err := r.get(serial)
	return cert, err
}

// Exists reports whether a record with serial exists.
func (r *CertificateRepository) Exists(serial string) (bool, error) {
	_, err := r.repo.Get(RecordsNamespace, recordCert, serial)
	if storage.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// FindBySubjectDN returns every record whose canonical subject DN is dn.
func (r *CertificateRepository) FindBySubjectDN(dn string) ([]*Certificate, error) {
	serials, err := r.repo.List(RecordsNamespace, subjectIndexType(dn))
	if err != nil {
		return nil, fmt.Errorf("listing subject %q: %w", dn, err)
	}
	slices.Sort(serials)
	var out []*Certificate
	for _, serial := range serials {
		cert, err := r.Get(serial)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// Guard against index hash collisions.
		if cert.SubjectDN() == dn {
			out = append(out, cert)
		}
	}
	return out, nil
}

// List returns every record ordered by issue time, then serial.
func (r *CertificateRepository) List() ([]*Certificate, error) {
	snap, err := r.repo.Scan(RecordsNamespace, recordCert)
	if err != nil {
		return nil, fmt.Errorf("scanning certificates: %w", err)
	}
	out := make([]*Certificate, 0, len(snap))
	for serial, env := range snap {
		var cert Certificate
		if err := readJSON(env, &cert); err != nil {
			return nil, fmt.Errorf("decoding certificate %s: %w", serial, err)
		}
		out = append(out, &cert)
	}
	slices.SortFunc(out, func(a, b *Certificate) int {
		if c := a.Issued.Compare(b.Issued); c != 0 {
			return c
		}
		return strings.Compare(a.SerialNumber, b.SerialNumber)
	})
	return out, nil
}

// SetWithdrawn marks the record withdrawn. It returns false when it
// already was.
func (r *CertificateRepository) SetWithdrawn(serial string) (bool, error) {
	for range casRetries {
		cert, version, err := r.get(serial)
		if err != nil {
			return false, err
		}
		if cert.IsWithdrawn {
			return false, nil
		}
		cert.IsWithdrawn = true
		payload, err := json.Marshal(cert)
		if err != nil {
			return false, err
		}
		err = r.repo.PutCAS(RecordsNamespace, recordCert, serial, version, storage.PlainRecord(payload, version+1))
		if errors.Is(err, storage.ErrCASFailed) {
			continue
		}
		return err == nil, err
	}
	return false, fmt.Errorf("withdrawing %s: %w", serial, storage.ErrCASFailed)
}

// ---------------------------------------------------------------------------
// Revocations
// ---------------------------------------------------------------------------

// RevocationRepository persists insert-only revocation records and the
// per-issuer CRL number counters.
type RevocationRepository struct {
	repo storage.Repository
}

func NewRevocationRepository(repo storage.Repository) *RevocationRepository {
	return &RevocationRepository{repo: repo}
}

// Insert stores rc unless a record for the serial exists. The boolean
// reports whether this call inserted it.
func (r *RevocationRepository) Insert(rc RevokedCertificate) (bool, error) {
	payload, err := json.Marshal(rc)
	if err != nil {
		return false, err
	}
	err = r.repo.PutCAS(RecordsNamespace, recordRevoked, rc.SerialNumber, 0, storage.PlainRecord(payload, 1))
	if errors.Is(err, storage.ErrCASFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storing revocation %s: %w", rc.SerialNumber, err)
	}
	return true, nil
}

// Get returns the revocation record for serial or ErrNotFound.
func (r *RevocationRepository) Get(serial string) (*RevokedCertificate, error) {
	env, err := r.repo.Get(RecordsNamespace, recordRevoked, serial)
	if storage.IsNotFound(err) {
		return nil, fmt.Errorf("%w: revocation %s", ErrNotFound, serial)
	}
	if err != nil {
		return nil, err
	}
	var rc RevokedCertificate
	if err := readJSON(env, &rc); err != nil {
		return nil, fmt.Errorf("decoding revocation %s: %w", serial, err)
	}
	return &rc, nil
}

// Exists reports whether serial has been revoked.
func (r *RevocationRepository) Exists(serial string) (bool, error) {
	_, err := r.repo.Get(RecordsNamespace, recordRevoked, serial)
	if storage.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// ListByIssuer returns the revocations recorded for issuerDN from a single
// storage snapshot, oldest first.
func (r *RevocationRepository) ListByIssuer(issuerDN string) ([]RevokedCertificate, error) {
	snap, err := r.repo.Scan(RecordsNamespace, recordRevoked)
	if err != nil {
		return nil, fmt.Errorf("scanning revocations: %w", err)
	}
	var out []RevokedCertificate
	for serial, env := range snap {
		var rc RevokedCertificate
		if err := readJSON(env, &rc); err != nil {
			return nil, fmt.Errorf("decoding revocation %s: %w", serial, err)
		}
		if rc.IssuerDN == issuerDN {
			out = append(out, rc)
		}
	}
	slices.SortFunc(out, func(a, b RevokedCertificate) int {
		if c := a.RevokedAt.Compare(b.RevokedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SerialNumber, b.SerialNumber)
	})
	return out, nil
}

type crlCounter struct {
	IssuerDN string `json:"issuer_dn"`
	Number   string `json:"number"`
}

// NextCRLNumber atomically increments and returns the CRL number for
// issuerDN. The first CRL of an issuer is number 1.
func (r *RevocationRepository) NextCRLNumber(issuerDN string) (*big.Int, error) {
	id := dnKey(issuerDN)
	for range casRetries {
		next := big.NewInt(1)
		var version uint64
		env, err := r.repo.Get(RecordsNamespace, recordCRLNumber, id)
		switch {
		case err == nil:
			var c crlCounter
			if err := readJSON(env, &c); err != nil {
				return nil, fmt.Errorf("decoding CRL number: %w", err)
			}
			cur, ok := new(big.Int).SetString(c.Number, 10)
			if !ok {
				return nil, fmt.Errorf("decoding CRL number %q", c.Number)
			}
			next.Add(cur, big.NewInt(1))
			version = env.Version
		case !storage.IsNotFound(err):
			return nil, fmt.Errorf("loading CRL number: %w", err)
		}

		payload, err := json.Marshal(crlCounter{IssuerDN: issuerDN, Number: next.String()})
		if err != nil {
			return nil, err
		}
		err = r.repo.PutCAS(RecordsNamespace, recordCRLNumber, id, version, storage.PlainRecord(payload, version+1))
		if errors.Is(err, storage.ErrCASFailed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("storing CRL number: %w", err)
		}
		return next, nil
	}
	return nil, fmt.Errorf("allocating CRL number: %w", storage.ErrCASFailed)
}
