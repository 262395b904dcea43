package pki

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"maps"
	"time"
)

// DefaultMaxChainDepth bounds the number of issuer hops the validator walks.
const DefaultMaxChainDepth = 8

// ChainLink is one certificate in a chain: its metadata and the parsed
// certificate recovered from key custody.
type ChainLink struct {
	Record *Certificate
	Cert   *x509.Certificate
}

// CertificateSource finds candidate issuers.
type CertificateSource interface {
	// CertificatesBySubject returns every issued certificate whose subject
	// DN equals dn, including withdrawn ones.
	CertificatesBySubject(ctx context.Context, dn string) ([]ChainLink, error)
}

// RevocationChecker reports whether a serial has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, serial string) (bool, error)
}

// ChainValidator walks a certificate back to a self-signed root.
type ChainValidator struct {
	source      CertificateSource
	revocations RevocationChecker
	maxDepth    int
	now         func() time.Time
}

// NewChainValidator returns a validator over source. revocations may be nil,
// in which case revocation status of issuers is not consulted.
func NewChainValidator(source CertificateSource, revocations RevocationChecker, maxDepth int, now func() time.Time) *ChainValidator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	if now == nil {
		now = time.Now
	}
	return &ChainValidator{source: source, revocations: revocations, maxDepth: maxDepth, now: now}
}

// CheckChain reports whether link chains to a trusted root.
func (v *ChainValidator) CheckChain(ctx context.Context, link ChainLink) bool {
	return v.Verify(ctx, link) == nil
}

// Verify is CheckChain with the reason for rejection. Errors wrap
// ErrChainValidation unless the lookup itself failed.
func (v *ChainValidator) Verify(ctx context.Context, link ChainLink) error {
	if link.Record == nil || link.Cert == nil {
		return fmt.Errorf("%w: incomplete certificate", ErrChainValidation)
	}
	return v.verify(ctx, link, map[string]bool{}, 0)
}

func (v *ChainValidator) verify(ctx context.Context, link ChainLink, visited map[string]bool, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	serial := link.Record.SerialNumber
	if depth > v.maxDepth {
		return fmt.Errorf("%w: chain longer than %d", ErrChainValidation, v.maxDepth)
	}
	if visited[serial] {
		return fmt.Errorf("%w: issuer cycle at %s", ErrChainValidation, serial)
	}
	visited[serial] = true

	subjectDN := IdentityFromName(link.Cert.Subject).DN()
	issuerDN := IdentityFromName(link.Cert.Issuer).DN()

	if link.Record.Type == TypeRoot {
		if subjectDN != issuerDN {
			return fmt.Errorf("%w: root %s is not self-issued", ErrChainValidation, serial)
		}
		if err := checkSignedBy(link.Cert, link.Cert); err != nil {
			return fmt.Errorf("%w: root %s self-signature: %v", ErrChainValidation, serial, err)
		}
		return nil
	}

	parents, err := v.source.CertificatesBySubject(ctx, issuerDN)
	if err != nil {
		return fmt.Errorf("looking up issuer %q: %w", issuerDN, err)
	}

	err = fmt.Errorf("%w: no issuer %q for %s", ErrChainValidation, issuerDN, serial)
	for _, parent := range parents {
		if parent.Record.SerialNumber == serial {
			continue
		}
		if perr := v.checkParent(ctx, parent); perr != nil {
			err = perr
			continue
		}
		if perr := checkSignedBy(link.Cert, parent.Cert); perr != nil {
			err = fmt.Errorf("%w: %s is not signed by %s: %v", ErrChainValidation, serial, parent.Record.SerialNumber, perr)
			continue
		}
		perr := v.verify(ctx, parent, maps.Clone(visited), depth+1)
		if perr == nil {
			return nil
		}
		if !errors.Is(perr, ErrChainValidation) {
			return perr
		}
		err = perr
	}
	return err
}

// checkParent rejects issuers that may not sign: expired, withdrawn,
// revoked, or lacking an affirmative CA basic constraint.
func (v *ChainValidator) checkParent(ctx context.Context, parent ChainLink) error {
	serial := parent.Record.SerialNumber
	now := v.now()
	switch {
	case now.After(parent.Cert.NotAfter):
		return fmt.Errorf("%w: issuer %s expired", ErrChainValidation, serial)
	case now.Before(parent.Cert.NotBefore):
		return fmt.Errorf("%w: issuer %s not yet valid", ErrChainValidation, serial)
	case parent.Record.IsWithdrawn:
		return fmt.Errorf("%w: issuer %s withdrawn", ErrChainValidation, serial)
	case !parent.Cert.BasicConstraintsValid || !parent.Cert.IsCA:
		return fmt.Errorf("%w: issuer %s is not a CA", ErrChainValidation, serial)
	}
	if v.revocations != nil {
		revoked, err := v.revocations.IsRevoked(ctx, serial)
		if err != nil {
			return err
		}
		if revoked {
			return fmt.Errorf("%w: issuer %s revoked", ErrChainValidation, serial)
		}
	}
	return nil
}

func checkSignedBy(child, parent *x509.Certificate) error {
	return parent.CheckSignature(child.SignatureAlgorithm, child.RawTBSCertificate, child.Signature)
}
