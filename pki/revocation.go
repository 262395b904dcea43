package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
)

// Revoke records a revocation. Revoking an already revoked certificate
// returns the existing record unchanged. ADMIN may revoke any certificate;
// other roles only those issued to their own organization.
func (e *Engine) Revoke(ctx context.Context, req RevocationRequest, requester AuthenticatedRequester) (*RevokedCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	serial, err := NormalizeSerial(req.SerialNumber)
	if err != nil {
		return nil, err
	}
	rec, err := e.certs.Get(serial)
	if err != nil {
		return nil, err
	}
	if requester.Role != RoleAdmin && requester.OrganizationID != rec.OrganizationID {
		return nil, permissionErrorf("certificate %s belongs to another organization", serial)
	}
	if !req.Reason.Valid() {
		return nil, validationErrorf("unknown revocation reason %d", int(req.Reason))
	}

	existing, err := e.revocations.Get(serial)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if e.now().After(rec.Expires) {
		return nil, validationErrorf("certificate %s has expired", serial)
	}

	rc := RevokedCertificate{
		SerialNumber: serial,
		IssuerDN:     rec.IssuerDN(),
		Reason:       req.Reason,
		RevokedAt:    e.now().UTC().Truncate(0),
	}
	inserted, err := e.revocations.Insert(rc)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost a race with a concurrent revocation of the same serial.
		return e.revocations.Get(serial)
	}

	e.metrics.observeRevoke(rc.Reason)
	e.logger.Info("certificate revoked",
		slog.String("serial", serial),
		slog.String("issuer", rc.IssuerDN),
		slog.String("reason", rc.Reason.String()),
		slog.String("organization", requester.OrganizationID))
	return &rc, nil
}

// RevokedCertificates returns the revocations recorded against issuerDN.
func (e *Engine) RevokedCertificates(ctx context.Context, issuerDN string) ([]RevokedCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dn, err := CanonicalDN(issuerDN)
	if err != nil {
		return nil, err
	}
	return e.revocations.ListByIssuer(dn)
}

// GenerateCRL signs a DER CRL for the CA whose subject DN is issuerDN. The
// revocation set comes from one storage snapshot and every CRL of an issuer
// gets a larger CRL number than the previous one.
func (e *Engine) GenerateCRL(ctx context.Context, issuerDN string) (der []byte, err error) {
	defer func() { e.metrics.observeCRL(err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dn, err := CanonicalDN(issuerDN)
	if err != nil {
		return nil, err
	}
	issuer, err := e.crlIssuer(dn)
	if err != nil {
		return nil, err
	}
	cert, err := e.certificate(issuer)
	if err != nil {
		return nil, err
	}
	key, err := e.signer(issuer)
	if err != nil {
		return nil, err
	}

	revoked, err := e.revocations.ListByIssuer(dn)
	if err != nil {
		return nil, err
	}
	entries := make([]x509.RevocationListEntry, 0, len(revoked))
	for _, rc := range revoked {
		n, err := ParseSerial(rc.SerialNumber)
		if err != nil {
			return nil, fmt.Errorf("revocation record %s: %w", rc.SerialNumber, err)
		}
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   n,
			RevocationTime: rc.RevokedAt.UTC(),
			ReasonCode:     int(rc.Reason),
		})
	}

	number, err := e.revocations.NextCRLNumber(dn)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	template := &x509.RevocationList{
		Number:                    number,
		ThisUpdate:                now,
		NextUpdate:                now.Add(e.crlValidity),
		RevokedCertificateEntries: entries,
	}
	der, err = x509.CreateRevocationList(rand.Reader, template, cert, key)
	if err != nil {
		return nil, fmt.Errorf("%w: signing CRL for %q: %v", ErrCryptographic, dn, err)
	}

	e.logger.Info("CRL generated",
		slog.String("issuer", dn),
		slog.String("number", number.String()),
		slog.Int("entries", len(entries)))
	return der, nil
}

// crlIssuer picks the newest non-withdrawn CA certificate named dn.
func (e *Engine) crlIssuer(dn string) (*Certificate, error) {
	recs, err := e.certs.FindBySubjectDN(dn)
	if err != nil {
		return nil, err
	}
	var best *Certificate
	for _, rec := range recs {
		if !rec.Type.IsCA() || rec.IsWithdrawn {
			continue
		}
		if best == nil || rec.Issued.After(best.Issued) {
			best = rec
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no CA certificate for issuer %q", ErrNotFound, dn)
	}
	return best, nil
}

// ParseCRLNumber returns the CRL number of a DER CRL.
func ParseCRLNumber(der []byte) (*big.Int, error) {
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, validationErrorf("parsing CRL: %v", err)
	}
	return crl.Number, nil
}
