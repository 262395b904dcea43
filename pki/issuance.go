package pki

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/ironca/internal/util"
)

const serialAttempts = 8

// CreateCertificate issues a certificate under the issuance policy:
//
//   - ROOT: ADMIN only, self-signed, no issuer serial, and an explicit issuer
//     identity must equal the subject.
//   - INTERMEDIATE: ADMIN or CA_USER, and the request must carry CA:true.
//   - END_ENTITY: any role; CA:true is refused.
//
// Non-root issuers must exist and be unexpired, unwithdrawn, unrevoked CA
// certificates. The new certificate is chain-validated before it is stored,
// and its metadata becomes visible only after its key entry is in custody.
func (e *Engine) CreateCertificate(ctx context.Context, req CreateCertificateRequest, requester AuthenticatedRequester) (rec *Certificate, err error) {
	started := time.Now()
	defer func() { e.metrics.observeIssue(req.Type, started, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPolicy(req, requester); err != nil {
		e.logger.Info("issuance rejected",
			slog.String("type", string(req.Type)),
			slog.String("role", string(requester.Role)),
			slog.String("organization", requester.OrganizationID),
			slog.String("error", err.Error()))
		return nil, err
	}
	sigAlg, err := ParseSignatureAlgorithm(req.SignatureAlgorithm)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var issuer *Certificate
	var issuerCert *x509.Certificate
	if req.Type != TypeRoot {
		issuer, issuerCert, err = e.loadIssuer(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	notBefore, notAfter, err := e.validity(req, issuerCert)
	if err != nil {
		return nil, err
	}
	serial, err := e.allocateSerial()
	if err != nil {
		return nil, err
	}

	key, err := e.keyAlg.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: generating %s key: %v", ErrCryptographic, e.keyAlg, err)
	}
	signingKey := key
	if issuer != nil {
		if signingKey, err = e.signer(issuer); err != nil {
			return nil, err
		}
	}

	cert, err := Build(BuildRequest{
		SerialNumber:       serial,
		Type:               req.Type,
		Subject:            req.Subject,
		SubjectKey:         key.Public(),
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		Extensions:         req.Extensions,
		SignatureAlgorithm: sigAlg,
		Issuer:             issuerCert,
		SigningKey:         signingKey,
		CRLBaseURL:         e.crlBaseURL,
	})
	if err != nil {
		return nil, err
	}

	rec = newCertificateRecord(cert, req.Type, requester.OrganizationID)
	if err := e.validator.Verify(ctx, ChainLink{Record: rec, Cert: cert}); err != nil {
		if errors.Is(err, ErrChainValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrChainValidation, err)
	}

	if err := e.custody.WriteKeyEntry(ctx, req.Type.AliasTag(), rec.SerialNumber, requester.OrganizationID, key, cert); err != nil {
		return nil, custodyError("storing key entry "+rec.SerialNumber, err)
	}
	if err := e.certs.Insert(rec); err != nil {
		if rbErr := e.custody.RemoveKeyEntry(requester.OrganizationID, req.Type.AliasTag(), rec.SerialNumber); rbErr != nil {
			e.logger.Error("rolling back key entry",
				slog.String("serial", rec.SerialNumber),
				slog.String("error", rbErr.Error()))
		}
		return nil, err
	}

	e.logger.Info("certificate issued",
		slog.String("serial", rec.SerialNumber),
		slog.String("type", string(rec.Type)),
		slog.String("subject", rec.SubjectDN()),
		slog.String("issuer", rec.IssuerDN()),
		slog.String("organization", rec.OrganizationID),
		slog.Time("expires", rec.Expires))
	return rec, nil
}

// checkPolicy applies the checks that need neither storage nor keys. Role
// checks come before the CA flag so that a USER asking for an intermediate
// learns about the role, not the extension.
func checkPolicy(req CreateCertificateRequest, requester AuthenticatedRequester) error {
	if !req.Type.Valid() {
		return validationErrorf("unknown certificate type %q", req.Type)
	}
	if requester.OrganizationID == "" {
		return validationErrorf("requester organization is required")
	}
	if req.Subject.CommonName == "" {
		return validationErrorf("subject common name is required")
	}

	switch req.Type {
	case TypeRoot:
		if requester.Role != RoleAdmin {
			return permissionErrorf("only %s may create root certificates", RoleAdmin)
		}
	case TypeIntermediate:
		if requester.Role != RoleAdmin && requester.Role != RoleCAUser {
			return permissionErrorf("only %s or %s may create intermediate certificates", RoleAdmin, RoleCAUser)
		}
	}

	isCA, present, err := requestedBasicConstraints(req.Extensions)
	if err != nil {
		return err
	}
	switch req.Type {
	case TypeRoot:
		if req.IssuerSerialNumber != "" {
			return validationErrorf("root certificates cannot name an issuer serial")
		}
		if req.Issuer != nil && !req.Issuer.SameName(req.Subject) {
			return validationErrorf("root issuer %q must equal subject %q", req.Issuer.DN(), req.Subject.DN())
		}
		if present && !isCA {
			return validationErrorf("root certificates must be CA:true")
		}
	case TypeIntermediate:
		if !present || !isCA {
			return validationErrorf("intermediate certificates require basic constraints CA:true")
		}
	case TypeEndEntity:
		if present && isCA {
			return validationErrorf("end-entity certificates cannot be CA:true")
		}
	}
	if req.Type.IsCA() {
		usage, present, err := requestedKeyUsage(req.Extensions)
		if err != nil {
			return err
		}
		const caUsage = 1<<5 | 1<<6 // keyCertSign, cRLSign
		if present && usage&caUsage != caUsage {
			return validationErrorf("%s key usage must include keyCertSign and cRLSign", req.Type)
		}
	}
	if req.Type != TypeRoot && req.IssuerSerialNumber == "" {
		return validationErrorf("%s certificates need an issuer serial", req.Type)
	}
	return nil
}

// loadIssuer resolves and checks the issuing CA of a non-root request.
func (e *Engine) loadIssuer(ctx context.Context, req CreateCertificateRequest) (*Certificate, *x509.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	serial, err := NormalizeSerial(req.IssuerSerialNumber)
	if err != nil {
		return nil, nil, err
	}
	issuer, err := e.certs.Get(serial)
	if err != nil {
		return nil, nil, fmt.Errorf("issuer: %w", err)
	}

	now := e.now()
	switch {
	case !issuer.Type.IsCA():
		return nil, nil, validationErrorf("issuer %s is an end-entity certificate", serial)
	case issuer.IsWithdrawn:
		return nil, nil, validationErrorf("issuer %s is withdrawn", serial)
	case now.After(issuer.Expires):
		return nil, nil, validationErrorf("issuer %s expired at %s", serial, issuer.Expires.Format(time.RFC3339))
	case now.Before(issuer.Issued):
		return nil, nil, validationErrorf("issuer %s is not valid until %s", serial, issuer.Issued.Format(time.RFC3339))
	}
	if req.Issuer != nil && !req.Issuer.SameName(issuer.Subject) {
		return nil, nil, validationErrorf("issuer %q does not match certificate %s subject %q",
			req.Issuer.DN(), serial, issuer.SubjectDN())
	}
	revoked, err := e.revocations.Exists(serial)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, validationErrorf("issuer %s is revoked", serial)
	}

	cert, err := e.certificate(issuer)
	if err != nil {
		return nil, nil, err
	}
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return nil, nil, validationErrorf("issuer %s is not a CA", serial)
	}
	if req.Type == TypeIntermediate && cert.MaxPathLen == 0 && cert.MaxPathLenZero {
		return nil, nil, validationErrorf("issuer %s path length forbids intermediates", serial)
	}
	return issuer, cert, nil
}

// validity resolves the requested window. A defaulted end is clamped to the
// issuer's expiry; an explicit end past it is refused.
func (e *Engine) validity(req CreateCertificateRequest, issuer *x509.Certificate) (time.Time, time.Time, error) {
	notBefore := req.NotBefore
	if notBefore.IsZero() {
		notBefore = e.now()
	}
	notBefore = notBefore.UTC().Truncate(time.Second)

	notAfter := req.NotAfter
	explicit := !notAfter.IsZero()
	if !explicit {
		notAfter = req.Type.defaultNotAfter(notBefore)
	}
	notAfter = notAfter.UTC().Truncate(time.Second)

	if issuer != nil {
		if notBefore.Before(issuer.NotBefore) {
			return time.Time{}, time.Time{}, validationErrorf("validity starts before the issuer's")
		}
		if notAfter.After(issuer.NotAfter) {
			if explicit {
				return time.Time{}, time.Time{}, validationErrorf("validity ends after the issuer expires at %s",
					issuer.NotAfter.Format(time.RFC3339))
			}
			notAfter = issuer.NotAfter
		}
	}
	if !notAfter.After(notBefore) {
		return time.Time{}, time.Time{}, validationErrorf("validity ends before it starts")
	}
	return notBefore, notAfter, nil
}

// allocateSerial draws random serials until one is unused. Callers hold e.mu.
func (e *Engine) allocateSerial() (string, error) {
	for range serialAttempts {
		n, err := util.RandomSerial()
		if err != nil {
			return "", fmt.Errorf("%w: drawing serial: %v", ErrCryptographic, err)
		}
		serial := FormatSerial(n)
		exists, err := e.certs.Exists(serial)
		if err != nil {
			return "", err
		}
		if !exists {
			return serial, nil
		}
	}
	return "", fmt.Errorf("%w: no unused serial after %d attempts", ErrDuplicateSerial, serialAttempts)
}
