package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"time"
)

// BuildRequest is everything the builder needs to produce one signed
// certificate. Issuer and SigningKey are nil/self for roots.
type BuildRequest struct {
	SerialNumber string
	Type         CertificateType
	Subject      Identity
	SubjectKey   crypto.PublicKey
	NotBefore    time.Time
	NotAfter     time.Time
	Extensions   []ExtensionDescriptor

	// SignatureAlgorithm is optional; the zero value lets x509 pick one
	// that fits SigningKey.
	SignatureAlgorithm x509.SignatureAlgorithm

	// Issuer is the parent certificate. It must be nil for ROOT.
	Issuer *x509.Certificate
	// SigningKey is the subject's own key for ROOT and the issuer's key
	// otherwise.
	SigningKey crypto.Signer

	CRLBaseURL string
}

// Build assembles, signs and self-checks a certificate. All failures are
// *BuildError values whose Err is ErrValidation or ErrCryptographic.
func Build(req BuildRequest) (*x509.Certificate, error) {
	serial, err := ParseSerial(req.SerialNumber)
	if err != nil {
		return nil, &BuildError{Reason: "invalid serial number", Err: err}
	}
	if !req.Type.Valid() {
		return nil, buildErrorf(ErrValidation, "unknown certificate type %q", req.Type)
	}
	if req.Subject.CommonName == "" {
		return nil, buildErrorf(ErrValidation, "subject common name is required")
	}
	if req.SubjectKey == nil || req.SigningKey == nil {
		return nil, buildErrorf(ErrValidation, "subject and signing keys are required")
	}
	if !req.NotAfter.After(req.NotBefore) {
		return nil, buildErrorf(ErrValidation, "validity ends before it starts")
	}

	isRoot := req.Type == TypeRoot
	switch {
	case isRoot && req.Issuer != nil:
		return nil, buildErrorf(ErrValidation, "root certificates are self-signed")
	case !isRoot && req.Issuer == nil:
		return nil, buildErrorf(ErrValidation, "%s certificate needs an issuer", req.Type)
	}

	signingAlg := publicKeyAlgorithm(req.SigningKey.Public())
	if req.SignatureAlgorithm != x509.UnknownSignatureAlgorithm {
		if want := signatureKeyAlgorithm(req.SignatureAlgorithm); want != signingAlg {
			return nil, buildErrorf(ErrValidation, "signature algorithm %s does not match %s signing key",
				req.SignatureAlgorithm, signingAlg)
		}
	}

	ec := EncodeContext{SubjectKey: req.SubjectKey, CRLBaseURL: req.CRLBaseURL}
	if isRoot {
		ec.IssuerKey = req.SubjectKey
		ec.IssuerDN = req.Subject.DN()
	} else {
		ec.IssuerKey = req.Issuer.PublicKey
		ec.IssuerDN = IdentityFromName(req.Issuer.Subject).DN()
	}
	exts, err := encodeExtensions(req.Extensions, defaultExtensions(req.Type, req.CRLBaseURL), ec)
	if err != nil {
		return nil, &BuildError{Reason: "encoding extensions", Err: err}
	}

	template := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            req.Subject.Name(),
		NotBefore:          req.NotBefore.UTC(),
		NotAfter:           req.NotAfter.UTC(),
		SignatureAlgorithm: req.SignatureAlgorithm,
		ExtraExtensions:    exts,
	}
	parent := template
	if !isRoot {
		parent = req.Issuer
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, req.SubjectKey, req.SigningKey)
	if err != nil {
		return nil, buildErrorf(ErrCryptographic, "signing: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, buildErrorf(ErrCryptographic, "parsing signed certificate: %v", err)
	}

	verifier := cert
	if !isRoot {
		verifier = req.Issuer
	}
	if err := verifier.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return nil, buildErrorf(ErrCryptographic, "signature self-check: %v", err)
	}
	if cert.IsCA != req.Type.IsCA() {
		return nil, buildErrorf(ErrValidation, "%s certificate has CA=%t", req.Type, cert.IsCA)
	}
	return cert, nil
}
