package pki

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"
)

// Certificate status values.
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusRevoked   = "revoked"
	StatusWithdrawn = "withdrawn"
)

// CertificateInfo is a human-oriented summary of an issued certificate.
type CertificateInfo struct {
	CertificateRecord
	FingerprintSHA256 string      `json:"fingerprint_sha256"`
	KeyAlgorithm      string      `json:"key_algorithm"`
	Status            string      `json:"status"`
	Extensions        []Extension `json:"extensions"`
	CertificatePEM    string      `json:"certificate_pem"`
}

// Inspect summarizes the certificate with serial.
func (e *Engine) Inspect(ctx context.Context, serial string) (*CertificateInfo, error) {
	rec, err := e.GetCertificate(ctx, serial)
	if err != nil {
		return nil, err
	}
	cert, err := e.certificate(rec)
	if err != nil {
		return nil, err
	}
	revoked, err := e.revocations.Exists(rec.SerialNumber)
	if err != nil {
		return nil, err
	}

	status := certStatus(cert, e.now())
	switch {
	case revoked:
		status = StatusRevoked
	case rec.IsWithdrawn:
		status = StatusWithdrawn
	}
	return &CertificateInfo{
		CertificateRecord: rec.Record(),
		FingerprintSHA256: Fingerprint(cert),
		KeyAlgorithm:      KeyAlgorithmString(cert.PublicKey),
		Status:            status,
		Extensions:        rec.Extensions,
		CertificatePEM:    string(EncodeCertificatePEM(cert)),
	}, nil
}

// EncodeCertificatePEM returns cert as a PEM block.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// ParseCertificatePEM decodes the first CERTIFICATE block in data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, validationErrorf("no PEM certificate found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing certificate: %v", ErrValidation, err)
	}
	return cert, nil
}

// Fingerprint is the hex SHA-256 of the certificate DER.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func certStatus(cert *x509.Certificate, now time.Time) string {
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return StatusExpired
	}
	return StatusActive
}
