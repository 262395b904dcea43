package pki

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Certificate types and roles
// ---------------------------------------------------------------------------

// CertificateType is the tier a certificate occupies in the trust chain.
type CertificateType string

const (
	TypeRoot         CertificateType = "ROOT"
	TypeIntermediate CertificateType = "INTERMEDIATE"
	TypeEndEntity    CertificateType = "END_ENTITY"
)

// CertificateTypes lists every tier, root first.
var CertificateTypes = []CertificateType{TypeRoot, TypeIntermediate, TypeEndEntity}

// ParseCertificateType accepts the canonical names case-insensitively, with
// '-' allowed in place of '_'.
func ParseCertificateType(s string) (CertificateType, error) {
	t := CertificateType(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	if !t.Valid() {
		return "", validationErrorf("unknown certificate type %q", s)
	}
	return t, nil
}

func (t CertificateType) Valid() bool {
	switch t {
	case TypeRoot, TypeIntermediate, TypeEndEntity:
		return true
	}
	return false
}

// IsCA reports whether certificates of this type may sign.
func (t CertificateType) IsCA() bool {
	return t == TypeRoot || t == TypeIntermediate
}

// AliasTag is the lowercase tag used in key custody aliases.
func (t CertificateType) AliasTag() string {
	return strings.ToLower(string(t))
}

// defaultNotAfter returns the end of the default validity period starting
// at from: ten years for roots, five for intermediates, one for end entities.
func (t CertificateType) defaultNotAfter(from time.Time) time.Time {
	switch t {
	case TypeRoot:
		return from.AddDate(10, 0, 0)
	case TypeIntermediate:
		return from.AddDate(5, 0, 0)
	default:
		return from.AddDate(1, 0, 0)
	}
}

// Role is the requester's authorization level.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleCAUser Role = "CA_USER"
	RoleUser   Role = "USER"
)

// ParseRole accepts "admin", "ca-user", "CA_USER" and similar spellings.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	switch r {
	case RoleAdmin, RoleCAUser, RoleUser:
		return r, nil
	}
	return "", validationErrorf("unknown role %q", s)
}

// AuthenticatedRequester is the caller identity supplied by the outer
// authentication layer.
type AuthenticatedRequester struct {
	OrganizationID string `json:"organization_id"`
	Role           Role   `json:"role"`
}

// ---------------------------------------------------------------------------
// Revocation reasons (RFC 5280 §5.3.1)
// ---------------------------------------------------------------------------

type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

var reasonNames = map[RevocationReason]string{
	ReasonUnspecified:          "UNSPECIFIED",
	ReasonKeyCompromise:        "KEY_COMPROMISE",
	ReasonCACompromise:         "CA_COMPROMISE",
	ReasonAffiliationChanged:   "AFFILIATION_CHANGED",
	ReasonSuperseded:           "SUPERSEDED",
	ReasonCessationOfOperation: "CESSATION_OF_OPERATION",
	ReasonCertificateHold:      "CERTIFICATE_HOLD",
	ReasonRemoveFromCRL:        "REMOVE_FROM_CRL",
	ReasonPrivilegeWithdrawn:   "PRIVILEGE_WITHDRAWN",
	ReasonAACompromise:         "AA_COMPROMISE",
}

func (r RevocationReason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

func (r RevocationReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REASON_%d", int(r))
}

// ParseRevocationReason accepts a reason name or its numeric code.
func ParseRevocationReason(s string) (RevocationReason, error) {
	norm := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_")
	for r, name := range reasonNames {
		if name == norm || fmt.Sprint(int(r)) == norm {
			return r, nil
		}
	}
	return 0, validationErrorf("unknown revocation reason %q", s)
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Identity describes a certificate subject or issuer. The public key is
// never persisted with metadata; it is recovered from the certificate held
// in key custody.
type Identity struct {
	CommonName         string           `json:"common_name"`
	Organization       string           `json:"organization,omitempty"`
	OrganizationalUnit string           `json:"organizational_unit,omitempty"`
	Country            string           `json:"country,omitempty"`
	State              string           `json:"state,omitempty"`
	Locality           string           `json:"locality,omitempty"`
	Email              string           `json:"email,omitempty"`
	PublicKey          crypto.PublicKey `json:"-"`
}

// Certificate is the persisted metadata of an issued certificate.
type Certificate struct {
	ID                 uuid.UUID       `json:"id"`
	SerialNumber       string          `json:"serial_number"`
	Subject            Identity        `json:"subject"`
	Issuer             Identity        `json:"issuer"`
	Issued             time.Time       `json:"issued"`
	Expires            time.Time       `json:"expires"`
	Type               CertificateType `json:"type"`
	IsWithdrawn        bool            `json:"is_withdrawn"`
	Version            int             `json:"version"`
	SignatureAlgorithm string          `json:"signature_algorithm"`
	Signature          []byte          `json:"signature"`
	Extensions         []Extension     `json:"extensions"`
	OrganizationID     string          `json:"organization_id"`
}

// SubjectDN returns the canonical subject distinguished name.
func (c *Certificate) SubjectDN() string {
	return c.Subject.DN()
}

// IssuerDN returns the canonical issuer distinguished name.
func (c *Certificate) IssuerDN() string {
	return c.Issuer.DN()
}

// ValidAt reports whether t falls inside the certificate's validity window.
func (c *Certificate) ValidAt(t time.Time) bool {
	return !t.Before(c.Issued) && !t.After(c.Expires)
}

// Record returns the externally exposed view of c.
func (c *Certificate) Record() CertificateRecord {
	return CertificateRecord{
		SerialNumber:       c.SerialNumber,
		Type:               c.Type,
		Issued:             c.Issued,
		Expires:            c.Expires,
		SignatureAlgorithm: c.SignatureAlgorithm,
		Subject:            c.SubjectDN(),
		Issuer:             c.IssuerDN(),
		IsWithdrawn:        c.IsWithdrawn,
	}
}

// newCertificateRecord captures the metadata of a freshly signed certificate.
func newCertificateRecord(cert *x509.Certificate, certType CertificateType, orgID string) *Certificate {
	rec := &Certificate{
		ID:                 uuid.New(),
		SerialNumber:       FormatSerial(cert.SerialNumber),
		Subject:            IdentityFromName(cert.Subject),
		Issuer:             IdentityFromName(cert.Issuer),
		Issued:             cert.NotBefore.UTC(),
		Expires:            cert.NotAfter.UTC(),
		Type:               certType,
		Version:            cert.Version,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		Signature:          cert.Signature,
		OrganizationID:     orgID,
	}
	rec.Subject.PublicKey = cert.PublicKey
	for _, ext := range cert.Extensions {
		rec.Extensions = append(rec.Extensions, DecodeExtension(ext))
	}
	return rec
}

// RevokedCertificate is an insert-only revocation record.
type RevokedCertificate struct {
	SerialNumber string           `json:"serial_number"`
	IssuerDN     string           `json:"issuer_dn"`
	Reason       RevocationReason `json:"reason"`
	RevokedAt    time.Time        `json:"revoked_at"`
}

// CertificateRecord is the read model exposed to callers.
type CertificateRecord struct {
	SerialNumber       string          `json:"serial_number"`
	Type               CertificateType `json:"type"`
	Issued             time.Time       `json:"issued"`
	Expires            time.Time       `json:"expires"`
	SignatureAlgorithm string          `json:"signature_algorithm"`
	Subject            string          `json:"subject"`
	Issuer             string          `json:"issuer"`
	IsWithdrawn        bool            `json:"is_withdrawn"`
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// CreateCertificateRequest asks the engine to issue a certificate. Zero
// NotBefore means now; zero NotAfter means the type's default validity,
// clamped to the issuer's expiry.
type CreateCertificateRequest struct {
	IssuerSerialNumber string                `json:"issuer_serial_number,omitempty"`
	Issuer             *Identity             `json:"issuer,omitempty"`
	Subject            Identity              `json:"subject"`
	Extensions         []ExtensionDescriptor `json:"extensions,omitempty"`
	NotBefore          time.Time             `json:"not_before,omitempty"`
	NotAfter           time.Time             `json:"not_after,omitempty"`
	Type               CertificateType       `json:"type"`
	// SignatureAlgorithm names an x509 algorithm such as "ECDSA-SHA384" or
	// "SHA256-RSA". Empty picks the default for the signing key.
	SignatureAlgorithm string                `json:"signature_algorithm,omitempty"`
}

// RevocationRequest asks the engine to revoke a certificate.
type RevocationRequest struct {
	SerialNumber string           `json:"serial_number"`
	Reason       RevocationReason `json:"reason"`
}
