package pki

import (
	"context"
	"encoding/pem"
	"fmt"
	"log/slog"

	"github.com/youmark/pkcs8"
)

// KeyPairExport is a certificate with its private key, the key encrypted
// as PKCS#8 under the caller's password.
type KeyPairExport struct {
	SerialNumber   string
	CertificatePEM []byte
	PrivateKeyPEM  []byte
}

// ExportKeyPair unwraps the key for serial and re-encrypts it under
// password. ADMIN may export any key pair, other roles only their own
// organization's.
func (e *Engine) ExportKeyPair(ctx context.Context, serial string, password []byte, requester AuthenticatedRequester) (*KeyPairExport, error) {
	if len(password) == 0 {
		return nil, validationErrorf("an export password is required")
	}
	rec, err := e.GetCertificate(ctx, serial)
	if err != nil {
		return nil, err
	}
	if requester.Role != RoleAdmin && requester.OrganizationID != rec.OrganizationID {
		return nil, permissionErrorf("certificate %s belongs to another organization", rec.SerialNumber)
	}

	cert, err := e.certificate(rec)
	if err != nil {
		return nil, err
	}
	key, err := e.signer(rec)
	if err != nil {
		return nil, err
	}
	der, err := pkcs8.MarshalPrivateKey(key, password, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypting private key: %v", ErrCryptographic, err)
	}

	e.logger.Info("key pair exported",
		slog.String("serial", rec.SerialNumber),
		slog.String("organization", requester.OrganizationID))
	return &KeyPairExport{
		SerialNumber:   rec.SerialNumber,
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der}),
	}, nil
}
