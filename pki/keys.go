package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"
)

// KeyAlgorithm selects the key pair generated for new certificates.
type KeyAlgorithm string

const (
	KeyECDSAP256 KeyAlgorithm = "ecdsa-p256"
	KeyECDSAP384 KeyAlgorithm = "ecdsa-p384"
	KeyRSA2048   KeyAlgorithm = "rsa-2048"
	KeyRSA4096   KeyAlgorithm = "rsa-4096"
)

// DefaultKeyAlgorithm is used when none is configured.
const DefaultKeyAlgorithm = KeyECDSAP256

func ParseKeyAlgorithm(s string) (KeyAlgorithm, error) {
	a := KeyAlgorithm(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case KeyECDSAP256, KeyECDSAP384, KeyRSA2048, KeyRSA4096:
		return a, nil
	case "":
		return DefaultKeyAlgorithm, nil
	}
	return "", fmt.Errorf("%w: unknown key algorithm %q", ErrConfiguration, s)
}

// Generate creates a new private key.
func (a KeyAlgorithm) Generate() (crypto.Signer, error) {
	switch a {
	case KeyECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case KeyRSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case KeyRSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	}
	return nil, fmt.Errorf("%w: unknown key algorithm %q", ErrConfiguration, a)
}

// signatureKeyAlgorithm maps a signature algorithm to the public key
// algorithm it requires.
func signatureKeyAlgorithm(alg x509.SignatureAlgorithm) x509.PublicKeyAlgorithm {
	switch alg {
	case x509.ECDSAWithSHA1, x509.ECDSAWithSHA256, x509.ECDSAWithSHA384, x509.ECDSAWithSHA512:
		return x509.ECDSA
	case x509.SHA1WithRSA, x509.SHA256WithRSA, x509.SHA384WithRSA, x509.SHA512WithRSA,
		x509.SHA256WithRSAPSS, x509.SHA384WithRSAPSS, x509.SHA512WithRSAPSS:
		return x509.RSA
	case x509.PureEd25519:
		return x509.Ed25519
	}
	return x509.UnknownPublicKeyAlgorithm
}

func publicKeyAlgorithm(pub crypto.PublicKey) x509.PublicKeyAlgorithm {
	switch pub.(type) {
	case *ecdsa.PublicKey:
		return x509.ECDSA
	case *rsa.PublicKey:
		return x509.RSA
	case ed25519.PublicKey:
		return x509.Ed25519
	}
	return x509.UnknownPublicKeyAlgorithm
}

// ParseSignatureAlgorithm resolves the names x509 prints, such as
// "SHA256-RSA" or "ECDSA-SHA384", case-insensitively.
func ParseSignatureAlgorithm(s string) (x509.SignatureAlgorithm, error) {
	if strings.TrimSpace(s) == "" {
		return x509.UnknownSignatureAlgorithm, nil
	}
	want := strings.ToUpper(strings.TrimSpace(s))
	for alg := x509.MD2WithRSA; alg <= x509.PureEd25519; alg++ {
		if strings.ToUpper(alg.String()) == want {
			return alg, nil
		}
	}
	return x509.UnknownSignatureAlgorithm, validationErrorf("unknown signature algorithm %q", s)
}

// KeyAlgorithmString returns a human-readable key description.
func KeyAlgorithmString(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return fmt.Sprintf("ECDSA %s", k.Curve.Params().Name)
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d", k.N.BitLen())
	case ed25519.PublicKey:
		return "Ed25519"
	}
	return fmt.Sprintf("%T", pub)
}
