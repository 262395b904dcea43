package storage

import (
	"fmt"

	"github.com/jmcleod/ironca/internal/util"
)

const (
	envelopeVer = 1

	SchemeAESGCM = "aes256gcm"
	SchemePlain  = "plain"
)

// Envelope is a stored record. For SchemeAESGCM the Ciphertext is sealed
// with AES-256-GCM under Nonce; for SchemePlain it holds the payload as is
// and Nonce is empty.
type Envelope struct {
	Ver        int    `json:"ver"`
	Scheme     string `json:"scheme"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Version    uint64 `json:"version,omitempty"`
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte, version ...uint64) (*Envelope, error) {
	nonce, ciphertext, err := util.SealGCM(recordKey, plaintext, aad)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		Ver:        envelopeVer,
		Scheme:     SchemeAESGCM,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	if len(version) > 0 {
		env.Version = version[0]
	}
	return env, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeAESGCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return util.OpenGCM(recordKey, envelope.Nonce, envelope.Ciphertext, aad)
}

// PlainRecord wraps a public payload in an Envelope.
func PlainRecord(payload []byte, version uint64) *Envelope {
	return &Envelope{
		Ver:        envelopeVer,
		Scheme:     SchemePlain,
		Ciphertext: util.CopyBytes(payload),
		Version:    version,
	}
}

// ReadPlain returns the payload of a plain Envelope.
func ReadPlain(envelope *Envelope) ([]byte, error) {
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemePlain {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return util.CopyBytes(envelope.Ciphertext), nil
}
