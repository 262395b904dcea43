package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams are persisted in container headers so a container opened
// later derives the same key.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func (p Argon2idParams) Validate() error {
	switch {
	case p.Time == 0:
		return fmt.Errorf("argon2id time must be positive")
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return fmt.Errorf("argon2id memory must be at least 8KiB per lane")
	case p.Parallelism == 0:
		return fmt.Errorf("argon2id parallelism must be positive")
	case p.KeyLen != 32:
		return fmt.Errorf("argon2id key length must be 32 bytes")
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
}
