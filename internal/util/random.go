package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// SerialBits is the entropy of a generated certificate serial.
const SerialBits = 128

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomSerial returns a positive serial number of at most SerialBits bits.
// Its DER encoding never exceeds 17 octets.
func RandomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), SerialBits)
	for {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, fmt.Errorf("generating serial number: %w", err)
		}
		if n.Sign() > 0 {
			return n, nil
		}
	}
}
