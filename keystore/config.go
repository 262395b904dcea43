package keystore

import (
	"fmt"
	"unicode/utf8"

	"github.com/jmcleod/ironca/internal/util"
)

// MinPassphraseLength is the minimum number of characters (after NFKD
// normalization) accepted for a container passphrase.
const MinPassphraseLength = 12

// Passphrases protect the three custody containers. They are supplied by
// configuration at construction time and never read from globals.
type Passphrases struct {
	Master       string
	Organization string
	Certificate  string
}

// Validate reports ErrConfiguration for any missing or short passphrase.
func (p Passphrases) Validate() error {
	for _, c := range []struct {
		name, value string
	}{
		{"master", p.Master},
		{"organization", p.Organization},
		{"certificate", p.Certificate},
	} {
		if c.value == "" {
			return fmt.Errorf("%w: %s passphrase is not set", ErrConfiguration, c.name)
		}
		if n := utf8.RuneCountInString(util.Normalize(c.value)); n < MinPassphraseLength {
			return fmt.Errorf("%w: %s passphrase must be at least %d characters", ErrConfiguration, c.name, MinPassphraseLength)
		}
	}
	return nil
}
