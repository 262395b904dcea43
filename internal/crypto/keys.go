package icrypto

import "github.com/jmcleod/ironca/internal/util"

// DeriveContainerKey turns a passphrase-derived seed into the key that seals
// the entries of one named container.
func DeriveContainerKey(seed []byte, container string) ([]byte, error) {
	return util.HKDF(seed, []byte(container), []byte(containerKey))
}
