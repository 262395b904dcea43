package util

import (
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func Normalize(s string) string {
	return norm.NFKD.String(s)
}

// NormalizeHex lowercases a hex string and strips an optional 0x prefix and
// any colon separators, so "0A:FF" and "0aff" compare equal.
func NormalizeHex(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "0x")
	return strings.ReplaceAll(s, ":", "")
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(NormalizeHex(s))
}
