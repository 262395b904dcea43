package icrypto

import (
	"encoding/binary"
)

const (
	aadEntry     = "ENTRY"
	aadOrgWrap   = "ORGWRAP"
	aadVerifier  = "VERIFIER"
	containerKey = "ironca:container-key:v1"
)

// AADContainerEntry binds a sealed entry to its container and alias so an
// entry copied under another alias fails to open.
func AADContainerEntry(container, alias string, ver int) []byte {
	return buildAAD(aadEntry, container, alias, ver)
}

// AADContainerVerifier binds the passphrase verifier to its container.
func AADContainerVerifier(container string, ver int) []byte {
	return buildAAD(aadVerifier, container, ver)
}

// AADOrganizationKey binds a wrapped private key to the organization and
// alias it was stored under.
func AADOrganizationKey(orgID, alias string, ver int) []byte {
	return buildAAD(aadOrgWrap, orgID, alias, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			res = binary.BigEndian.AppendUint64(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
