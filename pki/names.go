package pki

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"strings"

	"github.com/jmcleod/ironca/internal/util"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// maxSerialOctets is the RFC 5280 limit on the DER content of a serial.
const maxSerialOctets = 20

// ---------------------------------------------------------------------------
// Distinguished names
// ---------------------------------------------------------------------------

// dnAttributes fixes the order attributes appear in a canonical DN.
var dnAttributes = []struct {
	key string
	get func(*Identity) *string
}{
	{"CN", func(i *Identity) *string { return &i.CommonName }},
	{"E", func(i *Identity) *string { return &i.Email }},
	{"OU", func(i *Identity) *string { return &i.OrganizationalUnit }},
	{"O", func(i *Identity) *string { return &i.Organization }},
	{"L", func(i *Identity) *string { return &i.Locality }},
	{"ST", func(i *Identity) *string { return &i.State }},
	{"C", func(i *Identity) *string { return &i.Country }},
}

var dnKeyAliases = map[string]string{
	"CN":           "CN",
	"E":            "E",
	"EMAIL":        "E",
	"EMAILADDRESS": "E",
	"OU":           "OU",
	"O":            "O",
	"L":            "L",
	"ST":           "ST",
	"S":            "ST",
	"C":            "C",
}

// DN returns the canonical distinguished name, e.g. "CN=Root CA,O=Acme,C=US".
// Two identities with the same attributes always produce the same string.
func (id Identity) DN() string {
	var parts []string
	for _, a := range dnAttributes {
		if v := strings.TrimSpace(*a.get(&id)); v != "" {
			parts = append(parts, a.key+"="+escapeDNValue(v))
		}
	}
	return strings.Join(parts, ",")
}

// SameName reports whether id and other name the same entity.
func (id Identity) SameName(other Identity) bool {
	return id.DN() == other.DN()
}

// Name converts id into a pkix.Name for certificate encoding.
func (id Identity) Name() pkix.Name {
	name := pkix.Name{CommonName: id.CommonName}
	if id.Organization != "" {
		name.Organization = []string{id.Organization}
	}
	if id.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{id.OrganizationalUnit}
	}
	if id.Country != "" {
		name.Country = []string{id.Country}
	}
	if id.State != "" {
		name.Province = []string{id.State}
	}
	if id.Locality != "" {
		name.Locality = []string{id.Locality}
	}
	if id.Email != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  oidEmailAddress,
			Value: asn1.RawValue{Tag: asn1.TagIA5String, Bytes: []byte(id.Email)},
		})
	}
	return name
}

// IdentityFromName extracts an Identity from a parsed certificate name.
// Only the first value of multi-valued attributes is kept.
func IdentityFromName(name pkix.Name) Identity {
	id := Identity{
		CommonName:         name.CommonName,
		Organization:       first(name.Organization),
		OrganizationalUnit: first(name.OrganizationalUnit),
		Country:            first(name.Country),
		State:              first(name.Province),
		Locality:           first(name.Locality),
	}
	for _, atv := range append(name.Names, name.ExtraNames...) {
		if !atv.Type.Equal(oidEmailAddress) {
			continue
		}
		switch v := atv.Value.(type) {
		case string:
			id.Email = v
		case asn1.RawValue:
			id.Email = string(v.Bytes)
		}
		if id.Email != "" {
			break
		}
	}
	return id
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ParseDN parses a distinguished name such as "CN=Root, O=Acme" into an
// Identity. Attribute keys are case-insensitive; ',' '=' '+' and '\' inside
// values are escaped with a backslash.
func ParseDN(s string) (Identity, error) {
	var id Identity
	parts := splitUnescaped(s, ',')
	if strings.TrimSpace(s) == "" {
		return id, validationErrorf("empty distinguished name")
	}
	for _, part := range parts {
		kv := splitUnescaped(part, '=')
		if len(kv) != 2 {
			return Identity{}, validationErrorf("malformed DN component %q", strings.TrimSpace(part))
		}
		key, ok := dnKeyAliases[strings.ToUpper(strings.TrimSpace(kv[0]))]
		if !ok {
			return Identity{}, validationErrorf("unsupported DN attribute %q", strings.TrimSpace(kv[0]))
		}
		value := unescapeDNValue(strings.TrimSpace(kv[1]))
		for _, a := range dnAttributes {
			if a.key == key {
				*a.get(&id) = value
			}
		}
	}
	return id, nil
}

// CanonicalDN rewrites s in canonical attribute order and spacing.
func CanonicalDN(s string) (string, error) {
	id, err := ParseDN(s)
	if err != nil {
		return "", err
	}
	return id.DN(), nil
}

func escapeDNValue(v string) string {
	var sb strings.Builder
	for _, r := range v {
		switch r {
		case ',', '=', '+', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func unescapeDNValue(v string) string {
	var sb strings.Builder
	escaped := false
	for _, r := range v {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// splitUnescaped splits s on sep, ignoring separators preceded by '\'.
func splitUnescaped(s string, sep rune) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

// ---------------------------------------------------------------------------
// Serial numbers
// ---------------------------------------------------------------------------

// FormatSerial renders a serial as lowercase hex without leading zeros.
func FormatSerial(n *big.Int) string {
	return n.Text(16)
}

// ParseSerial parses a hex serial ("0A:FF", "0x0aff" and "aff" are equal).
// The result is positive and fits in 20 DER octets.
func ParseSerial(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(util.NormalizeHex(s), 16)
	if !ok {
		return nil, validationErrorf("serial number %q is not hexadecimal", s)
	}
	if n.Sign() <= 0 {
		return nil, validationErrorf("serial number must be positive")
	}
	octets := len(n.Bytes())
	if n.Bytes()[0]&0x80 != 0 {
		octets++
	}
	if octets > maxSerialOctets {
		return nil, validationErrorf("serial number exceeds %d octets", maxSerialOctets)
	}
	return n, nil
}

// NormalizeSerial returns the canonical form of a hex serial.
func NormalizeSerial(s string) (string, error) {
	n, err := ParseSerial(s)
	if err != nil {
		return "", err
	}
	return FormatSerial(n), nil
}
