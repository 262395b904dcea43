package pki

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/jmcleod/ironca/internal/util"
)

// ExtensionType classifies an extension by OID. Unknown OIDs are
// ExtensionCustom and pass through as raw DER.
type ExtensionType int

const (
	ExtensionCustom ExtensionType = iota
	ExtensionSubjectAltName
	ExtensionKeyUsage
	ExtensionExtendedKeyUsage
	ExtensionBasicConstraints
	ExtensionCertificatePolicies
	ExtensionAuthorityKeyIdentifier
	ExtensionSubjectKeyIdentifier
	ExtensionCRLDistributionPoints
	ExtensionAuthorityInfoAccess
)

var extensionTypes = []struct {
	t    ExtensionType
	oid  asn1.ObjectIdentifier
	name string
}{
	{ExtensionSubjectAltName, asn1.ObjectIdentifier{2, 5, 29, 17}, "SubjectAlternativeName"},
	{ExtensionKeyUsage, asn1.ObjectIdentifier{2, 5, 29, 15}, "KeyUsage"},
	{ExtensionExtendedKeyUsage, asn1.ObjectIdentifier{2, 5, 29, 37}, "ExtendedKeyUsage"},
	{ExtensionBasicConstraints, asn1.ObjectIdentifier{2, 5, 29, 19}, "BasicConstraints"},
	{ExtensionCertificatePolicies, asn1.ObjectIdentifier{2, 5, 29, 32}, "CertificatePolicies"},
	{ExtensionAuthorityKeyIdentifier, asn1.ObjectIdentifier{2, 5, 29, 35}, "AuthorityKeyIdentifier"},
	{ExtensionSubjectKeyIdentifier, asn1.ObjectIdentifier{2, 5, 29, 14}, "SubjectKeyIdentifier"},
	{ExtensionCRLDistributionPoints, asn1.ObjectIdentifier{2, 5, 29, 31}, "CRLDistributionPoints"},
	{ExtensionAuthorityInfoAccess, asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}, "AuthorityInfoAccess"},
}

func (t ExtensionType) String() string {
	for _, e := range extensionTypes {
		if e.t == t {
			return e.name
		}
	}
	return "Custom"
}

// OID returns the object identifier of a known type, or nil for ExtensionCustom.
func (t ExtensionType) OID() asn1.ObjectIdentifier {
	for _, e := range extensionTypes {
		if e.t == t {
			return e.oid
		}
	}
	return nil
}

func (t ExtensionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ExtensionType) UnmarshalText(b []byte) error {
	parsed, ok := ParseExtensionType(string(b))
	if !ok {
		return fmt.Errorf("unknown extension type %q", b)
	}
	*t = parsed
	return nil
}

// ExtensionTypeOf classifies oid.
func ExtensionTypeOf(oid asn1.ObjectIdentifier) ExtensionType {
	for _, e := range extensionTypes {
		if e.oid.Equal(oid) {
			return e.t
		}
	}
	return ExtensionCustom
}

// ParseExtensionType resolves a display name. Matching ignores case and
// underscores, so "SUBJECT_ALTERNATIVE_NAME" and "subjectAlternativeName"
// are the same type.
func ParseExtensionType(name string) (ExtensionType, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	if key == "custom" {
		return ExtensionCustom, true
	}
	for _, e := range extensionTypes {
		if strings.ToLower(e.name) == key {
			return e.t, true
		}
	}
	return ExtensionCustom, false
}

// Extension is the decoded form of one certificate extension. Value is the
// raw DER extnValue.
type Extension struct {
	OID      string        `json:"oid"`
	Critical bool          `json:"critical"`
	Value    []byte        `json:"value"`
	Type     ExtensionType `json:"type"`
}

// ExtensionDescriptor is the textual form callers use to request an
// extension. Either Name or OID identifies it; both must agree when set.
type ExtensionDescriptor struct {
	OID      string `json:"oid,omitempty"`
	Name     string `json:"name,omitempty"`
	Critical bool   `json:"critical"`
	Value    string `json:"value"`
}

// EncodeContext carries the values derived extensions are computed from.
type EncodeContext struct {
	SubjectKey crypto.PublicKey
	IssuerKey  crypto.PublicKey
	IssuerDN   string
	CRLBaseURL string
}

// Resolve returns the type and OID the descriptor names.
func (d ExtensionDescriptor) Resolve() (ExtensionType, asn1.ObjectIdentifier, error) {
	var byOID asn1.ObjectIdentifier
	if d.OID != "" {
		oid, err := parseOID(d.OID)
		if err != nil {
			return 0, nil, err
		}
		byOID = oid
	}
	if d.Name == "" {
		if byOID == nil {
			return 0, nil, validationErrorf("extension needs a name or an OID")
		}
		return ExtensionTypeOf(byOID), byOID, nil
	}

	t, ok := ParseExtensionType(d.Name)
	if !ok {
		return 0, nil, validationErrorf("unknown extension %q", d.Name)
	}
	if t == ExtensionCustom {
		if byOID == nil {
			return 0, nil, validationErrorf("custom extension needs an OID")
		}
		return ExtensionTypeOf(byOID), byOID, nil
	}
	if byOID != nil && !byOID.Equal(t.OID()) {
		return 0, nil, validationErrorf("extension %s does not have OID %s", t, byOID)
	}
	return t, t.OID(), nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	fields := strings.Split(strings.TrimSpace(s), ".")
	if len(fields) < 2 {
		return nil, validationErrorf("malformed OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, validationErrorf("malformed OID %q", s)
		}
		oid[i] = n
	}
	return oid, nil
}

// EncodeExtension turns a descriptor into a DER extension.
func EncodeExtension(d ExtensionDescriptor, ec EncodeContext) (pkix.Extension, error) {
	t, oid, err := d.Resolve()
	if err != nil {
		return pkix.Extension{}, err
	}

	var value []byte
	switch t {
	case ExtensionBasicConstraints:
		value, err = encodeBasicConstraints(d.Value)
	case ExtensionKeyUsage:
		value, err = encodeKeyUsage(d.Value)
	case ExtensionExtendedKeyUsage:
		value, err = encodeExtKeyUsage(d.Value)
	case ExtensionSubjectAltName:
		value, err = encodeSubjectAltName(d.Value)
	case ExtensionSubjectKeyIdentifier:
		value, err = encodeSubjectKeyID(ec.SubjectKey)
	case ExtensionAuthorityKeyIdentifier:
		value, err = encodeAuthorityKeyID(ec.IssuerKey)
	case ExtensionCRLDistributionPoints:
		value, err = encodeCRLDistributionPoints(d.Value, ec)
	case ExtensionCertificatePolicies:
		value, err = encodeCertificatePolicies(d.Value)
	default:
		value, err = decodeRawHex(d.Value)
	}
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("encoding %s: %w", t, err)
	}
	return pkix.Extension{Id: oid, Critical: d.Critical, Value: value}, nil
}

// DecodeExtension keeps the raw extension and classifies it.
func DecodeExtension(ext pkix.Extension) Extension {
	return Extension{
		OID:      ext.Id.String(),
		Critical: ext.Critical,
		Value:    util.CopyBytes(ext.Value),
		Type:     ExtensionTypeOf(ext.Id),
	}
}

// PKIX converts e back into a pkix.Extension.
func (e Extension) PKIX() (pkix.Extension, error) {
	oid, err := parseOID(e.OID)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{Id: oid, Critical: e.Critical, Value: util.CopyBytes(e.Value)}, nil
}

// DescribeExtension renders e as a descriptor whose Value uses the same
// syntax EncodeExtension accepts.
func DescribeExtension(e Extension) (ExtensionDescriptor, error) {
	d := ExtensionDescriptor{OID: e.OID, Name: e.Type.String(), Critical: e.Critical}
	var err error
	switch e.Type {
	case ExtensionBasicConstraints:
		d.Value, err = describeBasicConstraints(e.Value)
	case ExtensionKeyUsage:
		d.Value, err = describeKeyUsage(e.Value)
	case ExtensionExtendedKeyUsage:
		d.Value, err = describeExtKeyUsage(e.Value)
	case ExtensionSubjectAltName:
		d.Value, err = describeSubjectAltName(e.Value)
	case ExtensionSubjectKeyIdentifier:
		var id []byte
		id, err = unmarshalExact(e.Value, &id)
		d.Value = util.HexEncode(id)
	case ExtensionAuthorityKeyIdentifier:
		var aki authorityKeyID
		_, err = unmarshalExact(e.Value, &aki)
		d.Value = util.HexEncode(aki.ID)
	case ExtensionCRLDistributionPoints:
		d.Value, err = describeCRLDistributionPoints(e.Value)
	case ExtensionCertificatePolicies:
		d.Value, err = describeCertificatePolicies(e.Value)
	default:
		d.Value = util.HexEncode(e.Value)
	}
	if err != nil {
		return ExtensionDescriptor{}, fmt.Errorf("decoding %s: %w", e.Type, err)
	}
	return d, nil
}

// unmarshalExact decodes der into out and rejects trailing bytes. For
// []byte targets it returns the decoded slice for convenience.
func unmarshalExact(der []byte, out any) ([]byte, error) {
	rest, err := asn1.Unmarshal(der, out)
	if err != nil {
		return nil, validationErrorf("malformed DER: %v", err)
	}
	if len(rest) != 0 {
		return nil, validationErrorf("trailing data after extension value")
	}
	if b, ok := out.(*[]byte); ok {
		return *b, nil
	}
	return nil, nil
}

// splitValues splits a comma separated descriptor value, dropping blanks.
func splitValues(v string) []string {
	var out []string
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// splitPair splits "k:v" or "k=v".
func splitPair(s string) (string, string, bool) {
	i := strings.IndexAny(s, ":=")
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}

// ----- basic constraints -----

type basicConstraints struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

// parseBasicConstraints accepts "CA:true", "CA:false", "CA:true,pathlen:0"
// and the "CA=true,pathLen=0" spelling.
func parseBasicConstraints(v string) (basicConstraints, error) {
	bc := basicConstraints{MaxPathLen: -1}
	seenCA := false
	for _, f := range splitValues(v) {
		key, val, ok := splitPair(f)
		if !ok {
			return bc, validationErrorf("malformed basic constraint %q", f)
		}
		switch strings.ToLower(key) {
		case "ca":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return bc, validationErrorf("CA must be true or false, got %q", val)
			}
			bc.IsCA, seenCA = b, true
		case "pathlen":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return bc, validationErrorf("pathlen must be a non-negative integer, got %q", val)
			}
			bc.MaxPathLen = n
		default:
			return bc, validationErrorf("unknown basic constraint %q", key)
		}
	}
	if !seenCA {
		return bc, validationErrorf("basic constraints must set CA")
	}
	if !bc.IsCA && bc.MaxPathLen >= 0 {
		return bc, validationErrorf("pathlen is only allowed with CA:true")
	}
	return bc, nil
}

func encodeBasicConstraints(v string) ([]byte, error) {
	bc, err := parseBasicConstraints(v)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(bc)
}

func describeBasicConstraints(der []byte) (string, error) {
	bc := basicConstraints{MaxPathLen: -1}
	if _, err := unmarshalExact(der, &bc); err != nil {
		return "", err
	}
	if !bc.IsCA {
		return "CA:false", nil
	}
	if bc.MaxPathLen >= 0 {
		return fmt.Sprintf("CA:true,pathlen:%d", bc.MaxPathLen), nil
	}
	return "CA:true", nil
}

// ----- key usage -----

// keyUsageNames is indexed by the KeyUsage bit position.
var keyUsageNames = []string{
	"digitalSignature",
	"nonRepudiation",
	"keyEncipherment",
	"dataEncipherment",
	"keyAgreement",
	"keyCertSign",
	"cRLSign",
	"encipherOnly",
	"decipherOnly",
}

func keyUsageBit(name string) (int, bool) {
	if strings.EqualFold(name, "contentCommitment") {
		return 1, true
	}
	for i, n := range keyUsageNames {
		if strings.EqualFold(n, name) {
			return i, true
		}
	}
	return 0, false
}

func encodeKeyUsage(v string) ([]byte, error) {
	names := splitValues(v)
	if len(names) == 0 {
		return nil, validationErrorf("key usage needs at least one usage")
	}
	var bits [2]byte
	length := 0
	for _, name := range names {
		bit, ok := keyUsageBit(name)
		if !ok {
			return nil, validationErrorf("unknown key usage %q", name)
		}
		bits[bit/8] |= 0x80 >> uint(bit%8)
		length = max(length, bit+1)
	}
	return asn1.Marshal(asn1.BitString{Bytes: bits[:(length+7)/8], BitLength: length})
}

func describeKeyUsage(der []byte) (string, error) {
	var bs asn1.BitString
	if _, err := unmarshalExact(der, &bs); err != nil {
		return "", err
	}
	var names []string
	for i, name := range keyUsageNames {
		if bs.At(i) == 1 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ","), nil
}

// ----- extended key usage -----

var extKeyUsages = []struct {
	name string
	oid  asn1.ObjectIdentifier
}{
	{"serverAuth", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}},
	{"clientAuth", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}},
	{"codeSigning", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}},
	{"emailProtection", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 4}},
	{"timeStamping", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 8}},
	{"OCSPSigning", asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 9}},
	{"anyExtendedKeyUsage", asn1.ObjectIdentifier{2, 5, 29, 37, 0}},
}

func encodeExtKeyUsage(v string) ([]byte, error) {
	names := splitValues(v)
	if len(names) == 0 {
		return nil, validationErrorf("extended key usage needs at least one purpose")
	}
	oids := make([]asn1.ObjectIdentifier, 0, len(names))
	for _, name := range names {
		var oid asn1.ObjectIdentifier
		for _, eku := range extKeyUsages {
			if strings.EqualFold(eku.name, name) {
				oid = eku.oid
				break
			}
		}
		if oid == nil {
			parsed, err := parseOID(name)
			if err != nil {
				return nil, validationErrorf("unknown extended key usage %q", name)
			}
			oid = parsed
		}
		oids = append(oids, oid)
	}
	return asn1.Marshal(oids)
}

func describeExtKeyUsage(der []byte) (string, error) {
	var oids []asn1.ObjectIdentifier
	if _, err := unmarshalExact(der, &oids); err != nil {
		return "", err
	}
	names := make([]string, 0, len(oids))
	for _, oid := range oids {
		name := oid.String()
		for _, eku := range extKeyUsages {
			if eku.oid.Equal(oid) {
				name = eku.name
				break
			}
		}
		names = append(names, name)
	}
	return strings.Join(names, ","), nil
}

// ----- subject alternative name -----

// GeneralName context tags (RFC 5280 §4.2.1.6).
const (
	tagRFC822Name = 1
	tagDNSName    = 2
	tagURI        = 6
	tagIPAddress  = 7
)

type generalName struct {
	tag   int
	value []byte
}

func parseGeneralName(entry string) (generalName, error) {
	key, val, ok := strings.Cut(entry, "=")
	if !ok {
		key, val, ok = strings.Cut(entry, ":")
	}
	key, val = strings.TrimSpace(key), strings.TrimSpace(val)
	if !ok || val == "" {
		return generalName{}, validationErrorf("malformed alternative name %q", entry)
	}
	switch strings.ToLower(key) {
	case "dns":
		return generalName{tagDNSName, []byte(val)}, nil
	case "email":
		if !strings.Contains(val, "@") {
			return generalName{}, validationErrorf("invalid email %q", val)
		}
		return generalName{tagRFC822Name, []byte(val)}, nil
	case "uri":
		u, err := url.Parse(val)
		if err != nil || u.Scheme == "" {
			return generalName{}, validationErrorf("invalid URI %q", val)
		}
		return generalName{tagURI, []byte(val)}, nil
	case "ip":
		ip := net.ParseIP(val)
		if ip == nil {
			return generalName{}, validationErrorf("invalid IP address %q", val)
		}
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
		return generalName{tagIPAddress, ip}, nil
	}
	return generalName{}, validationErrorf("unsupported alternative name type %q", key)
}

func encodeSubjectAltName(v string) ([]byte, error) {
	entries := splitValues(v)
	if len(entries) == 0 {
		return nil, validationErrorf("subject alternative name needs at least one entry")
	}
	names := make([]generalName, 0, len(entries))
	for _, e := range entries {
		gn, err := parseGeneralName(e)
		if err != nil {
			return nil, err
		}
		names = append(names, gn)
	}

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, gn := range names {
			b.AddASN1(cbasn1.Tag(gn.tag).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes(gn.value)
			})
		}
	})
	return b.Bytes()
}

func describeSubjectAltName(der []byte) (string, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return "", validationErrorf("malformed subject alternative name")
	}
	var out []string
	for !seq.Empty() {
		var val cryptobyte.String
		var tag cbasn1.Tag
		if !seq.ReadAnyASN1(&val, &tag) {
			return "", validationErrorf("malformed general name")
		}
		switch tag {
		case cbasn1.Tag(tagDNSName).ContextSpecific():
			out = append(out, "DNS="+string(val))
		case cbasn1.Tag(tagRFC822Name).ContextSpecific():
			out = append(out, "email="+string(val))
		case cbasn1.Tag(tagURI).ContextSpecific():
			out = append(out, "URI="+string(val))
		case cbasn1.Tag(tagIPAddress).ContextSpecific():
			if len(val) != net.IPv4len && len(val) != net.IPv6len {
				return "", validationErrorf("invalid IP address length %d", len(val))
			}
			out = append(out, "IP="+net.IP(val).String())
		default:
			return "", validationErrorf("unsupported general name tag %d", tag&0x1f)
		}
	}
	return strings.Join(out, ","), nil
}

// ----- key identifiers -----

// keyIdentifier is the SHA-1 of the subjectPublicKey bit string
// (RFC 5280 §4.2.1.2 method 1).
func keyIdentifier(pub crypto.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, validationErrorf("key identifier needs a public key")
	}
	spkiDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling public key: %v", ErrCryptographic, err)
	}
	var spki struct {
		Algorithm        pkix.AlgorithmIdentifier
		SubjectPublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spkiDER, &spki); err != nil {
		return nil, fmt.Errorf("%w: parsing public key: %v", ErrCryptographic, err)
	}
	sum := sha1.Sum(spki.SubjectPublicKey.Bytes)
	return sum[:], nil
}

func encodeSubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	id, err := keyIdentifier(pub)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(id)
}

type authorityKeyID struct {
	ID []byte `asn1:"optional,tag:0"`
}

func encodeAuthorityKeyID(pub crypto.PublicKey) ([]byte, error) {
	id, err := keyIdentifier(pub)
	if err != nil {
		return nil, err
	}
	return asn1.Marshal(authorityKeyID{ID: id})
}

// ----- CRL distribution points -----

// CRLEndpoint returns the URL at which the CRL for issuerDN is published.
func CRLEndpoint(baseURL, issuerDN string) string {
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "issuerDn=" + url.QueryEscape(issuerDN)
}

func encodeCRLDistributionPoints(v string, ec EncodeContext) ([]byte, error) {
	uris := splitValues(v)
	if len(uris) == 0 {
		if ec.CRLBaseURL == "" || ec.IssuerDN == "" {
			return nil, validationErrorf("CRL distribution point needs a URI or a configured CRL base URL")
		}
		uris = []string{CRLEndpoint(ec.CRLBaseURL, ec.IssuerDN)}
	}
	for _, u := range uris {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" {
			return nil, validationErrorf("invalid CRL URI %q", u)
		}
	}

	// SEQUENCE OF DistributionPoint { [0] DistributionPointName { [0] fullName GeneralNames } }
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, u := range uris {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
					b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
						b.AddASN1(cbasn1.Tag(tagURI).ContextSpecific(), func(b *cryptobyte.Builder) {
							b.AddBytes([]byte(u))
						})
					})
				})
			})
		}
	})
	return b.Bytes()
}

func describeCRLDistributionPoints(der []byte) (string, error) {
	input := cryptobyte.String(der)
	var points cryptobyte.String
	if !input.ReadASN1(&points, cbasn1.SEQUENCE) || !input.Empty() {
		return "", validationErrorf("malformed CRL distribution points")
	}
	var uris []string
	for !points.Empty() {
		var dp, dpName, fullName cryptobyte.String
		if !points.ReadASN1(&dp, cbasn1.SEQUENCE) {
			return "", validationErrorf("malformed distribution point")
		}
		var present bool
		if !dp.ReadOptionalASN1(&dpName, &present, cbasn1.Tag(0).ContextSpecific().Constructed()) {
			return "", validationErrorf("malformed distribution point name")
		}
		if !present {
			continue
		}
		if !dpName.ReadOptionalASN1(&fullName, &present, cbasn1.Tag(0).ContextSpecific().Constructed()) {
			return "", validationErrorf("malformed distribution point full name")
		}
		for present && !fullName.Empty() {
			var val cryptobyte.String
			var tag cbasn1.Tag
			if !fullName.ReadAnyASN1(&val, &tag) {
				return "", validationErrorf("malformed general name")
			}
			if tag == cbasn1.Tag(tagURI).ContextSpecific() {
				uris = append(uris, string(val))
			}
		}
	}
	return strings.Join(uris, ","), nil
}

// ----- certificate policies -----

type policyInformation struct {
	Policy     asn1.ObjectIdentifier
	Qualifiers asn1.RawValue `asn1:"optional"`
}

// encodeCertificatePolicies accepts a list of policy OIDs, or hex DER when
// qualifiers are needed.
func encodeCertificatePolicies(v string) ([]byte, error) {
	fields := splitValues(v)
	if len(fields) == 0 {
		return nil, validationErrorf("certificate policies need at least one policy")
	}
	policies := make([]policyInformation, 0, len(fields))
	for _, f := range fields {
		oid, err := parseOID(f)
		if err != nil {
			return decodeRawHex(v)
		}
		policies = append(policies, policyInformation{Policy: oid})
	}
	return asn1.Marshal(policies)
}

func describeCertificatePolicies(der []byte) (string, error) {
	var policies []policyInformation
	if _, err := unmarshalExact(der, &policies); err != nil {
		return "", err
	}
	oids := make([]string, 0, len(policies))
	for _, p := range policies {
		if len(p.Qualifiers.FullBytes) > 0 {
			return util.HexEncode(der), nil
		}
		oids = append(oids, p.Policy.String())
	}
	return strings.Join(oids, ","), nil
}

// ----- raw passthrough -----

func decodeRawHex(v string) ([]byte, error) {
	raw, err := util.HexDecode(v)
	if err != nil || len(raw) == 0 {
		return nil, validationErrorf("value must be non-empty hex-encoded DER")
	}
	return raw, nil
}

// ---------------------------------------------------------------------------
// Descriptor helpers used by the builder and the issuance engine
// ---------------------------------------------------------------------------

// requestedBasicConstraints reports the CA flag requested in descs, if any.
func requestedBasicConstraints(descs []ExtensionDescriptor) (isCA bool, present bool, err error) {
	for _, d := range descs {
		t, _, err := d.Resolve()
		if err != nil {
			return false, false, err
		}
		if t != ExtensionBasicConstraints {
			continue
		}
		bc, err := parseBasicConstraints(d.Value)
		if err != nil {
			return false, false, err
		}
		return bc.IsCA, true, nil
	}
	return false, false, nil
}

// requestedKeyUsage returns the KeyUsage bits named in descs, indexed by
// bit position.
func requestedKeyUsage(descs []ExtensionDescriptor) (bits uint16, present bool, err error) {
	for _, d := range descs {
		t, _, err := d.Resolve()
		if err != nil {
			return 0, false, err
		}
		if t != ExtensionKeyUsage {
			continue
		}
		for _, name := range splitValues(d.Value) {
			bit, ok := keyUsageBit(name)
			if !ok {
				return 0, false, validationErrorf("unknown key usage %q", name)
			}
			bits |= 1 << bit
		}
		return bits, true, nil
	}
	return 0, false, nil
}

// defaultExtensions returns the descriptors a certificate of type t gets
// when the request does not specify them.
func defaultExtensions(t CertificateType, crlBaseURL string) []ExtensionDescriptor {
	var descs []ExtensionDescriptor
	if t.IsCA() {
		descs = append(descs,
			ExtensionDescriptor{Name: ExtensionBasicConstraints.String(), Critical: true, Value: "CA:true"},
			ExtensionDescriptor{Name: ExtensionKeyUsage.String(), Critical: true, Value: "keyCertSign,cRLSign"},
		)
	} else {
		descs = append(descs,
			ExtensionDescriptor{Name: ExtensionBasicConstraints.String(), Critical: true, Value: "CA:false"},
			ExtensionDescriptor{Name: ExtensionKeyUsage.String(), Critical: true, Value: "digitalSignature,keyEncipherment"},
			ExtensionDescriptor{Name: ExtensionExtendedKeyUsage.String(), Value: "serverAuth,clientAuth"},
		)
	}
	descs = append(descs, ExtensionDescriptor{Name: ExtensionSubjectKeyIdentifier.String()})
	if t != TypeRoot {
		descs = append(descs, ExtensionDescriptor{Name: ExtensionAuthorityKeyIdentifier.String()})
		if crlBaseURL != "" {
			descs = append(descs, ExtensionDescriptor{Name: ExtensionCRLDistributionPoints.String()})
		}
	}
	return descs
}

// encodeExtensions encodes the requested descriptors followed by any
// defaults whose OID was not requested. Duplicate OIDs are rejected.
func encodeExtensions(requested []ExtensionDescriptor, defaults []ExtensionDescriptor, ec EncodeContext) ([]pkix.Extension, error) {
	var exts []pkix.Extension
	var seen []asn1.ObjectIdentifier
	has := func(oid asn1.ObjectIdentifier) bool {
		return slices.ContainsFunc(seen, oid.Equal)
	}
	for _, d := range requested {
		ext, err := EncodeExtension(d, ec)
		if err != nil {
			return nil, err
		}
		if has(ext.Id) {
			return nil, validationErrorf("extension %s requested twice", ext.Id)
		}
		seen = append(seen, ext.Id)
		exts = append(exts, ext)
	}
	for _, d := range defaults {
		_, oid, err := d.Resolve()
		if err != nil {
			return nil, err
		}
		if has(oid) {
			continue
		}
		ext, err := EncodeExtension(d, ec)
		if err != nil {
			return nil, err
		}
		seen = append(seen, ext.Id)
		exts = append(exts, ext)
	}
	return exts, nil
}
