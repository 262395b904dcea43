package pki_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/pki"
)

func newEncodeContext(t *testing.T) pki.EncodeContext {
	t.Helper()
	subject, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return pki.EncodeContext{
		SubjectKey: subject.Public(),
		IssuerKey:  issuer.Public(),
		IssuerDN:   "CN=Test Root,O=Acme",
		CRLBaseURL: "http://ca.example.com/crl",
	}
}

func TestExtensionRoundTrip(t *testing.T) {
	ec := newEncodeContext(t)

	tests := []struct {
		name string
		desc pki.ExtensionDescriptor
		want string
		typ  pki.ExtensionType
	}{
		{"ca basic constraints", pki.ExtensionDescriptor{Name: "BasicConstraints", Critical: true, Value: "CA:true,pathlen:1"}, "CA:true,pathlen:1", pki.ExtensionBasicConstraints},
		{"leaf basic constraints", pki.ExtensionDescriptor{Name: "basic_constraints", Value: "CA=false"}, "CA:false", pki.ExtensionBasicConstraints},
		{"key usage", pki.ExtensionDescriptor{Name: "KeyUsage", Critical: true, Value: "digitalSignature, keyCertSign,cRLSign"}, "digitalSignature,keyCertSign,cRLSign", pki.ExtensionKeyUsage},
		{"extended key usage", pki.ExtensionDescriptor{Name: "ExtendedKeyUsage", Value: "serverAuth,clientAuth"}, "serverAuth,clientAuth", pki.ExtensionExtendedKeyUsage},
		{"subject alt name", pki.ExtensionDescriptor{Name: "SubjectAlternativeName", Value: "DNS:www.example.com,IP:10.0.0.1,email:ops@example.com,URI:https://example.com"}, "DNS=www.example.com,IP=10.0.0.1,email=ops@example.com,URI=https://example.com", pki.ExtensionSubjectAltName},
		{"policies by oid", pki.ExtensionDescriptor{OID: "2.5.29.32", Value: "2.23.140.1.2.1"}, "2.23.140.1.2.1", pki.ExtensionCertificatePolicies},
		{"crl distribution point", pki.ExtensionDescriptor{Name: "CRLDistributionPoints", Value: "http://crl.example.com/root.crl"}, "http://crl.example.com/root.crl", pki.ExtensionCRLDistributionPoints},
		{"custom", pki.ExtensionDescriptor{OID: "1.3.6.1.4.1.55555.1", Value: "0c0568656c6c6f"}, "0c0568656c6c6f", pki.ExtensionCustom},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := pki.EncodeExtension(tc.desc, ec)
			require.NoError(t, err)
			assert.Equal(t, tc.desc.Critical, raw.Critical)

			ext := pki.DecodeExtension(raw)
			assert.Equal(t, tc.typ, ext.Type)
			assert.Equal(t, raw.Id.String(), ext.OID)

			desc, err := pki.DescribeExtension(ext)
			require.NoError(t, err)
			assert.Equal(t, tc.want, desc.Value)
			assert.Equal(t, tc.desc.Critical, desc.Critical)

			// Re-encoding the description yields identical DER.
			again, err := pki.EncodeExtension(desc, ec)
			require.NoError(t, err)
			assert.Equal(t, raw.Value, again.Value)

			back, err := ext.PKIX()
			require.NoError(t, err)
			assert.True(t, back.Id.Equal(raw.Id))
			assert.Equal(t, raw.Value, back.Value)
		})
	}
}

func TestCustomExtensionPassesThroughUnknownOID(t *testing.T) {
	raw := pkix.Extension{Id: asn1.ObjectIdentifier{1, 2, 3, 4, 5}, Critical: true, Value: []byte{0x05, 0x00}}
	ext := pki.DecodeExtension(raw)
	assert.Equal(t, pki.ExtensionCustom, ext.Type)
	assert.Equal(t, "1.2.3.4.5", ext.OID)

	desc, err := pki.DescribeExtension(ext)
	require.NoError(t, err)
	assert.Equal(t, "0500", desc.Value)
	assert.Equal(t, "Custom", desc.Name)

	back, err := pki.EncodeExtension(desc, pki.EncodeContext{})
	require.NoError(t, err)
	assert.Equal(t, raw, back)
}

func TestKeyIdentifiers(t *testing.T) {
	ec := newEncodeContext(t)

	ski, err := pki.EncodeExtension(pki.ExtensionDescriptor{Name: "SubjectKeyIdentifier"}, ec)
	require.NoError(t, err)
	skiDesc, err := pki.DescribeExtension(pki.DecodeExtension(ski))
	require.NoError(t, err)
	assert.Len(t, skiDesc.Value, 40)

	aki, err := pki.EncodeExtension(pki.ExtensionDescriptor{Name: "AuthorityKeyIdentifier"}, ec)
	require.NoError(t, err)
	akiDesc, err := pki.DescribeExtension(pki.DecodeExtension(aki))
	require.NoError(t, err)
	assert.Len(t, akiDesc.Value, 40)
	assert.NotEqual(t, skiDesc.Value, akiDesc.Value)

	// The issuer's SKI is the subject's AKI.
	issuerCtx := ec
	issuerCtx.SubjectKey = ec.IssuerKey
	issuerSKI, err := pki.EncodeExtension(pki.ExtensionDescriptor{Name: "SubjectKeyIdentifier"}, issuerCtx)
	require.NoError(t, err)
	issuerDesc, err := pki.DescribeExtension(pki.DecodeExtension(issuerSKI))
	require.NoError(t, err)
	assert.Equal(t, issuerDesc.Value, akiDesc.Value)
}

func TestCRLDistributionPointFromBaseURL(t *testing.T) {
	ec := newEncodeContext(t)
	raw, err := pki.EncodeExtension(pki.ExtensionDescriptor{Name: "CRLDistributionPoints"}, ec)
	require.NoError(t, err)
	desc, err := pki.DescribeExtension(pki.DecodeExtension(raw))
	require.NoError(t, err)
	assert.Equal(t, pki.CRLEndpoint(ec.CRLBaseURL, ec.IssuerDN), desc.Value)
	assert.Equal(t, "http://ca.example.com/crl?issuerDn=CN%3DTest+Root%2CO%3DAcme", desc.Value)

	ec.CRLBaseURL = ""
	_, err = pki.EncodeExtension(pki.ExtensionDescriptor{Name: "CRLDistributionPoints"}, ec)
	assert.ErrorIs(t, err, pki.ErrValidation)
}

func TestMalformedDescriptors(t *testing.T) {
	ec := newEncodeContext(t)
	bad := []pki.ExtensionDescriptor{
		{},
		{Name: "NoSuchExtension", Value: "x"},
		{Name: "Custom", Value: "0500"},
		{OID: "not.an.oid", Value: "0500"},
		{OID: "1.3.6.1.4.1.55555.1", Value: "zz"},
		{OID: "1.3.6.1.4.1.55555.1", Value: ""},
		{Name: "KeyUsage", OID: "2.5.29.19", Value: "digitalSignature"},
		{Name: "BasicConstraints", Value: "pathlen:1"},
		{Name: "BasicConstraints", Value: "CA:false,pathlen:0"},
		{Name: "BasicConstraints", Value: "CA:maybe"},
		{Name: "KeyUsage", Value: "signEverything"},
		{Name: "ExtendedKeyUsage", Value: "timeTravel"},
		{Name: "SubjectAlternativeName", Value: "IP:999.1.1.1"},
		{Name: "SubjectAlternativeName", Value: "FAX:1234"},
		{Name: "CRLDistributionPoints", Value: "not a url"},
	}
	for _, d := range bad {
		_, err := pki.EncodeExtension(d, ec)
		assert.ErrorIs(t, err, pki.ErrValidation, "descriptor %+v", d)
	}
}

func TestExtensionTypeText(t *testing.T) {
	for _, typ := range []pki.ExtensionType{pki.ExtensionCustom, pki.ExtensionSubjectAltName, pki.ExtensionAuthorityInfoAccess} {
		text, err := typ.MarshalText()
		require.NoError(t, err)
		var back pki.ExtensionType
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, typ, back)
	}

	typ, ok := pki.ParseExtensionType("subject_alternative_name")
	assert.True(t, ok)
	assert.Equal(t, pki.ExtensionSubjectAltName, typ)
	assert.Equal(t, pki.ExtensionAuthorityInfoAccess, pki.ExtensionTypeOf(asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}))
}
