package pki_test

import (
	"context"
	"crypto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/pki"
)

type linkSource map[string][]pki.ChainLink

func (s linkSource) CertificatesBySubject(_ context.Context, dn string) ([]pki.ChainLink, error) {
	return s[dn], nil
}

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(_ context.Context, serial string) (bool, error) {
	return r[serial], nil
}

type chainBuilder struct {
	t      *testing.T
	source linkSource
	now    time.Time
}

func (b *chainBuilder) add(serial string, typ pki.CertificateType, cn string, parent *pki.ChainLink, parentKey crypto.Signer, ext ...pki.ExtensionDescriptor) (pki.ChainLink, crypto.Signer) {
	b.t.Helper()
	key, err := pki.KeyECDSAP256.Generate()
	require.NoError(b.t, err)
	req := pki.BuildRequest{
		SerialNumber: serial,
		Type:         typ,
		Subject:      pki.Identity{CommonName: cn},
		SubjectKey:   key.Public(),
		NotBefore:    b.now.Add(-time.Hour),
		NotAfter:     b.now.Add(24 * time.Hour),
		Extensions:   ext,
		SigningKey:   key,
	}
	if parent != nil {
		req.Issuer = parent.Cert
		req.SigningKey = parentKey
	}
	cert, err := pki.Build(req)
	require.NoError(b.t, err)
	link := pki.ChainLink{
		Record: &pki.Certificate{SerialNumber: serial, Type: typ, Subject: pki.Identity{CommonName: cn}},
		Cert:   cert,
	}
	dn := link.Record.SubjectDN()
	b.source[dn] = append(b.source[dn], link)
	return link, key
}

func newChain(t *testing.T) (*chainBuilder, []pki.ChainLink) {
	b := &chainBuilder{t: t, source: linkSource{}, now: time.Now()}
	ca := []pki.ExtensionDescriptor{{Name: "BasicConstraints", Critical: true, Value: "CA:true"}}
	root, rootKey := b.add("01", pki.TypeRoot, "Root", nil, nil)
	i1, i1Key := b.add("02", pki.TypeIntermediate, "Tier 1", &root, rootKey, ca...)
	i2, i2Key := b.add("03", pki.TypeIntermediate, "Tier 2", &i1, i1Key, ca...)
	leaf, _ := b.add("04", pki.TypeEndEntity, "leaf", &i2, i2Key)
	return b, []pki.ChainLink{root, i1, i2, leaf}
}

func TestChainValidatorWalksToRoot(t *testing.T) {
	b, links := newChain(t)
	v := pki.NewChainValidator(b.source, revokedSet{}, 0, nil)
	for _, l := range links {
		assert.True(t, v.CheckChain(t.Context(), l), l.Record.SerialNumber)
	}
	assert.False(t, v.CheckChain(t.Context(), pki.ChainLink{}))
}

func TestChainValidatorDepthLimit(t *testing.T) {
	b, links := newChain(t)
	leaf := links[3]

	err := pki.NewChainValidator(b.source, nil, 2, nil).Verify(t.Context(), leaf)
	assert.ErrorIs(t, err, pki.ErrChainValidation)
	assert.NoError(t, pki.NewChainValidator(b.source, nil, 3, nil).Verify(t.Context(), leaf))
}

func TestChainValidatorRejectsBadIssuers(t *testing.T) {
	b, links := newChain(t)
	leaf := links[3]

	v := pki.NewChainValidator(b.source, revokedSet{"02": true}, 0, nil)
	assert.ErrorIs(t, v.Verify(t.Context(), leaf), pki.ErrChainValidation)

	later := pki.NewChainValidator(b.source, nil, 0, func() time.Time { return b.now.Add(48 * time.Hour) })
	assert.ErrorIs(t, later.Verify(t.Context(), leaf), pki.ErrChainValidation)

	links[2].Record.IsWithdrawn = true
	v = pki.NewChainValidator(b.source, nil, 0, nil)
	assert.ErrorIs(t, v.Verify(t.Context(), leaf), pki.ErrChainValidation)
}

func TestChainValidatorFallsBackToAnotherIssuer(t *testing.T) {
	b, links := newChain(t)
	root := links[0]

	// A second Tier 1 with the same subject but a different key cannot have
	// signed Tier 2; the validator must still find the real one.
	key, err := pki.KeyECDSAP256.Generate()
	require.NoError(t, err)
	impostor, err := pki.Build(pki.BuildRequest{
		SerialNumber: "05",
		Type:         pki.TypeRoot,
		Subject:      pki.Identity{CommonName: "Tier 1"},
		SubjectKey:   key.Public(),
		NotBefore:    b.now.Add(-time.Hour),
		NotAfter:     b.now.Add(time.Hour),
		SigningKey:   key,
	})
	require.NoError(t, err)
	b.source["CN=Tier 1"] = append([]pki.ChainLink{{
		Record: &pki.Certificate{SerialNumber: "05", Type: pki.TypeIntermediate, Subject: pki.Identity{CommonName: "Tier 1"}},
		Cert:   impostor,
	}}, b.source["CN=Tier 1"]...)

	v := pki.NewChainValidator(b.source, nil, 0, nil)
	assert.NoError(t, v.Verify(t.Context(), links[3]))
	assert.True(t, v.CheckChain(t.Context(), root))
}

func TestChainValidatorRejectsNonCAIssuer(t *testing.T) {
	b := &chainBuilder{t: t, source: linkSource{}, now: time.Now()}
	root, rootKey := b.add("01", pki.TypeRoot, "Root", nil, nil)
	leaf, leafKey := b.add("02", pki.TypeEndEntity, "Not A CA", &root, rootKey)
	child, _ := b.add("03", pki.TypeEndEntity, "child", &leaf, leafKey)
	require.False(t, leaf.Cert.IsCA)

	v := pki.NewChainValidator(b.source, nil, 0, nil)
	assert.ErrorIs(t, v.Verify(t.Context(), child), pki.ErrChainValidation)
	assert.NoError(t, v.Verify(t.Context(), leaf))
}

func TestChainValidatorStopsOnIssuerCycle(t *testing.T) {
	now := time.Now()
	keyA, err := pki.KeyECDSAP256.Generate()
	require.NoError(t, err)
	keyB, err := pki.KeyECDSAP256.Generate()
	require.NoError(t, err)
	ca := []pki.ExtensionDescriptor{{Name: "BasicConstraints", Critical: true, Value: "CA:true"}}
	build := func(serial string, typ pki.CertificateType, cn string, key crypto.Signer, issuer *pki.ChainLink, signer crypto.Signer) pki.ChainLink {
		t.Helper()
		req := pki.BuildRequest{
			SerialNumber: serial,
			Type:         typ,
			Subject:      pki.Identity{CommonName: cn},
			SubjectKey:   key.Public(),
			NotBefore:    now.Add(-time.Hour),
			NotAfter:     now.Add(24 * time.Hour),
			SigningKey:   signer,
		}
		if typ != pki.TypeRoot {
			req.Issuer = issuer.Cert
			req.Extensions = ca
		}
		cert, err := pki.Build(req)
		require.NoError(t, err)
		return pki.ChainLink{
			Record: &pki.Certificate{SerialNumber: serial, Type: typ, Subject: pki.Identity{CommonName: cn}},
			Cert:   cert,
		}
	}

	// B's self-signed bootstrap only supplies a name and key to sign A with;
	// it is not served as an issuer.
	bootstrapB := build("b0", pki.TypeRoot, "B", keyB, nil, keyB)
	a := build("0a", pki.TypeIntermediate, "A", keyA, &bootstrapB, keyB)
	b := build("0b", pki.TypeIntermediate, "B", keyB, &a, keyA)
	require.NoError(t, a.Cert.CheckSignatureFrom(b.Cert))
	require.NoError(t, b.Cert.CheckSignatureFrom(a.Cert))

	source := linkSource{"CN=A": {a}, "CN=B": {b}}
	v := pki.NewChainValidator(source, revokedSet{}, 1000, func() time.Time { return now })
	for _, link := range []pki.ChainLink{a, b} {
		err := v.Verify(t.Context(), link)
		require.ErrorIs(t, err, pki.ErrChainValidation)
		assert.Contains(t, err.Error(), "issuer cycle")
		assert.NotContains(t, err.Error(), "chain longer")
		assert.False(t, v.CheckChain(t.Context(), link))
	}
}
