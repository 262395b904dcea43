package api

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironca/keystore"
	"github.com/jmcleod/ironca/pki"
	"github.com/jmcleod/ironca/storage/memory"
)

type testCA struct {
	engine *pki.Engine
	root   *pki.Certificate
	inter  *pki.Certificate
	leaf   *pki.Certificate
	server *httptest.Server
	reg    *prometheus.Registry
}

var admin = pki.AuthenticatedRequester{OrganizationID: "org-a", Role: pki.RoleAdmin}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	ctx := t.Context()
	repo := memory.NewRepository()
	custody, err := keystore.Open(ctx, repo, keystore.Passphrases{
		Master:       "api master passphrase",
		Organization: "api organization passphrase",
		Certificate:  "api certificate passphrase",
	}, keystore.WithArgon2id(1, 64, 1))
	require.NoError(t, err)
	t.Cleanup(custody.Close)

	engine, err := pki.NewEngine(custody, repo, pki.WithCRLBaseURL("http://ca.test/api/v1/crl"))
	require.NoError(t, err)

	ca := &testCA{engine: engine, reg: prometheus.NewRegistry()}
	ca.root, err = engine.CreateCertificate(ctx, pki.CreateCertificateRequest{
		Type:    pki.TypeRoot,
		Subject: pki.Identity{CommonName: "API Root", Organization: "Acme"},
	}, admin)
	require.NoError(t, err)
	ca.inter, err = engine.CreateCertificate(ctx, pki.CreateCertificateRequest{
		Type:               pki.TypeIntermediate,
		IssuerSerialNumber: ca.root.SerialNumber,
		Subject:            pki.Identity{CommonName: "API Issuing", Organization: "Acme"},
		Extensions:         []pki.ExtensionDescriptor{{Name: "BasicConstraints", Critical: true, Value: "CA:true"}},
	}, admin)
	require.NoError(t, err)
	ca.leaf, err = engine.CreateCertificate(ctx, pki.CreateCertificateRequest{
		Type:               pki.TypeEndEntity,
		IssuerSerialNumber: ca.inter.SerialNumber,
		Subject:            pki.Identity{CommonName: "api.acme.test"},
	}, admin)
	require.NoError(t, err)
	_, err = engine.Revoke(ctx, pki.RevocationRequest{SerialNumber: ca.leaf.SerialNumber, Reason: pki.ReasonSuperseded}, admin)
	require.NoError(t, err)

	metrics, err := NewHTTPMetrics(ca.reg)
	require.NoError(t, err)
	root := chi.NewRouter()
	root.Mount("/api/v1", New(engine, WithMetrics(metrics)).Router())
	ca.server = httptest.NewServer(root)
	t.Cleanup(ca.server.Close)
	return ca
}

func (c *testCA) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(c.server.URL + "/api/v1" + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestGetCRL(t *testing.T) {
	ca := newTestCA(t)

	resp, body := ca.get(t, "/crl?issuerDn="+url.QueryEscape(ca.inter.SubjectDN()))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/pkix-crl", resp.Header.Get("Content-Type"))
	crl, err := x509.ParseRevocationList(body)
	require.NoError(t, err)
	require.Len(t, crl.RevokedCertificateEntries, 1)
	assert.Equal(t, ca.leaf.SerialNumber, pki.FormatSerial(crl.RevokedCertificateEntries[0].SerialNumber))

	// The distribution point embedded in the leaf resolves to this route.
	cert, err := ca.engine.Certificate(t.Context(), ca.leaf.SerialNumber)
	require.NoError(t, err)
	require.Len(t, cert.CRLDistributionPoints, 1)
	dp, err := url.Parse(cert.CRLDistributionPoints[0])
	require.NoError(t, err)
	resp, _ = ca.get(t, "/crl?"+dp.RawQuery)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetCRLErrors(t *testing.T) {
	ca := newTestCA(t)

	resp, body := ca.get(t, "/crl?issuerDn="+url.QueryEscape("CN=Nobody"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "CRL generation error:"), string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	resp, _ = ca.get(t, "/crl")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ca.get(t, "/crl?issuerDn=garbage")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetCertificate(t *testing.T) {
	ca := newTestCA(t)

	resp, body := ca.get(t, "/certificates/"+ca.inter.SerialNumber)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec pki.CertificateRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, ca.inter.SerialNumber, rec.SerialNumber)
	assert.Equal(t, pki.TypeIntermediate, rec.Type)
	assert.Equal(t, ca.root.SubjectDN(), rec.Issuer)

	resp, body = ca.get(t, "/certificates/abcdef12")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	assert.NotEmpty(t, e.Error)

	resp, _ = ca.get(t, "/certificates/not-hex")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoints(t *testing.T) {
	ca := newTestCA(t)

	_, body := ca.get(t, "/certificates/"+ca.leaf.SerialNumber+"/revoked")
	var rs RevocationStatusResponse
	require.NoError(t, json.Unmarshal(body, &rs))
	assert.True(t, rs.Revoked)

	_, body = ca.get(t, "/certificates/"+ca.inter.SerialNumber+"/revoked")
	require.NoError(t, json.Unmarshal(body, &rs))
	assert.False(t, rs.Revoked)

	_, body = ca.get(t, "/certificates/"+ca.leaf.SerialNumber+"/chain")
	var cs ChainStatusResponse
	require.NoError(t, json.Unmarshal(body, &cs))
	assert.True(t, cs.Valid)

	require.NoError(t, ca.engine.Withdraw(t.Context(), ca.inter.SerialNumber, admin))
	resp, body := ca.get(t, "/certificates/"+ca.leaf.SerialNumber+"/chain")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cs = ChainStatusResponse{}
	require.NoError(t, json.Unmarshal(body, &cs))
	assert.False(t, cs.Valid)
	assert.NotEmpty(t, cs.Reason)
}

func TestListEndpoints(t *testing.T) {
	ca := newTestCA(t)

	_, body := ca.get(t, "/certificates?limit=2")
	var certs CertificateListResponse
	require.NoError(t, json.Unmarshal(body, &certs))
	assert.Len(t, certs.Items, 2)
	assert.Equal(t, 3, certs.TotalCount)
	assert.True(t, certs.HasMore)

	_, body = ca.get(t, "/revocations?issuerDn="+url.QueryEscape("O=Acme,CN=API Issuing"))
	var revs RevocationListResponse
	require.NoError(t, json.Unmarshal(body, &revs))
	assert.Equal(t, ca.inter.SubjectDN(), revs.IssuerDN)
	require.Len(t, revs.Items, 1)
	assert.Equal(t, pki.ReasonSuperseded, revs.Items[0].Reason)

	_, body = ca.get(t, "/revocations?issuerDn="+url.QueryEscape(ca.root.SubjectDN()))
	assert.Contains(t, string(body), `"items":[]`)
}

func TestDocsAndHeaders(t *testing.T) {
	ca := newTestCA(t)

	resp, body := ca.get(t, "/openapi.yaml")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, openapiSpec, body)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp, _ = ca.get(t, "/docs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestRequestMetrics(t *testing.T) {
	ca := newTestCA(t)
	ca.get(t, "/certificates/"+ca.root.SerialNumber)
	ca.get(t, "/certificates/"+ca.inter.SerialNumber)

	families, err := ca.reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "ironca_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" && strings.HasPrefix(lp.GetValue(), "/api/v1/certificates/{serial}") {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 2.0, total)
}

func TestListIssuers(t *testing.T) {
	ca := newTestCA(t)

	issuers := func(org, role string) (int, IssuerListResponse) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, ca.server.URL+"/api/v1/certificates/issuers", nil)
		require.NoError(t, err)
		req.Header.Set(HeaderOrganization, org)
		req.Header.Set(HeaderRole, role)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out IssuerListResponse
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		}
		return resp.StatusCode, out
	}

	status, out := issuers("org-a", "ca-user")
	require.Equal(t, http.StatusOK, status)
	var serials []string
	for _, rec := range out.Items {
		serials = append(serials, rec.SerialNumber)
	}
	assert.ElementsMatch(t, []string{ca.root.SerialNumber, ca.inter.SerialNumber}, serials)

	status, out = issuers("org-z", "CA_USER")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, out.Items)

	status, _ = issuers("org-a", "superuser")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = issuers("", "admin")
	assert.Equal(t, http.StatusBadRequest, status)
}

type failingCRLAuthority struct {
	Authority
}

func (failingCRLAuthority) GenerateCRL(context.Context, string) ([]byte, error) {
	return nil, errors.New("signer unavailable")
}

func TestGetCRLLogsInternalErrors(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	srv := httptest.NewServer(New(failingCRLAuthority{}, WithLogger(logger)).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/crl?issuerDn=" + url.QueryEscape("CN=Root"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "crl generation failed", entry["msg"])
	assert.Equal(t, "CN=Root", entry["issuer"])
	assert.Equal(t, "signer unavailable", entry["error"])
}
