// Package api serves CRLs and read-only certificate state over HTTP.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ironca/pki"
)

// Authority is the part of *pki.Engine the handlers use.
type Authority interface {
	GenerateCRL(ctx context.Context, issuerDN string) ([]byte, error)
	GetCertificate(ctx context.Context, serial string) (*pki.Certificate, error)
	ListCertificates(ctx context.Context) ([]pki.CertificateRecord, error)
	IsRevoked(ctx context.Context, serial string) (bool, error)
	VerifyChain(ctx context.Context, serial string) error
	RevokedCertificates(ctx context.Context, issuerDN string) ([]pki.RevokedCertificate, error)
	AvailableIssuers(ctx context.Context, requester pki.AuthenticatedRequester) ([]pki.CertificateRecord, error)
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	ca      Authority
	logger  *slog.Logger
	metrics *HTTPMetrics
	base    string
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the logger used for request and error logs.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithMetrics instruments every request with the given collectors.
func WithMetrics(m *HTTPMetrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithBasePath sets the prefix the router is mounted under. It is used to
// point the documentation pages at openapi.yaml.
func WithBasePath(p string) Option {
	return func(a *API) {
		a.base = p
	}
}

// New creates a new API instance.
func New(ca Authority, opts ...Option) *API {
	a := &API{ca: ca, logger: slog.Default(), base: "/api/v1"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.logRequests)
	if a.metrics != nil {
		r.Use(a.metrics.instrument)
	}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.base + "/openapi.yaml",
		Path:    trimSlash(a.base + "/docs"),
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: a.base + "/openapi.yaml",
		Path:    trimSlash(a.base + "/redoc"),
	}, nil))

	r.Get("/crl", a.GetCRL)
	r.Get("/revocations", a.ListRevocations)
	r.Get("/certificates", a.ListCertificates)
	r.Get("/certificates/issuers", a.ListIssuers)
	r.Route("/certificates/{serial}", func(r chi.Router) {
		r.Get("/", a.GetCertificate)
		r.Get("/revoked", a.GetRevocationStatus)
		r.Get("/chain", a.GetChainStatus)
	})

	return r
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
