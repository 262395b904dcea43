// Package pki is the certificate authority engine: it encodes extensions,
// builds and signs certificates, validates trust chains, enforces the
// issuance policy and keeps the revocation registry that CRLs are made from.
//
// Private keys never leave key custody except through ExportKeyPair. The
// engine unwraps an issuer key for the duration of one signature and drops
// the reference afterwards.
package pki

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jmcleod/ironca/keystore"
	"github.com/jmcleod/ironca/storage"
)

// DefaultCRLValidity is the gap between a CRL's thisUpdate and nextUpdate.
const DefaultCRLValidity = 7 * 24 * time.Hour

// Custody is the key custody the engine signs with. *keystore.Hierarchy
// implements it.
type Custody interface {
	WriteKeyEntry(ctx context.Context, typeTag, serial, orgID string, key crypto.Signer, cert *x509.Certificate) error
	ReadPrivateKey(orgID, typeTag, serial string) (crypto.Signer, error)
	ReadCertificate(typeTag, serial string) (*x509.Certificate, error)
	HasKeyEntry(orgID, typeTag, serial string) (bool, error)
	RemoveKeyEntry(orgID, typeTag, serial string) error
	Entries(typeTags ...string) []keystore.EntryRef
}

type options struct {
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
	keyAlg      KeyAlgorithm
	crlBaseURL  string
	crlValidity time.Duration
	maxDepth    int
}

// Option configures an Engine.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now. Tests use it to move past expiry dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithKeyAlgorithm(a KeyAlgorithm) Option {
	return func(o *options) { o.keyAlg = a }
}

// WithCRLBaseURL sets the URL that non-root certificates point to in their
// CRL distribution point. Empty omits the extension.
func WithCRLBaseURL(url string) Option {
	return func(o *options) { o.crlBaseURL = url }
}

func WithCRLValidity(d time.Duration) Option {
	return func(o *options) { o.crlValidity = d }
}

func WithMaxChainDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// Engine issues, tracks and revokes certificates.
type Engine struct {
	// mu serializes issuance so that serial allocation, custody writes and
	// the metadata insert of one request do not interleave with another.
	mu sync.Mutex

	custody     Custody
	certs       *CertificateRepository
	revocations *RevocationRepository
	validator   *ChainValidator

	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
	keyAlg      KeyAlgorithm
	crlBaseURL  string
	crlValidity time.Duration
}

// NewEngine returns an engine that keeps keys in custody and metadata in
// repo under RecordsNamespace.
func NewEngine(custody Custody, repo storage.Repository, opts ...Option) (*Engine, error) {
	o := options{
		logger:      slog.Default(),
		now:         time.Now,
		keyAlg:      DefaultKeyAlgorithm,
		crlValidity: DefaultCRLValidity,
		maxDepth:    DefaultMaxChainDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if custody == nil {
		return nil, fmt.Errorf("%w: key custody is required", ErrConfiguration)
	}
	if repo == nil {
		return nil, fmt.Errorf("%w: storage repository is required", ErrConfiguration)
	}
	if _, err := ParseKeyAlgorithm(string(o.keyAlg)); err != nil {
		return nil, err
	}
	if o.crlValidity <= 0 {
		return nil, fmt.Errorf("%w: CRL validity must be positive", ErrConfiguration)
	}

	e := &Engine{
		custody:     custody,
		certs:       NewCertificateRepository(repo),
		revocations: NewRevocationRepository(repo),
		logger:      o.logger,
		metrics:     o.metrics,
		now:         o.now,
		keyAlg:      o.keyAlg,
		crlBaseURL:  o.crlBaseURL,
		crlValidity: o.crlValidity,
	}
	e.validator = NewChainValidator(e, e, o.maxDepth, o.now)
	return e, nil
}

// ---------------------------------------------------------------------------
// Custody error mapping
// ---------------------------------------------------------------------------

// custodyError maps keystore sentinels onto the pki taxonomy.
func custodyError(op string, err error) error {
	switch {
	case errors.Is(err, keystore.ErrAliasNotFound):
		return fmt.Errorf("%w: %s: key entry missing", ErrNotFound, op)
	case errors.Is(err, keystore.ErrAliasExists):
		return fmt.Errorf("%w: %s: key entry exists", ErrDuplicateSerial, op)
	case errors.Is(err, keystore.ErrDecrypt):
		return fmt.Errorf("%w: %s: key entry failed authentication", ErrCryptographic, op)
	case errors.Is(err, keystore.ErrConfiguration), errors.Is(err, keystore.ErrClosed):
		return fmt.Errorf("%w: %s: %v", ErrConfiguration, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) certificate(rec *Certificate) (*x509.Certificate, error) {
	cert, err := e.custody.ReadCertificate(rec.Type.AliasTag(), rec.SerialNumber)
	if err != nil {
		return nil, custodyError("reading certificate "+rec.SerialNumber, err)
	}
	return cert, nil
}

func (e *Engine) signer(rec *Certificate) (crypto.Signer, error) {
	key, err := e.custody.ReadPrivateKey(rec.OrganizationID, rec.Type.AliasTag(), rec.SerialNumber)
	if err != nil {
		return nil, custodyError("unwrapping key "+rec.SerialNumber, err)
	}
	return key, nil
}

// ---------------------------------------------------------------------------
// Chain validator sources
// ---------------------------------------------------------------------------

// CertificatesBySubject implements CertificateSource. Records whose
// certificate is missing from custody are skipped.
func (e *Engine) CertificatesBySubject(ctx context.Context, dn string) ([]ChainLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := e.certs.FindBySubjectDN(dn)
	if err != nil {
		return nil, err
	}
	links := make([]ChainLink, 0, len(recs))
	for _, rec := range recs {
		cert, err := e.certificate(rec)
		if errors.Is(err, ErrNotFound) {
			e.logger.Warn("certificate record without custody entry",
				slog.String("serial", rec.SerialNumber))
			continue
		}
		if err != nil {
			return nil, err
		}
		links = append(links, ChainLink{Record: rec, Cert: cert})
	}
	return links, nil
}

// IsRevoked implements RevocationChecker.
func (e *Engine) IsRevoked(ctx context.Context, serial string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	norm, err := NormalizeSerial(serial)
	if err != nil {
		return false, err
	}
	return e.revocations.Exists(norm)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetCertificate returns the metadata for serial.
func (e *Engine) GetCertificate(ctx context.Context, serial string) (*Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	norm, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}
	return e.certs.Get(norm)
}

// Certificate returns the signed certificate for serial from custody.
func (e *Engine) Certificate(ctx context.Context, serial string) (*x509.Certificate, error) {
	rec, err := e.GetCertificate(ctx, serial)
	if err != nil {
		return nil, err
	}
	return e.certificate(rec)
}

// ListCertificates returns every record, oldest first.
func (e *Engine) ListCertificates(ctx context.Context) ([]CertificateRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := e.certs.List()
	if err != nil {
		return nil, err
	}
	out := make([]CertificateRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Record())
	}
	return out, nil
}

// CACertificates returns the non-withdrawn certificates of a CA tier.
func (e *Engine) CACertificates(ctx context.Context, t CertificateType) ([]*Certificate, error) {
	if !t.IsCA() {
		return nil, validationErrorf("%s is not a CA tier", t)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Certificate
	for _, ref := range e.custody.Entries(t.AliasTag()) {
		rec, err := e.certs.Get(ref.Serial)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !rec.IsWithdrawn {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b *Certificate) int { return a.Issued.Compare(b.Issued) })
	return out, nil
}

// PublicCAOrganizations are subject organizations whose CAs any USER may
// issue from, whatever organization the CA was created for.
var PublicCAOrganizations = []string{"Public CA", "Government CA"}

// AvailableIssuers lists the CAs requester may issue from, oldest first.
// Withdrawn CAs and CAs outside their validity window are never listed.
// ADMIN sees every CA, CA_USER the CAs of its own organization, and USER
// its own organization's CAs plus those of PublicCAOrganizations.
func (e *Engine) AvailableIssuers(ctx context.Context, requester AuthenticatedRequester) ([]CertificateRecord, error) {
	if requester.OrganizationID == "" {
		return nil, validationErrorf("requester organization is required")
	}
	if _, err := ParseRole(string(requester.Role)); err != nil {
		return nil, err
	}

	now := e.now()
	var issuers []*Certificate
	for _, t := range []CertificateType{TypeRoot, TypeIntermediate} {
		cas, err := e.CACertificates(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, rec := range cas {
			if now.Before(rec.Issued) || !now.Before(rec.Expires) {
				continue
			}
			if issuerVisible(rec, requester) {
				issuers = append(issuers, rec)
			}
		}
	}
	slices.SortFunc(issuers, func(a, b *Certificate) int { return a.Issued.Compare(b.Issued) })

	out := make([]CertificateRecord, 0, len(issuers))
	for _, rec := range issuers {
		out = append(out, rec.Record())
	}
	return out, nil
}

func issuerVisible(rec *Certificate, requester AuthenticatedRequester) bool {
	switch requester.Role {
	case RoleAdmin:
		return true
	case RoleCAUser:
		return rec.OrganizationID == requester.OrganizationID
	case RoleUser:
		return rec.OrganizationID == requester.OrganizationID ||
			slices.Contains(PublicCAOrganizations, rec.Subject.Organization)
	}
	return false
}

// CheckChain reports whether the certificate with serial chains to a
// trusted root. Lookup failures count as invalid.
func (e *Engine) CheckChain(ctx context.Context, serial string) bool {
	valid := e.VerifyChain(ctx, serial) == nil
	e.metrics.observeChain(valid)
	return valid
}

// VerifyChain is CheckChain with the reason.
func (e *Engine) VerifyChain(ctx context.Context, serial string) error {
	rec, err := e.GetCertificate(ctx, serial)
	if err != nil {
		return err
	}
	cert, err := e.certificate(rec)
	if err != nil {
		return err
	}
	return e.validator.Verify(ctx, ChainLink{Record: rec, Cert: cert})
}

// Withdraw marks a certificate withdrawn. Withdrawn CA certificates stop
// signing and stop anchoring chains. Only ADMIN may withdraw.
func (e *Engine) Withdraw(ctx context.Context, serial string, requester AuthenticatedRequester) error {
	if requester.Role != RoleAdmin {
		return permissionErrorf("only %s may withdraw certificates", RoleAdmin)
	}
	rec, err := e.GetCertificate(ctx, serial)
	if err != nil {
		return err
	}
	changed, err := e.certs.SetWithdrawn(rec.SerialNumber)
	if err != nil {
		return err
	}
	if changed {
		e.logger.Info("certificate withdrawn",
			slog.String("serial", rec.SerialNumber),
			slog.String("type", string(rec.Type)),
			slog.String("organization", requester.OrganizationID))
	}
	return nil
}
