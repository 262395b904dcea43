package pki

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	issued       *prometheus.CounterVec
	issueErrors  *prometheus.CounterVec
	issueLatency prometheus.Histogram
	revoked      *prometheus.CounterVec
	crls         *prometheus.CounterVec
	chainChecks  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg (the default
// registerer when nil). Collectors that are already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironca_certificates_issued_total",
			Help: "Certificates issued, by type.",
		}, []string{"type"}),
		issueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironca_issuance_failures_total",
			Help: "Rejected or failed issuance requests, by error category.",
		}, []string{"category"}),
		issueLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ironca_issuance_duration_seconds",
			Help:    "Time spent issuing a certificate, including key generation.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironca_revocations_total",
			Help: "Revocations recorded, by reason.",
		}, []string{"reason"}),
		crls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironca_crls_generated_total",
			Help: "CRL generation attempts, by outcome.",
		}, []string{"outcome"}),
		chainChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironca_chain_checks_total",
			Help: "Chain validations, by result.",
		}, []string{"result"}),
	}

	var err error
	for _, p := range []**prometheus.CounterVec{&m.issued, &m.issueErrors, &m.revoked, &m.crls, &m.chainChecks} {
		if *p, err = register(reg, *p); err != nil {
			return nil, err
		}
	}
	if m.issueLatency, err = register(reg, m.issueLatency); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeIssue(t CertificateType, started time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.issueErrors.WithLabelValues(errorCategory(err)).Inc()
		return
	}
	m.issued.WithLabelValues(string(t)).Inc()
	m.issueLatency.Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeRevoke(reason RevocationReason) {
	if m == nil {
		return
	}
	m.revoked.WithLabelValues(reason.String()).Inc()
}

func (m *Metrics) observeCRL(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorCategory(err)
	}
	m.crls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeChain(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.chainChecks.WithLabelValues(result).Inc()
}

// errorCategory returns a short label for the sentinel err wraps.
func errorCategory(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermission):
		return "permission"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrCryptographic):
		return "cryptographic"
	case errors.Is(err, ErrChainValidation):
		return "chain"
	case errors.Is(err, ErrDuplicateSerial):
		return "duplicate_serial"
	}
	return "internal"
}
