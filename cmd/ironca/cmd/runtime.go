package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/jmcleod/ironca/config"
	"github.com/jmcleod/ironca/keystore"
	"github.com/jmcleod/ironca/pki"
	"github.com/jmcleod/ironca/storage"
	bboltstorage "github.com/jmcleod/ironca/storage/bbolt"
	"github.com/jmcleod/ironca/storage/memory"
	"github.com/jmcleod/ironca/storage/postgres"
)

// instance is an opened engine and everything it holds open.
type instance struct {
	engine  *pki.Engine
	custody *keystore.Hierarchy
	closers []func() error
}

func (in *instance) Close() error {
	var errs []error
	for i := len(in.closers) - 1; i >= 0; i-- {
		errs = append(errs, in.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) openRepository(ctx context.Context) (storage.Repository, func() error, error) {
	switch a.cfg.Storage {
	case config.StorageMemory:
		return memory.NewRepository(), func() error { return nil }, nil
	case config.StoragePostgres:
		store, err := postgres.NewRepositoryFromDSN(ctx, a.cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return store, store.Close, nil
	default:
		if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating data directory: %w", err)
		}
		store, err := bboltstorage.NewRepositoryFromFile(a.cfg.DatabasePath(), &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("opening bbolt storage: %w", err)
		}
		return store, store.Close, nil
	}
}

// open builds the engine from the resolved configuration. reg receives the
// engine metrics; nil uses the default registerer.
func (a *app) open(ctx context.Context, reg prometheus.Registerer) (*instance, error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	in := &instance{closers: []func() error{closeRepo}}

	custody, err := keystore.Open(ctx, repo, a.cfg.Passphrases,
		keystore.WithArgon2id(a.cfg.KDFTime, a.cfg.KDFMemory, a.cfg.KDFThreads),
		keystore.WithLogger(a.logger))
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("opening key custody: %w", err)
	}
	in.custody = custody
	in.closers = append(in.closers, func() error { custody.Close(); return nil })

	keyAlg, err := pki.ParseKeyAlgorithm(a.cfg.KeyAlgorithm)
	if err != nil {
		in.Close()
		return nil, err
	}
	metrics, err := pki.NewMetrics(reg)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.engine, err = pki.NewEngine(custody, repo,
		pki.WithLogger(a.logger),
		pki.WithMetrics(metrics),
		pki.WithKeyAlgorithm(keyAlg),
		pki.WithCRLBaseURL(a.cfg.CRLBaseURL),
		pki.WithCRLValidity(a.cfg.CRLValidity),
		pki.WithMaxChainDepth(a.cfg.MaxChainDepth))
	if err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

// withEngine opens the engine for the duration of fn.
func (a *app) withEngine(cmd *cobra.Command, fn func(*pki.Engine) error) error {
	in, err := a.open(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer in.Close()
	return fn(in.engine)
}

type requesterFlags struct {
	org  string
	role string
}

func (r *requesterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.org, "org", "default", "Organization the request is made for")
	cmd.Flags().StringVar(&r.role, "role", string(pki.RoleAdmin), "Requester role: admin, ca-user or user")
}

func (r *requesterFlags) requester() (pki.AuthenticatedRequester, error) {
	role, err := pki.ParseRole(r.role)
	if err != nil {
		return pki.AuthenticatedRequester{}, err
	}
	return pki.AuthenticatedRequester{OrganizationID: r.org, Role: role}, nil
}
