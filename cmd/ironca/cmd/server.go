package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironca/api"
	"github.com/jmcleod/ironca/config"
)

func newServerCommand(a *app) *cobra.Command {
	var tlsCert, tlsKey string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve CRLs and certificate status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := a.open(cmd.Context(), prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer in.Close()

			httpMetrics, err := api.NewHTTPMetrics(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			handler := api.New(in.engine,
				api.WithLogger(a.logger),
				api.WithMetrics(httpMetrics),
				api.WithBasePath("/api/v1"))

			r := chi.NewRouter()
			r.Use(middleware.RequestID)
			r.Use(middleware.RealIP)
			r.Use(middleware.Recoverer)

			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("OK"))
			})
			r.Handle("/metrics", promhttp.Handler())
			r.Mount("/api/v1", handler.Router())

			server := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if tlsCert != "" || tlsKey != "" {
				if tlsCert == "" || tlsKey == "" {
					return fmt.Errorf("%w: --tls-cert and --tls-key must be given together", config.ErrInvalid)
				}
				cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
				if err != nil {
					return fmt.Errorf("failed to load TLS key pair: %w", err)
				}
				server.TLSConfig = &tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				}
			}

			done := make(chan error, 1)
			go func() {
				var err error
				if server.TLSConfig != nil {
					err = server.ListenAndServeTLS("", "")
				} else {
					err = server.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					done <- fmt.Errorf("server failed: %w", err)
					return
				}
				done <- nil
			}()

			printBanner(cmd)
			if server.TLSConfig == nil {
				a.logger.Warn("serving plain HTTP; pass --tls-cert and --tls-key to enable TLS")
			}
			a.logger.Info("listening", "addr", a.cfg.Listen, "storage", a.cfg.Storage)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case <-ctx.Done():
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("server shutdown failed: %w", err)
				}
				return nil
			case err := <-done:
				return err
			}
		},
	}

	f := cmd.Flags()
	f.String(config.KeyListen, ":8443", "Address to listen on")
	f.StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	f.StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	return cmd
}
