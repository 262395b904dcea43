package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/ironca/config"
	"github.com/jmcleod/ironca/internal/logging"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// app carries the resolved configuration into subcommands.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	logger  *slog.Logger
	logFile *os.File
}

// NewRootCommand builds the ironca command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	var envFile string

	root := &cobra.Command{
		Use:   "ironca",
		Short: "ironca is a certificate authority with encrypted key custody",
		Long: `A certificate authority that issues root, intermediate and end-entity
certificates, keeps their private keys in a three-layer encrypted custody
hierarchy and publishes revocation lists.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return a.initLogger(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&envFile, "env-file", ".env", "File of KEY=value pairs loaded into the environment")
	f.String(config.KeyConfigFile, "", "YAML configuration file")
	f.String(config.KeyDataDir, "./data", "Directory for the bbolt database")
	f.String(config.KeyStorage, config.StorageBbolt, "Storage backend: bbolt, postgres or memory")
	f.String(config.KeyPostgresDSN, "", "PostgreSQL connection string")
	f.String(config.KeyKeyAlgorithm, "ecdsa-p256", "Key algorithm for new certificates")
	f.String(config.KeyCRLBaseURL, "", "Base URL embedded as the CRL distribution point")
	f.Duration(config.KeyCRLValidity, 7*24*time.Hour, "Time between a CRL's thisUpdate and nextUpdate")
	f.Int(config.KeyMaxChainDepth, 8, "Maximum issuer hops during chain validation")
	f.String(config.KeyLogLevel, "info", "Log level: debug, info, warn or error")
	f.String(config.KeyLogFile, "", "Also write JSON logs to this file")

	root.AddCommand(
		newServerCommand(a),
		newIssueCommand(a),
		newRevokeCommand(a),
		newWithdrawCommand(a),
		newCRLCommand(a),
		newVerifyCommand(a),
		newListCommand(a),
		newIssuersCommand(a),
		newInspectCommand(a),
		newExportCommand(a),
		newAuditCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) initLogger(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	var file *os.File
	if a.cfg.LogFile != "" {
		file, err = os.OpenFile(a.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		a.logFile = file
	}
	if file != nil {
		a.logger = logging.New(level, cmd.ErrOrStderr(), file)
	} else {
		a.logger = logging.New(level, cmd.ErrOrStderr(), nil)
	}
	slog.SetDefault(a.logger)
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
