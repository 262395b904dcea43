// Package config resolves ironca settings from defaults, an optional YAML
// file, a .env file, IRONCA_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jmcleod/ironca/keystore"
)

// EnvPrefix is prepended to every environment variable, so "data-dir" is
// read from IRONCA_DATA_DIR.
const EnvPrefix = "IRONCA"

// Keys understood by Load.
const (
	KeyConfigFile             = "config"
	KeyDataDir                = "data-dir"
	KeyStorage                = "storage"
	KeyPostgresDSN            = "postgres-dsn"
	KeyListen                 = "listen"
	KeyCRLBaseURL             = "crl-base-url"
	KeyCRLValidity            = "crl-validity"
	KeyKeyAlgorithm           = "key-algorithm"
	KeyMaxChainDepth          = "max-chain-depth"
	KeyLogLevel               = "log-level"
	KeyLogFile                = "log-file"
	KeyMasterPassphrase       = "master-passphrase"
	KeyOrganizationPassphrase = "organization-passphrase"
	KeyCertificatePassphrase  = "certificate-passphrase"
	KeyKDFTime                = "kdf-time"
	KeyKDFMemory              = "kdf-memory"
	KeyKDFThreads             = "kdf-threads"
)

// Storage backends.
const (
	StorageBbolt    = "bbolt"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// ErrInvalid reports an unusable setting.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved process configuration.
type Config struct {
	DataDir       string
	Storage       string
	PostgresDSN   string
	Listen        string
	CRLBaseURL    string
	CRLValidity   time.Duration
	KeyAlgorithm  string
	MaxChainDepth int
	LogLevel      string
	LogFile       string
	Passphrases   keystore.Passphrases

	// Argon2id cost for newly created custody containers. KDFMemory is in
	// KiB.
	KDFTime    uint32
	KDFMemory  uint32
	KDFThreads uint8
}

// DatabasePath is the bbolt file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "ironca.db")
}

// SetDefaults installs the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, "./data")
	v.SetDefault(KeyStorage, StorageBbolt)
	v.SetDefault(KeyListen, ":8443")
	v.SetDefault(KeyCRLValidity, 7*24*time.Hour)
	v.SetDefault(KeyKeyAlgorithm, "ecdsa-p256")
	v.SetDefault(KeyMaxChainDepth, 8)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyKDFTime, 1)
	v.SetDefault(KeyKDFMemory, 64*1024)
	v.SetDefault(KeyKDFThreads, 4)
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load resolves the configuration from v. Flags must already be bound.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalid, file, err)
		}
	}

	cfg := &Config{
		DataDir:       v.GetString(KeyDataDir),
		Storage:       strings.ToLower(v.GetString(KeyStorage)),
		PostgresDSN:   v.GetString(KeyPostgresDSN),
		Listen:        v.GetString(KeyListen),
		CRLBaseURL:    v.GetString(KeyCRLBaseURL),
		CRLValidity:   v.GetDuration(KeyCRLValidity),
		KeyAlgorithm:  v.GetString(KeyKeyAlgorithm),
		MaxChainDepth: v.GetInt(KeyMaxChainDepth),
		LogLevel:      v.GetString(KeyLogLevel),
		LogFile:       v.GetString(KeyLogFile),
		Passphrases: keystore.Passphrases{
			Master:       v.GetString(KeyMasterPassphrase),
			Organization: v.GetString(KeyOrganizationPassphrase),
			Certificate:  v.GetString(KeyCertificatePassphrase),
		},
		KDFTime:    v.GetUint32(KeyKDFTime),
		KDFMemory:  v.GetUint32(KeyKDFMemory),
		KDFThreads: uint8(min(v.GetUint(KeyKDFThreads), 255)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on the command being run.
// Passphrases are checked by keystore.Open.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageBbolt:
		if c.DataDir == "" {
			return fmt.Errorf("%w: %s is required for bbolt storage", ErrInvalid, KeyDataDir)
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: %s is required for postgres storage", ErrInvalid, KeyPostgresDSN)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalid, c.Storage)
	}
	if c.CRLValidity <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyCRLValidity)
	}
	if c.MaxChainDepth <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyMaxChainDepth)
	}
	if c.KDFTime == 0 || c.KDFThreads == 0 || c.KDFMemory < 8*uint32(c.KDFThreads) {
		return fmt.Errorf("%w: argon2id cost too low", ErrInvalid)
	}
	return nil
}
