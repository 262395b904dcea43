package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, StorageBbolt, cfg.Storage)
	assert.Equal(t, ":8443", cfg.Listen)
	assert.Equal(t, 7*24*time.Hour, cfg.CRLValidity)
	assert.Equal(t, 8, cfg.MaxChainDepth)
	assert.Equal(t, uint32(64*1024), cfg.KDFMemory)
	assert.Equal(t, uint8(4), cfg.KDFThreads)
	assert.Equal(t, filepath.Join("data", "ironca.db"), cfg.DatabasePath())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("IRONCA_STORAGE", "memory")
	t.Setenv("IRONCA_CRL_VALIDITY", "36h")
	t.Setenv("IRONCA_MASTER_PASSPHRASE", "from the environment")

	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 36*time.Hour, cfg.CRLValidity)
	assert.Equal(t, "from the environment", cfg.Passphrases.Master)
}

func TestFlagsBeatEnvironment(t *testing.T) {
	t.Setenv("IRONCA_LISTEN", ":9000")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyListen, "", "")
	require.NoError(t, flags.Parse([]string{"--listen", ":9443"}))

	v := viper.New()
	require.NoError(t, v.BindPFlags(flags))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, ":9443", cfg.Listen)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ironca.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: postgres\npostgres-dsn: postgres://ca@localhost/ca\nkey-algorithm: rsa-2048\n"), 0o600))

	v := viper.New()
	v.Set(KeyConfigFile, path)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "postgres://ca@localhost/ca", cfg.PostgresDSN)
	assert.Equal(t, "rsa-2048", cfg.KeyAlgorithm)

	v = viper.New()
	v.Set(KeyConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load(v)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IRONCA_CRL_BASE_URL=http://ca.test/crl\n"), 0o600))
	t.Setenv("IRONCA_CRL_BASE_URL", "")
	os.Unsetenv("IRONCA_CRL_BASE_URL")

	require.NoError(t, LoadEnvFile(path))
	cfg, err := Load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "http://ca.test/crl", cfg.CRLBaseURL)

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestValidate(t *testing.T) {
	for name, set := range map[string]func(*viper.Viper){
		"unknown storage":  func(v *viper.Viper) { v.Set(KeyStorage, "floppy") },
		"postgres no dsn":  func(v *viper.Viper) { v.Set(KeyStorage, StoragePostgres) },
		"zero crl":         func(v *viper.Viper) { v.Set(KeyCRLValidity, "0s") },
		"negative depth":   func(v *viper.Viper) { v.Set(KeyMaxChainDepth, -1) },
		"bbolt no datadir": func(v *viper.Viper) { v.Set(KeyDataDir, "") },
		"zero kdf threads": func(v *viper.Viper) { v.Set(KeyKDFThreads, 0) },
	} {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			set(v)
			_, err := Load(v)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
