package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, ":18080", cfg.Addr)
	require.Equal(t, "memory", cfg.StoreMode)
	require.Equal(t, time.Hour, cfg.IdleLobbyTTL)
	require.Equal(t, 700*time.Millisecond, cfg.BotPlayDelay)
}

func TestLoadParsesFlagOverrides(t *testing.T) {
	cfg, err := Load([]string{"--addr", ":9000", "--store-mode", "sqlite", "--sqlite-path", "/tmp/x.db"})
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "sqlite", cfg.StoreMode)
	require.Equal(t, "/tmp/x.db", cfg.SQLitePath)
}

func TestLoadRejectsUnknownStoreMode(t *testing.T) {
	_, err := Load([]string{"--store-mode", "carrier-pigeon"})
	require.Error(t, err)
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	_, err := Load([]string{"--store-mode", "postgres"})
	require.Error(t, err)
}

func TestPersistenceConfigAdaptsFields(t *testing.T) {
	cfg, err := Load([]string{"--store-mode", "postgres", "--database-url", "postgres://x"})
	require.NoError(t, err)
	pc := cfg.PersistenceConfig()
	require.Equal(t, "postgres", string(pc.Mode))
	require.Equal(t, "postgres://x", pc.DatabaseURL)
}
