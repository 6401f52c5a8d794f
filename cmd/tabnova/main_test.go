package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/tabnova/internal/config"
	"github.com/goodtune/tabnova/internal/shield"
	"github.com/goodtune/tabnova/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "tabnova.db")},
	})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &sqlite.Store{}, store)

	_, err = openStorage(config.StorageConfig{Type: "bolt"})
	assert.Error(t, err)
}

func TestWireServices(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tabnova.db"))
	require.NoError(t, err)
	defer store.Close()

	cfg := config.Defaults()
	svc, err := wireServices(cfg, store, zerolog.Nop())
	require.NoError(t, err)

	assert.NotNil(t, svc.pipeline)
	assert.NotNil(t, svc.monitor)
	assert.IsType(t, shield.ThresholdDecider{}, svc.shields.Decider())
	assert.Len(t, svc.tracker.Today(), len("2006-01-02"))
}

func TestWireServicesWithPolicyFile(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "shield.rego")
	require.NoError(t, os.WriteFile(policy, []byte(`package tabnova.shield

import rego.v1

default block := false

block if input.minutes >= 1
`), 0o644))

	store, err := sqlite.Open(filepath.Join(dir, "tabnova.db"))
	require.NoError(t, err)
	defer store.Close()

	cfg := config.Defaults()
	cfg.Shield.PolicyFile = policy
	svc, err := wireServices(cfg, store, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &shield.RegoDecider{}, svc.shields.Decider())

	cfg.Shield.PolicyFile = filepath.Join(dir, "missing.rego")
	_, err = wireServices(cfg, store, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenStorageRedisUnreachable(t *testing.T) {
	cfg := config.Defaults().Storage
	cfg.Redis.Port = 1
	cfg.Redis.DialTimeout = "50ms"

	_, err := openStorage(cfg)
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "***REDACTED***", redact("secret"))
}
