package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "features.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	// A missing file still yields a usable config
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2112, cfg.Server.MetricsPort)
	assert.Equal(t, "postgres", cfg.Database.Host)
	assert.Equal(t, 30*time.Second, cfg.ExecutorTimeout())
	assert.Equal(t, 24*time.Hour, cfg.DedupTTL())
	assert.Equal(t, 10*time.Second, cfg.DrainTimeout())
	assert.Equal(t, 20, cfg.Registry.HistoryWindow)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
executor:
  timeout_ms: 5000
registry:
  max_sessions: 42
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.ExecutorTimeout())
	assert.Equal(t, 42, cfg.Registry.MaxSessions)
	// Unspecified sections keep defaults
	assert.Equal(t, 2112, cfg.Server.MetricsPort)
}

func TestLoadFileMalformed(t *testing.T) {
	path := writeConfig(t, "{not valid yaml")
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("REDIS_ADDR", "cache.internal:6379")
	t.Setenv("EXECUTOR_TIMEOUT_MS", "1500")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, 1500*time.Millisecond, cfg.ExecutorTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("POSTGRES_PORT", "not-a-number")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestConfigPathEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", ConfigPath())
}

func TestManagerReloadSwapsOnSuccess(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")

	mgr, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 8081, mgr.Current().Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8082\n"), 0o644))
	cfg, err := mgr.Reload()
	require.NoError(t, err)
	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, 8082, mgr.Current().Server.Port)
	assert.Equal(t, int64(1), mgr.ReloadCount())
}

func TestManagerReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")

	mgr, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	_, err = mgr.Reload()
	require.Error(t, err)

	assert.Equal(t, 8081, mgr.Current().Server.Port)
	assert.Equal(t, int64(0), mgr.ReloadCount())
}

func TestManagerOnChangeFires(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")

	mgr, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)

	got := make(chan int, 1)
	mgr.OnChange(func(cfg *Config) { got <- cfg.Server.Port })

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8090\n"), 0o644))
	_, err = mgr.Reload()
	require.NoError(t, err)

	select {
	case port := <-got:
		assert.Equal(t, 8090, port)
	default:
		t.Fatal("change handler not invoked")
	}
}

func TestManagerWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")

	mgr, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, mgr.Start())
	defer mgr.Stop()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8095\n"), 0o644))

	deadline := time.After(3 * time.Second)
	for mgr.Current().Server.Port != 8095 {
		select {
		case <-deadline:
			t.Fatal("watcher never picked up the change")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
