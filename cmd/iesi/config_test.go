package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Empty(t, cfg.DBPath)
}

func TestLoadConfig_Layers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"db_path": "/data/iesi.db",
		"log_level": "debug",
		"output_limit": 500,
		"settings": {"home": "/opt/iesi"}
	}`), 0o644))

	cfg, err := loadConfig(path, envMap(map[string]string{
		"IESI_LOG_LEVEL":           "warn",
		"IESI_OUTPUT_LIMIT":        "80",
		"IESI_EMPTY_SCRIPT_STATUS": "success",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/data/iesi.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel, "env wins over the file")
	assert.Equal(t, 80, cfg.OutputLimit)
	assert.Equal(t, "SUCCESS", cfg.EmptyScriptStatus)
	assert.Equal(t, map[string]string{"home": "/opt/iesi"}, cfg.Settings)
	assert.Equal(t, "text", cfg.LogFormat, "defaults survive")
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{"IESI_LOG_LEVEL": "loud"}, "LogLevel"},
		{"provider", map[string]string{"IESI_RUNTIME_PROVIDER": "etcd"}, "RuntimeProvider"},
		{"redis without address", map[string]string{"IESI_RUNTIME_PROVIDER": "redis"}, "RedisAddr"},
		{"empty status", map[string]string{"IESI_EMPTY_SCRIPT_STATUS": "ERROR"}, "EmptyScriptStatus"},
		{"output limit", map[string]string{"IESI_OUTPUT_LIMIT": "lots"}, "IESI_OUTPUT_LIMIT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(filepath.Join(t.TempDir(), "none.json"), envMap(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err := loadConfig(path, envMap(nil))
	assert.Error(t, err)
}
