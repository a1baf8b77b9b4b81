package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds the iesi configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	// DBPath is the result database. Empty keeps results in memory.
	DBPath           string `json:"db_path"`
	CacheDir         string `json:"cache_dir" validate:"required"`
	ScriptsDir       string `json:"scripts_dir"`
	ConnectivityFile string `json:"connectivity_file"`
	DatasetsDir      string `json:"datasets_dir"`
	// FilesURL is a gocloud.dev bucket URL, e.g. file:///opt/iesi/sql.
	FilesURL string `json:"files_url"`

	LogLevel  string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" validate:"oneof=text json"`

	RuntimeProvider string `json:"runtime_provider" validate:"oneof=memory libsql redis"`
	RedisAddr       string `json:"redis_addr" validate:"required_if=RuntimeProvider redis"`

	EmptyScriptStatus string `json:"empty_script_status" validate:"oneof=SUCCESS WARNING"`
	OutputLimit       int    `json:"output_limit" validate:"gte=0"`

	CryptoKey  string `json:"crypto_key"`
	CryptoSalt string `json:"crypto_salt" validate:"required_with=CryptoKey"`

	// Settings feed the [#key#] framework placeholders.
	Settings map[string]string `json:"settings"`
}

func defaultConfig() Config {
	dir := iesiDir()
	return Config{
		CacheDir:          filepath.Join(dir, "cache"),
		ScriptsDir:        filepath.Join(dir, "scripts"),
		LogLevel:          "info",
		LogFormat:         "text",
		RuntimeProvider:   "memory",
		EmptyScriptStatus: "WARNING",
		OutputLimit:       2000,
		CryptoSalt:        "iesi",
	}
}

func iesiDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".iesi"
	}
	return filepath.Join(home, ".iesi")
}

func settingsPath() string {
	return filepath.Join(iesiDir(), "settings.json")
}

// loadConfig layers settings.json at path and the IESI_* variables read
// through getenv over the defaults, then validates the result.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Layer 3: env vars override.
	strs := map[string]*string{
		"IESI_DB_PATH":             &cfg.DBPath,
		"IESI_CACHE_DIR":           &cfg.CacheDir,
		"IESI_SCRIPTS_DIR":         &cfg.ScriptsDir,
		"IESI_CONNECTIVITY_FILE":   &cfg.ConnectivityFile,
		"IESI_DATASETS_DIR":        &cfg.DatasetsDir,
		"IESI_FILES_URL":           &cfg.FilesURL,
		"IESI_LOG_LEVEL":           &cfg.LogLevel,
		"IESI_LOG_FORMAT":          &cfg.LogFormat,
		"IESI_RUNTIME_PROVIDER":    &cfg.RuntimeProvider,
		"IESI_REDIS_ADDR":          &cfg.RedisAddr,
		"IESI_EMPTY_SCRIPT_STATUS": &cfg.EmptyScriptStatus,
		"IESI_CRYPTO_KEY":          &cfg.CryptoKey,
		"IESI_CRYPTO_SALT":         &cfg.CryptoSalt,
	}
	for key, field := range strs {
		if v := getenv(key); v != "" {
			*field = v
		}
	}
	if v := getenv("IESI_OUTPUT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("IESI_OUTPUT_LIMIT: %q is not a number", v)
		}
		cfg.OutputLimit = n
	}
	cfg.EmptyScriptStatus = strings.ToUpper(cfg.EmptyScriptStatus)

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(cfg Config) error {
	err := configValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %q)", fe.Field(), fe.Tag(), fmt.Sprint(fe.Value())))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
