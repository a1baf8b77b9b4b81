package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/BKyryl/iesi/internal/actions"
	"github.com/BKyryl/iesi/internal/connectivity"
	"github.com/BKyryl/iesi/internal/dataset"
	"github.com/BKyryl/iesi/internal/engine"
	"github.com/BKyryl/iesi/internal/expressions"
	"github.com/BKyryl/iesi/internal/filelookup"
	"github.com/BKyryl/iesi/internal/generation"
	"github.com/BKyryl/iesi/internal/logging"
	"github.com/BKyryl/iesi/internal/repository"
	"github.com/BKyryl/iesi/internal/resolution"
	"github.com/BKyryl/iesi/internal/secrets"
	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/internal/validation"
	"github.com/BKyryl/iesi/internal/variables"
	"github.com/BKyryl/iesi/pkg/schema"
)

// app is the wired set of components behind every command.
type app struct {
	cfg     Config
	logger  *slog.Logger
	repo    *repository.Repository
	actions *actions.Registry
	results store.ResultStore
	crypto  *secrets.Crypto
	engine  *engine.Engine

	closers []func() error
}

// newApp builds the components described by cfg. Logs go to logw and
// fwk.outputMessage text goes to stdout.
func newApp(ctx context.Context, cfg Config, logw, stdout io.Writer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.New(logw, cfg.LogLevel, cfg.LogFormat),
	}
	if err := a.wire(ctx, stdout); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, stdout io.Writer) error {
	cfg := a.cfg

	// Results: libSQL when a database path is configured.
	if cfg.DBPath != "" {
		s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		a.results = s
	} else {
		a.results = store.NewMemoryStore()
	}

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry); err != nil {
		return err
	}
	a.actions = registry
	sv, err := validation.NewScriptValidator(registry)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(cfg.ScriptsDir); statErr == nil {
		a.repo, err = repository.Load(cfg.ScriptsDir, sv)
		if err != nil {
			return err
		}
	} else {
		a.logger.Warn("scripts directory not found, starting empty", "dir", cfg.ScriptsDir)
		a.repo = repository.New(sv)
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}
	generators := generation.NewRegistry()
	if err := generation.RegisterBuiltins(generators, generation.Options{CEL: celEngine}); err != nil {
		return err
	}

	providers := resolution.Providers{Generators: generators}
	ecfg := engine.Config{
		Scripts:         a.repo,
		Actions:         registry,
		Results:         a.results,
		CEL:             celEngine,
		CacheRoot:       cfg.CacheDir,
		RuntimeProvider: cfg.RuntimeProvider,
		Logger:          a.logger,
		Stdout:          stdout,
		OutputLimit:     cfg.OutputLimit,
		AllZeroStatus:   schema.Status(cfg.EmptyScriptStatus),
	}

	if cfg.ConnectivityFile != "" {
		conn, err := connectivity.Load(cfg.ConnectivityFile)
		if err != nil {
			return err
		}
		providers.Connections = conn
		ecfg.Environments = conn
	}
	if cfg.DatasetsDir != "" {
		ds := dataset.New(cfg.DatasetsDir)
		providers.Datasets = ds
		ecfg.Datasets = ds
	}
	if cfg.FilesURL != "" {
		files, err := filelookup.Open(ctx, cfg.FilesURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, files.Close)
		providers.Files = files
	}
	if cfg.CryptoKey != "" {
		c, err := secrets.New(secrets.Config{Passphrase: cfg.CryptoKey, Salt: []byte(cfg.CryptoSalt)})
		if err != nil {
			return err
		}
		a.crypto = c
		providers.Crypto = c
		ecfg.Redactor = c
	}

	vars := variables.NewRegistry()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		if err := vars.Register(variables.ProviderRedis, variables.RedisFactory(client)); err != nil {
			return err
		}
	}
	ecfg.Variables = vars
	ecfg.Resolver = resolution.New(cfg.Settings, providers)

	a.engine, err = engine.New(ecfg)
	return err
}

// Close releases the components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
