package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/tse-report-engine/internal/api"
	"github.com/tse-report-engine/internal/config"
	"github.com/tse-report-engine/internal/database"
	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/formula"
	"github.com/tse-report-engine/internal/lock"
	"github.com/tse-report-engine/internal/metrics"
	"github.com/tse-report-engine/internal/repository"
	"github.com/tse-report-engine/internal/rules"
	"github.com/tse-report-engine/internal/service"
	"github.com/tse-report-engine/pkg/composite"
	"github.com/tse-report-engine/pkg/dcf"
)

// app holds the wired engine of one command run.
type app struct {
	manager  domain.ConfigManager
	logger   *logrus.Logger
	store    domain.Store
	locker   lock.Locker
	registry *prometheus.Registry
	health   api.HealthChecker
	services api.Services
	closers  []func()
}

// loadConfig selects the local or the file based configuration.
func loadConfig() (domain.ConfigManager, error) {
	if rootFlags.local {
		local := config.LoadLocalConfig()
		if err := local.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		cfg := local.ToConfig()
		if local.RulesPath != "" {
			cfg.Rules.Path = local.RulesPath
		}
		if local.FormulasPath != "" {
			cfg.Formulas.Path = local.FormulasPath
		}
		cfg.Gateway.BaseURL = local.GatewayURL
		return &config.Static{Config: cfg}, nil
	}

	var paths []string
	if rootFlags.configDir != "" {
		paths = append(paths, rootFlags.configDir)
	}
	return config.NewManager(paths...)
}

// newLogger builds the logger described by the logging section.
func newLogger(cfg domain.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
	}
	logger.SetOutput(out)
	return logger, nil
}

// newApp loads the configuration and wires every component.
func newApp(ctx context.Context) (*app, error) {
	manager, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	logger, err := newLogger(manager.GetConfig().Logging)
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, manager, logger)
}

func buildApp(ctx context.Context, manager domain.ConfigManager, logger *logrus.Logger) (*app, error) {
	cfg := manager.GetConfig()
	a := &app{manager: manager, logger: logger}
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := a.openStore(ctx, cfg.Database)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	defs, err := loadDefinitions(cfg.Formulas)
	if err != nil {
		a.Close()
		return nil, err
	}
	globals := cfg.Globals.ToGlobals()
	formulas, err := formula.NewCELService(defs, store, globals, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("compiling formulas: %w", err)
	}

	cache := rules.StaticCache(rules.Table{})
	if cfg.Rules.Path != "" {
		cache = rules.NewFileCache(cfg.Rules.Path, cfg.Rules.Sheet, logger)
	}
	resolver, err := rules.NewResolver(cache, cfg.Rules.CacheSize, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	var gateway domain.Gateway = dcf.Offline{}
	if cfg.Gateway.BaseURL != "" {
		gateway = dcf.NewClient(dcf.ConfigFrom(cfg.Gateway), logger)
	} else {
		logger.Info("No collection system configured, sends will fail")
	}

	a.locker, err = lock.NewLocker(cfg.Lock, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	m := metrics.New(a.registry)

	a.services = api.Services{
		Reports:   service.NewReportService(logger, store, formulas, formula.NewSchemaService(defs, formulas), m),
		Importer:  service.NewImporter(logger, store, formulas, composite.NewDecomposer(nil), defs, m),
		Defaults:  service.NewDefaultResultService(logger, store, formulas, resolver, globals, m),
		Lifecycle: service.NewLifecycleService(logger, store, gateway, m),
		Database:  a.health,
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg domain.DatabaseConfig) (domain.Store, error) {
	switch cfg.Driver {
	case "memory":
		a.logger.Warn("Using the in-memory store, reports are lost on exit")
		return repository.NewMemoryStore(), nil
	case "sqlite":
		store, err := repository.NewSQLiteStore(ctx, cfg.Path, a.logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		a.closers = append(a.closers, func() { store.Close() })
		a.health = store
		return store, nil
	case "postgres":
		db, err := database.NewConnection(ctx, database.ConfigFrom(cfg), a.logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.RegisterMetrics(a.registry); err != nil {
			return nil, err
		}
		a.health = db
		return repository.NewPostgresStore(db.Pool, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %q", cfg.Driver)
	}
}

func loadDefinitions(cfg domain.FormulaConfig) (*formula.Definitions, error) {
	if cfg.Path == "" {
		return formula.DefaultDefinitions()
	}
	defs, err := formula.LoadDefinitions(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("loading formula definitions: %w", err)
	}
	return defs, nil
}

// Close releases the store and its connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
