package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/ztpserver/internal/auth"
	"github.com/HerbHall/ztpserver/internal/config"
	"github.com/HerbHall/ztpserver/internal/event"
	"github.com/HerbHall/ztpserver/internal/history"
	"github.com/HerbHall/ztpserver/internal/mqtt"
	"github.com/HerbHall/ztpserver/internal/neighbordb"
	"github.com/HerbHall/ztpserver/internal/provision"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/internal/resources"
	"github.com/HerbHall/ztpserver/internal/server"
	"github.com/HerbHall/ztpserver/internal/store"
	"github.com/HerbHall/ztpserver/internal/version"
	"github.com/HerbHall/ztpserver/internal/webhook"
	"github.com/HerbHall/ztpserver/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	// Load configuration before the logger so level/format apply.
	cfg, v, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("ztpserver starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults", zap.String("component", "config"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := newStoreSet()
	defer stores.closeAll(logger)

	repo, err := openRepository(ctx, cfg.Repository, stores)
	if err != nil {
		return err
	}
	logger.Info("repository opened",
		zap.String("component", "repository"),
		zap.String("backend", cfg.Repository.Backend),
	)

	loader := neighbordb.NewLoader(repo, cfg.Neighbordb.Path)
	cache := neighbordb.NewCache(loader, logger.Named("neighbordb"))
	if err := cache.Reload(ctx); err != nil {
		// Not fatal: registrations fail until the file is fixed.
		logger.Warn("initial neighbordb load failed", zap.Error(err))
	}

	var tokens *auth.TokenService
	if cfg.Auth.Secret != "" {
		if tokens, err = auth.NewTokenService([]byte(cfg.Auth.Secret)); err != nil {
			return fmt.Errorf("initialize tokens: %w", err)
		}
	}

	bus := event.NewBus(logger.Named("event"))
	whCfg := webhook.Config{
		URL:     cfg.Webhook.URL,
		Timeout: cfg.Webhook.Timeout,
		Enabled: cfg.Webhook.Enabled,
	}
	if tokens != nil {
		whCfg.Signer = tokens
	}
	webhook.New(whCfg, logger.Named("webhook")).Subscribe(bus)

	broker := mqtt.New(mqtt.Config{
		BrokerURL:   cfg.MQTT.BrokerURL,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Retain:      cfg.MQTT.Retain,
		Timeout:     cfg.MQTT.Timeout,
	}, logger.Named("mqtt"))
	if err := broker.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt publisher: %w", err)
	}
	defer broker.Stop()
	broker.Subscribe(bus)

	var events http.Handler
	if cfg.Events.Enabled {
		var validator ws.TokenValidator
		if tokens != nil {
			validator = tokens
		} else {
			logger.Warn("event stream enabled without auth.secret; stream is unauthenticated")
		}
		stream := ws.NewHandler(validator, cfg.Events.BufferSize, logger.Named("ws"))
		stream.Subscribe(bus)
		events = stream
	}

	var hist server.HistoryLister
	if cfg.History.Enabled {
		db, err := stores.open(cfg.History.Database)
		if err != nil {
			return err
		}
		hs, err := history.NewStore(ctx, db)
		if err != nil {
			return fmt.Errorf("initialize history: %w", err)
		}
		history.NewRecorder(hs, logger.Named("history")).Subscribe(bus)
		hist = hs
		logger.Info("history journal enabled", zap.String("database", cfg.History.Database))
	}

	ctrl := provision.NewController(
		repo,
		cache,
		resources.New(repo, logger.Named("resources")),
		bus,
		provision.Options{
			Identifier:                cfg.Provisioning.IdentifierField(),
			DisableTopologyValidation: cfg.Provisioning.DisableTopologyValidation,
			SerializeRegistrations:    cfg.Provisioning.SerializeRegistrations,
			BaseURL:                   cfg.Server.URL,
		},
		logger.Named("provision"),
	)

	ready := func(ctx context.Context) error {
		if err := stores.ping(ctx); err != nil {
			return err
		}
		ok, err := repo.Exists(ctx, cfg.Neighbordb.Path)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("neighbordb not found")
		}
		return nil
	}

	srv := server.New(server.Options{
		Addr:           cfg.Server.Addr(),
		RateRPS:        cfg.RateLimit.RPS,
		RateBurst:      cfg.RateLimit.Burst,
		TrustForwarded: cfg.RateLimit.TrustForwarded,
		Events:         events,
	}, ctrl, hist, ready, logger.Named("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Neighbordb.Watch && cfg.Repository.Backend == "fs" {
		diskPath := filepath.Join(cfg.Repository.DataRoot, filepath.FromSlash(cfg.Neighbordb.Path))
		g.Go(func() error { return cache.Watch(gctx, diskPath) })
		logger.Info("watching neighbordb", zap.String("path", diskPath))
	}

	logger.Info("ztpserver ready", zap.String("addr", cfg.Server.Addr()))
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("ztpserver stopped")
	return nil
}

func openRepository(ctx context.Context, cfg config.RepositoryConfig, stores *storeSet) (*repository.Repository, error) {
	switch cfg.Backend {
	case "sqlite":
		db, err := stores.open(cfg.Database)
		if err != nil {
			return nil, err
		}
		b, err := repository.NewSQLiteBackend(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite repository: %w", err)
		}
		return repository.New(b), nil
	default:
		if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create data root: %w", err)
		}
		b, err := repository.NewOSBackend(cfg.DataRoot)
		if err != nil {
			return nil, fmt.Errorf("open data root: %w", err)
		}
		return repository.New(b), nil
	}
}

// storeSet opens each database path once so the repository and history
// journal can share a file.
type storeSet struct {
	byPath map[string]*store.SQLiteStore
}

func newStoreSet() *storeSet {
	return &storeSet{byPath: map[string]*store.SQLiteStore{}}
}

func (s *storeSet) open(path string) (*store.SQLiteStore, error) {
	key := filepath.Clean(path)
	if db, ok := s.byPath[key]; ok {
		return db, nil
	}
	if err := os.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := store.New(key)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", key, err)
	}
	s.byPath[key] = db
	return db, nil
}

func (s *storeSet) ping(ctx context.Context) error {
	for path, db := range s.byPath {
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("database %s: %w", path, err)
		}
	}
	return nil
}

func (s *storeSet) closeAll(logger *zap.Logger) {
	for path, db := range s.byPath {
		if err := db.Close(); err != nil {
			logger.Warn("close database", zap.String("path", path), zap.Error(err))
		}
	}
}
