package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/passq/passq/internal/app"
	"github.com/passq/passq/internal/app/maintenance"
	iauth "github.com/passq/passq/internal/auth"
	"github.com/passq/passq/internal/database"
	"github.com/passq/passq/internal/geoip"
	"github.com/passq/passq/internal/security"
	"github.com/passq/passq/internal/vault"
	"github.com/passq/passq/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("passq-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithComponent("bootstrap")
	for setting := range generated {
		log.Info("generated runtime secret", zap.String("setting", setting))
	}

	// The key source is constructed once here and injected into every
	// component that needs key material.
	keys, err := app.BuildKeySource(cfg.Keys)
	if err != nil {
		return fmt.Errorf("build key source: %w", err)
	}
	log.Info("key source ready", zap.String("provider", keys.ProviderInfo()))

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	encryption, err := vault.NewService(ctx, keys)
	if err != nil {
		return fmt.Errorf("initialise encryption service: %w", err)
	}
	log.Info("envelope encryption ready", zap.String("provider", encryption.ProviderInfo()))

	tokens, err := iauth.NewTokenService(ctx, keys, iauth.TokenConfig{
		Issuer:          cfg.Auth.Issuer,
		Audience:        cfg.Auth.Audience,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("initialise token service: %w", err)
	}

	revocations, err := iauth.NewRevocationRegistry(db, iauth.RevocationConfig{
		Retention: cfg.Security.RevocationRetention,
	})
	if err != nil {
		return fmt.Errorf("initialise revocation registry: %w", err)
	}
	if err := revocations.Load(ctx); err != nil {
		return fmt.Errorf("warm-start revocation registry: %w", err)
	}

	events, err := security.NewRecorder(db, nil)
	if err != nil {
		return fmt.Errorf("initialise event recorder: %w", err)
	}

	audit, err := security.NewAuditService(ctx, keys, db, nil)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	trust, err := iauth.NewDeviceTrustService(db, nil)
	if err != nil {
		return fmt.Errorf("initialise device trust service: %w", err)
	}

	var resolver geoip.Resolver
	if cfg.GeoIP.Enabled {
		resolver = geoip.NewHTTPResolver(cfg.GeoIP.Timeout)
	}

	sessions, err := iauth.NewSessionService(db, tokens, revocations, iauth.SessionConfig{
		Resolver: resolver,
		Events:   events,
		Trust:    trust,
	})
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	var cleaner *maintenance.Cleaner
	if cfg.Maintenance.Enabled {
		cleaner = maintenance.NewCleaner(sessions, revocations, events, audit,
			maintenance.WithEventRetention(cfg.Security.EventRetention),
			maintenance.WithAuditRetention(cfg.Security.AuditRetention),
			maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
			maintenance.WithRevocationSchedule(cfg.Maintenance.RevocationSchedule),
			maintenance.WithRetentionSchedule(cfg.Maintenance.RetentionSchedule),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	log.Info("core services ready")

	<-ctx.Done()
	log.Info("shutdown signal received")

	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithComponent("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
