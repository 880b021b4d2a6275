package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/data/db"
	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

// Version is stamped at build time.
var Version = "dev"

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Services Services

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

// New connects to postgres and wires every repo and service. The search mirror
// is only wired when a search index is configured.
func New(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	shutdown := observability.InitOTel(ctx, log, cfg.OtelSettings(Version))

	pg, err := db.NewPostgresService(log, cfg.DBConfig())
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if cfg.Postgres.AutoMigrate {
		if err := pg.AutoMigrateAll(); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log, cfg)
	serviceset, err := wireServices(log, cfg, reposet)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		pg:           pg,
		otelShutdown: shutdown,
	}, nil
}

// Migrate applies the schema regardless of POSTGRES_AUTO_MIGRATE.
func (a *App) Migrate() error {
	return a.pg.AutoMigrateAll()
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.Log.Warn("postgres close failed", "error", err)
		}
	}
	a.Log.Sync()
}
