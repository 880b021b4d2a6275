package app

import (
	"context"
	"fmt"

	"github.com/yungbote/activitylog-backend/internal/http"
	httpH "github.com/yungbote/activitylog-backend/internal/http/handlers"
)

// OpsServer builds the health, metrics and read-only query server.
func (a *App) OpsServer() (*http.Server, error) {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	return http.NewServer(http.RouterConfig{
		Log:             a.Log.With("component", "http"),
		ServiceName:     a.Cfg.Otel.ServiceName,
		CORSOrigins:     a.Cfg.HTTP.CORSOrigins,
		HealthHandler:   httpH.NewHealthHandler(sqlDB),
		ActivityHandler: httpH.NewActivityHandler(a.Repos.Reader),
		BacklogHandler:  httpH.NewBacklogHandler(a.Repos.Backlog, a.Cfg.ClaimPolicy()),
	}), nil
}

// RunOpsServer serves on the configured address until ctx is done.
func (a *App) RunOpsServer(ctx context.Context) error {
	srv, err := a.OpsServer()
	if err != nil {
		return err
	}
	a.Log.Info("Ops server listening", "addr", a.Cfg.HTTP.Addr)
	return srv.Run(ctx, a.Cfg.HTTP.Addr)
}
