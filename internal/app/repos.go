package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/data/aggregates"
	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/data/repos/backlog"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

type Repos struct {
	Tx           aggregates.TxRunner
	Activities   activitylog.ActivityRepo
	SourceEvents activitylog.SourceEventRepo
	Cleanup      activitylog.CleanupRepo
	Reader       activitylog.Reader
	Backlog      backlog.BacklogItemRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger, cfg Config) Repos {
	log.Info("Wiring repos...")
	opts := cfg.WriterOptions()
	return Repos{
		Tx:           aggregates.NewGormTxRunner(db),
		Activities:   activitylog.NewActivityRepo(db, log, opts),
		SourceEvents: activitylog.NewSourceEventRepo(db, log, opts),
		Cleanup:      activitylog.NewCleanupRepo(db, log, opts),
		Reader:       activitylog.NewReader(db),
		Backlog:      backlog.NewBacklogItemRepo(db, log),
	}
}
