package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

// IndexDeleter removes a person's documents from the search index.
type IndexDeleter interface {
	DeleteByPerson(ctx context.Context, ident string) (int64, error)
}

// Cleaner erases a person from the relational store and then from the search index.
type Cleaner struct {
	log   *logger.Logger
	repo  activitylog.CleanupRepo
	index IndexDeleter
}

// NewCleaner returns a Cleaner. index may be nil when no search index is configured.
func NewCleaner(baseLog *logger.Logger, repo activitylog.CleanupRepo, index IndexDeleter) *Cleaner {
	return &Cleaner{
		log:   baseLog.With("service", "Cleaner"),
		repo:  repo,
		index: index,
	}
}

func (c *Cleaner) DeletePerson(ctx context.Context, ident string) error {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return errors.New("ident required")
	}
	counts, err := c.repo.DeletePerson(dbctx.Context{Ctx: ctx}, ident)
	if err != nil {
		return fmt.Errorf("delete person rows: %w", err)
	}
	var docs int64
	if c.index != nil {
		docs, err = c.index.DeleteByPerson(ctx, ident)
		if err != nil {
			return fmt.Errorf("delete person documents: %w", err)
		}
	}
	c.log.Info("Person erased",
		"person_ident", ident,
		"rows", counts.Total(),
		"documents", docs,
	)
	return nil
}
