package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

// Reindexer rebuilds a person's documents from the relational store.
type Reindexer struct {
	log    *logger.Logger
	reader activitylog.Reader
	mirror *Mirror
}

func NewReindexer(baseLog *logger.Logger, reader activitylog.Reader, mirror *Mirror) *Reindexer {
	return &Reindexer{
		log:    baseLog.With("service", "Reindexer"),
		reader: reader,
		mirror: mirror,
	}
}

// Reindex writes every stored activity of ident to the index and returns how many it sent.
func (r *Reindexer) Reindex(ctx context.Context, ident string) (int, error) {
	ident = strings.TrimSpace(ident)
	stored, err := r.reader.ListByPerson(dbctx.Context{Ctx: ctx}, ident, 0)
	if err != nil {
		return 0, fmt.Errorf("read activities: %w", err)
	}
	docs := make([]Document, 0, len(stored))
	for _, s := range stored {
		docs = append(docs, FromActivity(s.PersonIdent, s.Activity))
	}
	for start := 0; start < len(docs); start += r.mirror.cfg.BatchSize {
		end := start + r.mirror.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := r.mirror.IndexNow(ctx, docs[start:end]); err != nil {
			return start, err
		}
	}
	r.log.Debug("Reindexed person", "person_ident", ident, "documents", len(docs))
	return len(docs), nil
}
