package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/activitylog-backend/internal/dispatch"
	"github.com/yungbote/activitylog-backend/internal/ingestion"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
	"github.com/yungbote/activitylog-backend/internal/search"
)

// Backfill queue names.
const (
	QueueReplay  = "replay"
	QueueReindex = "reindex"
)

var Queues = []string{QueueReplay, QueueReindex}

var errNoSearchIndex = errors.New("no search index configured (OPENSEARCH_URL)")

type Services struct {
	Ingestion *ingestion.Service
	Cleaner   *ingestion.Cleaner
	// Mirror and Reindexer are nil without a search index.
	Mirror    *search.Mirror
	Reindexer *search.Reindexer
}

func wireServices(log *logger.Logger, cfg Config, repos Repos) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	// Interface values stay nil rather than holding a nil *search.Mirror.
	var mirror ingestion.Mirror
	var index ingestion.IndexDeleter
	if cfg.MirrorEnabled() {
		osCfg, mCfg := cfg.SearchConfig()
		indexer, err := search.NewOpenSearchIndexer(log, osCfg)
		if err != nil {
			return Services{}, fmt.Errorf("init search indexer: %w", err)
		}
		out.Mirror = search.NewMirror(indexer, log, mCfg)
		out.Reindexer = search.NewReindexer(log, repos.Reader, out.Mirror)
		mirror, index = out.Mirror, out.Mirror
	} else {
		log.Warn("OPENSEARCH_URL not set; search mirroring disabled")
	}

	out.Cleaner = ingestion.NewCleaner(log, repos.Cleanup, index)
	out.Ingestion = ingestion.NewService(
		log,
		repos.Tx,
		repos.SourceEvents,
		repos.Activities,
		mirror,
		out.Cleaner,
		ingestion.ServiceConfig{Zone: cfg.Zone()},
	)
	return out, nil
}

// Dispatcher returns a dispatcher over queue using the configured claim policy and quiet hours.
func (a *App) Dispatcher(queue string) (*dispatch.Dispatcher, error) {
	gate, err := a.Cfg.Gate()
	if err != nil {
		return nil, err
	}
	return dispatch.New(a.Repos.Backlog, a.Log, dispatch.Config{
		Queue:  queue,
		Policy: a.Cfg.ClaimPolicy(),
		Gate:   gate,
	})
}

// BackfillHandler returns the per-subject job of a backfill queue.
func (a *App) BackfillHandler(queue string) (dispatch.Handler, error) {
	switch queue {
	case QueueReplay:
		return func(ctx context.Context, ident string) error {
			_, err := a.Services.Ingestion.Replay(ctx, ident)
			return err
		}, nil
	case QueueReindex:
		if a.Services.Reindexer == nil {
			return nil, errNoSearchIndex
		}
		return func(ctx context.Context, ident string) error {
			_, err := a.Services.Reindexer.Reindex(ctx, ident)
			return err
		}, nil
	default:
		return nil, fmt.Errorf("unknown queue %q (want one of %v)", queue, Queues)
	}
}
