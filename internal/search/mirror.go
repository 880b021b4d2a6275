package search

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

type MirrorConfig struct {
	// MaxRetries bounds the attempts per bulk request.
	MaxRetries int
	RetryDelay time.Duration
	QueueSize  int
	BatchSize  int
}

func (c MirrorConfig) withDefaults() MirrorConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Mirror copies committed activities to the search index after the relational
// write. It is best effort: the relational store stays the source of truth and a
// reindex run repairs anything the mirror dropped.
type Mirror struct {
	indexer Indexer
	log     *logger.Logger
	cfg     MirrorConfig
	queue   chan []Document
}

func NewMirror(indexer Indexer, baseLog *logger.Logger, cfg MirrorConfig) *Mirror {
	cfg = cfg.withDefaults()
	return &Mirror{
		indexer: indexer,
		log:     baseLog.With("service", "SearchMirror"),
		cfg:     cfg,
		queue:   make(chan []Document, cfg.QueueSize),
	}
}

// Enqueue hands docs to Run without blocking. It reports false when the queue is full.
func (m *Mirror) Enqueue(docs []Document) bool {
	if len(docs) == 0 {
		return true
	}
	select {
	case m.queue <- docs:
		return true
	default:
		observability.MirrorDocuments.WithLabelValues("dropped").Add(float64(len(docs)))
		m.log.Warn("Mirror queue full, dropping documents", "documents", len(docs))
		return false
	}
}

// Run indexes queued documents until ctx is done, then flushes what is left.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.flush()
			return nil
		case docs := <-m.queue:
			batch := m.fill(docs)
			if err := m.IndexNow(ctx, batch); err != nil && ctx.Err() == nil {
				m.log.Error("Mirroring documents failed", "documents", len(batch), "error", err)
			}
		}
	}
}

// fill tops batch up with whatever is already queued, up to BatchSize.
func (m *Mirror) fill(batch []Document) []Document {
	for len(batch) < m.cfg.BatchSize {
		select {
		case more := <-m.queue:
			batch = append(batch, more...)
		default:
			return batch
		}
	}
	return batch
}

func (m *Mirror) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case docs := <-m.queue:
			if err := m.IndexNow(ctx, m.fill(docs)); err != nil {
				m.log.Warn("Dropping documents on shutdown", "error", err)
				return
			}
		default:
			return
		}
	}
}

// IndexNow writes docs synchronously, retrying failed bulk requests with a constant delay.
func (m *Mirror) IndexNow(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, m.indexer.Index(ctx, docs)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(m.cfg.MaxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			observability.MirrorRetries.Inc()
			m.log.Warn("Retrying bulk index", "documents", len(docs), "wait", wait, "error", err)
		}),
	)
	if err != nil {
		observability.MirrorDocuments.WithLabelValues("failed").Add(float64(len(docs)))
		return err
	}
	observability.MirrorDocuments.WithLabelValues("indexed").Add(float64(len(docs)))
	return nil
}

// DeleteByPerson removes every document of ident, with the same retry policy as IndexNow.
func (m *Mirror) DeleteByPerson(ctx context.Context, ident string) (int64, error) {
	if ident == "" {
		return 0, errors.New("search: ident required")
	}
	return backoff.Retry(ctx, func() (int64, error) {
		return m.indexer.DeleteByPerson(ctx, ident)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(m.cfg.MaxRetries)),
	)
}
