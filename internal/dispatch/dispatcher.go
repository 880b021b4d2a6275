package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/activitylog-backend/internal/data/repos/backlog"
	types "github.com/yungbote/activitylog-backend/internal/domain"
	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

// ErrGateClosed is returned by Next while the gate refuses new claims.
var ErrGateClosed = errors.New("dispatch: claiming is closed by gate")

// Claimer is the part of the backlog store a Dispatcher needs.
type Claimer interface {
	Claim(dbc dbctx.Context, queue string, policy backlog.ClaimPolicy) (*types.BacklogItem, error)
	Finish(dbc dbctx.Context, id int64) error
	Fail(dbc dbctx.Context, id int64, cause string) error
}

type Config struct {
	Queue  string
	Policy backlog.ClaimPolicy
	// Gate defaults to Always.
	Gate Gate
}

// Dispatcher hands out backlog items of one queue to cooperating workers.
// Any number of Dispatchers, in any number of processes, may share a queue.
type Dispatcher struct {
	repo   Claimer
	log    *logger.Logger
	queue  string
	policy backlog.ClaimPolicy
	gate   Gate
	now    func() time.Time
}

func New(repo Claimer, baseLog *logger.Logger, cfg Config) (*Dispatcher, error) {
	if repo == nil {
		return nil, errors.New("dispatch: claimer required")
	}
	queue := strings.TrimSpace(cfg.Queue)
	if queue == "" {
		return nil, errors.New("dispatch: queue required")
	}
	gate := cfg.Gate
	if gate == nil {
		gate = Always
	}
	return &Dispatcher{
		repo:   repo,
		log:    baseLog.With("service", "Dispatcher", "queue", queue),
		queue:  queue,
		policy: cfg.Policy,
		gate:   gate,
		now:    time.Now,
	}, nil
}

func (d *Dispatcher) Queue() string { return d.queue }

// Work is one claimed item. Exactly one of Done or Failed should be called.
type Work struct {
	Item *types.BacklogItem
	d    *Dispatcher
}

func (w *Work) Subject() string { return w.Item.SubjectKey }

func (w *Work) Done(ctx context.Context) error {
	if err := w.d.repo.Finish(dbctx.Context{Ctx: ctx}, w.Item.ID); err != nil {
		return fmt.Errorf("finish item %d: %w", w.Item.ID, err)
	}
	observability.BacklogCompleted.WithLabelValues(w.d.queue, "done").Inc()
	return nil
}

// Failed records cause on the item. It stays claimed until its claim expires
// or an operator resets it.
func (w *Work) Failed(ctx context.Context, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	observability.BacklogCompleted.WithLabelValues(w.d.queue, "failed").Inc()
	if err := w.d.repo.Fail(dbctx.Context{Ctx: ctx}, w.Item.ID, msg); err != nil {
		return fmt.Errorf("fail item %d: %w", w.Item.ID, err)
	}
	return nil
}

// Next claims one item. It returns (nil, nil) when the queue has nothing to give.
func (d *Dispatcher) Next(ctx context.Context) (*Work, error) {
	if !d.gate.Allow(d.now()) {
		observability.BacklogClaims.WithLabelValues(d.queue, "gated").Inc()
		return nil, ErrGateClosed
	}
	item, err := d.repo.Claim(dbctx.Context{Ctx: ctx}, d.queue, d.policy)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	return &Work{Item: item, d: d}, nil
}

// Handler processes one subject. A returned error marks the item failed; it does not stop the run.
type Handler func(ctx context.Context, subject string) error

type Stats struct {
	Claimed int64 `json:"claimed"`
	Done    int64 `json:"done"`
	Failed  int64 `json:"failed"`
}

// Run drains the queue with concurrency workers until it is empty, the gate
// closes or ctx is cancelled. A closed gate is reported as ErrGateClosed.
func (d *Dispatcher) Run(ctx context.Context, concurrency int, h Handler) (Stats, error) {
	if h == nil {
		return Stats{}, errors.New("dispatch: handler required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	var claimed, done, failed atomic.Int64
	var gated atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		worker := i
		g.Go(func() error {
			log := d.log.With("worker", worker)
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				w, err := d.Next(gctx)
				if errors.Is(err, ErrGateClosed) {
					gated.Store(true)
					log.Info("Gate closed, worker stopping")
					return nil
				}
				if err != nil {
					return err
				}
				if w == nil {
					log.Debug("Queue drained, worker stopping")
					return nil
				}
				claimed.Add(1)
				if err := d.process(gctx, log, w, h); err != nil {
					failed.Add(1)
					if ferr := w.Failed(gctx, err); ferr != nil {
						return ferr
					}
					continue
				}
				if err := w.Done(gctx); err != nil {
					return err
				}
				done.Add(1)
			}
		})
	}
	err := g.Wait()
	stats := Stats{Claimed: claimed.Load(), Done: done.Load(), Failed: failed.Load()}
	d.log.Info("Dispatcher run finished",
		"claimed", stats.Claimed,
		"done", stats.Done,
		"failed", stats.Failed,
		"gated", gated.Load(),
	)
	if err != nil {
		return stats, err
	}
	if gated.Load() {
		return stats, ErrGateClosed
	}
	return stats, nil
}

func (d *Dispatcher) process(ctx context.Context, log *logger.Logger, w *Work, h Handler) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("queue", d.queue),
		attribute.Int64("item_id", w.Item.ID),
		attribute.Int("attempt", w.Item.Attempts),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")
			log.Warn("Backlog item failed", "item_id", w.Item.ID, "subject_key", w.Subject(), "error", err)
		}
	}()
	start := time.Now()
	err = h(ctx, w.Subject())
	if err == nil {
		log.Debug("Backlog item done", "item_id", w.Item.ID, "subject_key", w.Subject(), "took", time.Since(start))
	}
	return err
}
