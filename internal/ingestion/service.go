package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/activitylog-backend/internal/activity"
	"github.com/yungbote/activitylog-backend/internal/data/aggregates"
	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/ctxutil"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
	"github.com/yungbote/activitylog-backend/internal/search"
)

// Mirror receives documents for activities that are committed.
type Mirror interface {
	Enqueue(docs []search.Document) bool
}

// PersonDeleter erases one person. Cleaner implements it.
type PersonDeleter interface {
	DeletePerson(ctx context.Context, ident string) error
}

type ServiceConfig struct {
	// Zone is used for timestamps that carry no offset.
	Zone *time.Location
}

// Service persists inbound events: the raw event and its activities in one
// transaction, then hands the activities to the search mirror.
type Service struct {
	log        *logger.Logger
	tx         aggregates.TxRunner
	events     activitylog.SourceEventRepo
	activities activitylog.ActivityRepo
	mirror     Mirror
	deleter    PersonDeleter
	zone       *time.Location
}

// NewService wires the write path. mirror and deleter may be nil.
func NewService(
	baseLog *logger.Logger,
	tx aggregates.TxRunner,
	events activitylog.SourceEventRepo,
	activities activitylog.ActivityRepo,
	mirror Mirror,
	deleter PersonDeleter,
	cfg ServiceConfig,
) *Service {
	zone := cfg.Zone
	if zone == nil {
		zone = time.UTC
	}
	return &Service{
		log:        baseLog.With("service", "IngestionService"),
		tx:         tx,
		events:     events,
		activities: activities,
		mirror:     mirror,
		deleter:    deleter,
		zone:       zone,
	}
}

// Handle routes one raw broker message. Messages that can never succeed are
// reported as ErrInvalidEvent so the transport can drop them instead of redelivering.
func (s *Service) Handle(ctx context.Context, raw []byte) error {
	name, err := EventName(raw)
	if err != nil {
		observability.EventsHandled.WithLabelValues("rejected").Inc()
		return err
	}
	switch name {
	case EventNewActivity:
		_, err := s.handleActivities(ctx, raw)
		return err
	case EventDeletePerson:
		return s.handleDeletion(ctx, raw)
	default:
		observability.EventsHandled.WithLabelValues("ignored").Inc()
		s.log.Debug("Ignoring event", "event_name", name)
		return nil
	}
}

// HandleResult summarizes one stored activity event.
type HandleResult struct {
	EventID       string
	SourceEventID int64
	Inserted      int
	Absorbed      int
	Skipped       int
}

func (s *Service) handleActivities(ctx context.Context, raw []byte) (HandleResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "ingestion.handle")
	defer span.End()
	log := s.log.With(ctxutil.LogFields(ctx)...)

	ev, err := Decode(raw, s.zone)
	if err != nil {
		observability.EventsHandled.WithLabelValues("rejected").Inc()
		log.Warn("Rejecting invalid activity event", "error", err)
		return HandleResult{}, err
	}
	span.SetAttributes(attribute.String("event_id", ev.ID.String()), attribute.Int("activities", len(ev.Activities)))
	for _, id := range ev.Skipped {
		log.Warn("Skipping activity with unknown level", "event_id", ev.ID, "activity_id", id)
	}

	start := time.Now()
	var res activitylog.SaveResult
	var sourceEventID int64
	err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		var err error
		sourceEventID, err = s.events.Save(dbc, ev.Ident, ev.ID, ev.Raw, ev.Created)
		if err != nil {
			return fmt.Errorf("save source event: %w", err)
		}
		res, err = s.activities.Save(dbc, batchOf(ev.Activities), &sourceEventID, ev.Ident)
		if err != nil {
			return fmt.Errorf("save activities: %w", err)
		}
		return nil
	})
	if err != nil {
		observability.EventsHandled.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "handle failed")
		log.Error("Storing activity event failed", "event_id", ev.ID, "error", err)
		return HandleResult{}, err
	}
	observability.EventsHandled.WithLabelValues("saved").Inc()

	// Every decoded activity is mirrored, absorbed ones included. Documents are
	// keyed by natural id, so a redelivery re-indexes what an earlier dropped
	// enqueue missed.
	if s.mirror != nil {
		s.mirror.Enqueue(search.FromActivities(ev.Ident, ev.Activities))
	}
	out := HandleResult{
		EventID:       ev.ID.String(),
		SourceEventID: sourceEventID,
		Inserted:      len(res.Inserted),
		Absorbed:      res.Absorbed,
		Skipped:       len(ev.Skipped),
	}
	log.Info("Stored activities from event",
		"event_id", ev.ID,
		"inserted", out.Inserted,
		"absorbed", out.Absorbed,
		"skipped", out.Skipped,
		"took", time.Since(start),
	)
	return out, nil
}

func (s *Service) handleDeletion(ctx context.Context, raw []byte) error {
	del, err := DecodeDeletion(raw)
	if err != nil {
		observability.EventsHandled.WithLabelValues("rejected").Inc()
		return err
	}
	if s.deleter == nil {
		observability.EventsHandled.WithLabelValues("ignored").Inc()
		s.log.Warn("Person deletion requested but no deleter is configured", "event_id", del.ID)
		return nil
	}
	if err := s.deleter.DeletePerson(ctx, del.Ident); err != nil {
		observability.EventsHandled.WithLabelValues("failed").Inc()
		return err
	}
	observability.EventsHandled.WithLabelValues("deleted").Inc()
	return nil
}

// ReplayStats counts what one person replay did.
type ReplayStats struct {
	Events   int `json:"events"`
	Inserted int `json:"inserted"`
	Absorbed int `json:"absorbed"`
	Invalid  int `json:"invalid"`
}

// Replay re-runs the write engine over every stored event of ident. Each event
// commits on its own; stored events that no longer decode are counted and skipped.
func (s *Service) Replay(ctx context.Context, ident string) (ReplayStats, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return ReplayStats{}, errors.New("ident required")
	}
	stored, err := s.events.ListByPerson(dbctx.Context{Ctx: ctx}, ident)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("list source events: %w", err)
	}
	var stats ReplayStats
	for _, se := range stored {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ev, err := Decode(se.Payload, s.zone)
		if err != nil {
			stats.Invalid++
			s.log.Warn("Stored event no longer decodes", "source_event_id", se.ID, "error", err)
			continue
		}
		sourceEventID := se.ID
		var res activitylog.SaveResult
		err = s.tx.InTx(ctx, func(dbc dbctx.Context) error {
			var err error
			res, err = s.activities.Save(dbc, batchOf(ev.Activities), &sourceEventID, ident)
			return err
		})
		if err != nil {
			return stats, fmt.Errorf("replay source event %d: %w", se.ID, err)
		}
		stats.Events++
		stats.Inserted += len(res.Inserted)
		stats.Absorbed += res.Absorbed
	}
	s.log.Info("Replayed person",
		"person_ident", ident,
		"events", stats.Events,
		"inserted", stats.Inserted,
		"absorbed", stats.Absorbed,
		"invalid", stats.Invalid,
	)
	return stats, nil
}

func batchOf(acts []activity.Activity) *activity.Batch {
	b := activity.NewBatch()
	for _, a := range acts {
		b.Add(a)
	}
	return b
}
