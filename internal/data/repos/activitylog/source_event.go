package activitylog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/activitylog-backend/internal/domain"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

type SourceEventRepo interface {
	// Save stores the raw event once per event id and returns its surrogate id.
	// Re-submitting an event id returns the original row's id and leaves its payload untouched.
	Save(dbc dbctx.Context, personIdent string, eventID uuid.UUID, payload []byte, occurredAt time.Time) (int64, error)
	GetByEventID(dbc dbctx.Context, eventID uuid.UUID) (*types.SourceEvent, error)
	ListByPerson(dbc dbctx.Context, personIdent string) ([]*types.SourceEvent, error)
}

type sourceEventRepo struct {
	db   *gorm.DB
	log  *logger.Logger
	exec *executor
}

func NewSourceEventRepo(db *gorm.DB, baseLog *logger.Logger, opts Options) SourceEventRepo {
	log := baseLog.With("repo", "SourceEventRepo")
	return &sourceEventRepo{
		db:   db,
		log:  log,
		exec: newExecutor(log, opts),
	}
}

func (r *sourceEventRepo) Save(dbc dbctx.Context, personIdent string, eventID uuid.UUID, payload []byte, occurredAt time.Time) (int64, error) {
	personIdent = strings.TrimSpace(personIdent)
	if personIdent == "" {
		return 0, errors.New("person ident required")
	}
	if eventID == uuid.Nil {
		return 0, errors.New("event id required")
	}
	if !json.Valid(payload) {
		return 0, errors.New("payload is not valid json")
	}

	var id int64
	save := func(tx *gorm.DB) error {
		personID, err := r.exec.internPerson(tx, personIdent)
		if err != nil {
			return err
		}
		var inserted []int64
		err = r.exec.run(tx, "insert_source_event", func(tx *gorm.DB) error {
			inserted = inserted[:0]
			return tx.Raw(`
INSERT INTO source_event (event_id, person_id, payload, occurred_at)
VALUES (?, ?, CAST(? AS jsonb), ?)
ON CONFLICT (event_id) DO NOTHING
RETURNING id`, eventID, personID, string(payload), occurredAt).Scan(&inserted).Error
		})
		if err != nil {
			return err
		}
		if len(inserted) == 1 {
			id = inserted[0]
			return nil
		}
		var existing []int64
		err = r.exec.run(tx, "lookup_source_event", func(tx *gorm.DB) error {
			existing = existing[:0]
			return tx.Raw(`SELECT id FROM source_event WHERE event_id = ? LIMIT 1`, eventID).Scan(&existing).Error
		})
		if err != nil {
			return err
		}
		if len(existing) != 1 {
			return fmt.Errorf("source event %s neither inserted nor found", eventID)
		}
		id = existing[0]
		r.log.Debug("Source event already stored", "event_id", eventID, "source_event_id", id)
		return nil
	}

	var err error
	if dbc.Tx != nil {
		err = save(dbc.DB(r.db))
	} else {
		err = dbc.DB(r.db).Transaction(save)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *sourceEventRepo) GetByEventID(dbc dbctx.Context, eventID uuid.UUID) (*types.SourceEvent, error) {
	if eventID == uuid.Nil {
		return nil, nil
	}
	var ev types.SourceEvent
	err := dbc.DB(r.db).
		Where("event_id = ?", eventID).
		Limit(1).
		Find(&ev).Error
	if err != nil {
		return nil, err
	}
	if ev.ID == 0 {
		return nil, nil
	}
	return &ev, nil
}

// ListByPerson returns the person's stored events oldest first.
func (r *sourceEventRepo) ListByPerson(dbc dbctx.Context, personIdent string) ([]*types.SourceEvent, error) {
	var out []*types.SourceEvent
	personIdent = strings.TrimSpace(personIdent)
	if personIdent == "" {
		return out, nil
	}
	err := dbc.DB(r.db).
		Joins("JOIN person ON person.id = source_event.person_id").
		Where("person.ident = ?", personIdent).
		Order("source_event.occurred_at ASC, source_event.id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
