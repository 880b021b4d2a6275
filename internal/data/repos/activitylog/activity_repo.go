package activitylog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/activity"
	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

// SaveResult describes what one Save call committed.
type SaveResult struct {
	PersonID int64
	// Inserted holds the activities that were new to the store.
	Inserted []activity.Activity
	// Absorbed counts activities whose natural id already existed.
	Absorbed int
	Links    int
}

type ActivityRepo interface {
	// Save writes every activity in batch for one inbound event. It is
	// idempotent on each activity's natural id and atomic as a whole. A batch
	// carries resolved ids afterwards and must not be saved twice.
	Save(dbc dbctx.Context, batch *activity.Batch, sourceEventID *int64, personIdent string) (SaveResult, error)
	// InternPerson returns the person's surrogate id, creating the row on first reference.
	InternPerson(dbc dbctx.Context, ident string) (int64, error)
}

type activityRepo struct {
	db   *gorm.DB
	log  *logger.Logger
	exec *executor
}

func NewActivityRepo(db *gorm.DB, baseLog *logger.Logger, opts Options) ActivityRepo {
	log := baseLog.With("repo", "ActivityRepo")
	return &activityRepo{
		db:   db,
		log:  log,
		exec: newExecutor(log, opts),
	}
}

func (r *activityRepo) InternPerson(dbc dbctx.Context, ident string) (int64, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return 0, errors.New("person ident required")
	}
	var id int64
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		var err error
		id, err = r.exec.internPerson(tx, ident)
		return err
	})
	return id, err
}

func (r *activityRepo) Save(dbc dbctx.Context, batch *activity.Batch, sourceEventID *int64, personIdent string) (SaveResult, error) {
	personIdent = strings.TrimSpace(personIdent)
	if personIdent == "" {
		return SaveResult{}, errors.New("person ident required")
	}
	if batch == nil {
		batch = activity.NewBatch()
	}

	ctx, span := observability.Tracer().Start(dbc.Ctx, "activitylog.save")
	defer span.End()
	span.SetAttributes(attribute.Int("activities", batch.Len()))
	dbc.Ctx = ctx

	start := time.Now()
	var res SaveResult
	err := r.inTx(dbc, func(tx *gorm.DB) error {
		var err error
		res, err = r.save(tx, batch, sourceEventID, personIdent)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return SaveResult{}, err
	}
	observability.SaveDuration.Observe(time.Since(start).Seconds())
	observability.ActivitiesWritten.WithLabelValues("inserted").Add(float64(len(res.Inserted)))
	observability.ActivitiesWritten.WithLabelValues("absorbed").Add(float64(res.Absorbed))
	span.SetAttributes(attribute.Int("inserted", len(res.Inserted)), attribute.Int("absorbed", res.Absorbed))
	return res, nil
}

// inTx runs fn in the caller's transaction, or in a new one when there is none.
func (r *activityRepo) inTx(dbc dbctx.Context, fn func(tx *gorm.DB) error) error {
	if dbc.Tx != nil {
		return fn(dbc.DB(r.db))
	}
	return dbc.DB(r.db).Transaction(fn)
}

func (r *activityRepo) save(tx *gorm.DB, batch *activity.Batch, sourceEventID *int64, personIdent string) (SaveResult, error) {
	for _, step := range []struct {
		table registryTable
		reg   *activity.Registry
	}{
		{contextTypeTable, batch.Types},
		{contextNameTable, batch.Names},
		{contextValueTable, batch.Values},
	} {
		if err := r.exec.intern(tx, step.table, step.reg); err != nil {
			return SaveResult{}, err
		}
	}

	personID, err := r.exec.internPerson(tx, personIdent)
	if err != nil {
		return SaveResult{}, err
	}

	if err := r.exec.intern(tx, messageTable, batch.Messages); err != nil {
		return SaveResult{}, err
	}

	inserted, err := r.insertActivities(tx, batch, personID, sourceEventID)
	if err != nil {
		return SaveResult{}, err
	}

	links, err := batch.Links()
	if err != nil {
		return SaveResult{}, err
	}
	if err := r.insertLinks(tx, links); err != nil {
		return SaveResult{}, err
	}

	res := SaveResult{
		PersonID: personID,
		Inserted: batch.Inserted(),
		Absorbed: batch.Len() - inserted,
		Links:    len(links),
	}
	r.log.Debug("Activities saved",
		"person_ident", personIdent,
		"activities", batch.Len(),
		"inserted", inserted,
		"absorbed", res.Absorbed,
		"links", res.Links,
	)
	return res, nil
}

type insertedActivity struct {
	ID        int64     `gorm:"column:id"`
	NaturalID uuid.UUID `gorm:"column:natural_id"`
}

const activityColumns = 6

// insertActivities only learns the ids of rows it created. An activity whose
// natural id already existed was committed together with its context links,
// so it needs no further work.
func (r *activityRepo) insertActivities(tx *gorm.DB, batch *activity.Batch, personID int64, sourceEventID *int64) (int, error) {
	var sourceEvent interface{}
	if sourceEventID != nil {
		sourceEvent = *sourceEventID
	}
	size := r.exec.opts.RowsPerStatement
	inserted := 0
	for from := 0; from < batch.Len(); from += size {
		to := from + size
		if to > batch.Len() {
			to = batch.Len()
		}
		rows, err := batch.Rows(from, to)
		if err != nil {
			return 0, err
		}
		args := make([]interface{}, 0, len(rows)*activityColumns)
		for _, row := range rows {
			args = append(args, row.NaturalID, row.MessageID, personID, sourceEvent, string(row.Level), row.Timestamp)
		}
		query := fmt.Sprintf(`
INSERT INTO activity (natural_id, message_id, person_id, source_event_id, level, occurred_at)
VALUES %s
ON CONFLICT (natural_id) DO NOTHING
RETURNING id, natural_id`, placeholders(len(rows), activityColumns, ""))

		var created []insertedActivity
		err = r.exec.run(tx, "insert_activity", func(tx *gorm.DB) error {
			created = created[:0]
			return tx.Raw(query, args...).Scan(&created).Error
		})
		if err != nil {
			return 0, err
		}
		for _, c := range created {
			if !batch.ResolveActivity(c.NaturalID, c.ID) {
				return 0, fmt.Errorf("activity: id %d for %s: %w", c.ID, c.NaturalID, ErrIDMismatch)
			}
		}
		if len(created) > len(rows) {
			return 0, fmt.Errorf("activity: %d rows returned for %d submitted: %w", len(created), len(rows), ErrIDMismatch)
		}
		inserted += len(created)
	}
	return inserted, nil
}

const linkColumns = 4

func (r *activityRepo) insertLinks(tx *gorm.DB, links []activity.Link) error {
	for _, part := range chunk(links, r.exec.opts.RowsPerStatement) {
		args := make([]interface{}, 0, len(part)*linkColumns)
		for _, l := range part {
			args = append(args, l.ActivityID, l.TypeID, l.NameID, l.ValueID)
		}
		query := fmt.Sprintf(`
INSERT INTO context_link (activity_id, context_type_id, context_name_id, context_value_id)
VALUES %s
ON CONFLICT DO NOTHING`, placeholders(len(part), linkColumns, ""))

		err := r.exec.run(tx, "insert_context_link", func(tx *gorm.DB) error {
			return tx.Exec(query, args...).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}
