package activitylog

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

// DeleteCounts reports how many rows a person delete removed per table.
type DeleteCounts struct {
	ContextLinks int64 `json:"context_links"`
	Activities   int64 `json:"activities"`
	SourceEvents int64 `json:"source_events"`
	Persons      int64 `json:"persons"`
}

func (c DeleteCounts) Total() int64 {
	return c.ContextLinks + c.Activities + c.SourceEvents + c.Persons
}

type CleanupRepo interface {
	// DeletePerson removes everything stored about one person. Shared lookup
	// rows (messages and context parts) are left alone.
	DeletePerson(dbc dbctx.Context, ident string) (DeleteCounts, error)
}

type cleanupRepo struct {
	db   *gorm.DB
	log  *logger.Logger
	exec *executor
}

func NewCleanupRepo(db *gorm.DB, baseLog *logger.Logger, opts Options) CleanupRepo {
	log := baseLog.With("repo", "CleanupRepo")
	return &cleanupRepo{db: db, log: log, exec: newExecutor(log, opts)}
}

func (r *cleanupRepo) DeletePerson(dbc dbctx.Context, ident string) (DeleteCounts, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return DeleteCounts{}, errors.New("person ident required")
	}

	var counts DeleteCounts
	del := func(tx *gorm.DB) error {
		steps := []struct {
			name  string
			query string
			out   *int64
		}{
			{"delete_context_link", `
DELETE FROM context_link
WHERE activity_id IN (
	SELECT a.id FROM activity a JOIN person p ON p.id = a.person_id WHERE p.ident = ?
)`, &counts.ContextLinks},
			{"delete_activity", `
DELETE FROM activity
WHERE person_id IN (SELECT id FROM person WHERE ident = ?)`, &counts.Activities},
			{"delete_source_event", `
DELETE FROM source_event
WHERE person_id IN (SELECT id FROM person WHERE ident = ?)`, &counts.SourceEvents},
			{"delete_person", `DELETE FROM person WHERE ident = ?`, &counts.Persons},
		}
		for _, s := range steps {
			err := r.exec.run(tx, s.name, func(tx *gorm.DB) error {
				res := tx.Exec(s.query, ident)
				if res.Error != nil {
					return res.Error
				}
				*s.out = res.RowsAffected
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if dbc.Tx != nil {
		err = del(dbc.DB(r.db))
	} else {
		err = dbc.DB(r.db).Transaction(del)
	}
	if err != nil {
		return DeleteCounts{}, err
	}
	r.log.Info("Person deleted",
		"person_ident", ident,
		"context_links", counts.ContextLinks,
		"activities", counts.Activities,
		"source_events", counts.SourceEvents,
	)
	return counts, nil
}
