package activitylog

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/activity"
	types "github.com/yungbote/activitylog-backend/internal/domain"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
)

// StoredActivity is an activity read back with its interned parts expanded.
type StoredActivity struct {
	RowID       int64
	PersonIdent string
	activity.Activity
}

// TableCounts is a row count per storage table.
type TableCounts struct {
	Persons       int64 `json:"person"`
	SourceEvents  int64 `json:"source_event"`
	Messages      int64 `json:"message"`
	ContextTypes  int64 `json:"context_type"`
	ContextNames  int64 `json:"context_name"`
	ContextValues int64 `json:"context_value"`
	Activities    int64 `json:"activity"`
	ContextLinks  int64 `json:"context_link"`
}

type Reader interface {
	// ListByPerson returns the person's activities oldest first, with contexts
	// grouped per type in type order and details in name order.
	ListByPerson(dbc dbctx.Context, personIdent string, limit int) ([]StoredActivity, error)
	CountRows(dbc dbctx.Context) (TableCounts, error)
}

type reader struct {
	db *gorm.DB
	// idsPerQuery bounds the activity ids bound into one context lookup.
	idsPerQuery int
}

func NewReader(db *gorm.DB) Reader {
	return &reader{db: db, idsPerQuery: DefaultRowsPerStatement}
}

type activityRow struct {
	ID          int64     `gorm:"column:id"`
	NaturalID   uuid.UUID `gorm:"column:natural_id"`
	Level       string    `gorm:"column:level"`
	Message     string    `gorm:"column:message"`
	OccurredAt  time.Time `gorm:"column:occurred_at"`
	PersonIdent string    `gorm:"column:ident"`
}

type contextRow struct {
	ActivityID int64  `gorm:"column:activity_id"`
	Type       string `gorm:"column:type"`
	Name       string `gorm:"column:name"`
	Value      string `gorm:"column:value"`
}

func (r *reader) ListByPerson(dbc dbctx.Context, personIdent string, limit int) ([]StoredActivity, error) {
	out := []StoredActivity{}
	personIdent = strings.TrimSpace(personIdent)
	if personIdent == "" {
		return out, nil
	}
	db := dbc.DB(r.db)

	q := db.Table("activity a").
		Select("a.id, a.natural_id, a.level, m.text AS message, a.occurred_at, p.ident").
		Joins("JOIN person p ON p.id = a.person_id").
		Joins("JOIN message m ON m.id = a.message_id").
		Where("p.ident = ?", personIdent).
		Order("a.occurred_at ASC, a.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []activityRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	contexts := make(map[int64][]activity.Context, len(rows))
	for _, part := range chunk(ids, r.idsPerQuery) {
		var ctxRows []contextRow
		err := db.Table("context_link l").
			Select("l.activity_id, t.type, n.name, v.value").
			Joins("JOIN context_type t ON t.id = l.context_type_id").
			Joins("JOIN context_name n ON n.id = l.context_name_id").
			Joins("JOIN context_value v ON v.id = l.context_value_id").
			Where("l.activity_id IN ?", part).
			Order("l.activity_id ASC, t.type ASC, n.name ASC").
			Scan(&ctxRows).Error
		if err != nil {
			return nil, err
		}
		for _, c := range ctxRows {
			list := contexts[c.ActivityID]
			if n := len(list); n == 0 || list[n-1].Type != c.Type {
				list = append(list, activity.Context{Type: c.Type})
			}
			last := &list[len(list)-1]
			last.Details = append(last.Details, activity.Detail{Name: c.Name, Value: c.Value})
			contexts[c.ActivityID] = list
		}
	}

	out = make([]StoredActivity, 0, len(rows))
	for _, row := range rows {
		out = append(out, StoredActivity{
			RowID:       row.ID,
			PersonIdent: row.PersonIdent,
			Activity: activity.Activity{
				ID:        row.NaturalID,
				Level:     types.Level(row.Level),
				Message:   row.Message,
				Timestamp: row.OccurredAt,
				Contexts:  contexts[row.ID],
			},
		})
	}
	return out, nil
}

func (r *reader) CountRows(dbc dbctx.Context) (TableCounts, error) {
	var c TableCounts
	db := dbc.DB(r.db)
	for _, t := range []struct {
		table string
		out   *int64
	}{
		{"person", &c.Persons},
		{"source_event", &c.SourceEvents},
		{"message", &c.Messages},
		{"context_type", &c.ContextTypes},
		{"context_name", &c.ContextNames},
		{"context_value", &c.ContextValues},
		{"activity", &c.Activities},
		{"context_link", &c.ContextLinks},
	} {
		if err := db.Table(t.table).Count(t.out).Error; err != nil {
			return TableCounts{}, err
		}
	}
	return c, nil
}
