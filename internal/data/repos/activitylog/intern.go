package activitylog

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/activity"
	"github.com/yungbote/activitylog-backend/internal/observability"
)

// ErrIDMismatch is returned when the database hands back an id for a value that
// was not submitted, or for a value that already has an id.
var ErrIDMismatch = errors.New("surrogate id does not match a pending value")

// registryTable names a lookup table keyed by one unique text column.
type registryTable struct {
	table  string
	column string
}

var (
	personTable       = registryTable{table: "person", column: "ident"}
	messageTable      = registryTable{table: "message", column: "text"}
	contextTypeTable  = registryTable{table: "context_type", column: "type"}
	contextNameTable  = registryTable{table: "context_name", column: "name"}
	contextValueTable = registryTable{table: "context_value", column: "value"}
)

// upsertSQL inserts every candidate that is new and, in the same statement,
// looks up the ones that already existed. New rows come from the RETURNING
// branch; the join branch only sees rows committed before the statement began.
func (t registryTable) upsertSQL(n int) string {
	return fmt.Sprintf(`
WITH candidates AS (
	SELECT v.value FROM (VALUES %s) AS v(value)
), inserted AS (
	INSERT INTO %s (%s)
	SELECT value FROM candidates
	ON CONFLICT (%s) DO NOTHING
	RETURNING id, %s AS value
)
SELECT id, value FROM inserted
UNION ALL
SELECT t.id, c.value FROM candidates c JOIN %s t ON t.%s = c.value`,
		placeholders(n, 1, "(CAST(? AS text))"),
		t.table, t.column,
		t.column,
		t.column,
		t.table, t.column,
	)
}

func (t registryTable) lookupSQL() string {
	return fmt.Sprintf("SELECT id, %s AS value FROM %s WHERE %s IN ?", t.column, t.table, t.column)
}

type internedRow struct {
	ID    int64  `gorm:"column:id"`
	Value string `gorm:"column:value"`
}

// intern resolves an id for every value in reg, chunk by chunk, in first-seen order.
func (e *executor) intern(tx *gorm.DB, t registryTable, reg *activity.Registry) error {
	for _, values := range chunk(reg.Values(), e.opts.RowsPerStatement) {
		if err := e.internChunk(tx, t, reg, values); err != nil {
			return err
		}
	}
	observability.InternedValues.WithLabelValues(t.table).Add(float64(reg.Len()))
	return nil
}

func (e *executor) internChunk(tx *gorm.DB, t registryTable, reg *activity.Registry, values []string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}

	var rows []internedRow
	err := e.run(tx, "intern_"+t.table, func(tx *gorm.DB) error {
		rows = rows[:0]
		return tx.Raw(t.upsertSQL(len(values)), args...).Scan(&rows).Error
	})
	if err != nil {
		return err
	}
	matched, err := resolveRows(t, reg, rows)
	if err != nil {
		return err
	}

	// A concurrent writer may have committed a value after this statement took
	// its snapshot: the insert skipped it and the join could not see it yet.
	// A fresh statement does.
	if missing := reg.Unresolved(values); len(missing) > 0 {
		var late []internedRow
		err := e.run(tx, "lookup_"+t.table, func(tx *gorm.DB) error {
			late = late[:0]
			return tx.Raw(t.lookupSQL(), missing).Scan(&late).Error
		})
		if err != nil {
			return err
		}
		n, err := resolveRows(t, reg, late)
		if err != nil {
			return err
		}
		matched += n
	}

	if matched != len(values) {
		return fmt.Errorf("%s: resolved %d of %d values: %w", t.table, matched, len(values), activity.ErrIncomplete)
	}
	return nil
}

func resolveRows(t registryTable, reg *activity.Registry, rows []internedRow) (int, error) {
	for _, row := range rows {
		if !reg.Resolve(row.Value, row.ID) {
			return 0, fmt.Errorf("%s: id %d for %q: %w", t.table, row.ID, row.Value, ErrIDMismatch)
		}
	}
	return len(rows), nil
}

// internPerson returns the surrogate id of ident, creating the person on first reference.
func (e *executor) internPerson(tx *gorm.DB, ident string) (int64, error) {
	reg := activity.NewRegistry(personTable.table)
	reg.Add(ident)
	if err := e.intern(tx, personTable, reg); err != nil {
		return 0, err
	}
	id, ok := reg.IDOf(ident)
	if !ok {
		return 0, fmt.Errorf("person: %w", activity.ErrIncomplete)
	}
	return id, nil
}
