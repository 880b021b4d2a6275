package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/activity"
	types "github.com/yungbote/activitylog-backend/internal/domain"
)

// Ident returns a person ident unique to this test run.
func Ident() string {
	return "test-" + uuid.NewString()
}

// Unique suffixes s so lookup rows created by one test never collide with another's.
func Unique(s string) string {
	return fmt.Sprintf("%s-%s", s, uuid.NewString()[:8])
}

// NewActivity builds an activity with one context per type in contexts.
func NewActivity(level types.Level, message string, ts time.Time, contexts map[string]map[string]string) activity.Activity {
	a := activity.Activity{
		ID:        uuid.New(),
		Level:     level,
		Message:   message,
		Timestamp: ts,
	}
	for typ, details := range contexts {
		c := activity.Context{Type: typ}
		for name, value := range details {
			c.Details = append(c.Details, activity.Detail{Name: name, Value: value})
		}
		a.Contexts = append(a.Contexts, c)
	}
	return a
}

// BatchOf adds every activity to a fresh batch.
func BatchOf(acts ...activity.Activity) *activity.Batch {
	b := activity.NewBatch()
	for _, a := range acts {
		b.Add(a)
	}
	return b
}

// CleanupPerson removes committed rows for ident when the test ends.
func CleanupPerson(tb testing.TB, db *gorm.DB, ident string) {
	tb.Helper()
	tb.Cleanup(func() {
		_ = db.Exec(`DELETE FROM context_link WHERE activity_id IN (SELECT a.id FROM activity a JOIN person p ON p.id = a.person_id WHERE p.ident = ?)`, ident).Error
		_ = db.Exec(`DELETE FROM activity WHERE person_id IN (SELECT id FROM person WHERE ident = ?)`, ident).Error
		_ = db.Exec(`DELETE FROM source_event WHERE person_id IN (SELECT id FROM person WHERE ident = ?)`, ident).Error
		_ = db.Exec(`DELETE FROM person WHERE ident = ?`, ident).Error
	})
}

func PtrTime(v time.Time) *time.Time { return &v }

func PtrInt64(v int64) *int64 { return &v }
