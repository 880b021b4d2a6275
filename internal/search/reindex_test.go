package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

type fakeReader struct {
	rows []activitylog.StoredActivity
}

func (f *fakeReader) ListByPerson(_ dbctx.Context, ident string, _ int) ([]activitylog.StoredActivity, error) {
	var out []activitylog.StoredActivity
	for _, r := range f.rows {
		if r.PersonIdent == ident {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReader) CountRows(dbctx.Context) (activitylog.TableCounts, error) {
	return activitylog.TableCounts{}, nil
}

func TestReindexerSendsStoredActivitiesInBatches(t *testing.T) {
	reader := &fakeReader{}
	for i := 0; i < 5; i++ {
		a := sampleActivity()
		a.ID = uuid.New()
		a.Timestamp = a.Timestamp.Add(time.Duration(i) * time.Minute)
		reader.rows = append(reader.rows, activitylog.StoredActivity{RowID: int64(i + 1), PersonIdent: "12345678910", Activity: a})
	}
	reader.rows = append(reader.rows, activitylog.StoredActivity{RowID: 9, PersonIdent: "other", Activity: sampleActivity()})

	idx := newFakeIndexer(0)
	m := NewMirror(idx, logger.Nop(), MirrorConfig{BatchSize: 2, RetryDelay: time.Millisecond})
	n, err := NewReindexer(logger.Nop(), reader, m).Reindex(context.Background(), "12345678910")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, idx.count())
	assert.Equal(t, 3, idx.calls)
}
