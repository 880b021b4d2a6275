package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

type fakeCleanup struct {
	idents []string
	err    error
}

func (f *fakeCleanup) DeletePerson(_ dbctx.Context, ident string) (activitylog.DeleteCounts, error) {
	if f.err != nil {
		return activitylog.DeleteCounts{}, f.err
	}
	f.idents = append(f.idents, ident)
	return activitylog.DeleteCounts{Activities: 2, Persons: 1}, nil
}

type fakeIndex struct{ idents []string }

func (f *fakeIndex) DeleteByPerson(_ context.Context, ident string) (int64, error) {
	f.idents = append(f.idents, ident)
	return 2, nil
}

func TestCleanerDeletesRowsThenDocuments(t *testing.T) {
	repo := &fakeCleanup{}
	idx := &fakeIndex{}
	c := NewCleaner(logger.Nop(), repo, idx)

	require.NoError(t, c.DeletePerson(context.Background(), " 12345678910 "))
	assert.Equal(t, []string{"12345678910"}, repo.idents)
	assert.Equal(t, []string{"12345678910"}, idx.idents)
}

func TestCleanerStopsWhenRowsCannotBeDeleted(t *testing.T) {
	repo := &fakeCleanup{err: errors.New("db down")}
	idx := &fakeIndex{}
	c := NewCleaner(logger.Nop(), repo, idx)

	require.Error(t, c.DeletePerson(context.Background(), "1"))
	assert.Empty(t, idx.idents, "the index is only cleaned after the rows are gone")
	assert.Error(t, c.DeletePerson(context.Background(), ""))
}

func TestCleanerWithoutIndex(t *testing.T) {
	c := NewCleaner(logger.Nop(), &fakeCleanup{}, nil)
	require.NoError(t, c.DeletePerson(context.Background(), "1"))
}
