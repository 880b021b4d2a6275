package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/activitylog-backend/internal/data/repos/backlog"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

func TestBackfillHandlerSelection(t *testing.T) {
	a := &App{Log: logger.Nop()}

	h, err := a.BackfillHandler(QueueReplay)
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, err = a.BackfillHandler(QueueReindex)
	assert.ErrorIs(t, err, errNoSearchIndex)

	_, err = a.BackfillHandler("nope")
	assert.Error(t, err)
}

func TestWireServicesWithoutSearchIndex(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	svcs, err := wireServices(logger.Nop(), cfg, Repos{})
	require.NoError(t, err)
	assert.Nil(t, svcs.Mirror)
	assert.Nil(t, svcs.Reindexer)
	assert.NotNil(t, svcs.Ingestion)
	assert.NotNil(t, svcs.Cleaner)
}

func TestWireServicesWithSearchIndex(t *testing.T) {
	t.Setenv("OPENSEARCH_URL", "http://localhost:9200")
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	svcs, err := wireServices(logger.Nop(), cfg, Repos{})
	require.NoError(t, err)
	assert.NotNil(t, svcs.Mirror)
	assert.NotNil(t, svcs.Reindexer)
}

func TestDispatcherUsesConfiguredQueue(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	a := &App{
		Log:   logger.Nop(),
		Cfg:   cfg,
		Repos: Repos{Backlog: backlog.NewBacklogItemRepo(nil, logger.Nop())},
	}

	d, err := a.Dispatcher(QueueReindex)
	require.NoError(t, err)
	assert.Equal(t, QueueReindex, d.Queue())
}
