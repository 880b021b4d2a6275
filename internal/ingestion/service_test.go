package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/activitylog-backend/internal/activity"
	"github.com/yungbote/activitylog-backend/internal/data/repos/activitylog"
	types "github.com/yungbote/activitylog-backend/internal/domain"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
	"github.com/yungbote/activitylog-backend/internal/search"
)

type fakeTx struct {
	calls int
}

func (f *fakeTx) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	f.calls++
	return fn(dbctx.Context{Ctx: ctx})
}

type fakeEvents struct {
	byID   map[uuid.UUID]int64
	stored []*types.SourceEvent
	err    error
}

func newFakeEvents() *fakeEvents { return &fakeEvents{byID: map[uuid.UUID]int64{}} }

func (f *fakeEvents) Save(_ dbctx.Context, ident string, eventID uuid.UUID, payload []byte, at time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if id, ok := f.byID[eventID]; ok {
		return id, nil
	}
	id := int64(len(f.byID) + 1)
	f.byID[eventID] = id
	f.stored = append(f.stored, &types.SourceEvent{ID: id, EventID: eventID, Payload: datatypes.JSON(payload), OccurredAt: at})
	return id, nil
}

func (f *fakeEvents) GetByEventID(_ dbctx.Context, eventID uuid.UUID) (*types.SourceEvent, error) {
	for _, se := range f.stored {
		if se.EventID == eventID {
			return se, nil
		}
	}
	return nil, nil
}

func (f *fakeEvents) ListByPerson(dbctx.Context, string) ([]*types.SourceEvent, error) {
	return f.stored, nil
}

// fakeActivities absorbs natural ids it has already seen, like the table does.
type fakeActivities struct {
	seen    map[uuid.UUID]bool
	sources []int64
	err     error
}

func newFakeActivities() *fakeActivities { return &fakeActivities{seen: map[uuid.UUID]bool{}} }

func (f *fakeActivities) Save(_ dbctx.Context, batch *activity.Batch, sourceEventID *int64, ident string) (activitylog.SaveResult, error) {
	if f.err != nil {
		return activitylog.SaveResult{}, f.err
	}
	if sourceEventID != nil {
		f.sources = append(f.sources, *sourceEventID)
	}
	res := activitylog.SaveResult{PersonID: 1}
	for _, a := range batch.Activities() {
		if f.seen[a.ID] {
			res.Absorbed++
			continue
		}
		f.seen[a.ID] = true
		res.Inserted = append(res.Inserted, a)
	}
	return res, nil
}

func (f *fakeActivities) InternPerson(dbctx.Context, string) (int64, error) { return 1, nil }

type fakeMirror struct {
	mu   sync.Mutex
	docs []search.Document
}

func (f *fakeMirror) Enqueue(docs []search.Document) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, docs...)
	return true
}

type fakeDeleter struct{ idents []string }

func (f *fakeDeleter) DeletePerson(_ context.Context, ident string) error {
	f.idents = append(f.idents, ident)
	return nil
}

type harness struct {
	svc        *Service
	tx         *fakeTx
	events     *fakeEvents
	activities *fakeActivities
	mirror     *fakeMirror
	deleter    *fakeDeleter
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		tx:         &fakeTx{},
		events:     newFakeEvents(),
		activities: newFakeActivities(),
		mirror:     &fakeMirror{},
		deleter:    &fakeDeleter{},
	}
	h.svc = NewService(logger.Nop(), h.tx, h.events, h.activities, h.mirror, h.deleter, ServiceConfig{Zone: oslo(t)})
	return h
}

func TestServiceHandleStoresEventAndActivities(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Handle(context.Background(), []byte(validEvent)))

	assert.Equal(t, 1, h.tx.calls)
	require.Len(t, h.events.stored, 1)
	assert.JSONEq(t, validEvent, string(h.events.stored[0].Payload))
	assert.Len(t, h.activities.seen, 2)
	assert.Equal(t, []int64{1}, h.activities.sources)
	assert.Len(t, h.mirror.docs, 2)
	assert.Equal(t, "12345678910", h.mirror.docs[0].Ident)

	res, err := h.svc.handleActivities(context.Background(), []byte(validEvent))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.SourceEventID, "redelivery reuses the stored event")
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 2, res.Absorbed)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, h.mirror.docs, 4, "absorbed activities are mirrored again")
	assert.Equal(t, h.mirror.docs[0].ID, h.mirror.docs[2].ID)
}

func TestServiceHandleRejectsInvalidEvent(t *testing.T) {
	h := newHarness(t)
	err := h.svc.Handle(context.Background(), []byte(`{"@event_name":"aktivitetslogg_ny_aktivitet","@id":"x"}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.Zero(t, h.tx.calls)
	assert.Empty(t, h.mirror.docs)
}

func TestServiceHandleDoesNotMirrorFailedWrites(t *testing.T) {
	h := newHarness(t)
	h.activities.err = errors.New("deadlock detected")
	err := h.svc.Handle(context.Background(), []byte(validEvent))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidEvent)
	assert.Empty(t, h.mirror.docs)
}

func TestServiceHandleRoutesDeletionAndIgnoresOthers(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Handle(context.Background(), []byte(`{"@event_name":"slett_person","@id":"df5758d0-6efc-4a3a-a7f0-e8b6b1573c32","fødselsnummer":"12345678910"}`)))
	assert.Equal(t, []string{"12345678910"}, h.deleter.idents)

	require.NoError(t, h.svc.Handle(context.Background(), []byte(`{"@event_name":"noe_annet"}`)))
	assert.Zero(t, h.tx.calls)
}

func TestServiceReplay(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Handle(context.Background(), []byte(validEvent)))
	h.events.stored = append(h.events.stored, &types.SourceEvent{ID: 99, Payload: datatypes.JSON(`{"broken":true}`)})

	// Forget what was written so replay has to insert again.
	h.activities.seen = map[uuid.UUID]bool{}
	stats, err := h.svc.Replay(context.Background(), "12345678910")
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Events: 1, Inserted: 2, Invalid: 1}, stats)
	assert.Equal(t, []int64{1, 1}, h.activities.sources, "replayed activities keep their source event")

	stats, err = h.svc.Replay(context.Background(), "12345678910")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Absorbed)

	_, err = h.svc.Replay(context.Background(), " ")
	assert.Error(t, err)
}
